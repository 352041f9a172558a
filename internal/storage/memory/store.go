// Package memory provides an in-process implementation of storage.Store.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
)

// Store is an in-memory implementation of storage.Store.
type Store struct {
	mu      sync.RWMutex
	events  []model.LiquidityEvent
	keys    map[string]struct{} // chain|txHash|logIndex
	claimed map[string]*big.Int
	claims  map[string]model.Claim
	order   []string // claim ids in creation order
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		keys:    make(map[string]struct{}),
		claimed: make(map[string]*big.Int),
		claims:  make(map[string]model.Claim),
	}
}

// AppendEvent adds a new event. Returns ErrDuplicateKey if its key exists.
func (s *Store) AppendEvent(_ context.Context, e model.LiquidityEvent) error {
	if err := storage.ValidateEvent(e); err != nil {
		return err
	}
	e.Provider = model.NormalizeAddress(e.Provider)
	key := e.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key]; exists {
		return storage.ErrDuplicateKey
	}
	s.keys[key] = struct{}{}
	s.events = append(s.events, e.Clone())
	return nil
}

// Events returns a copy of the log in append order.
func (s *Store) Events(_ context.Context) ([]model.LiquidityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LiquidityEvent, len(s.events))
	for i, e := range s.events {
		out[i] = e.Clone()
	}
	return out, nil
}

// EventCount returns the number of stored events.
func (s *Store) EventCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events), nil
}

// Claimed returns the claimed total of provider.
func (s *Store) Claimed(_ context.Context, provider string) (*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.claimed[model.NormalizeAddress(provider)]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

// ClaimedAll returns a copy of the ledger.
func (s *Store) ClaimedAll(_ context.Context) (map[string]*big.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]*big.Int, len(s.claimed))
	for k, v := range s.claimed {
		out[k] = new(big.Int).Set(v)
	}
	return out, nil
}

// SaveClaim upserts a claim. A stored Debited flag is never cleared.
func (s *Store) SaveClaim(_ context.Context, c model.Claim) error {
	if err := storage.ValidateClaim(c); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(c)
	return nil
}

// RecordBurn upserts the claim and debits the ledger once per claim id.
func (s *Store) RecordBurn(_ context.Context, c model.Claim) (model.Claim, error) {
	if err := storage.ValidateClaim(c); err != nil {
		return model.Claim{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, exists := s.claims[c.ID]
	if !exists || !prev.Debited {
		addr := model.NormalizeAddress(c.Recipient)
		total, ok := s.claimed[addr]
		if !ok {
			total = new(big.Int)
		}
		s.claimed[addr] = new(big.Int).Add(total, c.Amount)
	}
	c.Debited = true
	return s.putLocked(c), nil
}

// GetClaim returns a claim by id or ErrNotFound.
func (s *Store) GetClaim(_ context.Context, id string) (model.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.claims[id]
	if !ok {
		return model.Claim{}, storage.ErrNotFound
	}
	return c.Clone(), nil
}

// ClaimsByRecipient returns the recipient's claims, oldest first.
func (s *Store) ClaimsByRecipient(_ context.Context, recipient string) ([]model.Claim, error) {
	addr := model.NormalizeAddress(recipient)
	return s.filter(func(c model.Claim) bool {
		return model.NormalizeAddress(c.Recipient) == addr
	}), nil
}

// ClaimsByStatus returns claims with the given status, oldest first.
func (s *Store) ClaimsByStatus(_ context.Context, status model.ClaimStatus) ([]model.Claim, error) {
	return s.filter(func(c model.Claim) bool { return c.Status == status }), nil
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

// Snapshot returns a deep copy of the whole state.
func (s *Store) Snapshot() storage.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc := storage.Document{
		Events:  make([]model.LiquidityEvent, len(s.events)),
		Claimed: make(map[string]*big.Int, len(s.claimed)),
		Claims:  make([]model.Claim, 0, len(s.order)),
	}
	for i, e := range s.events {
		doc.Events[i] = e.Clone()
	}
	for k, v := range s.claimed {
		doc.Claimed[k] = new(big.Int).Set(v)
	}
	for _, id := range s.order {
		doc.Claims = append(doc.Claims, s.claims[id].Clone())
	}
	return doc
}

// Restore replaces the whole state with doc. Duplicate events in doc are dropped.
func (s *Store) Restore(doc storage.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = s.events[:0]
	s.keys = make(map[string]struct{}, len(doc.Events))
	s.claimed = make(map[string]*big.Int, len(doc.Claimed))
	s.claims = make(map[string]model.Claim, len(doc.Claims))
	s.order = s.order[:0]

	for _, e := range doc.Events {
		if _, dup := s.keys[e.Key()]; dup {
			continue
		}
		s.keys[e.Key()] = struct{}{}
		s.events = append(s.events, e.Clone())
	}
	for k, v := range doc.Claimed {
		if v != nil {
			s.claimed[model.NormalizeAddress(k)] = new(big.Int).Set(v)
		}
	}
	for _, c := range doc.Claims {
		if _, ok := s.claims[c.ID]; !ok {
			s.order = append(s.order, c.ID)
		}
		s.claims[c.ID] = c.Clone()
	}
}

func (s *Store) putLocked(c model.Claim) model.Claim {
	prev, exists := s.claims[c.ID]
	if exists {
		if prev.Debited {
			c.Debited = true
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = prev.CreatedAt
		}
	} else {
		s.order = append(s.order, c.ID)
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Recipient = model.NormalizeAddress(c.Recipient)
	stored := c.Clone()
	s.claims[c.ID] = stored
	return stored.Clone()
}

func (s *Store) filter(keep func(model.Claim) bool) []model.Claim {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Claim
	for _, id := range s.order {
		if c := s.claims[id]; keep(c) {
			out = append(out, c.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}
