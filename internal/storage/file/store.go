// Package file persists the store as a single JSON document on local disk.
//
// The document is replaced atomically on every mutation: it is written to a
// temporary file in the same directory, synced, and renamed over the old one.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/big"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/storage/memory"
)

// Store is a storage.Store mirrored to a JSON file.
type Store struct {
	path string

	// wmu serialises mutate-then-persist so the file always matches memory
	wmu sync.Mutex
	mem *memory.Store
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// Open loads path if it exists, or starts empty.
func Open(path string) (*Store, error) {
	s := &Store{path: path, mem: memory.New()}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		logrus.Infof("No store at %s, starting empty", path)
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read store file: %w", err)
	}

	var doc storage.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse store file %s: %w", path, err)
	}
	s.mem.Restore(doc)

	logrus.WithFields(logrus.Fields{
		"path":   path,
		"events": len(doc.Events),
		"claims": len(doc.Claims),
	}).Info("Loaded store")
	return s, nil
}

// AppendEvent adds an event and rewrites the document.
func (s *Store) AppendEvent(ctx context.Context, e model.LiquidityEvent) error {
	return s.mutate(func() error { return s.mem.AppendEvent(ctx, e) })
}

// Events returns the log in append order.
func (s *Store) Events(ctx context.Context) ([]model.LiquidityEvent, error) {
	return s.mem.Events(ctx)
}

// EventCount returns the number of stored events.
func (s *Store) EventCount(ctx context.Context) (int, error) {
	return s.mem.EventCount(ctx)
}

// Claimed returns the claimed total of provider.
func (s *Store) Claimed(ctx context.Context, provider string) (*big.Int, error) {
	return s.mem.Claimed(ctx, provider)
}

// ClaimedAll returns a copy of the ledger.
func (s *Store) ClaimedAll(ctx context.Context) (map[string]*big.Int, error) {
	return s.mem.ClaimedAll(ctx)
}

// SaveClaim upserts a claim and rewrites the document.
func (s *Store) SaveClaim(ctx context.Context, c model.Claim) error {
	return s.mutate(func() error { return s.mem.SaveClaim(ctx, c) })
}

// RecordBurn upserts the claim, debits once and rewrites the document.
func (s *Store) RecordBurn(ctx context.Context, c model.Claim) (model.Claim, error) {
	var stored model.Claim
	err := s.mutate(func() error {
		var err error
		stored, err = s.mem.RecordBurn(ctx, c)
		return err
	})
	return stored, err
}

// GetClaim returns a claim by id.
func (s *Store) GetClaim(ctx context.Context, id string) (model.Claim, error) {
	return s.mem.GetClaim(ctx, id)
}

// ClaimsByRecipient returns the recipient's claims.
func (s *Store) ClaimsByRecipient(ctx context.Context, recipient string) ([]model.Claim, error) {
	return s.mem.ClaimsByRecipient(ctx, recipient)
}

// ClaimsByStatus returns claims with the given status.
func (s *Store) ClaimsByStatus(ctx context.Context, status model.ClaimStatus) ([]model.Claim, error) {
	return s.mem.ClaimsByStatus(ctx, status)
}

// Close is a no-op; every mutation is already on disk.
func (s *Store) Close() error { return nil }

// mutate applies fn and persists. On a write failure memory is rolled back,
// so a failed call leaves neither memory nor disk changed.
func (s *Store) mutate(fn func() error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	before := s.mem.Snapshot()
	if err := fn(); err != nil {
		return err
	}
	if err := s.persist(s.mem.Snapshot()); err != nil {
		s.mem.Restore(before)
		return err
	}
	return nil
}

func (s *Store) persist(doc storage.Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
