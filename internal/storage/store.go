// Package storage defines the persistence port of the agent: the append-only liquidity
// event log, the claimed-amount ledger and the claim records.
package storage

import (
	"context"
	"errors"
	"math/big"

	"github.com/yourorg/lp-rewards-agent/internal/model"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")
)

// EventStore is the append-only liquidity event log.
type EventStore interface {
	// AppendEvent stores e. Returns ErrDuplicateKey if an event with the same
	// chain|txHash|logIndex key already exists.
	AppendEvent(ctx context.Context, e model.LiquidityEvent) error
	// Events returns every event in append order.
	Events(ctx context.Context) ([]model.LiquidityEvent, error)
	EventCount(ctx context.Context) (int, error)
}

// Ledger tracks the cumulative claimed amount per provider.
type Ledger interface {
	// Claimed returns the provider's claimed total, zero if unknown.
	Claimed(ctx context.Context, provider string) (*big.Int, error)
	// ClaimedAll returns a copy of the full ledger keyed by lowercased address.
	ClaimedAll(ctx context.Context) (map[string]*big.Int, error)
}

// ClaimStore persists claim records.
type ClaimStore interface {
	// SaveClaim upserts a claim record without touching the ledger.
	SaveClaim(ctx context.Context, c model.Claim) error
	// RecordBurn upserts the claim and advances the ledger by c.Amount, exactly once
	// per claim id. The stored claim comes back with Debited set.
	RecordBurn(ctx context.Context, c model.Claim) (model.Claim, error)
	GetClaim(ctx context.Context, id string) (model.Claim, error)
	ClaimsByRecipient(ctx context.Context, recipient string) ([]model.Claim, error)
	ClaimsByStatus(ctx context.Context, status model.ClaimStatus) ([]model.Claim, error)
}

// Store is the full persistence port.
type Store interface {
	EventStore
	Ledger
	ClaimStore
	Close() error
}

// ValidateEvent checks the fields every store relies on.
func ValidateEvent(e model.LiquidityEvent) error {
	if e.Chain == "" || e.TxHash == "" || e.Provider == "" {
		return ErrInvalidInput
	}
	if e.LiquidityDelta == nil {
		return ErrInvalidInput
	}
	if e.Kind != model.EventAdded && e.Kind != model.EventRemoved {
		return ErrInvalidInput
	}
	return nil
}

// ValidateClaim checks the fields every store relies on.
func ValidateClaim(c model.Claim) error {
	if c.ID == "" || c.Recipient == "" || c.Amount == nil || c.Amount.Sign() < 0 {
		return ErrInvalidInput
	}
	return nil
}
