// Package mock provides a scriptable in-memory settlement backend.
package mock

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/yourorg/lp-rewards-agent/internal/settlement"
	"github.com/yourorg/lp-rewards-agent/internal/types"
)

// Backend records calls and returns scripted results
type Backend struct {
	mu sync.Mutex

	ApproveErr error
	BurnErr    error
	MintErr    error

	// BroadcastErr fails Burn after the transaction hash is known
	BroadcastErr error

	// Revert makes Burn and ConfirmBurn report a mined but reverted burn
	Revert bool

	// ConfirmErr fails ConfirmBurn without a receipt
	ConfirmErr error

	// AttestAfter is the attempt on which the attestation becomes available; 0 means never
	AttestAfter int
	// MaxAttempts is the attempt ceiling used by AwaitAttestation
	MaxAttempts int

	// Gate, if set, is waited on before AwaitAttestation starts polling
	Gate chan struct{}

	NoMint bool

	approves int
	burns    int
	mints    int
	polls    int
	confirms int
}

// New returns a backend that attests on the first poll and mints
func New() *Backend {
	return &Backend{AttestAfter: 1, MaxAttempts: 3}
}

var _ settlement.Backend = (*Backend)(nil)

// Name implements settlement.Backend
func (b *Backend) Name() string { return "mock" }

// MintsOnDestination implements settlement.Backend
func (b *Backend) MintsOnDestination() bool { return !b.NoMint }

// Approve implements settlement.Backend
func (b *Backend) Approve(ctx context.Context, amount *big.Int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.approves++
	if b.ApproveErr != nil {
		return "", b.ApproveErr
	}
	return fmt.Sprintf("0xapprove%d", b.approves), nil
}

// Burn implements settlement.Backend
func (b *Backend) Burn(ctx context.Context, recipient common.Address, amount *big.Int, destination types.ChainConfig, onBroadcast func(txHash string)) (settlement.BurnResult, error) {
	b.mu.Lock()
	b.burns++
	n := b.burns
	burnErr, broadcastErr, revert := b.BurnErr, b.BroadcastErr, b.Revert
	b.mu.Unlock()

	if burnErr != nil {
		return settlement.BurnResult{}, burnErr
	}
	txHash := fmt.Sprintf("0xburn%d", n)
	if onBroadcast != nil {
		onBroadcast(txHash)
	}
	if revert {
		return settlement.BurnResult{TxHash: txHash}, fmt.Errorf("%w: %s", settlement.ErrBurnReverted, txHash)
	}
	if broadcastErr != nil {
		return settlement.BurnResult{TxHash: txHash}, broadcastErr
	}
	return burnResult(txHash, fmt.Sprintf("%s-%s-%d", recipient.Hex(), amount, destination.CCTPDomain)), nil
}

// ConfirmBurn implements settlement.Backend
func (b *Backend) ConfirmBurn(ctx context.Context, txHash string) (settlement.BurnResult, error) {
	b.mu.Lock()
	b.confirms++
	confirmErr, revert := b.ConfirmErr, b.Revert
	b.mu.Unlock()

	if revert {
		return settlement.BurnResult{TxHash: txHash}, fmt.Errorf("%w: %s", settlement.ErrBurnReverted, txHash)
	}
	if confirmErr != nil {
		return settlement.BurnResult{TxHash: txHash}, confirmErr
	}
	return burnResult(txHash, "confirmed"), nil
}

func burnResult(txHash, detail string) settlement.BurnResult {
	msg := []byte("burn-" + txHash + "-" + detail)
	return settlement.BurnResult{
		TxHash:      txHash,
		Message:     msg,
		MessageHash: crypto.Keccak256Hash(msg),
	}
}

// AwaitAttestation implements settlement.Backend
func (b *Backend) AwaitAttestation(ctx context.Context, messageHash common.Hash, onAttempt func(attempt int)) ([]byte, error) {
	b.mu.Lock()
	gate := b.Gate
	attestAfter, maxAttempts := b.AttestAfter, b.MaxAttempts
	b.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.polls++
		b.mu.Unlock()
		if onAttempt != nil {
			onAttempt(attempt)
		}
		if attestAfter > 0 && attempt >= attestAfter {
			return []byte("attestation:" + messageHash.Hex()), nil
		}
	}
	return nil, settlement.ErrAttestationTimeout
}

// Mint implements settlement.Backend
func (b *Backend) Mint(ctx context.Context, destination types.ChainConfig, message, attestation []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mints++
	if b.MintErr != nil {
		return "", b.MintErr
	}
	return fmt.Sprintf("0xmint%d", b.mints), nil
}

// SetAttestAfter changes the attestation script for subsequent polls
func (b *Backend) SetAttestAfter(n int) {
	b.mu.Lock()
	b.AttestAfter = n
	b.mu.Unlock()
}

// Counts returns the number of approve, burn, mint and poll calls
func (b *Backend) Counts() (approves, burns, mints, polls int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.approves, b.burns, b.mints, b.polls
}

// Confirms returns the number of ConfirmBurn calls
func (b *Backend) Confirms() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirms
}
