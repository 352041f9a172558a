// Package settlement implements the burn, attest and mint legs of a claim. One Backend
// is selected per deployment.
package settlement

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/fetch"
	"github.com/yourorg/lp-rewards-agent/internal/types"
)

// ErrAttestationTimeout is returned when the attempt ceiling is reached without an attestation
var ErrAttestationTimeout = errors.New("attestation not available before attempt ceiling")

// ErrBurnReverted means the burn transaction was mined but reverted, so no funds moved
var ErrBurnReverted = errors.New("burn reverted")

// BurnResult is what the source chain reports for a confirmed burn
type BurnResult struct {
	TxHash      string
	Message     []byte
	MessageHash common.Hash
}

// Backend is one settlement implementation
type Backend interface {
	Name() string

	// Approve makes sure the burn contract may spend amount from the treasury.
	// Returns the approve tx hash, or "" when the allowance already covered it.
	Approve(ctx context.Context, amount *big.Int) (string, error)

	// Burn burns amount toward recipient on destination and waits for the receipt.
	// onBroadcast, if set, receives the tx hash once the transaction is sent.
	// An error with TxHash set means the burn may have executed, unless it wraps
	// ErrBurnReverted.
	Burn(ctx context.Context, recipient common.Address, amount *big.Int, destination types.ChainConfig, onBroadcast func(txHash string)) (BurnResult, error)

	// ConfirmBurn waits for the receipt of a burn sent earlier, with the same error
	// semantics as Burn
	ConfirmBurn(ctx context.Context, txHash string) (BurnResult, error)

	// AwaitAttestation polls until the attestation for messageHash is available.
	// onAttempt is called after every poll with the 1-based attempt number.
	AwaitAttestation(ctx context.Context, messageHash common.Hash, onAttempt func(attempt int)) ([]byte, error)

	// Mint submits the attested message on destination
	Mint(ctx context.Context, destination types.ChainConfig, message, attestation []byte) (string, error)

	// MintsOnDestination is false for backends that stop at the attested stage
	MintsOnDestination() bool
}

// AttestationFetcher is the subset of fetch.AttestationClient used for polling
type AttestationFetcher interface {
	Fetch(ctx context.Context, messageHash common.Hash) (fetch.Attestation, error)
}

// PollConfig bounds an attestation poll
type PollConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// PollAttestation polls fetcher until a complete attestation arrives, maxAttempts is
// reached or ctx is cancelled. Lookup errors count as attempts and do not abort the poll.
func PollAttestation(ctx context.Context, fetcher AttestationFetcher, messageHash common.Hash, cfg PollConfig, onAttempt func(attempt int)) ([]byte, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	timer := time.NewTimer(0)
	defer timer.Stop()

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		att, err := fetcher.Fetch(ctx, messageHash)
		if onAttempt != nil {
			onAttempt(attempt)
		}
		switch {
		case err != nil:
			logrus.WithFields(logrus.Fields{
				"message_hash": messageHash.Hex(),
				"attempt":      attempt,
			}).WithError(err).Warn("Attestation lookup failed")
		case att.Ready():
			return att.Signature, nil
		default:
			logrus.WithFields(logrus.Fields{
				"message_hash": messageHash.Hex(),
				"attempt":      attempt,
				"status":       att.Status,
			}).Debug("Attestation pending")
		}

		timer.Reset(cfg.Interval)
	}
	return nil, ErrAttestationTimeout
}
