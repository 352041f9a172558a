// Package validation provides filtering and validation of decoded hook events and
// claim request fields before they reach the store or the orchestrator.
package validation

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/model"
)

// Validation failures
var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidAmount  = errors.New("invalid amount")
	ErrInvalidEvent   = errors.New("invalid event")
)

// ValidationOptions holds configuration for event validation
type ValidationOptions struct {
	// MaxFutureSkew rejects events stamped further than this past the local clock.
	// Zero disables the check; the reward calculator clamps future anchors anyway.
	MaxFutureSkew time.Duration

	// RequirePositiveAdd rejects LiquidityAdded events with a non-positive delta
	RequirePositiveAdd bool

	// ExpectedChainIDs maps a chain tag to the chain id its events must carry.
	// Chains missing from the map are not checked.
	ExpectedChainIDs map[string]int64

	Now func() time.Time
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		RequirePositiveAdd: true,
		Now:                time.Now,
	}
}

// ValidateAddress checks that s is a non-zero hex address
func ValidateAddress(s string) error {
	if !common.IsHexAddress(s) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	if common.HexToAddress(s) == (common.Address{}) {
		return fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return nil
}

// ParseAmount parses a base-unit decimal string into a positive integer
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", ErrInvalidAmount, s)
	}
	if v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return v, nil
}

// ValidateEvent checks a single decoded hook event
func ValidateEvent(e model.LiquidityEvent, opts ValidationOptions) error {
	if e.Chain == "" || e.TxHash == "" {
		return fmt.Errorf("%w: missing chain or tx hash", ErrInvalidEvent)
	}
	if err := ValidateAddress(e.Provider); err != nil {
		return fmt.Errorf("%w: provider: %v", ErrInvalidEvent, err)
	}
	if e.LiquidityDelta == nil {
		return fmt.Errorf("%w: missing liquidity delta", ErrInvalidEvent)
	}
	if e.Timestamp < 0 {
		return fmt.Errorf("%w: negative timestamp", ErrInvalidEvent)
	}

	switch e.Kind {
	case model.EventAdded:
		if opts.RequirePositiveAdd && e.LiquidityDelta.Sign() <= 0 {
			return fmt.Errorf("%w: non-positive delta on add", ErrInvalidEvent)
		}
	case model.EventRemoved:
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	}

	if opts.MaxFutureSkew > 0 {
		now := time.Now
		if opts.Now != nil {
			now = opts.Now
		}
		if time.Unix(e.Timestamp, 0).After(now().Add(opts.MaxFutureSkew)) {
			return fmt.Errorf("%w: timestamp %d too far in the future", ErrInvalidEvent, e.Timestamp)
		}
	}

	if want, ok := opts.ExpectedChainIDs[e.Chain]; ok && e.ChainID != want {
		return fmt.Errorf("%w: chain id %d does not match %s (%d)", ErrInvalidEvent, e.ChainID, e.Chain, want)
	}
	return nil
}

// FilterInvalid removes events that fail validation, logging each rejection
func FilterInvalid(events []model.LiquidityEvent, opts ValidationOptions) []model.LiquidityEvent {
	valid := make([]model.LiquidityEvent, 0, len(events))
	for _, e := range events {
		if err := ValidateEvent(e, opts); err != nil {
			logrus.WithFields(logrus.Fields{
				"chain":     e.Chain,
				"tx":        e.TxHash,
				"log_index": e.LogIndex,
				"provider":  e.Provider,
			}).WithError(err).Debug("Filtered invalid event")
			continue
		}
		valid = append(valid, e)
	}
	return valid
}
