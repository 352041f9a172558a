// Package model defines the core data structures for the lp-rewards-agent.
package model

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// USDCDecimals is the number of base-unit decimals of the reward token
const USDCDecimals = 6

// EventKind distinguishes the two hook events
type EventKind string

// Hook event kinds
const (
	EventAdded   EventKind = "added"
	EventRemoved EventKind = "removed"
)

// LiquidityEvent is one decoded hook log. It is appended to the store once and never mutated.
type LiquidityEvent struct {
	Kind EventKind `json:"kind"`

	// Chain is the tag of the network the log was observed on
	Chain string `json:"chain"`

	// Provider is the lowercased hex address of the liquidity provider
	Provider string `json:"provider"`

	// PoolID is the 0x-prefixed bytes32 pool identifier
	PoolID string `json:"poolId"`

	// LiquidityDelta is the signed int256 from the event
	LiquidityDelta *big.Int `json:"liquidityDelta"`

	// Timestamp is the block time reported by the hook, unix seconds
	Timestamp int64 `json:"timestamp"`

	ChainID     int64  `json:"chainId"`
	TxHash      string `json:"txHash"`
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
}

// Key returns the dedup key chain|txHash|logIndex
func (e LiquidityEvent) Key() string {
	return EventKey(e.Chain, e.TxHash, e.LogIndex)
}

// EventKey builds the dedup key for an event
func EventKey(chain, txHash string, logIndex uint) string {
	return fmt.Sprintf("%s|%s|%d", chain, strings.ToLower(txHash), logIndex)
}

// Clone returns a deep copy so callers cannot mutate stored deltas
func (e LiquidityEvent) Clone() LiquidityEvent {
	if e.LiquidityDelta != nil {
		e.LiquidityDelta = new(big.Int).Set(e.LiquidityDelta)
	}
	return e
}

// Position is the folded view of one provider's liquidity. It is never stored.
type Position struct {
	Provider  string   `json:"provider"`
	Chain     string   `json:"chain"`
	Liquidity *big.Int `json:"liquidity"`

	FirstAddTimestamp int64 `json:"firstAddTimestamp"`
	LastAddTimestamp  int64 `json:"lastAddTimestamp"`

	// Anchor is the timestamp accrual starts from under the configured policy
	Anchor int64 `json:"anchor"`
}

// Reward is one provider's share of the treasury, in USDC base units
type Reward struct {
	Provider string   `json:"provider"`
	Chain    string   `json:"chain"`
	Pending  *big.Int `json:"pending"`
	Claimed  *big.Int `json:"claimed"`
	Total    *big.Int `json:"total"`
}

// ZeroReward is the default reward of a provider with no position
func ZeroReward(provider string) Reward {
	return Reward{
		Provider: NormalizeAddress(provider),
		Pending:  new(big.Int),
		Claimed:  new(big.Int),
		Total:    new(big.Int),
	}
}

// NormalizeAddress lowercases an address for use as a ledger or position key
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// FormatUSDC renders base units as a 2-decimal display string, truncating
func FormatUSDC(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	return decimal.NewFromBigInt(amount, -USDCDecimals).Truncate(2).StringFixed(2)
}
