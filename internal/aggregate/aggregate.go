// Package aggregate folds the liquidity event log into per-provider positions.
package aggregate

import (
	"math/big"
	"sort"

	"github.com/yourorg/lp-rewards-agent/internal/model"
)

// AnchorPolicy selects which Added event starts a position's accrual clock
type AnchorPolicy int

const (
	// AnchorFirstAdd anchors at the provider's earliest Added event; top-ups do not reset age
	AnchorFirstAdd AnchorPolicy = iota
	// AnchorLastAdd anchors at the provider's latest Added event; every top-up resets age
	AnchorLastAdd
)

// ParseAnchorPolicy maps the config values "first" and "last"
func ParseAnchorPolicy(s string) AnchorPolicy {
	if s == "last" {
		return AnchorLastAdd
	}
	return AnchorFirstAdd
}

func (p AnchorPolicy) String() string {
	if p == AnchorLastAdd {
		return "last"
	}
	return "first"
}

// Options controls how events are folded
type Options struct {
	Anchor AnchorPolicy

	// SubtractRemovals makes Removed events reduce liquidity (clamped at zero).
	// Off by default: removals stay in the log but do not change the reward position.
	SubtractRemovals bool
}

// BuildPositions recomputes every provider's position from the full log.
// Nothing is carried between calls. Timestamps decide the anchor, so the result
// does not depend on the order events arrived in.
func BuildPositions(events []model.LiquidityEvent, opts Options) map[string]model.Position {
	positions := make(map[string]model.Position)
	firstChain := make(map[string]string)
	lastChain := make(map[string]string)

	for _, e := range events {
		if e.LiquidityDelta == nil {
			continue
		}
		provider := model.NormalizeAddress(e.Provider)

		switch e.Kind {
		case model.EventAdded:
			p, ok := positions[provider]
			if !ok {
				p = model.Position{
					Provider:          provider,
					Liquidity:         new(big.Int),
					FirstAddTimestamp: e.Timestamp,
					LastAddTimestamp:  e.Timestamp,
				}
				firstChain[provider] = e.Chain
				lastChain[provider] = e.Chain
			}
			p.Liquidity = new(big.Int).Add(p.Liquidity, e.LiquidityDelta)
			if e.Timestamp < p.FirstAddTimestamp {
				p.FirstAddTimestamp = e.Timestamp
				firstChain[provider] = e.Chain
			}
			if e.Timestamp >= p.LastAddTimestamp {
				p.LastAddTimestamp = e.Timestamp
				lastChain[provider] = e.Chain
			}
			positions[provider] = p

		case model.EventRemoved:
			if !opts.SubtractRemovals {
				continue
			}
			p, ok := positions[provider]
			if !ok {
				continue
			}
			removed := new(big.Int).Abs(e.LiquidityDelta)
			p.Liquidity = new(big.Int).Sub(p.Liquidity, removed)
			if p.Liquidity.Sign() < 0 {
				p.Liquidity.SetInt64(0)
			}
			positions[provider] = p
		}
	}

	for provider, p := range positions {
		if opts.Anchor == AnchorLastAdd {
			p.Anchor = p.LastAddTimestamp
			p.Chain = lastChain[provider]
		} else {
			p.Anchor = p.FirstAddTimestamp
			p.Chain = firstChain[provider]
		}
		positions[provider] = p
	}

	return positions
}

// ChainSummary is one provider's raw event totals on one chain
type ChainSummary struct {
	Chain   string
	ChainID int64

	Added   *big.Int
	Removed *big.Int
	// Net is Added minus Removed and may be negative if events were missed
	Net *big.Int

	EventCount    int
	LastTimestamp int64
}

// SummarizeByChain sums a provider's events per chain, ordered by chain tag
func SummarizeByChain(events []model.LiquidityEvent, provider string) []ChainSummary {
	provider = model.NormalizeAddress(provider)
	byChain := make(map[string]*ChainSummary)

	for _, e := range events {
		if model.NormalizeAddress(e.Provider) != provider || e.LiquidityDelta == nil {
			continue
		}
		s, ok := byChain[e.Chain]
		if !ok {
			s = &ChainSummary{
				Chain:   e.Chain,
				ChainID: e.ChainID,
				Added:   new(big.Int),
				Removed: new(big.Int),
			}
			byChain[e.Chain] = s
		}
		amount := new(big.Int).Abs(e.LiquidityDelta)
		if e.Kind == model.EventRemoved {
			s.Removed.Add(s.Removed, amount)
		} else {
			s.Added.Add(s.Added, amount)
		}
		s.EventCount++
		if e.Timestamp > s.LastTimestamp {
			s.LastTimestamp = e.Timestamp
		}
	}

	out := make([]ChainSummary, 0, len(byChain))
	for _, s := range byChain {
		s.Net = new(big.Int).Sub(s.Added, s.Removed)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Chain < out[j].Chain })
	return out
}

// ActiveProviders counts providers holding a position under opts
func ActiveProviders(events []model.LiquidityEvent, opts Options) int {
	n := 0
	for _, p := range BuildPositions(events, opts) {
		if p.Liquidity.Sign() > 0 {
			n++
		}
	}
	return n
}
