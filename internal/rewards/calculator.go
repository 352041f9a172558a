// Package rewards computes pro-rata treasury rewards from time-weighted positions.
package rewards

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/lp-rewards-agent/internal/aggregate"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
)

// TreasuryReader reads the live reward-token balance of the treasury
type TreasuryReader interface {
	Balance(ctx context.Context) (*big.Int, error)
}

// Source is the part of the store the calculator reads
type Source interface {
	storage.EventStore
	storage.Ledger
}

// Calculator turns the event log and a treasury snapshot into reward balances
type Calculator struct {
	source   Source
	treasury TreasuryReader
	opts     aggregate.Options
	now      func() time.Time
}

// NewCalculator creates a calculator over source and treasury
func NewCalculator(source Source, treasury TreasuryReader, opts aggregate.Options) *Calculator {
	return &Calculator{
		source:   source,
		treasury: treasury,
		opts:     opts,
		now:      time.Now,
	}
}

// WithClock replaces the time source
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

// ComputeRewards returns every provider's pending, claimed and total reward.
//
// totalReward = liquidity*timeHeld*B / Σ(liquidity*timeHeld), floored, so Σ total ≤ B.
// The result is empty when Σ liquidity-time is zero. A failed treasury read fails
// the whole computation.
func (c *Calculator) ComputeRewards(ctx context.Context) ([]model.Reward, error) {
	events, err := c.source.Events(ctx)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	positions := aggregate.BuildPositions(events, c.opts)

	now := c.now().Unix()

	balance, err := c.treasury.Balance(ctx)
	if err != nil {
		return nil, fmt.Errorf("read treasury balance: %w", err)
	}
	if balance == nil || balance.Sign() < 0 {
		return nil, fmt.Errorf("read treasury balance: invalid balance %v", balance)
	}

	claimed, err := c.source.ClaimedAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load claimed ledger: %w", err)
	}

	type weighted struct {
		position      model.Position
		liquidityTime *big.Int
	}
	var (
		ws    []weighted
		total = new(big.Int)
	)
	for _, p := range positions {
		timeHeld := now - p.Anchor
		if timeHeld < 0 {
			// anchor in the future: treat as freshly added
			logrus.WithFields(logrus.Fields{
				"provider": p.Provider,
				"anchor":   p.Anchor,
				"now":      now,
			}).Debug("Position anchor is in the future, clamping time held to zero")
			timeHeld = 0
		}
		lt := new(big.Int).Mul(p.Liquidity, big.NewInt(timeHeld))
		if lt.Sign() < 0 {
			lt.SetInt64(0)
		}
		total.Add(total, lt)
		ws = append(ws, weighted{position: p, liquidityTime: lt})
	}

	if total.Sign() == 0 {
		return []model.Reward{}, nil
	}

	rewards := make([]model.Reward, 0, len(ws))
	for _, w := range ws {
		totalReward := new(big.Int).Mul(w.liquidityTime, balance)
		totalReward.Quo(totalReward, total)

		claimedSoFar := new(big.Int)
		if v, ok := claimed[w.position.Provider]; ok {
			claimedSoFar.Set(v)
		}
		pending := new(big.Int).Sub(totalReward, claimedSoFar)
		if pending.Sign() < 0 {
			pending.SetInt64(0)
		}

		rewards = append(rewards, model.Reward{
			Provider: w.position.Provider,
			Chain:    w.position.Chain,
			Pending:  pending,
			Claimed:  claimedSoFar,
			Total:    totalReward,
		})
	}

	sort.Slice(rewards, func(i, j int) bool { return rewards[i].Provider < rewards[j].Provider })
	return rewards, nil
}

// RewardFor returns one provider's reward. Unknown providers get a zero reward
// that still reports their claimed total.
func (c *Calculator) RewardFor(ctx context.Context, provider string) (model.Reward, error) {
	rewards, err := c.ComputeRewards(ctx)
	if err != nil {
		return model.Reward{}, err
	}
	addr := model.NormalizeAddress(provider)
	for _, r := range rewards {
		if r.Provider == addr {
			return r, nil
		}
	}

	out := model.ZeroReward(addr)
	claimed, err := c.source.Claimed(ctx, addr)
	if err != nil {
		return model.Reward{}, fmt.Errorf("load claimed: %w", err)
	}
	out.Claimed = claimed
	return out, nil
}

// Treasury exposes the reader so projections can share it
func (c *Calculator) Treasury() TreasuryReader {
	return c.treasury
}
