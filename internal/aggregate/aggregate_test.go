package aggregate

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lp-rewards-agent/internal/model"
)

func added(provider, chain string, delta int64, ts int64) model.LiquidityEvent {
	return model.LiquidityEvent{
		Kind:           model.EventAdded,
		Chain:          chain,
		Provider:       provider,
		LiquidityDelta: big.NewInt(delta),
		Timestamp:      ts,
	}
}

func removed(provider, chain string, delta int64, ts int64) model.LiquidityEvent {
	e := added(provider, chain, delta, ts)
	e.Kind = model.EventRemoved
	return e
}

func TestBuildPositions_AnchorPolicies(t *testing.T) {
	events := []model.LiquidityEvent{
		added("0xAAA", "sepolia", 100, 10),
		added("0xaaa", "base-sepolia", 50, 40),
	}

	tests := []struct {
		name       string
		policy     AnchorPolicy
		wantAnchor int64
		wantChain  string
	}{
		{"first add", AnchorFirstAdd, 10, "sepolia"},
		{"last add", AnchorLastAdd, 40, "base-sepolia"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			positions := BuildPositions(events, Options{Anchor: tt.policy})
			require.Len(t, positions, 1)

			p := positions["0xaaa"]
			assert.Equal(t, int64(150), p.Liquidity.Int64())
			assert.Equal(t, tt.wantAnchor, p.Anchor)
			assert.Equal(t, tt.wantChain, p.Chain)
			assert.Equal(t, int64(10), p.FirstAddTimestamp)
			assert.Equal(t, int64(40), p.LastAddTimestamp)
		})
	}
}

func TestBuildPositions_OutOfOrderArrival(t *testing.T) {
	events := []model.LiquidityEvent{
		added("0xaaa", "sepolia", 1, 50),
		added("0xaaa", "sepolia", 1, 20),
	}

	first := BuildPositions(events, Options{Anchor: AnchorFirstAdd})["0xaaa"]
	last := BuildPositions(events, Options{Anchor: AnchorLastAdd})["0xaaa"]

	assert.Equal(t, int64(20), first.Anchor)
	assert.Equal(t, int64(50), last.Anchor)
}

func TestBuildPositions_Removals(t *testing.T) {
	events := []model.LiquidityEvent{
		added("0xaaa", "sepolia", 100, 10),
		removed("0xaaa", "sepolia", -30, 20),
		removed("0xbbb", "sepolia", -5, 20), // removal with no position
	}

	ignored := BuildPositions(events, Options{})
	require.Len(t, ignored, 1)
	assert.Equal(t, int64(100), ignored["0xaaa"].Liquidity.Int64())

	subtracted := BuildPositions(events, Options{SubtractRemovals: true})
	require.Len(t, subtracted, 1)
	assert.Equal(t, int64(70), subtracted["0xaaa"].Liquidity.Int64())

	// removing more than was added clamps at zero
	events = append(events, removed("0xaaa", "sepolia", -500, 30))
	clamped := BuildPositions(events, Options{SubtractRemovals: true})
	assert.Equal(t, 0, clamped["0xaaa"].Liquidity.Sign())
}

func TestBuildPositions_Empty(t *testing.T) {
	assert.Empty(t, BuildPositions(nil, Options{}))
}

func TestBuildPositions_DoesNotMutateInput(t *testing.T) {
	events := []model.LiquidityEvent{added("0xaaa", "sepolia", 100, 10), added("0xaaa", "sepolia", 5, 11)}
	_ = BuildPositions(events, Options{})
	assert.Equal(t, int64(100), events[0].LiquidityDelta.Int64())

	// recomputation gives the same answer
	a := BuildPositions(events, Options{})
	b := BuildPositions(events, Options{})
	assert.Equal(t, 0, a["0xaaa"].Liquidity.Cmp(b["0xaaa"].Liquidity))
}

func TestSummarizeByChain(t *testing.T) {
	events := []model.LiquidityEvent{
		added("0xaaa", "sepolia", 100, 10),
		added("0xaaa", "base-sepolia", 40, 12),
		removed("0xaaa", "sepolia", -30, 20),
		added("0xbbb", "sepolia", 999, 10),
	}
	events[1].ChainID = 84532

	summaries := SummarizeByChain(events, "0xAAA")
	require.Len(t, summaries, 2)

	assert.Equal(t, "base-sepolia", summaries[0].Chain)
	assert.Equal(t, int64(84532), summaries[0].ChainID)
	assert.Equal(t, int64(40), summaries[0].Net.Int64())

	assert.Equal(t, "sepolia", summaries[1].Chain)
	assert.Equal(t, int64(100), summaries[1].Added.Int64())
	assert.Equal(t, int64(30), summaries[1].Removed.Int64())
	assert.Equal(t, int64(70), summaries[1].Net.Int64())
	assert.Equal(t, 2, summaries[1].EventCount)
	assert.Equal(t, int64(20), summaries[1].LastTimestamp)
}

func TestActiveProviders(t *testing.T) {
	events := []model.LiquidityEvent{
		added("0xaaa", "sepolia", 100, 10),
		added("0xbbb", "sepolia", 10, 10),
		removed("0xbbb", "sepolia", -10, 20),
	}
	assert.Equal(t, 2, ActiveProviders(events, Options{}))
	assert.Equal(t, 1, ActiveProviders(events, Options{SubtractRemovals: true}))
}

func TestParseAnchorPolicy(t *testing.T) {
	assert.Equal(t, AnchorLastAdd, ParseAnchorPolicy("last"))
	assert.Equal(t, AnchorFirstAdd, ParseAnchorPolicy("first"))
	assert.Equal(t, AnchorFirstAdd, ParseAnchorPolicy(""))
	assert.Equal(t, "last", AnchorLastAdd.String())
}
