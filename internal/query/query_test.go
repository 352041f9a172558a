package query

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lp-rewards-agent/internal/aggregate"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/rewards"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/storage/memory"
	"github.com/yourorg/lp-rewards-agent/internal/storage/storagetest"
	"github.com/yourorg/lp-rewards-agent/internal/types"
)

const (
	alice    = "0x00000000000000000000000000000000000000a1"
	bob      = "0x00000000000000000000000000000000000000b2"
	treasury = "0x00000000000000000000000000000000000000Fe"
)

type staticTreasury struct {
	balance *big.Int
	err     error
}

func (s staticTreasury) Balance(context.Context) (*big.Int, error) {
	return s.balance, s.err
}

func newService(t *testing.T, tr staticTreasury, opts aggregate.Options) (*Service, *memory.Store) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	removed := storagetest.Event("sepolia", "0x3", 0, alice, 400, 50)
	removed.Kind = model.EventRemoved

	base := storagetest.Event("base-sepolia", "0x2", 1, alice, 500, 10)
	base.ChainID = 84532

	for _, e := range []model.LiquidityEvent{
		storagetest.Event("sepolia", "0x1", 0, alice, 1000, 0),
		base,
		removed,
		storagetest.Event("sepolia", "0x4", 0, bob, 1500, 0),
	} {
		require.NoError(t, store.AppendEvent(ctx, e))
	}

	registry, err := types.NewRegistry(types.DefaultChains())
	require.NoError(t, err)
	sepolia, _ := registry.ByTag(types.ChainSepolia)

	calc := rewards.NewCalculator(store, tr, opts).WithClock(func() time.Time { return time.Unix(100, 0) })
	return NewService(store, calc, registry, sepolia, treasury, opts), store
}

func TestRewards(t *testing.T) {
	svc, store := newService(t, staticTreasury{balance: big.NewInt(3_000_000)}, aggregate.Options{})
	ctx := context.Background()

	c := storagetest.Claim("c1", alice, 250_000)
	_, err := store.RecordBurn(ctx, c)
	require.NoError(t, err)

	view, err := svc.Rewards(ctx, "0x00000000000000000000000000000000000000A1")
	require.NoError(t, err)
	assert.Equal(t, alice, view.Address)
	assert.Equal(t, "1500000", view.Total)
	assert.Equal(t, "250000", view.Claimed)
	assert.Equal(t, "1250000", view.Pending)
	assert.Equal(t, "1.25", view.PendingUSDC)
	assert.Equal(t, "0.25", view.ClaimedUSDC)

	unknown, err := svc.Rewards(ctx, "0x00000000000000000000000000000000000000c3")
	require.NoError(t, err)
	assert.Equal(t, "0", unknown.Pending)
	assert.Equal(t, "0.00", unknown.PendingUSDC)

	all, err := svc.AllRewards(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestRewards_TreasuryFailure(t *testing.T) {
	svc, _ := newService(t, staticTreasury{err: errors.New("rpc down")}, aggregate.Options{})

	_, err := svc.Rewards(context.Background(), alice)
	assert.Error(t, err)
	_, err = svc.Treasury(context.Background())
	assert.Error(t, err)
}

func TestPositions(t *testing.T) {
	tests := []struct {
		name          string
		opts          aggregate.Options
		wantLiquidity string
	}{
		{"removals ignored", aggregate.Options{}, "1000"},
		{"removals subtracted", aggregate.Options{SubtractRemovals: true}, "600"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t, staticTreasury{balance: big.NewInt(1)}, tt.opts)

			view, err := svc.Positions(context.Background(), alice)
			require.NoError(t, err)
			require.Len(t, view.Positions, 2)

			base, sep := view.Positions[0], view.Positions[1]
			assert.Equal(t, "base-sepolia", base.Chain)
			assert.Equal(t, "Base Sepolia", base.ChainName)
			assert.Equal(t, int64(84532), base.ChainID)
			assert.Equal(t, "500", base.Liquidity)

			assert.Equal(t, "sepolia", sep.Chain)
			assert.Equal(t, tt.wantLiquidity, sep.Liquidity)
			assert.Equal(t, "1000", sep.TotalAdded)
			assert.Equal(t, "400", sep.TotalRemoved)
			assert.Equal(t, 2, sep.EventCount)
			assert.Equal(t, int64(50), sep.LastActivityAt)
		})
	}

	svc, _ := newService(t, staticTreasury{balance: big.NewInt(1)}, aggregate.Options{})
	empty, err := svc.Positions(context.Background(), "0x00000000000000000000000000000000000000c3")
	require.NoError(t, err)
	assert.NotNil(t, empty.Positions)
	assert.Empty(t, empty.Positions)
}

func TestTreasury(t *testing.T) {
	svc, store := newService(t, staticTreasury{balance: big.NewInt(12_345_678)}, aggregate.Options{})
	ctx := context.Background()

	for _, c := range []model.Claim{storagetest.Claim("c1", alice, 1_000_000), storagetest.Claim("c2", bob, 500_000)} {
		_, err := store.RecordBurn(ctx, c)
		require.NoError(t, err)
	}

	view, err := svc.Treasury(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000fe", view.Address)
	assert.Equal(t, "sepolia", view.Chain)
	assert.Equal(t, "12345678", view.Balance)
	assert.Equal(t, "12.34", view.BalanceUSDC)
	assert.Equal(t, "1500000", view.TotalClaimed)
	assert.Equal(t, "1.50", view.TotalClaimedUSDC)
	assert.Equal(t, 2, view.ActiveProviders)
}

func TestHealthAndChains(t *testing.T) {
	svc, _ := newService(t, staticTreasury{balance: big.NewInt(1)}, aggregate.Options{})

	health, err := svc.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 4, health.Events)
	assert.ElementsMatch(t, []string{"sepolia", "base-sepolia"}, health.Chains)

	chains := svc.Chains()
	require.Len(t, chains, 2)
	for _, c := range chains {
		assert.NotEmpty(t, c.Name)
		assert.NotZero(t, c.ChainID)
	}
}

func TestClaims(t *testing.T) {
	svc, store := newService(t, staticTreasury{balance: big.NewInt(1)}, aggregate.Options{})
	ctx := context.Background()

	c := storagetest.Claim("c1", alice, 1_500_000)
	c.Status = model.StatusPendingAttestation
	c.Stage = model.StageQueuedPendingMint
	c.BurnTx = "0xburn"
	require.NoError(t, store.SaveClaim(ctx, c))
	require.NoError(t, store.SaveClaim(ctx, storagetest.Claim("c2", bob, 1)))

	view, err := svc.Claim(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", view.ClaimID)
	assert.Equal(t, "pending_attestation", view.Status)
	assert.Equal(t, "queued_pending_mint", view.Stage)
	assert.Equal(t, "1500000", view.Amount)
	assert.Equal(t, "1.50", view.AmountUSDC)
	assert.Equal(t, "0xburn", view.BurnTx)

	_, err = svc.Claim(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	mine, err := svc.ClaimsByRecipient(ctx, alice)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	pending, err := svc.ClaimsByStatus(ctx, model.StatusPendingAttestation)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "c1", pending[0].ClaimID)
}
