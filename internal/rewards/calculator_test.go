package rewards

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lp-rewards-agent/internal/aggregate"
	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/storage/memory"
	"github.com/yourorg/lp-rewards-agent/internal/storage/storagetest"
)

type fixedTreasury struct {
	balance *big.Int
	err     error
	calls   int
}

func (f *fixedTreasury) Balance(context.Context) (*big.Int, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return new(big.Int).Set(f.balance), nil
}

func clockAt(ts int64) func() time.Time {
	return func() time.Time { return time.Unix(ts, 0) }
}

func newCalc(t *testing.T, balance int64, now int64, events ...model.LiquidityEvent) (*Calculator, *memory.Store) {
	t.Helper()
	store := memory.New()
	for _, e := range events {
		require.NoError(t, store.AppendEvent(context.Background(), e))
	}
	calc := NewCalculator(store, &fixedTreasury{balance: big.NewInt(balance)}, aggregate.Options{}).
		WithClock(clockAt(now))
	return calc, store
}

func TestComputeRewards_SoleHolderTakesTreasury(t *testing.T) {
	calc, _ := newCalc(t, 1_000_000, 100,
		storagetest.Event("sepolia", "0x1", 0, "0xP", 1000, 0))

	rewards, err := calc.ComputeRewards(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 1)
	assert.Equal(t, "0xp", rewards[0].Provider)
	assert.Equal(t, int64(1_000_000), rewards[0].Pending.Int64())
	assert.Equal(t, int64(1_000_000), rewards[0].Total.Int64())
	assert.Equal(t, int64(0), rewards[0].Claimed.Int64())
}

func TestComputeRewards_EvenSplitLeavesResidual(t *testing.T) {
	calc, _ := newCalc(t, 3, 100,
		storagetest.Event("sepolia", "0x1", 0, "0xa", 10, 0),
		storagetest.Event("sepolia", "0x2", 0, "0xb", 10, 0))

	rewards, err := calc.ComputeRewards(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, int64(1), rewards[0].Total.Int64())
	assert.Equal(t, int64(1), rewards[1].Total.Int64())
}

func TestComputeRewards_EmptyLog(t *testing.T) {
	calc, _ := newCalc(t, 1_000_000, 100)

	rewards, err := calc.ComputeRewards(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rewards)
}

func TestComputeRewards_ZeroLiquidityTime(t *testing.T) {
	// every position was added at "now"
	calc, _ := newCalc(t, 1_000_000, 100,
		storagetest.Event("sepolia", "0x1", 0, "0xa", 10, 100),
		storagetest.Event("sepolia", "0x2", 0, "0xb", 10, 100))

	rewards, err := calc.ComputeRewards(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rewards)
}

func TestComputeRewards_FutureTimestampClamped(t *testing.T) {
	calc, _ := newCalc(t, 1000, 100,
		storagetest.Event("sepolia", "0x1", 0, "0xa", 10, 0),
		storagetest.Event("sepolia", "0x2", 0, "0xb", 10, 5000))

	rewards, err := calc.ComputeRewards(context.Background())
	require.NoError(t, err)
	require.Len(t, rewards, 2)
	assert.Equal(t, int64(1000), rewards[0].Total.Int64())
	assert.Equal(t, int64(0), rewards[1].Total.Int64())
}

func TestComputeRewards_ClaimedReducesPending(t *testing.T) {
	calc, store := newCalc(t, 1_000_000, 100,
		storagetest.Event("sepolia", "0x1", 0, "0xa", 1000, 0))
	_, err := store.RecordBurn(context.Background(), storagetest.Claim("c1", "0xa", 400_000))
	require.NoError(t, err)

	r, err := calc.RewardFor(context.Background(), "0xA")
	require.NoError(t, err)
	assert.Equal(t, int64(600_000), r.Pending.Int64())
	assert.Equal(t, int64(400_000), r.Claimed.Int64())
	assert.Equal(t, int64(1_000_000), r.Total.Int64())
}

func TestComputeRewards_PendingNeverNegative(t *testing.T) {
	calc, store := newCalc(t, 100, 100,
		storagetest.Event("sepolia", "0x1", 0, "0xa", 1000, 0))
	_, err := store.RecordBurn(context.Background(), storagetest.Claim("c1", "0xa", 5_000))
	require.NoError(t, err)

	r, err := calc.RewardFor(context.Background(), "0xa")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Pending.Sign())
}

func TestComputeRewards_TreasuryFailureFailsComputation(t *testing.T) {
	store := memory.New()
	require.NoError(t, store.AppendEvent(context.Background(), storagetest.Event("sepolia", "0x1", 0, "0xa", 10, 0)))

	calc := NewCalculator(store, &fixedTreasury{err: errors.New("rpc down")}, aggregate.Options{})
	_, err := calc.ComputeRewards(context.Background())
	assert.Error(t, err)
}

func TestComputeRewards_AnchorPolicyChangesDistribution(t *testing.T) {
	events := []model.LiquidityEvent{
		storagetest.Event("sepolia", "0x1", 0, "0xa", 10, 0),
		storagetest.Event("sepolia", "0x2", 0, "0xa", 10, 90), // top-up
		storagetest.Event("sepolia", "0x3", 0, "0xb", 20, 50),
	}
	store := memory.New()
	for _, e := range events {
		require.NoError(t, store.AppendEvent(context.Background(), e))
	}

	first := NewCalculator(store, &fixedTreasury{balance: big.NewInt(1_000)}, aggregate.Options{Anchor: aggregate.AnchorFirstAdd}).
		WithClock(clockAt(100))
	last := NewCalculator(store, &fixedTreasury{balance: big.NewInt(1_000)}, aggregate.Options{Anchor: aggregate.AnchorLastAdd}).
		WithClock(clockAt(100))

	rf, err := first.RewardFor(context.Background(), "0xa")
	require.NoError(t, err)
	rl, err := last.RewardFor(context.Background(), "0xa")
	require.NoError(t, err)

	// first: a=20*100=2000, b=20*50=1000 -> a gets 666
	// last:  a=20*10=200,  b=1000        -> a gets 166
	assert.Equal(t, int64(666), rf.Total.Int64())
	assert.Equal(t, int64(166), rl.Total.Int64())
}

func TestComputeRewards_Idempotent(t *testing.T) {
	calc, _ := newCalc(t, 777_777, 1000,
		storagetest.Event("sepolia", "0x1", 0, "0xa", 13, 3),
		storagetest.Event("sepolia", "0x2", 0, "0xb", 7, 500))

	a, err := calc.ComputeRewards(context.Background())
	require.NoError(t, err)
	b, err := calc.ComputeRewards(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Provider, b[i].Provider)
		assert.Equal(t, 0, a[i].Total.Cmp(b[i].Total))
		assert.Equal(t, 0, a[i].Claimed.Cmp(b[i].Claimed))
	}
}

func TestComputeRewards_NeverExceedsTreasury(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 50; round++ {
		store := memory.New()
		ctx := context.Background()
		for i := 0; i < 1+rng.Intn(15); i++ {
			e := storagetest.Event("sepolia", fmt.Sprintf("0x%d", i), 0,
				fmt.Sprintf("0xp%d", rng.Intn(5)), 1+rng.Int63n(1_000_000), rng.Int63n(1000))
			require.NoError(t, store.AppendEvent(ctx, e))
		}
		for i := 0; i < rng.Intn(3); i++ {
			_, err := store.RecordBurn(ctx, storagetest.Claim(fmt.Sprintf("c%d", i), fmt.Sprintf("0xp%d", rng.Intn(5)), rng.Int63n(1000)))
			require.NoError(t, err)
		}

		balance := big.NewInt(1 + rng.Int63n(10_000_000))
		calc := NewCalculator(store, &fixedTreasury{balance: balance}, aggregate.Options{}).WithClock(clockAt(1000))

		rewards, err := calc.ComputeRewards(ctx)
		require.NoError(t, err)

		sumTotal := new(big.Int)
		for _, r := range rewards {
			sumTotal.Add(sumTotal, r.Total)
			assert.True(t, r.Pending.Sign() >= 0)
			// pending + claimed never exceeds what the provider has earned, unless claimed already does
			if r.Claimed.Cmp(r.Total) <= 0 {
				assert.Equal(t, 0, new(big.Int).Add(r.Pending, r.Claimed).Cmp(r.Total))
			}
		}
		assert.True(t, sumTotal.Cmp(balance) <= 0, "round %d: %s > %s", round, sumTotal, balance)
	}
}

func TestRewardFor_UnknownProvider(t *testing.T) {
	calc, store := newCalc(t, 1000, 100,
		storagetest.Event("sepolia", "0x1", 0, "0xa", 10, 0))
	_, err := store.RecordBurn(context.Background(), storagetest.Claim("c1", "0xghost", 5))
	require.NoError(t, err)

	r, err := calc.RewardFor(context.Background(), "0xGHOST")
	require.NoError(t, err)
	assert.Equal(t, "0xghost", r.Provider)
	assert.Equal(t, 0, r.Pending.Sign())
	assert.Equal(t, int64(5), r.Claimed.Int64())
}
