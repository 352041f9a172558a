// Package storagetest holds the behaviour every storage.Store implementation must share.
package storagetest

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lp-rewards-agent/internal/model"
	"github.com/yourorg/lp-rewards-agent/internal/storage"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) storage.Store

// Event builds a valid added event.
func Event(chain, tx string, logIndex uint, provider string, delta int64, ts int64) model.LiquidityEvent {
	return model.LiquidityEvent{
		Kind:           model.EventAdded,
		Chain:          chain,
		Provider:       provider,
		PoolID:         "0x0000000000000000000000000000000000000000000000000000000000000001",
		LiquidityDelta: big.NewInt(delta),
		Timestamp:      ts,
		ChainID:        11155111,
		TxHash:         tx,
		BlockNumber:    100,
		LogIndex:       logIndex,
	}
}

// Claim builds a valid claim record.
func Claim(id, recipient string, amount int64) model.Claim {
	return model.Claim{
		ID:                 id,
		Recipient:          recipient,
		Amount:             big.NewInt(amount),
		SourceChainID:      11155111,
		DestinationChainID: 84532,
		Status:             model.StatusProcessing,
		Stage:              model.StageValidated,
		CreatedAt:          time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Run executes the shared store behaviour against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("append and list in order", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendEvent(ctx, Event("sepolia", "0xb", 0, "0xAAA", 10, 200)))
		require.NoError(t, s.AppendEvent(ctx, Event("sepolia", "0xa", 0, "0xbbb", 20, 100)))

		events, err := s.Events(ctx)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, "0xb", events[0].TxHash)
		assert.Equal(t, "0xaaa", events[0].Provider)
		assert.Equal(t, int64(20), events[1].LiquidityDelta.Int64())

		n, err := s.EventCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("duplicate key rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.AppendEvent(ctx, Event("sepolia", "0xa", 1, "0xaaa", 10, 100)))
		err := s.AppendEvent(ctx, Event("sepolia", "0xa", 1, "0xaaa", 10, 100))
		assert.True(t, errors.Is(err, storage.ErrDuplicateKey))

		// same tx and index on another chain is a different event
		require.NoError(t, s.AppendEvent(ctx, Event("base-sepolia", "0xa", 1, "0xaaa", 10, 100)))

		n, err := s.EventCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})

	t.Run("invalid event rejected", func(t *testing.T) {
		s := newStore(t)
		e := Event("sepolia", "0xa", 0, "", 1, 1)
		err := s.AppendEvent(context.Background(), e)
		assert.True(t, errors.Is(err, storage.ErrInvalidInput))
	})

	t.Run("signed deltas survive", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		e := Event("sepolia", "0xa", 0, "0xaaa", -5, 100)
		e.Kind = model.EventRemoved
		huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
		e2 := Event("sepolia", "0xb", 0, "0xaaa", 0, 100)
		e2.LiquidityDelta = huge
		require.NoError(t, s.AppendEvent(ctx, e))
		require.NoError(t, s.AppendEvent(ctx, e2))

		events, err := s.Events(ctx)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, int64(-5), events[0].LiquidityDelta.Int64())
		assert.Equal(t, model.EventRemoved, events[0].Kind)
		assert.Equal(t, 0, huge.Cmp(events[1].LiquidityDelta))
	})

	t.Run("unknown provider has zero claimed", func(t *testing.T) {
		s := newStore(t)
		v, err := s.Claimed(context.Background(), "0xnobody")
		require.NoError(t, err)
		assert.Equal(t, 0, v.Sign())
	})

	t.Run("save claim does not debit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.SaveClaim(ctx, Claim("c1", "0xAAA", 50)))

		v, err := s.Claimed(ctx, "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, 0, v.Sign())

		got, err := s.GetClaim(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "0xaaa", got.Recipient)
		assert.False(t, got.Debited)
	})

	t.Run("record burn debits exactly once", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := Claim("c1", "0xaaa", 50)
		require.NoError(t, s.SaveClaim(ctx, c))

		c.BurnTx = "0xburn"
		c.Stage = model.StageBurned
		stored, err := s.RecordBurn(ctx, c)
		require.NoError(t, err)
		assert.True(t, stored.Debited)

		// replaying the burn, or a later status change, must not debit again
		_, err = s.RecordBurn(ctx, c)
		require.NoError(t, err)
		c.Status = model.StatusCompleted
		c.Debited = false
		require.NoError(t, s.SaveClaim(ctx, c))

		v, err := s.Claimed(ctx, "0xAAA")
		require.NoError(t, err)
		assert.Equal(t, int64(50), v.Int64())

		got, err := s.GetClaim(ctx, "c1")
		require.NoError(t, err)
		assert.True(t, got.Debited)
		assert.Equal(t, model.StatusCompleted, got.Status)

		all, err := s.ClaimedAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(50), all["0xaaa"].Int64())
	})

	t.Run("ledger accumulates across claims", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.RecordBurn(ctx, Claim("c1", "0xaaa", 30))
		require.NoError(t, err)
		_, err = s.RecordBurn(ctx, Claim("c2", "0xaaa", 12))
		require.NoError(t, err)

		v, err := s.Claimed(ctx, "0xaaa")
		require.NoError(t, err)
		assert.Equal(t, int64(42), v.Int64())
	})

	t.Run("claim queries", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c1 := Claim("c1", "0xaaa", 1)
		c2 := Claim("c2", "0xbbb", 2)
		c2.Status = model.StatusPendingAttestation
		c3 := Claim("c3", "0xAAA", 3)
		c3.CreatedAt = c1.CreatedAt.Add(time.Second)
		c3.Status = model.StatusPendingAttestation
		for _, c := range []model.Claim{c1, c2, c3} {
			require.NoError(t, s.SaveClaim(ctx, c))
		}

		mine, err := s.ClaimsByRecipient(ctx, "0xaaa")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "c1", mine[0].ID)
		assert.Equal(t, "c3", mine[1].ID)

		pending, err := s.ClaimsByStatus(ctx, model.StatusPendingAttestation)
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		_, err = s.GetClaim(ctx, "missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("concurrent appends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				// every event is sent twice; only one copy may land
				e := Event("sepolia", "0xconcurrent", uint(i), "0xaaa", 1, 100)
				_ = s.AppendEvent(ctx, e)
				_ = s.AppendEvent(ctx, e)
			}(i)
		}
		wg.Wait()

		n, err := s.EventCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 20, n)
	})
}
