package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/lp-rewards-agent/internal/storage"
	"github.com/yourorg/lp-rewards-agent/internal/storage/storagetest"
)

func TestStore(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendEvent(ctx, storagetest.Event("sepolia", "0xa", 0, "0xaaa", 10, 100)))
	_, err := s.RecordBurn(ctx, storagetest.Claim("c1", "0xaaa", 7))
	require.NoError(t, err)

	doc := s.Snapshot()

	restored := New()
	restored.Restore(doc)

	n, err := restored.EventCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	v, err := restored.Claimed(ctx, "0xaaa")
	require.NoError(t, err)
	assert.Equal(t, int64(7), v.Int64())

	c, err := restored.GetClaim(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, c.Debited)

	// the key index is rebuilt, so replays are still rejected
	err = restored.AppendEvent(ctx, storagetest.Event("sepolia", "0xa", 0, "0xaaa", 10, 100))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.AppendEvent(ctx, storagetest.Event("sepolia", "0xa", 0, "0xaaa", 10, 100)))

	doc := s.Snapshot()
	doc.Events[0].LiquidityDelta.SetInt64(999)

	events, err := s.Events(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), events[0].LiquidityDelta.Int64())
}
