package store

import (
	"context"
	"testing"
	"time"

	"github.com/chainspan/chainspan-backend/internal/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newTestCache points at an unreachable Redis so the in-memory fallback
// takes over.
func newTestCache(t *testing.T) *Cache {
	t.Helper()

	cache, err := NewCache("127.0.0.1:1", zap.NewNop().Sugar())
	require.NoError(t, err)
	require.True(t, cache.IsInMemoryMode())
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestWrappedAssetRoundTrip(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	pair := bridge.AssetRef{Chain: bridge.ChainEthereum, Address: "0xabc"}.PairKey(bridge.ChainSui)

	var missing bridge.WrappedAssetRef
	err := cache.GetWrappedAsset(ctx, pair, &missing)
	assert.Equal(t, ErrCacheMiss, err)

	wrapped := &bridge.WrappedAssetRef{Chain: bridge.ChainSui, Address: "0xdef::coin::COIN"}
	require.NoError(t, cache.SetWrappedAsset(ctx, pair, wrapped))

	var got bridge.WrappedAssetRef
	require.NoError(t, cache.GetWrappedAsset(ctx, pair, &got))
	assert.Equal(t, *wrapped, got)
}

func TestRetainedMessage(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	id, err := cache.RetainedMessage(ctx, "eth:0xabc->sui")
	require.NoError(t, err)
	assert.Nil(t, id)

	msg := bridge.MessageID{Chain: bridge.ChainEthereum, Emitter: "0xemitter", Sequence: 7}
	require.NoError(t, cache.RetainMessage(ctx, "eth:0xabc->sui", msg))

	id, err = cache.RetainedMessage(ctx, "eth:0xabc->sui")
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, msg, *id)
}

func TestAdvisoryLock(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	release, ok, err := cache.Acquire(ctx, "pair-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = cache.Acquire(ctx, "pair-a", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire should fail while held")

	// Different key is independent.
	releaseB, ok, err := cache.Acquire(ctx, "pair-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()

	release()

	_, ok, err = cache.Acquire(ctx, "pair-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "acquire should succeed after release")
}
