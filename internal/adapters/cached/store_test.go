package cached_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/internal/adapters/cached"
	"github.com/kilnbuild/kiln/internal/adapters/memory"
	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
)

// Ensure Store implements CacheStore.
var _ ports.CacheStore = (*cached.Store)(nil)

func TestCachedStore_Contract(t *testing.T) {
	store, err := cached.Wrap(memory.New(), 16)
	require.NoError(t, err)
	ports.RunCacheStoreContract(t, store)
}

// countingStore records how many reads reach the backing store.
type countingStore struct {
	ports.CacheStore
	gets, digests int
}

func (c *countingStore) Get(ctx context.Context, id domain.AssetID) ([]byte, bool, error) {
	c.gets++
	return c.CacheStore.Get(ctx, id)
}

func (c *countingStore) Digest(ctx context.Context, id domain.AssetID) (string, bool, error) {
	c.digests++
	return c.CacheStore.Digest(ctx, id)
}

func TestCachedStore_ReadThrough(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{CacheStore: memory.New()}
	store, err := cached.Wrap(backing, 16)
	require.NoError(t, err)

	id := domain.NewAssetID("app", "lib/model.g.dart")
	require.NoError(t, backing.Put(ctx, id, []byte("content"), "sha256:abc"))

	// First read hits the backing store, second is served from memory.
	for i := 0; i < 3; i++ {
		data, ok, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("content"), data)
	}
	assert.Equal(t, 1, backing.gets)

	for i := 0; i < 3; i++ {
		digest, ok, err := store.Digest(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "sha256:abc", digest)
	}
	assert.Equal(t, 1, backing.digests)
}

func TestCachedStore_MissesAreNotCached(t *testing.T) {
	ctx := context.Background()
	backing := &countingStore{CacheStore: memory.New()}
	store, err := cached.Wrap(backing, 16)
	require.NoError(t, err)

	id := domain.NewAssetID("app", "lib/late.g.dart")
	_, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)

	// Content appearing in the backing store later must be visible.
	require.NoError(t, backing.Put(ctx, id, []byte("late"), "sha256:def"))
	data, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("late"), data)
}
