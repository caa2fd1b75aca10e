package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// RunCacheStoreContract runs a suite of tests verifying that a CacheStore
// implementation adheres to the interface contract. Adapter test packages
// call this with a freshly constructed store.
func RunCacheStoreContract(t *testing.T, store CacheStore) {
	ctx := context.Background()
	id := domain.NewAssetID("contract", "lib/a.g.dart")

	t.Run("Get Missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, domain.NewAssetID("contract", "missing.dart"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Put and Get", func(t *testing.T) {
		data := []byte("generated content")
		require.NoError(t, store.Put(ctx, id, data, "sha256:abc"))

		got, ok, err := store.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, data, got)

		digest, ok, err := store.Digest(ctx, id)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "sha256:abc", digest)
	})

	t.Run("Digest Without Content", func(t *testing.T) {
		src := domain.NewAssetID("contract", "lib/a.dart")
		require.NoError(t, store.PutDigest(ctx, src, "sha256:def"))

		digest, ok, err := store.Digest(ctx, src)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "sha256:def", digest)

		// PutDigest records change-detection state only, never content.
		_, ok, err = store.Get(ctx, src)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Failure Roundtrip", func(t *testing.T) {
		actionID := domain.ActionID("pkg:gen|contract|lib/a.dart")
		rec := domain.FailureRecord{
			ActionID:   actionID,
			Message:    "builder exploded",
			Output:     "stack trace here",
			RecordedAt: time.Now().UTC().Truncate(time.Second),
		}
		require.NoError(t, store.PutFailure(ctx, rec))

		got, ok, err := store.Failure(ctx, actionID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, rec.Message, got.Message)
		assert.Equal(t, rec.Output, got.Output)

		require.NoError(t, store.DeleteFailure(ctx, actionID))
		_, ok, err = store.Failure(ctx, actionID)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("EvictAll", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, id, []byte("data"), "sha256:xyz"))
		require.NoError(t, store.PutFailure(ctx, domain.FailureRecord{
			ActionID: "pkg:gen|contract|lib/b.dart", Message: "old failure",
		}))

		require.NoError(t, store.EvictAll(ctx))

		_, ok, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, "content must be gone after EvictAll")

		_, ok, err = store.Digest(ctx, id)
		require.NoError(t, err)
		assert.False(t, ok, "digest ledger must be gone after EvictAll")

		_, ok, err = store.Failure(ctx, "pkg:gen|contract|lib/b.dart")
		require.NoError(t, err)
		assert.False(t, ok, "failure records must be gone after EvictAll")
	})
}
