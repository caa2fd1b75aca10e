package ports

import (
	"context"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// CacheStore persists generated asset content, content digests, and failure
// records between builds. The digest ledger backs the scheduler's
// change-detection; failure records back failure replay on no-op rebuilds.
//
// Writers are serialized per AssetID by the one-producer-per-output graph
// invariant; implementations only need to guarantee that readers never
// observe a partially written entry.
type CacheStore interface {
	// Get returns the stored content for an asset, with ok=false when the
	// asset has no cached content.
	Get(ctx context.Context, id domain.AssetID) (data []byte, ok bool, err error)

	// Put commits content and its digest for an asset atomically.
	Put(ctx context.Context, id domain.AssetID, data []byte, digest string) error

	// Digest returns the recorded digest for an asset, with ok=false when
	// the asset has never been recorded.
	Digest(ctx context.Context, id domain.AssetID) (digest string, ok bool, err error)

	// PutDigest records a digest without content, used for source assets
	// that live on disk but participate in change detection.
	PutDigest(ctx context.Context, id domain.AssetID, digest string) error

	// PutFailure records a failed action's diagnostics for replay.
	PutFailure(ctx context.Context, rec domain.FailureRecord) error

	// Failure returns the recorded failure for an action, ok=false if none.
	Failure(ctx context.Context, id domain.ActionID) (*domain.FailureRecord, bool, error)

	// DeleteFailure clears a recorded failure after a successful re-run.
	DeleteFailure(ctx context.Context, id domain.ActionID) error

	// EvictAll discards all content, digests, and failure records. Invoked
	// by the explicit clean operation.
	EvictAll(ctx context.Context) error
}
