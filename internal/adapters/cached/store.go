// Package cached wraps another CacheStore with an in-process LRU layer.
// It keeps hot generated content and digests in memory so repeated reads
// during a single build, or across watch-mode rebuilds, skip the backing
// store (useful when that store is disk or a remote server).
package cached

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kilnbuild/kiln/pkg/domain"
	"github.com/kilnbuild/kiln/pkg/ports"
)

// DefaultSize is the number of content and digest entries kept in memory
// when no explicit size is given.
const DefaultSize = 1024

// Store is a read-through CacheStore. Writes go to the backing store first
// and only populate the memory layer on success, so the LRU never holds an
// entry the backing store rejected.
type Store struct {
	backing  ports.CacheStore
	contents *lru.Cache[string, []byte]
	digests  *lru.Cache[string, string]
}

// Wrap layers an LRU of the given size over backing. A size of zero or
// below falls back to DefaultSize.
func Wrap(backing ports.CacheStore, size int) (*Store, error) {
	if size <= 0 {
		size = DefaultSize
	}
	contents, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	digests, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Store{backing: backing, contents: contents, digests: digests}, nil
}

func (s *Store) Get(ctx context.Context, id domain.AssetID) ([]byte, bool, error) {
	if data, ok := s.contents.Get(id.String()); ok {
		return data, true, nil
	}
	data, ok, err := s.backing.Get(ctx, id)
	if err != nil || !ok {
		return nil, ok, err
	}
	s.contents.Add(id.String(), data)
	return data, true, nil
}

func (s *Store) Put(ctx context.Context, id domain.AssetID, data []byte, digest string) error {
	if err := s.backing.Put(ctx, id, data, digest); err != nil {
		return err
	}
	s.contents.Add(id.String(), data)
	s.digests.Add(id.String(), digest)
	return nil
}

func (s *Store) Digest(ctx context.Context, id domain.AssetID) (string, bool, error) {
	if digest, ok := s.digests.Get(id.String()); ok {
		return digest, true, nil
	}
	digest, ok, err := s.backing.Digest(ctx, id)
	if err != nil || !ok {
		return "", ok, err
	}
	s.digests.Add(id.String(), digest)
	return digest, true, nil
}

func (s *Store) PutDigest(ctx context.Context, id domain.AssetID, digest string) error {
	if err := s.backing.PutDigest(ctx, id, digest); err != nil {
		return err
	}
	s.digests.Add(id.String(), digest)
	return nil
}

// Failure records are not cached: they are read once per plan and staleness
// there would replay failures the backing store already cleared.

func (s *Store) PutFailure(ctx context.Context, rec domain.FailureRecord) error {
	return s.backing.PutFailure(ctx, rec)
}

func (s *Store) Failure(ctx context.Context, id domain.ActionID) (*domain.FailureRecord, bool, error) {
	return s.backing.Failure(ctx, id)
}

func (s *Store) DeleteFailure(ctx context.Context, id domain.ActionID) error {
	return s.backing.DeleteFailure(ctx, id)
}

func (s *Store) EvictAll(ctx context.Context) error {
	if err := s.backing.EvictAll(ctx); err != nil {
		return err
	}
	s.contents.Purge()
	s.digests.Purge()
	return nil
}
