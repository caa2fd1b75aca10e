// Package memory provides an in-memory CacheStore, used for tests and
// ephemeral builds that should not touch disk.
package memory

import (
	"context"
	"sync"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// Store implements ports.CacheStore backed by maps.
type Store struct {
	mu       sync.RWMutex
	content  map[domain.AssetID][]byte
	digests  map[domain.AssetID]string
	failures map[domain.ActionID]domain.FailureRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		content:  make(map[domain.AssetID][]byte),
		digests:  make(map[domain.AssetID]string),
		failures: make(map[domain.ActionID]domain.FailureRecord),
	}
}

func (s *Store) Get(ctx context.Context, id domain.AssetID) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.content[id]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, true, nil
}

func (s *Store) Put(ctx context.Context, id domain.AssetID, data []byte, digest string) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.content[id] = cp
	s.digests[id] = digest
	return nil
}

func (s *Store) Digest(ctx context.Context, id domain.AssetID) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	digest, ok := s.digests[id]
	return digest, ok, nil
}

func (s *Store) PutDigest(ctx context.Context, id domain.AssetID, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digests[id] = digest
	return nil
}

func (s *Store) PutFailure(ctx context.Context, rec domain.FailureRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[rec.ActionID] = rec
	return nil
}

func (s *Store) Failure(ctx context.Context, id domain.ActionID) (*domain.FailureRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.failures[id]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *Store) DeleteFailure(ctx context.Context, id domain.ActionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, id)
	return nil
}

func (s *Store) EvictAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.content = make(map[domain.AssetID][]byte)
	s.digests = make(map[domain.AssetID]string)
	s.failures = make(map[domain.ActionID]domain.FailureRecord)
	return nil
}
