// Package file provides the default on-disk CacheStore: generated content
// under a cache directory plus a JSON digest/status ledger.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"github.com/kilnbuild/kiln/pkg/domain"
)

const ledgerName = "ledger.json"

// ledger is the persisted digest/status state keyed by AssetID. Failure
// records are part of the ledger so failed actions replay across runs.
type ledger struct {
	Digests  map[string]string               `json:"digests"`
	Failures map[string]domain.FailureRecord `json:"failures"`
}

// Store implements ports.CacheStore on the local filesystem.
// Layout under BasePath:
//
//	content/<package>/<path>   generated asset bytes
//	ledger.json                digest + failure ledger
//
// All writes are atomic (rename-into-place), so readers never observe a
// partially written entry.
type Store struct {
	BasePath string

	mu     sync.Mutex
	loaded bool
	state  ledger
}

// NewStore creates a file store rooted at basePath. If basePath is empty,
// it defaults to ".kiln/cache".
func NewStore(basePath string) *Store {
	if basePath == "" {
		basePath = filepath.Join(".kiln", "cache")
	}
	return &Store{BasePath: basePath}
}

func (s *Store) contentPath(id domain.AssetID) string {
	return filepath.Join(s.BasePath, "content", id.Package, filepath.FromSlash(id.Path))
}

func (s *Store) Get(ctx context.Context, id domain.AssetID) ([]byte, bool, error) {
	data, err := os.ReadFile(s.contentPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("reading cached asset %s: %w", id, err)
	}
	return data, true, nil
}

func (s *Store) Put(ctx context.Context, id domain.AssetID, data []byte, digest string) error {
	path := s.contentPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensuring cache directory: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing cached asset %s: %w", id, err)
	}

	return s.updateLedger(func(l *ledger) {
		l.Digests[id.String()] = digest
	})
}

func (s *Store) Digest(ctx context.Context, id domain.AssetID) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return "", false, err
	}
	digest, ok := s.state.Digests[id.String()]
	return digest, ok, nil
}

func (s *Store) PutDigest(ctx context.Context, id domain.AssetID, digest string) error {
	return s.updateLedger(func(l *ledger) {
		l.Digests[id.String()] = digest
	})
}

func (s *Store) PutFailure(ctx context.Context, rec domain.FailureRecord) error {
	return s.updateLedger(func(l *ledger) {
		l.Failures[rec.ActionID.String()] = rec
	})
}

func (s *Store) Failure(ctx context.Context, id domain.ActionID) (*domain.FailureRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, false, err
	}
	rec, ok := s.state.Failures[id.String()]
	if !ok {
		return nil, false, nil
	}
	return &rec, true, nil
}

func (s *Store) DeleteFailure(ctx context.Context, id domain.ActionID) error {
	return s.updateLedger(func(l *ledger) {
		delete(l.Failures, id.String())
	})
}

// EvictAll discards content and ledger together: skip/replay decisions must
// never survive their backing content.
func (s *Store) EvictAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.RemoveAll(s.BasePath); err != nil {
		return fmt.Errorf("evicting cache: %w", err)
	}
	s.state = ledger{
		Digests:  make(map[string]string),
		Failures: make(map[string]domain.FailureRecord),
	}
	s.loaded = true
	return nil
}

// load reads the ledger once. Callers hold s.mu.
func (s *Store) load() error {
	if s.loaded {
		return nil
	}
	s.state = ledger{
		Digests:  make(map[string]string),
		Failures: make(map[string]domain.FailureRecord),
	}

	data, err := os.ReadFile(filepath.Join(s.BasePath, ledgerName))
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("reading ledger: %w", err)
	}
	if err := json.Unmarshal(data, &s.state); err != nil {
		// A corrupt ledger is recoverable: treat everything as never
		// built rather than refusing to build at all.
		s.state = ledger{}
	}
	if s.state.Digests == nil {
		s.state.Digests = make(map[string]string)
	}
	if s.state.Failures == nil {
		s.state.Failures = make(map[string]domain.FailureRecord)
	}
	s.loaded = true
	return nil
}

func (s *Store) updateLedger(mutate func(*ledger)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	mutate(&s.state)
	return s.flush()
}

// flush writes the ledger atomically. Callers hold s.mu.
func (s *Store) flush() error {
	if err := os.MkdirAll(s.BasePath, 0o755); err != nil {
		return fmt.Errorf("ensuring cache directory: %w", err)
	}
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	if err := renameio.WriteFile(filepath.Join(s.BasePath, ledgerName), data, 0o644); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	return nil
}
