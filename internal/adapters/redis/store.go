// Package redis implements ports.CacheStore on Redis, for sharing a build
// cache between machines or CI runs.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/kilnbuild/kiln/pkg/domain"
)

// Store implements ports.CacheStore using Redis.
//
// Key layout under the prefix:
//
//	content:<asset>   generated bytes
//	digest:<asset>    recorded digest
//	failure:<action>  JSON failure record
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for cache entries. Zero means no expiration.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for cache entries.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "kiln:",
		ttl:    0, // No expiration by default
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

func (s *Store) contentKey(id domain.AssetID) string {
	return s.prefix + "content:" + id.String()
}

func (s *Store) digestKey(id domain.AssetID) string {
	return s.prefix + "digest:" + id.String()
}

func (s *Store) failureKey(id domain.ActionID) string {
	return s.prefix + "failure:" + id.String()
}

func (s *Store) Get(ctx context.Context, id domain.AssetID) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.contentKey(id)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get from redis: %w", err)
	}
	return val, true, nil
}

// Put writes content and digest in one pipeline so a reader never sees
// content without its digest.
func (s *Store) Put(ctx context.Context, id domain.AssetID, data []byte, digest string) error {
	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.contentKey(id), data, s.ttl)
	pipe.Set(ctx, s.digestKey(id), digest, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *Store) Digest(ctx context.Context, id domain.AssetID) (string, bool, error) {
	val, err := s.client.Get(ctx, s.digestKey(id)).Result()
	if err != nil {
		if err == backend.Nil {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get from redis: %w", err)
	}
	return val, true, nil
}

func (s *Store) PutDigest(ctx context.Context, id domain.AssetID, digest string) error {
	if err := s.client.Set(ctx, s.digestKey(id), digest, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *Store) PutFailure(ctx context.Context, rec domain.FailureRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal failure record: %w", err)
	}
	if err := s.client.Set(ctx, s.failureKey(rec.ActionID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save to redis: %w", err)
	}
	return nil
}

func (s *Store) Failure(ctx context.Context, id domain.ActionID) (*domain.FailureRecord, bool, error) {
	val, err := s.client.Get(ctx, s.failureKey(id)).Result()
	if err != nil {
		if err == backend.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get from redis: %w", err)
	}

	var rec domain.FailureRecord
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal failure record: %w", err)
	}
	return &rec, true, nil
}

func (s *Store) DeleteFailure(ctx context.Context, id domain.ActionID) error {
	return s.client.Del(ctx, s.failureKey(id)).Err()
}

// EvictAll removes everything under the prefix using cursor-based SCAN, so
// a shared Redis instance holding unrelated keys is untouched.
func (s *Store) EvictAll(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 256).Result()
		if err != nil {
			return fmt.Errorf("failed to scan redis: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to evict from redis: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
