// Package state persists incremental-export checkpoints so repeated runs can
// fetch only what changed since the last successful export.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DocumentStore persists the whole checkpoint document as one blob. Load
// returns (nil, nil) when no document exists yet.
type DocumentStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Close() error
}

// --------------------------------------------------------------------------
// File-backed store
// --------------------------------------------------------------------------

// FileDocumentStore keeps the document in a single JSON file. Writes are
// atomic (temp file plus rename).
type FileDocumentStore struct {
	path string
}

// NewFileDocumentStore creates a store at path, creating parent directories.
func NewFileDocumentStore(path string) (*FileDocumentStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}
	return &FileDocumentStore{path: path}, nil
}

func (s *FileDocumentStore) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state file %s: %w", s.path, err)
	}
	return data, nil
}

func (s *FileDocumentStore) Save(_ context.Context, data []byte) error {
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("committing state file: %w", err)
	}
	return nil
}

func (s *FileDocumentStore) Close() error { return nil }

// --------------------------------------------------------------------------
// Redis-backed store
// --------------------------------------------------------------------------

// redisStateKey is the single key the checkpoint document lives under.
const redisStateKey = "reposcribe:state"

// RedisDocumentStore keeps the document under one Redis key, for deployments
// where multiple hosts share export state.
type RedisDocumentStore struct {
	client *redis.Client
}

// NewRedisDocumentStore connects to the Redis instance given by url
// (redis://... form) and verifies the connection.
func NewRedisDocumentStore(ctx context.Context, url string) (*RedisDocumentStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisDocumentStore{client: client}, nil
}

func (s *RedisDocumentStore) Load(ctx context.Context) ([]byte, error) {
	data, err := s.client.Get(ctx, redisStateKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading state from redis: %w", err)
	}
	return data, nil
}

func (s *RedisDocumentStore) Save(ctx context.Context, data []byte) error {
	if err := s.client.Set(ctx, redisStateKey, data, 0).Err(); err != nil {
		return fmt.Errorf("saving state to redis: %w", err)
	}
	return nil
}

func (s *RedisDocumentStore) Close() error {
	return s.client.Close()
}

// --------------------------------------------------------------------------
// In-memory store
// --------------------------------------------------------------------------

// MemoryDocumentStore holds the document in memory. Used in tests.
type MemoryDocumentStore struct {
	mu   sync.Mutex
	data []byte
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{}
}

func (s *MemoryDocumentStore) Load(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return nil, nil
	}
	out := make([]byte, len(s.data))
	copy(out, s.data)
	return out, nil
}

func (s *MemoryDocumentStore) Save(_ context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make([]byte, len(data))
	copy(s.data, data)
	return nil
}

func (s *MemoryDocumentStore) Close() error { return nil }
