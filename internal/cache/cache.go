// Package cache holds batch sessions between a scoring request and the
// follow-up re-threshold and explain calls.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// store is the byte-level contract shared by the cache layers.
// Get returns nil, nil on a miss.
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// expiringStore also reports how long a value has left to live. A
// non-positive remaining duration means the store keeps it indefinitely.
type expiringStore interface {
	store
	GetWithTTL(ctx context.Context, key string) ([]byte, time.Duration, error)
}

// New creates a batch session cache based on configuration.
// "memory" keeps sessions in a local LRU. "redis" shares them through
// Redis, fronted by a local LRU when two-phase caching is enabled.
func New(cfg domain.CacheConfig) (*BatchCache, error) {
	switch cfg.Type {
	case "memory":
		return NewMemory(cfg.LocalMaxSize), nil

	case "redis":
		remote, err := NewRedisStore(cfg)
		if err != nil {
			return nil, err
		}
		if !cfg.EnableTwoPhase {
			return newBatchCache(remote), nil
		}
		return newBatchCache(newTwoPhase(NewLRU(cfg.LocalMaxSize), remote, cfg.LocalTTL)), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// NewMemory returns a process-local batch cache holding at most maxSize
// sessions.
func NewMemory(maxSize int) *BatchCache {
	return newBatchCache(NewLRU(maxSize))
}

// BatchCache implements domain.Cache on top of a byte store. Sessions are
// stored as JSON under a tenant-scoped key.
type BatchCache struct {
	store store
}

func newBatchCache(s store) *BatchCache {
	return &BatchCache{store: s}
}

// GetBatch retrieves a batch session.
func (c *BatchCache) GetBatch(ctx context.Context, tenantID string, batchID string) (*domain.BatchSnapshot, error) {
	key, err := batchKey(tenantID, batchID)
	if err != nil {
		return nil, err
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %w", batchID, err)
	}
	if data == nil {
		return nil, nil
	}

	var snapshot domain.BatchSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode batch %s: %w", batchID, err)
	}
	return &snapshot, nil
}

// SetBatch stores a batch session for ttl.
func (c *BatchCache) SetBatch(ctx context.Context, tenantID string, snapshot *domain.BatchSnapshot, ttl time.Duration) error {
	if snapshot == nil || snapshot.ID == "" {
		return fmt.Errorf("batch snapshot requires an id")
	}
	if ttl <= 0 {
		return fmt.Errorf("batch %s: ttl must be positive, got %s", snapshot.ID, ttl)
	}
	key, err := batchKey(tenantID, snapshot.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode batch %s: %w", snapshot.ID, err)
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		return fmt.Errorf("failed to write batch %s: %w", snapshot.ID, err)
	}
	return nil
}

// DeleteBatch discards a batch session.
func (c *BatchCache) DeleteBatch(ctx context.Context, tenantID string, batchID string) error {
	key, err := batchKey(tenantID, batchID)
	if err != nil {
		return err
	}
	return c.store.Delete(ctx, key)
}

// Ping checks the underlying store.
func (c *BatchCache) Ping(ctx context.Context) error {
	return c.store.Ping(ctx)
}

// Close releases the underlying store.
func (c *BatchCache) Close() error {
	return c.store.Close()
}

func batchKey(tenantID, batchID string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenantID is required")
	}
	if batchID == "" {
		return "", fmt.Errorf("batchID is required")
	}
	return tenantID + ":batch:" + batchID, nil
}
