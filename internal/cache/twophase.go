package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// twoPhase reads a local LRU (L1) before Redis (L2). L2 is shared by all
// replicas.
type twoPhase struct {
	local  *LRU
	remote expiringStore
	l1TTL  time.Duration
}

func newTwoPhase(local *LRU, remote expiringStore, l1TTL time.Duration) *twoPhase {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &twoPhase{local: local, remote: remote, l1TTL: l1TTL}
}

// Get reads L1, then L2. An L2 hit is copied into L1 for at most the
// time it has left in L2.
func (c *twoPhase) Get(ctx context.Context, key string) ([]byte, error) {
	if val, _ := c.local.Get(ctx, key); val != nil {
		return val, nil
	}

	val, remaining, err := c.remote.GetWithTTL(ctx, key)
	if err != nil || val == nil {
		return nil, err
	}
	ttl := c.l1TTL
	if remaining > 0 {
		ttl = min(ttl, remaining)
	}
	_ = c.local.Set(ctx, key, val, ttl)
	return val, nil
}

// Set writes L2, then L1. L1 never outlives the requested TTL.
func (c *twoPhase) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.remote.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return c.local.Set(ctx, key, value, min(ttl, c.l1TTL))
}

// Delete removes from both layers.
func (c *twoPhase) Delete(ctx context.Context, key string) error {
	_ = c.local.Delete(ctx, key)
	return c.remote.Delete(ctx, key)
}

func (c *twoPhase) Ping(ctx context.Context) error {
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

func (c *twoPhase) Close() error {
	size, capacity := c.local.Stats()
	slog.Debug("closing two-phase cache", "l1_size", size, "l1_capacity", capacity)
	_ = c.local.Close()
	return c.remote.Close()
}
