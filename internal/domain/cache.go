package domain

import (
	"context"
	"time"
)

// Cache holds batch sessions: the validated input of a scored batch, kept
// per tenant for a limited time. All methods require tenantID.
type Cache interface {
	// GetBatch retrieves a cached batch session. Returns nil, nil on miss
	// or after the session expired.
	GetBatch(ctx context.Context, tenantID string, batchID string) (*BatchSnapshot, error)

	// SetBatch caches the validated records of a batch for ttl.
	SetBatch(ctx context.Context, tenantID string, snapshot *BatchSnapshot, ttl time.Duration) error

	// DeleteBatch discards a batch session. Deleting an unknown batch is
	// not an error.
	DeleteBatch(ctx context.Context, tenantID string, batchID string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// BatchSnapshot holds the validated input of a scored batch so it can be
// re-thresholded or explained later. It carries no scores or labels.
type BatchSnapshot struct {
	ID           string        `json:"id"`
	TenantID     string        `json:"tenantId"`
	ModelVersion string        `json:"modelVersion"`
	Features     []string      `json:"features"`
	Rows         []SnapshotRow `json:"rows"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// SnapshotRow is the serialised form of a TransactionRecord.
type SnapshotRow struct {
	Index  int       `json:"i"`
	Values []float64 `json:"v"`
}

// NewBatchSnapshot captures records in serialisable form.
func NewBatchSnapshot(id, tenantID, modelVersion string, schema *FeatureSchema, records []TransactionRecord) *BatchSnapshot {
	rows := make([]SnapshotRow, len(records))
	for i, r := range records {
		rows[i] = SnapshotRow{Index: r.Index, Values: r.Features()}
	}
	return &BatchSnapshot{
		ID:           id,
		TenantID:     tenantID,
		ModelVersion: modelVersion,
		Features:     schema.Names(),
		Rows:         rows,
		CreatedAt:    time.Now().UTC(),
	}
}

// Records rebuilds the transaction records.
func (b *BatchSnapshot) Records() []TransactionRecord {
	out := make([]TransactionRecord, len(b.Rows))
	for i, row := range b.Rows {
		out[i] = NewTransactionRecord(row.Index, row.Values)
	}
	return out
}

// CacheConfig holds configuration for cache initialization.
type CacheConfig struct {
	// Type is the cache type: "memory" or "redis"
	Type string `envconfig:"TYPE"`

	// Local LRU cache settings (Community tier)
	LocalMaxSize int           `envconfig:"LOCAL_MAX_SIZE"`
	LocalTTL     time.Duration `envconfig:"LOCAL_TTL"`

	// Redis settings (Pro tier)
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB"`

	// Two-phase settings
	EnableTwoPhase bool `envconfig:"TWO_PHASE"` // If true, check local first, then Redis

	// BatchTTL is how long a scored batch stays available for re-thresholding
	// and explanation.
	BatchTTL time.Duration `envconfig:"BATCH_TTL"`
}
