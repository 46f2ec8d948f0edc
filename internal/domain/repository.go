// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// ModelRepository stores fitted model artifacts.
// Scored results are never persisted.
type ModelRepository interface {
	// SaveModel inserts or replaces an artifact by version.
	SaveModel(ctx context.Context, model *ModelArtifact) error
	GetModel(ctx context.Context, version string) (*ModelArtifact, error)
	ListModels(ctx context.Context) ([]*ModelArtifact, error)

	// GetActiveModel returns the artifact marked active.
	GetActiveModel(ctx context.Context) (*ModelArtifact, error)

	// ActivateModel marks one version active and clears the flag on the rest.
	ActivateModel(ctx context.Context, version string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `envconfig:"DRIVER"`

	// SQLite specific
	SQLitePath string `envconfig:"SQLITE_PATH"`

	// PostgreSQL specific. PostgresDSN, when set, wins over the discrete fields.
	PostgresDSN      string `envconfig:"POSTGRES_DSN"`
	PostgresHost     string `envconfig:"POSTGRES_HOST"`
	PostgresPort     int    `envconfig:"POSTGRES_PORT"`
	PostgresUser     string `envconfig:"POSTGRES_USER"`
	PostgresPassword string `envconfig:"POSTGRES_PASSWORD"`
	PostgresDB       string `envconfig:"POSTGRES_DB"`
	PostgresSSLMode  string `envconfig:"POSTGRES_SSLMODE"`

	// Connection pool settings
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME"`
}
