// Package repository stores fitted model artifacts in SQLite or PostgreSQL.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.ModelRepository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.ModelRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveModel inserts an artifact or replaces the one with the same version.
// The active flag is left untouched on replace; use ActivateModel.
func (r *SQLRepository) SaveModel(ctx context.Context, model *domain.ModelArtifact) error {
	if model == nil || strings.TrimSpace(model.Version) == "" {
		return fmt.Errorf("%w: model version is required", ErrInvalidInput)
	}
	if len(model.Weights) == 0 {
		return fmt.Errorf("%w: model %s has no weights", ErrInvalidInput, model.Version)
	}

	features, err := json.Marshal(model.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}
	weights, err := json.Marshal(model.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights: %w", err)
	}

	link := model.Link
	if link == "" {
		link = domain.LinkLogistic
	}

	createdAt := model.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO models (version, link, features, weights, bias, active, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(version) DO UPDATE SET
			link = excluded.link,
			features = excluded.features,
			weights = excluded.weights,
			bias = excluded.bias
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		model.Version, link, string(features), string(weights), model.Bias, createdAt,
	)
	return err
}

// GetModel retrieves an artifact by version.
func (r *SQLRepository) GetModel(ctx context.Context, version string) (*domain.ModelArtifact, error) {
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidInput)
	}

	query := `
		SELECT version, link, features, weights, bias, active, created_at
		FROM models
		WHERE version = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, r.rebind(query), version))
}

// GetActiveModel retrieves the artifact marked active.
func (r *SQLRepository) GetActiveModel(ctx context.Context) (*domain.ModelArtifact, error) {
	query := `
		SELECT version, link, features, weights, bias, active, created_at
		FROM models
		WHERE active = 1
		LIMIT 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query))
}

// ListModels returns every artifact, newest first.
func (r *SQLRepository) ListModels(ctx context.Context) ([]*domain.ModelArtifact, error) {
	query := `
		SELECT version, link, features, weights, bias, active, created_at
		FROM models
		ORDER BY created_at DESC, version
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var models []*domain.ModelArtifact
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		models = append(models, m)
	}

	return models, rows.Err()
}

// ActivateModel marks one version active and clears every other.
func (r *SQLRepository) ActivateModel(ctx context.Context, version string) error {
	if version == "" {
		return fmt.Errorf("%w: version is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, r.rebind(`UPDATE models SET active = 1 WHERE version = ?`), version)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`UPDATE models SET active = 0 WHERE version <> ?`), version); err != nil {
		return err
	}

	return tx.Commit()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scanOne(row *sql.Row) (*domain.ModelArtifact, error) {
	m, err := scanModel(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return m, err
}

func scanModel(s scanner) (*domain.ModelArtifact, error) {
	var m domain.ModelArtifact
	var features, weights string
	var active int

	if err := s.Scan(&m.Version, &m.Link, &features, &weights, &m.Bias, &active, &m.CreatedAt); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(features), &m.Features); err != nil {
		return nil, fmt.Errorf("failed to parse features of model %s: %w", m.Version, err)
	}
	if err := json.Unmarshal([]byte(weights), &m.Weights); err != nil {
		return nil, fmt.Errorf("failed to parse weights of model %s: %w", m.Version, err)
	}
	m.Active = active == 1

	return &m, nil
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
		} else {
			b.WriteByte(query[i])
		}
	}
	return b.String()
}
