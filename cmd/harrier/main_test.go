package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/repository"
)

func newRepo(t *testing.T) domain.ModelRepository {
	t.Helper()
	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "models.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func writeModel(t *testing.T, version string) string {
	t.Helper()
	var b strings.Builder
	fmt.Fprintf(&b, "version: %s\nlink: logistic\nbias: -2\nweights:\n", version)
	for _, name := range domain.CreditCardSchema().Names() {
		w := 0.0
		if name == domain.FeatureAmount {
			w = 0.01
		}
		fmt.Fprintf(&b, "  %s: %v\n", name, w)
	}
	path := filepath.Join(t.TempDir(), "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestLoadModelFromFileRegistersAndActivates(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	params, err := loadModel(ctx, domain.ModelConfig{Path: writeModel(t, "lr-2024")}, repo)
	require.NoError(t, err)
	assert.Equal(t, "lr-2024", params.Version())
	assert.Equal(t, -2.0, params.Bias())

	active, err := repo.GetActiveModel(ctx)
	require.NoError(t, err)
	assert.Equal(t, "lr-2024", active.Version)
}

func TestLoadModelFromRegistry(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	_, err := loadModel(ctx, domain.ModelConfig{}, repo)
	require.ErrorIs(t, err, domain.ErrModelNotLoaded)

	_, err = loadModel(ctx, domain.ModelConfig{Path: writeModel(t, "v1")}, repo)
	require.NoError(t, err)

	params, err := loadModel(ctx, domain.ModelConfig{}, repo)
	require.NoError(t, err)
	assert.Equal(t, "v1", params.Version())

	params, err = loadModel(ctx, domain.ModelConfig{Version: "v1"}, repo)
	require.NoError(t, err)
	assert.Equal(t, "v1", params.Version())

	_, err = loadModel(ctx, domain.ModelConfig{Version: "v9"}, repo)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLoadModelRejectsInvalidFile(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: bad\nlink: probit\nweights: {}\n"), 0o644))

	_, err := loadModel(ctx, domain.ModelConfig{Path: path}, repo)
	require.Error(t, err)

	models, err := repo.ListModels(ctx)
	require.NoError(t, err)
	assert.Empty(t, models, "an invalid artifact must not be registered")

	_, err = loadModel(ctx, domain.ModelConfig{Path: filepath.Join(t.TempDir(), "missing.yaml")}, repo)
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, domain.LoggingConfig{Level: "warn", Format: "json"})
	logger.Info("hidden")
	logger.Warn("shown", "batch_id", "b-1")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"batch_id":"b-1"`)

	buf.Reset()
	logger = newLogger(&buf, domain.LoggingConfig{Level: "debug", Format: "text"})
	logger.Debug("details")
	assert.Contains(t, buf.String(), "msg=details")
}

func TestPrintBanner(t *testing.T) {
	var buf bytes.Buffer
	printBanner(&buf, domain.DefaultConfig(), "1.2.3", nil)
	assert.Contains(t, buf.String(), "none (degraded)")
	assert.Contains(t, buf.String(), "http://0.0.0.0:8080")
}
