// Package config assembles the runtime configuration from tier defaults,
// an optional .env file and HARRIER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Prefix is the environment variable prefix for every setting.
const Prefix = "HARRIER"

// DefaultEnvFile is read when present. A missing file is not an error.
const DefaultEnvFile = ".env"

// Load builds the configuration. The tier defaults are selected by
// HARRIER_TIER, then any HARRIER_* variable overrides its field, e.g.
// HARRIER_SERVER_PORT, HARRIER_MODEL_PATH or HARRIER_CACHE_BATCH_TTL.
func Load(envFiles ...string) (*domain.Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	cfg := domain.DefaultConfig()
	if domain.Tier(strings.ToLower(os.Getenv(Prefix+"_TIER"))) == domain.TierPro {
		cfg = domain.ProConfig()
	}

	if err := envconfig.Process(Prefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if os.Getenv(Prefix+"_DEBUG") == "true" {
		cfg.Logging.Level = "debug"
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that would otherwise fail late at request time.
func Validate(cfg *domain.Config) error {
	s := cfg.Scoring
	if !(s.DefaultThreshold > 0 && s.DefaultThreshold < 1) {
		return fmt.Errorf("scoring default threshold %v must be within (0, 1)", s.DefaultThreshold)
	}
	if s.DefaultTopK < 0 {
		return fmt.Errorf("scoring default topK must be non-negative, got %d", s.DefaultTopK)
	}
	if s.DefaultTopN < 0 {
		return fmt.Errorf("scoring default topN must be non-negative, got %d", s.DefaultTopN)
	}
	if s.ReviewQueueSize < 1 {
		return fmt.Errorf("scoring review queue size must be at least 1, got %d", s.ReviewQueueSize)
	}
	if s.MaxWorkers < 1 {
		return fmt.Errorf("scoring max workers must be at least 1, got %d", s.MaxWorkers)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port %d is out of range", cfg.Server.Port)
	}
	return nil
}
