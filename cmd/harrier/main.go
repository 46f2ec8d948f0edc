// Harrier - Fraud scoring for card transactions with explainable risk.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/pipeline"
	"github.com/opensource-finance/harrier/internal/repository"
	"github.com/opensource-finance/harrier/internal/review"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg, err := config.Load(config.DefaultEnvFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(os.Stdout, cfg.Logging))

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)

	slog.Info("configuration loaded",
		"tier", cfg.Tier,
		"repository", cfg.Repository.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
		"max_workers", cfg.Scoring.MaxWorkers,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize model registry
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to initialize repository", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	// Initialize batch session cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type, "batch_ttl", cfg.Cache.BatchTTL)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Load the model once; it is never reloaded while the process runs.
	params, err := loadModel(ctx, cfg.Model, repo)
	switch {
	case errors.Is(err, domain.ErrModelNotLoaded):
		slog.Warn("no model available, serving in degraded mode - register one via POST /models and restart")
	case err != nil:
		slog.Error("failed to load model", "error", err)
		os.Exit(1)
	default:
		slog.Info("model loaded",
			"version", params.Version(),
			"features", params.Dim(),
			"bias", params.Bias(),
		)
	}

	p := pipeline.New(params, cfg.Scoring.MaxWorkers)
	dispatcher := review.NewDispatcher(busImpl, cfg.Scoring.ReviewLimit)

	sink := review.NewSink(busImpl, cfg.Scoring.ReviewQueueSize)
	if err := sink.Start(ctx); err != nil {
		slog.Error("failed to start review sink", "error", err)
		os.Exit(1)
	}
	defer sink.Stop()

	srv := api.NewServer(cfg, p, repo, cacheImpl, dispatcher, sink, Version)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	printBanner(os.Stdout, cfg, Version, params)

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

// loadModel resolves the startup model. A configured file is registered and
// activated first; otherwise the configured version, or the active one, is
// read from the registry. domain.ErrModelNotLoaded means nothing is available.
func loadModel(ctx context.Context, cfg domain.ModelConfig, repo domain.ModelRepository) (*domain.ModelParameters, error) {
	var artifact *domain.ModelArtifact

	switch {
	case cfg.Path != "":
		a, err := model.LoadFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		// Validate before the artifact reaches the registry.
		if _, err := model.FromArtifact(a); err != nil {
			return nil, err
		}
		if err := repo.SaveModel(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to register model %s: %w", a.Version, err)
		}
		if err := repo.ActivateModel(ctx, a.Version); err != nil {
			return nil, fmt.Errorf("failed to activate model %s: %w", a.Version, err)
		}
		slog.Info("model registered from file", "path", cfg.Path, "version", a.Version)
		artifact = a

	case cfg.Version != "":
		a, err := repo.GetModel(ctx, cfg.Version)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("model %s is not registered: %w", cfg.Version, err)
		}
		if err != nil {
			return nil, err
		}
		artifact = a

	default:
		a, err := repo.GetActiveModel(ctx)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, domain.ErrModelNotLoaded
		}
		if err != nil {
			return nil, err
		}
		artifact = a
	}

	return model.FromArtifact(artifact)
}

func newLogger(w io.Writer, cfg domain.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func printBanner(w io.Writer, cfg *domain.Config, version string, params *domain.ModelParameters) {
	modelVersion := "none (degraded)"
	if params != nil {
		modelVersion = params.Version()
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "  +-------------------------------------------+")
	fmt.Fprintln(w, "  |                 HARRIER                   |")
	fmt.Fprintln(w, "  |       Card Transaction Fraud Scoring      |")
	fmt.Fprintln(w, "  |    Every score comes with its reasons.    |")
	fmt.Fprintln(w, "  +-------------------------------------------+")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Version:  %s\n", version)
	fmt.Fprintf(w, "  Tier:     %s\n", cfg.Tier)
	fmt.Fprintf(w, "  Model:    %s\n", modelVersion)
	fmt.Fprintf(w, "  Server:   http://%s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  Endpoints:")
	fmt.Fprintln(w, "    POST /score                          - Score a JSON or CSV batch")
	fmt.Fprintln(w, "    POST /batches/{id}/classify          - Re-threshold a scored batch")
	fmt.Fprintln(w, "    GET  /batches/{id}/explain/{index}   - Explain one transaction")
	fmt.Fprintln(w, "    GET  /schema                         - Expected input columns")
	fmt.Fprintln(w, "    GET  /model                          - Loaded model")
	fmt.Fprintln(w, "    GET  /models                         - Registered models")
	fmt.Fprintln(w, "    POST /models                         - Register a model artifact")
	fmt.Fprintln(w, "    GET  /health                         - Health check")
	fmt.Fprintln(w, "    GET  /metrics                        - Prometheus metrics")
	fmt.Fprintln(w)
}
