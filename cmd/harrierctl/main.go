// Harrier - Fraud scoring for card transactions with explainable risk.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Command harrierctl scores, explains and benchmarks CSV files offline with a
// model artifact, without a running server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/model"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

// Version information (set via ldflags)
var (
	Version = "dev"
	Commit  = "none"
)

// Flag names shared by the commands.
const (
	flagModel     = "model"
	flagWorkers   = "workers"
	flagDebug     = "debug"
	flagFormat    = "format"
	flagInput     = "input"
	flagThreshold = "threshold"
)

// Flags and commands are built per application so repeated runs never share
// parsed state.
func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     flagModel,
			Aliases:  []string{"m"},
			Usage:    "Path to the YAML or JSON model artifact",
			Sources:  cli.EnvVars("HARRIER_MODEL_PATH"),
			Required: true,
		},
		&cli.IntFlag{
			Name:  flagWorkers,
			Usage: "Parallel scoring workers",
			Value: 4,
		},
		&cli.BoolFlag{
			Name:  flagDebug,
			Usage: "Prints verbose logs",
		},
		&cli.StringFlag{
			Name:  flagFormat,
			Usage: "Report format [text, json, yaml]",
			Value: formatText,
		},
	}
}

func inputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    flagInput,
		Aliases: []string{"i"},
		Usage:   "CSV file to read, - for stdin",
		Value:   "-",
	}
}

func thresholdFlag() cli.Flag {
	return &cli.FloatFlag{
		Name:  flagThreshold,
		Usage: "Fraud probability cutoff, within (0, 1)",
		Value: domain.DefaultThreshold,
	}
}

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "harrierctl",
		Usage:   "Score, explain and benchmark transactions with a Harrier model",
		Version: fmt.Sprintf("%s (%s)", Version, Commit),
		Flags:   rootFlags(),
		Commands: []*cli.Command{
			scoreCommand(),
			explainCommand(),
			benchmarkCommand(),
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			initLogging(cmd.Root().ErrWriter, cmd.Bool(flagDebug))
			return ctx, nil
		},
	}
}

func initLogging(w io.Writer, debug bool) {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// loadPipeline builds a pipeline around the --model artifact.
func loadPipeline(cmd *cli.Command) (*pipeline.Pipeline, error) {
	artifact, err := model.LoadFile(cmd.String(flagModel))
	if err != nil {
		return nil, err
	}
	params, err := model.FromArtifact(artifact)
	if err != nil {
		return nil, err
	}
	slog.Debug("model loaded", "version", params.Version(), "features", params.Dim())
	return pipeline.New(params, int(cmd.Int(flagWorkers))), nil
}

// readTable reads the --input table.
func readTable(cmd *cli.Command) (*features.Table, error) {
	path := cmd.String(flagInput)
	if path == "" || path == "-" {
		return features.ReadTable(cmd.Root().Reader)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()
	return features.ReadTable(f)
}

// writeReport encodes v as JSON or YAML, or calls text for the text format.
func writeReport(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML, "yml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		return enc.Encode(v)
	case formatText, "":
		return text(w)
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
