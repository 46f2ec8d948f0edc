package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
	"github.com/opensource-finance/harrier/internal/pipeline"
)

// Columns appended to the scored CSV.
const (
	columnProbability = "fraud_prob"
	columnPrediction  = "prediction"
)

func scoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "score",
		Usage: "Score a CSV file and write it back with fraud_prob and prediction columns",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "File to write the scored CSV to, - for stdout",
				Value:   "-",
			},
			thresholdFlag(),
			&cli.IntFlag{
				Name:  "top-k",
				Usage: "Riskiest transactions listed in the summary",
				Value: domain.DefaultTopK,
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: `CEL predicate restricting the listing, e.g. "Amount > 100.0"`,
			},
		},
		Action: runScore,
	}
}

func runScore(ctx context.Context, cmd *cli.Command) error {
	p, err := loadPipeline(cmd)
	if err != nil {
		return err
	}

	cfg := domain.DefaultRequestConfig()
	cfg.Threshold = cmd.Float(flagThreshold)
	cfg.TopK = int(cmd.Int("top-k"))
	cfg.Filter = cmd.String("filter")
	if _, err := p.CheckConfig(cfg); err != nil {
		return err
	}

	table, err := readTable(cmd)
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, table.Records(), cfg)
	if err != nil {
		return err
	}

	out := cmd.Root().Writer
	if path := cmd.String("output"); path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := writeScored(out, table, res.Scored); err != nil {
		return err
	}
	return printSummary(cmd.Root().ErrWriter, res, cfg.Filter)
}

// writeScored writes the input table with the probability and label of each
// row appended.
func writeScored(w io.Writer, table *features.Table, scored []domain.ScoredTransaction) error {
	cw := csv.NewWriter(w)

	header := append(append([]string{}, table.Header...), columnProbability, columnPrediction)
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, cells := range table.Rows {
		st := scored[i]
		row := append(append([]string{}, cells...),
			strconv.FormatFloat(st.FraudProbability, 'g', -1, 64),
			strconv.Itoa(int(st.Label)),
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func printSummary(w io.Writer, res *pipeline.Result, filter string) error {
	s := res.Summary
	fmt.Fprintf(w, "model %s: %d transactions, %d flagged (%.2f%%) at threshold %.2f\n",
		res.ModelVersion, s.Total, s.Flagged, s.FlaggedPercent, s.Threshold)

	if len(res.Ranked.Items) == 0 {
		return nil
	}
	if filter != "" {
		fmt.Fprintf(w, "top %d of %d matching %q:\n", len(res.Ranked.Items), res.Ranked.Total, filter)
	} else {
		fmt.Fprintf(w, "top %d of %d:\n", len(res.Ranked.Items), res.Ranked.Total)
	}
	for rank, st := range res.Ranked.Items {
		fmt.Fprintf(w, "  %3d. row %-8d %.6f  %d\n", rank+1, st.Index(), st.FraudProbability, st.Label)
	}
	return nil
}
