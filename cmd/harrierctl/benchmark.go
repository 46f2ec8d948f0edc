package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/harrier/internal/decision"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/features"
)

// ClassColumn holds the known label in benchmark files: 1 is fraud.
const ClassColumn = "Class"

func benchmarkCommand() *cli.Command {
	return &cli.Command{
		Name:  "benchmark",
		Usage: "Compare predictions with the Class column of a labelled CSV file",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.StringFlag{
				Name:  "thresholds",
				Usage: "Comma separated thresholds to evaluate",
				Value: "0.5",
			},
		},
		Action: runBenchmark,
	}
}

// Confusion is the outcome of one threshold against the known labels.
type Confusion struct {
	Threshold      float64 `json:"threshold" yaml:"threshold"`
	TruePositives  int     `json:"truePositives" yaml:"true_positives"`
	FalsePositives int     `json:"falsePositives" yaml:"false_positives"`
	TrueNegatives  int     `json:"trueNegatives" yaml:"true_negatives"`
	FalseNegatives int     `json:"falseNegatives" yaml:"false_negatives"`
	Precision      float64 `json:"precision" yaml:"precision"`
	Recall         float64 `json:"recall" yaml:"recall"`
	F1             float64 `json:"f1" yaml:"f1"`
	Accuracy       float64 `json:"accuracy" yaml:"accuracy"`
}

// Report is the benchmark outcome across thresholds.
type Report struct {
	ModelVersion string      `json:"modelVersion" yaml:"model_version"`
	Total        int         `json:"total" yaml:"total"`
	Fraud        int         `json:"fraud" yaml:"fraud"`
	Results      []Confusion `json:"results" yaml:"results"`
}

func runBenchmark(ctx context.Context, cmd *cli.Command) error {
	thresholds, err := parseThresholds(cmd.String("thresholds"))
	if err != nil {
		return err
	}

	p, err := loadPipeline(cmd)
	if err != nil {
		return err
	}

	table, err := readTable(cmd)
	if err != nil {
		return err
	}
	actual, err := labels(table)
	if err != nil {
		return err
	}

	cfg := domain.DefaultRequestConfig()
	cfg.Threshold = thresholds[0]
	res, err := p.Run(ctx, table.Records(), cfg)
	if err != nil {
		return err
	}

	probs := make([]float64, len(res.Scored))
	for i, st := range res.Scored {
		probs[i] = st.FraudProbability
	}

	report := Report{ModelVersion: res.ModelVersion, Total: len(actual)}
	for _, a := range actual {
		if a {
			report.Fraud++
		}
	}

	for _, t := range thresholds {
		scored, err := decision.Apply(res.Records, probs, t)
		if err != nil {
			return err
		}
		report.Results = append(report.Results, confusion(t, scored, actual))
	}

	return writeReport(cmd.Root().Writer, cmd.String(flagFormat), report, func(w io.Writer) error {
		return printReport(w, report)
	})
}

// parseThresholds reads a comma separated list; every value must be a valid
// threshold.
func parseThresholds(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid threshold %q: %w", part, err)
		}
		if err := decision.ValidateThreshold(t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one threshold is required")
	}
	return out, nil
}

// labels reads the Class column.
func labels(table *features.Table) ([]bool, error) {
	col, ok := table.Column(ClassColumn)
	if !ok {
		return nil, fmt.Errorf("benchmark input has no %s column", ClassColumn)
	}

	out := make([]bool, len(table.Rows))
	for i, cells := range table.Rows {
		v, err := strconv.ParseFloat(strings.TrimSpace(cells[col]), 64)
		if err != nil || (v != 0 && v != 1) {
			return nil, fmt.Errorf("row %d: %s must be 0 or 1, got %q", i, ClassColumn, cells[col])
		}
		out[i] = v == 1
	}
	return out, nil
}

func confusion(t float64, scored []domain.ScoredTransaction, actual []bool) Confusion {
	c := Confusion{Threshold: t}
	for i, st := range scored {
		predicted := st.Label == domain.LabelFraud
		switch {
		case predicted && actual[i]:
			c.TruePositives++
		case predicted && !actual[i]:
			c.FalsePositives++
		case !predicted && !actual[i]:
			c.TrueNegatives++
		default:
			c.FalseNegatives++
		}
	}

	if n := c.TruePositives + c.FalsePositives; n > 0 {
		c.Precision = float64(c.TruePositives) / float64(n)
	}
	if n := c.TruePositives + c.FalseNegatives; n > 0 {
		c.Recall = float64(c.TruePositives) / float64(n)
	}
	if c.Precision+c.Recall > 0 {
		c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
	}
	if total := len(scored); total > 0 {
		c.Accuracy = float64(c.TruePositives+c.TrueNegatives) / float64(total)
	}
	return c
}

func printReport(w io.Writer, r Report) error {
	fmt.Fprintf(w, "model %s: %d transactions, %d fraud\n\n", r.ModelVersion, r.Total, r.Fraud)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "THRESHOLD\tTP\tFP\tTN\tFN\tPRECISION\tRECALL\tF1\tACCURACY")
	for _, c := range r.Results {
		fmt.Fprintf(tw, "%.2f\t%d\t%d\t%d\t%d\t%.4f\t%.4f\t%.4f\t%.4f\n",
			c.Threshold, c.TruePositives, c.FalsePositives, c.TrueNegatives, c.FalseNegatives,
			c.Precision, c.Recall, c.F1, c.Accuracy)
	}
	return tw.Flush()
}
