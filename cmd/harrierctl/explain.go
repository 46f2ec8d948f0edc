package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/opensource-finance/harrier/internal/domain"
)

func explainCommand() *cli.Command {
	return &cli.Command{
		Name:  "explain",
		Usage: "Explain the score of one row of a CSV file",
		Flags: []cli.Flag{
			inputFlag(),
			&cli.IntFlag{
				Name:     "index",
				Usage:    "Zero-based row index",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "top-n",
				Usage: "Number of contributions to list",
				Value: domain.DefaultTopN,
			},
		},
		Action: runExplain,
	}
}

func runExplain(ctx context.Context, cmd *cli.Command) error {
	p, err := loadPipeline(cmd)
	if err != nil {
		return err
	}

	table, err := readTable(cmd)
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, table.Records(), domain.DefaultRequestConfig())
	if err != nil {
		return err
	}

	exp, err := p.Explain(ctx, res.Records, int(cmd.Int("index")), int(cmd.Int("top-n")))
	if err != nil {
		return err
	}

	return writeReport(cmd.Root().Writer, cmd.String(flagFormat), exp, func(w io.Writer) error {
		return printExplanation(w, exp)
	})
}

func printExplanation(w io.Writer, exp *domain.Explanation) error {
	fmt.Fprintf(w, "row %d: fraud probability %.6f (model %s, %s)\n", exp.Index, exp.Probability, exp.ModelVersion, exp.Method)
	fmt.Fprintf(w, "logit %.6f = bias %.6f + contributions %.6f\n\n", exp.Logit, exp.Bias, exp.ContributionSum)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FEATURE\tVALUE\tWEIGHT\tCONTRIBUTION\tDIRECTION")
	for _, c := range exp.Contributions {
		fmt.Fprintf(tw, "%s\t%.6g\t%.6g\t%+.6f\t%s\n", c.Feature, c.Value, c.Weight, c.Contribution, c.Direction)
	}
	return tw.Flush()
}
