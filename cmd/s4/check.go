package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/s4/internal/harness"
	"github.com/samcharles93/s4/internal/logger"
)

func checkCmd() *cli.Command {
	opts := harness.DefaultOptions()
	var (
		zeroInit bool
		asJSON   bool
	)

	return &cli.Command{
		Name:  "check",
		Usage: "Verify that full, step-by-step and chunked passes agree",
		Flags: layerCommandFlags(
			&cli.IntFlag{
				Name:        "batch",
				Aliases:     []string{"B"},
				Usage:       "batch size",
				Value:       opts.Batch,
				Destination: &opts.Batch,
			},
			&cli.IntFlag{
				Name:        "length",
				Aliases:     []string{"L"},
				Usage:       "sequence length",
				Value:       opts.Length,
				Destination: &opts.Length,
			},
			&cli.IntFlag{
				Name:        "chunks",
				Usage:       "number of chunks for the chunked pass",
				Value:       opts.Chunks,
				Destination: &opts.Chunks,
			},
			&cli.BoolFlag{
				Name:        "random-input",
				Usage:       "draw the input uniformly instead of all ones",
				Destination: &opts.RandomInput,
			},
			&cli.BoolFlag{
				Name:        "zero-init",
				Usage:       "start from the zero state",
				Destination: &zeroInit,
			},
			&cli.Int64Flag{
				Name:        "input-seed",
				Usage:       "seed for the random input and initial state",
				Destination: &opts.Seed,
			},
			&cli.Float64Flag{
				Name:        "tolerance",
				Usage:       "maximum allowed absolute error",
				Value:       opts.Tolerance,
				Destination: &opts.Tolerance,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "print the report as JSON",
				Destination: &asJSON,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			l, err := buildLayer(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			opts.RandomInit = !zeroInit
			logger.FromContext(ctx).Info("running state check", "batch", opts.Batch, "length", opts.Length, "chunks", opts.Chunks)

			report, err := harness.Run(ctx, l, opts)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			w := stdout(cmd)
			if asJSON {
				if err := report.WriteJSON(w); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(w, "run:          %s\n", report.RunID)
				fmt.Fprintf(w, "step output:  %.3e\n", report.StepOutputError)
				fmt.Fprintf(w, "step state:   %.3e\n", report.StepStateError)
				fmt.Fprintf(w, "chunk output: %.3e\n", report.ChunkOutputError)
				fmt.Fprintf(w, "chunk state:  %.3e\n", report.ChunkStateError)
				fmt.Fprintf(w, "elapsed:      %s\n", report.Elapsed)
			}
			if !report.Passed {
				return cli.Exit(fmt.Sprintf("state check failed: max error %.3e exceeds %.3e", report.MaxError(), opts.Tolerance), 1)
			}
			return nil
		},
	}
}
