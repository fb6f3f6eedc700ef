package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

type kernelDump struct {
	Shape  []int         `json:"shape"`
	Kernel [][][]float64 `json:"kernel"`
}

func kernelCmd() *cli.Command {
	var (
		length int
		out    string
	)

	return &cli.Command{
		Name:  "kernel",
		Usage: "Dump the (channels, H, L) convolution kernel as JSON",
		Flags: layerCommandFlags(
			&cli.IntFlag{
				Name:        "length",
				Aliases:     []string{"L"},
				Usage:       "kernel length",
				Value:       16,
				Destination: &length,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "write to file instead of stdout",
				TakesFile:   true,
				Destination: &out,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if length <= 0 {
				return cli.Exit("error: --length must be positive", 1)
			}
			l, err := buildLayer(ctx, cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			k, _, err := l.Kernel().Kernel(ctx, nil, length, nil)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: kernel: %v", err), 1)
			}

			dump := kernelDump{Shape: k.Shape, Kernel: make([][][]float64, k.Dim(0))}
			for c := range dump.Kernel {
				dump.Kernel[c] = make([][]float64, k.Dim(1))
				for h := range dump.Kernel[c] {
					dump.Kernel[c][h] = k.Row(c, h)
				}
			}

			var w io.Writer = stdout(cmd)
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(dump)
		},
	}
}
