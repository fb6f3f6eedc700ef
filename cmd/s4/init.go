package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/s4/internal/checkpoint"
	"github.com/samcharles93/s4/internal/s4"
)

func initCmd() *cli.Command {
	var (
		out   string
		dtype string
	)

	return &cli.Command{
		Name:  "init",
		Usage: "Write a freshly initialised layer to a safetensors checkpoint",
		Flags: append(layerFlags(&layerCfg),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output .safetensors path",
				Required:    true,
				TakesFile:   true,
				Destination: &out,
			},
			&cli.StringFlag{
				Name:        "dtype",
				Usage:       "storage dtype (F64, F32, F16, BF16)",
				Value:       "F32",
				Destination: &dtype,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if fileCfg.DType != "" && !cmd.IsSet("dtype") {
				dtype = fileCfg.DType
			}
			applyLayerConfig(cmd, fileCfg.Layer, &layerCfg)
			l, err := s4.New(ctx, layerCfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if err := checkpoint.Save(ctx, out, l, dtype); err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			fmt.Fprintf(stdout(cmd), "wrote %s (%s)\n", out, dtype)
			return nil
		},
	}
}
