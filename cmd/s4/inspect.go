package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/s4/internal/checkpoint"
)

func inspectCmd() *cli.Command {
	var filter string

	return &cli.Command{
		Name:      "inspect",
		Usage:     "List the config and tensors of a checkpoint",
		ArgsUsage: "<file.safetensors>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "tensor-filter", Usage: "substring filter for tensor listing", Destination: &filter},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_ = ctx
			path := cmd.Args().First()
			if path == "" {
				return cli.Exit("error: missing checkpoint path", 1)
			}
			f, err := checkpoint.Open(path)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open %s: %v", path, err), 1)
			}
			defer func() { _ = f.Close() }()

			w := stdout(cmd)
			if cfg, err := f.Config(); err == nil {
				fmt.Fprintf(w, "d_model:       %d\n", cfg.DModel)
				fmt.Fprintf(w, "d_state:       %d\n", cfg.DState)
				fmt.Fprintf(w, "channels:      %d\n", cfg.Channels)
				fmt.Fprintf(w, "liquid_degree: %d\n", cfg.LiquidDegree)
				fmt.Fprintf(w, "bidirectional: %t\n", cfg.Bidirectional)
				fmt.Fprintf(w, "shift:         %t\n", cfg.Shift)
				fmt.Fprintf(w, "kernel ch:     %d\n", cfg.KernelChannels())
			} else {
				fmt.Fprintf(w, "config:        unavailable (%v)\n", err)
			}

			fmt.Fprintln(w)
			fmt.Fprintf(w, "%-24s %-5s %-16s %s\n", "NAME", "DTYPE", "SHAPE", "BYTES")
			for _, name := range f.Names() {
				if filter != "" && !strings.Contains(name, filter) {
					continue
				}
				info, _ := f.Tensor(name)
				fmt.Fprintf(w, "%-24s %-5s %-16s %d\n", name, info.DType, fmt.Sprint(info.Shape), info.End-info.Start)
			}
			return nil
		},
	}
}
