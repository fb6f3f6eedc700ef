package main

import (
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/s4/internal/s4"
)

var (
	configFile     string
	checkpointPath string
	logLevel       string
	logFormat      string
	debug          bool

	layerCfg s4.Config
	fileCfg  Config
)

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func checkpointFlag() cli.Flag {
	return &cli.StringFlag{
		Name:        "checkpoint",
		Aliases:     []string{"ckpt"},
		Usage:       "load the layer from a safetensors checkpoint instead of a fresh init",
		TakesFile:   true,
		Destination: &checkpointPath,
	}
}

// layerFlags binds the construction options to dst.
func layerFlags(dst *s4.Config) []cli.Flag {
	def := s4.DefaultConfig(4)
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "d-model",
			Aliases:     []string{"H"},
			Usage:       "number of features",
			Value:       def.DModel,
			Destination: &dst.DModel,
		},
		&cli.IntFlag{
			Name:        "d-state",
			Aliases:     []string{"N"},
			Usage:       "state size per feature (even)",
			Value:       def.DState,
			Destination: &dst.DState,
		},
		&cli.IntFlag{
			Name:        "l-max",
			Usage:       "maximum sequence length hint",
			Value:       def.LMax,
			Destination: &dst.LMax,
		},
		&cli.IntFlag{
			Name:        "channels",
			Usage:       "kernel channels",
			Value:       def.Channels,
			Destination: &dst.Channels,
		},
		&cli.BoolFlag{
			Name:        "bidirectional",
			Usage:       "use a non-causal two-sided kernel",
			Destination: &dst.Bidirectional,
		},
		&cli.IntFlag{
			Name:        "liquid",
			Usage:       "liquid degree; 0 disables the correction",
			Value:       def.LiquidDegree,
			Destination: &dst.LiquidDegree,
		},
		&cli.BoolFlag{
			Name:        "shift",
			Usage:       "shift the kernel one sample so output depends on strict past",
			Destination: &dst.Shift,
		},
		&cli.BoolFlag{
			Name:        "linear",
			Usage:       "skip activation and output projection",
			Destination: &dst.Linear,
		},
		&cli.StringFlag{
			Name:        "activation",
			Usage:       "activation (id, tanh, relu, gelu, swish, silu, sigmoid)",
			Value:       def.Activation,
			Destination: &dst.Activation,
		},
		&cli.StringFlag{
			Name:        "postact",
			Usage:       "activation after the output projection, or glu",
			Destination: &dst.Postact,
		},
		&cli.StringFlag{
			Name:        "hyper-act",
			Usage:       "enable multiplicative gating with this activation",
			Destination: &dst.HyperAct,
		},
		&cli.BoolFlag{
			Name:        "ln",
			Usage:       "apply layer norm before the output projection",
			Destination: &dst.LN,
		},
		&cli.BoolFlag{
			Name:        "transposed",
			Usage:       "inputs are (B, H, L); false means (B, L, H)",
			Value:       def.Transposed,
			Destination: &dst.Transposed,
		},
		&cli.Float64Flag{
			Name:        "dt-min",
			Value:       def.DTMin,
			Destination: &dst.DTMin,
		},
		&cli.Float64Flag{
			Name:        "dt-max",
			Value:       def.DTMax,
			Destination: &dst.DTMax,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "parameter init seed",
			Destination: &dst.Seed,
		},
	}
}
