package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/s4/internal/checkpoint"
	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/s4"
)

// buildLayer loads --checkpoint (or the config file's checkpoint) when set,
// otherwise constructs a freshly initialised layer from the layer flags.
func buildLayer(ctx context.Context, cmd *cli.Command) (*s4.Layer, error) {
	if fileCfg.Checkpoint != "" && !cmd.IsSet("checkpoint") {
		checkpointPath = fileCfg.Checkpoint
	}
	if checkpointPath != "" {
		l, err := checkpoint.Load(ctx, checkpointPath)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", checkpointPath, err)
		}
		return l, nil
	}

	applyLayerConfig(cmd, fileCfg.Layer, &layerCfg)
	logger.FromContext(ctx).Debug("building layer", "d_model", layerCfg.DModel, "d_state", layerCfg.DState, "seed", layerCfg.Seed)
	return s4.New(ctx, layerCfg)
}

func layerCommandFlags(extra ...cli.Flag) []cli.Flag {
	flags := append([]cli.Flag{checkpointFlag()}, layerFlags(&layerCfg)...)
	return append(flags, extra...)
}
