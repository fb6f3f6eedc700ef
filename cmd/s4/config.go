package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/samcharles93/s4/internal/s4"
)

// Config represents the s4 configuration file (~/.config/s4/config.yaml).
// Layer fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	Layer LayerConfig `yaml:"layer"`

	Checkpoint string `yaml:"checkpoint"`
	DType      string `yaml:"dtype"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
	StateLimit    *int   `yaml:"state_limit"`
}

type LayerConfig struct {
	DModel        *int     `yaml:"d_model"`
	DState        *int     `yaml:"d_state"`
	LMax          *int     `yaml:"l_max"`
	Channels      *int     `yaml:"channels"`
	Bidirectional *bool    `yaml:"bidirectional"`
	LiquidDegree  *int     `yaml:"liquid_degree"`
	Shift         *bool    `yaml:"shift"`
	Linear        *bool    `yaml:"linear"`
	Activation    *string  `yaml:"activation"`
	Postact       *string  `yaml:"postact"`
	HyperAct      *string  `yaml:"hyper_act"`
	LN            *bool    `yaml:"ln"`
	Transposed    *bool    `yaml:"transposed"`
	DTMin         *float64 `yaml:"dt_min"`
	DTMax         *float64 `yaml:"dt_max"`
	Seed          *int64   `yaml:"seed"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "s4", "config.yaml")
}

// loadConfig reads the config file. A missing default file yields a zero
// Config; a missing explicit file is an error.
func loadConfig(path string, explicit bool) (Config, error) {
	if path == "" {
		path = configPath()
	}
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return Config{}, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// applyLayerConfig copies file values into dst for every layer flag the
// user did not set explicitly.
func applyLayerConfig(c *cli.Command, lc LayerConfig, dst *s4.Config) {
	setInt := func(flag string, v *int, to *int) {
		if v != nil && !c.IsSet(flag) {
			*to = *v
		}
	}
	setBool := func(flag string, v *bool, to *bool) {
		if v != nil && !c.IsSet(flag) {
			*to = *v
		}
	}
	setString := func(flag string, v *string, to *string) {
		if v != nil && !c.IsSet(flag) {
			*to = *v
		}
	}
	setFloat := func(flag string, v *float64, to *float64) {
		if v != nil && !c.IsSet(flag) {
			*to = *v
		}
	}

	setInt("d-model", lc.DModel, &dst.DModel)
	setInt("d-state", lc.DState, &dst.DState)
	setInt("l-max", lc.LMax, &dst.LMax)
	setInt("channels", lc.Channels, &dst.Channels)
	setInt("liquid", lc.LiquidDegree, &dst.LiquidDegree)
	setBool("bidirectional", lc.Bidirectional, &dst.Bidirectional)
	setBool("shift", lc.Shift, &dst.Shift)
	setBool("linear", lc.Linear, &dst.Linear)
	setBool("ln", lc.LN, &dst.LN)
	setBool("transposed", lc.Transposed, &dst.Transposed)
	setString("activation", lc.Activation, &dst.Activation)
	setString("postact", lc.Postact, &dst.Postact)
	setString("hyper-act", lc.HyperAct, &dst.HyperAct)
	setFloat("dt-min", lc.DTMin, &dst.DTMin)
	setFloat("dt-max", lc.DTMax, &dst.DTMax)
	if lc.Seed != nil && !c.IsSet("seed") {
		dst.Seed = *lc.Seed
	}
}
