package s4

import (
	"fmt"

	"github.com/samcharles93/s4/internal/fftconv"
	"github.com/samcharles93/s4/internal/tensor"
)

// Config holds the flat construction options of a layer. The same struct is
// read from YAML config files, checkpoint metadata and HTTP payloads.
type Config struct {
	DModel        int  `yaml:"d_model" json:"d_model"`
	DState        int  `yaml:"d_state" json:"d_state"`
	LMax          int  `yaml:"l_max" json:"l_max"`
	Channels      int  `yaml:"channels" json:"channels"`
	Bidirectional bool `yaml:"bidirectional" json:"bidirectional"`
	LiquidDegree  int  `yaml:"liquid_degree" json:"liquid_degree"`
	Shift         bool `yaml:"shift" json:"shift"`
	Linear        bool `yaml:"linear" json:"linear"`

	Activation string `yaml:"activation" json:"activation"`
	Postact    string `yaml:"postact" json:"postact,omitempty"`
	HyperAct   string `yaml:"hyper_act" json:"hyper_act,omitempty"`
	LN         bool   `yaml:"ln" json:"ln"`
	Transposed bool   `yaml:"transposed" json:"transposed"`

	DTMin float64 `yaml:"dt_min" json:"dt_min"`
	DTMax float64 `yaml:"dt_max" json:"dt_max"`
	Seed  int64   `yaml:"seed" json:"seed"`
}

// DefaultConfig returns the defaults for a layer of width dModel.
func DefaultConfig(dModel int) Config {
	return Config{
		DModel:     dModel,
		DState:     64,
		LMax:       1,
		Channels:   1,
		Activation: "gelu",
		Transposed: true,
		DTMin:      0.001,
		DTMax:      0.1,
	}
}

// Validate reports the first invalid option, wrapped in ErrInvalidConfig.
func (c Config) Validate() error {
	switch {
	case c.DModel <= 0:
		return fmt.Errorf("%w: d_model must be positive, got %d", ErrInvalidConfig, c.DModel)
	case c.DState <= 0 || c.DState%2 != 0:
		return fmt.Errorf("%w: d_state must be positive and even, got %d", ErrInvalidConfig, c.DState)
	case c.LMax < 0:
		return fmt.Errorf("%w: l_max must not be negative, got %d", ErrInvalidConfig, c.LMax)
	case c.Channels <= 0:
		return fmt.Errorf("%w: channels must be positive, got %d", ErrInvalidConfig, c.Channels)
	case c.LiquidDegree < 0:
		return fmt.Errorf("%w: liquid_degree must not be negative, got %d", ErrInvalidConfig, c.LiquidDegree)
	case c.Shift && c.Bidirectional:
		return fmt.Errorf("%w: shift and bidirectional are mutually exclusive", ErrInvalidConfig)
	case c.DTMin <= 0 || c.DTMax < c.DTMin:
		return fmt.Errorf("%w: dt range [%g, %g]", ErrInvalidConfig, c.DTMin, c.DTMax)
	}
	if _, err := tensor.ParseActivation(c.Activation); err != nil {
		return fmt.Errorf("%w: activation: %v", ErrInvalidConfig, err)
	}
	if c.Hyper() {
		if _, err := tensor.ParseActivation(c.HyperAct); err != nil {
			return fmt.Errorf("%w: hyper_act: %v", ErrInvalidConfig, err)
		}
	}
	if !c.glu() {
		if _, err := tensor.ParseActivation(c.Postact); err != nil {
			return fmt.Errorf("%w: postact: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Hyper reports whether hypernetwork gating is enabled.
func (c Config) Hyper() bool { return c.HyperAct != "" }

// SkipChannels is the channel count of D: channels, doubled with hyper
// gating.
func (c Config) SkipChannels() int {
	n := c.Channels
	if c.Hyper() {
		n *= 2
	}
	return n
}

// KernelChannels is the channel count the kernel provider must produce.
// Hyper doubling is applied before bidirectional doubling.
func (c Config) KernelChannels() int {
	n := c.SkipChannels()
	if c.Bidirectional {
		n *= 2
	}
	return n
}

// Mode returns the convolution mode selected by Shift and Bidirectional.
func (c Config) Mode() fftconv.Mode {
	switch {
	case c.Bidirectional:
		return fftconv.Bidirectional
	case c.Shift:
		return fftconv.Shifted
	default:
		return fftconv.Causal
	}
}

// Features is the width of the flattened (channels·H) axis.
func (c Config) Features() int { return c.Channels * c.DModel }

// OutputRows is the row count of the output projection, doubled for GLU.
func (c Config) OutputRows() int {
	if c.glu() {
		return 2 * c.DModel
	}
	return c.DModel
}

func (c Config) glu() bool { return c.Postact == "glu" }
