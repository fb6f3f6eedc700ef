package s4

import (
	"fmt"
	"math"

	"github.com/samcharles93/s4/internal/tensor"
)

// Weights are the pointwise parameters around the state-space core.
//
//	D           (SkipChannels, H)
//	NormWeight  (channels·H)       only read when LN is set
//	NormBias    (channels·H)
//	Output      (OutputRows, channels·H)
//	OutputBias  (OutputRows)
type Weights struct {
	D          *tensor.Tensor
	NormWeight []float64
	NormBias   []float64
	Output     tensor.Mat
	OutputBias []float64
}

// InitWeights draws reproducible weights for cfg: D ~ N(0, 1), unit norm
// scale, and a uniform output projection scaled by 1/sqrt(fan_in).
func InitWeights(cfg Config) *Weights {
	feats := cfg.Features()
	w := &Weights{
		D:          tensor.New(cfg.SkipChannels(), cfg.DModel),
		NormWeight: make([]float64, feats),
		NormBias:   make([]float64, feats),
		Output:     tensor.NewMat(cfg.OutputRows(), feats),
		OutputBias: make([]float64, cfg.OutputRows()),
	}
	tensor.FillNormal(w.D, cfg.Seed+2, 1)
	for i := range w.NormWeight {
		w.NormWeight[i] = 1
	}
	bound := 1 / math.Sqrt(float64(feats))
	tensor.FillRandMat(&w.Output, cfg.Seed+3, bound)
	bias, _ := tensor.NewMatFromData(1, len(w.OutputBias), w.OutputBias)
	tensor.FillRandMat(&bias, cfg.Seed+4, bound)
	return w
}

func (w *Weights) validate(cfg Config) error {
	if w == nil || w.D == nil {
		return fmt.Errorf("%w: missing D", ErrInvalidConfig)
	}
	if w.D.Dims() != 2 || w.D.Shape[0] != cfg.SkipChannels() || w.D.Shape[1] != cfg.DModel {
		return fmt.Errorf("%w: D %v, want (%d, %d)", tensor.ErrShape, w.D.Shape, cfg.SkipChannels(), cfg.DModel)
	}
	if cfg.Linear {
		return nil
	}
	feats := cfg.Features()
	if cfg.LN && (len(w.NormWeight) != feats || len(w.NormBias) != feats) {
		return fmt.Errorf("%w: norm %d/%d, want %d", tensor.ErrShape, len(w.NormWeight), len(w.NormBias), feats)
	}
	if w.Output.R != cfg.OutputRows() || w.Output.C != feats {
		return fmt.Errorf("%w: output_linear %dx%d, want %dx%d", tensor.ErrShape, w.Output.R, w.Output.C, cfg.OutputRows(), feats)
	}
	if w.OutputBias != nil && len(w.OutputBias) != w.Output.R {
		return fmt.Errorf("%w: output bias %d, want %d", tensor.ErrShape, len(w.OutputBias), w.Output.R)
	}
	return nil
}
