// Package checkpoint stores S4 layer parameters in safetensors files.
//
// Complex parameters are kept in their conjugate-half form with a trailing
// axis of size 2 holding the real and imaginary parts. The layer config is
// stored as JSON under the "config" metadata key.
package checkpoint

import (
	"context"
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"github.com/samcharles93/s4/internal/kernel"
	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/s4"
	"github.com/samcharles93/s4/internal/tensor"
)

// Tensor names.
const (
	LogDT      = "kernel.log_dt"
	W          = "kernel.w"
	B          = "kernel.B"
	C          = "kernel.C"
	D          = "D"
	NormWeight = "norm.weight"
	NormBias   = "norm.bias"
	OutWeight  = "output_linear.weight"
	OutBias    = "output_linear.bias"

	configKey = "config"
	formatKey = "format"
	format    = "s4"
)

// Entries flattens a layer into named tensors.
func Entries(l *s4.Layer) []Entry {
	cfg, p, w := l.Config(), l.Kernel().Params(), l.Weights()
	out := []Entry{
		{Name: LogDT, Shape: []int{len(p.LogDT)}, Data: slices.Clone(p.LogDT)},
		complexEntry(W, p.W.Half()),
		complexEntry(B, p.B.Half()),
		complexEntry(C, p.C.Half()),
		{Name: D, Shape: slices.Clone(w.D.Shape), Data: slices.Clone(w.D.Data)},
	}
	if cfg.Linear {
		return out
	}
	if cfg.LN {
		out = append(out,
			Entry{Name: NormWeight, Shape: []int{len(w.NormWeight)}, Data: slices.Clone(w.NormWeight)},
			Entry{Name: NormBias, Shape: []int{len(w.NormBias)}, Data: slices.Clone(w.NormBias)},
		)
	}
	out = append(out, Entry{Name: OutWeight, Shape: []int{w.Output.R, w.Output.C}, Data: slices.Clone(w.Output.Data)})
	if w.OutputBias != nil {
		out = append(out, Entry{Name: OutBias, Shape: []int{len(w.OutputBias)}, Data: slices.Clone(w.OutputBias)})
	}
	return out
}

func complexEntry(name string, t *tensor.CTensor) Entry {
	shape := append(slices.Clone(t.Shape), 2)
	data := make([]float64, 2*len(t.Data))
	for i, v := range t.Data {
		data[2*i] = real(v)
		data[2*i+1] = imag(v)
	}
	return Entry{Name: name, Shape: shape, Data: data}
}

// Save writes the layer to path using dtype for every tensor.
func Save(ctx context.Context, path string, l *s4.Layer, dtype string) error {
	cfg, err := json.Marshal(l.Config())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	entries := Entries(l)
	if err := Write(path, entries, map[string]string{configKey: string(cfg), formatKey: format}, dtype); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("saved checkpoint", "path", path, "tensors", len(entries), "dtype", dtype)
	return nil
}

// Config reads the layer config from the file metadata.
func (f *File) Config() (s4.Config, error) {
	raw, ok := f.Metadata[configKey]
	if !ok {
		return s4.Config{}, fmt.Errorf("%w: no layer config in metadata", ErrCorruptFile)
	}
	var cfg s4.Config
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return s4.Config{}, fmt.Errorf("%w: config: %v", ErrCorruptFile, err)
	}
	return cfg, nil
}

// Load opens path and builds a layer from its config and parameters.
func Load(ctx context.Context, path string) (*s4.Layer, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	cfg, err := f.Config()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l, err := f.layer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return l, nil
}

func (f *File) layer(ctx context.Context, cfg s4.Config) (*s4.Layer, error) {
	logDT, _, err := f.ReadFloat64(LogDT)
	if err != nil {
		return nil, err
	}
	w, err := f.readComplex(W)
	if err != nil {
		return nil, err
	}
	b, err := f.readComplex(B)
	if err != nil {
		return nil, err
	}
	c, err := f.readComplex(C)
	if err != nil {
		return nil, err
	}
	provider, err := kernel.FromParams(kernel.Params{
		LogDT: logDT,
		W:     tensor.NewConjPair(w),
		B:     tensor.NewConjPair(b),
		C:     tensor.NewConjPair(c),
	})
	if err != nil {
		return nil, err
	}

	weights := &s4.Weights{}
	if weights.D, err = f.readTensor(D); err != nil {
		return nil, err
	}
	if !cfg.Linear {
		if cfg.LN {
			if weights.NormWeight, _, err = f.ReadFloat64(NormWeight); err != nil {
				return nil, err
			}
			if weights.NormBias, _, err = f.ReadFloat64(NormBias); err != nil {
				return nil, err
			}
		}
		out, err := f.readTensor(OutWeight)
		if err != nil {
			return nil, err
		}
		if out.Dims() != 2 {
			return nil, fmt.Errorf("%w: %s has shape %v", tensor.ErrShape, OutWeight, out.Shape)
		}
		if weights.Output, err = tensor.NewMatFromData(out.Shape[0], out.Shape[1], out.Data); err != nil {
			return nil, err
		}
		if _, ok := f.Tensor(OutBias); ok {
			if weights.OutputBias, _, err = f.ReadFloat64(OutBias); err != nil {
				return nil, err
			}
		}
	}
	return s4.NewWithProvider(ctx, cfg, provider, weights)
}

func (f *File) readTensor(name string) (*tensor.Tensor, error) {
	data, info, err := f.ReadFloat64(name)
	if err != nil {
		return nil, err
	}
	return tensor.FromData(data, info.Shape...)
}

func (f *File) readComplex(name string) (*tensor.CTensor, error) {
	data, info, err := f.ReadFloat64(name)
	if err != nil {
		return nil, err
	}
	if len(info.Shape) < 2 || info.Shape[len(info.Shape)-1] != 2 {
		return nil, fmt.Errorf("%w: complex tensor %s has shape %v", tensor.ErrShape, name, info.Shape)
	}
	out := make([]complex128, len(data)/2)
	for i := range out {
		out[i] = complex(data[2*i], data[2*i+1])
	}
	return tensor.ComplexFromData(out, info.Shape[:len(info.Shape)-1]...)
}
