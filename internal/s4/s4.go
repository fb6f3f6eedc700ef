// Package s4 implements the structured state-space sequence layer.
//
// A Layer maps (B, H, L) inputs to (B, H, L) outputs (or (B, L, H) when not
// transposed) by convolving each feature with a kernel produced by a
// kernel.Provider, optionally adding liquid correction terms, and passing
// the result through a pointwise head. The same layer can be run one
// timestep at a time with Step, threading a recurrent state.
package s4

import (
	"context"
	"errors"
	"fmt"

	"github.com/samcharles93/s4/internal/fftconv"
	"github.com/samcharles93/s4/internal/kernel"
	"github.com/samcharles93/s4/internal/liquid"
	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/tensor"
)

var (
	// ErrBidirectionalState is returned when a state is passed to a
	// bidirectional layer.
	ErrBidirectionalState = errors.New("s4: bidirectional not supported with state forwarding")
	// ErrStepInTraining is returned by Step while the layer is in training
	// mode.
	ErrStepInTraining = errors.New("s4: step is not available in training mode")
	// ErrInvalidConfig is returned for invalid construction options.
	ErrInvalidConfig = errors.New("s4: invalid config")
)

const normEps = 1e-5

// Layer is an S4 layer. Forward and Step do not modify the layer and may be
// called concurrently; Train, Eval and SetupStep may not.
type Layer struct {
	cfg    Config
	kernel kernel.Provider
	w      *Weights

	act      tensor.Activation
	hyperAct tensor.Activation
	postact  tensor.Activation

	training bool
}

// New builds a layer with a seeded Diagonal kernel and freshly drawn weights.
func New(ctx context.Context, cfg Config) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	provider, err := kernel.NewDiagonal(kernel.Options{
		Features:  cfg.DModel,
		StateSize: cfg.DState,
		Channels:  cfg.KernelChannels(),
		DTMin:     cfg.DTMin,
		DTMax:     cfg.DTMax,
		Seed:      cfg.Seed,
	})
	if err != nil {
		return nil, err
	}
	return NewWithProvider(ctx, cfg, provider, InitWeights(cfg))
}

// NewWithProvider builds a layer over an existing kernel provider and
// weights, e.g. loaded from a checkpoint.
func NewWithProvider(ctx context.Context, cfg Config, provider kernel.Provider, w *Weights) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if provider.Features() != cfg.DModel || provider.StateSize() != cfg.DState || provider.Channels() != cfg.KernelChannels() {
		return nil, fmt.Errorf("%w: kernel (channels=%d H=%d N=%d), want (channels=%d H=%d N=%d)",
			ErrInvalidConfig, provider.Channels(), provider.Features(), provider.StateSize(),
			cfg.KernelChannels(), cfg.DModel, cfg.DState)
	}
	if err := w.validate(cfg); err != nil {
		return nil, err
	}

	l := &Layer{cfg: cfg, kernel: provider, w: w}
	l.act, _ = tensor.ParseActivation(cfg.Activation)
	if cfg.Hyper() {
		l.hyperAct, _ = tensor.ParseActivation(cfg.HyperAct)
	}
	if !cfg.glu() {
		l.postact, _ = tensor.ParseActivation(cfg.Postact)
	}

	log := logger.FromContext(ctx)
	if cfg.LiquidDegree >= 1 {
		log.Info("constructing liquid S4", "degree", cfg.LiquidDegree+1)
	} else {
		log.Info("using plain S4 (set liquid_degree >= 1 to enable liquid S4)")
	}
	log.Debug("layer shape", "d_model", cfg.DModel, "d_state", cfg.DState, "l_max", cfg.LMax,
		"channels", cfg.Channels, "mode", cfg.Mode().String())
	return l, nil
}

// Config returns the construction options.
func (l *Layer) Config() Config { return l.cfg }

// Kernel returns the kernel provider.
func (l *Layer) Kernel() kernel.Provider { return l.kernel }

// Weights returns the pointwise weights. They must not be modified.
func (l *Layer) Weights() *Weights { return l.w }

// Train switches the layer to training mode, in which Step is unavailable.
func (l *Layer) Train() { l.training = true }

// Eval switches the layer to evaluation mode. New layers start in it.
func (l *Layer) Eval() { l.training = false }

// Training reports whether the layer is in training mode.
func (l *Layer) Training() bool { return l.training }

// DState is the flattened state size H·N.
func (l *Layer) DState() int { return l.cfg.DModel * l.cfg.DState }

// DOutput is the output feature count. Linear layers skip the projection
// and return every channel.
func (l *Layer) DOutput() int {
	if l.cfg.Linear {
		return l.cfg.Features()
	}
	return l.cfg.DModel
}

// DefaultState returns a zero state of shape (batch..., H, N).
func (l *Layer) DefaultState(batch ...int) *tensor.CTensor {
	return l.kernel.DefaultState(batch...)
}

// StateToTensor flattens the trailing (H, N) axes of a state.
func (l *Layer) StateToTensor(state *tensor.CTensor) (*tensor.CTensor, error) {
	if state.Dims() < 2 {
		return nil, fmt.Errorf("%w: state %v", tensor.ErrShape, state.Shape)
	}
	shape := append([]int(nil), state.Shape[:state.Dims()-2]...)
	shape = append(shape, state.Dim(-2)*state.Dim(-1))
	return tensor.ComplexFromData(state.Data, shape...)
}

// SetupStep prepares the kernel for Step.
func (l *Layer) SetupStep() { l.kernel.SetupStep() }

// Forward runs the layer over a full sequence.
//
// u is (B, H, L), or (B, L, H) when the layer is not transposed. When state
// is non-nil it is the (B, H, N) state left by a previous chunk and the
// returned next state continues from the end of u; otherwise next is nil.
func (l *Layer) Forward(ctx context.Context, u *tensor.Tensor, state *tensor.CTensor) (*tensor.Tensor, *tensor.CTensor, error) {
	if state != nil && l.cfg.Bidirectional {
		return nil, nil, ErrBidirectionalState
	}
	if u.Dims() != 3 {
		return nil, nil, fmt.Errorf("%w: input %v, want 3 axes", tensor.ErrShape, u.Shape)
	}
	if !l.cfg.Transposed {
		u = u.SwapLast()
	}
	if u.Shape[1] != l.cfg.DModel {
		return nil, nil, fmt.Errorf("%w: input has %d features, want %d", tensor.ErrShape, u.Shape[1], l.cfg.DModel)
	}
	length := u.Dim(-1)

	ops := l.kernel.Params().Expand()
	k, kState, err := l.kernel.Kernel(ctx, ops, length, state)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel: %w", err)
	}
	y, err := fftconv.Convolve(u, k, l.cfg.Mode())
	if err != nil {
		return nil, nil, err
	}
	if err := fftconv.AddSkip(y, u, l.w.D); err != nil {
		return nil, nil, err
	}
	if l.cfg.LiquidDegree > 0 {
		if err := l.addLiquid(y, u, ops); err != nil {
			return nil, nil, err
		}
	}

	var next *tensor.CTensor
	if state != nil {
		if err := y.Add(kState); err != nil {
			return nil, nil, err
		}
		if next, err = l.kernel.ForwardState(ops, u, state); err != nil {
			return nil, nil, fmt.Errorf("forward state: %w", err)
		}
	}

	out, err := l.tail(y)
	if err != nil {
		return nil, nil, err
	}
	if !l.cfg.Transposed {
		out = out.SwapLast()
	}
	return out, next, nil
}

// Step advances the layer by one timestep. u is (B, H) and state (B, H, N);
// the output is (B, H). SetupStep must have been called.
func (l *Layer) Step(ctx context.Context, u *tensor.Tensor, state *tensor.CTensor) (*tensor.Tensor, *tensor.CTensor, error) {
	if l.training {
		return nil, nil, ErrStepInTraining
	}
	if l.cfg.Bidirectional {
		return nil, nil, ErrBidirectionalState
	}
	if u.Dims() != 2 || u.Shape[1] != l.cfg.DModel {
		return nil, nil, fmt.Errorf("%w: step input %v, want (B, %d)", tensor.ErrShape, u.Shape, l.cfg.DModel)
	}
	yk, next, err := l.kernel.Step(u, state)
	if err != nil {
		return nil, nil, fmt.Errorf("kernel step: %w", err)
	}
	batch, channels, feats := yk.Shape[0], yk.Shape[1], yk.Shape[2]
	y, err := yk.Reshape(batch, channels, feats, 1)
	if err != nil {
		return nil, nil, err
	}
	ut, err := u.Reshape(batch, feats, 1)
	if err != nil {
		return nil, nil, err
	}
	if err := fftconv.AddSkip(y, ut, l.w.D); err != nil {
		return nil, nil, err
	}
	logger.FromContext(ctx).Debug("s4 step", "batch", batch)

	out, err := l.tail(y)
	if err != nil {
		return nil, nil, err
	}
	out, err = out.Reshape(batch, out.Shape[1])
	if err != nil {
		return nil, nil, err
	}
	return out, next, nil
}

// addLiquid accumulates the liquid correction into y, reading the same
// expanded operators the kernel was built from.
func (l *Layer) addLiquid(y, u *tensor.Tensor, ops *kernel.Operators) error {
	couplings, err := liquid.Couplings(ops.DT, ops.W, ops.B, l.cfg.LiquidDegree)
	if err != nil {
		return fmt.Errorf("liquid: %w", err)
	}
	return liquid.Apply(y, u, ops.C, couplings, l.cfg.Bidirectional)
}
