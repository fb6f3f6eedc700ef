// Package kernel provides the state-space convolution kernels consumed by the
// S4 layer.
//
// A Provider owns the discretisation parameters and produces, for a target
// length, the per-channel impulse response, the contribution of an incoming
// recurrent state, and the single-step transition used for recurrent
// decoding.
package kernel

import (
	"context"
	"errors"
	"math"

	"github.com/samcharles93/s4/internal/tensor"
)

var (
	// ErrStepNotReady is returned by Step before SetupStep has been called.
	ErrStepNotReady = errors.New("kernel: step operators not set up")
	// ErrInvalidParams is returned for inconsistent parameter shapes or values.
	ErrInvalidParams = errors.New("kernel: invalid parameters")
)

// Params are the discretisation parameters in conjugate-half storage.
//
//	LogDT (H)
//	W     (H, N/2)
//	B     (H, N/2)
//	C     (channels, H, N/2)
type Params struct {
	LogDT []float64
	W     tensor.ConjPair
	B     tensor.ConjPair
	C     tensor.ConjPair
}

// Operators are the parameters of one call in expanded form. Building them
// expands each conjugate pair once; everything that call computes reads from
// the same value.
//
//	DT (H)             exp(LogDT)
//	W  (H, N)
//	B  (H, N)
//	C  (channels, H, N)
type Operators struct {
	DT []float64
	W  *tensor.CTensor
	B  *tensor.CTensor
	C  *tensor.CTensor
}

// Expand expands W, B and C exactly once each.
func (p Params) Expand() *Operators {
	dt := make([]float64, len(p.LogDT))
	for i, v := range p.LogDT {
		dt[i] = math.Exp(v)
	}
	return &Operators{DT: dt, W: p.W.Expand(), B: p.B.Expand(), C: p.C.Expand()}
}

// Provider is the kernel generator behind an S4 layer.
//
// Kernel and ForwardState take the call's Operators so a caller that needs
// the expanded parameters itself expands them only once. A nil op makes the
// provider expand its own parameters.
type Provider interface {
	// Kernel returns the (channels, H, L) kernel and, when state is non-nil,
	// the (B, channels, H, L) contribution of that state to the output.
	Kernel(ctx context.Context, op *Operators, length int, state *tensor.CTensor) (k, kState *tensor.Tensor, err error)
	// ForwardState advances state (B, H, N) over the input u (B, H, L).
	ForwardState(op *Operators, u *tensor.Tensor, state *tensor.CTensor) (*tensor.CTensor, error)
	// SetupStep prepares the discretised operators used by Step.
	SetupStep()
	// Step advances state by one timestep of u (B, H) and returns the
	// (B, channels, H) output.
	Step(u *tensor.Tensor, state *tensor.CTensor) (y *tensor.Tensor, next *tensor.CTensor, err error)
	// DefaultState returns a zero state of shape (batch..., H, N).
	DefaultState(batch ...int) *tensor.CTensor
	// Params exposes the raw parameters. They must not be modified.
	Params() Params

	Channels() int
	Features() int
	StateSize() int
}
