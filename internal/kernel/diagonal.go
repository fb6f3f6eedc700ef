package kernel

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/tensor"
)

// Options configures a freshly initialised Diagonal provider.
type Options struct {
	Features  int // H
	StateSize int // N, must be even
	Channels  int
	DTMin     float64
	DTMax     float64
	Seed      int64
}

// Diagonal is a diagonal state-space kernel with bilinear discretisation:
//
//	dA = (1 + dt·w/2) / (1 - dt·w/2)
//	dB = dt·B / (1 - dt·w/2)
//	k[c,h,l] = Re Σ_n C[c,h,n]·dB[h,n]·dA[h,n]^l
//
// All sums run over the expanded conjugate pairs, so imaginary parts cancel.
type Diagonal struct {
	params   Params
	h, n, ch int

	step *discrete
}

// discrete holds expanded, discretised operators.
type discrete struct {
	dA *tensor.CTensor // (H, N)
	dB *tensor.CTensor // (H, N)
	c  *tensor.CTensor // (channels, H, N)
}

// NewDiagonal initialises a provider with log-spaced timesteps, the diagonal
// w_n = -1/2 + iπn, B = 1 and complex normal C drawn from opts.Seed.
func NewDiagonal(opts Options) (*Diagonal, error) {
	if opts.Features <= 0 || opts.Channels <= 0 {
		return nil, fmt.Errorf("%w: features=%d channels=%d", ErrInvalidParams, opts.Features, opts.Channels)
	}
	if opts.StateSize <= 0 || opts.StateSize%2 != 0 {
		return nil, fmt.Errorf("%w: state size %d must be positive and even", ErrInvalidParams, opts.StateSize)
	}
	if opts.DTMin <= 0 || opts.DTMax < opts.DTMin {
		return nil, fmt.Errorf("%w: dt range [%g, %g]", ErrInvalidParams, opts.DTMin, opts.DTMax)
	}
	h, half := opts.Features, opts.StateSize/2

	rng := rand.New(rand.NewSource(opts.Seed))
	logDT := make([]float64, h)
	lo, hi := math.Log(opts.DTMin), math.Log(opts.DTMax)
	for i := range logDT {
		logDT[i] = lo + rng.Float64()*(hi-lo)
	}

	w := tensor.NewComplex(h, half)
	b := tensor.NewComplex(h, half)
	for i := range h {
		wr, br := w.Row(i), b.Row(i)
		for n := range half {
			wr[n] = complex(-0.5, math.Pi*float64(n))
			br[n] = 1
		}
	}
	c := tensor.NewComplex(opts.Channels, h, half)
	tensor.FillComplexNormal(c, opts.Seed+1, math.Sqrt(0.5))

	return FromParams(Params{
		LogDT: logDT,
		W:     tensor.NewConjPair(w),
		B:     tensor.NewConjPair(b),
		C:     tensor.NewConjPair(c),
	})
}

// FromParams builds a provider over existing parameters, e.g. from a
// checkpoint.
func FromParams(p Params) (*Diagonal, error) {
	if p.W.Half() == nil || p.B.Half() == nil || p.C.Half() == nil {
		return nil, fmt.Errorf("%w: missing parameter", ErrInvalidParams)
	}
	ws, bs, cs := p.W.Shape(), p.B.Shape(), p.C.Shape()
	if len(ws) != 2 || !slices.Equal(ws, bs) || len(cs) != 3 {
		return nil, fmt.Errorf("%w: w %v, B %v, C %v", ErrInvalidParams, ws, bs, cs)
	}
	h, half := ws[0], ws[1]
	if len(p.LogDT) != h || cs[1] != h || cs[2] != half || cs[0] <= 0 || half <= 0 {
		return nil, fmt.Errorf("%w: log_dt %d, w %v, C %v", ErrInvalidParams, len(p.LogDT), ws, cs)
	}
	return &Diagonal{params: p, h: h, n: 2 * half, ch: cs[0]}, nil
}

func (d *Diagonal) Params() Params { return d.params }
func (d *Diagonal) Channels() int  { return d.ch }
func (d *Diagonal) Features() int  { return d.h }
func (d *Diagonal) StateSize() int { return d.n }

// DefaultState returns zeros of shape (batch..., H, N).
func (d *Diagonal) DefaultState(batch ...int) *tensor.CTensor {
	shape := append(slices.Clone(batch), d.h, d.n)
	return tensor.NewComplex(shape...)
}

// operators returns op after checking it against the provider's shapes, or
// a fresh expansion of the provider's parameters when op is nil.
func (d *Diagonal) operators(op *Operators) (*Operators, error) {
	if op == nil {
		return d.params.Expand(), nil
	}
	if len(op.DT) != d.h || op.W == nil || op.B == nil || op.C == nil ||
		!slices.Equal(op.W.Shape, []int{d.h, d.n}) || !op.W.SameShape(op.B) ||
		!slices.Equal(op.C.Shape, []int{d.ch, d.h, d.n}) {
		return nil, fmt.Errorf("%w: operators do not match provider (channels=%d H=%d N=%d)", tensor.ErrShape, d.ch, d.h, d.n)
	}
	return op, nil
}

// discretize applies the bilinear transform to already expanded operators.
func (d *Diagonal) discretize(op *Operators) *discrete {
	out := &discrete{
		dA: tensor.NewComplex(d.h, d.n),
		dB: tensor.NewComplex(d.h, d.n),
		c:  op.C,
	}
	for h := range d.h {
		dt := complex(op.DT[h], 0)
		wr, br := op.W.Row(h), op.B.Row(h)
		da, db := out.dA.Row(h), out.dB.Row(h)
		for n := range d.n {
			den := 1 - 0.5*dt*wr[n]
			da[n] = (1 + 0.5*dt*wr[n]) / den
			db[n] = dt * br[n] / den
		}
	}
	return out
}

// Kernel implements Provider.
func (d *Diagonal) Kernel(ctx context.Context, ops *Operators, length int, state *tensor.CTensor) (*tensor.Tensor, *tensor.Tensor, error) {
	if length < 0 {
		return nil, nil, fmt.Errorf("%w: negative kernel length %d", tensor.ErrShape, length)
	}
	if state != nil {
		if err := d.checkState(state); err != nil {
			return nil, nil, err
		}
	}
	ops, err := d.operators(ops)
	if err != nil {
		return nil, nil, err
	}
	logger.FromContext(ctx).Debug("computing ssm kernel", "length", length, "channels", d.ch, "features", d.h, "state_size", d.n)

	op := d.discretize(ops)
	k := tensor.New(d.ch, d.h, length)
	pow := make([]complex128, d.n)
	for c := range d.ch {
		for h := range d.h {
			cr, da, db := op.c.Row(c, h), op.dA.Row(h), op.dB.Row(h)
			for n := range d.n {
				pow[n] = cr[n] * db[n]
			}
			dst := k.Row(c, h)
			for l := range length {
				var sum complex128
				for n := range d.n {
					sum += pow[n]
					pow[n] *= da[n]
				}
				dst[l] = real(sum)
			}
		}
	}
	if state == nil {
		return k, nil, nil
	}

	batch := state.Shape[0]
	kState := tensor.New(batch, d.ch, d.h, length)
	for b := range batch {
		for c := range d.ch {
			for h := range d.h {
				cr, da, sr := op.c.Row(c, h), op.dA.Row(h), state.Row(b, h)
				for n := range d.n {
					pow[n] = cr[n] * da[n] * sr[n]
				}
				dst := kState.Row(b, c, h)
				for l := range length {
					var sum complex128
					for n := range d.n {
						sum += pow[n]
						pow[n] *= da[n]
					}
					dst[l] = real(sum)
				}
			}
		}
	}
	return k, kState, nil
}

// ForwardState implements Provider. The input state is not modified.
func (d *Diagonal) ForwardState(ops *Operators, u *tensor.Tensor, state *tensor.CTensor) (*tensor.CTensor, error) {
	if err := d.checkState(state); err != nil {
		return nil, err
	}
	if u.Dims() != 3 || u.Shape[0] != state.Shape[0] || u.Shape[1] != d.h {
		return nil, fmt.Errorf("%w: forward state u %v with state %v", tensor.ErrShape, u.Shape, state.Shape)
	}
	ops, err := d.operators(ops)
	if err != nil {
		return nil, err
	}
	op := d.discretize(ops)
	next := state.Clone()
	for b := range u.Shape[0] {
		for h := range d.h {
			x, da, db := next.Row(b, h), op.dA.Row(h), op.dB.Row(h)
			for _, v := range u.Row(b, h) {
				uv := complex(v, 0)
				for n := range d.n {
					x[n] = da[n]*x[n] + db[n]*uv
				}
			}
		}
	}
	return next, nil
}

// SetupStep implements Provider.
func (d *Diagonal) SetupStep() {
	d.step = d.discretize(d.params.Expand())
}

// Step implements Provider: x ← dA·x + dB·u, y = Re(C·x).
func (d *Diagonal) Step(u *tensor.Tensor, state *tensor.CTensor) (*tensor.Tensor, *tensor.CTensor, error) {
	op := d.step
	if op == nil {
		return nil, nil, ErrStepNotReady
	}
	if err := d.checkState(state); err != nil {
		return nil, nil, err
	}
	if u.Dims() != 2 || u.Shape[0] != state.Shape[0] || u.Shape[1] != d.h {
		return nil, nil, fmt.Errorf("%w: step u %v with state %v", tensor.ErrShape, u.Shape, state.Shape)
	}
	batch := u.Shape[0]
	next := state.Clone()
	y := tensor.New(batch, d.ch, d.h)
	for b := range batch {
		for h := range d.h {
			x, da, db := next.Row(b, h), op.dA.Row(h), op.dB.Row(h)
			uv := complex(u.Data[b*d.h+h], 0)
			for n := range d.n {
				x[n] = da[n]*x[n] + db[n]*uv
			}
			for c := range d.ch {
				var sum complex128
				for n, cv := range op.c.Row(c, h) {
					sum += cv * x[n]
				}
				y.Data[(b*d.ch+c)*d.h+h] = real(sum)
			}
		}
	}
	return y, next, nil
}

func (d *Diagonal) checkState(state *tensor.CTensor) error {
	if state == nil || state.Dims() != 3 || state.Shape[1] != d.h || state.Shape[2] != d.n {
		var shape []int
		if state != nil {
			shape = state.Shape
		}
		return fmt.Errorf("%w: state %v, want (B, %d, %d)", tensor.ErrShape, shape, d.h, d.n)
	}
	return nil
}
