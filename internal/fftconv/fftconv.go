// Package fftconv turns a per-channel impulse response into a full-sequence
// transform by zero-padded FFT multiplication.
//
// Shapes follow the layer convention: inputs are (batch, features, length),
// kernels are (channels, features, length) and outputs are
// (batch, channels, features, length).
package fftconv

import (
	"fmt"

	"github.com/samcharles93/s4/internal/tensor"
)

// Mode selects how the kernel is laid out before the FFT.
type Mode int

const (
	// Causal pads input and kernel with trailing zeros and keeps the first L
	// output samples.
	Causal Mode = iota
	// Shifted flips input and kernel, pads with leading zeros, keeps the last
	// L samples and flips back. The result trails Causal by one sample.
	Shifted
	// Bidirectional splits the channel axis into a forward and a backward
	// kernel and folds both into one 2L kernel.
	Bidirectional
)

func (m Mode) String() string {
	switch m {
	case Causal:
		return "causal"
	case Shifted:
		return "shifted"
	case Bidirectional:
		return "bidirectional"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Convolve computes y[b,c,h,:] = u[b,h,:] * k[c,h,:] under the given mode.
// In Bidirectional mode the returned channel count is half of k's.
func Convolve(u, k *tensor.Tensor, mode Mode) (*tensor.Tensor, error) {
	if u.Dims() != 3 || k.Dims() != 3 {
		return nil, fmt.Errorf("%w: convolve input %v with kernel %v", tensor.ErrShape, u.Shape, k.Shape)
	}
	batch, feats, length := u.Shape[0], u.Shape[1], u.Shape[2]
	channels := k.Shape[0]
	if k.Shape[1] != feats || k.Shape[2] != length {
		return nil, fmt.Errorf("%w: convolve input %v with kernel %v", tensor.ErrShape, u.Shape, k.Shape)
	}
	if length == 0 {
		outC := channels
		if mode == Bidirectional {
			outC /= 2
		}
		return tensor.New(batch, outC, feats, 0), nil
	}

	var kpad, upad *tensor.Tensor
	switch mode {
	case Causal:
		kpad = padLast(k, 0, length)
		upad = padLast(u, 0, length)
	case Shifted:
		kpad = padLast(k.FlipLast(), length, 0)
		upad = padLast(u.FlipLast(), length, 0)
	case Bidirectional:
		if channels%2 != 0 {
			return nil, fmt.Errorf("%w: bidirectional kernel needs an even channel count, got %d", tensor.ErrShape, channels)
		}
		kpad = foldBidirectional(k)
		upad = padLast(u, 0, length)
	default:
		return nil, fmt.Errorf("unknown convolution mode %v", mode)
	}

	n := 2 * length
	plan := getPlan(n)
	defer putPlan(n, plan)

	outC := kpad.Shape[0]
	kSpec := make([][]complex128, outC*feats)
	for c := range outC {
		for h := range feats {
			kSpec[c*feats+h] = plan.Coefficients(nil, kpad.Row(c, h))
		}
	}
	uSpec := make([][]complex128, batch*feats)
	for b := range batch {
		for h := range feats {
			uSpec[b*feats+h] = plan.Coefficients(nil, upad.Row(b, h))
		}
	}

	y := tensor.New(batch, outC, feats, length)
	prod := make([]complex128, n/2+1)
	seq := make([]float64, n)
	scale := 1.0 / float64(n)
	for b := range batch {
		for c := range outC {
			for h := range feats {
				us, ks := uSpec[b*feats+h], kSpec[c*feats+h]
				for f := range prod {
					prod[f] = us[f] * ks[f]
				}
				plan.Sequence(seq, prod)
				dst := y.Row(b, c, h)
				if mode == Shifted {
					// Keep the second half, reversed.
					for l := range length {
						dst[l] = seq[n-1-l] * scale
					}
					continue
				}
				for l := range length {
					dst[l] = seq[l] * scale
				}
			}
		}
	}
	return y, nil
}

// AddSkip adds the D term: y[b,c,h,l] += u[b,h,l] * D[c,h].
func AddSkip(y, u, d *tensor.Tensor) error {
	if y.Dims() != 4 || u.Dims() != 3 || d.Dims() != 2 {
		return fmt.Errorf("%w: skip y %v, u %v, D %v", tensor.ErrShape, y.Shape, u.Shape, d.Shape)
	}
	batch, channels, feats, length := y.Shape[0], y.Shape[1], y.Shape[2], y.Shape[3]
	if u.Shape[0] != batch || u.Shape[1] != feats || u.Shape[2] != length || d.Shape[0] != channels || d.Shape[1] != feats {
		return fmt.Errorf("%w: skip y %v, u %v, D %v", tensor.ErrShape, y.Shape, u.Shape, d.Shape)
	}
	for b := range batch {
		for c := range channels {
			for h := range feats {
				dv := d.Data[c*feats+h]
				dst := y.Row(b, c, h)
				src := u.Row(b, h)
				for l, v := range src {
					dst[l] += v * dv
				}
			}
		}
	}
	return nil
}

// padLast pads every last-axis row with before leading and after trailing
// zeros.
func padLast(t *tensor.Tensor, before, after int) *tensor.Tensor {
	n := t.Dim(-1)
	shape := append([]int(nil), t.Shape...)
	shape[len(shape)-1] = before + n + after
	out := tensor.New(shape...)
	w := shape[len(shape)-1]
	rows := 0
	if n > 0 {
		rows = t.Len() / n
	}
	for r := range rows {
		copy(out.Data[r*w+before:r*w+before+n], t.Data[r*n:(r+1)*n])
	}
	return out
}

// foldBidirectional builds pad(k0, (0, L)) + pad(flip(k1), (L, 0)) where k0
// and k1 are the first and second halves of the channel axis.
func foldBidirectional(k *tensor.Tensor) *tensor.Tensor {
	channels, feats, length := k.Shape[0], k.Shape[1], k.Shape[2]
	half := channels / 2
	out := tensor.New(half, feats, 2*length)
	for c := range half {
		for h := range feats {
			dst := out.Row(c, h)
			fwd := k.Row(c, h)
			bwd := k.Row(half+c, h)
			copy(dst[:length], fwd)
			for i := range length {
				dst[length+i] += bwd[length-1-i]
			}
		}
	}
	return out
}
