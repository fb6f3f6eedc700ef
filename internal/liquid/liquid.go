// Package liquid adds the higher-degree "liquid" correction terms to a
// state-space layer's convolution output.
//
// Each degree contributes the running product of time-shifted inputs weighted
// by a coupling built from the discretised input matrix. The couplings are a
// pure function of the discretisation parameters and the degree.
package liquid

import (
	"fmt"

	"github.com/samcharles93/s4/internal/tensor"
)

// Base returns the degree-1 coupling dt ⊙ (diag(1/(1 - dt·w/2)) @ B).
// w and b are expanded (H, N) tensors, dt has one entry per feature.
func Base(dt []float64, w, b *tensor.CTensor) (*tensor.CTensor, error) {
	if w.Dims() != 2 || !w.SameShape(b) || w.Shape[0] != len(dt) {
		return nil, fmt.Errorf("%w: coupling dt %d, w %v, B %v", tensor.ErrShape, len(dt), w.Shape, b.Shape)
	}
	feats, n := w.Shape[0], w.Shape[1]
	out := tensor.NewComplex(feats, n)
	for h := range feats {
		step := complex(dt[h], 0)
		wr, br, dst := w.Row(h), b.Row(h), out.Row(h)
		for i := range n {
			dst[i] = step * br[i] / (1 - 0.5*step*wr[i])
		}
	}
	return out, nil
}

// Next raises a coupling by one degree: the self outer product of each
// feature's row contracted over the shared state axis,
// next[h,a] = Σ_b dB[h,a]·dB[h,b].
func Next(dB *tensor.CTensor) *tensor.CTensor {
	feats, n := dB.Shape[0], dB.Shape[1]
	out := tensor.NewComplex(feats, n)
	for h := range feats {
		row := dB.Row(h)
		var sum complex128
		for _, v := range row {
			sum += v
		}
		dst := out.Row(h)
		for a, v := range row {
			dst[a] = v * sum
		}
	}
	return out
}

// Couplings returns the couplings for degrees 2..degree+1, in order. Degree 0
// returns nil.
func Couplings(dt []float64, w, b *tensor.CTensor, degree int) ([]*tensor.CTensor, error) {
	if degree <= 0 {
		return nil, nil
	}
	dB, err := Base(dt, w, b)
	if err != nil {
		return nil, err
	}
	out := make([]*tensor.CTensor, 0, degree)
	for range degree {
		dB = Next(dB)
		out = append(out, dB)
	}
	return out, nil
}

// Apply accumulates one correction term per coupling into y.
//
// y is (B, C, H, L), u is (B, H, L) and c is the expanded output matrix
// (C_total, H, N). When bidirectional, C_total = 2·C and the second half of
// c's channel axis weights the time-reversed running product.
//
// The running product starts from u and is multiplied by a one-step-delayed
// copy of itself each degree, with a zero entering at position 0. Only real
// parts are accumulated.
func Apply(y, u *tensor.Tensor, c *tensor.CTensor, couplings []*tensor.CTensor, bidirectional bool) error {
	if len(couplings) == 0 {
		return nil
	}
	if y.Dims() != 4 || u.Dims() != 3 || c.Dims() != 3 {
		return fmt.Errorf("%w: liquid y %v, u %v, C %v", tensor.ErrShape, y.Shape, u.Shape, c.Shape)
	}
	batch, channels, feats, length := y.Shape[0], y.Shape[1], y.Shape[2], y.Shape[3]
	total, n := c.Shape[0], c.Shape[2]
	want := channels
	if bidirectional {
		want = 2 * channels
	}
	if u.Shape[0] != batch || u.Shape[1] != feats || u.Shape[2] != length || total != want || c.Shape[1] != feats {
		return fmt.Errorf("%w: liquid y %v, u %v, C %v", tensor.ErrShape, y.Shape, u.Shape, c.Shape)
	}

	us := u.Clone()
	dCB := make([]float64, total*feats)
	for _, dB := range couplings {
		if dB.Dims() != 2 || dB.Shape[0] != feats || dB.Shape[1] != n {
			return fmt.Errorf("%w: coupling %v for C %v", tensor.ErrShape, dB.Shape, c.Shape)
		}
		shiftedProduct(us)

		for cc := range total {
			for h := range feats {
				var sum complex128
				cr, br := c.Row(cc, h), dB.Row(h)
				for i := range n {
					sum += cr[i] * br[i]
				}
				dCB[cc*feats+h] = real(sum)
			}
		}

		for b := range batch {
			for ch := range channels {
				for h := range feats {
					src := us.Row(b, h)
					dst := y.Row(b, ch, h)
					fwd := dCB[ch*feats+h]
					if !bidirectional {
						for l, v := range src {
							dst[l] += v * fwd
						}
						continue
					}
					bwd := dCB[(channels+ch)*feats+h]
					for l, v := range src {
						dst[l] += v*fwd + src[length-1-l]*bwd
					}
				}
			}
		}
	}
	return nil
}

// shiftedProduct replaces every row r of us with r ⊙ [0, r[0], ..., r[L-2]].
func shiftedProduct(us *tensor.Tensor) {
	length := us.Dim(-1)
	if length == 0 {
		return
	}
	rows := us.Len() / length
	for r := range rows {
		row := us.Data[r*length : (r+1)*length]
		// Walk backwards so row[l-1] is still the previous degree's value.
		for l := length - 1; l > 0; l-- {
			row[l] *= row[l-1]
		}
		row[0] = 0
	}
}
