package s4

import (
	"github.com/samcharles93/s4/internal/tensor"
)

// tail applies hyper gating, flattens (B, C, H, L) to (B, C·H, L) and,
// unless the layer is linear, runs the activation and the pointwise head.
func (l *Layer) tail(y *tensor.Tensor) (*tensor.Tensor, error) {
	if l.cfg.Hyper() {
		y = l.gate(y)
	}
	batch, channels, feats, length := y.Shape[0], y.Shape[1], y.Shape[2], y.Shape[3]
	flat, err := y.Reshape(batch, channels*feats, length)
	if err != nil {
		return nil, err
	}
	if l.cfg.Linear {
		return flat, nil
	}
	flat.Apply(l.act)
	return l.head(flat), nil
}

// gate splits the channel axis into y and yh and returns hyperAct(yh)·y.
func (l *Layer) gate(y *tensor.Tensor) *tensor.Tensor {
	batch, channels, feats, length := y.Shape[0], y.Shape[1]/2, y.Shape[2], y.Shape[3]
	out := tensor.New(batch, channels, feats, length)
	for b := range batch {
		for c := range channels {
			for h := range feats {
				dst := out.Row(b, c, h)
				val := y.Row(b, c, h)
				hyp := y.Row(b, channels+c, h)
				for i := range dst {
					dst[i] = l.hyperAct(hyp[i]) * val[i]
				}
			}
		}
	}
	return out
}

// head applies the optional layer norm and the output projection to every
// timestep of x (B, F, L), returning (B, H, L).
func (l *Layer) head(x *tensor.Tensor) *tensor.Tensor {
	batch, feats, length := x.Shape[0], x.Shape[1], x.Shape[2]
	rows := l.w.Output.R
	out := tensor.New(batch, l.cfg.DModel, length)

	col := make([]float64, feats)
	proj := make([]float64, rows)
	for b := range batch {
		for t := range length {
			for f := range feats {
				col[f] = x.Data[(b*feats+f)*length+t]
			}
			if l.cfg.LN {
				tensor.LayerNorm(col, col, l.w.NormWeight, l.w.NormBias, normEps)
			}
			tensor.MatVec(proj, &l.w.Output, col, l.w.OutputBias)
			for o := range l.cfg.DModel {
				v := proj[o]
				if l.cfg.glu() {
					v *= tensor.Sigmoid(proj[l.cfg.DModel+o])
				} else {
					v = l.postact(v)
				}
				out.Data[(b*l.cfg.DModel+o)*length+t] = v
			}
		}
	}
	return out
}
