package tensor

import (
	"fmt"
	"math"
)

// Activation is an element-wise nonlinearity.
type Activation func(float64) float64

// ParseActivation resolves an activation by name. The empty string and
// "id", "identity" or "linear" map to the identity. "glu" is not element-wise
// and is handled by the caller.
func ParseActivation(name string) (Activation, error) {
	switch name {
	case "", "id", "identity", "linear":
		return Identity, nil
	case "gelu":
		return GELU, nil
	case "relu":
		return ReLU, nil
	case "tanh":
		return math.Tanh, nil
	case "sigmoid":
		return Sigmoid, nil
	case "silu", "swish":
		return Silu, nil
	case "sqrelu":
		return SquaredReLU, nil
	default:
		return nil, fmt.Errorf("unsupported activation %q", name)
	}
}

// Apply applies act to every element of t in place.
func (t *Tensor) Apply(act Activation) {
	for i, v := range t.Data {
		t.Data[i] = act(v)
	}
}

// Identity returns x.
func Identity(x float64) float64 { return x }

// GELU is the exact (erf based) Gaussian error linear unit.
func GELU(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

// ReLU computes max(x, 0).
func ReLU(x float64) float64 { return max(x, 0) }

// SquaredReLU computes max(x, 0)².
func SquaredReLU(x float64) float64 {
	r := max(x, 0)
	return r * r
}

// Sigmoid computes the logistic sigmoid activation.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

// Silu computes the Sigmoid Linear Unit (SiLU) activation.
func Silu(x float64) float64 {
	return x * Sigmoid(x)
}

// LayerNorm normalises src to zero mean and unit variance and applies the
// affine weight and bias. Nil weight or bias skip that part of the affine map.
func LayerNorm(dst, src, weight, bias []float64, eps float64) {
	n := float64(len(src))
	var mean float64
	for _, v := range src {
		mean += v
	}
	mean /= n
	var variance float64
	for _, v := range src {
		d := v - mean
		variance += d * d
	}
	variance /= n
	scale := 1.0 / math.Sqrt(variance+eps)
	for i, v := range src {
		out := (v - mean) * scale
		if weight != nil {
			out *= weight[i]
		}
		if bias != nil {
			out += bias[i]
		}
		dst[i] = out
	}
}
