package tensor

import (
	"fmt"
	"math/cmplx"
	"math/rand"
	"slices"
	"sync/atomic"
)

// CTensor is a dense row-major array of complex128 values.
type CTensor struct {
	Shape []int
	Data  []complex128
}

// NewComplex allocates a zeroed complex tensor.
func NewComplex(shape ...int) *CTensor {
	n, err := numElements(shape)
	if err != nil {
		panic(err)
	}
	return &CTensor{Shape: slices.Clone(shape), Data: make([]complex128, n)}
}

// ComplexFromData wraps data in a complex tensor. data is not copied.
func ComplexFromData(data []complex128, shape ...int) (*CTensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return &CTensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Dims returns the number of axes.
func (t *CTensor) Dims() int { return len(t.Shape) }

// Dim returns the size of axis i. Negative i counts from the end.
func (t *CTensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Clone returns a deep copy.
func (t *CTensor) Clone() *CTensor {
	return &CTensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Row returns the contiguous last-axis slice addressed by the leading indices.
func (t *CTensor) Row(idx ...int) []complex128 {
	if len(idx) != len(t.Shape)-1 {
		panic("tensor: row index arity mismatch")
	}
	off := 0
	for i, v := range idx {
		if v < 0 || v >= t.Shape[i] {
			panic("tensor: row index out of range")
		}
		off = off*t.Shape[i] + v
	}
	n := t.Shape[len(t.Shape)-1]
	return t.Data[off*n : (off+1)*n]
}

// SameShape reports whether a and b have identical shapes.
func (t *CTensor) SameShape(o *CTensor) bool {
	return slices.Equal(t.Shape, o.Shape)
}

// FillComplexNormal fills t with reproducible complex normal samples whose
// real and imaginary parts are each N(0, std²).
func FillComplexNormal(t *CTensor, seed int64, std float64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.Data {
		t.Data[i] = complex(rng.NormFloat64()*std, rng.NormFloat64()*std)
	}
}

// ConjPair holds parameters in conjugate-symmetric compact storage: only one
// member of each complex-conjugate pair is kept along the last axis.
//
// Expand is the only way to obtain values usable in arithmetic. It returns a
// plain *CTensor, so an expanded tensor cannot be expanded a second time.
type ConjPair struct {
	half       *CTensor
	expansions *atomic.Int64
}

// NewConjPair wraps the stored half. The tensor is owned by the pair.
func NewConjPair(half *CTensor) ConjPair {
	return ConjPair{half: half, expansions: new(atomic.Int64)}
}

// Expansions reports how many times Expand has been called on this pair or
// any copy of it.
func (p ConjPair) Expansions() int64 {
	if p.expansions == nil {
		return 0
	}
	return p.expansions.Load()
}

// Half returns the stored half. Callers must treat it as read-only.
func (p ConjPair) Half() *CTensor { return p.half }

// Shape returns the shape of the stored half.
func (p ConjPair) Shape() []int { return slices.Clone(p.half.Shape) }

// Expand returns [half, conj(half)] concatenated along the last axis.
func (p ConjPair) Expand() *CTensor {
	if p.expansions != nil {
		p.expansions.Add(1)
	}
	n := p.half.Dim(-1)
	shape := slices.Clone(p.half.Shape)
	shape[len(shape)-1] = 2 * n
	out := NewComplex(shape...)
	rows := 0
	if n > 0 {
		rows = len(p.half.Data) / n
	}
	for r := range rows {
		src := p.half.Data[r*n : (r+1)*n]
		dst := out.Data[r*2*n : (r+1)*2*n]
		copy(dst[:n], src)
		for i, v := range src {
			dst[n+i] = cmplx.Conj(v)
		}
	}
	return out
}
