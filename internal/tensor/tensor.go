package tensor

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShape is returned (wrapped) whenever operand shapes disagree.
	ErrShape = errors.New("tensor: shape mismatch")

	errNegativeDim = errors.New("tensor: negative dimension")
	errTooLarge    = errors.New("tensor: too large")
)

// Tensor is a dense row-major array of float64 values.
//
// The last axis is the contiguous one; for sequence data it is the time axis.
// Tensors returned by the helpers in this package never alias their inputs
// unless the doc comment says so (Reshape, Row).
type Tensor struct {
	Shape []int
	Data  []float64
}

// New allocates a zeroed tensor with the given shape.
func New(shape ...int) *Tensor {
	n, err := numElements(shape)
	if err != nil {
		panic(err)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float64, n)}
}

// FromData wraps data in a tensor with the given shape. data is not copied.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d values for shape %v", ErrShape, len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}, nil
}

// Dims returns the number of axes.
func (t *Tensor) Dims() int { return len(t.Shape) }

// Dim returns the size of axis i. Negative i counts from the end.
func (t *Tensor) Dim(i int) int {
	if i < 0 {
		i += len(t.Shape)
	}
	return t.Shape[i]
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{Shape: slices.Clone(t.Shape), Data: slices.Clone(t.Data)}
}

// Reshape returns a view of t with a new shape. The data is shared.
func (t *Tensor) Reshape(shape ...int) (*Tensor, error) {
	return FromData(t.Data, shape...)
}

// Row returns the contiguous last-axis slice addressed by the leading indices.
// The slice aliases t.Data.
func (t *Tensor) Row(idx ...int) []float64 {
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

// rows returns the number of last-axis rows.
func (t *Tensor) rows() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := t.Shape[len(t.Shape)-1]
	if n == 0 {
		return 0
	}
	return len(t.Data) / n
}

// FlipLast reverses every row along the last axis.
func (t *Tensor) FlipLast() *Tensor {
	out := t.Clone()
	n := t.Dim(-1)
	for r := range t.rows() {
		slices.Reverse(out.Data[r*n : (r+1)*n])
	}
	return out
}

// SwapLast transposes the last two axes.
func (t *Tensor) SwapLast() *Tensor {
	if len(t.Shape) < 2 {
		return t.Clone()
	}
	rows, cols := t.Dim(-2), t.Dim(-1)
	shape := slices.Clone(t.Shape)
	shape[len(shape)-2], shape[len(shape)-1] = cols, rows
	out := New(shape...)
	mats := 0
	if rows*cols > 0 {
		mats = len(t.Data) / (rows * cols)
	}
	for m := range mats {
		src := t.Data[m*rows*cols : (m+1)*rows*cols]
		dst := out.Data[m*rows*cols : (m+1)*rows*cols]
		for i := range rows {
			for j := range cols {
				dst[j*rows+i] = src[i*cols+j]
			}
		}
	}
	return out
}

// SplitLast splits t into n equal pieces along the last axis.
func (t *Tensor) SplitLast(n int) ([]*Tensor, error) {
	size := t.Dim(-1)
	if n <= 0 || size%n != 0 {
		return nil, fmt.Errorf("%w: cannot split length %d into %d chunks", ErrShape, size, n)
	}
	step := size / n
	out := make([]*Tensor, n)
	for i := range n {
		out[i] = t.SliceLast(i*step, (i+1)*step)
	}
	return out, nil
}

// SliceLast copies the [from, to) window of the last axis.
func (t *Tensor) SliceLast(from, to int) *Tensor {
	n := t.Dim(-1)
	if from < 0 || to > n || from > to {
		panic("tensor: slice bounds out of range")
	}
	shape := slices.Clone(t.Shape)
	shape[len(shape)-1] = to - from
	out := New(shape...)
	w := to - from
	for r := range t.rows() {
		copy(out.Data[r*w:(r+1)*w], t.Data[r*n+from:r*n+to])
	}
	return out
}

// At returns the slice of the last axis at position l, dropping that axis.
func (t *Tensor) At(l int) *Tensor {
	n := t.Dim(-1)
	out := New(t.Shape[:len(t.Shape)-1]...)
	for r := range t.rows() {
		out.Data[r] = t.Data[r*n+l]
	}
	return out
}

// ConcatLast joins tensors along the last axis. Leading shapes must agree.
func ConcatLast(ts ...*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to concatenate", ErrShape)
	}
	lead := ts[0].Shape[:len(ts[0].Shape)-1]
	total := 0
	for _, x := range ts {
		if !slices.Equal(x.Shape[:len(x.Shape)-1], lead) {
			return nil, fmt.Errorf("%w: concat %v with %v", ErrShape, ts[0].Shape, x.Shape)
		}
		total += x.Dim(-1)
	}
	shape := append(slices.Clone(lead), total)
	out := New(shape...)
	rows := out.rows()
	off := 0
	for _, x := range ts {
		w := x.Dim(-1)
		for r := range rows {
			copy(out.Data[r*total+off:r*total+off+w], x.Data[r*w:(r+1)*w])
		}
		off += w
	}
	return out, nil
}

// StackLast stacks equally shaped tensors along a new trailing axis.
func StackLast(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: nothing to stack", ErrShape)
	}
	n := len(ts)
	shape := append(slices.Clone(ts[0].Shape), n)
	out := New(shape...)
	for l, x := range ts {
		if !slices.Equal(x.Shape, ts[0].Shape) {
			return nil, fmt.Errorf("%w: stack %v with %v", ErrShape, ts[0].Shape, x.Shape)
		}
		for i, v := range x.Data {
			out.Data[i*n+l] = v
		}
	}
	return out, nil
}

// Add adds src into t element-wise.
func (t *Tensor) Add(src *Tensor) error {
	if !slices.Equal(t.Shape, src.Shape) {
		return fmt.Errorf("%w: add %v and %v", ErrShape, t.Shape, src.Shape)
	}
	floats.Add(t.Data, src.Data)
	return nil
}

// MaxAbsDiff returns max_i |a_i - b_i|.
func MaxAbsDiff(a, b *Tensor) (float64, error) {
	if !slices.Equal(a.Shape, b.Shape) {
		return 0, fmt.Errorf("%w: compare %v and %v", ErrShape, a.Shape, b.Shape)
	}
	if len(a.Data) == 0 {
		return 0, nil
	}
	return floats.Distance(a.Data, b.Data, math.Inf(1)), nil
}

// FillRand fills t with reproducible uniform values in [-0.5, 0.5).
func FillRand(t *Tensor, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.Data {
		t.Data[i] = rng.Float64() - 0.5
	}
}

// FillNormal fills t with reproducible N(0, std²) samples.
func FillNormal(t *Tensor, seed int64, std float64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * std
	}
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errNegativeDim
		}
		if d != 0 && n > math.MaxInt/d {
			return 0, errTooLarge
		}
		n *= d
	}
	return n, nil
}
