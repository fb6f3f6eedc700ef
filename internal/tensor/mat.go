package tensor

import (
	"fmt"
	"math/rand"
)

// Mat represents a dense row-major matrix of float64 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows (equal to C for
// matrices built here). Out-of-range indices panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float64
}

// NewMat allocates a zeroed R×C matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float64, r*c)}
}

// NewMatFromData creates a matrix over existing data without copying.
func NewMatFromData(r, c int, data []float64) (Mat, error) {
	if r < 0 || c < 0 {
		return Mat{}, errNegativeDim
	}
	if r*c != len(data) {
		return Mat{}, fmt.Errorf("%w: %d values for %dx%d matrix", ErrShape, len(data), r, c)
	}
	return Mat{R: r, C: c, Stride: c, Data: data}, nil
}

// Row returns a view of the i-th row.
func (m *Mat) Row(i int) []float64 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// MatVec computes dst = m·x (+ bias when bias is non-nil).
func MatVec(dst []float64, m *Mat, x, bias []float64) {
	if len(dst) < m.R || len(x) < m.C {
		panic("matvec shape mismatch")
	}
	for i := range m.R {
		row := m.Row(i)
		var sum float64
		for j, w := range row {
			sum += w * x[j]
		}
		if bias != nil {
			sum += bias[i]
		}
		dst[i] = sum
	}
}

// FillRandMat fills m with reproducible values drawn uniformly from
// (-scale, scale). Multiple calls with the same seed produce identical
// matrices.
func FillRandMat(m *Mat, seed int64, scale float64) {
	rng := rand.New(rand.NewSource(seed))
	for i := range m.Data {
		m.Data[i] = (2*rng.Float64() - 1) * scale
	}
}
