package liquid

import (
	"errors"
	"math/cmplx"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/samcharles93/s4/internal/tensor"
)

func TestBase(t *testing.T) {
	t.Parallel()
	w, _ := tensor.ComplexFromData([]complex128{-0.5 + 1i, -0.5 - 1i}, 1, 2)
	b, _ := tensor.ComplexFromData([]complex128{1, 1}, 1, 2)
	dt := []float64{0.1}

	got, err := Base(dt, w, b)
	if err != nil {
		t.Fatal(err)
	}
	for i, wv := range w.Data {
		want := 0.1 / (1 - 0.05*wv)
		if cmplx.Abs(got.Data[i]-want) > 1e-12 {
			t.Fatalf("dB[%d] = %v want %v", i, got.Data[i], want)
		}
	}
}

func TestNextIsContractedOuterProduct(t *testing.T) {
	t.Parallel()
	dB, _ := tensor.ComplexFromData([]complex128{1 + 1i, 2, -1i, 0.5, 3, 1 - 2i}, 2, 3)
	got := Next(dB)
	for h := range 2 {
		row := dB.Row(h)
		for a := range 3 {
			var want complex128
			for bIdx := range 3 {
				want += row[a] * row[bIdx]
			}
			if cmplx.Abs(got.Row(h)[a]-want) > 1e-12 {
				t.Fatalf("next[%d,%d] = %v want %v", h, a, got.Row(h)[a], want)
			}
		}
	}
}

func TestCouplingsFold(t *testing.T) {
	t.Parallel()
	w, _ := tensor.ComplexFromData([]complex128{-0.5 + 3i, -0.5 - 3i}, 1, 2)
	b, _ := tensor.ComplexFromData([]complex128{1, 1}, 1, 2)
	dt := []float64{0.01}

	none, err := Couplings(dt, w, b, 0)
	if err != nil || none != nil {
		t.Fatalf("degree 0: got %v, %v", none, err)
	}

	cs, err := Couplings(dt, w, b, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(cs) != 3 {
		t.Fatalf("expected 3 couplings, got %d", len(cs))
	}
	base, _ := Base(dt, w, b)
	prev := base
	for i, c := range cs {
		want := Next(prev)
		if !slices.Equal(c.Data, want.Data) {
			t.Fatalf("coupling %d does not follow from %d", i, i-1)
		}
		prev = c
	}
	// Recomputing is deterministic and does not depend on earlier calls.
	again, _ := Couplings(dt, w, b, 3)
	for i := range cs {
		if !slices.Equal(cs[i].Data, again[i].Data) {
			t.Fatalf("coupling %d differs between calls", i)
		}
	}
}

func TestApplyNoCouplingsIsNoop(t *testing.T) {
	t.Parallel()
	y := tensor.New(1, 1, 2, 4)
	tensor.FillRand(y, 1)
	before := y.Clone()
	u := tensor.New(1, 2, 4)
	tensor.FillRand(u, 2)
	if err := Apply(y, u, tensor.NewComplex(1, 2, 2), nil, false); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(before.Data, y.Data) {
		t.Fatalf("y changed without couplings")
	}
}

func TestApplyRunningProduct(t *testing.T) {
	t.Parallel()
	u, _ := tensor.FromData([]float64{1, 2, 3, 4}, 1, 1, 4)
	c, _ := tensor.ComplexFromData([]complex128{1, 1}, 1, 1, 2)
	d1, _ := tensor.ComplexFromData([]complex128{0.5, 0.5}, 1, 2)
	d2, _ := tensor.ComplexFromData([]complex128{0.25, 0.25}, 1, 2)

	y := tensor.New(1, 1, 1, 4)
	if err := Apply(y, u, c, []*tensor.CTensor{d1, d2}, false); err != nil {
		t.Fatal(err)
	}
	// degree 2: us = [0, 2, 6, 12], weight 1
	// degree 3: us = [0, 0, 12, 72], weight 0.5
	want := []float64{0, 2, 6 + 6, 12 + 36}
	if diff := cmp.Diff(want, y.Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestApplyBidirectional(t *testing.T) {
	t.Parallel()
	u, _ := tensor.FromData([]float64{1, 2, 3}, 1, 1, 3)
	// forward channel weight 1, backward channel weight 10
	c, _ := tensor.ComplexFromData([]complex128{1, 0, 10, 0}, 2, 1, 2)
	d, _ := tensor.ComplexFromData([]complex128{1, 0}, 1, 2)

	y := tensor.New(1, 1, 1, 3)
	if err := Apply(y, u, c, []*tensor.CTensor{d}, true); err != nil {
		t.Fatal(err)
	}
	// us = [0, 2, 6]; reversed [6, 2, 0]
	want := []float64{0 + 60, 2 + 20, 6 + 0}
	if diff := cmp.Diff(want, y.Data, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestApplyDiscardsImaginaryPart(t *testing.T) {
	t.Parallel()
	u, _ := tensor.FromData([]float64{1, 1}, 1, 1, 2)
	c, _ := tensor.ComplexFromData([]complex128{1i, 2}, 1, 1, 2)
	d, _ := tensor.ComplexFromData([]complex128{1, 1i}, 1, 2)

	y := tensor.New(1, 1, 1, 2)
	if err := Apply(y, u, c, []*tensor.CTensor{d}, false); err != nil {
		t.Fatal(err)
	}
	// dCB = 1i + 2i: purely imaginary, contributes nothing.
	if diff := cmp.Diff([]float64{0, 0}, y.Data); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestApplyShapeMismatch(t *testing.T) {
	t.Parallel()
	y := tensor.New(1, 1, 2, 4)
	u := tensor.New(1, 2, 4)
	c := tensor.NewComplex(1, 2, 2)
	d := tensor.NewComplex(2, 2)
	// bidirectional needs twice as many C channels as y has.
	if err := Apply(y, u, c, []*tensor.CTensor{d}, true); !errors.Is(err, tensor.ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
	if err := Apply(y, u, c, []*tensor.CTensor{tensor.NewComplex(2, 3)}, false); !errors.Is(err, tensor.ErrShape) {
		t.Fatalf("expected ErrShape for coupling, got %v", err)
	}
}
