package checkpoint

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/s4"
	"github.com/samcharles93/s4/internal/tensor"
)

func testContext() context.Context {
	return logger.WithContext(context.Background(), logger.Discard())
}

func testLayer(t *testing.T, edit func(*s4.Config)) *s4.Layer {
	t.Helper()
	cfg := s4.DefaultConfig(3)
	cfg.DState = 4
	cfg.Channels = 2
	cfg.LN = true
	cfg.LiquidDegree = 1
	cfg.Seed = 9
	if edit != nil {
		edit(&cfg)
	}
	l, err := s4.New(testContext(), cfg)
	if err != nil {
		t.Fatalf("s4.New: %v", err)
	}
	return l
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		dtype string
		tol   float64
	}{
		{"F64", 0},
		{"F32", 1e-5},
		{"F16", 5e-2},
		{"BF16", 2e-1},
	}
	for _, tc := range tests {
		t.Run(tc.dtype, func(t *testing.T) {
			t.Parallel()
			l := testLayer(t, nil)
			path := filepath.Join(t.TempDir(), "layer.safetensors")
			if err := Save(testContext(), path, l, tc.dtype); err != nil {
				t.Fatalf("Save: %v", err)
			}
			loaded, err := Load(testContext(), path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if diff := cmp.Diff(l.Config(), loaded.Config()); diff != "" {
				t.Fatalf("config mismatch (-want +got):\n%s", diff)
			}

			u := tensor.New(1, 3, 8)
			tensor.FillRand(u, 1)
			want, _, err := l.Forward(testContext(), u, nil)
			if err != nil {
				t.Fatal(err)
			}
			got, _, err := loaded.Forward(testContext(), u, nil)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want.Data, got.Data, cmpopts.EquateApprox(0, tc.tol)); diff != "" {
				t.Fatalf("forward mismatch after %s round trip (-want +got):\n%s", tc.dtype, diff)
			}
		})
	}
}

func TestLinearLayerOmitsHead(t *testing.T) {
	t.Parallel()
	l := testLayer(t, func(c *s4.Config) { c.Linear = true })
	names := map[string]bool{}
	for _, e := range Entries(l) {
		names[e.Name] = true
	}
	for _, name := range []string{LogDT, W, B, C, D} {
		if !names[name] {
			t.Errorf("missing %s", name)
		}
	}
	for _, name := range []string{NormWeight, OutWeight, OutBias} {
		if names[name] {
			t.Errorf("linear layer should not store %s", name)
		}
	}

	path := filepath.Join(t.TempDir(), "linear.safetensors")
	if err := Save(testContext(), path, l, "F64"); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(testContext(), path); err != nil {
		t.Fatalf("Load linear: %v", err)
	}
}

func TestFileLayout(t *testing.T) {
	t.Parallel()
	l := testLayer(t, nil)
	path := filepath.Join(t.TempDir(), "layer.safetensors")
	if err := Save(testContext(), path, l, "F32"); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = f.Close() }()

	if f.Metadata[formatKey] != format {
		t.Fatalf("format metadata %q", f.Metadata[formatKey])
	}
	info, ok := f.Tensor(C)
	if !ok {
		t.Fatal("kernel.C not found")
	}
	// (channels, H, N/2, re/im)
	if diff := cmp.Diff([]int{2, 3, 2, 2}, info.Shape); diff != "" {
		t.Fatalf("kernel.C shape (-want +got):\n%s", diff)
	}
	if info.DType != "F32" {
		t.Fatalf("dtype %s", info.DType)
	}
	names := f.Names()
	if len(names) != len(Entries(l)) || names[0] != LogDT {
		t.Fatalf("names %v", names)
	}
	raw, _, err := f.Raw(LogDT)
	if err != nil {
		t.Fatal(err)
	}
	first := math.Float32frombits(binary.LittleEndian.Uint32(raw))
	if want := float32(l.Kernel().Params().LogDT[0]); first != want {
		t.Fatalf("log_dt[0] = %v, want %v", first, want)
	}
}

func TestReadMissingTensor(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "one.safetensors")
	if err := Write(path, []Entry{{Name: "x", Shape: []int{2}, Data: []float64{1, 2}}}, nil, "F64"); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()
	if _, _, err := f.ReadFloat64("y"); !errors.Is(err, ErrTensorNotFound) {
		t.Fatalf("expected ErrTensorNotFound, got %v", err)
	}
	if _, err := f.Config(); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("expected ErrCorruptFile for missing config, got %v", err)
	}
	got, _, err := f.ReadFloat64("x")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float64{1, 2}, got); diff != "" {
		t.Fatalf("x (-want +got):\n%s", diff)
	}
}

func TestHalfPrecisionDecoding(t *testing.T) {
	t.Parallel()
	values := []float64{0, 1, -2.5, 0.1, 65504}
	for _, dtype := range []string{"F16", "BF16"} {
		path := filepath.Join(t.TempDir(), dtype+".safetensors")
		if err := Write(path, []Entry{{Name: "v", Shape: []int{len(values)}, Data: values}}, nil, dtype); err != nil {
			t.Fatal(err)
		}
		f, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		got, _, err := f.ReadFloat64("v")
		_ = f.Close()
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(values, got, cmpopts.EquateApprox(1e-2, 0)); diff != "" {
			t.Errorf("%s decode (-want +got):\n%s", dtype, diff)
		}
	}
}

func TestOpenCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	short := filepath.Join(dir, "short")
	if err := os.WriteFile(short, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(short); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("short file: expected ErrCorruptFile, got %v", err)
	}

	huge := filepath.Join(dir, "huge")
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf, 1<<40)
	if err := os.WriteFile(huge, buf, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(huge); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("huge header: expected ErrCorruptFile, got %v", err)
	}

	bad := filepath.Join(dir, "offsets")
	hdr := []byte(`{"x":{"dtype":"F32","shape":[4],"data_offsets":[0,16]}}`)
	data := make([]byte, 8+len(hdr)+4)
	binary.LittleEndian.PutUint64(data, uint64(len(hdr)))
	copy(data[8:], hdr)
	if err := os.WriteFile(bad, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(bad); !errors.Is(err, ErrCorruptFile) {
		t.Fatalf("out of range offsets: expected ErrCorruptFile, got %v", err)
	}
}

func TestWriteRejectsBadEntries(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.safetensors")
	if err := Write(path, []Entry{{Name: "x", Shape: []int{3}, Data: []float64{1}}}, nil, "F32"); err == nil {
		t.Fatal("expected error for shape/data mismatch")
	}
	if err := Write(path, nil, nil, "I8"); err == nil {
		t.Fatal("expected error for unsupported dtype")
	}
	dup := []Entry{{Name: "x", Shape: []int{1}, Data: []float64{1}}, {Name: "x", Shape: []int{1}, Data: []float64{2}}}
	if err := Write(path, dup, nil, "F32"); err == nil {
		t.Fatal("expected error for duplicate names")
	}
}
