// Package harness checks the recurrence/convolution duality of an S4 layer:
// one full forward pass, a step-by-step pass and a chunked pass over the
// same input and initial state must agree.
package harness

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/samcharles93/s4/internal/logger"
	"github.com/samcharles93/s4/internal/s4"
	"github.com/samcharles93/s4/internal/tensor"
)

// Options configures a harness run.
type Options struct {
	Batch  int
	Length int
	Chunks int
	// RandomInit starts from a random conjugate-symmetric state instead of
	// zeros.
	RandomInit bool
	// RandomInput draws the input uniformly; otherwise it is all ones.
	RandomInput bool
	Seed        int64
	Tolerance   float64
}

// DefaultOptions mirrors the classic state test: B=2, L=8, 4 chunks.
func DefaultOptions() Options {
	return Options{Batch: 2, Length: 8, Chunks: 4, RandomInit: true, Tolerance: 1e-4}
}

// Report is the outcome of a run. Errors are max absolute differences
// against the full forward pass.
type Report struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Config    s4.Config `json:"config"`
	Options   Options   `json:"options"`

	StepOutputError  float64 `json:"step_output_error"`
	StepStateError   float64 `json:"step_state_error"`
	ChunkOutputError float64 `json:"chunk_output_error"`
	ChunkStateError  float64 `json:"chunk_state_error"`

	Elapsed time.Duration `json:"elapsed_ns"`
	Passed  bool          `json:"passed"`
}

// MaxError is the largest of the four errors.
func (r *Report) MaxError() float64 {
	return max(r.StepOutputError, r.StepStateError, r.ChunkOutputError, r.ChunkStateError)
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// Run puts the layer in evaluation mode, prepares stepping and compares the
// three evaluation strategies.
func Run(ctx context.Context, l *s4.Layer, opts Options) (*Report, error) {
	if opts.Batch <= 0 || opts.Length <= 0 || opts.Chunks <= 0 || opts.Length%opts.Chunks != 0 {
		return nil, fmt.Errorf("harness: length %d must split into %d chunks (batch %d)", opts.Length, opts.Chunks, opts.Batch)
	}
	cfg := l.Config()
	if !cfg.Transposed {
		return nil, fmt.Errorf("harness: needs a transposed (B, H, L) layer")
	}
	log := logger.FromContext(ctx)
	report := &Report{RunID: uuid.NewString(), StartedAt: time.Now().UTC(), Config: cfg, Options: opts}
	log = log.With("run_id", report.RunID)

	l.Eval()
	l.SetupStep()

	u := tensor.New(opts.Batch, cfg.DModel, opts.Length)
	if opts.RandomInput {
		tensor.FillRand(u, opts.Seed)
	} else {
		for i := range u.Data {
			u.Data[i] = 1
		}
	}
	init := l.DefaultState(opts.Batch)
	if opts.RandomInit {
		init = randomState(opts.Batch, cfg.DModel, cfg.DState, opts.Seed+1)
	}

	start := time.Now()
	full, fullState, err := l.Forward(ctx, u, init)
	if err != nil {
		return nil, fmt.Errorf("full forward: %w", err)
	}
	log.Debug("full forward", "shape", fmt.Sprint(full.Shape))

	stepped, stepState, err := stepAll(ctx, l, u, init)
	if err != nil {
		return nil, err
	}
	if report.StepOutputError, err = tensor.MaxAbsDiff(stepped, full); err != nil {
		return nil, err
	}
	report.StepStateError = stateError(stepState, fullState)

	chunked, chunkState, err := chunkAll(ctx, l, u, init, opts.Chunks)
	if err != nil {
		return nil, err
	}
	if report.ChunkOutputError, err = tensor.MaxAbsDiff(chunked, full); err != nil {
		return nil, err
	}
	report.ChunkStateError = stateError(chunkState, fullState)

	report.Elapsed = time.Since(start)
	report.Passed = report.MaxError() <= opts.Tolerance
	log.Info("state check finished",
		"step_output_error", report.StepOutputError,
		"step_state_error", report.StepStateError,
		"chunk_output_error", report.ChunkOutputError,
		"chunk_state_error", report.ChunkStateError,
		"passed", report.Passed,
		"took", report.Elapsed,
	)
	return report, nil
}

func stepAll(ctx context.Context, l *s4.Layer, u *tensor.Tensor, state *tensor.CTensor) (*tensor.Tensor, *tensor.CTensor, error) {
	length := u.Dim(-1)
	ys := make([]*tensor.Tensor, 0, length)
	for i := range length {
		y, next, err := l.Step(ctx, u.At(i), state)
		if err != nil {
			return nil, nil, fmt.Errorf("step %d: %w", i, err)
		}
		ys = append(ys, y)
		state = next
	}
	out, err := tensor.StackLast(ys)
	return out, state, err
}

func chunkAll(ctx context.Context, l *s4.Layer, u *tensor.Tensor, state *tensor.CTensor, chunks int) (*tensor.Tensor, *tensor.CTensor, error) {
	pieces, err := u.SplitLast(chunks)
	if err != nil {
		return nil, nil, err
	}
	ys := make([]*tensor.Tensor, 0, chunks)
	for i, piece := range pieces {
		y, next, err := l.Forward(ctx, piece, state)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		ys = append(ys, y)
		state = next
	}
	out, err := tensor.ConcatLast(ys...)
	return out, state, err
}

func randomState(batch, h, n int, seed int64) *tensor.CTensor {
	half := tensor.NewComplex(batch, h, n/2)
	tensor.FillComplexNormal(half, seed, 1)
	return tensor.NewConjPair(half).Expand()
}

// stateError is the largest absolute difference of the real or imaginary
// part between two states.
func stateError(a, b *tensor.CTensor) float64 {
	if !a.SameShape(b) {
		return math.Inf(1)
	}
	if len(a.Data) == 0 {
		return 0
	}
	return floats.Distance(interleave(a.Data), interleave(b.Data), math.Inf(1))
}

func interleave(z []complex128) []float64 {
	out := make([]float64, 2*len(z))
	for i, v := range z {
		out[2*i], out[2*i+1] = real(v), imag(v)
	}
	return out
}
