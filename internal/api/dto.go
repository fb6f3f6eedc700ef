package api

import (
	"fmt"

	"github.com/samcharles93/s4/internal/s4"
	"github.com/samcharles93/s4/internal/tensor"
)

// State is the wire form of a complex recurrent state: row-major real and
// imaginary parts of a (B, H, N) tensor.
type State struct {
	Shape []int     `json:"shape"`
	Real  []float64 `json:"real"`
	Imag  []float64 `json:"imag"`
}

type ForwardRequest struct {
	// Input is (B, H, L), or (B, L, H) for a non-transposed layer.
	Input      [][][]float64 `json:"input"`
	State      *State        `json:"state,omitempty"`
	StateID    string        `json:"state_id,omitempty"`
	StoreState bool          `json:"store_state,omitempty"`
}

type ForwardResponse struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Output  [][][]float64 `json:"output"`
	State   *State        `json:"state,omitempty"`
	StateID string        `json:"state_id,omitempty"`
}

type StepRequest struct {
	// Input is (B, H).
	Input      [][]float64 `json:"input"`
	State      *State      `json:"state,omitempty"`
	StateID    string      `json:"state_id,omitempty"`
	StoreState bool        `json:"store_state,omitempty"`
}

type StepResponse struct {
	ID      string      `json:"id"`
	Object  string      `json:"object"`
	Output  [][]float64 `json:"output"`
	State   *State      `json:"state"`
	StateID string      `json:"state_id,omitempty"`
}

type DefaultStateRequest struct {
	Batch      int  `json:"batch"`
	StoreState bool `json:"store_state,omitempty"`
}

type StateResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	State   *State `json:"state"`
	StateID string `json:"state_id,omitempty"`
}

type LayerResponse struct {
	Object         string    `json:"object"`
	Config         s4.Config `json:"config"`
	KernelChannels int       `json:"kernel_channels"`
	DState         int       `json:"d_state"`
	DOutput        int       `json:"d_output"`
	Training       bool      `json:"training"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

func encodeState(s *tensor.CTensor) *State {
	if s == nil {
		return nil
	}
	out := &State{
		Shape: append([]int(nil), s.Shape...),
		Real:  make([]float64, len(s.Data)),
		Imag:  make([]float64, len(s.Data)),
	}
	for i, v := range s.Data {
		out.Real[i], out.Imag[i] = real(v), imag(v)
	}
	return out
}

func decodeState(s *State) (*tensor.CTensor, error) {
	if len(s.Real) != len(s.Imag) {
		return nil, newInvalidRequest(fmt.Sprintf("state has %d real and %d imaginary values", len(s.Real), len(s.Imag)))
	}
	data := make([]complex128, len(s.Real))
	for i := range data {
		data[i] = complex(s.Real[i], s.Imag[i])
	}
	t, err := tensor.ComplexFromData(data, s.Shape...)
	if err != nil {
		return nil, newInvalidRequest("state: " + err.Error())
	}
	return t, nil
}

// decodeSequence packs a ragged-checked [][][]float64 into a 3-axis tensor.
func decodeSequence(in [][][]float64) (*tensor.Tensor, error) {
	if len(in) == 0 || len(in[0]) == 0 {
		return nil, newInvalidRequest("input must be a non-empty (batch, features, length) array")
	}
	b, f, l := len(in), len(in[0]), len(in[0][0])
	out := tensor.New(b, f, l)
	for i, rows := range in {
		if len(rows) != f {
			return nil, newInvalidRequest(fmt.Sprintf("input[%d] has %d rows, want %d", i, len(rows), f))
		}
		for j, row := range rows {
			if len(row) != l {
				return nil, newInvalidRequest(fmt.Sprintf("input[%d][%d] has %d values, want %d", i, j, len(row), l))
			}
			copy(out.Row(i, j), row)
		}
	}
	return out, nil
}

func decodeMatrix(in [][]float64) (*tensor.Tensor, error) {
	if len(in) == 0 {
		return nil, newInvalidRequest("input must be a non-empty (batch, features) array")
	}
	b, f := len(in), len(in[0])
	out := tensor.New(b, f)
	for i, row := range in {
		if len(row) != f {
			return nil, newInvalidRequest(fmt.Sprintf("input[%d] has %d values, want %d", i, len(row), f))
		}
		copy(out.Row(i), row)
	}
	return out, nil
}

func encodeSequence(t *tensor.Tensor) [][][]float64 {
	b, f := t.Shape[0], t.Shape[1]
	out := make([][][]float64, b)
	for i := range b {
		out[i] = make([][]float64, f)
		for j := range f {
			out[i][j] = append([]float64(nil), t.Row(i, j)...)
		}
	}
	return out
}

func encodeMatrix(t *tensor.Tensor) [][]float64 {
	out := make([][]float64, t.Shape[0])
	for i := range out {
		out[i] = append([]float64(nil), t.Row(i)...)
	}
	return out
}
