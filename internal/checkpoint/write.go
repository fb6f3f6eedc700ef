package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/d4l3k/go-bfloat16"
	"github.com/goccy/go-json"
	"github.com/x448/float16"
)

// Entry is a tensor queued for writing.
type Entry struct {
	Name  string
	Shape []int
	Data  []float64
}

// Write stores entries in a safetensors file, encoding every tensor as dtype
// (F64, F32, F16 or BF16). Entries are laid out in the given order.
func Write(path string, entries []Entry, metadata map[string]string, dtype string) error {
	size, err := dtypeSize(dtype)
	if err != nil {
		return err
	}

	header := make(map[string]any, len(entries)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	var off int64
	for _, e := range entries {
		n, err := numElements(e.Shape)
		if err != nil {
			return fmt.Errorf("tensor %s: %w", e.Name, err)
		}
		if n != len(e.Data) {
			return fmt.Errorf("tensor %s: %d values for shape %v", e.Name, len(e.Data), e.Shape)
		}
		if _, dup := header[e.Name]; dup {
			return fmt.Errorf("tensor %s: duplicate name", e.Name)
		}
		end := off + int64(n*size)
		header[e.Name] = tensorHeader{DType: dtype, Shape: e.Shape, DataOffsets: []int64{off, end}}
		off = end
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(hdr)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		_ = f.Close()
		return err
	}
	if _, err := w.Write(hdr); err != nil {
		_ = f.Close()
		return err
	}
	for _, e := range entries {
		if _, err := w.Write(encode(e.Data, dtype)); err != nil {
			_ = f.Close()
			return fmt.Errorf("write tensor %s: %w", e.Name, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func encode(data []float64, dtype string) []byte {
	switch dtype {
	case "F64":
		out := make([]byte, 8*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(v))
		}
		return out
	case "F32":
		out := make([]byte, 4*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(float32(v)))
		}
		return out
	case "F16":
		out := make([]byte, 2*len(data))
		for i, v := range data {
			binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(float32(v)).Bits())
		}
		return out
	default: // BF16
		f32 := make([]float32, len(data))
		for i, v := range data {
			f32[i] = float32(v)
		}
		return bfloat16.EncodeFloat32(f32)
	}
}
