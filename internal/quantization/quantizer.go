package quantization

import (
	"context"
	"encoding/binary"
	"errors"
	"math"

	"github.com/hupe1980/knnlib/distance"
)

var (
	// ErrNotTrained is returned when an encoder is used before training.
	ErrNotTrained = errors.New("quantization: encoder not trained")
	// ErrDimension is returned for vectors or codes of the wrong size.
	ErrDimension = errors.New("quantization: dimension mismatch")
)

// Scorer returns the ranking key (smaller is closer) between a fixed query and
// one stored code.
type Scorer func(code []byte) float32

// Encoder turns vectors into fixed-size codes.
type Encoder interface {
	// Name is the description token of the encoder, e.g. "Flat" or "PQ8".
	Name() string
	// CodeSize is the number of bytes per encoded vector.
	CodeSize() int
	IsTrained() bool
	// Train fits the encoder on n flattened vectors using at most workers goroutines.
	Train(ctx context.Context, vectors []float32, workers int) error
	// Encode appends the code of vec to dst.
	Encode(dst []byte, vec []float32) ([]byte, error)
	// Scorer prepares distance evaluation for one query.
	Scorer(query []float32, metric distance.Metric) (Scorer, error)
}

// FlatEncoder stores vectors verbatim as little-endian float32.
type FlatEncoder struct {
	dim int
}

// NewFlatEncoder creates a flat encoder for vectors of the given dimension.
func NewFlatEncoder(dim int) *FlatEncoder { return &FlatEncoder{dim: dim} }

func (e *FlatEncoder) Name() string    { return "Flat" }
func (e *FlatEncoder) CodeSize() int   { return e.dim * 4 }
func (e *FlatEncoder) IsTrained() bool { return true }

func (e *FlatEncoder) Train(context.Context, []float32, int) error { return nil }

func (e *FlatEncoder) Encode(dst []byte, vec []float32) ([]byte, error) {
	if len(vec) != e.dim {
		return dst, ErrDimension
	}
	for _, v := range vec {
		dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(v))
	}
	return dst, nil
}

// Decode reconstructs the vector stored in code.
func (e *FlatEncoder) Decode(dst []float32, code []byte) []float32 {
	for i := range e.dim {
		dst = append(dst, math.Float32frombits(binary.LittleEndian.Uint32(code[i*4:])))
	}
	return dst
}

func (e *FlatEncoder) Scorer(query []float32, metric distance.Metric) (Scorer, error) {
	if len(query) != e.dim {
		return nil, ErrDimension
	}
	fn, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}
	buf := make([]float32, 0, e.dim)
	return func(code []byte) float32 {
		buf = e.Decode(buf[:0], code)
		return fn(query, buf)
	}, nil
}
