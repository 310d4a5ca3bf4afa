package ann

import (
	"context"
	"fmt"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/internal/searcher"
	"github.com/hupe1980/knnlib/persistence"
)

// Flat is an exhaustive index over float vectors.
type Flat struct {
	dim     int
	metric  distance.Metric
	dist    distance.Func
	vectors []float32
}

// NewFlat creates an empty flat index.
func NewFlat(dim int, metric distance.Metric) (*Flat, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrDimension)
	}
	fn, err := distance.Provider(metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMetric, err)
	}
	return &Flat{dim: dim, metric: metric, dist: fn}, nil
}

func (f *Flat) Description() string        { return "Flat" }
func (f *Flat) Dimension() int             { return f.dim }
func (f *Flat) Metric() distance.Metric    { return f.metric }
func (f *Flat) Len() int                   { return len(f.vectors) / f.dim }
func (f *Flat) IsTrained() bool            { return true }
func (f *Flat) MinTrainingPoints() int     { return 0 }
func (f *Flat) MemoryUsage() int64         { return int64(len(f.vectors)) * 4 }
func (f *Flat) EstimateMemory(n int) int64 { return int64(n) * int64(f.dim) * 4 }
func (f *Flat) SetParam(string, int) error { return ErrUnknownParam }
func (f *Flat) vector(i uint32) []float32  { return f.vectors[int(i)*f.dim : (int(i)+1)*f.dim] }

func (f *Flat) Train(context.Context, []float32, int) error { return nil }

func (f *Flat) Add(ctx context.Context, vectors []float32) error {
	if _, err := checkVectors(vectors, f.dim); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.vectors = append(f.vectors, vectors...)
	return nil
}

func (f *Flat) Search(query []float32, k int, p SearchParams) ([]Neighbor, error) {
	k, err := checkQuery(query, f.dim, k, f.Len())
	if err != nil {
		return nil, err
	}
	allow := allowNode(p)
	heap := searcher.NewPriorityQueue(true)
	for i := range uint32(f.Len()) {
		if allow != nil && !allow(i) {
			continue
		}
		heap.PushBounded(searcher.Item{Node: i, Distance: f.dist(query, f.vector(i))}, k)
	}
	return finish(heap.Drain(nil), k, f.metric), nil
}

func (f *Flat) encodeBody(e *persistence.Encoder) { e.Float32s(f.vectors) }

func (f *Flat) decodeBody(d *persistence.Decoder) {
	f.vectors = d.Float32s()
	if len(f.vectors)%f.dim != 0 {
		d.Fail("flat: %d values for dimension %d", len(f.vectors), f.dim)
	}
}

// BinaryFlat is an exhaustive Hamming index over packed bit vectors. Vectors
// are supplied as float32 values where any non-zero value is a set bit.
type BinaryFlat struct {
	dim      int
	codeSize int
	codes    []byte
}

// NewBinaryFlat creates an empty binary index for dim bits. dim must be a
// multiple of 8.
func NewBinaryFlat(dim int) (*BinaryFlat, error) {
	if dim <= 0 || dim%8 != 0 {
		return nil, fmt.Errorf("%w: binary dimension %d is not a positive multiple of 8", ErrDimension, dim)
	}
	return &BinaryFlat{dim: dim, codeSize: dim / 8}, nil
}

func (b *BinaryFlat) Description() string        { return "BFlat" }
func (b *BinaryFlat) Dimension() int             { return b.dim }
func (b *BinaryFlat) Metric() distance.Metric    { return distance.MetricHamming }
func (b *BinaryFlat) Len() int                   { return len(b.codes) / b.codeSize }
func (b *BinaryFlat) IsTrained() bool            { return true }
func (b *BinaryFlat) MinTrainingPoints() int     { return 0 }
func (b *BinaryFlat) MemoryUsage() int64         { return int64(len(b.codes)) }
func (b *BinaryFlat) EstimateMemory(n int) int64 { return int64(n) * int64(b.codeSize) }
func (b *BinaryFlat) SetParam(string, int) error { return ErrUnknownParam }

func (b *BinaryFlat) Train(context.Context, []float32, int) error { return nil }

func (b *BinaryFlat) Add(ctx context.Context, vectors []float32) error {
	n, err := checkVectors(vectors, b.dim)
	if err != nil {
		return err
	}
	for i := range n {
		if i%4096 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		b.codes = append(b.codes, distance.PackBits(vectors[i*b.dim:(i+1)*b.dim])...)
	}
	return nil
}

func (b *BinaryFlat) Search(query []float32, k int, p SearchParams) ([]Neighbor, error) {
	k, err := checkQuery(query, b.dim, k, b.Len())
	if err != nil {
		return nil, err
	}
	q := distance.PackBits(query)
	allow := allowNode(p)
	heap := searcher.NewPriorityQueue(true)
	for i := range uint32(b.Len()) {
		if allow != nil && !allow(i) {
			continue
		}
		code := b.codes[int(i)*b.codeSize : (int(i)+1)*b.codeSize]
		heap.PushBounded(searcher.Item{Node: i, Distance: distance.Hamming(q, code)}, k)
	}
	return finish(heap.Drain(nil), k, distance.MetricHamming), nil
}

func (b *BinaryFlat) encodeBody(e *persistence.Encoder) { e.Bytes(b.codes) }

func (b *BinaryFlat) decodeBody(d *persistence.Decoder) {
	b.codes = d.Bytes()
	if len(b.codes)%b.codeSize != 0 {
		d.Fail("bflat: %d bytes for code size %d", len(b.codes), b.codeSize)
	}
}
