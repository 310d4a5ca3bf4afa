package ann

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/internal/searcher"
	"github.com/hupe1980/knnlib/persistence"
)

// AbsentID marks an empty result slot.
const AbsentID int64 = -1

var (
	// ErrNotTrained is returned when vectors are added to an untrained index.
	ErrNotTrained = errors.New("ann: index is not trained")
	// ErrDimension is returned for vector buffers that do not match the index dimension.
	ErrDimension = errors.New("ann: dimension mismatch")
	// ErrInvalidDescription is returned for index descriptions that cannot be parsed.
	ErrInvalidDescription = errors.New("ann: invalid index description")
	// ErrUnknownParam is returned by SetParam for unsupported parameter names.
	ErrUnknownParam = errors.New("ann: unknown parameter")
	// ErrUnsupportedMetric is returned when a structure cannot serve a metric.
	ErrUnsupportedMetric = errors.New("ann: unsupported metric")
)

// Neighbor is one search result.
type Neighbor struct {
	Label    int64
	Distance float32
}

// SearchParams overrides query time parameters for a single search.
// Zero values keep the index defaults.
type SearchParams struct {
	EfSearch int
	NProbe   int
	// Allow restricts results to labels for which it returns true.
	Allow func(label int64) bool
}

// Index is a vector structure addressed by insertion position.
type Index interface {
	// Description returns the normalized description string of the index.
	Description() string
	Dimension() int
	Metric() distance.Metric
	// Len returns the number of stored vectors.
	Len() int
	IsTrained() bool
	// MinTrainingPoints returns the number of vectors Train needs, or 0 if
	// the index needs no training.
	MinTrainingPoints() int
	// Train fits the index to the flattened vectors.
	Train(ctx context.Context, vectors []float32, workers int) error
	// Add appends flattened vectors.
	Add(ctx context.Context, vectors []float32) error
	// Search returns min(k, Len()) neighbors, closest first, padded with
	// AbsentID when the filter leaves fewer candidates.
	Search(query []float32, k int, p SearchParams) ([]Neighbor, error)
	// SetParam changes a tunable parameter such as efSearch or nprobe.
	SetParam(name string, value int) error
	// MemoryUsage estimates the bytes held by the index.
	MemoryUsage() int64
	// EstimateMemory estimates the bytes the index will hold after adding n vectors.
	EstimateMemory(n int) int64

	encodeBody(e *persistence.Encoder)
	decodeBody(d *persistence.Decoder)
}

func checkVectors(vectors []float32, dim int) (int, error) {
	if dim <= 0 || len(vectors)%dim != 0 {
		return 0, fmt.Errorf("%w: %d values for dimension %d", ErrDimension, len(vectors), dim)
	}
	return len(vectors) / dim, nil
}

// checkQuery validates a query and bounds k by the n indexed vectors.
func checkQuery(query []float32, dim, k, n int) (int, error) {
	if len(query) != dim {
		return 0, fmt.Errorf("%w: query has %d values, index dimension is %d", ErrDimension, len(query), dim)
	}
	if k <= 0 {
		return 0, fmt.Errorf("ann: k must be positive, got %d", k)
	}
	return min(k, n), nil
}

// absentDistance is the distance reported for padded slots.
func absentDistance(m distance.Metric) float32 {
	if m.HigherIsCloser() {
		return float32(math.Inf(-1))
	}
	return float32(math.Inf(1))
}

// finish converts ranked items to exactly k neighbors, padding with
// AbsentID when fewer items qualified.
func finish(items []searcher.Item, k int, m distance.Metric) []Neighbor {
	out := make([]Neighbor, k)
	for i := range out {
		if i < len(items) {
			out[i] = Neighbor{Label: int64(items[i].Node), Distance: m.Report(items[i].Distance)}
			continue
		}
		out[i] = Neighbor{Label: AbsentID, Distance: absentDistance(m)}
	}
	return out
}

func allowNode(p SearchParams) func(uint32) bool {
	if p.Allow == nil {
		return nil
	}
	return func(n uint32) bool { return p.Allow(int64(n)) }
}
