package quantization

import (
	"context"
	"fmt"
	"math"
	"math/bits"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/internal/kmeans"
)

// ProductQuantizer implements Product Quantization (PQ).
// A vector is split into M subvectors, each replaced by the index of its
// nearest centroid in a per-subspace codebook of K <= 256 entries.
//
// Example: 128-dim vector with M=8 subvectors → 8 uint8 codes = 8 bytes (64x compression vs float32)
type ProductQuantizer struct {
	numSubvectors int
	numCentroids  int
	dimension     int
	subvectorDim  int
	codebooks     []float32 // M * K * subvectorDim
	seed          int64
	maxIter       int
	trained       bool
}

// NewProductQuantizer creates a new PQ quantizer.
// dimension must be divisible by numSubvectors and numCentroids must be at most 256.
func NewProductQuantizer(dimension, numSubvectors, numCentroids int, seed int64) (*ProductQuantizer, error) {
	if dimension <= 0 || numSubvectors <= 0 {
		return nil, fmt.Errorf("quantization: dimension and subvector count must be positive")
	}
	if dimension%numSubvectors != 0 {
		return nil, fmt.Errorf("quantization: dimension %d not divisible by %d subvectors", dimension, numSubvectors)
	}
	if numCentroids <= 0 || numCentroids > 256 {
		return nil, fmt.Errorf("quantization: centroid count %d outside [1, 256]", numCentroids)
	}

	return &ProductQuantizer{
		numSubvectors: numSubvectors,
		numCentroids:  numCentroids,
		dimension:     dimension,
		subvectorDim:  dimension / numSubvectors,
		seed:          seed,
		maxIter:       20,
	}, nil
}

// Name returns "PQ<M>" for 8-bit codes and "PQ<M>x<bits>" otherwise.
func (pq *ProductQuantizer) Name() string {
	if pq.numCentroids == 256 {
		return fmt.Sprintf("PQ%d", pq.numSubvectors)
	}
	return fmt.Sprintf("PQ%dx%d", pq.numSubvectors, bits.Len(uint(pq.numCentroids-1)))
}

func (pq *ProductQuantizer) CodeSize() int   { return pq.numSubvectors }
func (pq *ProductQuantizer) IsTrained() bool { return pq.trained }

// NumSubvectors returns the number of subvectors (M).
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }

// NumCentroids returns the number of centroids per subspace (K).
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// MinTrainingPoints is the smallest training set Train accepts.
func (pq *ProductQuantizer) MinTrainingPoints() int { return pq.numCentroids }

// Train learns one codebook per subspace. Subspaces are trained in parallel,
// each with its own seed derived from the quantizer seed.
func (pq *ProductQuantizer) Train(ctx context.Context, vectors []float32, workers int) error {
	if len(vectors) == 0 || len(vectors)%pq.dimension != 0 {
		return fmt.Errorf("%w: %d values for dimension %d", ErrDimension, len(vectors), pq.dimension)
	}
	n := len(vectors) / pq.dimension
	codebooks := make([]float32, pq.numSubvectors*pq.numCentroids*pq.subvectorDim)

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for m := range pq.numSubvectors {
		g.Go(func() error {
			sub := make([]float32, 0, n*pq.subvectorDim)
			start := m * pq.subvectorDim
			for i := range n {
				row := vectors[i*pq.dimension:]
				sub = append(sub, row[start:start+pq.subvectorDim]...)
			}
			centroids, err := kmeans.Train(gctx, sub, pq.subvectorDim, kmeans.Config{
				K:       pq.numCentroids,
				MaxIter: pq.maxIter,
				Metric:  distance.MetricL2,
				Seed:    pq.seed + int64(m),
			})
			if err != nil {
				return fmt.Errorf("subspace %d: %w", m, err)
			}
			copy(codebooks[m*pq.numCentroids*pq.subvectorDim:], centroids)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	pq.codebooks = codebooks
	pq.trained = true
	return nil
}

// Encode appends the M centroid indices of vec to dst.
func (pq *ProductQuantizer) Encode(dst []byte, vec []float32) ([]byte, error) {
	if !pq.trained {
		return dst, ErrNotTrained
	}
	if len(vec) != pq.dimension {
		return dst, ErrDimension
	}
	for m := range pq.numSubvectors {
		sub := vec[m*pq.subvectorDim : (m+1)*pq.subvectorDim]
		best, bestDist := 0, float32(math.MaxFloat32)
		for k := range pq.numCentroids {
			if d := distance.SquaredL2(sub, pq.centroid(m, k)); d < bestDist {
				best, bestDist = k, d
			}
		}
		dst = append(dst, byte(best))
	}
	return dst, nil
}

// Decode reconstructs an approximate vector from PQ codes.
func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(codes) != pq.numSubvectors {
		return nil, ErrDimension
	}
	out := make([]float32, 0, pq.dimension)
	for m, c := range codes {
		out = append(out, pq.centroid(m, int(c))...)
	}
	return out, nil
}

func (pq *ProductQuantizer) centroid(m, k int) []float32 {
	off := (m*pq.numCentroids + k) * pq.subvectorDim
	return pq.codebooks[off : off+pq.subvectorDim]
}

// BuildDistanceTable precomputes per-subspace ranking keys from a query to all
// centroids. table[m*K + k] holds the squared L2 distance for MetricL2 and the
// negated partial inner product for MetricInnerProduct, so that summing one
// entry per subspace yields the asymmetric distance.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32, metric distance.Metric) ([]float32, error) {
	if !pq.trained {
		return nil, ErrNotTrained
	}
	if len(query) != pq.dimension {
		return nil, ErrDimension
	}
	var fn distance.Func
	switch metric {
	case distance.MetricL2:
		fn = distance.SquaredL2
	case distance.MetricInnerProduct, distance.MetricNegDot:
		fn = distance.NegDot
	default:
		return nil, fmt.Errorf("quantization: metric %s not supported by product quantizer", metric)
	}

	table := make([]float32, pq.numSubvectors*pq.numCentroids)
	for m := range pq.numSubvectors {
		sub := query[m*pq.subvectorDim : (m+1)*pq.subvectorDim]
		for k := range pq.numCentroids {
			table[m*pq.numCentroids+k] = fn(sub, pq.centroid(m, k))
		}
	}
	return table, nil
}

// Scorer returns an asymmetric distance evaluator for one query.
func (pq *ProductQuantizer) Scorer(query []float32, metric distance.Metric) (Scorer, error) {
	table, err := pq.BuildDistanceTable(query, metric)
	if err != nil {
		return nil, err
	}
	k := pq.numCentroids
	return func(code []byte) float32 {
		var sum float32
		for m, c := range code {
			sum += table[m*k+int(c)]
		}
		return sum
	}, nil
}

// Codebooks returns the flattened codebooks (M * K * subvectorDim).
func (pq *ProductQuantizer) Codebooks() []float32 { return pq.codebooks }

// SetCodebooks installs previously trained codebooks.
func (pq *ProductQuantizer) SetCodebooks(codebooks []float32) error {
	if len(codebooks) != pq.numSubvectors*pq.numCentroids*pq.subvectorDim {
		return fmt.Errorf("%w: codebook size %d", ErrDimension, len(codebooks))
	}
	pq.codebooks = codebooks
	pq.trained = true
	return nil
}
