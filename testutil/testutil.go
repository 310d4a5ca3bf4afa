// Package testutil provides testing utilities for knnlib.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating seeded vector batches, computing exact
// nearest neighbors, and verifying search recall.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	vectors := rng.UniformRangeVectors(1000, 64) // uniform [-1, 1)
//	ids := testutil.SequentialIDs(1000, 0)
//
// # Exact Search (Ground Truth)
//
//	truth := testutil.BruteForceSearch(ids, vectors, query, k, distance.MetricL2)
//
// # Recall Verification
//
//	recall := testutil.ComputeRecall(truth, approximateIDs)
package testutil

import (
	"math"
	"math/rand/v2"
	"slices"
	"sync"

	"github.com/hupe1980/knnlib/distance"
)

// Neighbor is one exact search result.
type Neighbor struct {
	ID       int64
	Distance float32
}

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
	seed uint64
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed uint64) *RNG {
	r := &RNG{seed: seed}
	r.Reset()
	return r
}

// Reset rewinds the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand = rand.New(rand.NewPCG(r.seed, r.seed^0x9e3779b97f4a7c15))
}

// Seed returns the initial seed.
func (r *RNG) Seed() uint64 { return r.seed }

// IntN returns a non-negative pseudo-random number in [0,n).
func (r *RNG) IntN(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.IntN(n)
}

// Float32 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float32() float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float32()
}

func (r *RNG) vectors(num, dim int, next func() float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	vectors := make([][]float32, num)
	for i := range num {
		vec := data[i*dim : (i+1)*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = next()
		}
		vectors[i] = vec
	}
	return vectors
}

// UniformVectors generates vectors with components in [0, 1).
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func() float32 { return r.rand.Float32() })
}

// UniformRangeVectors generates vectors with components in [-1, 1).
func (r *RNG) UniformRangeVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func() float32 { return r.rand.Float32()*2 - 1 })
}

// BinaryVectors generates vectors of 0/1 components for the hamming space.
func (r *RNG) BinaryVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func() float32 { return float32(r.rand.IntN(2)) })
}

// UnitVectors generates L2-normalized vectors, uniform on the hypersphere.
func (r *RNG) UnitVectors(num, dim int) [][]float32 {
	vectors := r.vectors(num, dim, func() float32 { return float32(r.rand.NormFloat64()) })
	for _, v := range vectors {
		if !distance.NormalizeL2InPlace(v) {
			v[0] = 1
		}
	}
	return vectors
}

// ClusteredVectors generates vectors scattered with Gaussian noise around
// clusters unit-length centroids. Vector i belongs to cluster i % clusters.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centroids := r.UnitVectors(clusters, dim)
	i := 0
	return r.vectors(num, dim, func() float32 {
		c := centroids[(i/dim)%clusters][i%dim]
		i++
		return c + float32(r.rand.NormFloat64())*spread
	})
}

// SequentialIDs returns n ids starting at first.
func SequentialIDs(n int, first int64) []int64 {
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = first + int64(i)
	}
	return ids
}

// BruteForceSearch performs exact search for ground truth. Neighbors are
// ordered closest first with the distance the metric reports.
func BruteForceSearch(ids []int64, vectors [][]float32, query []float32, k int, metric distance.Metric) []Neighbor {
	fn, err := distance.Provider(metric)
	if err != nil {
		panic(err)
	}
	out := make([]Neighbor, len(vectors))
	for i, v := range vectors {
		out[i] = Neighbor{ID: ids[i], Distance: fn(query, v)}
	}
	slices.SortStableFunc(out, func(a, b Neighbor) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return 0
	})
	out = out[:min(k, len(out))]
	for i := range out {
		out[i].Distance = metric.Report(out[i].Distance)
	}
	return out
}

// ComputeRecall returns the share of the exact neighbors found in
// approximate.
func ComputeRecall(truth []Neighbor, approximate []int64) float64 {
	if len(truth) == 0 {
		if len(approximate) == 0 {
			return 1
		}
		return 0
	}
	want := make(map[int64]struct{}, len(truth))
	for _, n := range truth {
		want[n.ID] = struct{}{}
	}
	hits := 0
	for _, id := range approximate {
		if _, ok := want[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

// MeanRecall averages per-query recall values.
func MeanRecall(recalls []float64) float64 {
	if len(recalls) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, r := range recalls {
		sum += r
	}
	return sum / float64(len(recalls))
}
