package kmeans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/hupe1980/knnlib/distance"
)

// ErrTooFewPoints is returned when there are fewer training vectors than clusters.
var ErrTooFewPoints = errors.New("kmeans: fewer training points than clusters")

// Config controls a training run.
type Config struct {
	K       int
	MaxIter int
	Metric  distance.Metric
	Seed    int64
}

// Train learns cfg.K centroids from the flattened vectors using Lloyd's
// algorithm and returns them flattened (K * dim). The context is checked once
// per iteration.
func Train(ctx context.Context, vectors []float32, dim int, cfg Config) ([]float32, error) {
	if dim <= 0 || len(vectors)%dim != 0 {
		return nil, fmt.Errorf("kmeans: %d values do not form vectors of dimension %d", len(vectors), dim)
	}
	n := len(vectors) / dim
	k := cfg.K
	if k <= 0 {
		return nil, fmt.Errorf("kmeans: invalid cluster count %d", k)
	}
	if n < k {
		return nil, fmt.Errorf("%w: %d < %d", ErrTooFewPoints, n, k)
	}
	distFunc, err := distance.Provider(cfg.Metric)
	if err != nil {
		return nil, err
	}
	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = 25
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	centroids := make([]float32, k*dim)
	perm := rng.Perm(n)
	for i := range k {
		copy(centroids[i*dim:(i+1)*dim], vectors[perm[i]*dim:(perm[i]+1)*dim])
	}

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for range maxIter {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := false
		for i := range n {
			best := nearest(vectors[i*dim:(i+1)*dim], centroids, dim, distFunc)
			if assignments[i] != best {
				assignments[i] = best
				changed = true
			}
		}
		if !changed {
			break
		}

		clear(sums)
		clear(counts)
		for i := range n {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := range dim {
				sums[c*dim+d] += vec[d]
			}
			counts[c]++
		}

		for j := range k {
			if counts[j] > 0 {
				scale := 1 / float32(counts[j])
				for d := range dim {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
				continue
			}
			// Empty cluster: reseed from a data point.
			idx := rng.Intn(n)
			copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
		}
	}

	return centroids, nil
}

func nearest(vec, centroids []float32, dim int, fn distance.Func) int {
	best := -1
	minDist := float32(math.MaxFloat32)
	for j := 0; j*dim < len(centroids); j++ {
		if d := fn(vec, centroids[j*dim:(j+1)*dim]); d < minDist || best < 0 {
			minDist = d
			best = j
		}
	}
	return best
}

// AssignPartition finds the closest centroid for a vector.
func AssignPartition(vec []float32, centroids []float32, dim int, metric distance.Metric) (int, error) {
	distFunc, err := distance.Provider(metric)
	if err != nil {
		return -1, err
	}
	return nearest(vec, centroids, dim, distFunc), nil
}

// FindClosestCentroids returns the indices of the n closest centroids to the query vector.
func FindClosestCentroids(query []float32, centroids []float32, dim int, n int, metric distance.Metric) ([]int, error) {
	k := len(centroids) / dim
	n = min(n, k)

	distFunc, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}

	type centroidDist struct {
		id   int
		dist float32
	}
	dists := make([]centroidDist, k)
	for i := range k {
		dists[i] = centroidDist{id: i, dist: distFunc(query, centroids[i*dim:(i+1)*dim])}
	}
	sort.SliceStable(dists, func(i, j int) bool { return dists[i].dist < dists[j].dist })

	result := make([]int, n)
	for i := range n {
		result[i] = dists[i].id
	}
	return result, nil
}
