package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib/distance"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	assert.Len(t, v, 8)
	assert.Len(t, v[0], 32)
	for _, vec := range v {
		for _, x := range vec {
			assert.GreaterOrEqual(t, x, float32(0))
			assert.Less(t, x, float32(1))
		}
	}
}

func TestUniformRangeVectors(t *testing.T) {
	v := NewRNG(4711).UniformRangeVectors(8, 32)
	for _, vec := range v {
		for _, x := range vec {
			assert.GreaterOrEqual(t, x, float32(-1))
			assert.Less(t, x, float32(1))
		}
	}
}

func TestVectorsDoNotAlias(t *testing.T) {
	v := NewRNG(1).UniformVectors(2, 4)
	v[0] = append(v[0], 42)
	assert.Len(t, v[1], 4)
	assert.NotEqual(t, float32(42), v[1][0])
}

func TestUnitVectors(t *testing.T) {
	v := NewRNG(4711).UnitVectors(8, 32)
	for _, vec := range v {
		assert.InDelta(t, 1.0, distance.Dot(vec, vec), 1e-5)
	}
}

func TestBinaryVectors(t *testing.T) {
	for _, vec := range NewRNG(3).BinaryVectors(4, 64) {
		for _, x := range vec {
			assert.Contains(t, []float32{0, 1}, x)
		}
	}
}

func TestClusteredVectors(t *testing.T) {
	v := NewRNG(4711).ClusteredVectors(100, 16, 5, 0.01)
	require.Len(t, v, 100)
	// Members of one cluster are far closer to each other than to others.
	assert.Less(t, distance.SquaredL2(v[0], v[5]), distance.SquaredL2(v[0], v[1]))
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformVectors(1, 10)
	rng.Reset()
	v2 := rng.UniformVectors(1, 10)
	assert.Equal(t, v1, v2)
	assert.Equal(t, uint64(4711), rng.Seed())
}

func TestBruteForceSearch(t *testing.T) {
	vectors := [][]float32{{0, 0}, {1, 0}, {3, 0}, {0, 2}}
	ids := SequentialIDs(4, 10)

	got := BruteForceSearch(ids, vectors, []float32{0.9, 0}, 3, distance.MetricL2)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{11, 10, 12}, []int64{got[0].ID, got[1].ID, got[2].ID})
	assert.InDelta(t, 0.01, got[0].Distance, 1e-6)

	ip := BruteForceSearch(ids, vectors, []float32{1, 0}, 2, distance.MetricInnerProduct)
	assert.Equal(t, int64(12), ip[0].ID)
	assert.InDelta(t, 3, ip[0].Distance, 1e-6)
}

func TestComputeRecall(t *testing.T) {
	truth := []Neighbor{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	assert.Equal(t, 0.5, ComputeRecall(truth, []int64{1, 3, 9}))
	assert.Equal(t, 1.0, ComputeRecall(nil, nil))
	assert.Equal(t, 0.0, ComputeRecall(nil, []int64{1}))
	assert.Equal(t, 0.75, MeanRecall([]float64{0.5, 1}))
}
