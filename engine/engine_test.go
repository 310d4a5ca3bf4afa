package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/params"
)

func method(t *testing.T, raw map[string]any) params.Method {
	t.Helper()
	m, err := params.ParseMethod(raw)
	require.NoError(t, err)
	return m
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{Faiss, Nmslib}, Names())

	e, err := Get("FAISS")
	require.NoError(t, err)
	assert.Equal(t, ".faiss", e.Extension)

	_, err = Get("lucene")
	assert.ErrorIs(t, err, ErrUnknownEngine)

	e, err = ForPath("/data/segment_3.hnsw")
	require.NoError(t, err)
	assert.Equal(t, Nmslib, e.Name)
	_, err = ForPath("/data/segment_3.bin")
	assert.ErrorIs(t, err, ErrUnknownEngine)
}

func TestSpaces(t *testing.T) {
	tests := []struct {
		engine *Engine
		space  string
		want   distance.Metric
	}{
		{FaissEngine, "l2", distance.MetricL2},
		{FaissEngine, "innerproduct", distance.MetricInnerProduct},
		{FaissEngine, "hammingbit", distance.MetricHamming},
		{NmslibEngine, "l2", distance.MetricEuclidean},
		{NmslibEngine, "innerproduct", distance.MetricNegDot},
		{NmslibEngine, "cosinesimil", distance.MetricCosine},
		{NmslibEngine, "L1", distance.MetricL1},
		{NmslibEngine, "linf", distance.MetricLinf},
	}
	for _, tt := range tests {
		got, err := tt.engine.Metric(tt.space)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s", tt.engine.Name, tt.space)
	}

	_, err := FaissEngine.Metric("cosinesimil")
	assert.ErrorIs(t, err, ErrUnknownSpace)
	_, err = NmslibEngine.Metric("hamming")
	assert.ErrorIs(t, err, ErrUnknownSpace)
}

func TestDescription(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want string
	}{
		{"faiss hnsw defaults", map[string]any{"name": "hnsw", "space_type": "l2"}, "HNSW16,Flat"},
		{"faiss hnsw m", map[string]any{"name": "hnsw", "parameters": map[string]any{"m": 32, "ef_search": 64}}, "HNSW32,Flat"},
		{"faiss ivf pq with coarse hnsw", map[string]any{
			"name": "ivf",
			"parameters": map[string]any{
				"coarse_quantizer": map[string]any{"name": "hnsw"},
				"encoder":          map[string]any{"name": "pq"},
			},
		}, "IVF16(HNSW16,Flat),PQ16"},
		{"faiss ivf flat", map[string]any{"name": "ivf", "parameters": map[string]any{"ncentroids": 8, "encoder": map[string]any{"name": "flat"}}}, "IVF8,Flat"},
		{"faiss brute force", map[string]any{"name": "brute_force", "space_type": "innerproduct"}, "Flat"},
		{"faiss binary", map[string]any{"name": "brute_force", "space_type": "hamming"}, "BFlat"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FaissEngine.Description(method(t, tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	got, err := NmslibEngine.Description(method(t, map[string]any{"name": "hnsw", "space_type": "cosinesimil", "parameters": map[string]any{"m": 24}}))
	require.NoError(t, err)
	assert.Equal(t, "HNSW24", got)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		engine *Engine
		raw    map[string]any
	}{
		{"unknown method", FaissEngine, map[string]any{"name": "lsh"}},
		{"unknown parameter", FaissEngine, map[string]any{"name": "hnsw", "parameters": map[string]any{"nprobes": 2}}},
		{"non-positive", FaissEngine, map[string]any{"name": "hnsw", "parameters": map[string]any{"m": 0}}},
		{"unsupported space", FaissEngine, map[string]any{"name": "hnsw", "space_type": "hamming"}},
		{"coarse on hnsw", FaissEngine, map[string]any{"name": "hnsw", "parameters": map[string]any{"coarse_quantizer": map[string]any{"name": "hnsw"}}}},
		{"coarse ivf", FaissEngine, map[string]any{"name": "ivf", "parameters": map[string]any{"coarse_quantizer": map[string]any{"name": "ivf"}}}},
		{"unknown encoder", FaissEngine, map[string]any{"name": "ivf", "parameters": map[string]any{"encoder": map[string]any{"name": "sq"}}}},
		{"bad encoder parameter", FaissEngine, map[string]any{"name": "ivf", "parameters": map[string]any{"encoder": map[string]any{"name": "pq", "parameters": map[string]any{"m": 8}}}}},
		{"nmslib encoder", NmslibEngine, map[string]any{"name": "hnsw", "parameters": map[string]any{"encoder": map[string]any{"name": "pq"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.engine.Validate(method(t, tt.raw)), ErrInvalidMethod)
		})
	}

	err := FaissEngine.Validate(method(t, map[string]any{"name": "hnsw", "parameters": map[string]any{"m": "many"}}))
	assert.ErrorIs(t, err, params.ErrMalformedValue)

	err = FaissEngine.Validate(method(t, map[string]any{"name": "hnsw", "space_type": "linf"}))
	assert.ErrorIs(t, err, ErrUnknownSpace)

	assert.NoError(t, FaissEngine.Validate(method(t, map[string]any{
		"name": "ivf", "space_type": "l2",
		"parameters": map[string]any{"ncentroids": 4, "training_dataset_size_limit": 1000, "minimum_datapoints": 10, "seed": 7},
	})))
}

func TestTuning(t *testing.T) {
	got, err := FaissEngine.Tuning(method(t, map[string]any{"name": "hnsw", "parameters": map[string]any{"ef_search": 100}}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"efConstruction": 512, "efSearch": 100}, got)

	got, err = FaissEngine.Tuning(method(t, map[string]any{
		"name": "ivf",
		"parameters": map[string]any{
			"nprobes":          4,
			"coarse_quantizer": map[string]any{"name": "hnsw", "parameters": map[string]any{"ef_search": 32}},
		},
	}))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"efConstruction": 512, "efSearch": 32, "nprobe": 4}, got)

	name, ok := TuningName("efSearch")
	assert.True(t, ok)
	assert.Equal(t, "efSearch", name)
	_, ok = TuningName("m")
	assert.False(t, ok)
}

func TestScore(t *testing.T) {
	assert.InDelta(t, 0.5, FaissEngine.Score("l2", 1), 1e-6)
	assert.InDelta(t, 1, NmslibEngine.Score("cosinesimil", 0), 1e-6)

	// faiss reports raw similarity for inner product
	assert.InDelta(t, 3, FaissEngine.Score("innerproduct", 2), 1e-6)
	assert.InDelta(t, 0.5, FaissEngine.Score("innerproduct", -1), 1e-6)
	// nmslib reports the negated dot product
	assert.InDelta(t, 3, NmslibEngine.Score("innerproduct", -2), 1e-6)
	assert.InDelta(t, 0.5, NmslibEngine.Score("innerproduct", 1), 1e-6)
}
