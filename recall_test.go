package knnlib_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/testutil"
)

// Recall@10 of each index family against brute force over clustered data.
func TestRecall(t *testing.T) {
	const (
		n       = 2000
		dim     = 16
		k       = 10
		queries = 20
	)
	rng := testutil.NewRNG(2024)
	vectors := rng.ClusteredVectors(n, dim, 12, 0.15)
	ids := testutil.SequentialIDs(n, 1000)

	tests := []struct {
		name      string
		req       knnlib.BuildRequest
		load      knnlib.LoadRequest
		metric    distance.Metric
		opts      []knnlib.QueryOption
		minRecall float64
	}{
		{
			name:      "flat l2",
			req:       knnlib.BuildRequest{Description: "Flat"},
			metric:    distance.MetricL2,
			minRecall: 1,
		},
		{
			name:      "flat inner product",
			req:       knnlib.BuildRequest{Description: "Flat", Space: "innerproduct"},
			metric:    distance.MetricInnerProduct,
			minRecall: 0.98,
		},
		{
			name:      "faiss hnsw",
			req:       knnlib.BuildRequest{Description: "HNSW16"},
			metric:    distance.MetricL2,
			opts:      []knnlib.QueryOption{knnlib.WithEfSearch(128)},
			minRecall: 0.9,
		},
		{
			name:      "nmslib hnsw",
			req:       knnlib.BuildRequest{Engine: "nmslib", Params: []string{"M=16", "efConstruction=128"}},
			load:      knnlib.LoadRequest{Space: "l2"},
			metric:    distance.MetricL2,
			opts:      []knnlib.QueryOption{knnlib.WithEfSearch(128)},
			minRecall: 0.9,
		},
		{
			name:      "ivf probing every list",
			req:       knnlib.BuildRequest{Description: "IVF16,Flat"},
			metric:    distance.MetricL2,
			opts:      []knnlib.QueryOption{knnlib.WithNProbes(16)},
			minRecall: 0.98,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			req := tt.req
			req.IDs, req.Vectors = ids, vectors
			req.Path = indexPath(t, "recall"+engineExt(req.Engine))

			_, err := knnlib.Build(ctx, req)
			require.NoError(t, err)
			h, err := knnlib.Load(ctx, req.Path, tt.load)
			require.NoError(t, err)
			defer h.Close()

			recalls := make([]float64, 0, queries)
			for q := range queries {
				query := vectors[q*(n/queries)+3]
				truth := testutil.BruteForceSearch(ids, vectors, query, k, tt.metric)

				results, err := h.Query(ctx, query, k, tt.opts...)
				require.NoError(t, err)
				require.Len(t, results, k)

				got := make([]int64, len(results))
				for i, r := range results {
					got[i] = r.ID
				}
				recalls = append(recalls, testutil.ComputeRecall(truth, got))
			}
			assert.GreaterOrEqual(t, testutil.MeanRecall(recalls), tt.minRecall)
		})
	}
}

func engineExt(name string) string {
	if name == "nmslib" {
		return ".hnsw"
	}
	return ".faiss"
}
