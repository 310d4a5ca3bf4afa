package knnlib_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/fs"
	"github.com/hupe1980/knnlib/params"
	"github.com/hupe1980/knnlib/persistence"
	"github.com/hupe1980/knnlib/resource"
)

func TestBuildLoadRoundTrip(t *testing.T) {
	ids, vectors := dataset(300, 8, 1)

	tests := []struct {
		name     string
		req      knnlib.BuildRequest
		load     knnlib.LoadRequest
		file     string
		wantDesc string
		opts     []knnlib.QueryOption
		exact    bool
	}{
		{
			name:     "flat",
			req:      knnlib.BuildRequest{Description: "Flat"},
			file:     "flat.faiss",
			wantDesc: "Flat",
			exact:    true,
		},
		{
			name:     "faiss hnsw description",
			req:      knnlib.BuildRequest{Description: "HNSW16"},
			file:     "hnsw.faiss",
			wantDesc: "HNSW16",
			opts:     []knnlib.QueryOption{knnlib.WithEfSearch(64)},
			exact:    true,
		},
		{
			name:     "faiss hnsw method",
			req:      knnlib.BuildRequest{Method: &params.Method{Name: "hnsw", Parameters: params.Params{"m": 8, "ef_search": 100}}},
			file:     "method.faiss",
			wantDesc: "HNSW8",
			exact:    true,
		},
		{
			name:     "nmslib hnsw",
			req:      knnlib.BuildRequest{Engine: "nmslib", Params: []string{"M=16", "efConstruction=100", "ef_search=64"}},
			load:     knnlib.LoadRequest{Space: "l2"},
			file:     "graph.hnsw",
			wantDesc: "HNSW16",
			exact:    true,
		},
		{
			name:     "ivf flat",
			req:      knnlib.BuildRequest{Description: "IVF4,Flat"},
			file:     "ivf.faiss",
			wantDesc: "IVF4,Flat",
			opts:     []knnlib.QueryOption{knnlib.WithNProbes(4)},
			exact:    true,
		},
		{
			name:     "ivf with hnsw coarse quantizer",
			req:      knnlib.BuildRequest{Description: "IVF4(HNSW8,Flat),Flat"},
			file:     "ivfhnsw.faiss",
			wantDesc: "IVF4(HNSW8,Flat),Flat",
			opts:     []knnlib.QueryOption{knnlib.WithNProbes(4)},
			exact:    true,
		},
		{
			name:     "ivf pq",
			req:      knnlib.BuildRequest{Description: "IVF4,PQ4"},
			file:     "ivfpq.faiss",
			wantDesc: "IVF4,PQ4",
			opts:     []knnlib.QueryOption{knnlib.WithNProbes(4)},
		},
		{
			name:     "zstd compressed flat",
			req:      knnlib.BuildRequest{Description: "Flat", Params: []string{"compression=zstd"}},
			file:     "zstd.faiss",
			wantDesc: "Flat",
			exact:    true,
		},
		{
			name:     "lz4 compressed hnsw",
			req:      knnlib.BuildRequest{Description: "HNSW8", Params: []string{"compression=lz4", "ef_search=64"}},
			file:     "lz4.faiss",
			wantDesc: "HNSW8",
			exact:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := t.Context()
			rc := newController()
			req := tt.req
			req.IDs, req.Vectors = ids, vectors
			req.Path = filepath.Join(t.TempDir(), tt.file)

			res, err := knnlib.Build(ctx, req, knnlib.WithResourceController(rc))
			require.NoError(t, err)
			assert.Equal(t, tt.wantDesc, res.Description)
			assert.Equal(t, 300, res.Count)
			assert.Equal(t, 8, res.Dimension)
			assert.Positive(t, res.Size)
			requireNoLeak(t, rc)

			fi, err := os.Stat(req.Path)
			require.NoError(t, err)
			assert.Equal(t, res.Size, fi.Size())

			h, err := knnlib.Load(ctx, req.Path, tt.load, knnlib.WithResourceController(rc))
			require.NoError(t, err)
			info := h.Info()
			assert.Equal(t, tt.wantDesc, info.Description)
			assert.Equal(t, 300, info.Count)
			assert.Equal(t, 8, info.Dimension)
			assert.Equal(t, res.Checksum, info.Checksum)

			selfHits := 0
			for _, q := range []int{0, 17, 123, 250, 299} {
				results, err := h.Query(ctx, vectors[q], 5, tt.opts...)
				require.NoError(t, err)
				require.Len(t, results, 5)
				assert.True(t, slices.IsSortedFunc(results, func(a, b knnlib.Result) int {
					switch {
					case a.Distance < b.Distance:
						return -1
					case a.Distance > b.Distance:
						return 1
					}
					return 0
				}))
				if results[0].ID == int64(q) {
					selfHits++
				}
				if tt.exact {
					assert.Equal(t, int64(q), results[0].ID)
					assert.InDelta(t, 0, results[0].Distance, 1e-5)
				}
			}
			if !tt.exact {
				assert.GreaterOrEqual(t, selfHits, 3)
			}

			require.NoError(t, h.Close())
			requireNoLeak(t, rc)
		})
	}
}

func TestBuildBinaryFlat(t *testing.T) {
	ctx := t.Context()
	ids, vectors := bitDataset(200, 64, 3)
	path := indexPath(t, "bits.faiss")

	res, err := knnlib.Build(ctx, knnlib.BuildRequest{
		IDs:     ids,
		Vectors: vectors,
		Path:    path,
		Space:   "hamming",
	})
	require.NoError(t, err)
	assert.Equal(t, "BFlat", res.Description)

	h, err := knnlib.Load(ctx, path, knnlib.LoadRequest{Space: "hamming"})
	require.NoError(t, err)
	defer h.Close()

	results, err := h.Query(ctx, vectors[42], 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, int64(42), results[0].ID)
	assert.Zero(t, results[0].Distance)
	assert.LessOrEqual(t, results[1].Distance, results[2].Distance)
}

// 1200 vectors of dimension 8 in an HNSW32 graph; querying vector 500 must
// return itself first.
func TestBuildHNSWScenario(t *testing.T) {
	ctx := t.Context()
	ids, vectors := dataset(1200, 8, 7)
	path := indexPath(t, "scenario.faiss")

	res, err := knnlib.Build(ctx, knnlib.BuildRequest{
		IDs:         ids,
		Vectors:     vectors,
		Path:        path,
		Space:       "l2",
		Description: "HNSW32",
	})
	require.NoError(t, err)
	assert.Equal(t, "HNSW32", res.Description)

	h, err := knnlib.Load(ctx, path, knnlib.LoadRequest{})
	require.NoError(t, err)
	defer h.Close()

	results, err := h.Query(ctx, vectors[500], 5)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Equal(t, int64(500), results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	for i := 1; i < len(results); i++ {
		assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		assert.NotEqual(t, int64(-1), results[i].ID)
	}
}

func TestBuildSmallBatchFallback(t *testing.T) {
	ctx := t.Context()
	ids, vectors := dataset(50, 8, 11)

	t.Run("below minimum datapoints", func(t *testing.T) {
		res, err := knnlib.Build(ctx, knnlib.BuildRequest{
			IDs: ids, Vectors: vectors, Path: indexPath(t, "small.faiss"), Description: "HNSW16",
		})
		require.NoError(t, err)
		assert.Equal(t, "Flat", res.Description)
	})

	t.Run("fewer points than centroids", func(t *testing.T) {
		res, err := knnlib.Build(ctx, knnlib.BuildRequest{
			IDs: ids, Vectors: vectors, Path: indexPath(t, "ivf.faiss"),
			Description: "IVF64,Flat",
			Params:      []string{"minimum_datapoints=10"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Flat", res.Description)
	})

	t.Run("enough points with lowered minimum", func(t *testing.T) {
		res, err := knnlib.Build(ctx, knnlib.BuildRequest{
			IDs: ids, Vectors: vectors, Path: indexPath(t, "ivf.faiss"),
			Description: "IVF4,Flat",
			Params:      []string{"minimum_datapoints=10"},
		})
		require.NoError(t, err)
		assert.Equal(t, "IVF4,Flat", res.Description)
	})

	t.Run("nmslib never falls back", func(t *testing.T) {
		res, err := knnlib.Build(ctx, knnlib.BuildRequest{
			IDs: ids, Vectors: vectors, Path: indexPath(t, "small.hnsw"), Engine: "nmslib",
		})
		require.NoError(t, err)
		assert.Equal(t, "HNSW16", res.Description)
	})
}

func TestBuildTrainingPrefix(t *testing.T) {
	ctx := t.Context()
	ids, vectors := dataset(400, 8, 5)

	// With a training limit below the centroid count the prefix cannot
	// train the quantizer and the builder falls back.
	res, err := knnlib.Build(ctx, knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: indexPath(t, "prefix.faiss"),
		Description: "IVF16,Flat",
		Params:      []string{"training_dataset_size_limit=8"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Flat", res.Description)

	res, err = knnlib.Build(ctx, knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: indexPath(t, "prefix.faiss"),
		Description: "IVF16,Flat",
		Params:      []string{"training_dataset_size_limit=64"},
	})
	require.NoError(t, err)
	assert.Equal(t, "IVF16,Flat", res.Description)
	assert.Equal(t, 400, res.Count)
}

func TestBuildDeterministic(t *testing.T) {
	ctx := t.Context()
	ids, vectors := dataset(400, 8, 9)

	for _, desc := range []string{"HNSW16", "IVF8,PQ4", "IVF4(HNSW8,Flat),Flat"} {
		t.Run(desc, func(t *testing.T) {
			dir := t.TempDir()
			var sums []uint32
			for i := range 2 {
				res, err := knnlib.Build(ctx, knnlib.BuildRequest{
					IDs: ids, Vectors: vectors, Description: desc,
					Path: filepath.Join(dir, []string{"a.faiss", "b.faiss"}[i]),
				})
				require.NoError(t, err)
				sums = append(sums, res.Checksum)
			}
			assert.Equal(t, sums[0], sums[1])

			a, err := os.ReadFile(filepath.Join(dir, "a.faiss"))
			require.NoError(t, err)
			b, err := os.ReadFile(filepath.Join(dir, "b.faiss"))
			require.NoError(t, err)
			assert.Equal(t, a, b)
		})
	}
}

func TestBuildMethodContext(t *testing.T) {
	ctx := t.Context()
	ids, vectors := dataset(400, 8, 13)

	method, err := params.ParseMethod(map[string]any{
		"engine":     "faiss",
		"name":       "ivf",
		"space_type": "l2",
		"parameters": map[string]any{
			"ncentroids": 4,
			"nprobes":    4,
			"coarse_quantizer": map[string]any{
				"name":       "hnsw",
				"parameters": map[string]any{"m": 8},
			},
			"encoder": map[string]any{
				"name":       "pq",
				"parameters": map[string]any{"code_size": 4},
			},
		},
	})
	require.NoError(t, err)

	path := indexPath(t, "method.faiss")
	res, err := knnlib.Build(ctx, knnlib.BuildRequest{IDs: ids, Vectors: vectors, Path: path, Method: &method})
	require.NoError(t, err)
	assert.Equal(t, "IVF4(HNSW8,Flat),PQ4", res.Description)
	assert.Equal(t, "l2", res.Space)

	h, err := knnlib.Load(ctx, path, knnlib.LoadRequest{Space: "l2"})
	require.NoError(t, err)
	defer h.Close()
	results, err := h.Query(ctx, vectors[10], 10)
	require.NoError(t, err)
	assert.Len(t, results, 10)
}

func TestBuildFlatMethodParams(t *testing.T) {
	ctx := t.Context()
	ids, vectors := dataset(200, 8, 17)

	res, err := knnlib.Build(ctx, knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: indexPath(t, "flat-method.faiss"),
		Params: []string{"name=hnsw", "m=12", "ef_construction=64", "space_type=innerproduct"},
	})
	require.NoError(t, err)
	assert.Equal(t, "HNSW12", res.Description)
	assert.Equal(t, "innerproduct", res.Space)

	_, err = knnlib.Build(ctx, knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: indexPath(t, "bad-method.faiss"),
		Params: []string{"name=hnsw", "ncentroids=4"},
	})
	require.ErrorIs(t, err, knnlib.ErrValidation)
}

func TestBuildValidation(t *testing.T) {
	ctx := t.Context()
	ids, vectors := dataset(120, 8, 19)

	ragged := slices.Clone(vectors)
	ragged[60] = make([]float32, 7)

	tests := []struct {
		name   string
		req    knnlib.BuildRequest
		target error
	}{
		{"empty batch", knnlib.BuildRequest{}, knnlib.ErrEmptyBatch},
		{"id count", knnlib.BuildRequest{IDs: ids[:10], Vectors: vectors}, knnlib.ErrValidation},
		{"ragged vectors", knnlib.BuildRequest{IDs: ids, Vectors: ragged}, knnlib.ErrValidation},
		{"unknown space", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Space: "chebyshev"}, knnlib.ErrUnknownSpace},
		{"unsupported space for engine", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Space: "l1"}, knnlib.ErrUnknownSpace},
		{"unknown engine", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Engine: "lucene"}, knnlib.ErrUnknownEngine},
		{"malformed value", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Params: []string{"m=abc"}}, params.ErrMalformedValue},
		{"malformed entry", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Params: []string{"m"}}, params.ErrMalformedEntry},
		{"unknown description", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Description: "LSH64"}, knnlib.ErrValidation},
		{"nmslib ivf", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Engine: "nmslib", Description: "IVF4,Flat"}, knnlib.ErrValidation},
		{"binary dimension", knnlib.BuildRequest{IDs: ids, Vectors: vectors[:120], Space: "hamming", Description: "BFlat"}, nil},
		{"unknown compression", knnlib.BuildRequest{IDs: ids, Vectors: vectors, Params: []string{"compression=brotli"}}, knnlib.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			rc := newController()
			req := tt.req
			req.Path = filepath.Join(dir, "index.faiss")
			if tt.name == "binary dimension" {
				_, odd := dataset(120, 12, 1)
				req.Vectors = odd
			}

			_, err := knnlib.Build(ctx, req, knnlib.WithResourceController(rc))
			require.Error(t, err)
			require.ErrorIs(t, err, knnlib.ErrValidation)
			if tt.target != nil {
				require.ErrorIs(t, err, tt.target)
			}
			requireNoLeak(t, rc)
			requireEmptyDir(t, dir)
		})
	}
}

func TestBuildDimensionMismatchIsTyped(t *testing.T) {
	ids, vectors := dataset(10, 4, 1)
	vectors[3] = []float32{1, 2}

	_, err := knnlib.Build(t.Context(), knnlib.BuildRequest{IDs: ids, Vectors: vectors, Path: indexPath(t, "x.faiss")})
	var dm *knnlib.ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 4, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func TestBuildNoLeakOnWriteFailure(t *testing.T) {
	ids, vectors := dataset(200, 8, 23)

	faults := map[string]fs.Fault{
		"write":  {FailAfterBytes: 100},
		"open":   {FailAfterBytes: -1, FailOnOpen: true},
		"sync":   {FailAfterBytes: -1, FailOnSync: true},
		"close":  {FailAfterBytes: -1, FailOnClose: true},
		"rename": {FailAfterBytes: -1, FailOnRename: true},
	}
	for name, fault := range faults {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			rc := newController()
			fsys := fs.NewFaultyFS(nil)
			fsys.AddRule("index.faiss", fault)

			_, err := knnlib.Build(t.Context(), knnlib.BuildRequest{
				IDs: ids, Vectors: vectors, Path: filepath.Join(dir, "index.faiss"), Description: "HNSW8",
			}, knnlib.WithResourceController(rc), knnlib.WithFileSystem(fsys))
			require.ErrorIs(t, err, knnlib.ErrLibrary)
			require.ErrorIs(t, err, fs.ErrInjected)

			requireNoLeak(t, rc)
			requireEmptyDir(t, dir)
			assert.Zero(t, fsys.OpenFiles())
		})
	}
}

func TestBuildMemoryLimit(t *testing.T) {
	ids, vectors := dataset(400, 8, 29)
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 4096})
	dir := t.TempDir()

	_, err := knnlib.Build(t.Context(), knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: filepath.Join(dir, "index.faiss"),
	}, knnlib.WithResourceController(rc))
	require.ErrorIs(t, err, knnlib.ErrResourceExhausted)
	require.ErrorIs(t, err, resource.ErrMemoryLimitExceeded)
	requireNoLeak(t, rc)
	requireEmptyDir(t, dir)
}

func TestBuildCancelled(t *testing.T) {
	ids, vectors := dataset(400, 8, 31)
	rc := newController()
	dir := t.TempDir()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := knnlib.Build(ctx, knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: filepath.Join(dir, "index.faiss"), Description: "IVF8,PQ4",
	}, knnlib.WithResourceController(rc))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, knnlib.ErrLibrary)
	requireNoLeak(t, rc)
	requireEmptyDir(t, dir)
}

func TestBuildOpen(t *testing.T) {
	ids, vectors := dataset(150, 8, 37)
	rc := newController()

	res, err := knnlib.Build(t.Context(), knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: indexPath(t, "open.faiss"), Description: "Flat", Open: true,
	}, knnlib.WithResourceController(rc))
	require.NoError(t, err)
	require.NotNil(t, res.Handle)
	assert.Equal(t, map[resource.Kind]int64{resource.KindHandle: 1}, rc.OutstandingByKind())

	results, err := res.Handle.Query(t.Context(), vectors[3], 1)
	require.NoError(t, err)
	assert.Equal(t, []knnlib.Result{{ID: 3, Distance: 0}}, results)

	require.NoError(t, res.Handle.Close())
	requireNoLeak(t, rc)
}

func TestBuildOpenMemoryLimit(t *testing.T) {
	ids, vectors := dataset(100, 8, 41)
	// The build holds 7200 bytes at its peak; the handle needs 4000 more.
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8000})

	dir := t.TempDir()
	_, err := knnlib.Build(t.Context(), knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: filepath.Join(dir, "index.faiss"), Description: "Flat", Open: true,
	}, knnlib.WithResourceController(rc))
	require.ErrorIs(t, err, knnlib.ErrResourceExhausted)
	requireNoLeak(t, rc)
	requireEmptyDir(t, dir)

	res, err := knnlib.Build(t.Context(), knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: filepath.Join(dir, "index.faiss"), Description: "Flat",
	}, knnlib.WithResourceController(rc))
	require.NoError(t, err)
	assert.Nil(t, res.Handle)
	assert.FileExists(t, res.Path)
	requireNoLeak(t, rc)
}

func TestBuildProgress(t *testing.T) {
	ids, vectors := dataset(5000, 4, 41)
	var reports [][2]int

	_, err := knnlib.Build(t.Context(), knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: indexPath(t, "progress.faiss"), Description: "Flat",
	}, knnlib.WithProgress(func(added, total int) {
		reports = append(reports, [2]int{added, total})
	}), knnlib.WithCompression(persistence.CompressionLZ4))
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{4096, 5000}, {5000, 5000}}, reports)
}
