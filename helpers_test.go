package knnlib_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib/resource"
	"github.com/hupe1980/knnlib/testutil"
)

// dataset returns n deterministic vectors of dimension dim with ids 0..n-1.
func dataset(n, dim int, seed uint64) ([]int64, [][]float32) {
	return testutil.SequentialIDs(n, 0), testutil.NewRNG(seed).UniformRangeVectors(n, dim)
}

// bitDataset returns n vectors of 0/1 components.
func bitDataset(n, dim int, seed uint64) ([]int64, [][]float32) {
	return testutil.SequentialIDs(n, 0), testutil.NewRNG(seed).BinaryVectors(n, dim)
}

func newController() *resource.Controller {
	return resource.NewController(resource.Config{})
}

// requireNoLeak asserts that every reservation was released.
func requireNoLeak(t *testing.T, rc *resource.Controller) {
	t.Helper()
	require.Zero(t, rc.Outstanding(), "outstanding reservations: %v", rc.OutstandingByKind())
	require.Zero(t, rc.MemoryUsage())
}

// requireEmptyDir asserts that dir holds no files, temporary ones included.
func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	require.Empty(t, names)
}

func indexPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
