package otelmetrics

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/hupe1980/knnlib"
)

func TestCollectorRecordsWithoutPanicking(t *testing.T) {
	c, err := New(noop.NewMeterProvider().Meter("knnlib-test"))
	require.NoError(t, err)

	c.RecordBuild(10, time.Millisecond, nil)
	c.RecordBuild(0, time.Millisecond, errors.New("boom"))
	c.RecordLoad(time.Millisecond, nil)
	c.RecordQuery(5, time.Microsecond, nil)
	c.RecordEviction("capacity")
}

func TestCollectorAsBuildOption(t *testing.T) {
	c, err := New(noop.NewMeterProvider().Meter("knnlib-test"))
	require.NoError(t, err)

	ids := []int64{1, 2, 3}
	vectors := [][]float32{{0, 0}, {1, 0}, {0, 1}}
	res, err := knnlib.Build(t.Context(), knnlib.BuildRequest{
		IDs: ids, Vectors: vectors, Path: filepath.Join(t.TempDir(), "i.faiss"),
		Description: "Flat", Open: true,
	}, knnlib.WithMetricsCollector(c))
	require.NoError(t, err)
	defer res.Handle.Close()

	_, err = res.Handle.Query(t.Context(), []float32{0, 0}, 1)
	require.NoError(t, err)
}
