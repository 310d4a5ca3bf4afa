package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Simple", []float32{1, 2, 3}, []float32{4, 5, 6}, 32},
		{"Zero", []float32{0, 0, 0}, []float32{0, 0, 0}, 0},
		{"Mixed", []float32{1, -1, 2}, []float32{1, 1, -2}, -4},
		{"Empty", []float32{}, []float32{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Dot(tt.a, tt.b), 1e-5)
		})
	}
}

func TestDistanceFunctions(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}

	assert.InDelta(t, 25, SquaredL2(a, b), 1e-5)
	assert.InDelta(t, 5, Euclidean(a, b), 1e-5)
	assert.InDelta(t, 7, L1(a, b), 1e-5)
	assert.InDelta(t, 4, Linf(a, b), 1e-5)
	assert.InDelta(t, -25, NegDot(a, b), 1e-5)
	assert.InDelta(t, 0, CosineDistance(a, a), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{0, 0}, []float32{0, 1}), 1e-6)
}

func TestHammingAndPackBits(t *testing.T) {
	a := PackBits([]float32{1, 0, 1, 0, 0, 0, 0, 1, 1})
	require.Len(t, a, 2)
	assert.Equal(t, byte(0xA1), a[0])
	assert.Equal(t, byte(0x80), a[1])

	b := PackBits([]float32{0, 0, 1, 0, 0, 0, 0, 1, 0})
	assert.Equal(t, float32(2), Hamming(a, b))
	assert.Equal(t, float32(0), Hamming(a, a))
}

func TestNormalizeL2(t *testing.T) {
	v, ok := NormalizeL2Copy([]float32{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	_, ok = NormalizeL2Copy([]float32{0, 0})
	assert.False(t, ok)
}

func TestMetricNames(t *testing.T) {
	for m := MetricL2; m <= MetricHamming; m++ {
		parsed, err := ParseMetric(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
	}

	_, err := ParseMetric("chebyshev")
	require.Error(t, err)
	assert.Equal(t, "unknown(99)", Metric(99).String())
}

func TestProviderRanksCloserFirst(t *testing.T) {
	q := []float32{1, 0}
	near := []float32{2, 0}
	far := []float32{-1, 0}

	for _, m := range []Metric{MetricL2, MetricInnerProduct, MetricEuclidean, MetricL1, MetricLinf, MetricCosine, MetricNegDot} {
		fn, err := Provider(m)
		require.NoError(t, err, m.String())
		assert.Less(t, fn(q, near), fn(q, far), m.String())
	}

	_, err := Provider(MetricHamming)
	require.Error(t, err)
}

func TestReportKeepsEngineSign(t *testing.T) {
	fn, err := Provider(MetricInnerProduct)
	require.NoError(t, err)

	key := fn([]float32{1, 2}, []float32{3, 4})
	assert.Equal(t, float32(11), MetricInnerProduct.Report(key))
	assert.True(t, MetricInnerProduct.HigherIsCloser())

	nfn, err := Provider(MetricNegDot)
	require.NoError(t, err)
	nkey := nfn([]float32{1, 2}, []float32{3, 4})
	assert.Equal(t, float32(-11), MetricNegDot.Report(nkey))
	assert.False(t, MetricNegDot.HigherIsCloser())
}
