package distance

import (
	"fmt"
	"math"
	"math/bits"
	"slices"
)

// Dot calculates the dot product of two vectors.
// Assumes vectors are the same length (caller's responsibility).
func Dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// SquaredL2 calculates the squared L2 (Euclidean) distance between two vectors.
func SquaredL2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// Euclidean returns the L2 distance (square root of SquaredL2).
func Euclidean(a, b []float32) float32 {
	return float32(math.Sqrt(float64(SquaredL2(a, b))))
}

// L1 returns the Manhattan distance.
func L1(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += float32(math.Abs(float64(a[i] - b[i])))
	}
	return sum
}

// Linf returns the Chebyshev distance.
func Linf(a, b []float32) float32 {
	var m float32
	for i := range a {
		if d := float32(math.Abs(float64(a[i] - b[i]))); d > m {
			m = d
		}
	}
	return m
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are treated as orthogonal.
func CosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// NegDot returns the negated inner product.
func NegDot(a, b []float32) float32 {
	return -Dot(a, b)
}

// Hamming calculates the Hamming distance between two byte slices.
// Returns the count of differing bits as a float32.
func Hamming(a, b []byte) float32 {
	var n int
	for i := range a {
		n += bits.OnesCount8(a[i] ^ b[i])
	}
	return float32(n)
}

// NormalizeL2InPlace L2-normalizes v in place.
// Returns false if v has zero L2 norm.
func NormalizeL2InPlace(v []float32) bool {
	norm2 := Dot(v, v)
	if norm2 == 0 {
		return false
	}
	inv := float32(1 / math.Sqrt(float64(norm2)))
	for i := range v {
		v[i] *= inv
	}
	return true
}

// NormalizeL2Copy returns a normalized copy of src.
func NormalizeL2Copy(src []float32) ([]float32, bool) {
	dst := slices.Clone(src)
	if !NormalizeL2InPlace(dst) {
		return nil, false
	}
	return dst, true
}

// PackBits packs a vector of 0/1 values into bytes, most significant bit first.
// Any non-zero component is treated as a set bit.
func PackBits(v []float32) []byte {
	out := make([]byte, (len(v)+7)/8)
	for i, x := range v {
		if x != 0 {
			out[i/8] |= 0x80 >> (i % 8)
		}
	}
	return out
}

// Metric represents the distance metric used for vector comparison.
type Metric int

const (
	MetricL2 Metric = iota
	MetricInnerProduct
	MetricEuclidean
	MetricL1
	MetricLinf
	MetricCosine
	MetricNegDot
	MetricHamming
)

var metricNames = [...]string{
	MetricL2:           "l2",
	MetricInnerProduct: "innerproduct",
	MetricEuclidean:    "euclidean",
	MetricL1:           "l1",
	MetricLinf:         "linf",
	MetricCosine:       "cosinesimil",
	MetricNegDot:       "negdotprod",
	MetricHamming:      "hamming",
}

func (m Metric) String() string {
	if m >= 0 && int(m) < len(metricNames) {
		return metricNames[m]
	}
	return fmt.Sprintf("unknown(%d)", int(m))
}

// ParseMetric returns the metric with the given canonical name.
func ParseMetric(name string) (Metric, error) {
	for i, n := range metricNames {
		if n == name {
			return Metric(i), nil
		}
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}

// IsBinary reports whether the metric operates on packed bit vectors.
func (m Metric) IsBinary() bool { return m == MetricHamming }

// HigherIsCloser reports whether the engine-reported value grows with similarity.
func (m Metric) HigherIsCloser() bool { return m == MetricInnerProduct }

// Report converts a ranking key back to the value reported to callers.
func (m Metric) Report(key float32) float32 {
	if m == MetricInnerProduct {
		return -key
	}
	return key
}

// Func is a function type for distance calculation.
type Func func(a, b []float32) float32

// FuncBytes is a function type for distance calculation on byte slices.
type FuncBytes func(a, b []byte) float32

// Provider returns the ranking function for the given metric: smaller values are
// always closer. For MetricInnerProduct this is the negated inner product.
func Provider(m Metric) (Func, error) {
	switch m {
	case MetricL2:
		return SquaredL2, nil
	case MetricInnerProduct, MetricNegDot:
		return NegDot, nil
	case MetricEuclidean:
		return Euclidean, nil
	case MetricL1:
		return L1, nil
	case MetricLinf:
		return Linf, nil
	case MetricCosine:
		return CosineDistance, nil
	default:
		return nil, fmt.Errorf("unsupported metric for float32: %v", m)
	}
}

// ProviderBytes returns the distance function for the given metric on byte slices.
func ProviderBytes(m Metric) (FuncBytes, error) {
	switch m {
	case MetricHamming:
		return Hamming, nil
	default:
		return nil, fmt.Errorf("unsupported metric for bytes: %v", m)
	}
}
