// Package distance provides the metric spaces understood by the index engines.
//
// # Supported Metrics
//
//   - MetricL2: squared Euclidean distance (faiss "l2")
//   - MetricInnerProduct: raw inner product, larger is closer (faiss "innerproduct")
//   - MetricEuclidean: Euclidean distance (nmslib "l2")
//   - MetricL1, MetricLinf: Manhattan and Chebyshev distance
//   - MetricCosine: one minus cosine similarity (nmslib "cosinesimil")
//   - MetricNegDot: negated inner product (nmslib "negdotprod")
//   - MetricHamming: bit distance over packed binary codes
//
// Every metric exposes a ranking key where smaller is always closer, and a
// Report conversion back to the value the engine reports to callers.
package distance
