// Package quantization provides the vector encoders stored in inverted lists.
//
//   - FlatEncoder keeps full float32 vectors (exact distances).
//   - ProductQuantizer splits a vector into M subvectors and stores one
//     byte-sized centroid index per subvector (lossy, M bytes per vector).
//
// Encoders are safe for concurrent Encode and Scorer use after training.
// Training must not run concurrently with other calls.
package quantization
