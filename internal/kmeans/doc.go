// Package kmeans implements seeded k-means clustering used to train IVF coarse
// quantizers and product-quantizer codebooks.
//
// Training is deterministic: the same input, configuration and seed always
// produce the same centroids.
package kmeans
