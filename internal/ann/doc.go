// Package ann implements the approximate nearest neighbor structures that back
// native index files: exhaustive flat search over float or packed binary
// vectors, HNSW graphs and inverted file (IVF) indexes with flat or product
// quantized codes.
//
// Every structure addresses vectors by insertion position. IDMap wraps a
// structure and translates positions to caller supplied 64-bit labels.
// Structures are created from a compact description string such as
// "HNSW32,Flat" or "IVF16(HNSW16,Flat),PQ8" and persisted through the
// persistence codec.
package ann
