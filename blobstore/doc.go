// Package blobstore moves index files between local disk and object storage.
//
// Store is the storage abstraction. LocalStore and MemoryStore live here; the
// s3 and minio subpackages implement it for remote buckets.
//
//	store := blobstore.NewLocalStore("/var/lib/knn/published")
//	info, err := blobstore.Publish(ctx, store, "products/v3.faiss", "/data/products.faiss")
//	...
//	info, err = blobstore.Fetch(ctx, store, "products/v3.faiss", "/cache/products.faiss",
//	    blobstore.WithResourceController(rc))
//
// Publish refuses files that fail verification. Fetch downloads into a
// temporary file, verifies it and renames it into place.
package blobstore
