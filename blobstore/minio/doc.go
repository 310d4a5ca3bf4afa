// Package minio implements blobstore.Store with the MinIO client, for MinIO
// and other S3-compatible object stores (Ceph, Garage, SeaweedFS).
//
//	store, err := minio.New(minio.Config{
//	    Endpoint:  "localhost:9000",
//	    AccessKey: "minioadmin",
//	    SecretKey: "minioadmin",
//	    Bucket:    "indexes",
//	})
//	info, err := blobstore.Publish(ctx, store, "products/v3.faiss", path)
package minio
