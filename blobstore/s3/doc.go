// Package s3 implements blobstore.Store on Amazon S3 and S3-compatible
// endpoints through aws-sdk-go-v2.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/"),
//	    s3.WithRegion("eu-central-1"),
//	)
//	info, err := blobstore.Publish(ctx, store, "products/v3.faiss", path)
//
// Uploads stream through the multipart uploader with CRC32C checksums.
// Downloads are ranged GETs.
package s3
