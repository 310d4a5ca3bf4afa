package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hupe1980/knnlib/blobstore"
	"github.com/hupe1980/knnlib/blobstore/minio"
	"github.com/hupe1980/knnlib/blobstore/s3"
	"github.com/hupe1980/knnlib/catalog"
	"github.com/hupe1980/knnlib/catalog/bolt"
	"github.com/hupe1980/knnlib/catalog/dynamo"
	"github.com/hupe1980/knnlib/config"
)

var errNoCatalog = errors.New("no catalog configured; set catalog.backend to bolt or dynamodb")

// openCatalog opens the configured catalog. It returns errNoCatalog when
// none is configured.
func openCatalog(ctx context.Context, cfg config.CatalogConfig) (catalog.Catalog, error) {
	switch strings.ToLower(cfg.Backend) {
	case "":
		return nil, errNoCatalog
	case "bolt":
		return bolt.Open(cfg.Path)
	case "dynamodb":
		return dynamo.New(ctx, cfg.Table, cfg.Region)
	default:
		return nil, fmt.Errorf("unknown catalog backend %q", cfg.Backend)
	}
}

// openBlobStore creates the configured blob store.
func openBlobStore(ctx context.Context, cfg config.BlobConfig) (blobstore.Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "local":
		return blobstore.NewLocalStore(cfg.Root), nil
	case "s3":
		opts := []s3.Option{s3.WithPrefix(cfg.Prefix)}
		if cfg.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.Region))
		}
		if cfg.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.Endpoint))
		}
		return s3.New(ctx, cfg.Bucket, opts...)
	case "minio":
		return minio.New(minio.Config{
			Endpoint:  cfg.Endpoint,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			Secure:    cfg.Secure,
			Bucket:    cfg.Bucket,
			Prefix:    cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}
