package cli

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/knnlib/blobstore"
	"github.com/hupe1980/knnlib/catalog"
)

func newPublishCmd(a *app) *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "publish <index>",
		Short: "Verify an index file and upload it to the blob store",
		Long: `Verify the checksum of an index file and upload it to the configured blob
store. The key defaults to the file name. Uploads are throttled by
resource.io_limit_bytes_per_sec.

Examples:
  knnctl publish seg.faiss
  knnctl publish seg.faiss --key products/v3/seg.faiss`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if key == "" {
				key = filepath.Base(path)
			}
			store, err := openBlobStore(cmd.Context(), a.cfg.Blob)
			if err != nil {
				return err
			}
			info, err := blobstore.Publish(cmd.Context(), store, key, path, a.transferOptions()...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Published %s as %s (%d bytes, checksum %08x, %s)\n",
				path, key, info.Size, info.Checksum, info.Compression)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "blob key (default is the file name)")
	return cmd
}

func newFetchCmd(a *app) *cobra.Command {
	var (
		name    string
		version int64
	)
	cmd := &cobra.Command{
		Use:   "fetch [key] <path>",
		Short: "Download an index file from the blob store",
		Long: `Download a published index file and verify it before it replaces path.
A failed download leaves path untouched.

With --name the key is looked up in the catalog: the latest version, or the
one given by --version.

Examples:
  knnctl fetch seg.faiss ./indexes/seg.faiss
  knnctl fetch --name products ./indexes/products.faiss`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[len(args)-1]

			var key string
			switch {
			case len(args) == 2 && name != "":
				return errors.New("give either a key or --name, not both")
			case len(args) == 2:
				key = args[0]
			case name != "":
				rec, err := a.lookup(cmd, name, version)
				if err != nil {
					return err
				}
				if rec.BlobKey == "" {
					return fmt.Errorf("%s v%d has not been published", rec.Name, rec.Version)
				}
				key = rec.BlobKey
			default:
				return errors.New("missing key")
			}

			store, err := openBlobStore(ctx, a.cfg.Blob)
			if err != nil {
				return err
			}
			info, err := blobstore.Fetch(ctx, store, key, path, a.transferOptions()...)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fetched %s to %s (%d bytes, checksum %08x)\n",
				key, path, info.Size, info.Checksum)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "look the key up in the catalog")
	cmd.Flags().Int64Var(&version, "version", 0, "catalog version (default latest)")
	return cmd
}

func (a *app) transferOptions() []blobstore.TransferOption {
	return []blobstore.TransferOption{
		blobstore.WithResourceController(a.rc),
		blobstore.WithLogger(a.logger),
	}
}

// lookup returns the catalog record for name at version, or the latest one
// when version is zero.
func (a *app) lookup(cmd *cobra.Command, name string, version int64) (catalog.Record, error) {
	cat, err := openCatalog(cmd.Context(), a.cfg.Catalog)
	if err != nil {
		return catalog.Record{}, err
	}
	defer cat.Close()
	if version > 0 {
		return cat.Get(cmd.Context(), name, version)
	}
	return cat.Latest(cmd.Context(), name)
}
