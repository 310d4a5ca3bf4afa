package cli

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/blobstore"
	"github.com/hupe1980/knnlib/catalog"
	"github.com/hupe1980/knnlib/persistence"
)

type buildFlags struct {
	input       string
	output      string
	engine      string
	space       string
	description string
	compression string
	params      []string
	name        string
	publish     bool
	quiet       bool
}

func newBuildCmd(a *app) *cobra.Command {
	var f buildFlags
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build an index file from a vector batch",
		Long: `Build an index file from a JSON array of {"id": <int>, "vector": [...]} records.

Engine, space, compression and parameters default to the build section of the
config file. With --name the result is registered in the configured catalog
under the next free version.

Examples:
  knnctl build -i vectors.json -o seg.faiss
  knnctl build -i vectors.json -o seg.faiss --param M=32 --param efSearch=64
  knnctl build -i vectors.json -o seg.hnsw --engine nmslib --space cosinesimil
  knnctl build -i vectors.json -o seg.faiss --description "IVF16,PQ8" --name products`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runBuild(cmd, f)
		},
	}
	cmd.Flags().StringVarP(&f.input, "input", "i", "", "vector batch, - for stdin")
	cmd.Flags().StringVarP(&f.output, "output", "o", "", "index file to write")
	cmd.Flags().StringVar(&f.engine, "engine", "", "engine name (faiss, nmslib)")
	cmd.Flags().StringVar(&f.space, "space", "", "space type (l2, innerproduct, cosinesimil, ...)")
	cmd.Flags().StringVar(&f.description, "description", "", "index description, e.g. HNSW32 or IVF16,PQ8")
	cmd.Flags().StringVar(&f.compression, "compression", "", "payload compression (none, lz4, zstd)")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "name=value build parameter, repeatable")
	cmd.Flags().StringVar(&f.name, "name", "", "register the index in the catalog under this name")
	cmd.Flags().BoolVar(&f.publish, "publish", false, "upload the index to the blob store before registering it (needs --name)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "do not show progress")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, f buildFlags) error {
	ctx := cmd.Context()
	bc := a.cfg.Build

	req := knnlib.BuildRequest{
		Path:        f.output,
		Engine:      firstNonEmpty(f.engine, bc.Engine),
		Space:       firstNonEmpty(f.space, bc.Space),
		Description: f.description,
		Params:      f.params,
	}
	if len(req.Params) == 0 {
		req.Params = bc.Params
	}
	if f.publish && f.name == "" {
		return errors.New("--publish needs --name")
	}
	compression, err := persistence.ParseCompression(firstNonEmpty(f.compression, bc.Compression))
	if err != nil {
		return err
	}

	// Open the catalog and store first so a misconfiguration fails before
	// the build.
	var (
		cat   catalog.Catalog
		store blobstore.Store
	)
	if f.name != "" {
		if cat, err = openCatalog(ctx, a.cfg.Catalog); err != nil {
			return err
		}
		defer cat.Close()
	}
	if f.publish {
		if store, err = openBlobStore(ctx, a.cfg.Blob); err != nil {
			return err
		}
	}

	req.IDs, req.Vectors, err = readVectors(f.input, cmd.InOrStdin())
	if err != nil {
		return err
	}

	opts := append(a.libOptions(), knnlib.WithCompression(compression))
	if !f.quiet {
		opts = append(opts, knnlib.WithProgress(newBuildProgress(cmd)))
	}

	res, err := knnlib.Build(ctx, req, opts...)
	if err != nil {
		return fmt.Errorf("build failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Build complete:\n")
	fmt.Fprintf(out, "  Path:        %s\n", res.Path)
	fmt.Fprintf(out, "  Engine:      %s\n", res.Engine)
	fmt.Fprintf(out, "  Space:       %s\n", res.Space)
	fmt.Fprintf(out, "  Description: %s\n", res.Description)
	fmt.Fprintf(out, "  Vectors:     %d x %d\n", res.Count, res.Dimension)
	fmt.Fprintf(out, "  Size:        %d bytes\n", res.Size)
	fmt.Fprintf(out, "  Checksum:    %08x\n", res.Checksum)
	fmt.Fprintf(out, "  Duration:    %s\n", formatDuration(res.Duration))

	if cat != nil {
		rec := catalog.FromBuild(f.name, res)
		if store != nil {
			rec.ID = uuid.New()
			rec.BlobKey = f.name + "/" + rec.ID.String() + filepath.Ext(res.Path)
			if _, err := blobstore.Publish(ctx, store, rec.BlobKey, res.Path, a.transferOptions()...); err != nil {
				return err
			}
			fmt.Fprintf(out, "  Published:   %s\n", rec.BlobKey)
		}
		rec, err = catalog.Register(ctx, cat, rec)
		if err != nil {
			return fmt.Errorf("register %s: %w", f.name, err)
		}
		fmt.Fprintf(out, "  Registered:  %s v%d (%s)\n", rec.Name, rec.Version, rec.ID)
	}
	return nil
}

// newBuildProgress returns a progress callback that draws a bar on stderr.
// The bar is created on the first report, once the total is known.
func newBuildProgress(cmd *cobra.Command) func(added, total int) {
	var (
		mu  sync.Mutex
		bar *progressbar.ProgressBar
	)
	return func(added, total int) {
		mu.Lock()
		defer mu.Unlock()
		if bar == nil {
			bar = progressbar.NewOptions(total,
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription("[cyan]Adding vectors[reset]"),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Fprintln(cmd.ErrOrStderr())
				}),
			)
		}
		_ = bar.Set(added)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
