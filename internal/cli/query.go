package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/spf13/cobra"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/codec"
)

type queryFlags struct {
	vector     string
	vectorFile string
	k          int
	space      string
	engine     string
	filter     []int64
	efSearch   int
	nprobes    int
	params     []string
	jsonOut    bool
}

func newQueryCmd(a *app) *cobra.Command {
	var f queryFlags
	cmd := &cobra.Command{
		Use:   "query <index>",
		Short: "Run a k-NN query against an index file",
		Long: `Load an index file and print the k nearest neighbors of a query vector.

The query vector is given inline with --vector or as a JSON array in a file
with --vector-file. Distances keep the engine's convention; the score column
is the engine's similarity where higher is better.

Examples:
  knnctl query seg.faiss --vector 0.1,0.2,0.3 -k 5
  knnctl query seg.faiss --vector-file q.json --filter 4,8,15 --ef-search 256
  knnctl query seg.hnsw --space cosinesimil --vector 1,0,0 --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runQuery(cmd, args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.vector, "vector", "", "comma separated query vector")
	cmd.Flags().StringVar(&f.vectorFile, "vector-file", "", "file holding the query vector as a JSON array")
	cmd.Flags().IntVarP(&f.k, "top-k", "k", 10, "number of neighbors")
	cmd.Flags().StringVar(&f.space, "space", "", "space the index was built for (required for nmslib)")
	cmd.Flags().StringVar(&f.engine, "engine", "", "engine name, derived from the extension when empty")
	cmd.Flags().Int64SliceVar(&f.filter, "filter", nil, "only return these ids")
	cmd.Flags().IntVar(&f.efSearch, "ef-search", 0, "HNSW candidate list size for this query")
	cmd.Flags().IntVar(&f.nprobes, "nprobes", 0, "IVF lists probed for this query")
	cmd.Flags().StringArrayVarP(&f.params, "param", "p", nil, "name=value query parameter applied at load")
	cmd.Flags().BoolVar(&f.jsonOut, "json", false, "print results as JSON")
	cmd.MarkFlagsMutuallyExclusive("vector", "vector-file")
	cmd.MarkFlagsOneRequired("vector", "vector-file")
	return cmd
}

func (a *app) runQuery(cmd *cobra.Command, path string, f queryFlags) error {
	ctx := cmd.Context()

	var (
		vector []float32
		err    error
	)
	if f.vectorFile != "" {
		vector, err = readQueryVector(f.vectorFile)
	} else {
		vector, err = parseVector(f.vector)
	}
	if err != nil {
		return err
	}

	h, err := knnlib.Load(ctx, path, knnlib.LoadRequest{
		Engine: f.engine,
		Space:  f.space,
		Params: f.params,
	}, a.libOptions()...)
	if err != nil {
		return err
	}
	defer h.Close()

	var opts []knnlib.QueryOption
	if len(f.filter) > 0 {
		allowed := roaring64.New()
		for _, id := range f.filter {
			if id >= 0 {
				allowed.Add(uint64(id))
			}
		}
		opts = append(opts, knnlib.WithFilter(allowed))
	}
	if f.efSearch > 0 {
		opts = append(opts, knnlib.WithEfSearch(f.efSearch))
	}
	if f.nprobes > 0 {
		opts = append(opts, knnlib.WithNProbes(f.nprobes))
	}

	start := time.Now()
	results, err := h.Query(ctx, vector, f.k, opts...)
	if err != nil {
		return err
	}
	took := time.Since(start)

	if f.jsonOut {
		type hit struct {
			knnlib.Result
			Score float32 `json:"score"`
		}
		hits := make([]hit, len(results))
		for i, r := range results {
			hits[i] = hit{Result: r, Score: h.Score(r.Distance)}
		}
		return codec.Default.Encode(cmd.OutOrStdout(), hits)
	}

	info := h.Info()
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s, %s, %s): %d results in %s\n\n",
		info.Path, info.Engine, info.Space, info.Description, len(results), formatDuration(took))
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tDISTANCE\tSCORE")
	for i, r := range results {
		fmt.Fprintf(tw, "%d\t%d\t%.6f\t%.6f\n", i+1, r.ID, r.Distance, h.Score(r.Distance))
	}
	return tw.Flush()
}

func readQueryVector(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v []float32
	if err := codec.Default.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return v, nil
}

func newInspectCmd(a *app) *cobra.Command {
	var (
		space   string
		jsonOut bool
	)
	cmd := &cobra.Command{
		Use:   "inspect <index>...",
		Short: "Verify index files and print what they contain",
		Long: `Verify the checksum of each index file, load it and print its engine, space,
description, dimension, vector count and storage details.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var infos []knnlib.HandleInfo
			for _, path := range args {
				info, err := a.inspect(cmd, path, space)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				infos = append(infos, info)
			}
			if jsonOut {
				return codec.Default.Encode(cmd.OutOrStdout(), infos)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tENGINE\tSPACE\tDESCRIPTION\tDIM\tCOUNT\tSIZE_KB\tCHECKSUM")
			for _, i := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%08x\n",
					i.Path, i.Engine, i.Space, i.Description, i.Dimension, i.Count, i.SizeInKB, i.Checksum)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&space, "space", "", "space the index was built for (required for nmslib)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print as JSON")
	return cmd
}

func (a *app) inspect(cmd *cobra.Command, path, space string) (knnlib.HandleInfo, error) {
	h, err := knnlib.Load(cmd.Context(), path, knnlib.LoadRequest{Space: strings.ToLower(space)}, a.libOptions()...)
	if err != nil {
		return knnlib.HandleInfo{}, err
	}
	info := h.Info()
	return info, h.Close()
}
