package cli

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/codec"
	"github.com/hupe1980/knnlib/prommetrics"
	"github.com/hupe1980/knnlib/server"
)

// newCache creates the loaded-index cache from the cache section of the
// config. Operations are recorded on reg when it is not nil.
func (a *app) newCache(reg prometheus.Registerer) (*knnlib.Cache, error) {
	opts := a.libOptions()
	if reg != nil {
		mc, err := prommetrics.New(reg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, knnlib.WithMetricsCollector(mc))
	}
	cache, err := knnlib.NewCache(knnlib.CacheConfig{
		CapacityKB:        a.cfg.Cache.CapacityKB,
		ExpireAfterAccess: a.cfg.Cache.ExpireAfterAccess.Duration,
		WatchFiles:        a.cfg.Cache.WatchFiles,
	}, opts...)
	if err != nil {
		return nil, err
	}
	if reg != nil {
		if err := reg.Register(prommetrics.NewCacheCollector(cache)); err != nil {
			_ = cache.Close()
			return nil, err
		}
	}
	return cache, nil
}

// expandPatterns resolves doublestar patterns against root. Absolute
// patterns are used as given. Each file is returned once.
func expandPatterns(root string, patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if !slices.Contains(out, m) {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func newWarmupCmd(a *app) *cobra.Command {
	var (
		root  string
		space string
	)
	cmd := &cobra.Command{
		Use:   "warmup <pattern>...",
		Short: "Load every index matching the patterns and report cache stats",
		Long: `Load every index file matching the doublestar patterns into a cache
configured like the server's and print the resulting cache statistics as JSON.
Files that fail to load are reported and make the command fail.

Examples:
  knnctl warmup "**/*.faiss"
  knnctl warmup --root /data/indexes "shard-*/*.hnsw" --space cosinesimil`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if root == "" {
				root = a.cfg.Server.Root
			}
			paths, err := expandPatterns(root, args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no index files match %v below %s", args, root)
			}

			cache, err := a.newCache(nil)
			if err != nil {
				return err
			}
			defer cache.Close()

			werr := cache.Warmup(cmd.Context(), knnlib.LoadRequest{Space: space}, paths...)
			if err := codec.Default.Encode(cmd.OutOrStdout(), cache.Stats()); err != nil {
				return err
			}
			return werr
		},
	}
	cmd.Flags().StringVar(&root, "root", "", "directory relative patterns resolve against (default server.root)")
	cmd.Flags().StringVar(&space, "space", "", "space of the indexes (required for nmslib)")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var (
		addr   string
		root   string
		space  string
		warmup []string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve cached indexes over HTTP",
		Long: `Serve queries against the index files below a root directory.

Endpoints:
  POST   /indexes/{name}/query   {"vector": [...], "k": 10, "filter": [ids]}
  DELETE /indexes/{name}/cache   evict one index
  POST   /warmup                 {"patterns": ["**/*.faiss"]}
  GET    /stats                  cache statistics
  DELETE /cache                  evict every index
  GET    /metrics                Prometheus metrics`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc := a.cfg.Server
			addr = firstNonEmpty(addr, sc.Addr)
			root = firstNonEmpty(root, sc.Root)

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			cache, err := a.newCache(reg)
			if err != nil {
				return err
			}
			defer cache.Close()

			load := knnlib.LoadRequest{Space: space}
			if len(warmup) > 0 {
				paths, err := expandPatterns(root, warmup)
				if err != nil {
					return err
				}
				if err := cache.Warmup(cmd.Context(), load, paths...); err != nil {
					a.logger.Warn("warmup incomplete", "error", err)
				}
			}

			srv := server.New(cache, root,
				server.WithLogger(a.logger),
				server.WithLoadRequest(load),
				server.WithMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})),
			)
			return srv.ListenAndServe(cmd.Context(), addr, sc.ReadTimeout.Duration, sc.ShutdownTimeout.Duration)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	cmd.Flags().StringVar(&root, "root", "", "index directory (default server.root)")
	cmd.Flags().StringVar(&space, "space", "", "default space for loads (required for nmslib)")
	cmd.Flags().StringArrayVar(&warmup, "warmup", nil, "pattern to load before serving, repeatable")
	return cmd
}
