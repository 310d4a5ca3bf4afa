// Package cli implements the knnctl command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hupe1980/knnlib"
	"github.com/hupe1980/knnlib/config"
	"github.com/hupe1980/knnlib/resource"
)

// app carries the state shared by all subcommands of one invocation.
type app struct {
	cfgFile string
	dir     string

	cfg    *config.Config
	logger *slog.Logger
	rc     *resource.Controller
}

// NewRootCmd builds a fresh command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "knnctl",
		Short: "Build, inspect, serve and ship k-NN index files",
		Long: `knnctl builds approximate nearest neighbor index files from vector batches,
queries them, serves them over HTTP and moves them between local disk and
blob storage.

Example usage:
  knnctl build -i vectors.json -o seg.faiss --param M=32
  knnctl query seg.faiss --vector 0.1,0.2,0.3 -k 5
  knnctl serve --root ./indexes`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ./knnctl.yaml or ./knnctl.toml)")
	root.PersistentFlags().StringVarP(&a.dir, "dir", "d", "", "directory to look for the config file in (default is current directory)")

	root.AddCommand(
		newBuildCmd(a),
		newQueryCmd(a),
		newInspectCmd(a),
		newWarmupCmd(a),
		newServeCmd(a),
		newPublishCmd(a),
		newFetchCmd(a),
		newCatalogCmd(a),
	)
	return root
}

// Execute runs knnctl with the process arguments.
func Execute(ctx context.Context) int {
	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func (a *app) init(cmd *cobra.Command) error {
	var err error
	if a.dir == "" {
		if a.dir, err = os.Getwd(); err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
	}
	if a.cfgFile != "" {
		a.cfg, err = config.Load(a.cfgFile)
	} else {
		a.cfg, err = config.LoadFromDir(a.dir)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	a.logger = newLogger(cmd.ErrOrStderr(), a.cfg.Log)
	a.rc = resource.NewController(resource.Config{
		MemoryLimitBytes:     a.cfg.Resource.MemoryLimitBytes,
		MaxBackgroundWorkers: a.cfg.Resource.MaxBackgroundWorkers,
		IOLimitBytesPerSec:   a.cfg.Resource.IOLimitBytesPerSec,
	})
	return knnlib.Init(knnlib.InitOptions{TrainingWorkers: a.cfg.Build.TrainingWorkers})
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// libOptions returns the options passed to every knnlib call.
func (a *app) libOptions() []knnlib.Option {
	return []knnlib.Option{
		knnlib.WithLogger(&knnlib.Logger{Logger: a.logger}),
		knnlib.WithResourceController(a.rc),
	}
}
