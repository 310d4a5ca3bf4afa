package knnlib

import (
	"log/slog"

	"github.com/hupe1980/knnlib/fs"
	"github.com/hupe1980/knnlib/persistence"
	"github.com/hupe1980/knnlib/resource"
)

type options struct {
	metricsCollector MetricsCollector
	logger           *Logger
	resources        *resource.Controller
	fileSystem       fs.FileSystem
	compression      *persistence.Compression
	progress         func(added, total int)
}

// Option configures Build, Load and Cache behavior.
type Option func(*options)

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &knnlib.BasicMetricsCollector{}
//	h, _ := knnlib.Load(ctx, path, req, knnlib.WithMetricsCollector(metrics))
//	stats := metrics.GetStats()
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithResourceController accounts memory and bounds training workers through rc.
// A controller with a memory limit rejects builds and loads that would exceed it.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.resources = rc
	}
}

// WithFileSystem replaces the file system used to write index files.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fileSystem = fsys
	}
}

// WithCompression sets the payload compression of written index files.
// A compression parameter in the build request takes precedence.
func WithCompression(c persistence.Compression) Option {
	return func(o *options) {
		o.compression = &c
	}
}

// WithProgress reports build progress after every added chunk of vectors.
func WithProgress(fn func(added, total int)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
		fileSystem:       fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
