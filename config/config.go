// Package config loads knnctl configuration from YAML or TOML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the configuration file name looked up by LoadFromDir.
const DefaultFile = "knnctl.yaml"

// Config holds all knnctl settings.
type Config struct {
	Log      LogConfig      `yaml:"log" toml:"log"`
	Cache    CacheConfig    `yaml:"cache" toml:"cache"`
	Resource ResourceConfig `yaml:"resource" toml:"resource"`
	Build    BuildConfig    `yaml:"build" toml:"build"`
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Catalog  CatalogConfig  `yaml:"catalog" toml:"catalog"`
	Blob     BlobConfig     `yaml:"blob" toml:"blob"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format string `yaml:"format" toml:"format"` // json, text
}

// CacheConfig configures the loaded-index cache.
type CacheConfig struct {
	CapacityKB        int64    `yaml:"capacity_kb" toml:"capacity_kb"` // 0 = unbounded
	ExpireAfterAccess Duration `yaml:"expire_after_access" toml:"expire_after_access"`
	WatchFiles        bool     `yaml:"watch_files" toml:"watch_files"`
}

// ResourceConfig holds resource limits.
type ResourceConfig struct {
	MemoryLimitBytes     int64 `yaml:"memory_limit_bytes" toml:"memory_limit_bytes"`
	MaxBackgroundWorkers int64 `yaml:"max_background_workers" toml:"max_background_workers"`
	IOLimitBytesPerSec   int64 `yaml:"io_limit_bytes_per_sec" toml:"io_limit_bytes_per_sec"`
}

// BuildConfig holds defaults for index builds.
type BuildConfig struct {
	Engine          string   `yaml:"engine" toml:"engine"`
	Space           string   `yaml:"space" toml:"space"`
	Compression     string   `yaml:"compression" toml:"compression"`
	TrainingWorkers int      `yaml:"training_workers" toml:"training_workers"`
	Params          []string `yaml:"params,omitempty" toml:"params,omitempty"`
}

// ServerConfig configures knnctl serve.
type ServerConfig struct {
	Addr            string   `yaml:"addr" toml:"addr"`
	Root            string   `yaml:"root" toml:"root"` // directory index names resolve against
	ReadTimeout     Duration `yaml:"read_timeout" toml:"read_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// CatalogConfig selects the build catalog backend.
type CatalogConfig struct {
	Backend string `yaml:"backend" toml:"backend"` // "", bolt, dynamodb
	Path    string `yaml:"path" toml:"path"`       // bolt database file
	Table   string `yaml:"table" toml:"table"`     // dynamodb table
	Region  string `yaml:"region" toml:"region"`
}

// BlobConfig selects where published indexes live.
type BlobConfig struct {
	Backend   string `yaml:"backend" toml:"backend"` // local, s3, minio
	Root      string `yaml:"root" toml:"root"`       // local directory
	Bucket    string `yaml:"bucket" toml:"bucket"`
	Prefix    string `yaml:"prefix" toml:"prefix"`
	Region    string `yaml:"region" toml:"region"`
	Endpoint  string `yaml:"endpoint" toml:"endpoint"`
	AccessKey string `yaml:"access_key" toml:"access_key"`
	SecretKey string `yaml:"secret_key" toml:"secret_key"`
	Secure    bool   `yaml:"secure" toml:"secure"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Cache: CacheConfig{
			ExpireAfterAccess: Duration{Duration: 60 * time.Minute},
			WatchFiles:        true,
		},
		Build: BuildConfig{
			Engine:      "faiss",
			Space:       "l2",
			Compression: "none",
		},
		Server: ServerConfig{
			Addr:            ":8080",
			Root:            ".",
			ReadTimeout:     Duration{Duration: 30 * time.Second},
			ShutdownTimeout: Duration{Duration: 10 * time.Second},
		},
		Blob: BlobConfig{Backend: "local", Root: "published"},
	}
}

// Load reads the configuration at path on top of Default. A missing file
// yields the defaults. Files ending in .toml are parsed as TOML, everything
// else as YAML.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadFromDir loads knnctl.yaml, then knnctl.toml, from dir.
func LoadFromDir(dir string) (*Config, error) {
	for _, name := range []string{DefaultFile, "knnctl.toml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return Default(), nil
}

// Save writes the configuration as YAML, or TOML for .toml paths.
func (c *Config) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		data, err = toml.Marshal(c)
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(oneOf(c.Log.Level, "", "debug", "info", "warn", "error"), "log.level: unknown level %q", c.Log.Level)
	check(oneOf(c.Log.Format, "", "json", "text"), "log.format: unknown format %q", c.Log.Format)
	check(c.Cache.CapacityKB >= 0, "cache.capacity_kb: must not be negative")
	check(c.Cache.ExpireAfterAccess.Duration >= 0, "cache.expire_after_access: must not be negative")
	check(c.Resource.MemoryLimitBytes >= 0, "resource.memory_limit_bytes: must not be negative")
	check(c.Resource.MaxBackgroundWorkers >= 0, "resource.max_background_workers: must not be negative")
	check(c.Resource.IOLimitBytesPerSec >= 0, "resource.io_limit_bytes_per_sec: must not be negative")
	check(c.Build.TrainingWorkers >= 0, "build.training_workers: must not be negative")
	check(oneOf(c.Build.Compression, "", "none", "lz4", "zstd"), "build.compression: unknown codec %q", c.Build.Compression)
	check(oneOf(c.Catalog.Backend, "", "bolt", "dynamodb"), "catalog.backend: unknown backend %q", c.Catalog.Backend)
	check(c.Catalog.Backend != "bolt" || c.Catalog.Path != "", "catalog.path: required for the bolt backend")
	check(c.Catalog.Backend != "dynamodb" || c.Catalog.Table != "", "catalog.table: required for the dynamodb backend")
	check(oneOf(c.Blob.Backend, "", "local", "s3", "minio"), "blob.backend: unknown backend %q", c.Blob.Backend)
	check(c.Blob.Backend != "local" || c.Blob.Root != "", "blob.root: required for the local backend")
	check(!oneOf(c.Blob.Backend, "s3", "minio") || c.Blob.Bucket != "", "blob.bucket: required for the %s backend", c.Blob.Backend)
	check(c.Blob.Backend != "minio" || c.Blob.Endpoint != "", "blob.endpoint: required for the minio backend")

	return errors.Join(errs...)
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if strings.EqualFold(v, a) {
			return true
		}
	}
	return false
}
