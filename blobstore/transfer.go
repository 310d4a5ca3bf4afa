package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/knnlib/fs"
	"github.com/hupe1980/knnlib/internal/mmap"
	"github.com/hupe1980/knnlib/persistence"
	"github.com/hupe1980/knnlib/resource"
)

// ErrShortBlob is returned when a download ends before the advertised size.
var ErrShortBlob = errors.New("blobstore: blob shorter than advertised")

// TransferOption configures Publish and Fetch.
type TransferOption func(*transferOptions)

type transferOptions struct {
	rc     *resource.Controller
	fsys   fs.FileSystem
	logger *slog.Logger
}

// WithResourceController throttles transfers with the controller's IO limit.
func WithResourceController(rc *resource.Controller) TransferOption {
	return func(o *transferOptions) { o.rc = rc }
}

// WithFileSystem sets the file system Fetch writes through.
func WithFileSystem(fsys fs.FileSystem) TransferOption {
	return func(o *transferOptions) {
		if fsys != nil {
			o.fsys = fsys
		}
	}
}

// WithLogger sets the logger for transfer events.
func WithLogger(l *slog.Logger) TransferOption {
	return func(o *transferOptions) { o.logger = l }
}

func applyTransferOptions(opts []TransferOption) transferOptions {
	o := transferOptions{fsys: fs.Default}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// Publish verifies the index file at path and uploads it under key. Files
// that fail verification are never uploaded.
func Publish(ctx context.Context, store Store, key, path string, opts ...TransferOption) (persistence.Info, error) {
	o := applyTransferOptions(opts)
	start := time.Now()

	m, err := mmap.Open(path)
	if err != nil {
		return persistence.Info{}, err
	}
	defer m.Close()

	info, _, err := persistence.Verify(m.Bytes())
	if err != nil {
		return persistence.Info{}, fmt.Errorf("publish %s: %w", path, err)
	}

	w, err := store.Create(ctx, key)
	if err != nil {
		return persistence.Info{}, fmt.Errorf("publish %s: %w", key, err)
	}
	_, err = io.Copy(resource.NewRateLimitedWriter(ctx, w, o.rc), bytes.NewReader(m.Bytes()))
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		_ = w.Abort(context.WithoutCancel(ctx))
		return persistence.Info{}, fmt.Errorf("publish %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return persistence.Info{}, fmt.Errorf("publish %s: %w", key, err)
	}

	if o.logger != nil {
		o.logger.Info("index published",
			"path", path,
			"key", key,
			"size", info.Size,
			"duration", time.Since(start),
		)
	}
	return info, nil
}

// Fetch downloads the blob under key to path. The download lands in a
// temporary file that is verified before it is renamed over path, so path
// either keeps its old contents or holds a complete, valid index file.
func Fetch(ctx context.Context, store Store, key, path string, opts ...TransferOption) (info persistence.Info, err error) {
	o := applyTransferOptions(opts)
	start := time.Now()

	blob, err := store.Open(ctx, key)
	if err != nil {
		return persistence.Info{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer blob.Close()

	size := blob.Size()
	r, err := blob.ReadRange(ctx, 0, size)
	if err != nil {
		return persistence.Info{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	defer r.Close()

	dir := filepath.Dir(path)
	if err := o.fsys.MkdirAll(dir, 0o755); err != nil {
		return persistence.Info{}, err
	}
	tmp := filepath.Join(dir, "."+filepath.Base(path)+tmpMarker+uuid.NewString())
	f, err := o.fsys.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return persistence.Info{}, err
	}

	closed, committed := false, false
	defer func() {
		if !closed {
			_ = f.Close()
		}
		if !committed {
			_ = o.fsys.Remove(tmp)
		}
	}()

	n, err := io.Copy(f, resource.NewRateLimitedReader(ctx, r, o.rc))
	if err != nil {
		return persistence.Info{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	if n != size {
		return persistence.Info{}, fmt.Errorf("fetch %s: %w: got %d of %d bytes", key, ErrShortBlob, n, size)
	}
	if err := ctx.Err(); err != nil {
		return persistence.Info{}, err
	}
	if err := f.Sync(); err != nil {
		return persistence.Info{}, err
	}
	closed = true
	if err := f.Close(); err != nil {
		return persistence.Info{}, err
	}

	if info, err = verifyFile(tmp); err != nil {
		return persistence.Info{}, fmt.Errorf("fetch %s: %w", key, err)
	}
	if err := o.fsys.Rename(tmp, path); err != nil {
		return persistence.Info{}, err
	}
	committed = true
	if err := o.fsys.SyncDir(dir); err != nil {
		return persistence.Info{}, err
	}

	if o.logger != nil {
		o.logger.Info("index fetched",
			"key", key,
			"path", path,
			"size", info.Size,
			"duration", time.Since(start),
		)
	}
	return info, nil
}

func verifyFile(path string) (persistence.Info, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return persistence.Info{}, err
	}
	defer m.Close()
	info, _, err := persistence.Verify(m.Bytes())
	return info, err
}
