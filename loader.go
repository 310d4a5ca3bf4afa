package knnlib

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/knnlib/engine"
	"github.com/hupe1980/knnlib/internal/ann"
	"github.com/hupe1980/knnlib/params"
	"github.com/hupe1980/knnlib/persistence"
	"github.com/hupe1980/knnlib/resource"
)

// LoadRequest describes how to open an index file.
type LoadRequest struct {
	// Engine names the engine that wrote the file. When empty it is derived
	// from the file extension.
	Engine string
	// Space must match the space the index was built for. The nmslib engine
	// requires it; for faiss it is optional.
	Space string
	// Params carries query time overrides as name=value entries
	// (ef_search, nprobes).
	Params []string
}

// Load maps an index file, verifies it and returns a query-ready handle. On
// failure every mapped or allocated resource is released.
func Load(ctx context.Context, path string, req LoadRequest, optFns ...Option) (h *Handle, err error) {
	o := applyOptions(optFns)
	start := time.Now()
	defer func() {
		err = translateError("load", err)
		o.metricsCollector.RecordLoad(time.Since(start), err)
		o.logger.LogLoad(ctx, path, time.Since(start), err)
	}()
	defer recoverPanic("load", &err)

	return load(ctx, path, req, &o)
}

func load(ctx context.Context, path string, req LoadRequest, o *options) (*Handle, error) {
	if path == "" {
		return nil, invalid("path", "must not be empty")
	}
	var (
		eng *engine.Engine
		err error
	)
	if req.Engine != "" {
		eng, err = engine.Get(req.Engine)
	} else {
		eng, err = engine.ForPath(path)
	}
	if err != nil {
		return nil, err
	}
	space := strings.ToLower(req.Space)
	if space == "" && eng.Name == engine.Nmslib {
		return nil, invalid("space", "engine %s needs the space of the index", eng.Name)
	}
	if space != "" {
		if _, err := eng.Metric(space); err != nil {
			return nil, err
		}
	}
	overrides, err := queryOverrides(req.Params)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fi, err := o.fileSystem.Stat(path)
	if err != nil {
		return nil, err
	}
	mapRes, err := o.resources.Reserve(resource.KindMapping, fi.Size())
	if err != nil {
		return nil, err
	}
	defer mapRes.Release()

	var rawRes *resource.Reservation
	defer func() { rawRes.Release() }()
	payload, err := persistence.ReadFile(o.fileSystem, path, func(info persistence.Info) error {
		if info.Compression == persistence.CompressionNone {
			return nil
		}
		var err error
		rawRes, err = o.resources.Reserve(resource.KindPayload, info.RawSize)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = payload.Close() }()

	m, fileSpace, err := decodeIndex(payload.Decoder(), eng, space)
	if err != nil {
		return nil, err
	}

	idx := m.Index()
	for name, v := range overrides {
		if err := idx.SetParam(name, v); err != nil && !errors.Is(err, ann.ErrUnknownParam) {
			return nil, err
		}
	}
	res, err := reserveHandle(m, o)
	if err != nil {
		return nil, err
	}
	return newHandle(path, eng, fileSpace, m, payload.Info, res, o), nil
}

// decodeIndex reads the payload and checks it against the requested engine
// and space.
func decodeIndex(d *persistence.Decoder, eng *engine.Engine, space string) (*ann.IDMap, string, error) {
	fileEngine := d.String()
	fileSpace := d.String()
	if err := d.Err(); err != nil {
		return nil, "", err
	}
	if fileEngine != eng.Name {
		return nil, "", fmt.Errorf("%w: written by engine %q, loading with %q", ErrIncompatible, fileEngine, eng.Name)
	}
	if space != "" && space != fileSpace {
		return nil, "", fmt.Errorf("%w: built for space %q, requested %q", ErrIncompatible, fileSpace, space)
	}
	metric, err := eng.Metric(fileSpace)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", persistence.ErrCorrupt, err)
	}

	m, err := ann.Decode(d)
	if err != nil {
		return nil, "", err
	}
	if got := m.Index().Metric(); got != metric {
		return nil, "", fmt.Errorf("%w: metric %s does not match space %q", persistence.ErrCorrupt, got, fileSpace)
	}
	if d.Remaining() != 0 {
		return nil, "", fmt.Errorf("%w: %d trailing bytes", persistence.ErrCorrupt, d.Remaining())
	}
	return m, fileSpace, nil
}

func queryOverrides(entries []string) (map[string]int, error) {
	p, err := params.ParseStrings(entries)
	if err != nil {
		return nil, err
	}
	out := map[string]int{}
	for _, key := range []string{params.KeyEfSearch, params.KeyNProbes} {
		if !p.Has(key) {
			continue
		}
		v, err := p.Int(key, 0)
		if err != nil {
			return nil, err
		}
		if v <= 0 {
			return nil, invalid(key, "must be positive, got %d", v)
		}
		name, _ := engine.TuningName(key)
		out[name] = v
	}
	return out, nil
}
