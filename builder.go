package knnlib

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/engine"
	"github.com/hupe1980/knnlib/internal/ann"
	"github.com/hupe1980/knnlib/params"
	"github.com/hupe1980/knnlib/persistence"
	"github.com/hupe1980/knnlib/resource"
)

// Build defaults.
const (
	DefaultTrainingDatasetSizeLimit = 100000
	DefaultMinimumDatapoints        = 100
	DefaultSeed                     = 42

	// addChunk is the number of vectors added between progress reports and
	// cancellation checks.
	addChunk = 4096
)

// BuildRequest describes one index build.
type BuildRequest struct {
	// IDs labels Vectors position by position. Ids need not be dense or sorted.
	IDs     []int64
	Vectors [][]float32
	// Path is the destination index file.
	Path string

	// Engine names the engine, "faiss" when empty.
	Engine string
	// Space overrides the space of Method or Params. Defaults to "l2".
	Space string
	// Method configures the index as a method context.
	Method *params.Method
	// Params configures the index as name=value entries. When Method is nil
	// and the entries carry a method name they are read as a flat method
	// context; otherwise m, ef_construction, ef_search and nprobes tune a
	// description.
	Params []string
	// Description selects the index family directly, e.g. "HNSW32" or
	// "IVF16(HNSW16,Flat),PQ8". It takes precedence over the method.
	Description string

	// Open returns a query-ready handle on the built index in BuildResult.
	Open bool
}

// BuildResult describes a written index file.
type BuildResult struct {
	Path   string
	Engine string
	Space  string
	// Description is the family actually built. It differs from the
	// requested one when a small batch fell back to an exhaustive index.
	Description string
	Count       int
	Dimension   int
	Size        int64
	Checksum    uint32
	Duration    time.Duration
	// Handle is set when BuildRequest.Open was requested. The caller owns it.
	Handle *Handle
}

// buildPlan is a validated build configuration.
type buildPlan struct {
	engine      *engine.Engine
	space       string
	metric      distance.Metric
	description string
	tuning      map[string]int
	trainLimit  int
	minPoints   int
	seed        int64
	compression persistence.Compression
}

// Build trains an index on the request's vectors and writes it atomically to
// req.Path. Every resource acquired along the way is released before Build
// returns, on success and failure alike.
func Build(ctx context.Context, req BuildRequest, optFns ...Option) (res *BuildResult, err error) {
	o := applyOptions(optFns)
	start := time.Now()
	defer func() {
		err = translateError("build", err)
		o.metricsCollector.RecordBuild(len(req.Vectors), time.Since(start), err)
		desc := req.Description
		if res != nil {
			desc = res.Description
		}
		o.logger.LogBuild(ctx, req.Path, desc, len(req.Vectors), time.Since(start), err)
	}()
	defer recoverPanic("build", &err)

	dim, err := validateBatch(req)
	if err != nil {
		return nil, err
	}
	plan, err := planBuild(req, &o)
	if err != nil {
		return nil, err
	}
	if plan.metric.IsBinary() && dim%8 != 0 {
		return nil, invalid("dimension", "binary vectors need a multiple of 8, got %d", dim)
	}

	res, err = build(ctx, req, dim, plan, &o)
	if err != nil {
		return nil, err
	}
	res.Duration = time.Since(start)
	return res, nil
}

func validateBatch(req BuildRequest) (int, error) {
	if req.Path == "" {
		return 0, invalid("path", "must not be empty")
	}
	if len(req.Vectors) == 0 {
		return 0, ErrEmptyBatch
	}
	if len(req.IDs) != len(req.Vectors) {
		return 0, invalid("ids", "%d ids for %d vectors", len(req.IDs), len(req.Vectors))
	}
	dim := len(req.Vectors[0])
	if dim == 0 {
		return 0, invalid("dimension", "must be positive")
	}
	for i, v := range req.Vectors {
		if len(v) != dim {
			return 0, &ValidationError{
				Field:  "vectors",
				Reason: fmt.Sprintf("vector %d", i),
				Err:    &ErrDimensionMismatch{Expected: dim, Actual: len(v)},
			}
		}
	}
	return dim, nil
}

// planBuild resolves engine, space, description and build settings without
// touching any resource.
func planBuild(req BuildRequest, o *options) (*buildPlan, error) {
	p, err := params.ParseStrings(req.Params)
	if err != nil {
		return nil, err
	}

	method := req.Method
	if method == nil && p.Has(params.KeyName) {
		m, err := methodFromFlat(p)
		if err != nil {
			return nil, err
		}
		method = &m
	}

	engineName := req.Engine
	if engineName == "" && method != nil {
		engineName = method.Engine
	}
	if engineName == "" {
		if engineName, err = p.String(params.KeyEngine, engine.Faiss); err != nil {
			return nil, err
		}
	}
	eng, err := engine.Get(engineName)
	if err != nil {
		return nil, err
	}

	space := req.Space
	if space == "" && method != nil {
		space = method.Space
	}
	if space == "" {
		if space, err = p.String(params.KeySpaceType, "l2"); err != nil {
			return nil, err
		}
	}
	space = strings.ToLower(space)
	metric, err := eng.Metric(space)
	if err != nil {
		return nil, err
	}

	plan := &buildPlan{engine: eng, space: space, metric: metric, tuning: map[string]int{}}
	settings := p
	if method != nil {
		m := *method
		m.Engine, m.Space = eng.Name, space
		if err := eng.Validate(m); err != nil {
			return nil, err
		}
		if plan.description, err = eng.Description(m); err != nil {
			return nil, err
		}
		if plan.tuning, err = eng.Tuning(m); err != nil {
			return nil, err
		}
		settings = m.Parameters
	} else {
		if plan.description, err = defaultDescription(eng, metric, p); err != nil {
			return nil, err
		}
		for _, key := range p.Keys() {
			name, ok := engine.TuningName(key)
			if !ok {
				continue
			}
			v, err := p.Int(key, 0)
			if err != nil {
				return nil, err
			}
			if v <= 0 {
				return nil, invalid(key, "must be positive, got %d", v)
			}
			plan.tuning[name] = v
		}
	}

	if req.Description != "" {
		plan.description = req.Description
	} else if desc, err := p.String(params.KeyIndexDescription, ""); err != nil {
		return nil, err
	} else if desc != "" {
		plan.description = desc
	}
	if eng.Name == engine.Nmslib && !strings.HasPrefix(plan.description, "HNSW") {
		return nil, invalid("description", "engine %s only builds HNSW graphs, got %q", eng.Name, plan.description)
	}

	if plan.trainLimit, err = settings.Int(params.KeyTrainingDatasetSizeLimit, DefaultTrainingDatasetSizeLimit); err != nil {
		return nil, err
	}
	if plan.minPoints, err = settings.Int(params.KeyMinimumDatapoints, DefaultMinimumDatapoints); err != nil {
		return nil, err
	}
	if plan.seed, err = settings.Int64(params.KeySeed, DefaultSeed); err != nil {
		return nil, err
	}
	if plan.trainLimit <= 0 {
		return nil, invalid(params.KeyTrainingDatasetSizeLimit, "must be positive, got %d", plan.trainLimit)
	}

	if o.compression != nil {
		plan.compression = *o.compression
	}
	if name, err := p.String(params.KeyCompression, ""); err != nil {
		return nil, err
	} else if name != "" {
		if plan.compression, err = persistence.ParseCompression(name); err != nil {
			return nil, invalid(params.KeyCompression, "%v", err)
		}
	}
	return plan, nil
}

// methodFromFlat reads a method context given as flat name=value entries.
func methodFromFlat(p params.Params) (params.Method, error) {
	m := params.Method{Parameters: params.Params{}}
	var err error
	if m.Name, err = p.String(params.KeyName, ""); err != nil {
		return m, err
	}
	if m.Engine, err = p.String(params.KeyEngine, ""); err != nil {
		return m, err
	}
	if m.Space, err = p.String(params.KeySpaceType, ""); err != nil {
		return m, err
	}
	m.Name = strings.ToLower(m.Name)
	m.Engine = strings.ToLower(m.Engine)
	for _, key := range p.Keys() {
		switch key {
		case params.KeyName, params.KeyEngine, params.KeySpaceType,
			params.KeyCompression, params.KeyIndexDescription:
			continue
		}
		v, _ := p.Get(key)
		m.Parameters.Set(key, v)
	}
	return m, nil
}

// defaultDescription picks the family for requests without a method: an HNSW
// graph with m links, or a bit index for binary spaces.
func defaultDescription(eng *engine.Engine, metric distance.Metric, p params.Params) (string, error) {
	if metric.IsBinary() {
		return "BFlat", nil
	}
	def := 32
	if eng.Name == engine.Nmslib {
		def = 16
	}
	m, err := p.Int(params.KeyM, def)
	if err != nil {
		return "", err
	}
	if m < 2 {
		return "", invalid(params.KeyM, "must be at least 2, got %d", m)
	}
	return "HNSW" + strconv.Itoa(m), nil
}

func exhaustive(description string) bool {
	return description == "Flat" || description == "BFlat"
}

func build(ctx context.Context, req BuildRequest, dim int, plan *buildPlan, o *options) (*BuildResult, error) {
	rc := o.resources
	n := len(req.Vectors)

	idx, err := ann.New(plan.description, dim, plan.metric, plan.seed)
	if err != nil {
		return nil, err
	}
	trainN := min(n, plan.trainLimit)
	if plan.engine.Name == engine.Faiss && !exhaustive(plan.description) &&
		(n < plan.minPoints || trainN < idx.MinTrainingPoints()) {
		fallback := "Flat"
		if plan.metric.IsBinary() {
			fallback = "BFlat"
		}
		o.logger.DebugContext(ctx, "small batch, building exhaustive index",
			"requested", plan.description,
			"count", n,
			"minimum_datapoints", plan.minPoints,
		)
		if idx, err = ann.New(fallback, dim, plan.metric, plan.seed); err != nil {
			return nil, err
		}
	}

	plan.description = idx.Description()

	vecRes, err := rc.Reserve(resource.KindVectors, int64(n)*int64(dim)*4)
	if err != nil {
		return nil, err
	}
	defer vecRes.Release()
	flat := make([]float32, 0, n*dim)
	for _, v := range req.Vectors {
		flat = append(flat, v...)
	}

	idxRes, err := rc.Reserve(resource.KindIndex, idx.EstimateMemory(n))
	if err != nil {
		return nil, err
	}
	defer idxRes.Release()

	names := make([]string, 0, len(plan.tuning))
	for name := range plan.tuning {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if err := idx.SetParam(name, plan.tuning[name]); err != nil && !errors.Is(err, ann.ErrUnknownParam) {
			return nil, err
		}
	}

	if !idx.IsTrained() {
		if err := train(ctx, idx, flat[:trainN*dim], rc); err != nil {
			return nil, err
		}
	}

	mapRes, err := rc.Reserve(resource.KindIDMap, int64(n)*8)
	if err != nil {
		return nil, err
	}
	defer mapRes.Release()

	m := ann.NewIDMap(idx)
	for start := 0; start < n; start += addChunk {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+addChunk, n)
		if err := m.AddWithIDs(ctx, flat[start*dim:end*dim], req.IDs[start:end]); err != nil {
			return nil, err
		}
		if o.progress != nil {
			o.progress(end, n)
		}
	}

	// An opened build claims its handle before anything reaches req.Path.
	var handleRes *resource.Reservation
	if req.Open {
		if handleRes, err = reserveHandle(m, o); err != nil {
			return nil, err
		}
	}
	info, err := persistence.WriteFile(o.fileSystem, req.Path, plan.compression, func(e *persistence.Encoder) error {
		e.String(plan.engine.Name)
		e.String(plan.space)
		ann.Encode(e, m)
		return ctx.Err()
	})
	if err != nil {
		handleRes.Release()
		return nil, err
	}

	res := &BuildResult{
		Path:        req.Path,
		Engine:      plan.engine.Name,
		Space:       plan.space,
		Description: plan.description,
		Count:       n,
		Dimension:   dim,
		Size:        info.Size,
		Checksum:    info.Checksum,
	}
	if req.Open {
		res.Handle = newHandle(req.Path, plan.engine, plan.space, m, info, handleRes, o)
	}
	return res, nil
}

// train fits idx on the training prefix while holding one background worker
// slot of the controller.
func train(ctx context.Context, idx ann.Index, vectors []float32, rc *resource.Controller) error {
	res, err := rc.Reserve(resource.KindTraining, int64(len(vectors))*4)
	if err != nil {
		return err
	}
	defer res.Release()

	if err := rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer rc.ReleaseBackground()

	workers := min(rc.Workers(), trainingWorkers())
	if err := idx.Train(ctx, vectors, workers); err != nil {
		return fmt.Errorf("train %s: %w", idx.Description(), err)
	}
	return nil
}
