package knnlib

import (
	"context"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/knnlib/engine"
	"github.com/hupe1980/knnlib/internal/ann"
	"github.com/hupe1980/knnlib/persistence"
	"github.com/hupe1980/knnlib/resource"
)

// Result is one query hit.
type Result struct {
	ID       int64   `json:"id"`
	Distance float32 `json:"distance"`
}

// HandleInfo describes a loaded index.
type HandleInfo struct {
	Path        string `json:"path"`
	Engine      string `json:"engine"`
	Space       string `json:"space"`
	Description string `json:"description"`
	Dimension   int    `json:"dimension"`
	Count       int    `json:"count"`
	SizeInKB    int64  `json:"size_in_kb"`
	Checksum    uint32 `json:"checksum"`
}

// Handle is a query-ready index. Queries are safe for concurrent use; Close
// waits for in-flight queries and releases the index memory.
type Handle struct {
	mu     sync.RWMutex
	closed bool

	path   string
	engine *engine.Engine
	space  string
	index  *ann.IDMap
	info   persistence.Info
	res    *resource.Reservation

	description string
	dim, count  int

	logger  *Logger
	metrics MetricsCollector
}

// reserveHandle claims the memory a Handle over m holds until Close.
func reserveHandle(m *ann.IDMap, o *options) (*resource.Reservation, error) {
	return o.resources.Reserve(resource.KindHandle, m.MemoryUsage())
}

func newHandle(path string, eng *engine.Engine, space string, m *ann.IDMap, info persistence.Info, res *resource.Reservation, o *options) *Handle {
	return &Handle{
		path:   path,
		engine: eng,
		space:  space,
		index:  m,
		info:   info,
		res:    res,

		description: m.Index().Description(),
		dim:         m.Index().Dimension(),
		count:       m.Len(),

		logger:  o.logger.WithPath(path),
		metrics: o.metricsCollector,
	}
}

type queryOptions struct {
	filter   *roaring64.Bitmap
	efSearch int
	nprobes  int
}

// QueryOption tunes a single query.
type QueryOption func(*queryOptions)

// WithFilter restricts results to ids contained in allowed. Negative ids
// never match.
func WithFilter(allowed *roaring64.Bitmap) QueryOption {
	return func(o *queryOptions) {
		o.filter = allowed
	}
}

// WithEfSearch overrides the HNSW candidate list size for one query.
func WithEfSearch(ef int) QueryOption {
	return func(o *queryOptions) {
		o.efSearch = ef
	}
}

// WithNProbes overrides the number of IVF lists scanned for one query.
func WithNProbes(n int) QueryOption {
	return func(o *queryOptions) {
		o.nprobes = n
	}
}

// Query returns up to k nearest neighbors of vector in the engine's ranking
// order. Results end at the first empty slot and are never padded.
func (h *Handle) Query(ctx context.Context, vector []float32, k int, optFns ...QueryOption) (results []Result, err error) {
	start := time.Now()
	defer func() {
		err = translateError("query", err)
		h.metrics.RecordQuery(k, time.Since(start), err)
		h.logger.LogQuery(ctx, k, len(results), err)
	}()
	defer recoverPanic("query", &err)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil, ErrClosed
	}
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if len(vector) != h.dim {
		return nil, &ErrDimensionMismatch{Expected: h.dim, Actual: len(vector)}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k = min(k, h.count); k == 0 {
		return []Result{}, nil
	}

	var qo queryOptions
	for _, fn := range optFns {
		fn(&qo)
	}
	if qo.efSearch < 0 || qo.nprobes < 0 {
		return nil, invalid("query options", "ef_search and nprobes must not be negative")
	}
	sp := ann.SearchParams{EfSearch: qo.efSearch, NProbe: qo.nprobes}
	if bm := qo.filter; bm != nil {
		sp.Allow = func(id int64) bool { return id >= 0 && bm.Contains(uint64(id)) }
	}

	neighbors, err := h.index.Search(vector, k, sp)
	if err != nil {
		return nil, err
	}
	results = make([]Result, 0, len(neighbors))
	for _, nb := range neighbors {
		if nb.Label == ann.AbsentID {
			break
		}
		results = append(results, Result{ID: nb.Label, Distance: nb.Distance})
	}
	return results, nil
}

// Score converts a distance returned by Query into a similarity where higher
// is better.
func (h *Handle) Score(distance float32) float32 {
	return h.engine.Score(h.space, distance)
}

// SizeInKB returns the cache weight of the handle.
func (h *Handle) SizeInKB() int64 {
	return h.info.Size/1024 + 1
}

// Info describes the loaded index. It stays valid after Close.
func (h *Handle) Info() HandleInfo {
	return HandleInfo{
		Path:        h.path,
		Engine:      h.engine.Name,
		Space:       h.space,
		Description: h.description,
		Dimension:   h.dim,
		Count:       h.count,
		SizeInKB:    h.SizeInKB(),
		Checksum:    h.info.Checksum,
	}
}

// Path returns the index file the handle was obtained from.
func (h *Handle) Path() string { return h.path }

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close releases the index. It waits for in-flight queries; later calls are
// no-ops.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.index = nil
	h.res.Release()
	return nil
}
