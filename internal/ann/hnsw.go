package ann

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"slices"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/internal/searcher"
	"github.com/hupe1980/knnlib/persistence"
)

const (
	// DefaultEfConstruction is the candidate list size used while inserting.
	DefaultEfConstruction = 40
	// DefaultEfSearch is the candidate list size used while searching.
	DefaultEfSearch = 16
)

// HNSW is a hierarchical navigable small world graph over float vectors.
type HNSW struct {
	dim            int
	metric         distance.Metric
	dist           distance.Func
	m              int
	m0             int
	efConstruction int
	efSearch       int
	ml             float64
	seed           int64
	rng            *rand.Rand

	vectors  []float32
	links    [][][]uint32 // node -> level -> neighbors
	entry    int64
	maxLevel int

	pool *searcher.Pool
}

// NewHNSW creates an empty graph with m links per node on upper levels and
// 2*m on the base level.
func NewHNSW(dim, m int, metric distance.Metric, seed int64) (*HNSW, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrDimension)
	}
	if m < 2 {
		return nil, fmt.Errorf("%w: HNSW needs m >= 2, got %d", ErrInvalidDescription, m)
	}
	fn, err := distance.Provider(metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMetric, err)
	}
	return &HNSW{
		dim:            dim,
		metric:         metric,
		dist:           fn,
		m:              m,
		m0:             2 * m,
		efConstruction: DefaultEfConstruction,
		efSearch:       DefaultEfSearch,
		ml:             1 / math.Log(float64(m)),
		seed:           seed,
		rng:            rand.New(rand.NewSource(seed)), // nolint gosec
		entry:          -1,
		pool:           searcher.NewPool(0),
	}, nil
}

func (h *HNSW) Description() string       { return fmt.Sprintf("HNSW%d", h.m) }
func (h *HNSW) Dimension() int            { return h.dim }
func (h *HNSW) Metric() distance.Metric   { return h.metric }
func (h *HNSW) Len() int                  { return len(h.links) }
func (h *HNSW) IsTrained() bool           { return true }
func (h *HNSW) MinTrainingPoints() int    { return 0 }
func (h *HNSW) M() int                    { return h.m }
func (h *HNSW) EfConstruction() int       { return h.efConstruction }
func (h *HNSW) EfSearch() int             { return h.efSearch }
func (h *HNSW) MaxLevel() int             { return h.maxLevel }
func (h *HNSW) vector(i uint32) []float32 { return h.vectors[int(i)*h.dim : (int(i)+1)*h.dim] }

func (h *HNSW) Train(context.Context, []float32, int) error { return nil }

// SetParam accepts efConstruction and efSearch.
func (h *HNSW) SetParam(name string, value int) error {
	if value <= 0 {
		return fmt.Errorf("ann: %s must be positive, got %d", name, value)
	}
	switch name {
	case "efConstruction":
		h.efConstruction = value
	case "efSearch":
		h.efSearch = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return nil
}

func (h *HNSW) MemoryUsage() int64 {
	size := int64(len(h.vectors)) * 4
	for _, node := range h.links {
		for _, level := range node {
			size += int64(cap(level)) * 4
		}
		size += int64(len(node)) * 24
	}
	return size
}

// EstimateMemory assumes every node fills its base level list plus the
// expected share of upper level links.
func (h *HNSW) EstimateMemory(n int) int64 {
	perNode := int64(h.dim)*4 + int64(h.m0)*4 + int64(h.m)*4 + 48
	return int64(n) * perNode
}

func (h *HNSW) randomLevel() int {
	r := h.rng.Float64()
	return int(-math.Log(1-r) * h.ml)
}

func (h *HNSW) Add(ctx context.Context, vectors []float32) error {
	n, err := checkVectors(vectors, h.dim)
	if err != nil {
		return err
	}
	start := h.Len()
	h.vectors = slices.Grow(h.vectors, len(vectors))
	h.vectors = append(h.vectors, vectors...)
	h.links = slices.Grow(h.links, n)
	for i := range n {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				// Drop the vectors that never made it into the graph.
				h.vectors = h.vectors[:h.Len()*h.dim]
				return err
			}
		}
		h.insert(uint32(start + i))
	}
	return nil
}

func (h *HNSW) insert(node uint32) {
	vec := h.vector(node)
	level := h.randomLevel()
	h.links = append(h.links, make([][]uint32, level+1))

	if h.entry < 0 {
		h.entry = int64(node)
		h.maxLevel = level
		return
	}

	s := h.pool.Get(len(h.links))
	defer h.pool.Put(s)

	cur := uint32(h.entry)
	curDist := h.dist(vec, h.vector(cur))
	for l := h.maxLevel; l > level; l-- {
		cur, curDist = h.greedy(vec, cur, curDist, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(s, vec, searcher.Item{Node: cur, Distance: curDist}, h.efConstruction, l, nil)
		selected := h.selectNeighbors(candidates, h.m)

		conns := make([]uint32, len(selected))
		for i, c := range selected {
			conns[i] = c.Node
		}
		h.links[node][l] = conns

		maxConn := h.m
		if l == 0 {
			maxConn = h.m0
		}
		for _, nb := range conns {
			h.link(nb, node, l, maxConn)
		}
		cur, curDist = candidates[0].Node, candidates[0].Distance
	}

	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = int64(node)
	}
}

// link adds a reverse edge from -> to and shrinks the list of from when it
// overflows maxConn.
func (h *HNSW) link(from, to uint32, level, maxConn int) {
	conns := append(h.links[from][level], to)
	if len(conns) > maxConn {
		base := h.vector(from)
		candidates := make([]searcher.Item, len(conns))
		for i, id := range conns {
			candidates[i] = searcher.Item{Node: id, Distance: h.dist(base, h.vector(id))}
		}
		slices.SortFunc(candidates, func(a, b searcher.Item) int {
			switch {
			case a.Distance < b.Distance:
				return -1
			case a.Distance > b.Distance:
				return 1
			}
			return int(a.Node) - int(b.Node)
		})
		selected := h.selectNeighbors(candidates, maxConn)
		conns = conns[:0]
		for _, c := range selected {
			conns = append(conns, c.Node)
		}
	}
	h.links[from][level] = conns
}

// selectNeighbors applies the diversity heuristic to candidates sorted
// closest first. Pruned candidates fill the remaining slots.
func (h *HNSW) selectNeighbors(candidates []searcher.Item, m int) []searcher.Item {
	if len(candidates) <= m {
		return candidates
	}
	selected := make([]searcher.Item, 0, m)
	var pruned []searcher.Item
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, r := range selected {
			if h.dist(h.vector(c.Node), h.vector(r.Node)) < c.Distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, c := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

func (h *HNSW) greedy(q []float32, cur uint32, curDist float32, level int) (uint32, float32) {
	for changed := true; changed; {
		changed = false
		for _, nb := range h.links[cur][level] {
			if d := h.dist(q, h.vector(nb)); d < curDist {
				cur, curDist, changed = nb, d, true
			}
		}
	}
	return cur, curDist
}

// searchLayer returns up to ef nodes of one level closest first. Traversal
// crosses every node but only nodes passing allow are collected. The result
// aliases s.Buf.
func (h *HNSW) searchLayer(s *searcher.Scratch, q []float32, ep searcher.Item, ef, level int, allow func(uint32) bool) []searcher.Item {
	s.Reset()
	s.Visited.Visit(ep.Node)
	s.Candidates.Push(ep)
	if allow == nil || allow(ep.Node) {
		s.Results.Push(ep)
	}

	for s.Candidates.Len() > 0 {
		c, _ := s.Candidates.Pop()
		if top, ok := s.Results.Top(); ok && s.Results.Len() >= ef && c.Distance > top.Distance {
			break
		}
		for _, nb := range h.links[c.Node][level] {
			if !s.Visited.Visit(nb) {
				continue
			}
			d := h.dist(q, h.vector(nb))
			if top, ok := s.Results.Top(); s.Results.Len() < ef || !ok || d < top.Distance {
				item := searcher.Item{Node: nb, Distance: d}
				s.Candidates.Push(item)
				if allow == nil || allow(nb) {
					s.Results.PushBounded(item, ef)
				}
			}
		}
	}

	s.Buf = s.Results.Drain(s.Buf[:0])
	return s.Buf
}

// Search runs a beam search with a candidate list of max(efSearch, k).
func (h *HNSW) Search(query []float32, k int, p SearchParams) ([]Neighbor, error) {
	k, err := checkQuery(query, h.dim, k, h.Len())
	if err != nil {
		return nil, err
	}
	if h.entry < 0 {
		return finish(nil, k, h.metric), nil
	}
	ef := h.efSearch
	if p.EfSearch > 0 {
		ef = p.EfSearch
	}
	ef = max(ef, k)

	s := h.pool.Get(len(h.links))
	defer h.pool.Put(s)

	cur := uint32(h.entry)
	curDist := h.dist(query, h.vector(cur))
	for l := h.maxLevel; l > 0; l-- {
		cur, curDist = h.greedy(query, cur, curDist, l)
	}
	res := h.searchLayer(s, query, searcher.Item{Node: cur, Distance: curDist}, ef, 0, allowNode(p))
	return finish(res, k, h.metric), nil
}

func (h *HNSW) encodeBody(e *persistence.Encoder) {
	e.Uint32(uint32(h.efConstruction))
	e.Uint32(uint32(h.efSearch))
	e.Int64(h.seed)
	e.Int64(h.entry)
	e.Uint32(uint32(h.maxLevel))
	e.Float32s(h.vectors)
	e.Uint64(uint64(len(h.links)))
	for _, node := range h.links {
		e.Uint8(uint8(len(node)))
		for _, level := range node {
			e.Uint32s(level)
		}
	}
}

func (h *HNSW) decodeBody(d *persistence.Decoder) {
	h.efConstruction = int(d.Uint32())
	h.efSearch = int(d.Uint32())
	h.seed = d.Int64()
	h.rng = rand.New(rand.NewSource(h.seed)) // nolint gosec
	h.entry = d.Int64()
	h.maxLevel = int(d.Uint32())
	h.vectors = d.Float32s()
	n := d.Uint64()
	if d.Err() != nil {
		return
	}
	if len(h.vectors) != int(n)*h.dim {
		d.Fail("hnsw: %d values for %d nodes of dimension %d", len(h.vectors), n, h.dim)
		return
	}
	h.links = make([][][]uint32, n)
	for i := range h.links {
		levels := int(d.Uint8())
		if levels == 0 {
			d.Fail("hnsw: node %d has no levels", i)
			return
		}
		h.links[i] = make([][]uint32, levels)
		for l := range levels {
			h.links[i][l] = d.Uint32s()
			for _, nb := range h.links[i][l] {
				if uint64(nb) >= n {
					d.Fail("hnsw: node %d links to %d of %d", i, nb, n)
					return
				}
			}
		}
		if d.Err() != nil {
			return
		}
	}
	if n > 0 && (h.entry < 0 || uint64(h.entry) >= n || len(h.links[h.entry]) != h.maxLevel+1) {
		d.Fail("hnsw: invalid entry point %d", h.entry)
	}
	if n == 0 {
		h.entry = -1
	}
}
