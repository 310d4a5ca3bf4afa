package ann

import (
	"context"
	"fmt"
	"strings"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/internal/kmeans"
	"github.com/hupe1980/knnlib/internal/quantization"
	"github.com/hupe1980/knnlib/internal/searcher"
	"github.com/hupe1980/knnlib/persistence"
)

// DefaultNProbe is the number of inverted lists scanned per query.
const DefaultNProbe = 1

// IVF partitions vectors into nlist inverted lists around trained centroids.
// The centroids live in a coarse quantizer (Flat or HNSW) and list entries are
// stored as encoder codes.
type IVF struct {
	dim       int
	metric    distance.Metric
	nlist     int
	nprobe    int
	seed      int64
	quantizer Index
	encoder   quantization.Encoder

	codes  [][]byte
	ids    [][]uint32
	ntotal int
}

// NewIVF creates an untrained IVF index. quantizer must be empty.
func NewIVF(dim, nlist int, metric distance.Metric, quantizer Index, encoder quantization.Encoder, seed int64) (*IVF, error) {
	if nlist <= 0 {
		return nil, fmt.Errorf("%w: IVF needs at least one list", ErrInvalidDescription)
	}
	if quantizer.Dimension() != dim {
		return nil, fmt.Errorf("%w: coarse quantizer dimension %d, index dimension %d", ErrDimension, quantizer.Dimension(), dim)
	}
	if _, err := distance.Provider(metric); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMetric, err)
	}
	return &IVF{
		dim:       dim,
		metric:    metric,
		nlist:     nlist,
		nprobe:    DefaultNProbe,
		seed:      seed,
		quantizer: quantizer,
		encoder:   encoder,
		codes:     make([][]byte, nlist),
		ids:       make([][]uint32, nlist),
	}, nil
}

func (f *IVF) Description() string {
	var b strings.Builder
	fmt.Fprintf(&b, "IVF%d", f.nlist)
	if _, flat := f.quantizer.(*Flat); !flat {
		fmt.Fprintf(&b, "(%s,Flat)", f.quantizer.Description())
	}
	b.WriteString(",")
	b.WriteString(f.encoder.Name())
	return b.String()
}

func (f *IVF) Dimension() int          { return f.dim }
func (f *IVF) Metric() distance.Metric { return f.metric }
func (f *IVF) Len() int                { return f.ntotal }
func (f *IVF) NList() int              { return f.nlist }
func (f *IVF) NProbe() int             { return f.nprobe }

// Quantizer returns the coarse quantizer holding the centroids.
func (f *IVF) Quantizer() Index { return f.quantizer }

func (f *IVF) IsTrained() bool {
	return f.quantizer.Len() == f.nlist && f.encoder.IsTrained()
}

// MinTrainingPoints covers both the centroid count and the encoder codebooks.
func (f *IVF) MinTrainingPoints() int {
	n := f.nlist
	if pq, ok := f.encoder.(*quantization.ProductQuantizer); ok {
		n = max(n, pq.MinTrainingPoints())
	}
	return n
}

// SetParam accepts nprobe. Other names are forwarded to the coarse quantizer.
func (f *IVF) SetParam(name string, value int) error {
	if name == "nprobe" {
		if value <= 0 {
			return fmt.Errorf("ann: nprobe must be positive, got %d", value)
		}
		f.nprobe = value
		return nil
	}
	return f.quantizer.SetParam(name, value)
}

func (f *IVF) MemoryUsage() int64 {
	size := f.quantizer.MemoryUsage()
	for i := range f.codes {
		size += int64(cap(f.codes[i])) + int64(cap(f.ids[i]))*4
	}
	if pq, ok := f.encoder.(*quantization.ProductQuantizer); ok {
		size += int64(len(pq.Codebooks())) * 4
	}
	return size
}

func (f *IVF) EstimateMemory(n int) int64 {
	return f.quantizer.EstimateMemory(f.nlist) + int64(n)*int64(f.encoder.CodeSize()+4)
}

// Train learns the centroids, fills the coarse quantizer with them and then
// trains the encoder.
func (f *IVF) Train(ctx context.Context, vectors []float32, workers int) error {
	if f.IsTrained() {
		return nil
	}
	n, err := checkVectors(vectors, f.dim)
	if err != nil {
		return err
	}
	if n < f.MinTrainingPoints() {
		return fmt.Errorf("%w: %d training vectors, need %d", kmeans.ErrTooFewPoints, n, f.MinTrainingPoints())
	}
	centroids, err := kmeans.Train(ctx, vectors, f.dim, kmeans.Config{
		K:      f.nlist,
		Metric: f.metric,
		Seed:   f.seed,
	})
	if err != nil {
		return fmt.Errorf("train centroids: %w", err)
	}
	if err := f.quantizer.Train(ctx, centroids, workers); err != nil {
		return fmt.Errorf("train coarse quantizer: %w", err)
	}
	if err := f.quantizer.Add(ctx, centroids); err != nil {
		return fmt.Errorf("add centroids: %w", err)
	}
	if err := f.encoder.Train(ctx, vectors, workers); err != nil {
		return fmt.Errorf("train encoder: %w", err)
	}
	return nil
}

func (f *IVF) Add(ctx context.Context, vectors []float32) error {
	if !f.IsTrained() {
		return ErrNotTrained
	}
	n, err := checkVectors(vectors, f.dim)
	if err != nil {
		return err
	}
	for i := range n {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		vec := vectors[i*f.dim : (i+1)*f.dim]
		nearest, err := f.quantizer.Search(vec, 1, SearchParams{})
		if err != nil {
			return err
		}
		list := nearest[0].Label
		if list == AbsentID {
			return fmt.Errorf("ann: no inverted list for vector %d", i)
		}
		f.codes[list], err = f.encoder.Encode(f.codes[list], vec)
		if err != nil {
			return err
		}
		f.ids[list] = append(f.ids[list], uint32(f.ntotal))
		f.ntotal++
	}
	return nil
}

// Search scans the nprobe lists closest to the query.
func (f *IVF) Search(query []float32, k int, p SearchParams) ([]Neighbor, error) {
	k, err := checkQuery(query, f.dim, k, f.ntotal)
	if err != nil {
		return nil, err
	}
	if !f.IsTrained() || f.ntotal == 0 {
		return finish(nil, k, f.metric), nil
	}
	nprobe := f.nprobe
	if p.NProbe > 0 {
		nprobe = p.NProbe
	}
	nprobe = min(nprobe, f.nlist)

	lists, err := f.quantizer.Search(query, nprobe, SearchParams{EfSearch: p.EfSearch})
	if err != nil {
		return nil, err
	}
	score, err := f.encoder.Scorer(query, f.metric)
	if err != nil {
		return nil, err
	}

	allow := allowNode(p)
	codeSize := f.encoder.CodeSize()
	heap := searcher.NewPriorityQueue(true)
	for _, l := range lists {
		if l.Label == AbsentID {
			continue
		}
		codes, ids := f.codes[l.Label], f.ids[l.Label]
		for j, id := range ids {
			if allow != nil && !allow(id) {
				continue
			}
			heap.PushBounded(searcher.Item{Node: id, Distance: score(codes[j*codeSize : (j+1)*codeSize])}, k)
		}
	}
	return finish(heap.Drain(nil), k, f.metric), nil
}

func (f *IVF) encodeBody(e *persistence.Encoder) {
	e.Uint32(uint32(f.nprobe))
	e.Int64(f.seed)
	f.quantizer.encodeBody(e)
	if pq, ok := f.encoder.(*quantization.ProductQuantizer); ok {
		e.Float32s(pq.Codebooks())
	}
	e.Uint64(uint64(f.ntotal))
	for i := range f.nlist {
		e.Uint32s(f.ids[i])
		e.Bytes(f.codes[i])
	}
}

func (f *IVF) decodeBody(d *persistence.Decoder) {
	f.nprobe = int(d.Uint32())
	f.seed = d.Int64()
	f.quantizer.decodeBody(d)
	if d.Err() != nil {
		return
	}
	if n := f.quantizer.Len(); n != 0 && n != f.nlist {
		d.Fail("ivf: coarse quantizer holds %d of %d centroids", n, f.nlist)
		return
	}
	if pq, ok := f.encoder.(*quantization.ProductQuantizer); ok {
		books := d.Float32s()
		if d.Err() != nil {
			return
		}
		if len(books) > 0 {
			if err := pq.SetCodebooks(books); err != nil {
				d.Fail("ivf: %v", err)
				return
			}
		}
	}
	f.ntotal = int(d.Uint64())
	codeSize := f.encoder.CodeSize()
	total := 0
	for i := range f.nlist {
		f.ids[i] = d.Uint32s()
		f.codes[i] = d.Bytes()
		if d.Err() != nil {
			return
		}
		if len(f.codes[i]) != len(f.ids[i])*codeSize {
			d.Fail("ivf: list %d has %d ids and %d code bytes", i, len(f.ids[i]), len(f.codes[i]))
			return
		}
		for _, id := range f.ids[i] {
			if int(id) >= f.ntotal {
				d.Fail("ivf: list %d references position %d of %d", i, id, f.ntotal)
				return
			}
		}
		total += len(f.ids[i])
	}
	if total != f.ntotal {
		d.Fail("ivf: lists hold %d vectors, header says %d", total, f.ntotal)
	}
}
