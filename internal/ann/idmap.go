package ann

import (
	"context"
	"fmt"
)

// IDMap pairs an index with the external label of every stored position.
type IDMap struct {
	index Index
	ids   []int64
}

// NewIDMap wraps an empty index.
func NewIDMap(index Index) *IDMap {
	return &IDMap{index: index}
}

// Index returns the wrapped index.
func (m *IDMap) Index() Index { return m.index }

// IDs returns the label of every stored position.
func (m *IDMap) IDs() []int64 { return m.ids }

func (m *IDMap) Len() int { return len(m.ids) }

// MemoryUsage includes the label table.
func (m *IDMap) MemoryUsage() int64 { return m.index.MemoryUsage() + int64(cap(m.ids))*8 }

// AddWithIDs adds flattened vectors labelled with ids.
func (m *IDMap) AddWithIDs(ctx context.Context, vectors []float32, ids []int64) error {
	n, err := checkVectors(vectors, m.index.Dimension())
	if err != nil {
		return err
	}
	if n != len(ids) {
		return fmt.Errorf("ann: %d vectors but %d ids", n, len(ids))
	}
	if err := m.index.Add(ctx, vectors); err != nil {
		return err
	}
	m.ids = append(m.ids, ids...)
	return nil
}

// Search returns min(k, Len()) neighbors labelled with external ids. The Allow
// function of p receives external ids.
func (m *IDMap) Search(query []float32, k int, p SearchParams) ([]Neighbor, error) {
	if allow := p.Allow; allow != nil {
		p.Allow = func(pos int64) bool { return allow(m.ids[pos]) }
	}
	res, err := m.index.Search(query, k, p)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Label != AbsentID {
			res[i].Label = m.ids[res[i].Label]
		}
	}
	return res, nil
}
