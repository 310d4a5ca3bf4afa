package ann

import (
	"fmt"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/persistence"
)

const idMapTag = "IDMap"

// Encode writes m and its wrapped index.
func Encode(e *persistence.Encoder, m *IDMap) {
	e.String(idMapTag)
	e.Int64s(m.ids)
	EncodeIndex(e, m.index)
}

// EncodeIndex writes an index prefixed with its description.
func EncodeIndex(e *persistence.Encoder, idx Index) {
	e.Uint32(uint32(idx.Dimension()))
	e.String(idx.Metric().String())
	e.String(idx.Description())
	idx.encodeBody(e)
}

// Decode reads an IDMap written by Encode.
func Decode(d *persistence.Decoder) (*IDMap, error) {
	if tag := d.String(); d.Err() == nil && tag != idMapTag {
		d.Fail("expected %q section, found %q", idMapTag, tag)
	}
	ids := d.Int64s()
	if err := d.Err(); err != nil {
		return nil, err
	}
	idx, err := DecodeIndex(d)
	if err != nil {
		return nil, err
	}
	if len(ids) != idx.Len() {
		d.Fail("%d ids for %d vectors", len(ids), idx.Len())
		return nil, d.Err()
	}
	return &IDMap{index: idx, ids: ids}, nil
}

// DecodeIndex reads an index written by EncodeIndex.
func DecodeIndex(d *persistence.Decoder) (Index, error) {
	dim := int(d.Uint32())
	metricName := d.String()
	desc := d.String()
	if err := d.Err(); err != nil {
		return nil, err
	}
	metric, err := distance.ParseMetric(metricName)
	if err != nil {
		d.Fail("%v", err)
		return nil, d.Err()
	}
	idx, err := New(desc, dim, metric, 0)
	if err != nil {
		d.Fail("index %q: %v", desc, err)
		return nil, d.Err()
	}
	idx.decodeBody(d)
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("decode %s: %w", desc, err)
	}
	return idx, nil
}
