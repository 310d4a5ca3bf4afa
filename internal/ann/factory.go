package ann

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/knnlib/distance"
	"github.com/hupe1980/knnlib/internal/quantization"
)

// New creates an empty index from a description string:
//
//	Flat                      exhaustive float search
//	BFlat                     exhaustive Hamming search over bits
//	HNSW<M>[,Flat]            HNSW graph
//	IVF<n>[(<coarse>)],<enc>  inverted file; coarse is Flat or HNSW<M>[,Flat],
//	                          enc is Flat or PQ<m>[x<bits>]
func New(description string, dim int, metric distance.Metric, seed int64) (Index, error) {
	desc := strings.TrimSpace(description)
	if metric.IsBinary() != (desc == "BFlat") {
		return nil, fmt.Errorf("%w: %q cannot serve metric %s", ErrUnsupportedMetric, desc, metric)
	}

	switch {
	case desc == "Flat":
		return NewFlat(dim, metric)
	case desc == "BFlat":
		return NewBinaryFlat(dim)
	case strings.HasPrefix(desc, "HNSW"):
		m, err := parseHNSW(desc)
		if err != nil {
			return nil, err
		}
		return NewHNSW(dim, m, metric, seed)
	case strings.HasPrefix(desc, "IVF"):
		return newIVF(desc, dim, metric, seed)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidDescription, description)
}

func parseHNSW(desc string) (int, error) {
	rest := strings.TrimSuffix(strings.TrimPrefix(desc, "HNSW"), ",Flat")
	if rest == "" {
		return 32, nil
	}
	m, err := strconv.Atoi(rest)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDescription, desc)
	}
	return m, nil
}

func newIVF(desc string, dim int, metric distance.Metric, seed int64) (Index, error) {
	rest := strings.TrimPrefix(desc, "IVF")
	digits := 0
	for digits < len(rest) && rest[digits] >= '0' && rest[digits] <= '9' {
		digits++
	}
	nlist, err := strconv.Atoi(rest[:digits])
	if err != nil {
		return nil, fmt.Errorf("%w: %q has no list count", ErrInvalidDescription, desc)
	}
	rest = rest[digits:]

	var coarse Index
	if strings.HasPrefix(rest, "(") {
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return nil, fmt.Errorf("%w: %q has an unterminated coarse quantizer", ErrInvalidDescription, desc)
		}
		inner := rest[1:end]
		if inner != "Flat" && !strings.HasPrefix(inner, "HNSW") {
			return nil, fmt.Errorf("%w: unsupported coarse quantizer %q", ErrInvalidDescription, inner)
		}
		coarse, err = New(inner, dim, metric, seed)
		if err != nil {
			return nil, err
		}
		rest = rest[end+1:]
	} else {
		coarse, err = NewFlat(dim, metric)
		if err != nil {
			return nil, err
		}
	}

	enc, ok := strings.CutPrefix(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: %q has no encoder", ErrInvalidDescription, desc)
	}
	encoder, err := newEncoder(enc, dim, seed)
	if err != nil {
		return nil, err
	}
	return NewIVF(dim, nlist, metric, coarse, encoder, seed)
}

func newEncoder(name string, dim int, seed int64) (quantization.Encoder, error) {
	if name == "Flat" {
		return quantization.NewFlatEncoder(dim), nil
	}
	spec, ok := strings.CutPrefix(name, "PQ")
	if !ok {
		return nil, fmt.Errorf("%w: unsupported encoder %q", ErrInvalidDescription, name)
	}
	nbits := 8
	if m, b, found := strings.Cut(spec, "x"); found {
		v, err := strconv.Atoi(b)
		if err != nil || v < 1 || v > 8 {
			return nil, fmt.Errorf("%w: PQ bits in %q", ErrInvalidDescription, name)
		}
		nbits, spec = v, m
	}
	m, err := strconv.Atoi(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: PQ code size in %q", ErrInvalidDescription, name)
	}
	pq, err := quantization.NewProductQuantizer(dim, m, 1<<nbits, seed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDescription, err)
	}
	return pq, nil
}
