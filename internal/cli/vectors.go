package cli

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hupe1980/knnlib/codec"
)

// vectorRecord is one entry of a build input file.
type vectorRecord struct {
	ID     int64     `json:"id"`
	Vector []float32 `json:"vector"`
}

// readVectors decodes a JSON array of {"id", "vector"} records from path,
// or from stdin when path is "-".
func readVectors(path string, stdin io.Reader) ([]int64, [][]float32, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		r = f
	}

	var records []vectorRecord
	if err := codec.Default.Decode(r, &records); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", path, err)
	}
	ids := make([]int64, len(records))
	vectors := make([][]float32, len(records))
	for i, rec := range records {
		ids[i] = rec.ID
		vectors[i] = rec.Vector
	}
	return ids, vectors, nil
}

// parseVector parses comma separated components such as "0.1,0.2,-3".
func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	v := make([]float32, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		f, err := strconv.ParseFloat(p, 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %q: %w", p, err)
		}
		v = append(v, float32(f))
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("empty vector")
	}
	return v, nil
}
