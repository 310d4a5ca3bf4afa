package params

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Canonical parameter names.
const (
	KeyM                        = "m"
	KeyEfConstruction           = "ef_construction"
	KeyEfSearch                 = "ef_search"
	KeyNCentroids               = "ncentroids"
	KeyNProbes                  = "nprobes"
	KeyCodeSize                 = "code_size"
	KeyTrainingDatasetSizeLimit = "training_dataset_size_limit"
	KeyMinimumDatapoints        = "minimum_datapoints"
	KeySpaceType                = "space_type"
	KeyEngine                   = "engine"
	KeyName                     = "name"
	KeyParameters               = "parameters"
	KeyEncoder                  = "encoder"
	KeyCoarseQuantizer          = "coarse_quantizer"
	KeySeed                     = "seed"
	KeyCompression              = "compression"
	KeyIndexDescription         = "index_description"
)

var aliases = map[string]string{
	"M":                 KeyM,
	"efConstruction":    KeyEfConstruction,
	"efSearch":          KeyEfSearch,
	"nlist":             KeyNCentroids,
	"nprobe":            KeyNProbes,
	"spaceType":         KeySpaceType,
	"space":             KeySpaceType,
	"codeSize":          KeyCodeSize,
	"coarseQuantizer":   KeyCoarseQuantizer,
	"indexDescription":  KeyIndexDescription,
	"minimumDatapoints": KeyMinimumDatapoints,
}

// Canonical returns the canonical spelling of a parameter name.
func Canonical(key string) string {
	if c, ok := aliases[key]; ok {
		return c
	}
	return key
}

var (
	// ErrMalformedEntry is returned for string entries that are not name=value.
	ErrMalformedEntry = errors.New("params: malformed entry")
	// ErrMalformedValue is returned when a value does not have the requested type.
	ErrMalformedValue = errors.New("params: malformed value")
)

// ValueError describes a parameter whose value cannot be converted.
type ValueError struct {
	Key   string
	Value any
	Want  string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("params: %s=%v is not a valid %s", e.Key, e.Value, e.Want)
}

func (e *ValueError) Unwrap() error { return ErrMalformedValue }

// Params is a set of parameters keyed by canonical name. Values are strings,
// numbers, booleans or nested Params.
type Params map[string]any

// ParseStrings parses name=value entries. Later entries override earlier ones.
func ParseStrings(entries []string) (Params, error) {
	p := make(Params, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedEntry, entry)
		}
		p[Canonical(key)] = strings.TrimSpace(value)
	}
	return p, nil
}

// FromMap copies m, canonicalizing keys and turning nested maps into Params.
func FromMap(m map[string]any) (Params, error) {
	p := make(Params, len(m))
	for k, v := range m {
		nv, err := normalize(k, v)
		if err != nil {
			return nil, err
		}
		p[Canonical(k)] = nv
	}
	return p, nil
}

func normalize(key string, v any) (any, error) {
	switch t := v.(type) {
	case Params:
		return FromMap(t)
	case map[string]any:
		return FromMap(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			ks, ok := k.(string)
			if !ok {
				return nil, &ValueError{Key: key, Value: k, Want: "string key"}
			}
			m[ks] = val
		}
		return FromMap(m)
	default:
		return v, nil
	}
}

// Has reports whether key (or one of its aliases) is set.
func (p Params) Has(key string) bool {
	_, ok := p[Canonical(key)]
	return ok
}

// Get returns the raw value of key.
func (p Params) Get(key string) (any, bool) {
	v, ok := p[Canonical(key)]
	return v, ok
}

// Set stores value under the canonical spelling of key.
func (p Params) Set(key string, value any) { p[Canonical(key)] = value }

// Keys returns the sorted parameter names.
func (p Params) Keys() []string {
	return slices.Sorted(maps.Keys(p))
}

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		if sub, ok := v.(Params); ok {
			v = sub.Clone()
		}
		out[k] = v
	}
	return out
}

// Int returns key as an int, or def when key is absent.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	bad := &ValueError{Key: Canonical(key), Value: v, Want: "integer"}
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case uint64:
		if t > math.MaxInt {
			return 0, bad
		}
		return int(t), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, bad
		}
		return int(t), nil
	case fmt.Stringer:
		return atoi(t.String(), bad)
	case string:
		return atoi(t, bad)
	}
	return 0, bad
}

func atoi(s string, bad *ValueError) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, bad
	}
	return n, nil
}

// Int64 is Int for values that may exceed the int range on 32-bit platforms.
func (p Params) Int64(key string, def int64) (int64, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	if s, isString := v.(string); isString {
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return 0, &ValueError{Key: Canonical(key), Value: v, Want: "integer"}
		}
		return n, nil
	}
	n, err := p.Int(key, int(def))
	return int64(n), err
}

// Float returns key as a float64, or def when key is absent.
func (p Params) Float(key string, def float64) (float64, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil {
			return f, nil
		}
	}
	return 0, &ValueError{Key: Canonical(key), Value: v, Want: "number"}
}

// String returns key as a string, or def when key is absent. Numbers and
// booleans are formatted.
func (p Params) String(key, def string) (string, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case int, int64, float64, bool:
		return fmt.Sprint(t), nil
	}
	return "", &ValueError{Key: Canonical(key), Value: v, Want: "string"}
}

// Bool returns key as a bool, or def when key is absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p.Get(key)
	if !ok {
		return def, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err == nil {
			return b, nil
		}
	}
	return false, &ValueError{Key: Canonical(key), Value: v, Want: "boolean"}
}

// Sub returns the nested parameter set stored under key.
func (p Params) Sub(key string) (Params, bool) {
	v, ok := p.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(Params)
	return sub, ok
}

// Strings renders p as sorted name=value entries. Nested sets are skipped.
func (p Params) Strings() []string {
	out := make([]string, 0, len(p))
	for _, k := range p.Keys() {
		if _, nested := p[k].(Params); nested {
			continue
		}
		out = append(out, fmt.Sprintf("%s=%v", k, p[k]))
	}
	return out
}
