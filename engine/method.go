package engine

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/hupe1980/knnlib/params"
)

// buildKeys are accepted on every method and consumed by the builder.
var buildKeys = []string{
	params.KeyTrainingDatasetSizeLimit,
	params.KeyMinimumDatapoints,
	params.KeySeed,
}

// tuningNames maps parameters applied after construction to index settings.
var tuningNames = map[string]string{
	params.KeyEfConstruction: "efConstruction",
	params.KeyEfSearch:       "efSearch",
	params.KeyNProbes:        "nprobe",
}

// TuningName returns the index setting controlled by a parameter, if any.
func TuningName(key string) (string, bool) {
	n, ok := tuningNames[params.Canonical(key)]
	return n, ok
}

// Validate checks that the engine can build m. Unknown methods, spaces,
// encoders or parameters and non-positive values are rejected.
func (e *Engine) Validate(m params.Method) error {
	def, ok := e.Method(m.Name)
	if !ok {
		return fmt.Errorf("%w: %s has no method %q", ErrInvalidMethod, e.Name, m.Name)
	}
	if m.Space != "" {
		if _, err := e.Metric(m.Space); err != nil {
			return err
		}
		if !slices.Contains(def.Spaces, strings.ToLower(m.Space)) {
			return fmt.Errorf("%w: method %s does not support space %q", ErrInvalidMethod, m.Name, m.Space)
		}
	}
	if err := checkParameters(def.Component, m.Parameters, buildKeys); err != nil {
		return err
	}

	if m.Encoder != nil {
		enc, ok := def.encoder(m.Encoder.Name)
		if !ok {
			return fmt.Errorf("%w: method %s has no encoder %q", ErrInvalidMethod, m.Name, m.Encoder.Name)
		}
		if err := checkParameters(enc, m.Encoder.Parameters, nil); err != nil {
			return fmt.Errorf("encoder: %w", err)
		}
	}

	if m.CoarseQuantizer != nil {
		if !def.CoarseQuantize {
			return fmt.Errorf("%w: method %s takes no coarse quantizer", ErrInvalidMethod, m.Name)
		}
		cq := *m.CoarseQuantizer
		if cq.Name != MethodHNSW && cq.Name != MethodBruteForce {
			return fmt.Errorf("%w: coarse quantizer %q", ErrInvalidMethod, cq.Name)
		}
		if cq.CoarseQuantizer != nil {
			return fmt.Errorf("%w: nested coarse quantizers", ErrInvalidMethod)
		}
		if err := e.Validate(cq); err != nil {
			return fmt.Errorf("coarse quantizer: %w", err)
		}
	}
	return nil
}

func checkParameters(c Component, p params.Params, extra []string) error {
	for _, key := range p.Keys() {
		if _, ok := c.Parameter(key); !ok {
			if slices.Contains(extra, key) {
				continue
			}
			return fmt.Errorf("%w: %s has no parameter %q", ErrInvalidMethod, c.Name, key)
		}
		v, err := p.Int(key, 0)
		if err != nil {
			return err
		}
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidMethod, key, v)
		}
	}
	return nil
}

// Description renders m as an index description, e.g. "HNSW16,Flat" or
// "IVF16(HNSW16,Flat),PQ16". Unset parameters take the engine defaults.
func (e *Engine) Description(m params.Method) (string, error) {
	if err := e.Validate(m); err != nil {
		return "", err
	}
	def, _ := e.Method(m.Name)
	if e.Name == Nmslib {
		return def.Token + inline(def.Component, m.Parameters), nil
	}

	if m.Name == MethodBruteForce {
		if metric, err := e.Metric(m.Space); err == nil && metric.IsBinary() {
			return "BFlat", nil
		}
	}

	var b strings.Builder
	b.WriteString(def.Token)
	b.WriteString(inline(def.Component, m.Parameters))
	if m.CoarseQuantizer != nil {
		inner, err := e.Description(*m.CoarseQuantizer)
		if err != nil {
			return "", err
		}
		b.WriteString("(")
		b.WriteString(inner)
		b.WriteString(")")
	}
	if b.Len() > 0 {
		b.WriteString(",")
	}
	if m.Encoder == nil {
		b.WriteString("Flat")
		return b.String(), nil
	}
	enc, _ := def.encoder(m.Encoder.Name)
	b.WriteString(enc.Token)
	b.WriteString(inline(enc, m.Encoder.Parameters))
	return b.String(), nil
}

func inline(c Component, p params.Params) string {
	var parts []string
	for _, def := range c.Parameters {
		if !def.InDescription {
			continue
		}
		v, err := p.Int(def.Name, def.Default)
		if err != nil {
			v = def.Default
		}
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, "_")
}

// Tuning returns the index settings to apply after construction, keyed by
// setting name. Settings of a coarse quantizer are included unless the outer
// method defines the same setting.
func (e *Engine) Tuning(m params.Method) (map[string]int, error) {
	def, ok := e.Method(m.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no method %q", ErrInvalidMethod, e.Name, m.Name)
	}
	out := map[string]int{}
	if m.CoarseQuantizer != nil {
		inner, err := e.Tuning(*m.CoarseQuantizer)
		if err != nil {
			return nil, err
		}
		for k, v := range inner {
			out[k] = v
		}
	}
	for _, p := range def.Parameters {
		name, ok := tuningNames[p.Name]
		if !ok {
			continue
		}
		v, err := m.Parameters.Int(p.Name, p.Default)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}
