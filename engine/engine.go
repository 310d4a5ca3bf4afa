package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hupe1980/knnlib/distance"
)

var (
	// ErrUnknownEngine is returned for engine names that are not registered.
	ErrUnknownEngine = errors.New("engine: unknown engine")
	// ErrUnknownSpace is returned for spaces an engine does not support.
	ErrUnknownSpace = errors.New("engine: unknown space")
	// ErrInvalidMethod is returned by Validate for method configurations the
	// engine cannot build.
	ErrInvalidMethod = errors.New("engine: invalid method")
	// ErrFrozen is returned by Register once the registry is frozen.
	ErrFrozen = errors.New("engine: registry is frozen")
)

// Parameter is an integer method parameter.
type Parameter struct {
	Name    string
	Default int
	// InDescription marks parameters rendered into the description string.
	InDescription bool
}

// Component is a method or encoder with its parameters.
type Component struct {
	// Name is the method name used in configurations, e.g. "hnsw".
	Name string
	// Token is the description prefix, e.g. "HNSW". Empty for brute force.
	Token      string
	Parameters []Parameter
}

// Parameter returns the definition of name.
func (c Component) Parameter(name string) (Parameter, bool) {
	for _, p := range c.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Method is a top-level index method.
type Method struct {
	Component
	Spaces         []string
	Encoders       []Component
	CoarseQuantize bool
	// Trains reports whether the method needs a training pass.
	Trains bool
}

func (m Method) encoder(name string) (Component, bool) {
	for _, e := range m.Encoders {
		if e.Name == name {
			return e, true
		}
	}
	return Component{}, false
}

// Engine describes one index engine.
type Engine struct {
	Name string
	// Extension is the file extension of index files, including the dot.
	Extension string
	Methods   []Method
	// spaces maps a space name to the metric the engine evaluates.
	spaces map[string]distance.Metric
	// negateInnerProduct marks engines whose reported inner product grows
	// with similarity.
	negateInnerProduct bool
}

// Method returns the method definition with the given name.
func (e *Engine) Method(name string) (Method, bool) {
	for _, m := range e.Methods {
		if m.Name == name {
			return m, true
		}
	}
	return Method{}, false
}

// Spaces returns the sorted supported space names.
func (e *Engine) Spaces() []string {
	out := make([]string, 0, len(e.spaces))
	for s := range e.spaces {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// Metric maps a space name to the metric evaluated by the engine.
func (e *Engine) Metric(space string) (distance.Metric, error) {
	m, ok := e.spaces[strings.ToLower(space)]
	if !ok {
		return 0, fmt.Errorf("%w: %q for engine %s", ErrUnknownSpace, space, e.Name)
	}
	return m, nil
}

// Score translates a raw engine distance into a similarity score where higher
// is better.
func (e *Engine) Score(space string, raw float32) float32 {
	if strings.ToLower(space) == "innerproduct" {
		if e.negateInnerProduct {
			raw = -raw
		}
		if raw >= 0 {
			return 1 / (1 + raw)
		}
		return -raw + 1
	}
	return 1 / (1 + raw)
}

var (
	mu       sync.RWMutex
	registry = map[string]*Engine{}
	frozen   bool
)

// Register adds an engine to the registry.
func Register(e *Engine) error {
	mu.Lock()
	defer mu.Unlock()
	if frozen {
		return ErrFrozen
	}
	registry[strings.ToLower(e.Name)] = e
	return nil
}

// Freeze rejects further registrations.
func Freeze() {
	mu.Lock()
	frozen = true
	mu.Unlock()
}

// Get returns the named engine. Names are case-insensitive.
func Get(name string) (*Engine, error) {
	mu.RLock()
	defer mu.RUnlock()
	e, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// Names returns the sorted registered engine names.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// ForPath returns the engine owning the extension of path.
func ForPath(path string) (*Engine, error) {
	mu.RLock()
	defer mu.RUnlock()
	for _, e := range registry {
		if strings.HasSuffix(path, e.Extension) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: no engine for %q", ErrUnknownEngine, path)
}
