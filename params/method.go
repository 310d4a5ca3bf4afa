package params

import (
	"fmt"
	"strings"
)

// Method describes an index method: the algorithm, its parameters and
// optional nested encoder and coarse quantizer components.
type Method struct {
	Engine          string
	Name            string
	Space           string
	Parameters      Params
	Encoder         *Method
	CoarseQuantizer *Method
}

// ParseMethod reads a method context of the form
//
//	{"engine": "faiss", "name": "ivf", "space_type": "l2",
//	 "parameters": {"ncentroids": 16, "encoder": {"name": "pq", "parameters": {"code_size": 8}}}}
//
// Nested components inherit engine and space from their parent.
func ParseMethod(m map[string]any) (Method, error) {
	p, err := FromMap(m)
	if err != nil {
		return Method{}, err
	}
	return methodFrom(p, "", "")
}

func methodFrom(p Params, engine, space string) (Method, error) {
	var err error
	out := Method{}
	if out.Engine, err = p.String(KeyEngine, engine); err != nil {
		return Method{}, err
	}
	if out.Space, err = p.String(KeySpaceType, space); err != nil {
		return Method{}, err
	}
	if out.Name, err = p.String(KeyName, ""); err != nil {
		return Method{}, err
	}
	if out.Name == "" {
		return Method{}, &ValueError{Key: KeyName, Value: "", Want: "method name"}
	}
	out.Engine = strings.ToLower(out.Engine)
	out.Name = strings.ToLower(out.Name)

	out.Parameters = Params{}
	if v, ok := p.Get(KeyParameters); ok {
		sub, isParams := v.(Params)
		if !isParams {
			return Method{}, &ValueError{Key: KeyParameters, Value: v, Want: "parameter map"}
		}
		out.Parameters = sub.Clone()
	}

	for _, key := range []string{KeyEncoder, KeyCoarseQuantizer} {
		v, ok := out.Parameters.Get(key)
		if !ok {
			continue
		}
		sub, isParams := v.(Params)
		if !isParams {
			return Method{}, &ValueError{Key: key, Value: v, Want: "method map"}
		}
		nested, err := methodFrom(sub, out.Engine, out.Space)
		if err != nil {
			return Method{}, fmt.Errorf("%s: %w", key, err)
		}
		if key == KeyEncoder {
			out.Encoder = &nested
		} else {
			out.CoarseQuantizer = &nested
		}
		delete(out.Parameters, key)
	}
	return out, nil
}

// String renders the method for logs, e.g. "faiss/ivf(ncentroids=16)+pq(code_size=8)".
func (m Method) String() string {
	var b strings.Builder
	if m.Engine != "" {
		b.WriteString(m.Engine)
		b.WriteString("/")
	}
	m.writeTo(&b)
	return b.String()
}

func (m Method) writeTo(b *strings.Builder) {
	b.WriteString(m.Name)
	if entries := m.Parameters.Strings(); len(entries) > 0 {
		b.WriteString("(")
		b.WriteString(strings.Join(entries, ","))
		b.WriteString(")")
	}
	if m.CoarseQuantizer != nil {
		b.WriteString("[")
		m.CoarseQuantizer.writeTo(b)
		b.WriteString("]")
	}
	if m.Encoder != nil {
		b.WriteString("+")
		m.Encoder.writeTo(b)
	}
}
