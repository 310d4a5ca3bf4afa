// Package codec selects the JSON encoding used for catalog records, HTTP
// bodies and CLI vector input.
//
// Catalog records store the codec name next to the payload, so a catalog
// written with one codec stays readable after Default changes.
package codec

import (
	"fmt"
	"io"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// StreamCodec is a Codec that can also stream to and from readers.
type StreamCodec interface {
	Codec
	Encode(w io.Writer, v any) error
	Decode(r io.Reader, v any) error
}

// ByName returns a built-in codec by its stable name.
func ByName(name string) (Codec, bool) {
	switch name {
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// MustMarshal panics on encoding errors. Tests and benchmarks only.
func MustMarshal(c Codec, v any) []byte {
	if c == nil {
		c = Default
	}
	b, err := c.Marshal(v)
	if err != nil {
		panic(fmt.Errorf("codec %s marshal failed: %w", c.Name(), err))
	}
	return b
}

// Default is the codec used for new records and HTTP responses.
var Default StreamCodec = GoJSON{}
