package codec

import (
	"encoding/json"
	"io"
)

// JSON is the standard-library JSON codec. Records written by older builds
// that named it stay decodable.
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Encode writes v followed by a newline.
func (JSON) Encode(w io.Writer, v any) error { return json.NewEncoder(w).Encode(v) }

// Decode reads one JSON value from r.
func (JSON) Decode(r io.Reader, v any) error { return json.NewDecoder(r).Decode(v) }
