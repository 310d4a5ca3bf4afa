package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMethod(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"engine": "FAISS",
		"name": "ivf",
		"space_type": "innerproduct",
		"parameters": {
			"ncentroids": 16,
			"nprobes": 4,
			"coarse_quantizer": {"name": "hnsw", "parameters": {"m": 16}},
			"encoder": {"name": "pq", "parameters": {"code_size": 8}}
		}
	}`), &raw))

	m, err := ParseMethod(raw)
	require.NoError(t, err)
	assert.Equal(t, "faiss", m.Engine)
	assert.Equal(t, "ivf", m.Name)
	assert.Equal(t, "innerproduct", m.Space)
	assert.False(t, m.Parameters.Has(KeyEncoder))
	assert.False(t, m.Parameters.Has(KeyCoarseQuantizer))

	require.NotNil(t, m.Encoder)
	assert.Equal(t, "pq", m.Encoder.Name)
	assert.Equal(t, "faiss", m.Encoder.Engine)
	assert.Equal(t, "innerproduct", m.Encoder.Space)
	codeSize, err := m.Encoder.Parameters.Int(KeyCodeSize, 0)
	require.NoError(t, err)
	assert.Equal(t, 8, codeSize)

	require.NotNil(t, m.CoarseQuantizer)
	assert.Equal(t, "hnsw", m.CoarseQuantizer.Name)

	assert.Equal(t, "faiss/ivf(ncentroids=16,nprobes=4)[hnsw(m=16)]+pq(code_size=8)", m.String())
}

func TestParseMethodErrors(t *testing.T) {
	_, err := ParseMethod(map[string]any{"engine": "faiss"})
	assert.ErrorIs(t, err, ErrMalformedValue)

	_, err = ParseMethod(map[string]any{"name": "hnsw", "parameters": "m=16"})
	assert.ErrorIs(t, err, ErrMalformedValue)

	_, err = ParseMethod(map[string]any{"name": "ivf", "parameters": map[string]any{"encoder": "pq"}})
	assert.ErrorIs(t, err, ErrMalformedValue)

	_, err = ParseMethod(map[string]any{"name": "ivf", "parameters": map[string]any{"encoder": map[string]any{}}})
	assert.ErrorIs(t, err, ErrMalformedValue)
}
