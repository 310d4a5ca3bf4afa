package params

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStrings(t *testing.T) {
	p, err := ParseStrings([]string{"M=32", "efConstruction=200", "space_type = l2", "unknown=x", "m=48"})
	require.NoError(t, err)

	m, err := p.Int(KeyM, 16)
	require.NoError(t, err)
	assert.Equal(t, 48, m)

	ef, err := p.Int("ef_construction", 0)
	require.NoError(t, err)
	assert.Equal(t, 200, ef)

	space, err := p.String(KeySpaceType, "")
	require.NoError(t, err)
	assert.Equal(t, "l2", space)

	assert.True(t, p.Has("unknown"))
	assert.Equal(t, []string{"ef_construction=200", "m=48", "space_type=l2", "unknown=x"}, p.Strings())
}

func TestParseStringsRejectsMalformedEntries(t *testing.T) {
	for _, entry := range []string{"novalue", "=3", "  =x"} {
		_, err := ParseStrings([]string{entry})
		assert.ErrorIs(t, err, ErrMalformedEntry, entry)
	}
}

func TestIntMalformed(t *testing.T) {
	p, err := ParseStrings([]string{"m=abc", "nprobes=1.5"})
	require.NoError(t, err)

	_, err = p.Int("M", 16)
	require.ErrorIs(t, err, ErrMalformedValue)
	var ve *ValueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, KeyM, ve.Key)

	_, err = p.Int("nprobe", 1)
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestDefaults(t *testing.T) {
	p := Params{}
	n, err := p.Int(KeyEfSearch, 512)
	require.NoError(t, err)
	assert.Equal(t, 512, n)
	f, err := p.Float("x", 1.5)
	require.NoError(t, err)
	assert.Equal(t, 1.5, f)
	b, err := p.Bool("x", true)
	require.NoError(t, err)
	assert.True(t, b)
	_, ok := p.Sub(KeyEncoder)
	assert.False(t, ok)
}

func TestFromMapNumbers(t *testing.T) {
	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{"nlist": 16, "seed": 7.0, "ratio": 0.5, "flag": "true", "bad": 2.5, "n": {"x": 1}}`), &raw))
	p, err := FromMap(raw)
	require.NoError(t, err)

	n, err := p.Int(KeyNCentroids, 0)
	require.NoError(t, err)
	assert.Equal(t, 16, n)
	seed, err := p.Int64(KeySeed, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(7), seed)
	ratio, err := p.Float("ratio", 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, ratio)
	flag, err := p.Bool("flag", false)
	require.NoError(t, err)
	assert.True(t, flag)
	_, err = p.Int("bad", 0)
	assert.ErrorIs(t, err, ErrMalformedValue)

	sub, ok := p.Sub("n")
	require.True(t, ok)
	x, err := sub.Int("x", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, x)

	_, err = p.Int("n", 0)
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestFromMapYAMLStyleKeys(t *testing.T) {
	p, err := FromMap(map[string]any{"encoder": map[any]any{"name": "pq"}})
	require.NoError(t, err)
	sub, ok := p.Sub(KeyEncoder)
	require.True(t, ok)
	name, err := sub.String(KeyName, "")
	require.NoError(t, err)
	assert.Equal(t, "pq", name)

	_, err = FromMap(map[string]any{"encoder": map[any]any{1: "pq"}})
	assert.ErrorIs(t, err, ErrMalformedValue)
}

func TestCloneIsDeep(t *testing.T) {
	p := Params{"a": 1, "sub": Params{"b": 2}}
	c := p.Clone()
	sub, _ := c.Sub("sub")
	sub["b"] = 3
	orig, _ := p.Sub("sub")
	assert.Equal(t, 2, orig["b"])
}
