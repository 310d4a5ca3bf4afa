package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib"
)

func TestEncodeDecode(t *testing.T) {
	rec := Record{
		ID:          uuid.New(),
		Name:        "products",
		Version:     3,
		Path:        "/data/products.faiss",
		Engine:      "faiss",
		Space:       "l2",
		Description: "IVF16,PQ8",
		Dimension:   128,
		Count:       1000,
		Checksum:    0xcafebabe,
		Size:        4096,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	name, data, err := Encode(rec)
	require.NoError(t, err)
	assert.Equal(t, "go-json", name)

	got, err := Decode(name, data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	got, err = Decode("json", data)
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	_, err = Decode("xml", data)
	require.Error(t, err)
	_, err = Decode("json", []byte("{"))
	require.Error(t, err)
}

func TestFromBuild(t *testing.T) {
	rec := FromBuild("products", &knnlib.BuildResult{
		Path: "/p.faiss", Engine: "faiss", Space: "innerproduct", Description: "HNSW16",
		Count: 10, Dimension: 4, Size: 100, Checksum: 7,
	})
	assert.Equal(t, Record{
		Name: "products", Path: "/p.faiss", Engine: "faiss", Space: "innerproduct",
		Description: "HNSW16", Count: 10, Dimension: 4, Size: 100, Checksum: 7,
	}, rec)
}

// contended reports a conflict on every Put.
type contended struct{ puts int }

func (c *contended) Put(context.Context, Record) error { c.puts++; return ErrConflict }
func (c *contended) Get(context.Context, string, int64) (Record, error) {
	return Record{}, ErrNotFound
}
func (c *contended) Latest(context.Context, string) (Record, error) { return Record{}, ErrNotFound }
func (c *contended) List(context.Context, string) ([]Record, error) { return nil, nil }
func (c *contended) Close() error                                   { return nil }

func TestRegisterGivesUpUnderContention(t *testing.T) {
	c := &contended{}
	_, err := Register(t.Context(), c, Record{Name: "x"})
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, maxRegisterAttempts, c.puts)

	_, err = Register(t.Context(), c, Record{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrConflict))
}
