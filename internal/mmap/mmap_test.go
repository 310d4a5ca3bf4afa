package mmap

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib/fs"
)

func TestOpenReadClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	content := []byte("Hello, Mmap!")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	m, err := Open(path)
	require.NoError(t, err)

	assert.Equal(t, len(content), m.Size())
	assert.Equal(t, content, m.Bytes())

	buf := make([]byte, 5)
	n, err := m.ReadAt(buf, 7)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "Mmap!", string(buf))

	_, err = m.ReadAt(buf, 100)
	assert.ErrorIs(t, err, io.EOF)

	region, err := m.Region(0, 5)
	require.NoError(t, err)
	assert.Equal(t, "Hello", string(region))
	_, err = m.Region(10, 5)
	assert.Error(t, err)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())
}

func TestOpenEmptyAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	m, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Size())
	require.NoError(t, m.Close())

	_, err = Open(filepath.Join(t.TempDir(), "missing.bin"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpenFSWithoutDescriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.bin")
	content := []byte("read through a wrapper")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	ffs := fs.NewFaultyFS(nil)
	m, err := OpenFS(ffs, path)
	require.NoError(t, err)
	assert.Equal(t, content, m.Bytes())
	assert.Equal(t, int64(0), ffs.OpenFiles())
	require.NoError(t, m.Close())
	assert.Nil(t, m.Bytes())

	ffs.AddRule("index.bin", fs.Fault{FailOnRead: true})
	_, err = OpenFS(ffs, path)
	assert.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, int64(0), ffs.OpenFiles())
}
