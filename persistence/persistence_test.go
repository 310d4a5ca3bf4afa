package persistence

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/knnlib/fs"
)

func writeSample(e *Encoder) error {
	e.String("HNSW16")
	e.Uint8(7)
	e.Uint32(42)
	e.Int64(-1)
	e.Float32(1.5)
	e.Float32s([]float32{1, 2, 3})
	e.Uint32s([]uint32{4, 5})
	e.Int64s([]int64{-7, 8})
	e.Bytes([]byte("abc"))
	return nil
}

func readSample(t *testing.T, d *Decoder) {
	t.Helper()
	assert.Equal(t, "HNSW16", d.String())
	assert.Equal(t, uint8(7), d.Uint8())
	assert.Equal(t, uint32(42), d.Uint32())
	assert.Equal(t, int64(-1), d.Int64())
	assert.Equal(t, float32(1.5), d.Float32())
	assert.Equal(t, []float32{1, 2, 3}, d.Float32s())
	assert.Equal(t, []uint32{4, 5}, d.Uint32s())
	assert.Equal(t, []int64{-7, 8}, d.Int64s())
	assert.Equal(t, []byte("abc"), d.Bytes())
	require.NoError(t, d.Err())
	assert.Equal(t, 0, d.Remaining())
}

func TestWriteReadFile(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "idx.faiss")

			info, err := WriteFile(nil, path, c, writeSample)
			require.NoError(t, err)
			st, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, st.Size(), info.Size)
			assert.Equal(t, c, info.Compression)

			p, err := ReadFile(nil, path, nil)
			require.NoError(t, err)
			assert.Equal(t, info, p.Info)
			readSample(t, p.Decoder())
			require.NoError(t, p.Close())
		})
	}
}

func TestWriteFileLargeFloatSlice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.faiss")
	vals := make([]float32, 10_000)
	for i := range vals {
		vals[i] = float32(i)
	}

	_, err := WriteFile(nil, path, CompressionZSTD, func(e *Encoder) error {
		e.Float32s(vals)
		return nil
	})
	require.NoError(t, err)

	p, err := ReadFile(nil, path, nil)
	require.NoError(t, err)
	defer p.Close()
	assert.Equal(t, vals, p.Decoder().Float32s())
}

func TestWriteFileFaultsLeaveNoFile(t *testing.T) {
	faults := map[string]fs.Fault{
		"write":  {FailAfterBytes: 10},
		"sync":   {FailAfterBytes: -1, FailOnSync: true},
		"close":  {FailAfterBytes: -1, FailOnClose: true},
		"rename": {FailAfterBytes: -1, FailOnRename: true},
		"open":   {FailOnOpen: true},
	}
	for name, fault := range faults {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "idx.faiss")
			ffs := fs.NewFaultyFS(nil)
			ffs.AddRule("idx.faiss", fault)

			_, err := WriteFile(ffs, path, CompressionNone, writeSample)
			require.ErrorIs(t, err, fs.ErrInjected)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries, "no destination and no temp file")
			assert.Equal(t, int64(0), ffs.OpenFiles())
		})
	}
}

func TestWriteFileBodyError(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")
	_, err := WriteFile(nil, filepath.Join(dir, "x.hnsw"), CompressionLZ4, func(*Encoder) error { return boom })
	require.ErrorIs(t, err, boom)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestVerifyRejectsDamage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.faiss")
	_, err := WriteFile(nil, path, CompressionNone, writeSample)
	require.NoError(t, err)
	good, err := os.ReadFile(path)
	require.NoError(t, err)

	damage := func(f func([]byte) []byte) []byte {
		return f(append([]byte(nil), good...))
	}

	_, _, err = Verify(damage(func(b []byte) []byte { b[0] = 'X'; return b }))
	assert.ErrorIs(t, err, ErrInvalidMagic)

	_, _, err = Verify(damage(func(b []byte) []byte { b[4] = 9; return b }))
	assert.ErrorIs(t, err, ErrInvalidVersion)

	_, _, err = Verify(damage(func(b []byte) []byte { b[headerSize+1] ^= 0xFF; return b }))
	assert.ErrorIs(t, err, ErrChecksumMismatch)

	_, _, err = Verify(damage(func(b []byte) []byte { return b[:len(b)-3] }))
	assert.ErrorIs(t, err, ErrTruncated)

	_, _, err = Verify([]byte("short"))
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestVerifyRejectsForgedRawLength(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "idx.faiss")
			_, err := WriteFile(nil, path, c, writeSample)
			require.NoError(t, err)
			good, err := os.ReadFile(path)
			require.NoError(t, err)

			forge := func(rawLen uint64, fixChecksum bool) []byte {
				b := append([]byte(nil), good...)
				tr := b[len(b)-trailerSize:]
				binary.LittleEndian.PutUint64(tr[8:], rawLen)
				if fixChecksum {
					payload := b[headerSize : len(b)-trailerSize]
					binary.LittleEndian.PutUint32(tr[16:], frameChecksum(CRC32C(payload), rawLen))
				}
				return b
			}

			_, _, err = Verify(forge(1<<42, false))
			require.ErrorIs(t, err, ErrChecksumMismatch)

			_, _, err = Verify(forge(1<<42, true))
			require.ErrorIs(t, err, ErrCorrupt)

			_, _, err = Verify(forge(1<<63, true))
			require.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestReadFileReserveBeforeDecompress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idx.faiss")
	info, err := WriteFile(nil, path, CompressionZSTD, writeSample)
	require.NoError(t, err)

	var seen Info
	denied := errors.New("denied")
	_, err = ReadFile(nil, path, func(i Info) error {
		seen = i
		return denied
	})
	require.ErrorIs(t, err, denied)
	assert.Equal(t, info, seen)

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("idx.faiss", fs.Fault{FailOnRead: true})
	_, err = ReadFile(ffs, path, nil)
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.Equal(t, int64(0), ffs.OpenFiles())
}

func TestReadFileMissing(t *testing.T) {
	_, err := ReadFile(nil, filepath.Join(t.TempDir(), "missing.faiss"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecoderTruncation(t *testing.T) {
	d := NewDecoder([]byte{1, 2})
	assert.Equal(t, uint32(0), d.Uint32())
	require.ErrorIs(t, d.Err(), ErrCorrupt)
	assert.Equal(t, uint8(0), d.Uint8(), "sticky error")

	d = NewDecoder([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x0F})
	assert.Nil(t, d.Float32s())
	assert.ErrorIs(t, d.Err(), ErrCorrupt)

	d = NewDecoder(nil)
	d.Fail("bad %s", "value")
	assert.ErrorContains(t, d.Err(), "bad value")
}

func TestParseCompression(t *testing.T) {
	for in, want := range map[string]Compression{"": CompressionNone, "none": CompressionNone, "LZ4": CompressionLZ4, "zstd": CompressionZSTD} {
		got, err := ParseCompression(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseCompression("gzip")
	assert.Error(t, err)
}
