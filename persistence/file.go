package persistence

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/hupe1980/knnlib/fs"
	"github.com/hupe1980/knnlib/internal/mmap"
)

// Info describes a written or verified index file.
type Info struct {
	Size        int64
	RawSize     int64
	Checksum    uint32
	Compression Compression
}

// WriteFile atomically writes an index file at path. body encodes the payload.
// On any failure the temporary file is removed and path is left untouched.
func WriteFile(fsys fs.FileSystem, path string, c Compression, body func(*Encoder) error) (Info, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	if !c.valid() {
		return Info{}, fmt.Errorf("unknown compression %d", c)
	}

	dir := filepath.Dir(path)
	tmpName := filepath.Join(dir, "."+filepath.Base(path)+".tmp-"+uuid.NewString())
	f, err := fsys.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Info{}, err
	}

	closed, committed := false, false
	defer func() {
		if !closed {
			_ = f.Close()
		}
		if !committed {
			_ = fsys.Remove(tmpName)
		}
	}()

	bw := bufio.NewWriterSize(f, 256*1024)
	if _, err := bw.Write(header{version: Version, compression: c}.append(nil)); err != nil {
		return Info{}, err
	}

	cw := NewChecksumWriter(bw)
	zw, err := compressor(cw, c)
	if err != nil {
		return Info{}, err
	}
	enc := NewEncoder(zw)
	if err := body(enc); err != nil {
		return Info{}, err
	}
	if err := enc.Err(); err != nil {
		return Info{}, err
	}
	if err := zw.Close(); err != nil {
		return Info{}, err
	}

	t := trailer{payloadLen: uint64(cw.Count()), rawLen: uint64(enc.Len())}
	t.checksum = frameChecksum(cw.Sum32(), t.rawLen)
	if _, err := bw.Write(t.append(nil)); err != nil {
		return Info{}, err
	}
	if err := bw.Flush(); err != nil {
		return Info{}, err
	}
	if err := f.Sync(); err != nil {
		return Info{}, err
	}
	closed = true
	if err := f.Close(); err != nil {
		return Info{}, err
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		return Info{}, err
	}
	committed = true
	_ = fsys.SyncDir(dir)

	return Info{
		Size:        headerSize + cw.Count() + trailerSize,
		RawSize:     enc.Len(),
		Checksum:    t.checksum,
		Compression: c,
	}, nil
}

// Payload is a verified, decompressed index payload.
type Payload struct {
	Info Info
	data []byte
	m    *mmap.File
}

// Decoder returns a Decoder positioned at the start of the payload.
func (p *Payload) Decoder() *Decoder { return NewDecoder(p.data) }

// Close releases the file mapping. Decoded values stay valid.
func (p *Payload) Close() error {
	p.data = nil
	return p.m.Close()
}

// ReadFile maps path read-only through fsys and verifies its framing and
// checksum. reserve, when set, is called with the verified Info before the
// payload is decompressed; an error from it aborts the read.
func ReadFile(fsys fs.FileSystem, path string, reserve func(Info) error) (*Payload, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	m, err := mmap.OpenFS(fsys, path)
	if err != nil {
		return nil, err
	}
	info, data, err := verify(m.Bytes(), reserve)
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &Payload{Info: info, data: data, m: m}, nil
}

// Verify checks the framing of a complete index file image and returns the
// decompressed payload.
func Verify(b []byte) (Info, []byte, error) {
	return verify(b, nil)
}

func verify(b []byte, reserve func(Info) error) (Info, []byte, error) {
	if len(b) < headerSize+trailerSize {
		return Info{}, nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(b))
	}
	h, err := parseHeader(b)
	if err != nil {
		return Info{}, nil, err
	}
	t, err := parseTrailer(b)
	if err != nil {
		return Info{}, nil, err
	}
	if t.payloadLen != uint64(len(b)-headerSize-trailerSize) {
		return Info{}, nil, fmt.Errorf("%w: payload length %d does not match file size %d", ErrTruncated, t.payloadLen, len(b))
	}
	payload := b[headerSize : len(b)-trailerSize]
	if sum := frameChecksum(CRC32C(payload), t.rawLen); sum != t.checksum {
		return Info{}, nil, fmt.Errorf("%w: got 0x%08x, want 0x%08x", ErrChecksumMismatch, sum, t.checksum)
	}
	if t.rawLen > math.MaxInt64 {
		return Info{}, nil, fmt.Errorf("%w: raw length %d", ErrCorrupt, t.rawLen)
	}
	info := Info{
		Size:        int64(len(b)),
		RawSize:     int64(t.rawLen),
		Checksum:    t.checksum,
		Compression: h.compression,
	}
	if reserve != nil {
		if err := reserve(info); err != nil {
			return Info{}, nil, err
		}
	}
	raw, err := decompress(payload, h.compression, t.rawLen)
	if err != nil {
		return Info{}, nil, err
	}
	return info, raw, nil
}
