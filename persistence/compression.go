package persistence

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how the payload of an index file is stored.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 favors load speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favors file size.
	CompressionZSTD Compression = 2
)

func (c Compression) valid() bool { return c <= CompressionZSTD }

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression maps "none", "lz4" or "zstd" (case-insensitive, empty means
// none) to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", s)
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// compressor wraps w so that everything written is compressed with c.
// Close flushes the compressor but not w.
func compressor(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZSTD:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	default:
		return nil, fmt.Errorf("unknown compression %d", c)
	}
}

// maxLZ4Ratio bounds the expansion of an lz4 block stream.
const maxLZ4Ratio = 256

// decompress expands payload into rawLen bytes. The output buffer grows with
// the data actually decoded, so a damaged rawLen cannot force a large
// allocation up front.
func decompress(payload []byte, c Compression, rawLen uint64) ([]byte, error) {
	switch c {
	case CompressionNone:
		if rawLen != uint64(len(payload)) {
			return nil, fmt.Errorf("%w: raw length %d for %d stored bytes", ErrCorrupt, rawLen, len(payload))
		}
		return payload, nil
	case CompressionLZ4:
		if rawLen == 0 || rawLen > uint64(len(payload))*maxLZ4Ratio+64 {
			return nil, fmt.Errorf("%w: lz4 raw length %d for %d stored bytes", ErrCorrupt, rawLen, len(payload))
		}
		out, err := io.ReadAll(io.LimitReader(lz4.NewReader(bytes.NewReader(payload)), int64(rawLen)+1))
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorrupt, err)
		}
		if uint64(len(out)) != rawLen {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrCorrupt, len(out), rawLen)
		}
		return out, nil
	case CompressionZSTD:
		if rawLen == 0 || rawLen >= 1<<62 {
			return nil, fmt.Errorf("%w: zstd raw length %d", ErrCorrupt, rawLen)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(rawLen))
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		out, err := dec.DecodeAll(payload, make([]byte, 0, min(rawLen, uint64(len(payload))*4)))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorrupt, err)
		}
		if uint64(len(out)) != rawLen {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrCorrupt, len(out), rawLen)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, c)
	}
}
