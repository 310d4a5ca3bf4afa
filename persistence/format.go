package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Magic identifies index files (ASCII "KNNL").
	Magic uint32 = 0x4C4E4E4B
	// Version is the current file format version.
	Version uint16 = 1

	headerSize  = 8
	trailerSize = 24
)

var (
	ErrInvalidMagic     = errors.New("invalid magic number")
	ErrInvalidVersion   = errors.New("unsupported version")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrTruncated        = errors.New("truncated index file")
	ErrCorrupt          = errors.New("corrupt index payload")
)

type header struct {
	version     uint16
	compression Compression
}

func (h header) append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, Magic)
	dst = binary.LittleEndian.AppendUint16(dst, h.version)
	return append(dst, byte(h.compression), 0)
}

func parseHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, ErrTruncated
	}
	if m := binary.LittleEndian.Uint32(b); m != Magic {
		return header{}, fmt.Errorf("%w: got 0x%08x", ErrInvalidMagic, m)
	}
	h := header{
		version:     binary.LittleEndian.Uint16(b[4:]),
		compression: Compression(b[6]),
	}
	if h.version != Version {
		return header{}, fmt.Errorf("%w: %d", ErrInvalidVersion, h.version)
	}
	if !h.compression.valid() {
		return header{}, fmt.Errorf("%w: unknown compression %d", ErrCorrupt, h.compression)
	}
	return h, nil
}

type trailer struct {
	payloadLen uint64
	rawLen     uint64
	checksum   uint32
}

func (t trailer) append(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, t.payloadLen)
	dst = binary.LittleEndian.AppendUint64(dst, t.rawLen)
	dst = binary.LittleEndian.AppendUint32(dst, t.checksum)
	return binary.LittleEndian.AppendUint32(dst, Magic)
}

func parseTrailer(b []byte) (trailer, error) {
	if len(b) < trailerSize {
		return trailer{}, ErrTruncated
	}
	b = b[len(b)-trailerSize:]
	if m := binary.LittleEndian.Uint32(b[20:]); m != Magic {
		return trailer{}, fmt.Errorf("%w: trailer 0x%08x", ErrTruncated, m)
	}
	return trailer{
		payloadLen: binary.LittleEndian.Uint64(b),
		rawLen:     binary.LittleEndian.Uint64(b[8:]),
		checksum:   binary.LittleEndian.Uint32(b[16:]),
	}, nil
}
