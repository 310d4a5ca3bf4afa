package persistence

import (
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"
)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// frameChecksum extends the payload checksum over the raw length recorded in
// the trailer.
func frameChecksum(payloadSum uint32, rawLen uint64) uint32 {
	return crc32.Update(payloadSum, crc32cTable, binary.LittleEndian.AppendUint64(nil, rawLen))
}

// ChecksumWriter wraps an io.Writer and computes a running CRC32C checksum
// and byte count.
type ChecksumWriter struct {
	w    io.Writer
	hash hash.Hash32
	n    int64
}

// NewChecksumWriter creates a new checksumming writer.
func NewChecksumWriter(w io.Writer) *ChecksumWriter {
	return &ChecksumWriter{w: w, hash: crc32.New(crc32cTable)}
}

func (cw *ChecksumWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.hash.Write(p[:n])
	cw.n += int64(n)
	return n, err
}

// Sum32 returns the checksum of everything written so far.
func (cw *ChecksumWriter) Sum32() uint32 { return cw.hash.Sum32() }

// Count returns the number of bytes written so far.
func (cw *ChecksumWriter) Count() int64 { return cw.n }
