package persistence

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Encoder writes little-endian primitives. The first write error is kept and
// all later writes become no-ops.
type Encoder struct {
	w   io.Writer
	buf []byte
	n   int64
	err error
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w, buf: make([]byte, 0, 4096)}
}

// Err returns the first write error.
func (e *Encoder) Err() error { return e.err }

// Len returns the number of bytes written.
func (e *Encoder) Len() int64 { return e.n }

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	n, err := e.w.Write(p)
	e.n += int64(n)
	e.err = err
}

// flush writes the scratch buffer when it is at least limit bytes long.
func (e *Encoder) flush(limit int) {
	if len(e.buf) >= limit {
		e.write(e.buf)
		e.buf = e.buf[:0]
	}
}

func (e *Encoder) Uint8(v uint8) { e.write([]byte{v}) }

func (e *Encoder) Uint32(v uint32) {
	e.write(binary.LittleEndian.AppendUint32(e.buf[:0], v))
}

func (e *Encoder) Uint64(v uint64) {
	e.write(binary.LittleEndian.AppendUint64(e.buf[:0], v))
}

func (e *Encoder) Int64(v int64) { e.Uint64(uint64(v)) }

func (e *Encoder) Float32(v float32) { e.Uint32(math.Float32bits(v)) }

// String writes a u32 length followed by the bytes of s.
func (e *Encoder) String(s string) {
	e.Uint32(uint32(len(s)))
	e.write([]byte(s))
}

// Bytes writes a u64 length followed by b.
func (e *Encoder) Bytes(b []byte) {
	e.Uint64(uint64(len(b)))
	e.write(b)
}

// Float32s writes a u64 element count followed by the values.
func (e *Encoder) Float32s(v []float32) {
	e.Uint64(uint64(len(v)))
	e.buf = e.buf[:0]
	for _, x := range v {
		e.buf = binary.LittleEndian.AppendUint32(e.buf, math.Float32bits(x))
		e.flush(cap(e.buf) - 8)
	}
	e.flush(1)
}

// Uint32s writes a u64 element count followed by the values.
func (e *Encoder) Uint32s(v []uint32) {
	e.Uint64(uint64(len(v)))
	e.buf = e.buf[:0]
	for _, x := range v {
		e.buf = binary.LittleEndian.AppendUint32(e.buf, x)
		e.flush(cap(e.buf) - 8)
	}
	e.flush(1)
}

// Int64s writes a u64 element count followed by the values.
func (e *Encoder) Int64s(v []int64) {
	e.Uint64(uint64(len(v)))
	e.buf = e.buf[:0]
	for _, x := range v {
		e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(x))
		e.flush(cap(e.buf) - 8)
	}
	e.flush(1)
}

// Decoder reads little-endian primitives from an in-memory payload. Slices it
// returns are copies, so the payload may be released after decoding.
type Decoder struct {
	b   []byte
	off int
	err error
}

// NewDecoder creates a Decoder over b.
func NewDecoder(b []byte) *Decoder { return &Decoder{b: b} }

// Err returns the first decoding error, wrapping ErrCorrupt.
func (d *Decoder) Err() error { return d.err }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.b) - d.off }

// Fail records err (wrapped as ErrCorrupt) unless an error is already set.
// Body codecs use it to report semantic inconsistencies.
func (d *Decoder) Fail(format string, args ...any) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: %s", ErrCorrupt, fmt.Sprintf(format, args...))
	}
}

func (d *Decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > d.Remaining() {
		d.Fail("need %d bytes at offset %d, have %d", n, d.off, d.Remaining())
		return nil
	}
	p := d.b[d.off : d.off+n]
	d.off += n
	return p
}

// count reads a u64 element count and checks it fits the remaining bytes.
func (d *Decoder) count(elemSize int) int {
	n := d.Uint64()
	if d.err != nil {
		return 0
	}
	if n > uint64(d.Remaining()/elemSize) {
		d.Fail("element count %d exceeds payload", n)
		return 0
	}
	return int(n)
}

func (d *Decoder) Uint8() uint8 {
	if p := d.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (d *Decoder) Uint32() uint32 {
	if p := d.take(4); p != nil {
		return binary.LittleEndian.Uint32(p)
	}
	return 0
}

func (d *Decoder) Uint64() uint64 {
	if p := d.take(8); p != nil {
		return binary.LittleEndian.Uint64(p)
	}
	return 0
}

func (d *Decoder) Int64() int64 { return int64(d.Uint64()) }

func (d *Decoder) Float32() float32 { return math.Float32frombits(d.Uint32()) }

func (d *Decoder) String() string {
	n := d.Uint32()
	return string(d.take(int(n)))
}

func (d *Decoder) Bytes() []byte {
	p := d.take(d.count(1))
	if p == nil {
		return nil
	}
	return append([]byte(nil), p...)
}

func (d *Decoder) Float32s() []float32 {
	n := d.count(4)
	p := d.take(n * 4)
	if p == nil {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(p[i*4:]))
	}
	return out
}

func (d *Decoder) Uint32s() []uint32 {
	n := d.count(4)
	p := d.take(n * 4)
	if p == nil {
		return nil
	}
	out := make([]uint32, n)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(p[i*4:])
	}
	return out
}

func (d *Decoder) Int64s() []int64 {
	n := d.count(8)
	p := d.take(n * 8)
	if p == nil {
		return nil
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(p[i*8:]))
	}
	return out
}
