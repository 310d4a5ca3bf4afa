package mmap

import (
	"fmt"
	"io"
	"os"

	"github.com/hupe1980/knnlib/fs"
)

// File represents a read-only memory-mapped file.
type File struct {
	data   []byte
	mapped bool
}

// Open maps the file at path into memory as read-only.
// Empty files yield a mapping with no data.
func Open(path string) (*File, error) {
	return OpenFS(fs.Default, path)
}

// fder is implemented by files backed by an OS descriptor.
type fder interface {
	Fd() uintptr
}

// OpenFS opens path through fsys and maps it read-only. Files without an OS
// descriptor, such as those of a wrapping test FileSystem, are read into
// memory instead.
func OpenFS(fsys fs.FileSystem, path string) (*File, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size := fi.Size()
	if size == 0 {
		return &File{}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("mmap: file %s too large to map (%d bytes)", path, size)
	}

	d, ok := f.(fder)
	if !ok {
		data := make([]byte, size)
		if _, err := io.ReadFull(f, data); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return &File{data: data}, nil
	}
	data, err := mmap(d.Fd(), int(size))
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	adviseSequential(data)
	return &File{data: data, mapped: true}, nil
}

// Bytes returns the mapped contents.
func (m *File) Bytes() []byte { return m.data }

// Size returns the mapped length in bytes.
func (m *File) Size() int { return len(m.data) }

// Region returns the sub-slice [off, off+n) of the mapping.
func (m *File) Region(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+n > len(m.data) {
		return nil, fmt.Errorf("mmap: region [%d, %d) outside mapping of %d bytes", off, off+n, len(m.data))
	}
	return m.data[off : off+n], nil
}

// ReadAt implements io.ReaderAt.
func (m *File) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Close unmaps the memory. It is safe to call more than once.
func (m *File) Close() error {
	if m == nil {
		return nil
	}
	if !m.mapped {
		m.data = nil
		return nil
	}
	data := m.data
	m.data, m.mapped = nil, false
	return munmap(data)
}
