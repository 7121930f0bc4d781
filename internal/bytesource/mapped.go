package bytesource

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Mapped is a ByteSource backed by a read-write memory-mapped file.
// Read and write cost is independent of file size; pages fault in on demand.
type Mapped struct {
	f    *os.File
	data mmap.MMap
}

// OpenMapped maps path read-write.
func OpenMapped(path string) (*Mapped, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map %s: %w", path, err)
	}

	return &Mapped{f: f, data: data}, nil
}

// Len returns the mapped length.
func (m *Mapped) Len() uint64 {
	return uint64(len(m.data))
}

// ReadU8 returns the byte at off, or 0 when off is past the mapping.
func (m *Mapped) ReadU8(off uint64) byte {
	if off >= uint64(len(m.data)) {
		return 0
	}
	return m.data[off]
}

// ReadInto fills buf from the mapping; bytes past the end are zeroed.
func (m *Mapped) ReadInto(off uint64, buf []byte) int {
	n := fill(m.data, off, buf)
	return n
}

// WriteU8 stores v at off.
func (m *Mapped) WriteU8(off uint64, v byte) error {
	if off >= uint64(len(m.data)) {
		return fmt.Errorf("write at %#x: %w", off, ErrOutOfRange)
	}
	m.data[off] = v
	return nil
}

// Flush syncs dirty pages back to the file.
func (m *Mapped) Flush() error {
	return m.data.Flush()
}

// Close unmaps and closes the file.
func (m *Mapped) Close() error {
	err := m.data.Unmap()
	if cerr := m.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// fill copies data[off:] into buf and zeroes the remainder.
// Returns the number of bytes copied from data.
func fill(data []byte, off uint64, buf []byte) int {
	if off >= uint64(len(data)) {
		for i := range buf {
			buf[i] = 0
		}
		return 0
	}
	n := copy(buf, data[off:])
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return n
}
