package bytesource

import "fmt"

// Buffer is an in-memory ByteSource. Suitable for small inputs and tests;
// Flush and Close are no-ops.
type Buffer struct {
	data []byte
}

// NewBuffer wraps data. The buffer takes ownership of the slice.
func NewBuffer(data []byte) *Buffer {
	return &Buffer{data: data}
}

// Len returns the buffer length.
func (b *Buffer) Len() uint64 {
	return uint64(len(b.data))
}

// ReadU8 returns the byte at off, or 0 when off is out of range.
func (b *Buffer) ReadU8(off uint64) byte {
	if off >= uint64(len(b.data)) {
		return 0
	}
	return b.data[off]
}

// ReadInto fills buf from the buffer; bytes past the end are zeroed.
func (b *Buffer) ReadInto(off uint64, buf []byte) int {
	return fill(b.data, off, buf)
}

// WriteU8 stores v at off.
func (b *Buffer) WriteU8(off uint64, v byte) error {
	if off >= uint64(len(b.data)) {
		return fmt.Errorf("write at %#x: %w", off, ErrOutOfRange)
	}
	b.data[off] = v
	return nil
}

// Flush is a no-op.
func (b *Buffer) Flush() error { return nil }

// Close is a no-op.
func (b *Buffer) Close() error { return nil }

// Bytes exposes the underlying slice.
func (b *Buffer) Bytes() []byte { return b.data }
