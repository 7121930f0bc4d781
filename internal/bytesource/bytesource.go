// Package bytesource provides byte-addressable mutable stores over a target
// file. Every other component reads and writes the loaded binary through the
// ByteSource interface; the implementation owns the file handle for the
// lifetime of the loaded file.
package bytesource

import "errors"

// ErrOutOfRange is returned for writes outside [0, Len).
// Out-of-range reads do not error; they return zero bytes.
var ErrOutOfRange = errors.New("offset out of range")

// ByteSource is a byte-addressable mutable store.
//
// Reads are safe to issue from any goroutine. Writes are serialized by the
// caller; the script engine, undo journal, and host each hold a single writer
// at a time.
type ByteSource interface {
	// Len returns the store length in bytes.
	Len() uint64
	// ReadU8 returns the byte at off, or 0 when off is out of range.
	ReadU8(off uint64) byte
	// ReadInto fills buf starting at off and returns the number of bytes
	// actually read from the store. Bytes past the end are zeroed.
	ReadInto(off uint64, buf []byte) int
	// WriteU8 stores v at off. Fails with ErrOutOfRange outside [0, Len).
	WriteU8(off uint64, v byte) error
	// Flush pushes pending writes to the backing store.
	Flush() error
	// Close releases the backing store. The source is unusable afterwards.
	Close() error
}

// OffsetFunc receives offset-selection events. The script engine publishes
// the address of each patch through it (Engine.OnOffset) so a host can
// navigate there; a nil callback is ignored. The PE mapper publishes no
// offsets.
type OffsetFunc func(off uint64)

// ReadAll copies the whole source into memory. Detectors and the signature
// scanner operate on plain byte slices; this is the bridge for files that fit.
func ReadAll(src ByteSource) []byte {
	buf := make([]byte, src.Len())
	src.ReadInto(0, buf)
	return buf
}
