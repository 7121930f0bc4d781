package bytesource

import "sync/atomic"

// DirtySet tracks modified offsets and publishes them to readers by snapshot
// swap: the writer mutates a private set and publishes an immutable copy by
// atomic pointer assignment. Readers observe either the old or the new
// snapshot, never a torn one, and tolerate one frame of staleness.
//
// The writer side is single-threaded (the ByteSource owner); only Snapshot is
// safe to call from other goroutines.
type DirtySet struct {
	pending   map[uint64]struct{}
	published atomic.Pointer[map[uint64]struct{}]
}

// NewDirtySet returns an empty set with an empty published snapshot.
func NewDirtySet() *DirtySet {
	d := &DirtySet{pending: make(map[uint64]struct{})}
	empty := map[uint64]struct{}{}
	d.published.Store(&empty)
	return d
}

// Mark records off as modified. Not visible to readers until Publish.
func (d *DirtySet) Mark(off uint64) {
	d.pending[off] = struct{}{}
}

// MarkRange records [off, off+n) as modified.
func (d *DirtySet) MarkRange(off, n uint64) {
	for i := uint64(0); i < n; i++ {
		d.pending[off+i] = struct{}{}
	}
}

// Unmark removes off, typically after an undo restored the original byte.
func (d *DirtySet) Unmark(off uint64) {
	delete(d.pending, off)
}

// Publish swaps in a new immutable snapshot of the pending set.
func (d *DirtySet) Publish() {
	snap := make(map[uint64]struct{}, len(d.pending))
	for off := range d.pending {
		snap[off] = struct{}{}
	}
	d.published.Store(&snap)
}

// Snapshot returns the last published set. The returned map must be treated
// as read-only. Lock-free.
func (d *DirtySet) Snapshot() map[uint64]struct{} {
	return *d.published.Load()
}

// Reset clears the pending set and publishes the empty state.
func (d *DirtySet) Reset() {
	d.pending = make(map[uint64]struct{})
	d.Publish()
}
