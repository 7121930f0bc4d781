// Package undo implements the per-byte undo journal for patch runs. The
// journal is the serialization point between user-initiated undo and script
// write recording: every operation holds the journal mutex, and restores go
// back through the same ByteSource the writes came from.
package undo

import (
	"sync"

	"github.com/pumpkin-bit/euva/internal/bytesource"
)

// Entry records one byte write: the offset, the byte it replaced, and the
// byte written.
type Entry struct {
	Offset uint64
	Old    byte
	New    byte
}

// Journal holds the undo history for one loaded file. Two stacks: byte
// entries, and transaction boundaries counting consecutive entries that
// belong to one script run.
type Journal struct {
	mu           sync.Mutex
	src          bytesource.ByteSource
	entries      []Entry
	transactions []int
}

// New creates a journal restoring through src.
func New(src bytesource.ByteSource) *Journal {
	return &Journal{src: src}
}

// Record pushes one write onto the entry stack.
func (j *Journal) Record(off uint64, old, new byte) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, Entry{Offset: off, Old: old, New: new})
}

// Commit pushes a transaction boundary covering the last n entries.
// Non-positive n is ignored.
func (j *Journal) Commit(n int) {
	if n <= 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.transactions = append(j.transactions, n)
}

// UndoOne pops one entry and writes its old byte back. Returns the restored
// entry, or false when the stack is empty.
func (j *Journal) UndoOne() (Entry, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.undoOneLocked()
}

// UndoTransaction pops one boundary and restores that many entries.
// Returns the number restored; 0 when no boundary is recorded.
func (j *Journal) UndoTransaction() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.transactions) == 0 {
		return 0
	}
	n := j.transactions[len(j.transactions)-1]
	j.transactions = j.transactions[:len(j.transactions)-1]

	restored := 0
	for i := 0; i < n; i++ {
		if _, ok := j.undoOneLocked(); !ok {
			break
		}
		restored++
	}
	return restored
}

func (j *Journal) undoOneLocked() (Entry, bool) {
	if len(j.entries) == 0 {
		return Entry{}, false
	}
	e := j.entries[len(j.entries)-1]
	j.entries = j.entries[:len(j.entries)-1]
	j.src.WriteU8(e.Offset, e.Old)
	return e, true
}

// Depth returns the number of pending entries.
func (j *Journal) Depth() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Transactions returns the number of pending boundaries.
func (j *Journal) Transactions() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.transactions)
}
