package script

import (
	"bytes"
	"context"
	"testing"

	"github.com/pumpkin-bit/euva/internal/bytesource"
	"github.com/pumpkin-bit/euva/internal/undo"
)

func newTestEngine(data []byte) (*Engine, *bytesource.Buffer, *undo.Journal) {
	src := bytesource.NewBuffer(data)
	journal := undo.New(src)
	eng := NewEngine(src, journal, nil)
	eng.Dirty = bytesource.NewDirtySet()
	return eng, src, journal
}

func TestRunSignatureMissSkipsWrites(t *testing.T) {
	eng, src, journal := newTestEngine(make([]byte, 64))

	report, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	find(X = DE AD BE EF)
	X : nop
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if report.Writes != 0 {
		t.Errorf("writes = %d, want 0", report.Writes)
	}
	if journal.Depth() != 0 || journal.Transactions() != 0 {
		t.Errorf("journal = %d entries, %d boundaries", journal.Depth(), journal.Transactions())
	}
	if !report.Has(TagNotFound) {
		t.Error("no not-found event")
	}
	skips := report.Tagged(TagSkip)
	if len(skips) != 1 || skips[0].Detail != "skipped due to missing signature" {
		t.Errorf("skip events = %+v", skips)
	}
	for i := uint64(0); i < src.Len(); i++ {
		if src.ReadU8(i) != 0 {
			t.Fatalf("byte %d modified", i)
		}
	}
}

func TestRunJmpRelocation(t *testing.T) {
	eng, src, _ := newTestEngine(make([]byte, 0x401010))

	report, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	(0x00401000) : jmp 0x00402000
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Writes != 5 {
		t.Fatalf("writes = %d, want 5", report.Writes)
	}

	want := []byte{0xE9, 0xFB, 0x0F, 0x00, 0x00}
	got := make([]byte, 5)
	src.ReadInto(0x401000, got)
	if !bytes.Equal(got, want) {
		t.Errorf("bytes at 0x401000 = % X, want % X", got, want)
	}
}

func TestRunFindAndPatch(t *testing.T) {
	data := make([]byte, 256)
	copy(data[0x40:], []byte{0x55, 0x8B, 0xEC})
	eng, src, journal := newTestEngine(data)

	var selected []uint64
	eng.OnOffset = func(off uint64) { selected = append(selected, off) }

	report, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	find(entry = 55 8B EC)
	check entry : 55 8B EC
	entry : ret
	set(next = entry + 1)
	next : 90 90
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if src.ReadU8(0x40) != 0xC3 || src.ReadU8(0x41) != 0x90 || src.ReadU8(0x42) != 0x90 {
		t.Errorf("bytes = %02X %02X %02X", src.ReadU8(0x40), src.ReadU8(0x41), src.ReadU8(0x42))
	}
	if report.Writes != 3 {
		t.Errorf("writes = %d, want 3", report.Writes)
	}
	if journal.Transactions() != 1 {
		t.Errorf("boundaries = %d, want 1", journal.Transactions())
	}
	if len(selected) != 2 || selected[0] != 0x40 || selected[1] != 0x41 {
		t.Errorf("offset events = %v", selected)
	}

	// Dirty offsets published after the run.
	snap := eng.Dirty.Snapshot()
	for _, off := range []uint64{0x40, 0x41, 0x42} {
		if _, ok := snap[off]; !ok {
			t.Errorf("dirty snapshot missing %#x", off)
		}
	}
}

func TestRunTransactionalUndo(t *testing.T) {
	orig := make([]byte, 32)
	for i := range orig {
		orig[i] = byte(i)
	}
	eng, src, journal := newTestEngine(append([]byte(nil), orig...))

	// One run, four bytes across two commands.
	_, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	(4) : AA BB
	(8) : CC DD
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Single undo restores exactly the last byte.
	e, ok := journal.UndoOne()
	if !ok || e.Offset != 9 {
		t.Fatalf("UndoOne = %+v, %v", e, ok)
	}
	if src.ReadU8(9) != 9 {
		t.Errorf("byte 9 = %#x", src.ReadU8(9))
	}
	// Three more restore the rest in reverse order.
	for i := 0; i < 3; i++ {
		if _, ok := journal.UndoOne(); !ok {
			t.Fatalf("UndoOne %d failed", i)
		}
	}
	for i, want := range orig {
		if got := src.ReadU8(uint64(i)); got != want {
			t.Errorf("byte %d = %#x, want %#x", i, got, want)
		}
	}
}

func TestRunUndoTransactionWholeRun(t *testing.T) {
	orig := make([]byte, 32)
	for i := range orig {
		orig[i] = byte(0xF0 + i&0xF)
	}
	eng, src, journal := newTestEngine(append([]byte(nil), orig...))

	_, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	(4) : AA BB
	(8) : CC DD
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := journal.UndoTransaction(); n != 4 {
		t.Fatalf("UndoTransaction = %d, want 4", n)
	}
	for i, want := range orig {
		if got := src.ReadU8(uint64(i)); got != want {
			t.Errorf("byte %d = %#x, want %#x", i, got, want)
		}
	}
}

func TestRunCheckMismatch(t *testing.T) {
	eng, src, _ := newTestEngine(make([]byte, 16))

	report, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	check (0) : 55 8B
	(4) : AA
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The mismatch returns from the check command only; the next command
	// still executes.
	if !report.Has(TagCheckFail) {
		t.Error("no check-fail event")
	}
	if src.ReadU8(4) != 0xAA {
		t.Error("command after failed check did not run")
	}
}

func TestRunCheckWildcard(t *testing.T) {
	data := make([]byte, 16)
	data[0], data[1], data[2] = 0x55, 0x99, 0xEC
	eng, _, _ := newTestEngine(data)

	report, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	check (0) : 55 ?? EC
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Has(TagCheckFail) {
		t.Error("wildcard position failed the check")
	}
}

func TestRunClinkExports(t *testing.T) {
	data := make([]byte, 64)
	copy(data[0x20:], []byte{0xCA, 0xFE})
	eng, src, _ := newTestEngine(data)

	report, err := eng.Run(context.Background(), `
start;
public:
_createMethod(Locate)
{
	find(hit = CA FE)
	set(ghost = hit * 2)
	clink: [
		hit,
		missing
	]
}
_createMethod(Apply)
{
	Locate.hit : ret
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The exported offset is visible to the second method.
	if src.ReadU8(0x20) != 0xC3 {
		t.Errorf("byte at 0x20 = %#x, want ret", src.ReadU8(0x20))
	}
	// The unbound export warns but does not abort.
	warns := report.Tagged(TagWarn)
	if len(warns) != 1 || warns[0].Detail != "export not bound: Locate.missing" {
		t.Errorf("warnings = %+v", warns)
	}
	// Exactly one byte was written: the ret at the exported offset.
	if report.Writes != 1 {
		t.Errorf("writes = %d", report.Writes)
	}
}

func TestRunStringAndHexPayloads(t *testing.T) {
	eng, src, _ := newTestEngine(make([]byte, 32))

	_, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	(0) : "Hi!"
	(8) : 90 C3
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := make([]byte, 3)
	src.ReadInto(0, got)
	if !bytes.Equal(got, []byte("Hi!")) {
		t.Errorf("string payload = % X", got)
	}
	if src.ReadU8(8) != 0x90 || src.ReadU8(9) != 0xC3 {
		t.Errorf("hex payload = %02X %02X", src.ReadU8(8), src.ReadU8(9))
	}
}

func TestRunLastAddress(t *testing.T) {
	eng, src, _ := newTestEngine(make([]byte, 32))

	// "." is the end of the previous write: 2 + 2 = offset 4.
	_, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	(2) : AA BB
	. : CC
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if src.ReadU8(4) != 0xCC {
		t.Errorf("byte 4 = %#x, want 0xCC", src.ReadU8(4))
	}
}

func TestRunOutOfRangeWrite(t *testing.T) {
	eng, _, journal := newTestEngine(make([]byte, 8))

	report, err := eng.Run(context.Background(), `
start;
public:
_createMethod(M)
{
	(100) : nop
	(6) : AA BB CC
}
end;
`)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Both commands skip: address past end, and payload spilling past end.
	if len(report.Tagged(TagSkip)) != 2 {
		t.Errorf("skips = %+v", report.Tagged(TagSkip))
	}
	if report.Writes != 0 || journal.Depth() != 0 {
		t.Errorf("writes = %d, journal = %d", report.Writes, journal.Depth())
	}
}

func TestRunParseErrorNoWrites(t *testing.T) {
	eng, _, journal := newTestEngine(make([]byte, 8))

	_, err := eng.Run(context.Background(), "start;\n_createMethod(M)\n{\n(0) : AA\n}\n")
	if err == nil {
		t.Fatal("missing end; accepted")
	}
	if journal.Depth() != 0 {
		t.Error("parse error still wrote")
	}
}

func TestRunNoSource(t *testing.T) {
	eng := NewEngine(nil, nil, nil)
	if _, err := eng.Run(context.Background(), "start;\nend;\n"); err == nil {
		t.Fatal("run without a loaded file accepted")
	}
}
