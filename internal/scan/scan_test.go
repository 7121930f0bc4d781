package scan

import (
	"bytes"
	"math"
	"testing"

	"github.com/pumpkin-bit/euva/internal/bytesource"
	"github.com/pumpkin-bit/euva/internal/pestruct"
)

func TestParsePattern(t *testing.T) {
	pat, err := ParsePattern("55 50 ?? 21 ?")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	want := []PatternByte{
		{Value: 0x55}, {Value: 0x50}, {Wildcard: true}, {Value: 0x21}, {Wildcard: true},
	}
	if len(pat) != len(want) {
		t.Fatalf("len = %d, want %d", len(pat), len(want))
	}
	for i := range want {
		if pat[i] != want[i] {
			t.Errorf("pat[%d] = %+v, want %+v", i, pat[i], want[i])
		}
	}
}

func TestParsePatternEmpty(t *testing.T) {
	pat, err := ParsePattern("   ")
	if err != nil {
		t.Fatalf("ParsePattern: %v", err)
	}
	if len(pat) != 0 {
		t.Fatalf("len = %d, want 0", len(pat))
	}
}

func TestParsePatternInvalid(t *testing.T) {
	for _, text := range []string{"GG", "5", "555", "55 ZZ"} {
		if _, err := ParsePattern(text); err == nil {
			t.Errorf("ParsePattern(%q) did not fail", text)
		}
	}
}

func TestFindFirstExact(t *testing.T) {
	data := []byte{0x00, 0xDE, 0xAD, 0xDE, 0xAD, 0xBE, 0xEF}
	pat := MustPattern("DE AD BE")

	off, ok := FindFirst(data, pat)
	if !ok || off != 3 {
		t.Fatalf("FindFirst = (%d, %v), want (3, true)", off, ok)
	}

	if _, ok := FindFirst(data, MustPattern("CA FE")); ok {
		t.Error("FindFirst matched absent pattern")
	}
}

func TestFindAllOverlapping(t *testing.T) {
	data := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	matches := FindAll(data, MustPattern("AA AA"), "run")
	if len(matches) != 3 {
		t.Fatalf("got %d matches, want 3 (overlapping)", len(matches))
	}
	for i, m := range matches {
		if m.Offset != uint64(i) {
			t.Errorf("match %d at %d", i, m.Offset)
		}
		if m.Name != "run" || m.Length != 2 {
			t.Errorf("match %d metadata: %+v", i, m)
		}
	}
}

func TestFindWildcard(t *testing.T) {
	data := []byte{0x55, 0x00, 0x58, 0x55, 0x99, 0x58, 0x55, 0x50}
	pat := MustPattern("55 ?? 58")

	matches := FindAll(data, pat, "sig")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Offset != 0 || matches[1].Offset != 3 {
		t.Errorf("offsets = %d, %d", matches[0].Offset, matches[1].Offset)
	}

	// Every non-wildcard position equals the pattern byte.
	for _, m := range matches {
		for j, p := range pat {
			if !p.Wildcard && data[m.Offset+uint64(j)] != p.Value {
				t.Errorf("match at %d disagrees at position %d", m.Offset, j)
			}
		}
	}
}

func TestFindWildcardLeading(t *testing.T) {
	// A leading wildcard caps every shift; this catches over-skipping.
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x02, 0x09}
	matches := FindAll(data, MustPattern("?? 02"), "lead")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Offset != 0 || matches[1].Offset != 3 {
		t.Errorf("offsets = %d, %d", matches[0].Offset, matches[1].Offset)
	}
}

func TestFindInRange(t *testing.T) {
	data := []byte{0x90, 0x90, 0xC3, 0x90, 0x90, 0xC3}
	matches := FindInRange(data, 3, 3, MustPattern("90 C3"), "tail")
	if len(matches) != 1 {
		t.Fatalf("got %d matches, want 1", len(matches))
	}
	if matches[0].Offset != 4 {
		t.Errorf("offset = %d, want 4 (absolute)", matches[0].Offset)
	}

	// Range clamped to data; out-of-range start yields nothing.
	if m := FindInRange(data, 100, 10, MustPattern("90"), "x"); m != nil {
		t.Errorf("out-of-range search returned %v", m)
	}
}

func TestFindInSourceStraddle(t *testing.T) {
	// Place a match across the chunk boundary to exercise the overlap.
	data := make([]byte, chunkSize+64)
	needle := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	copy(data[chunkSize-2:], needle)
	copy(data[10:], needle)
	src := bytesource.NewBuffer(data)

	pat := MustPattern("DE AD BE EF")
	off, ok := FindFirstInSource(src, pat)
	if !ok || off != 10 {
		t.Fatalf("FindFirstInSource = (%d, %v), want (10, true)", off, ok)
	}

	matches := FindAllInSource(src, pat, "straddle")
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].Offset != 10 || matches[1].Offset != uint64(chunkSize-2) {
		t.Errorf("offsets = %d, %d", matches[0].Offset, matches[1].Offset)
	}
}

func TestFindInSourceSmall(t *testing.T) {
	src := bytesource.NewBuffer([]byte{0x11, 0x22, 0x33})
	off, ok := FindFirstInSource(src, MustPattern("22 33"))
	if !ok || off != 1 {
		t.Fatalf("FindFirstInSource = (%d, %v), want (1, true)", off, ok)
	}
	if _, ok := FindFirstInSource(src, MustPattern("44")); ok {
		t.Error("matched absent byte")
	}
}

func TestEntropyBounds(t *testing.T) {
	if e := Entropy(nil); e != 0 {
		t.Errorf("Entropy(nil) = %f", e)
	}
	if e := Entropy(bytes.Repeat([]byte{0x41}, 1024)); e != 0 {
		t.Errorf("Entropy(single byte) = %f, want 0", e)
	}

	// All 256 values equally likely: exactly 8 bits per byte.
	data := make([]byte, 256)
	for i := range data {
		data[i] = byte(i)
	}
	if e := Entropy(data); math.Abs(e-8.0) > 1e-9 {
		t.Errorf("Entropy(uniform) = %f, want 8.0", e)
	}

	// Two symbols, equal frequency: exactly 1 bit.
	if e := Entropy([]byte{0, 1, 0, 1}); math.Abs(e-1.0) > 1e-9 {
		t.Errorf("Entropy(two symbols) = %f, want 1.0", e)
	}
}

func TestEntropyByRegion(t *testing.T) {
	data := make([]byte, 0x40)
	for i := 0x20; i < 0x40; i++ {
		data[i] = byte(i) // varied tail
	}
	regions := []pestruct.Region{
		{Name: ".text", Kind: pestruct.KindCode, Offset: 0, Size: 0x20},
		{Name: ".data", Kind: pestruct.KindData, Offset: 0x20, Size: 0x20},
		{Name: "hdr", Kind: pestruct.KindHeader, Offset: 0, Size: 0x10},
		{Name: "far", Kind: pestruct.KindCode, Offset: 0x30, Size: 0x40},
	}

	got := EntropyByRegion(data, regions)
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2: %v", len(got), got)
	}
	if got[".text"] != 0 {
		t.Errorf(".text entropy = %f, want 0", got[".text"])
	}
	if got[".data"] != 5.0 {
		t.Errorf(".data entropy = %f, want 5.0", got[".data"])
	}
}
