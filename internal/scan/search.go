package scan

import (
	"bytes"

	"github.com/pumpkin-bit/euva/internal/bytesource"
)

// chunkSize is the window used when scanning a ByteSource larger than we
// want to hold in memory. Windows overlap by len(pattern)-1 bytes so matches
// straddling a boundary are not missed.
const chunkSize = 1 << 20

// FindAll returns every position in data where pat matches, including
// overlapping occurrences.
func FindAll(data []byte, pat []PatternByte, name string) []Match {
	if len(pat) == 0 || len(data) < len(pat) {
		return nil
	}
	var out []Match
	text := FormatPattern(pat)
	for _, i := range findIndices(data, pat) {
		out = append(out, Match{
			Offset:  uint64(i),
			Name:    name,
			Pattern: text,
			Length:  len(pat),
		})
	}
	return out
}

// FindFirst returns the first position where pat matches.
func FindFirst(data []byte, pat []PatternByte) (uint64, bool) {
	if len(pat) == 0 || len(data) < len(pat) {
		return 0, false
	}
	if !HasWildcard(pat) {
		if i := bytes.Index(data, concrete(pat)); i >= 0 {
			return uint64(i), true
		}
		return 0, false
	}
	tab := shiftTable(pat)
	if i := bmhNext(data, 0, pat, &tab); i >= 0 {
		return uint64(i), true
	}
	return 0, false
}

// FindInRange searches data[off:off+size) and returns matches with offsets
// adjusted to absolute file coordinates. The range is clamped to data.
func FindInRange(data []byte, off, size uint64, pat []PatternByte, name string) []Match {
	if off >= uint64(len(data)) {
		return nil
	}
	end := off + size
	if end > uint64(len(data)) {
		end = uint64(len(data))
	}
	matches := FindAll(data[off:end], pat, name)
	for i := range matches {
		matches[i].Offset += off
	}
	return matches
}

// FindFirstInSource scans a ByteSource chunk-by-chunk and returns the first
// match offset.
func FindFirstInSource(src bytesource.ByteSource, pat []PatternByte) (uint64, bool) {
	n := len(pat)
	if n == 0 || uint64(n) > src.Len() {
		return 0, false
	}
	buf := make([]byte, chunkSize)
	step := uint64(chunkSize - (n - 1))
	for pos := uint64(0); pos < src.Len(); pos += step {
		read := src.ReadInto(pos, buf)
		window := buf[:read]
		if off, ok := FindFirst(window, pat); ok {
			return pos + off, true
		}
		if uint64(read) < uint64(chunkSize) {
			break // final window
		}
	}
	return 0, false
}

// FindAllInSource scans a ByteSource chunk-by-chunk and returns every match.
// A match is attributed to the window it starts in; starts inside the
// trailing overlap are left for the next window.
func FindAllInSource(src bytesource.ByteSource, pat []PatternByte, name string) []Match {
	n := len(pat)
	if n == 0 || uint64(n) > src.Len() {
		return nil
	}
	var out []Match
	buf := make([]byte, chunkSize)
	step := uint64(chunkSize - (n - 1))
	for pos := uint64(0); pos < src.Len(); pos += step {
		read := src.ReadInto(pos, buf)
		window := buf[:read]
		full := read == chunkSize
		for _, m := range FindAll(window, pat, name) {
			if full && m.Offset >= step {
				continue // next window owns this start
			}
			m.Offset += pos
			out = append(out, m)
		}
		if read < chunkSize {
			break
		}
	}
	return out
}

// findIndices returns every match start. Exact patterns use a plain
// subsequence search; wildcard patterns use BMH with a shift table in which
// wildcard positions contribute no skip.
func findIndices(data []byte, pat []PatternByte) []int {
	var out []int
	if !HasWildcard(pat) {
		needle := concrete(pat)
		for i := 0; ; {
			j := bytes.Index(data[i:], needle)
			if j < 0 {
				break
			}
			out = append(out, i+j)
			i += j + 1 // overlapping matches
		}
		return out
	}

	tab := shiftTable(pat)
	for i := 0; ; {
		j := bmhNext(data, i, pat, &tab)
		if j < 0 {
			break
		}
		out = append(out, j)
		i = j + 1
	}
	return out
}

// bmhNext returns the first match start at or after from, or -1.
func bmhNext(data []byte, from int, pat []PatternByte, tab *[256]int) int {
	n := len(pat)
	for i := from; i+n <= len(data); {
		if matchAt(data, i, pat) {
			return i
		}
		i += tab[data[i+n-1]]
	}
	return -1
}

// shiftTable builds the bad-character table. Positions are visited left to
// right so the rightmost occurrence wins; a wildcard matches every byte, so
// it caps the shift for all 256 entries.
func shiftTable(pat []PatternByte) [256]int {
	n := len(pat)
	var tab [256]int
	for i := range tab {
		tab[i] = n
	}
	for i := 0; i < n-1; i++ {
		if pat[i].Wildcard {
			for j := range tab {
				tab[j] = n - 1 - i
			}
			continue
		}
		tab[pat[i].Value] = n - 1 - i
	}
	return tab
}

func matchAt(data []byte, i int, pat []PatternByte) bool {
	for j, p := range pat {
		if !p.Wildcard && data[i+j] != p.Value {
			return false
		}
	}
	return true
}

func concrete(pat []PatternByte) []byte {
	out := make([]byte, len(pat))
	for i, p := range pat {
		out[i] = p.Value
	}
	return out
}
