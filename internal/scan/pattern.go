// Package scan implements signature scanning over byte ranges: wildcard
// pattern parsing, exact and wildcard search with Boyer-Moore-Horspool
// acceleration, and Shannon entropy analysis. Everything here is pure and
// stateless.
package scan

import (
	"fmt"
	"strconv"
	"strings"
)

// PatternByte is one position of a parsed pattern: a concrete byte value or
// a wildcard that matches any byte.
type PatternByte struct {
	Value    byte
	Wildcard bool
}

// Match is one occurrence of a signature in the file, in absolute file
// coordinates.
type Match struct {
	Offset  uint64
	Name    string
	Pattern string
	Length  int
}

// ParsePattern parses a whitespace-separated pattern. Each token is either a
// two-digit hex byte or a wildcard ("??" or "?"). Empty input yields an
// empty pattern, which matches nothing.
func ParsePattern(text string) ([]PatternByte, error) {
	fields := strings.Fields(text)
	pat := make([]PatternByte, 0, len(fields))
	for _, tok := range fields {
		if tok == "??" || tok == "?" {
			pat = append(pat, PatternByte{Wildcard: true})
			continue
		}
		if len(tok) != 2 {
			return nil, fmt.Errorf("pattern token %q: want two hex digits", tok)
		}
		v, err := strconv.ParseUint(tok, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("pattern token %q: %w", tok, err)
		}
		pat = append(pat, PatternByte{Value: byte(v)})
	}
	return pat, nil
}

// MustPattern parses text and panics on error. For built-in signature tables.
func MustPattern(text string) []PatternByte {
	pat, err := ParsePattern(text)
	if err != nil {
		panic(err)
	}
	return pat
}

// HasWildcard reports whether any position of pat is a wildcard.
func HasWildcard(pat []PatternByte) bool {
	for _, p := range pat {
		if p.Wildcard {
			return true
		}
	}
	return false
}

// FormatPattern renders pat back to its textual form.
func FormatPattern(pat []PatternByte) string {
	var sb strings.Builder
	for i, p := range pat {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if p.Wildcard {
			sb.WriteString("??")
		} else {
			fmt.Fprintf(&sb, "%02X", p.Value)
		}
	}
	return sb.String()
}
