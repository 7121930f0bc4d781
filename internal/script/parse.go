// Package script parses and executes .euv patch programs. A program is
// line-oriented UTF-8 bracketed by "start;" and "end;", holding method
// declarations whose bodies locate addresses by signature, assemble inline
// x86, and commit byte edits through the undo journal.
package script

import (
	"fmt"
	"strings"
)

// Access is a method's visibility modifier. It is carried through from the
// source; execution ignores it.
type Access int

const (
	Private Access = iota
	Public
)

func (a Access) String() string {
	if a == Public {
		return "public"
	}
	return "private"
}

// Method is one parsed method: ordered body lines plus the clink export set
// copied to global scope after the body runs.
type Method struct {
	Name    string
	Access  Access
	Body    []string
	Exports []string
}

// Program is a parsed .euv script.
type Program struct {
	Methods []*Method
}

// reservedNames cannot be used as variable names; the grammar does not
// reserve keywords, so the parser enforces it.
var reservedNames = map[string]bool{
	"find": true, "set": true, "check": true, "start": true, "end": true,
}

// Parse parses source text. Missing "start;" or "end;" is a fatal parse
// error; so is a reserved word used as a variable name.
func Parse(source string) (*Program, error) {
	prog := &Program{}

	const (
		outside = iota
		inside
		inMethod
		inExports
	)
	state := outside
	access := Private
	var method *Method
	sawEnd := false

	lines := strings.Split(source, "\n")
	for lineNo, raw := range lines {
		line := collapse(stripComment(raw))
		if line == "" {
			continue
		}

		switch state {
		case outside:
			if line == "start;" {
				state = inside
			}
			// Everything before start; is ignored.

		case inside:
			switch {
			case line == "end;":
				sawEnd = true
			case sawEnd:
				// Trailing content after end; is ignored.
			case line == "public:":
				access = Public
			case line == "private:":
				access = Private
			case strings.HasPrefix(line, "_createMethod("):
				// The opening brace may share the line.
				decl := strings.TrimSpace(strings.TrimSuffix(line, "{"))
				if !strings.HasSuffix(decl, ")") {
					return nil, fmt.Errorf("line %d: malformed _createMethod", lineNo+1)
				}
				name := strings.TrimSpace(decl[len("_createMethod(") : len(decl)-1])
				if name == "" {
					return nil, fmt.Errorf("line %d: _createMethod with empty name", lineNo+1)
				}
				method = &Method{Name: name, Access: access}
				state = inMethod
			default:
				return nil, fmt.Errorf("line %d: unexpected %q outside a method", lineNo+1, line)
			}

		case inMethod:
			switch {
			case line == "{":
				// Opening brace, ignored.
			case line == "}":
				prog.Methods = append(prog.Methods, method)
				method = nil
				state = inside
			case line == "clink:" || strings.Contains(line, "["):
				names, closed := exportNames(line)
				method.Exports = append(method.Exports, names...)
				if !closed {
					state = inExports
				}
			default:
				if err := checkReserved(line, lineNo+1); err != nil {
					return nil, err
				}
				method.Body = append(method.Body, line)
			}

		case inExports:
			names, closed := exportNames(line)
			method.Exports = append(method.Exports, names...)
			if closed {
				state = inMethod
			}
		}
	}

	if state == outside {
		return nil, fmt.Errorf("missing start; token")
	}
	if state == inMethod || state == inExports {
		return nil, fmt.Errorf("method %s not closed", method.Name)
	}
	if !sawEnd {
		return nil, fmt.Errorf("missing end; token")
	}
	return prog, nil
}

// exportNames pulls comma-separated names out of one physical line of an
// export list, stripping the brackets and the clink: prefix. closed reports
// whether the terminating "]" was seen.
func exportNames(line string) (names []string, closed bool) {
	s := strings.TrimPrefix(line, "clink:")
	if i := strings.IndexByte(s, '['); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, ']'); i >= 0 {
		s, closed = s[:i], true
	}
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names, closed
}

// checkReserved rejects find/set lines that bind a reserved word.
func checkReserved(line string, lineNo int) error {
	for _, prefix := range []string{"find(", "set("} {
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		rest := line[len(prefix):]
		eq := strings.IndexByte(rest, '=')
		if eq < 0 {
			continue // malformed; execution logs and skips it
		}
		name := strings.TrimSpace(rest[:eq])
		if reservedNames[name] {
			return fmt.Errorf("line %d: %q is a reserved word", lineNo, name)
		}
	}
	return nil
}

// stripComment cuts a # or // comment that begins a token. A marker inside
// a token (e.g. a quoted string or a path) is left alone.
func stripComment(line string) string {
	for i := 0; i < len(line); i++ {
		atStart := i == 0 || line[i-1] == ' ' || line[i-1] == '\t'
		if !atStart {
			continue
		}
		if line[i] == '#' || strings.HasPrefix(line[i:], "//") {
			return line[:i]
		}
	}
	return line
}

// collapse trims the line and folds runs of whitespace into single spaces.
func collapse(line string) string {
	return strings.Join(strings.Fields(line), " ")
}
