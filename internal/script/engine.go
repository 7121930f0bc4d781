package script

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/arch/x86/x86asm"

	"github.com/pumpkin-bit/euva/internal/asm"
	"github.com/pumpkin-bit/euva/internal/bytesource"
	"github.com/pumpkin-bit/euva/internal/expr"
	"github.com/pumpkin-bit/euva/internal/log"
	"github.com/pumpkin-bit/euva/internal/scan"
	"github.com/pumpkin-bit/euva/internal/undo"
)

// Engine executes parsed .euv programs against a ByteSource. The engine runs
// on a worker goroutine; writes go through the shared ByteSource, each one
// recorded in the journal before it lands, and the dirty set is published
// once at end of run. The undo mutex is never held across a write.
type Engine struct {
	Src     bytesource.ByteSource
	Journal *undo.Journal
	Dirty   *bytesource.DirtySet
	Logger  *log.Logger
	// OnOffset, when set, receives the address of every patched command.
	OnOffset bytesource.OffsetFunc
}

// NewEngine wires an engine over src.
func NewEngine(src bytesource.ByteSource, journal *undo.Journal, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Engine{Src: src, Journal: journal, Logger: logger}
}

// RunFile reads and runs a script file.
func (e *Engine) RunFile(ctx context.Context, path string) (*Report, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		e.Logger.Error("script unreadable: " + err.Error())
		return nil, fmt.Errorf("read script: %w", err)
	}
	report, err := e.Run(ctx, string(source))
	if report != nil {
		e.Logger.ScriptRun(report.ID, path)
	}
	return report, err
}

// Run parses and executes source. Parse errors abort before any write. A
// cancelled context stops execution between commands; the writes already
// performed are committed as one transaction so a full undo stays possible.
func (e *Engine) Run(ctx context.Context, source string) (*Report, error) {
	if e.Src == nil {
		e.Logger.Error("no file loaded")
		return nil, fmt.Errorf("no file loaded")
	}

	prog, err := Parse(source)
	if err != nil {
		e.Logger.Error("script parse: " + err.Error())
		return nil, err
	}

	id := uuid.NewString()
	run := &runState{
		engine: e,
		logger: e.Logger.WithRun(id),
		global: make(map[string]int64),
		report: &Report{ID: id},
	}

	runErr := run.execute(ctx, prog)

	// One transaction boundary per run, covering every write that landed,
	// even on an aborted run: rollback stays exact.
	if run.report.Writes > 0 {
		e.Journal.Commit(run.report.Writes)
	}
	if e.Dirty != nil {
		e.Dirty.Publish()
	}
	return run.report, runErr
}

// runState is the mutable state of one executing run.
type runState struct {
	engine   *Engine
	logger   *log.Logger
	global   map[string]int64
	report   *Report
	lastAddr int64
}

func (r *runState) execute(ctx context.Context, prog *Program) error {
	for _, m := range prog.Methods {
		local := make(map[string]int64)
		for _, line := range m.Body {
			if err := ctx.Err(); err != nil {
				return err
			}
			r.command(line, local)
		}
		r.exportLocals(m, local)
	}
	return nil
}

// exportLocals copies clink-listed names from local to global scope as
// "Method.Name". Exports the body never bound are a warning, not an error.
func (r *runState) exportLocals(m *Method, local map[string]int64) {
	for _, name := range m.Exports {
		v, ok := local[name]
		if !ok {
			r.logger.Warn("export not bound: " + m.Name + "." + name)
			r.event(TagWarn, 0, "", "export not bound: "+m.Name+"."+name)
			continue
		}
		r.global[m.Name+"."+name] = v
		r.event(TagExport, uint64(v), "", m.Name+"."+name)
	}
}

// command dispatches one body line.
func (r *runState) command(line string, local map[string]int64) {
	switch {
	case strings.HasPrefix(line, "find(") && strings.HasSuffix(line, ")"):
		r.cmdFind(line, local)
	case strings.HasPrefix(line, "set(") && strings.HasSuffix(line, ")"):
		r.cmdSet(line, local)
	case strings.HasPrefix(line, "check "):
		r.cmdCheck(line, local)
	case strings.Contains(line, ":"):
		r.cmdWrite(line, local)
	default:
		r.logger.Skip(line, "unrecognized command")
		r.event(TagSkip, 0, line, "unrecognized command")
	}
}

// cmdFind scans the whole file for a signature and binds the first match
// offset, or Invalid on a miss.
func (r *runState) cmdFind(line string, local map[string]int64) {
	inner := line[len("find(") : len(line)-1]
	name, patText, ok := strings.Cut(inner, "=")
	if !ok {
		r.logger.Skip(line, "malformed find")
		r.event(TagSkip, 0, line, "malformed find")
		return
	}
	name = strings.TrimSpace(name)

	pat, err := scan.ParsePattern(patText)
	if err != nil || len(pat) == 0 {
		r.logger.Skip(line, "bad pattern")
		r.event(TagSkip, 0, line, "bad pattern")
		return
	}

	off, found := scan.FindFirstInSource(r.engine.Src, pat)
	if !found {
		local[name] = expr.Invalid
		r.logger.Info("not found: " + name)
		r.event(TagNotFound, 0, line, name)
		return
	}
	local[name] = int64(off)
	r.logger.Info("found: " + name + " at " + log.Hex(off))
	r.event(TagFound, off, line, name)
}

// cmdSet evaluates an expression and binds the result. Invalid propagates
// through the assignment.
func (r *runState) cmdSet(line string, local map[string]int64) {
	inner := line[len("set(") : len(line)-1]
	name, exprText, ok := strings.Cut(inner, "=")
	if !ok {
		r.logger.Skip(line, "malformed set")
		r.event(TagSkip, 0, line, "malformed set")
		return
	}
	name = strings.TrimSpace(name)

	v, err := expr.Eval(exprText, r.scope(local), r.lastAddr)
	if err != nil {
		r.logger.Skip(line, "expression: "+err.Error())
		r.event(TagSkip, 0, line, err.Error())
		return
	}
	local[name] = v
}

// cmdCheck reads bytes at an address and compares them to a literal. A
// mismatch returns from this command only; the run continues.
func (r *runState) cmdCheck(line string, local map[string]int64) {
	rest := line[len("check "):]
	addrText, bytesText, ok := strings.Cut(rest, ":")
	if !ok {
		r.logger.Skip(line, "malformed check")
		r.event(TagSkip, 0, line, "malformed check")
		return
	}

	addr, valid := r.address(addrText, line, local)
	if !valid {
		return
	}

	pat, err := scan.ParsePattern(bytesText)
	if err != nil || len(pat) == 0 {
		r.logger.Skip(line, "bad pattern")
		r.event(TagSkip, 0, line, "bad pattern")
		return
	}

	buf := make([]byte, len(pat))
	r.engine.Src.ReadInto(addr, buf)
	for i, p := range pat {
		if !p.Wildcard && buf[i] != p.Value {
			detail := fmt.Sprintf("byte %d is %02X, want %02X", i, buf[i], p.Value)
			r.logger.Warn("check failed at " + log.Hex(addr) + ": " + detail)
			r.event(TagCheckFail, addr, line, detail)
			return
		}
	}
}

// cmdWrite evaluates the address, interprets the payload, and commits the
// bytes through the journal and the byte source.
func (r *runState) cmdWrite(line string, local map[string]int64) {
	addrText, payload, _ := strings.Cut(line, ":")
	payload = strings.TrimSpace(payload)

	addr, valid := r.address(addrText, line, local)
	if !valid {
		return
	}

	data := r.payloadBytes(payload, addr)
	if len(data) == 0 {
		r.logger.Skip(line, "no interpretation for payload")
		r.event(TagSkip, 0, line, "no interpretation for payload")
		return
	}

	if addr+uint64(len(data)) > r.engine.Src.Len() {
		r.logger.Skip(line, "write out of range")
		r.event(TagSkip, addr, line, "write out of range")
		return
	}

	old := make([]byte, len(data))
	r.engine.Src.ReadInto(addr, old)

	for i, b := range data {
		off := addr + uint64(i)
		r.engine.Journal.Record(off, old[i], b)
		r.engine.Src.WriteU8(off, b)
		if r.engine.Dirty != nil {
			r.engine.Dirty.Mark(off)
		}
	}
	r.report.Writes += len(data)
	r.lastAddr = int64(addr) + int64(len(data))

	r.logger.Patch(addr, old, data)
	r.event(TagPatch, addr, line, patchDetail(old, data))

	if r.engine.OnOffset != nil {
		r.engine.OnOffset(addr)
	}
}

// address evaluates an address expression, logging and skipping on Invalid,
// evaluation failure, or out-of-range values.
func (r *runState) address(text, line string, local map[string]int64) (uint64, bool) {
	v, err := expr.Eval(text, r.scope(local), r.lastAddr)
	if err != nil {
		r.logger.Skip(line, "address: "+err.Error())
		r.event(TagSkip, 0, line, err.Error())
		return 0, false
	}
	if v == expr.Invalid {
		r.logger.Skip(line, "skipped due to missing signature")
		r.event(TagSkip, 0, line, "skipped due to missing signature")
		return 0, false
	}
	if v < 0 || uint64(v) >= r.engine.Src.Len() {
		r.logger.Skip(line, "address out of range")
		r.event(TagSkip, 0, line, "address out of range")
		return 0, false
	}
	return uint64(v), true
}

// payloadBytes interprets a payload: inline assembly first, then a
// double-quoted ASCII string, then whitespace-separated hex bytes.
func (r *runState) payloadBytes(payload string, addr uint64) []byte {
	if data := asm.Encode(payload, addr); len(data) > 0 {
		return data
	}

	if i := strings.IndexByte(payload, '"'); i >= 0 {
		if j := strings.IndexByte(payload[i+1:], '"'); j >= 0 {
			return []byte(payload[i+1 : i+1+j])
		}
	}

	fields := strings.Fields(payload)
	data := make([]byte, 0, len(fields))
	for _, f := range fields {
		if len(f) != 2 {
			return nil
		}
		v, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return nil
		}
		data = append(data, byte(v))
	}
	return data
}

func (r *runState) scope(local map[string]int64) expr.Scope {
	return expr.Scope{Local: local, Global: r.global}
}

func (r *runState) event(tag Tag, addr uint64, line, detail string) {
	r.report.Events = append(r.report.Events, Event{Tag: tag, Addr: addr, Line: line, Detail: detail})
}

// patchDetail renders "[old] -> [new]", appending a disassembly of the new
// bytes when they decode as one x86 instruction.
func patchDetail(old, new []byte) string {
	s := "[" + strings.ToUpper(hex.EncodeToString(old)) + "] -> [" +
		strings.ToUpper(hex.EncodeToString(new)) + "]"
	if inst, err := x86asm.Decode(new, 32); err == nil && inst.Len == len(new) {
		s += "  ; " + x86asm.IntelSyntax(inst, 0, nil)
	}
	return s
}
