package detect

import (
	"context"
	"fmt"
	"os"

	"github.com/dop251/goja"

	"github.com/pumpkin-bit/euva/internal/pemap"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
)

// Plugin is a detector written in JavaScript. The script declares `name`,
// `version`, `kind`, and optionally `priority` as globals and a `detect()`
// function returning either null or an object:
//
//	{ confidence: 0.9, version: "2.1", metadata: { Family: "..." } }
//
// Inside detect() the script can call findSignature(pattern) -> offset|-1,
// countSignature(pattern) -> n, entropy() -> bits/byte, and read
// sectionNames and importRVA. Each Detect call runs in a fresh VM, so
// plugins are stateless between calls.
type Plugin struct {
	source   string
	prog     *goja.Program
	name     string
	version  string
	kind     Kind
	priority int
}

// LoadPlugin compiles a plugin from a .js file.
func LoadPlugin(path string) (*Plugin, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin: %w", err)
	}
	return NewPlugin(path, string(src))
}

// NewPlugin compiles plugin source. ref names the plugin in errors.
func NewPlugin(ref, source string) (*Plugin, error) {
	// Non-strict: plugins declare their metadata as bare globals.
	prog, err := goja.Compile(ref, source, false)
	if err != nil {
		return nil, fmt.Errorf("compile plugin %s: %w", ref, err)
	}

	// One throwaway VM run to pull the declared metadata.
	vm := goja.New()
	if _, err := vm.RunProgram(prog); err != nil {
		return nil, fmt.Errorf("load plugin %s: %w", ref, err)
	}

	p := &Plugin{source: source, prog: prog, priority: 100}
	if v := vm.Get("name"); v != nil && !goja.IsUndefined(v) {
		p.name = v.String()
	}
	if p.name == "" {
		return nil, fmt.Errorf("plugin %s declares no name", ref)
	}
	if v := vm.Get("version"); v != nil && !goja.IsUndefined(v) {
		p.version = v.String()
	}
	if v := vm.Get("kind"); v != nil && !goja.IsUndefined(v) {
		p.kind = parseKind(v.String())
	}
	if v := vm.Get("priority"); v != nil && !goja.IsUndefined(v) {
		p.priority = int(v.ToInteger())
	}
	if v := vm.Get("detect"); v == nil || goja.IsUndefined(v) {
		return nil, fmt.Errorf("plugin %s declares no detect()", ref)
	}
	return p, nil
}

func (p *Plugin) Name() string    { return p.name }
func (p *Plugin) Version() string { return p.version }
func (p *Plugin) Priority() int   { return p.priority }

func (p *Plugin) CanAnalyze(root *pestruct.Node) bool { return parsed(root) }

// Detect runs the plugin in a fresh VM wired to the loaded file.
func (p *Plugin) Detect(ctx context.Context, data []byte, root *pestruct.Node) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vm := goja.New()
	vm.Set("sectionNames", pemap.SectionNames(root))
	vm.Set("importRVA", pemap.ImportRVA(root))
	vm.Set("entropy", func() float64 { return scan.Entropy(data) })
	vm.Set("findSignature", func(pattern string) int64 {
		pat, err := scan.ParsePattern(pattern)
		if err != nil {
			return -1
		}
		off, ok := scan.FindFirst(data, pat)
		if !ok {
			return -1
		}
		return int64(off)
	})
	vm.Set("countSignature", func(pattern string) int {
		pat, err := scan.ParsePattern(pattern)
		if err != nil {
			return 0
		}
		return len(scan.FindAll(data, pat, p.name))
	})

	if _, err := vm.RunProgram(p.prog); err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.name, err)
	}
	fn, ok := goja.AssertFunction(vm.Get("detect"))
	if !ok {
		return nil, fmt.Errorf("plugin %s: detect is not a function", p.name)
	}

	ret, err := fn(goja.Undefined())
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.name, err)
	}
	if ret == nil || goja.IsNull(ret) || goja.IsUndefined(ret) {
		return nil, nil
	}

	obj := ret.ToObject(vm)
	res := &Result{
		Name:     p.name,
		Version:  p.version,
		Kind:     p.kind,
		Metadata: make(map[string]string),
	}
	if v := obj.Get("confidence"); v != nil && !goja.IsUndefined(v) {
		res.Confidence = v.ToFloat()
	}
	if v := obj.Get("version"); v != nil && !goja.IsUndefined(v) {
		res.Version = v.String()
	}
	if v := obj.Get("metadata"); v != nil && !goja.IsUndefined(v) {
		meta := v.ToObject(vm)
		for _, key := range meta.Keys() {
			res.Metadata[key] = meta.Get(key).String()
		}
	}

	if res.Confidence <= 0 {
		return nil, nil
	}
	res.Confidence = clamp(res.Confidence)
	return res, nil
}
