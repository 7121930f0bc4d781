// Package detect runs packer/protector detectors against a loaded file.
// Detectors self-describe with a priority; the registry keeps them sorted,
// fans analysis out to a worker pool, and delivers results in
// confidence-descending order. Built-in detectors cover UPX, Themida, and
// FSG; YAML signature sets and JavaScript plugins register through the same
// interface.
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pumpkin-bit/euva/internal/log"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
)

// Kind classifies what a detector found.
type Kind int

const (
	KindUnknown Kind = iota
	KindPacker
	KindProtector
	KindCryptor
	KindVirtualizer
	KindCompiler
)

var kindNames = map[Kind]string{
	KindUnknown:     "Unknown",
	KindPacker:      "Packer",
	KindProtector:   "Protector",
	KindCryptor:     "Cryptor",
	KindVirtualizer: "Virtualizer",
	KindCompiler:    "Compiler",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Result is one positive detection. Absence of a result means "nothing
// found"; detectors never return a zero-confidence record.
type Result struct {
	ID         string // assigned by the registry
	Name       string
	Version    string
	Kind       Kind
	Confidence float64
	Matches    []scan.Match
	Metadata   map[string]string
	Detector   string // detector identifier, "name/version"
}

// Detector analyzes a loaded file. Implementations must be stateless between
// calls; the registry invokes them from worker goroutines.
type Detector interface {
	Name() string
	Version() string
	// Priority orders execution; lower runs first.
	Priority() int
	// CanAnalyze gates the detector on the parsed structure.
	CanAnalyze(root *pestruct.Node) bool
	// Detect returns nil when nothing was found.
	Detect(ctx context.Context, data []byte, root *pestruct.Node) (*Result, error)
}

// Registry holds registered detectors sorted by ascending priority.
type Registry struct {
	mu        sync.RWMutex
	detectors []Detector
	logger    *log.Logger
	// Workers bounds concurrent Detect calls; 4 when zero.
	Workers int
}

// NewRegistry creates an empty registry logging through logger.
func NewRegistry(logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Registry{logger: logger}
}

// Register appends d and re-sorts by ascending priority. The sort is stable,
// so same-priority detectors keep registration order.
func (r *Registry) Register(d Detector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detectors = append(r.detectors, d)
	sort.SliceStable(r.detectors, func(i, j int) bool {
		return r.detectors[i].Priority() < r.detectors[j].Priority()
	})
	r.logger.DetectorRegister(d.Name(), d.Priority())
}

// Detectors returns the registered detectors in priority order.
func (r *Registry) Detectors() []Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Detector(nil), r.detectors...)
}

// Analyze runs every applicable detector against data. Detector failures are
// suppressed, zero-or-negative confidences dropped, and the survivors sorted
// by confidence descending. progress, when non-nil, receives one message per
// detector start, in start order; it is not closed.
func (r *Registry) Analyze(ctx context.Context, data []byte, root *pestruct.Node, progress chan<- string) []Result {
	detectors := r.Detectors()

	workers := r.Workers
	if workers <= 0 {
		workers = 4
	}
	sem := make(chan struct{}, workers)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []Result
	)
	for _, d := range detectors {
		if ctx.Err() != nil {
			break
		}
		if !d.CanAnalyze(root) {
			continue
		}
		if progress != nil {
			progress <- fmt.Sprintf("%s %s", d.Name(), d.Version())
		}
		r.logger.DetectorStart(d.Name(), d.Version())

		wg.Add(1)
		sem <- struct{}{}
		go func(d Detector) {
			defer wg.Done()
			defer func() { <-sem }()

			res, err := d.Detect(ctx, data, root)
			if err != nil {
				r.logger.Warn("detector failed",
					log.Fn(d.Name()),
				)
				return
			}
			if res == nil || res.Confidence <= 0 {
				return
			}
			if res.Confidence > 1.0 {
				res.Confidence = 1.0
			}
			res.ID = uuid.NewString()
			if res.Detector == "" {
				res.Detector = d.Name() + "/" + d.Version()
			}
			r.logger.DetectorResult(res.Name, res.Version, res.Confidence)

			mu.Lock()
			results = append(results, *res)
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Confidence > results[j].Confidence
	})
	return results
}

// Best returns the highest-confidence result, or nil for an empty set.
func Best(results []Result) *Result {
	if len(results) == 0 {
		return nil
	}
	best := &results[0]
	for i := range results {
		if results[i].Confidence > best.Confidence {
			best = &results[i]
		}
	}
	return best
}

// clamp caps confidence at 1.0.
func clamp(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	return c
}

// parsed reports whether root represents a successfully parsed PE.
func parsed(root *pestruct.Node) bool {
	return root != nil && root.Child("Parse Error") == nil && root.Child("Sections") != nil
}
