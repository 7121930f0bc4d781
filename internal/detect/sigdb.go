package detect

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pumpkin-bit/euva/internal/pemap"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
)

// SigDef is one user-defined detector loaded from a YAML signature database.
type SigDef struct {
	Name     string   `yaml:"name"`
	Version  string   `yaml:"version"`
	Kind     string   `yaml:"kind"`
	Priority int      `yaml:"priority"`
	// Patterns in the standard wildcard syntax; any hit scores Confidence.
	Patterns   []string `yaml:"patterns"`
	Confidence float64  `yaml:"confidence"`
	// Sections lists names that must all be present to score SectionBonus.
	Sections     []string `yaml:"sections"`
	SectionBonus float64  `yaml:"section_bonus"`
}

type sigDB struct {
	Detectors []SigDef `yaml:"detectors"`
}

// LoadSigDB reads a YAML signature database and returns one detector per
// entry.
func LoadSigDB(path string) ([]Detector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signature db: %w", err)
	}
	return ParseSigDB(data)
}

// ParseSigDB parses YAML signature definitions. Patterns are validated
// eagerly so a bad database fails at load, not mid-analysis.
func ParseSigDB(data []byte) ([]Detector, error) {
	var db sigDB
	if err := yaml.Unmarshal(data, &db); err != nil {
		return nil, fmt.Errorf("parse signature db: %w", err)
	}

	out := make([]Detector, 0, len(db.Detectors))
	for _, def := range db.Detectors {
		if def.Name == "" {
			return nil, fmt.Errorf("signature db entry with no name")
		}
		d := &sigDetector{def: def, kind: parseKind(def.Kind)}
		for _, p := range def.Patterns {
			pat, err := scan.ParsePattern(p)
			if err != nil {
				return nil, fmt.Errorf("detector %s: %w", def.Name, err)
			}
			d.patterns = append(d.patterns, pat)
		}
		out = append(out, d)
	}
	return out, nil
}

// sigDetector scores a fixed confidence on any pattern hit plus a bonus when
// every named section is present.
type sigDetector struct {
	def      SigDef
	kind     Kind
	patterns [][]scan.PatternByte
}

func (d *sigDetector) Name() string    { return d.def.Name }
func (d *sigDetector) Version() string { return d.def.Version }
func (d *sigDetector) Priority() int   { return d.def.Priority }

func (d *sigDetector) CanAnalyze(root *pestruct.Node) bool { return parsed(root) }

func (d *sigDetector) Detect(ctx context.Context, data []byte, root *pestruct.Node) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Name:     d.def.Name,
		Version:  d.def.Version,
		Kind:     d.kind,
		Metadata: make(map[string]string),
	}

	for _, pat := range d.patterns {
		matches := scan.FindAll(data, pat, d.def.Name)
		if len(matches) == 0 {
			continue
		}
		res.Matches = append(res.Matches, matches...)
		if res.Confidence == 0 {
			res.Confidence = d.def.Confidence
		}
	}

	if len(d.def.Sections) > 0 && hasAll(pemap.SectionNames(root), d.def.Sections...) {
		res.Confidence += d.def.SectionBonus
	}

	if res.Confidence <= 0 {
		return nil, nil
	}
	res.Confidence = clamp(res.Confidence)
	res.Metadata["SignaturesFound"] = fmt.Sprintf("%d", len(res.Matches))
	return res, nil
}

func parseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s {
			return k
		}
	}
	return KindUnknown
}
