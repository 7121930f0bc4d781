package detect

import (
	"context"
	"fmt"

	"github.com/pumpkin-bit/euva/internal/pemap"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
)

// upxSignatures are the section markers, entry stub, and decompressor loop
// of the UPX packer. The "UPX!" magic ("55 50 58 21") identifies 3.x+.
var upxSignatures = []struct {
	name string
	pat  []scan.PatternByte
}{
	{"UPX0 marker", scan.MustPattern("55 50 58 30")},
	{"UPX1 marker", scan.MustPattern("55 50 58 31")},
	{"UPX! magic", scan.MustPattern("55 50 58 21")},
	{"UPX entry stub", scan.MustPattern("60 BE ?? ?? ?? ?? 8D BE")},
	{"UPX decompressor", scan.MustPattern("8A 06 46 88 07 47 01 DB")},
}

// UPX detects the UPX packer.
type UPX struct{}

func (UPX) Name() string    { return "UPX" }
func (UPX) Version() string { return "1.0" }
func (UPX) Priority() int   { return 10 }

func (UPX) CanAnalyze(root *pestruct.Node) bool { return parsed(root) }

func (u UPX) Detect(ctx context.Context, data []byte, root *pestruct.Node) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Name:     "UPX",
		Kind:     KindPacker,
		Metadata: make(map[string]string),
	}

	sigHit := false
	for _, sig := range upxSignatures {
		matches := scan.FindAll(data, sig.pat, sig.name)
		if len(matches) == 0 {
			continue
		}
		sigHit = true
		res.Matches = append(res.Matches, matches...)
		if sig.name == "UPX! magic" {
			res.Version = "3.x+"
		}
	}
	if sigHit {
		res.Confidence += 0.40
	}

	names := pemap.SectionNames(root)
	switch {
	case hasAll(names, "UPX0", "UPX1"):
		res.Confidence += 0.40
	case hasAll(names, ".UPX0", ".UPX1"):
		res.Confidence += 0.30
	}

	entropy := scan.Entropy(data)
	if entropy > 7.0 {
		res.Confidence += 0.20
	}

	if res.Confidence <= 0 {
		return nil, nil
	}
	res.Confidence = clamp(res.Confidence)
	res.Metadata["Entropy"] = fmt.Sprintf("%.2f", entropy)
	res.Metadata["SignaturesFound"] = fmt.Sprintf("%d", len(res.Matches))
	return res, nil
}

func hasAll(names []string, want ...string) bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	for _, w := range want {
		if !set[w] {
			return false
		}
	}
	return true
}
