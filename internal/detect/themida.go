package detect

import (
	"context"
	"fmt"

	"github.com/pumpkin-bit/euva/internal/pemap"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
)

// themidaSignatures are entry-stub variants shared by Themida and
// WinLicense builds.
var themidaSignatures = []struct {
	name string
	pat  []scan.PatternByte
}{
	{"entry stub v1", scan.MustPattern("B8 ?? ?? ?? ?? 60 0B C0 74 58")},
	{"entry stub v2", scan.MustPattern("8B C5 8B D4 60 E8 00 00 00 00 5D 81 ED")},
	{"entry stub v3", scan.MustPattern("55 8B EC 83 C4 F4 FC 53 57 56")},
	{"entry stub CC", scan.MustPattern("E8 00 00 00 00 58 05 ?? ?? ?? ?? 80 38 CC")},
}

// importRVAAnomalyLimit: a legitimate import table RVA is small; Themida
// rewrites it to 0 or points it far past the usual image layout.
const importRVAAnomalyLimit = 0x100000

// Themida detects Themida/WinLicense protected binaries.
type Themida struct{}

func (Themida) Name() string    { return "Themida/WinLicense" }
func (Themida) Version() string { return "1.0" }
func (Themida) Priority() int   { return 30 }

func (Themida) CanAnalyze(root *pestruct.Node) bool { return parsed(root) }

func (d Themida) Detect(ctx context.Context, data []byte, root *pestruct.Node) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Name:     "Themida/WinLicense",
		Kind:     KindProtector,
		Metadata: make(map[string]string),
	}

	for _, sig := range themidaSignatures {
		if matches := scan.FindAll(data, sig.pat, sig.name); len(matches) > 0 {
			res.Matches = append(res.Matches, matches...)
		}
	}
	if len(res.Matches) > 0 {
		res.Confidence += 0.30
	}

	names := pemap.SectionNames(root)
	kind := ""
	for _, n := range names {
		switch n {
		case ".THEMIDA":
			kind = "Themida"
		case ".WINLICE":
			kind = "WinLicense"
		}
	}
	if kind != "" {
		res.Confidence += 0.50
		res.Metadata["Type"] = kind
	}

	if len(names) > 8 {
		res.Confidence += 0.10
	}

	importRVA := pemap.ImportRVA(root)
	if importRVA == 0 || importRVA > importRVAAnomalyLimit {
		res.Confidence += 0.20
	}

	entropy := scan.Entropy(data)
	if entropy > 7.5 {
		res.Confidence += 0.30
	}

	if res.Confidence <= 0 {
		return nil, nil
	}
	res.Confidence = clamp(res.Confidence)
	res.Metadata["Entropy"] = fmt.Sprintf("%.2f", entropy)
	res.Metadata["SignaturesFound"] = fmt.Sprintf("%d", len(res.Matches))
	if res.Metadata["Type"] == "" {
		res.Metadata["Type"] = "Themida/WinLicense"
	}
	return res, nil
}
