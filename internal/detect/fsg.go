package detect

import (
	"context"
	"fmt"

	"github.com/pumpkin-bit/euva/internal/pemap"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
)

// fsgSignatures are versioned FSG loader stubs. A hit pins the version.
var fsgSignatures = []struct {
	version string
	pat     []scan.PatternByte
}{
	{"1.0", scan.MustPattern("BB D0 01 40 00 BF 00 10 40 00 BE ?? ?? ?? ?? 53")},
	{"1.33", scan.MustPattern("BE A4 01 40 00 AD 93 AD 97 AD 56 B2 80")},
	{"2.0", scan.MustPattern("87 25 ?? ?? ?? ?? 61 94 55 A4 B6 80 FF 13")},
}

// FSG detects the Fast Small Good packer. FSG images are tiny: the loader
// stub lives in a sub-kilobyte section and the import table is stripped.
type FSG struct{}

func (FSG) Name() string    { return "FSG" }
func (FSG) Version() string { return "1.0" }
func (FSG) Priority() int   { return 20 }

func (FSG) CanAnalyze(root *pestruct.Node) bool { return parsed(root) }

func (d FSG) Detect(ctx context.Context, data []byte, root *pestruct.Node) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Name:     "FSG",
		Kind:     KindPacker,
		Metadata: make(map[string]string),
	}

	for _, sig := range fsgSignatures {
		matches := scan.FindAll(data, sig.pat, "FSG "+sig.version)
		if len(matches) == 0 {
			continue
		}
		res.Matches = append(res.Matches, matches...)
		if res.Version == "" {
			res.Version = sig.version
			res.Confidence += 0.60
		}
	}

	secs := pemap.SectionNodes(root)
	for _, sec := range secs {
		size, ok := pemap.FieldInt(sec, "SizeOfRawData", "Header/SizeOfRawData", "Size")
		if ok && size < 1024 {
			res.Confidence += 0.10
			break
		}
	}
	if len(secs) > 0 {
		size, ok := pemap.FieldInt(secs[0], "SizeOfRawData", "Header/SizeOfRawData", "Size")
		if ok && size < 512 {
			res.Confidence += 0.15
		}
	}

	entropy := scan.Entropy(data)
	if entropy > 7.0 {
		res.Confidence += 0.15
	}

	if pemap.ImportRVA(root) == 0 {
		res.Confidence += 0.10
	}

	if res.Confidence <= 0 {
		return nil, nil
	}
	res.Confidence = clamp(res.Confidence)
	res.Metadata["Entropy"] = fmt.Sprintf("%.2f", entropy)
	res.Metadata["SignaturesFound"] = fmt.Sprintf("%d", len(res.Matches))
	return res, nil
}
