package pemap

import (
	"fmt"

	"github.com/pumpkin-bit/euva/internal/bytesource"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/scan"
)

// RegionProvider supplements the native region map. Providers run after
// native parsing, in registration order; one failing provider does not stop
// the rest.
type RegionProvider interface {
	Name() string
	Regions(src bytesource.ByteSource, root *pestruct.Node) ([]pestruct.Region, error)
}

// EntropyProvider re-tags high-entropy sections as Data regions on a higher
// layer, so packed payloads stand out over the section coloring.
type EntropyProvider struct {
	// Threshold in bits per byte; 7.0 when zero.
	Threshold float64
}

// Name implements RegionProvider.
func (EntropyProvider) Name() string { return "entropy" }

// Regions measures each section's raw bytes.
func (p EntropyProvider) Regions(src bytesource.ByteSource, root *pestruct.Node) ([]pestruct.Region, error) {
	threshold := p.Threshold
	if threshold == 0 {
		threshold = 7.0
	}

	var out []pestruct.Region
	for _, sec := range SectionNodes(root) {
		ptr, ok1 := FieldInt(sec, "PointerToRawData", "Header/PointerToRawData", "Offset")
		size, ok2 := FieldInt(sec, "SizeOfRawData", "Header/SizeOfRawData", "Size")
		if !ok1 || !ok2 || size == 0 {
			continue
		}
		if ptr+size > src.Len() {
			return nil, fmt.Errorf("section %s: raw data past end of file", sec.Name)
		}
		buf := make([]byte, size)
		src.ReadInto(ptr, buf)
		e := scan.Entropy(buf)
		if e <= threshold {
			continue
		}
		sec.Metadata["Entropy"] = fmt.Sprintf("%.2f", e)
		out = append(out, pestruct.Region{
			Name: sec.Name + " (packed)", Kind: pestruct.KindData,
			Offset: ptr, Size: size, Color: colorOther, Layer: 2, Node: sec,
		})
	}
	return out, nil
}
