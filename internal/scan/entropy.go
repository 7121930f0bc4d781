package scan

import (
	"math"

	"github.com/pumpkin-bit/euva/internal/pestruct"
)

// Entropy computes Shannon entropy in bits per byte, base 2, over a
// 256-bucket frequency table. Empty input yields 0. Values above 7.0
// usually indicate compressed or encrypted content.
func Entropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}

	var freq [256]int
	for _, b := range data {
		freq[b]++
	}

	var entropy float64
	total := float64(len(data))
	for _, count := range freq {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// EntropyByRegion computes entropy per region, keyed by region name. Only
// regions of kind Code or Data whose interval lies inside data are measured.
func EntropyByRegion(data []byte, regions []pestruct.Region) map[string]float64 {
	out := make(map[string]float64)
	for _, r := range regions {
		if r.Kind != pestruct.KindCode && r.Kind != pestruct.KindData {
			continue
		}
		if r.End() > uint64(len(data)) || r.Size == 0 {
			continue
		}
		out[r.Name] = Entropy(data[r.Offset:r.End()])
	}
	return out
}
