package pemap

import (
	"strings"

	"github.com/pumpkin-bit/euva/internal/pestruct"
)

// FieldInt probes an ordered list of slash-separated candidate paths under n
// and returns the first hit carrying an integer value. Detectors use this to
// read PE attributes without depending on one naming scheme; the candidate
// list absorbs the differences ("Header/PointerToRawData" vs
// "PointerToRawData" vs "Offset").
func FieldInt(n *pestruct.Node, paths ...string) (uint64, bool) {
	for _, path := range paths {
		hit := n.FindByPath(strings.Split(path, "/")...)
		if hit == nil || hit.Value == nil || hit.Value.Kind != pestruct.ValueInt {
			continue
		}
		return hit.Value.Int, true
	}
	return 0, false
}

// SectionNodes returns the section header nodes in table order.
func SectionNodes(root *pestruct.Node) []*pestruct.Node {
	table := root.Child("Sections")
	if table == nil {
		return nil
	}
	return table.Children
}

// SectionNames returns the section names in table order.
func SectionNames(root *pestruct.Node) []string {
	nodes := SectionNodes(root)
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names
}

// ImportRVA returns the import directory RVA, or 0 when absent.
func ImportRVA(root *pestruct.Node) uint64 {
	v, _ := FieldInt(root,
		"Data Directories/Import Directory/RVA",
		"Import Directory/RVA",
	)
	return v
}
