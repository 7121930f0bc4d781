package pestruct

// RegionKind classifies a byte interval of the file.
type RegionKind int

const (
	KindUnknown RegionKind = iota
	KindHeader
	KindCode
	KindData
	KindImport
	KindExport
	KindResource
	KindRelocation
	KindDebug
	KindOverlay
	KindSignature
)

var regionKindNames = map[RegionKind]string{
	KindUnknown:    "Unknown",
	KindHeader:     "Header",
	KindCode:       "Code",
	KindData:       "Data",
	KindImport:     "Import",
	KindExport:     "Export",
	KindResource:   "Resource",
	KindRelocation: "Relocation",
	KindDebug:      "Debug",
	KindOverlay:    "Overlay",
	KindSignature:  "Signature",
}

func (k RegionKind) String() string {
	if s, ok := regionKindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// Region is a byte interval [Offset, Offset+Size) of the file. Regions may
// overlap; ties are broken by the highest Layer. The node link is weak: a
// region does not own its structure node.
type Region struct {
	Name   string
	Kind   RegionKind
	Offset uint64
	Size   uint64
	Color  string // opaque highlight color, e.g. "#00FF00"
	Layer  int
	Node   *Node
}

// Contains reports whether off falls inside the region.
func (r Region) Contains(off uint64) bool {
	return off >= r.Offset && off < r.Offset+r.Size
}

// End returns the exclusive end offset.
func (r Region) End() uint64 {
	return r.Offset + r.Size
}

// TopAt returns the region covering off with the highest layer, or nil.
func TopAt(off uint64, regions []Region) *Region {
	var top *Region
	for i := range regions {
		r := &regions[i]
		if !r.Contains(off) {
			continue
		}
		if top == nil || r.Layer > top.Layer {
			top = r
		}
	}
	return top
}
