package pemap

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/pumpkin-bit/euva/internal/bytesource"
	"github.com/pumpkin-bit/euva/internal/pestruct"
	"github.com/pumpkin-bit/euva/internal/testpe"
)

func buildSample() *bytesource.Buffer {
	img := testpe.File{
		Sections: []testpe.Section{
			{Name: ".text", Data: bytes.Repeat([]byte{0x90}, 0x300), Characteristics: testpe.Code},
			{Name: ".data", Data: bytes.Repeat([]byte{0x00}, 0x100), Characteristics: testpe.Data},
		},
		ImportRVA:  0x2000,
		ImportSize: 0x80,
		TimeStamp:  0x60000000,
		Overlay:    []byte{0xAA, 0xBB},
	}.Build()
	return bytesource.NewBuffer(img)
}

func TestMapMZHeader(t *testing.T) {
	res := Map(buildSample())
	root := res.Root

	magic := root.FindByPath("DOS Header", "e_magic")
	if magic == nil {
		t.Fatal("e_magic node missing")
	}
	if magic.DisplayValue != "0x5A4D (MZ)" {
		t.Errorf("e_magic display = %q", magic.DisplayValue)
	}

	lfanew := root.FindByPath("DOS Header", "e_lfanew")
	if lfanew == nil {
		t.Fatal("e_lfanew node missing")
	}
	if lfanew.DisplayValue != "0x00000080" {
		t.Errorf("e_lfanew display = %q", lfanew.DisplayValue)
	}
	if !lfanew.HasOffset || lfanew.Offset != 0x3C || lfanew.Size != 4 {
		t.Errorf("e_lfanew at %d size %d", lfanew.Offset, lfanew.Size)
	}
}

func TestMapTreeShape(t *testing.T) {
	res := Map(buildSample())
	root := res.Root

	if root.Name != "PE File" || root.Type != "Root" {
		t.Errorf("root = %s/%s", root.Name, root.Type)
	}

	dos := root.Child("DOS Header")
	if dos == nil || dos.Offset != 0 || dos.Size != 64 {
		t.Fatalf("DOS Header node: %+v", dos)
	}

	nt := root.Child("NT Headers")
	if nt == nil || nt.Offset != 0x80 || nt.Size != 248 {
		t.Fatalf("NT Headers node: %+v", nt)
	}

	if n := root.FindByPath("NT Headers", "File Header", "NumberOfSections"); n == nil || n.Value.Int != 2 {
		t.Errorf("NumberOfSections = %v", n)
	}
	if n := root.FindByPath("NT Headers", "File Header", "TimeDateStamp"); n == nil ||
		!strings.Contains(n.DisplayValue, "UTC") {
		t.Errorf("TimeDateStamp display = %v", n)
	}
	if n := root.FindByPath("NT Headers", "Optional Header", "Magic"); n == nil ||
		n.DisplayValue != "0x010B (PE32)" {
		t.Errorf("Magic = %v", n)
	}
	if n := root.FindByPath("NT Headers", "Optional Header", "ImageBase"); n == nil ||
		n.Value.Int != 0x00400000 || n.Size != 4 {
		t.Errorf("ImageBase = %v", n)
	}

	// Sections node spans NumberOfSections * 40 from the end of the
	// optional header.
	sections := root.Child("Sections")
	if sections == nil || sections.Size != 80 {
		t.Fatalf("Sections node: %+v", sections)
	}
	if sections.Offset != 0x80+4+20+224 {
		t.Errorf("Sections offset = %#x", sections.Offset)
	}
	names := SectionNames(root)
	if len(names) != 2 || names[0] != ".text" || names[1] != ".data" {
		t.Errorf("section names = %v", names)
	}

	// Import directory present, export absent.
	if n := root.FindByPath("Data Directories", "Import Directory", "RVA"); n == nil || n.Value.Int != 0x2000 {
		t.Errorf("import RVA node = %v", n)
	}
	if n := root.FindByPath("Data Directories", "Export Directory"); n != nil {
		t.Error("zero export directory produced a node")
	}
	if ImportRVA(root) != 0x2000 {
		t.Errorf("ImportRVA = %#x", ImportRVA(root))
	}
}

func TestMapRegions(t *testing.T) {
	res := Map(buildSample())

	byName := map[string]pestruct.Region{}
	for _, r := range res.Regions {
		byName[r.Name] = r
	}

	if r, ok := byName["DOS Header"]; !ok || r.Kind != pestruct.KindHeader || r.Size != 64 {
		t.Errorf("DOS Header region: %+v", r)
	}
	if r, ok := byName["NT Headers"]; !ok || r.Kind != pestruct.KindHeader {
		t.Errorf("NT Headers region: %+v", r)
	}

	text := byName[".text"]
	if text.Kind != pestruct.KindCode {
		t.Errorf(".text kind = %v", text.Kind)
	}
	if text.Color != "#3FB950" {
		t.Errorf(".text color = %s, want green", text.Color)
	}
	if byName[".data"].Color != "#58A6FF" {
		t.Errorf(".data color = %s, want blue", byName[".data"].Color)
	}

	overlay, ok := byName["Overlay"]
	if !ok || overlay.Kind != pestruct.KindOverlay || overlay.Size != 2 {
		t.Errorf("overlay region: %+v", overlay)
	}
}

func TestMapParseError(t *testing.T) {
	// Not a PE: parse attaches an error node and still returns a tree.
	res := Map(bytesource.NewBuffer([]byte{0x00, 0x01, 0x02}))
	errNode := res.Root.Child("Parse Error")
	if errNode == nil {
		t.Fatal("Parse Error node missing")
	}
	if errNode.DisplayValue == "" {
		t.Error("error node has no message")
	}

	// Bad magic after a full-size header window.
	data := make([]byte, 128)
	res = Map(bytesource.NewBuffer(data))
	if res.Root.Child("Parse Error") == nil {
		t.Error("bad magic did not attach Parse Error")
	}
	// The DOS header child is still present ahead of the failure point.
	if res.Root.Child("DOS Header") == nil {
		t.Error("DOS Header absent from partial tree")
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "boom" }
func (failingProvider) Regions(bytesource.ByteSource, *pestruct.Node) ([]pestruct.Region, error) {
	return nil, errors.New("provider exploded")
}

type staticProvider struct{}

func (staticProvider) Name() string { return "static" }
func (staticProvider) Regions(bytesource.ByteSource, *pestruct.Node) ([]pestruct.Region, error) {
	return []pestruct.Region{{Name: "extra", Kind: pestruct.KindDebug, Offset: 0, Size: 4}}, nil
}

func TestMapProviders(t *testing.T) {
	res := Map(buildSample(), failingProvider{}, staticProvider{})

	// Failure recorded, later provider still ran.
	if msg := res.Root.Metadata["provider:boom"]; msg != "provider exploded" {
		t.Errorf("provider error metadata = %q", msg)
	}
	found := false
	for _, r := range res.Regions {
		if r.Name == "extra" {
			found = true
		}
	}
	if !found {
		t.Error("static provider region missing")
	}
}

func TestEntropyProvider(t *testing.T) {
	// High-entropy section data: one of each byte value repeated.
	noisy := make([]byte, 0x200)
	for i := range noisy {
		noisy[i] = byte(i * 37)
	}
	img := testpe.File{
		Sections: []testpe.Section{
			{Name: "UPX1", Data: noisy, Characteristics: testpe.Code},
		},
	}.Build()
	res := Map(bytesource.NewBuffer(img), EntropyProvider{Threshold: 5.0})

	found := false
	for _, r := range res.Regions {
		if r.Name == "UPX1 (packed)" && r.Kind == pestruct.KindData && r.Layer == 2 {
			found = true
		}
	}
	if !found {
		t.Fatalf("packed region missing: %+v", res.Regions)
	}
}

func TestFieldIntCandidates(t *testing.T) {
	sec := pestruct.NewNode(".text", "IMAGE_SECTION_HEADER")
	hdr := sec.Add(pestruct.NewNode("Header", "Group"))
	f := hdr.Add(pestruct.NewNode("PointerToRawData", "Field"))
	f.Value = pestruct.IntValue(0x400)

	// Probes fall through to the first candidate that resolves.
	v, ok := FieldInt(sec, "PointerToRawData", "Header/PointerToRawData", "Offset")
	if !ok || v != 0x400 {
		t.Errorf("FieldInt = (%#x, %v)", v, ok)
	}
	if _, ok := FieldInt(sec, "Missing", "Also/Missing"); ok {
		t.Error("FieldInt resolved a missing path")
	}
}
