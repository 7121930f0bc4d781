// Package pemap parses PE headers out of a ByteSource and emits the
// navigable structure tree and byte-accurate region map consumed by
// detection, scripting, and hosts. Parsing never fails: malformed input
// attaches a "Parse Error" node and the partial tree is returned.
package pemap

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pumpkin-bit/euva/internal/bytesource"
	"github.com/pumpkin-bit/euva/internal/pestruct"
)

// Header and section-table layout constants.
const (
	dosHeaderSize     = 64
	ntHeadersSize     = 248
	fileHeaderSize    = 20
	sectionHeaderSize = 40

	magicPE32     = 0x10B
	magicPE32Plus = 0x20B
)

// Data directory indices surfaced as tree nodes.
const (
	dirExport   = 0
	dirImport   = 1
	dirSecurity = 4
	dirDebug    = 6
)

// Section highlight colors, selected from characteristics flags.
const (
	colorCode   = "#3FB950" // green
	colorData   = "#58A6FF" // blue
	colorBSS    = "#8B949E" // gray
	colorOther  = "#D29922" // yellow
	colorHeader = "#A371F7"
)

// Section characteristics flags.
const (
	scnCntCode    = 0x00000020
	scnCntInitial = 0x00000040
	scnCntUninit  = 0x00000080
	scnMemExecute = 0x20000000
)

// Result bundles the tree and region map from one parse.
type Result struct {
	Root    *pestruct.Node
	Regions []pestruct.Region
}

// Map parses src and returns the structure tree and regions. Providers run
// after native parsing; a provider error is recorded in root metadata and
// the remaining providers still run.
func Map(src bytesource.ByteSource, providers ...RegionProvider) *Result {
	res := &Result{Root: pestruct.NewNode("PE File", "Root")}

	if err := parse(src, res); err != nil {
		errNode := pestruct.NewNode("Parse Error", "Error")
		errNode.DisplayValue = err.Error()
		res.Root.Add(errNode)
	}

	for _, p := range providers {
		regions, err := p.Regions(src, res.Root)
		if err != nil {
			res.Root.Metadata["provider:"+p.Name()] = err.Error()
			continue
		}
		res.Regions = append(res.Regions, regions...)
	}
	return res
}

func parse(src bytesource.ByteSource, res *Result) error {
	if src.Len() < dosHeaderSize {
		return fmt.Errorf("file too small for a DOS header: %d bytes", src.Len())
	}

	root := res.Root

	// DOS header
	dos := root.Add(pestruct.NewNode("DOS Header", "IMAGE_DOS_HEADER").At(0, dosHeaderSize))
	eMagic := readU16(src, 0)
	magicDisplay := fmt.Sprintf("0x%04X", eMagic)
	if eMagic == 0x5A4D {
		magicDisplay = "0x5A4D (MZ)"
	}
	addField(dos, "e_magic", 0, 2, uint64(eMagic), magicDisplay)
	addField(dos, "e_cblp", 2, 2, uint64(readU16(src, 2)), "")
	addField(dos, "e_cp", 4, 2, uint64(readU16(src, 4)), "")
	lfanew := uint64(readU32(src, 0x3C))
	addField(dos, "e_lfanew", 0x3C, 4, lfanew, fmt.Sprintf("0x%08X", lfanew))

	res.Regions = append(res.Regions, pestruct.Region{
		Name: "DOS Header", Kind: pestruct.KindHeader,
		Offset: 0, Size: dosHeaderSize, Color: colorHeader, Node: dos,
	})

	if eMagic != 0x5A4D {
		return fmt.Errorf("bad DOS magic 0x%04X", eMagic)
	}
	if lfanew+ntHeadersSize > src.Len() {
		return fmt.Errorf("e_lfanew 0x%X past end of file", lfanew)
	}
	if sig := readU32(src, lfanew); sig != 0x00004550 {
		return fmt.Errorf("bad PE signature 0x%08X", sig)
	}

	// NT headers
	nt := root.Add(pestruct.NewNode("NT Headers", "IMAGE_NT_HEADERS").At(lfanew, ntHeadersSize))
	res.Regions = append(res.Regions, pestruct.Region{
		Name: "NT Headers", Kind: pestruct.KindHeader,
		Offset: lfanew, Size: ntHeadersSize, Color: colorHeader, Node: nt,
	})

	// File header
	fhOff := lfanew + 4
	fh := nt.Add(pestruct.NewNode("File Header", "IMAGE_FILE_HEADER").At(fhOff, fileHeaderSize))
	machine := readU16(src, fhOff)
	addField(fh, "Machine", fhOff, 2, uint64(machine), machineName(machine))
	numSections := readU16(src, fhOff+2)
	addField(fh, "NumberOfSections", fhOff+2, 2, uint64(numSections), "")
	stamp := readU32(src, fhOff+4)
	addField(fh, "TimeDateStamp", fhOff+4, 4, uint64(stamp),
		time.Unix(int64(stamp), 0).UTC().Format("2006-01-02 15:04:05 UTC"))
	optSize := readU16(src, fhOff+16)
	addField(fh, "SizeOfOptionalHeader", fhOff+16, 2, uint64(optSize), "")
	characteristics := readU16(src, fhOff+18)
	addField(fh, "Characteristics", fhOff+18, 2, uint64(characteristics),
		characteristicsList(characteristics))

	// Optional header
	optOff := fhOff + fileHeaderSize
	opt := nt.Add(pestruct.NewNode("Optional Header", "IMAGE_OPTIONAL_HEADER").At(optOff, uint64(optSize)))
	optMagic := readU16(src, optOff)
	addField(opt, "Magic", optOff, 2, uint64(optMagic), optionalMagicName(optMagic))
	addField(opt, "AddressOfEntryPoint", optOff+16, 4, uint64(readU32(src, optOff+16)),
		fmt.Sprintf("0x%08X", readU32(src, optOff+16)))

	pe32Plus := optMagic == magicPE32Plus
	if pe32Plus {
		base := readU64(src, optOff+24)
		addField(opt, "ImageBase", optOff+24, 8, base, fmt.Sprintf("0x%016X", base))
	} else {
		base := uint64(readU32(src, optOff+28))
		addField(opt, "ImageBase", optOff+28, 4, base, fmt.Sprintf("0x%08X", base))
	}
	addField(opt, "SectionAlignment", optOff+32, 4, uint64(readU32(src, optOff+32)), "")
	addField(opt, "FileAlignment", optOff+36, 4, uint64(readU32(src, optOff+36)), "")
	addField(opt, "SizeOfImage", optOff+56, 4, uint64(readU32(src, optOff+56)), "")
	addField(opt, "SizeOfHeaders", optOff+60, 4, uint64(readU32(src, optOff+60)), "")

	// Section table
	secTableOff := optOff + uint64(optSize)
	sections := root.Add(pestruct.NewNode("Sections", "SectionTable").
		At(secTableOff, uint64(numSections)*sectionHeaderSize))
	lastRawEnd := uint64(0)
	for i := uint64(0); i < uint64(numSections); i++ {
		off := secTableOff + i*sectionHeaderSize
		if off+sectionHeaderSize > src.Len() {
			return fmt.Errorf("section header %d past end of file", i)
		}
		name := sectionName(src, off)
		sec := sections.Add(pestruct.NewNode(name, "IMAGE_SECTION_HEADER").At(off, sectionHeaderSize))
		addField(sec, "VirtualSize", off+8, 4, uint64(readU32(src, off+8)), "")
		addField(sec, "VirtualAddress", off+12, 4, uint64(readU32(src, off+12)),
			fmt.Sprintf("0x%08X", readU32(src, off+12)))
		rawSize := uint64(readU32(src, off+16))
		addField(sec, "SizeOfRawData", off+16, 4, rawSize, "")
		rawPtr := uint64(readU32(src, off+20))
		addField(sec, "PointerToRawData", off+20, 4, rawPtr, fmt.Sprintf("0x%08X", rawPtr))
		ch := readU32(src, off+36)
		addField(sec, "Characteristics", off+36, 4, uint64(ch), fmt.Sprintf("0x%08X", ch))

		if rawSize > 0 {
			res.Regions = append(res.Regions, pestruct.Region{
				Name: name, Kind: pestruct.KindCode,
				Offset: rawPtr, Size: rawSize, Color: sectionColor(ch), Node: sec,
			})
		}
		if end := rawPtr + rawSize; end > lastRawEnd {
			lastRawEnd = end
		}
	}

	// Data directories
	parseDirectories(src, root, optOff, pe32Plus, res)

	// Overlay: bytes past the last section's raw data.
	if lastRawEnd > 0 && lastRawEnd < src.Len() {
		res.Regions = append(res.Regions, pestruct.Region{
			Name: "Overlay", Kind: pestruct.KindOverlay,
			Offset: lastRawEnd, Size: src.Len() - lastRawEnd, Color: colorOther,
		})
	}
	return nil
}

// directory table layout: PE32 at optional+96, PE32+ at optional+112.
func parseDirectories(src bytesource.ByteSource, root *pestruct.Node, optOff uint64, pe32Plus bool, res *Result) {
	tableOff := optOff + 96
	if pe32Plus {
		tableOff = optOff + 112
	}

	dirs := root.Add(pestruct.NewNode("Data Directories", "DataDirectories").At(tableOff, 16*8))

	named := []struct {
		index int
		name  string
		typ   string
	}{
		{dirExport, "Export Directory", "IMAGE_DIRECTORY_ENTRY_EXPORT"},
		{dirImport, "Import Directory", "IMAGE_DIRECTORY_ENTRY_IMPORT"},
		{dirSecurity, "Security Directory", "IMAGE_DIRECTORY_ENTRY_SECURITY"},
		{dirDebug, "Debug Directory", "IMAGE_DIRECTORY_ENTRY_DEBUG"},
	}
	for _, d := range named {
		entryOff := tableOff + uint64(d.index)*8
		rva := uint64(readU32(src, entryOff))
		size := uint64(readU32(src, entryOff+4))
		if rva == 0 && size == 0 {
			continue
		}
		dir := dirs.Add(pestruct.NewNode(d.name, d.typ).At(entryOff, 8))
		addField(dir, "RVA", entryOff, 4, rva, fmt.Sprintf("0x%08X", rva))
		addField(dir, "Size", entryOff+4, 4, size, "")

		// The security directory holds a file offset, not an RVA; the
		// Authenticode blob is mappable without RVA translation.
		if d.index == dirSecurity && rva+size <= src.Len() {
			res.Regions = append(res.Regions, pestruct.Region{
				Name: "Authenticode", Kind: pestruct.KindSignature,
				Offset: rva, Size: size, Color: colorOther, Layer: 1, Node: dir,
			})
		}
	}
}

func addField(parent *pestruct.Node, name string, off, size, value uint64, display string) *pestruct.Node {
	n := pestruct.NewNode(name, "Field").At(off, size)
	n.Value = pestruct.IntValue(value)
	if display == "" {
		display = fmt.Sprintf("%d", value)
	}
	n.DisplayValue = display
	parent.Add(n)
	return n
}

func sectionName(src bytesource.ByteSource, off uint64) string {
	var raw [8]byte
	src.ReadInto(off, raw[:])
	end := 0
	for end < 8 && raw[end] != 0 {
		end++
	}
	return string(raw[:end])
}

func sectionColor(characteristics uint32) string {
	switch {
	case characteristics&scnCntCode != 0 || characteristics&scnMemExecute != 0:
		return colorCode
	case characteristics&scnCntInitial != 0:
		return colorData
	case characteristics&scnCntUninit != 0:
		return colorBSS
	}
	return colorOther
}

func machineName(machine uint16) string {
	names := map[uint16]string{
		0x014C: "x86",
		0x0200: "IA64",
		0x8664: "x64",
		0x01C0: "ARM",
		0xAA64: "ARM64",
	}
	if n, ok := names[machine]; ok {
		return fmt.Sprintf("0x%04X (%s)", machine, n)
	}
	return fmt.Sprintf("0x%04X", machine)
}

func optionalMagicName(magic uint16) string {
	switch magic {
	case magicPE32:
		return "0x010B (PE32)"
	case magicPE32Plus:
		return "0x020B (PE32+)"
	}
	return fmt.Sprintf("0x%04X", magic)
}

func characteristicsList(v uint16) string {
	flags := []struct {
		bit  uint16
		name string
	}{
		{0x0001, "RELOCS_STRIPPED"},
		{0x0002, "EXECUTABLE_IMAGE"},
		{0x0020, "LARGE_ADDRESS_AWARE"},
		{0x0100, "32BIT_MACHINE"},
		{0x0200, "DEBUG_STRIPPED"},
		{0x2000, "DLL"},
	}
	out := ""
	for _, f := range flags {
		if v&f.bit == 0 {
			continue
		}
		if out != "" {
			out += " | "
		}
		out += f.name
	}
	if out == "" {
		return fmt.Sprintf("0x%04X", v)
	}
	return out
}

func readU16(src bytesource.ByteSource, off uint64) uint16 {
	var b [2]byte
	src.ReadInto(off, b[:])
	return binary.LittleEndian.Uint16(b[:])
}

func readU32(src bytesource.ByteSource, off uint64) uint32 {
	var b [4]byte
	src.ReadInto(off, b[:])
	return binary.LittleEndian.Uint32(b[:])
}

func readU64(src bytesource.ByteSource, off uint64) uint64 {
	var b [8]byte
	src.ReadInto(off, b[:])
	return binary.LittleEndian.Uint64(b[:])
}
