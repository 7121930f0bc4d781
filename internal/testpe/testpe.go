// Package testpe builds minimal synthetic PE32 images for tests. The layout
// is fixed: DOS header at 0 with e_lfanew = 0x80, NT headers at 0x80, a
// 224-byte optional header, section raw data aligned to 0x200.
package testpe

import "encoding/binary"

// Section describes one section of the synthetic image.
type Section struct {
	Name            string
	Data            []byte
	VirtualSize     uint32
	Characteristics uint32
	// RawSize overrides SizeOfRawData in the header; 0 means the
	// file-aligned data length. Placement on disk is always aligned.
	RawSize uint32
}

// File describes the synthetic image.
type File struct {
	Sections   []Section
	ImportRVA  uint32
	ImportSize uint32
	ExportRVA  uint32
	ExportSize uint32
	TimeStamp  uint32
	Overlay    []byte
}

const (
	lfanew     = 0x80
	optSize    = 224
	fileAlign  = 0x200
	sectAlign  = 0x1000
	baseOfCode = 0x1000
)

// Build assembles the image bytes.
func (f File) Build() []byte {
	secTableOff := lfanew + 4 + 20 + optSize
	headerEnd := secTableOff + len(f.Sections)*40
	sizeOfHeaders := align(headerEnd, fileAlign)

	// Lay out raw data.
	type placed struct {
		raw  int
		size int
		va   uint32
	}
	layout := make([]placed, len(f.Sections))
	raw := sizeOfHeaders
	va := uint32(baseOfCode)
	for i, s := range f.Sections {
		size := align(len(s.Data), fileAlign)
		layout[i] = placed{raw: raw, size: size, va: va}
		raw += size
		vsize := s.VirtualSize
		if vsize == 0 {
			vsize = uint32(len(s.Data))
		}
		va += uint32(align(int(vsize), sectAlign))
	}
	total := raw + len(f.Overlay)

	img := make([]byte, total)

	// DOS header
	img[0], img[1] = 'M', 'Z'
	put32(img, 0x3C, lfanew)

	// PE signature + file header
	copy(img[lfanew:], []byte{'P', 'E', 0, 0})
	fh := lfanew + 4
	put16(img, fh, 0x014C) // x86
	put16(img, fh+2, uint16(len(f.Sections)))
	put32(img, fh+4, f.TimeStamp)
	put16(img, fh+16, optSize)
	put16(img, fh+18, 0x0102) // EXECUTABLE_IMAGE | 32BIT_MACHINE

	// Optional header
	opt := fh + 20
	put16(img, opt, 0x010B) // PE32
	put32(img, opt+16, baseOfCode)
	put32(img, opt+28, 0x00400000) // ImageBase
	put32(img, opt+32, sectAlign)
	put32(img, opt+36, fileAlign)
	put32(img, opt+56, va) // SizeOfImage
	put32(img, opt+60, uint32(sizeOfHeaders))
	put32(img, opt+92, 16) // NumberOfRvaAndSizes
	dirs := opt + 96
	put32(img, dirs+0*8, f.ExportRVA)
	put32(img, dirs+0*8+4, f.ExportSize)
	put32(img, dirs+1*8, f.ImportRVA)
	put32(img, dirs+1*8+4, f.ImportSize)

	// Section table + raw data
	for i, s := range f.Sections {
		off := secTableOff + i*40
		copy(img[off:off+8], s.Name)
		vsize := s.VirtualSize
		if vsize == 0 {
			vsize = uint32(len(s.Data))
		}
		put32(img, off+8, vsize)
		put32(img, off+12, layout[i].va)
		rawSize := uint32(layout[i].size)
		if s.RawSize != 0 {
			rawSize = s.RawSize
		}
		put32(img, off+16, rawSize)
		put32(img, off+20, uint32(layout[i].raw))
		put32(img, off+36, s.Characteristics)
		copy(img[layout[i].raw:], s.Data)
	}

	copy(img[raw:], f.Overlay)
	return img
}

// Characteristics flag values for sections.
const (
	Code   = 0x00000020 | 0x20000000 | 0x40000000 // CNT_CODE | MEM_EXECUTE | MEM_READ
	Data   = 0x00000040 | 0x40000000 | 0x80000000 // CNT_INITIALIZED_DATA | MEM_READ | MEM_WRITE
	Uninit = 0x00000080 | 0x40000000 | 0x80000000 // CNT_UNINITIALIZED_DATA
)

func align(v, to int) int {
	return (v + to - 1) / to * to
}

func put16(b []byte, off int, v uint16) {
	binary.LittleEndian.PutUint16(b[off:], v)
}

func put32(b []byte, off int, v uint32) {
	binary.LittleEndian.PutUint32(b[off:], v)
}
