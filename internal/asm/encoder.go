// Package asm translates a restricted vocabulary of 32-bit x86 mnemonics to
// machine bytes. It exists for inline assembly in patch scripts, not as a
// general assembler: a line that does not match the vocabulary yields no
// encoding and the caller falls back to other payload interpretations.
package asm

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// regIndex maps register names to their encoding in opcode and ModRM bytes.
var regIndex = map[string]byte{
	"eax": 0, "ecx": 1, "edx": 2, "ebx": 3,
	"esp": 4, "ebp": 5, "esi": 6, "edi": 7,
}

// aluOpcode maps reg,reg ALU mnemonics to their opcode byte. All encode the
// register-direct form: opcode, then 0xC0 | src<<3 | dst.
var aluOpcode = map[string]byte{
	"add": 0x01,
	"or":  0x09,
	"and": 0x21,
	"sub": 0x29,
	"xor": 0x31,
	"cmp": 0x39,
}

// Encode translates one line of mnemonic text into machine bytes given the
// address the bytes will be written to. Returns nil when the line has no
// encoding; failure is silent so the caller can try the next interpretation.
func Encode(line string, addr uint64) []byte {
	toks := tokenize(line)
	if len(toks) == 0 {
		return nil
	}

	switch toks[0] {
	case "nop":
		if len(toks) == 1 {
			return []byte{0x90}
		}
	case "ret":
		if len(toks) == 1 {
			return []byte{0xC3}
		}
	case "jmp":
		if len(toks) == 2 {
			return encodeJmp(toks[1], addr)
		}
	case "mov":
		if len(toks) == 3 {
			return encodeMovImm(toks[1], toks[2])
		}
	default:
		if op, ok := aluOpcode[toks[0]]; ok && len(toks) == 3 {
			return encodeAlu(op, toks[1], toks[2])
		}
	}
	return nil
}

// tokenize lowercases and splits on spaces and commas, discarding empties.
func tokenize(line string) []string {
	lower := strings.ToLower(line)
	return strings.FieldsFunc(lower, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
}

// encodeJmp emits E9 rel32 where rel32 = target - (addr + 5).
// Targets are absolute addresses, decimal or 0x-prefixed hex.
func encodeJmp(target string, addr uint64) []byte {
	base := 10
	if strings.HasPrefix(target, "0x") {
		base, target = 16, target[2:]
	}
	t, err := strconv.ParseUint(target, base, 64)
	if err != nil {
		return nil
	}
	rel := int64(t) - (int64(addr) + 5)
	if rel < -1<<31 || rel >= 1<<31 {
		return nil
	}
	out := make([]byte, 5)
	out[0] = 0xE9
	binary.LittleEndian.PutUint32(out[1:], uint32(int32(rel)))
	return out
}

// encodeMovImm emits B8+rd imm32 for mov reg, imm32.
func encodeMovImm(reg, imm string) []byte {
	rd, ok := regIndex[reg]
	if !ok {
		return nil
	}
	v, err := parseImm(imm)
	if err != nil {
		return nil
	}
	out := make([]byte, 5)
	out[0] = 0xB8 + rd
	binary.LittleEndian.PutUint32(out[1:], uint32(v))
	return out
}

// encodeAlu emits the register-direct ALU form: op, 0xC0 | src<<3 | dst.
func encodeAlu(op byte, dst, src string) []byte {
	d, ok := regIndex[dst]
	if !ok {
		return nil
	}
	s, ok := regIndex[src]
	if !ok {
		return nil
	}
	return []byte{op, 0xC0 | s<<3 | d}
}

// parseImm accepts decimal or 0x-prefixed hex immediates that fit 32 bits,
// signed or unsigned: -2^31 through 0xFFFFFFFF.
func parseImm(s string) (int64, error) {
	var v int64
	var err error
	if strings.HasPrefix(s, "0x") {
		var u uint64
		u, err = strconv.ParseUint(s[2:], 16, 32)
		v = int64(u)
	} else {
		v, err = strconv.ParseInt(s, 10, 64)
	}
	if err != nil {
		return 0, err
	}
	if v < -1<<31 || v >= 1<<32 {
		return 0, strconv.ErrRange
	}
	return v, nil
}
