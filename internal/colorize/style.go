// Package colorize provides terminal highlighting for analyze and patch
// output: disassembly via Chroma, plus plain ANSI helpers for addresses,
// hex bytes, and detection results.
package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// IDA-style theme colors
const (
	IDAAddress  = "#808080" // Gray for addresses
	IDAMnemonic = "#FFFFFF" // White for mnemonics
	IDARegister = "#87CEEB" // Light blue for registers
	IDANumber   = "#FF80C0" // Light pink for numbers
	IDALabel    = "#FFC800" // Yellow for labels
	IDAString   = "#00FF00" // Green for strings
	IDAHexBytes = "#646464" // Dark gray for hex bytes
)

// PatchDark is a custom style for patch-log disassembly - IDA Pro style
var PatchDark = styles.Register(chroma.MustNewStyle("patch-dark", chroma.StyleEntries{
	chroma.Text:       "#FFFFFF",
	chroma.Background: "bg:#000000",

	// For NASM lexer mappings
	chroma.Keyword:       "#FFFFFF", // Instructions in white
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.Name:          "#87CEEB", // Registers in cyan
	chroma.NameBuiltin:   "#87CEEB",
	chroma.NameVariable:  "#87CEEB",

	// Numbers - pink like IDA
	chroma.LiteralNumber:        "#FF80C0",
	chroma.LiteralNumberHex:     "#FF80C0",
	chroma.LiteralNumberInteger: "#FF80C0",

	chroma.NameLabel:    "#FFC800", // Labels in yellow
	chroma.NameFunction: "#FFFFFF",

	chroma.Operator:    "#FFFFFF",
	chroma.Punctuation: "#FFFFFF",

	chroma.String: "#00FF00",
}))
