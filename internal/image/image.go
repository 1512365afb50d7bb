// Package image parses the on-disk bytecode layout into an in-memory
// Image: string table, global-area size, public-symbol table, and the
// raw code section the decoder walks.
package image

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/dacsson/lamarik/internal/vmerr"
)

// Symbol is one entry of the public-symbol table: a name offset into the
// string table and a code offset that seeds the reachability walker.
type Symbol struct {
	CodeOffset int
	NameOffset int
}

// Image is the parsed, immutable view of a bytecode file. Code is mutated
// exactly once, by the verifier's max-depth patching pass (see
// internal/verify); every other consumer only reads it.
type Image struct {
	GlobalAreaSize int
	Symbols        []Symbol
	StringTable    []byte
	Code           []byte
}

const headerWordLen = 4

// Parse reads the layout documented in spec §4.2: three little-endian
// u32 header words, then the public-symbol table, then the string table,
// then the remainder as the code section.
func Parse(data []byte) (*Image, error) {
	r := &reader{data: data}

	stringtabSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	globalAreaSize, err := r.u32()
	if err != nil {
		return nil, err
	}
	publicCount, err := r.u32()
	if err != nil {
		return nil, err
	}

	symbols := make([]Symbol, 0, publicCount)
	for i := uint32(0); i < publicCount; i++ {
		codeOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		nameOff, err := r.u32()
		if err != nil {
			return nil, err
		}
		symbols = append(symbols, Symbol{CodeOffset: int(codeOff), NameOffset: int(nameOff)})
	}

	strTab, err := r.bytes(int(stringtabSize))
	if err != nil {
		return nil, err
	}

	code := r.rest()
	if len(code) == 0 {
		return nil, errors.WithStack(&vmerr.NoCodeSection{})
	}

	return &Image{
		GlobalAreaSize: int(globalAreaSize),
		Symbols:        symbols,
		StringTable:    strTab,
		Code:           code,
	}, nil
}

// StringAtOffset returns the NUL-terminated byte slice (terminator
// included) starting at offset inside the string table.
func (img *Image) StringAtOffset(offset int) ([]byte, error) {
	if offset < 0 || offset >= len(img.StringTable) {
		return nil, errors.WithStack(&vmerr.StringIndexOutOfBounds{Offset: offset, TableSize: len(img.StringTable)})
	}
	slice := img.StringTable[offset:]
	nul := -1
	for i, b := range slice {
		if b == 0 {
			nul = i
			break
		}
	}
	if nul < 0 {
		return nil, errors.WithStack(&vmerr.StringIndexOutOfBounds{Offset: offset, TableSize: len(img.StringTable)})
	}
	return slice[:nul+1], nil
}

// StringAtOffsetTrimmed is StringAtOffset with the trailing NUL stripped,
// the shape the verifier and interpreter use for tag and symbol names.
func (img *Image) StringAtOffsetTrimmed(offset int) (string, error) {
	raw, err := img.StringAtOffset(offset)
	if err != nil {
		return "", err
	}
	return string(raw[:len(raw)-1]), nil
}

// String renders the image-summary dump the --dump-bytefile flag prints,
// in the spirit of the original disassembler's dump format.
func (img *Image) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "--------- Bytefile Dump ----------\n")
	fmt.Fprintf(&b, " - String Table Size: %d\n", len(img.StringTable))
	fmt.Fprintf(&b, " - Global Area Size: %d\n", img.GlobalAreaSize)
	fmt.Fprintf(&b, " - Public Symbol Table Size: %d\n", len(img.Symbols))
	fmt.Fprintf(&b, " - Code Section Byte Size: %d\n", len(img.Code))
	fmt.Fprintf(&b, " - Public symbols:\n")
	for _, s := range img.Symbols {
		fmt.Fprintf(&b, "  - %d: %d\n", s.CodeOffset, s.NameOffset)
	}
	fmt.Fprintf(&b, " - String table raw: %v\n", img.StringTable)
	fmt.Fprintf(&b, " - Code Section:\n")
	for _, c := range img.Code {
		fmt.Fprintf(&b, "%02X", c)
	}
	fmt.Fprintf(&b, "\n-----------------------------\n")
	return b.String()
}

// reader is a small cursor over the raw file bytes; it exists so Parse
// doesn't repeat the same bounds-checked read four different ways.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) u32() (uint32, error) {
	b, err := r.bytes(headerWordLen)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, errors.WithStack(&vmerr.UnexpectedEOF{Wanted: n, Got: len(r.data) - r.pos})
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) rest() []byte {
	b := r.data[r.pos:]
	r.pos = len(r.data)
	return b
}
