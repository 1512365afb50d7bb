// Package vmerr defines the typed error taxonomy every lamarik subsystem
// raises: image/decode errors at load time, verifier errors before
// execution starts, and runtime errors during the fetch-decode-dispatch
// loop. Callers wrap these with github.com/pkg/errors when they need to
// attach a call-site stack trace; the taxonomy itself stays plain so tests
// can assert on concrete types with errors.As.
package vmerr

import "fmt"

// Image errors, raised while parsing a bytecode image (C2).

type UnexpectedEOF struct{ Wanted, Got int }

func (e *UnexpectedEOF) Error() string {
	return fmt.Sprintf("unexpected end of file: wanted %d bytes, got %d", e.Wanted, e.Got)
}

type InvalidFileFormat struct{ Reason string }

func (e *InvalidFileFormat) Error() string { return "invalid file format: " + e.Reason }

type NoCodeSection struct{}

func (e *NoCodeSection) Error() string { return "no code section" }

type StringIndexOutOfBounds struct{ Offset, TableSize int }

func (e *StringIndexOutOfBounds) Error() string {
	return fmt.Sprintf("string index out of bounds: offset %d, table size %d", e.Offset, e.TableSize)
}

// Decode errors, raised while turning code-section bytes into instructions (C3).

type InvalidOpcode struct {
	Byte   byte
	Offset int
}

func (e *InvalidOpcode) Error() string {
	return fmt.Sprintf("invalid opcode 0x%02x at offset %d", e.Byte, e.Offset)
}

type ReadingMoreThenCodeSection struct{ Offset, CodeLen int }

func (e *ReadingMoreThenCodeSection) Error() string {
	return fmt.Sprintf("reading past code section: offset %d, code length %d", e.Offset, e.CodeLen)
}

// Verifier errors, raised by the static pass before any instruction runs (C5).

type InvalidJumpOffset struct{ IP, Offset, CodeLen int }

func (e *InvalidJumpOffset) Error() string {
	return fmt.Sprintf("invalid jump offset at ip=%d: offset=%d, code_len=%d", e.IP, e.Offset, e.CodeLen)
}

type StackUnderflow struct {
	IP, Height, Pop int
}

func (e *StackUnderflow) Error() string {
	return fmt.Sprintf("stack underflow at ip=%d: height=%d, pop=%d", e.IP, e.Height, e.Pop)
}

type StackOverflow struct {
	IP, Height, Ceiling int
}

func (e *StackOverflow) Error() string {
	return fmt.Sprintf("stack overflow at ip=%d: height=%d, ceiling=%d", e.IP, e.Height, e.Ceiling)
}

type InvalidStoreIndex struct{ IP, Index, Limit int }

func (e *InvalidStoreIndex) Error() string {
	return fmt.Sprintf("invalid store index at ip=%d: index=%d, limit=%d", e.IP, e.Index, e.Limit)
}

type InvalidLoadIndex struct{ IP, Index, Limit int }

func (e *InvalidLoadIndex) Error() string {
	return fmt.Sprintf("invalid load index at ip=%d: index=%d, limit=%d", e.IP, e.Index, e.Limit)
}

type TooManyCaptures struct{ IP, Arity, Limit int }

func (e *TooManyCaptures) Error() string {
	return fmt.Sprintf("too many captures at ip=%d: arity=%d, limit=%d", e.IP, e.Arity, e.Limit)
}

type TooMuchMembers struct {
	IP, Kind string
	N, Limit int
}

func (e *TooMuchMembers) Error() string {
	return fmt.Sprintf("too many %s members at ip=%s: n=%d, limit=%d", e.Kind, e.IP, e.N, e.Limit)
}

type SexpTagTooLong struct {
	Tag   string
	Limit int
}

func (e *SexpTagTooLong) Error() string {
	return fmt.Sprintf("sexp tag %q longer than %d bytes", e.Tag, e.Limit)
}

type InvalidBeginArgs struct{ IP, Args, Limit int }

func (e *InvalidBeginArgs) Error() string {
	return fmt.Sprintf("invalid begin args at ip=%d: args=%d, limit=%d", e.IP, e.Args, e.Limit)
}

type UnreachableInstructionRejected struct {
	IP   int
	What string
}

func (e *UnreachableInstructionRejected) Error() string {
	return fmt.Sprintf("%s rejected (ip=%d)", e.What, e.IP)
}

// Runtime errors, raised while interpreting verified code (C7).

type DivisionByZero struct{ IP int }

func (e *DivisionByZero) Error() string { return fmt.Sprintf("division by zero at ip=%d", e.IP) }

type OutOfBoundsAccess struct{ Index, Length int }

func (e *OutOfBoundsAccess) Error() string {
	return fmt.Sprintf("out of bounds access: index=%d, length=%d", e.Index, e.Length)
}

type InvalidType struct {
	IP        int
	Want, Got string
}

func (e *InvalidType) Error() string {
	return fmt.Sprintf("invalid type at ip=%d: want %s, got %s", e.IP, e.Want, e.Got)
}

type InvalidObjectPointer struct{ Word int64 }

func (e *InvalidObjectPointer) Error() string {
	return fmt.Sprintf("invalid object pointer: word %d is unboxed", e.Word)
}

type MatchFailed struct {
	Line, Col int
	Display   string
}

func (e *MatchFailed) Error() string {
	return fmt.Sprintf("match failure at %d:%d: %s", e.Line, e.Col, e.Display)
}

// Resource errors, raised by the CLI loader.

type FileIsTooLarge struct{ Size, Limit int64 }

func (e *FileIsTooLarge) Error() string {
	return fmt.Sprintf("file is too large: size=%d, limit=%d", e.Size, e.Limit)
}

type FileTypeError struct{ Path string }

func (e *FileTypeError) Error() string { return "not a regular file: " + e.Path }

type FileDoesNotExist struct{ Path string }

func (e *FileDoesNotExist) Error() string { return "file does not exist: " + e.Path }
