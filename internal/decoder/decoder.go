// Package decoder turns a cursor position in a code section into a single
// decoded instruction, advancing past its immediates. It has no notion of
// control flow or program-wide validity; that's internal/verify's job.
package decoder

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dacsson/lamarik/internal/vmerr"
)

// Op names an instruction variant. Values have no relation to the wire
// opcode byte; that mapping lives entirely in decode's switch below.
type Op int

const (
	OpNOP Op = iota
	OpBINOP
	OpCONST
	OpSTRING
	OpSEXP
	OpSTI
	OpSTA
	OpJMP
	OpEND
	OpRET
	OpDROP
	OpDUP
	OpSWAP
	OpELEM
	OpLOAD
	OpLOADREF
	OpSTORE
	OpCJMP
	OpBEGIN
	OpCBEGIN
	OpCLOSURE
	OpCALLC
	OpCALL
	OpCALLBUILTIN
	OpTAG
	OpARRAY
	OpFAIL
	OpLINE
	OpPATT
	OpHALT
)

// BinOp enumerates the BINOP sub-opcodes, 0x1..0xD as in spec §6.1.
type BinOp int

const (
	BinADD BinOp = iota + 1
	BinSUB
	BinMUL
	BinDIV
	BinMOD
	BinLT
	BinLEQ
	BinGT
	BinGEQ
	BinEQ
	BinNEQ
	BinAND
	BinOR
)

// Rel names where a LOAD/LOADREF/STORE/CLOSURE-capture addresses into.
type Rel int

const (
	RelGlobal Rel = iota
	RelLocal
	RelArg
	RelCapture
)

// CjmpKind selects the truthiness test a conditional jump performs.
type CjmpKind int

const (
	CjmpIsZero CjmpKind = iota
	CjmpIsNonZero
)

// Builtin enumerates the five CALL targets dispatched to internal/builtin.
type Builtin int

const (
	BuiltinLread Builtin = iota
	BuiltinLwrite
	BuiltinLlength
	BuiltinLstring
	BuiltinBarray
)

// PattKind enumerates the PATT predicate variants.
type PattKind int

const (
	PattBothAreStr PattKind = iota
	PattIsStr
	PattIsArray
	PattIsSExp
	PattIsRef
	PattIsVal
	PattIsLambda
)

// Capture is one (relation, index) tuple in a CLOSURE's capture list.
type Capture struct {
	Rel   Rel
	Index int
}

// Instruction is a decoded variant together with the byte offset it was
// decoded from; Offset is what verifier and interpreter errors report.
type Instruction struct {
	Op     Op
	Offset int

	// Generic immediates, named per the variant that's actually set:
	//   CONST: A = k
	//   STRING: A = string offset
	//   SEXP: A = string offset, B = member count
	//   JMP: A = target
	//   LOAD/LOADREF/STORE: Rel, A = index
	//   CJMP: A = target, CjmpKind
	//   BEGIN/CBEGIN: A = arg count, B = local count
	//   CLOSURE: A = code offset, B = arity, Captures
	//   CALLC: A = arity
	//   CALL (user): A = target offset, B = arg count
	//   CALL (builtin Barray): A = n
	//   TAG: A = string offset, B = member count
	//   ARRAY: A = n
	//   FAIL: A = line, B = col
	//   LINE: A = n
	A, B     int
	BinOp    BinOp
	Rel      Rel
	CjmpKind CjmpKind
	Builtin  Builtin
	PattKind PattKind
	Captures []Capture
}

// IsTerminal reports whether control flow cannot fall through past this
// instruction; the reachability walker's stopping rule.
func (in Instruction) IsTerminal() bool {
	switch in.Op {
	case OpRET, OpEND, OpFAIL, OpJMP:
		return true
	default:
		return false
	}
}

// Decode reads one instruction starting at ip within code, returning the
// instruction and the ip immediately following it.
func Decode(code []byte, ip int) (Instruction, int, error) {
	c := &cursor{code: code, pos: ip}
	op, err := c.u8()
	if err != nil {
		return Instruction{}, 0, err
	}

	if op == 0xff {
		return Instruction{Op: OpHALT, Offset: ip}, c.pos, nil
	}

	hi, lo := op>>4, op&0x0f
	in := Instruction{Offset: ip}

	switch hi {
	case 0x0:
		if lo == 0 {
			in.Op = OpNOP
		} else if lo >= 1 && lo <= 0xd {
			in.Op = OpBINOP
			in.BinOp = BinOp(lo)
		} else {
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
	case 0x1:
		switch lo {
		case 0x0:
			in.Op = OpCONST
			in.A, err = c.i32()
		case 0x1:
			in.Op = OpSTRING
			in.A, err = c.i32()
		case 0x2:
			in.Op = OpSEXP
			in.A, err = c.i32()
			if err == nil {
				in.B, err = c.i32()
			}
		case 0x3:
			in.Op = OpSTI
		case 0x4:
			in.Op = OpSTA
		case 0x5:
			in.Op = OpJMP
			in.A, err = c.i32()
		case 0x6:
			in.Op = OpEND
		case 0x7:
			in.Op = OpRET
		case 0x8:
			in.Op = OpDROP
		case 0x9:
			in.Op = OpDUP
		case 0xa:
			in.Op = OpSWAP
		case 0xb:
			in.Op = OpELEM
		default:
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
	case 0x2:
		if lo > 0x3 {
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
		in.Op = OpLOAD
		in.Rel = Rel(lo)
		in.A, err = c.i32()
	case 0x3:
		if lo > 0x3 {
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
		in.Op = OpLOADREF
		in.Rel = Rel(lo)
		in.A, err = c.i32()
	case 0x4:
		if lo > 0x3 {
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
		in.Op = OpSTORE
		in.Rel = Rel(lo)
		in.A, err = c.i32()
	case 0x5:
		switch lo {
		case 0x0:
			in.Op = OpCJMP
			in.CjmpKind = CjmpIsZero
			in.A, err = c.i32()
		case 0x1:
			in.Op = OpCJMP
			in.CjmpKind = CjmpIsNonZero
			in.A, err = c.i32()
		case 0x2:
			in.Op = OpBEGIN
			in.A, err = c.i32()
			if err == nil {
				in.B, err = c.i32()
			}
		case 0x3:
			in.Op = OpCBEGIN
			in.A, err = c.i32()
			if err == nil {
				in.B, err = c.i32()
			}
		case 0x4:
			in.Op = OpCLOSURE
			in.A, err = c.i32()
			if err == nil {
				in.B, err = c.i32()
			}
			if err == nil {
				in.Captures = make([]Capture, 0, in.B)
				for i := 0; i < in.B; i++ {
					var relByte byte
					relByte, err = c.u8()
					if err != nil {
						break
					}
					if relByte > byte(RelCapture) {
						return Instruction{}, 0, invalidOpcode(relByte, c.pos-1)
					}
					var idx int
					idx, err = c.i32()
					if err != nil {
						break
					}
					in.Captures = append(in.Captures, Capture{Rel: Rel(relByte), Index: idx})
				}
			}
		case 0x5:
			in.Op = OpCALLC
			in.A, err = c.i32()
		case 0x6:
			in.Op = OpCALL
			in.A, err = c.i32()
			if err == nil {
				in.B, err = c.i32()
			}
		case 0x7:
			in.Op = OpTAG
			in.A, err = c.i32()
			if err == nil {
				in.B, err = c.i32()
			}
		case 0x8:
			in.Op = OpARRAY
			in.A, err = c.i32()
		case 0x9:
			in.Op = OpFAIL
			in.A, err = c.i32()
			if err == nil {
				in.B, err = c.i32()
			}
		case 0xa:
			in.Op = OpLINE
			in.A, err = c.i32()
		default:
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
	case 0x6:
		if lo > 0x6 {
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
		in.Op = OpPATT
		in.PattKind = PattKind(lo)
	case 0x7:
		switch lo {
		case 0x0, 0x1, 0x2, 0x3:
			in.Op = OpCALLBUILTIN
			in.Builtin = Builtin(lo)
		case 0x4:
			in.Op = OpCALLBUILTIN
			in.Builtin = BuiltinBarray
			in.A, err = c.i32()
		default:
			return Instruction{}, 0, invalidOpcode(op, ip)
		}
	default:
		return Instruction{}, 0, invalidOpcode(op, ip)
	}

	if err != nil {
		return Instruction{}, 0, err
	}
	return in, c.pos, nil
}

func invalidOpcode(b byte, offset int) error {
	return errors.WithStack(&vmerr.InvalidOpcode{Byte: b, Offset: offset})
}

type cursor struct {
	code []byte
	pos  int
}

func (c *cursor) u8() (byte, error) {
	if c.pos+1 > len(c.code) {
		return 0, errors.WithStack(&vmerr.ReadingMoreThenCodeSection{Offset: c.pos, CodeLen: len(c.code)})
	}
	b := c.code[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) i32() (int, error) {
	if c.pos+4 > len(c.code) {
		return 0, errors.WithStack(&vmerr.ReadingMoreThenCodeSection{Offset: c.pos, CodeLen: len(c.code)})
	}
	v := int32(binary.LittleEndian.Uint32(c.code[c.pos : c.pos+4]))
	c.pos += 4
	return int(v), nil
}
