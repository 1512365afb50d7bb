package verify

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/dacsson/lamarik/internal/decoder"
	"github.com/dacsson/lamarik/internal/image"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// Limits from spec §4.5, traced back to the original verifier's
// constants.
const (
	MaxSexpMembers  = 0xFFFF
	MaxSexpTagLen   = 10
	MaxArrayMembers = 0xFFFF
	MaxCaptures     = 0x7fffffff
	MaxParams       = 0xFFFF

	// DefaultCeiling and TestCeiling are the two MAX_OPERAND_STACK_SIZE
	// values spec §3/§5 calls out; callers pick one via Verify's ceiling
	// argument.
	DefaultCeiling = 0x7fffffff
	TestCeiling    = 0xFFFF
)

// Result is what a successful verification pass hands the interpreter:
// the per-function max operand-stack depth, keyed by that function's
// BEGIN/CBEGIN offset, already patched into the image per spec §4.5.
type Result struct {
	MaxDepth map[int]int
}

// Verify runs the single forward pass of spec §4.5 over every reachable
// offset (in ascending order), tracking the abstract stack height and
// enforcing every bound spec §4.5 lists. On success it patches each
// function's computed max depth into the four bytes preceding its BEGIN
// opcode, mutating img.Code in place, exactly as spec §4.5/§9 describes.
func Verify(img *image.Image, ceiling int) (*Result, error) {
	entries := make([]int, 0, len(img.Symbols))
	for _, s := range img.Symbols {
		entries = append(entries, s.CodeOffset)
	}

	reach, err := Walk(img.Code, entries)
	if err != nil {
		return nil, err
	}

	h := 0
	currentBegin := -1
	maxDepth := map[int]int{}

	for _, off := range reach.Order {
		in := reach.Instructions[off]

		if in.Op == decoder.OpSTI {
			return nil, errors.WithStack(&vmerr.UnreachableInstructionRejected{IP: off, What: "STI"})
		}
		if in.Op == decoder.OpLOADREF {
			return nil, errors.WithStack(&vmerr.UnreachableInstructionRejected{IP: off, What: "LOADREF"})
		}

		push, pop := stackEffect(in)
		if h < pop {
			return nil, errors.WithStack(&vmerr.StackUnderflow{IP: off, Height: h, Pop: pop})
		}
		h = h - pop + push
		if h > ceiling {
			return nil, errors.WithStack(&vmerr.StackOverflow{IP: off, Height: h, Ceiling: ceiling})
		}

		if err := checkBounds(img, off, in); err != nil {
			return nil, err
		}

		switch in.Op {
		case decoder.OpBEGIN, decoder.OpCBEGIN:
			if in.A < 0 || in.A > MaxParams {
				return nil, errors.WithStack(&vmerr.InvalidBeginArgs{IP: off, Args: in.A, Limit: MaxParams})
			}
			currentBegin = off
			maxDepth[off] = h
		case decoder.OpEND:
			h = 0
			currentBegin = -1
		default:
			if currentBegin >= 0 && h > maxDepth[currentBegin] {
				maxDepth[currentBegin] = h
			}
		}
	}

	for begin, depth := range maxDepth {
		patchMaxDepth(img.Code, begin, depth)
	}

	return &Result{MaxDepth: maxDepth}, nil
}

// checkBounds enforces every spec §4.5 check that isn't a generic
// push/pop accounting rule.
func checkBounds(img *image.Image, off int, in decoder.Instruction) error {
	codeLen := len(img.Code)

	switch in.Op {
	case decoder.OpJMP, decoder.OpCJMP:
		if in.A < 0 || in.A >= codeLen {
			return errors.WithStack(&vmerr.InvalidJumpOffset{IP: off, Offset: in.A, CodeLen: codeLen})
		}
	case decoder.OpCALL:
		if in.A < 0 || in.A >= codeLen {
			return errors.WithStack(&vmerr.InvalidJumpOffset{IP: off, Offset: in.A, CodeLen: codeLen})
		}
	case decoder.OpCLOSURE:
		if in.A < 0 || in.A >= codeLen {
			return errors.WithStack(&vmerr.InvalidJumpOffset{IP: off, Offset: in.A, CodeLen: codeLen})
		}
		if in.B < 0 || in.B > MaxCaptures {
			return errors.WithStack(&vmerr.TooManyCaptures{IP: off, Arity: in.B, Limit: MaxCaptures})
		}
	case decoder.OpSTRING:
		if _, err := img.StringAtOffset(in.A); err != nil {
			return err
		}
	case decoder.OpSEXP:
		tag, err := img.StringAtOffsetTrimmed(in.A)
		if err != nil {
			return err
		}
		if len(tag) > MaxSexpTagLen {
			return errors.WithStack(&vmerr.SexpTagTooLong{Tag: tag, Limit: MaxSexpTagLen})
		}
		if in.B < 0 || in.B > MaxSexpMembers {
			return errors.WithStack(&vmerr.TooMuchMembers{IP: fmtIP(off), Kind: "sexp", N: in.B, Limit: MaxSexpMembers})
		}
	case decoder.OpTAG:
		if _, err := img.StringAtOffset(in.A); err != nil {
			return err
		}
	case decoder.OpARRAY:
		if in.A < 0 || in.A > MaxArrayMembers {
			return errors.WithStack(&vmerr.TooMuchMembers{IP: fmtIP(off), Kind: "array", N: in.A, Limit: MaxArrayMembers})
		}
	case decoder.OpLOAD, decoder.OpSTORE:
		if in.Rel == decoder.RelGlobal && (in.A < 0 || in.A >= img.GlobalAreaSize) {
			if in.Op == decoder.OpLOAD {
				return errors.WithStack(&vmerr.InvalidLoadIndex{IP: off, Index: in.A, Limit: img.GlobalAreaSize})
			}
			return errors.WithStack(&vmerr.InvalidStoreIndex{IP: off, Index: in.A, Limit: img.GlobalAreaSize})
		}
	}
	return nil
}

func fmtIP(ip int) string { return itoa(ip) }

func itoa(n int) string {
	// Avoids pulling in strconv just for this one diagnostic formatting
	// spot used only by TooMuchMembers' string IP field.
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// stackEffect returns (push, pop) for every instruction except STI and
// LOADREF, which Verify rejects before reaching here. Numbers follow
// spec §6.3 exactly.
func stackEffect(in decoder.Instruction) (push, pop int) {
	switch in.Op {
	case decoder.OpNOP, decoder.OpJMP, decoder.OpEND, decoder.OpRET, decoder.OpSWAP,
		decoder.OpTAG, decoder.OpARRAY, decoder.OpFAIL, decoder.OpLINE, decoder.OpSTORE:
		switch in.Op {
		case decoder.OpSWAP:
			return 2, 2
		case decoder.OpTAG, decoder.OpARRAY, decoder.OpSTORE:
			return 1, 1
		default:
			return 0, 0
		}
	case decoder.OpBINOP:
		return 1, 2
	case decoder.OpCONST, decoder.OpSTRING, decoder.OpLOAD, decoder.OpCLOSURE, decoder.OpCALLC:
		return 1, 0
	case decoder.OpSEXP:
		return 1, in.B
	case decoder.OpSTA:
		return 1, 3
	case decoder.OpDROP:
		return 0, 1
	case decoder.OpDUP:
		return 2, 1
	case decoder.OpELEM:
		return 1, 2
	case decoder.OpCJMP:
		return 0, 1
	case decoder.OpBEGIN, decoder.OpCBEGIN:
		return in.A + in.B + 6, 0
	case decoder.OpCALL:
		return 1, 0
	case decoder.OpPATT:
		if in.PattKind == decoder.PattBothAreStr {
			return 1, 2
		}
		return 1, 1
	case decoder.OpCALLBUILTIN:
		switch in.Builtin {
		case decoder.BuiltinLread:
			return 1, 0
		case decoder.BuiltinLwrite, decoder.BuiltinLlength, decoder.BuiltinLstring:
			return 1, 1
		case decoder.BuiltinBarray:
			return 1, in.A
		}
	}
	return 0, 0
}

func patchMaxDepth(code []byte, beginOffset, depth int) {
	patchAt := beginOffset - 4
	if patchAt < 0 || patchAt+4 > len(code) {
		return
	}
	word := binary.LittleEndian.Uint32(code[patchAt : patchAt+4])
	word = (word & 0x0000ffff) | (uint32(depth&0xffff) << 16)
	binary.LittleEndian.PutUint32(code[patchAt:patchAt+4], word)
}
