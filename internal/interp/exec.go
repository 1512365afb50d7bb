package interp

import (
	"github.com/pkg/errors"

	"github.com/dacsson/lamarik/internal/builtin"
	"github.com/dacsson/lamarik/internal/decoder"
	"github.com/dacsson/lamarik/internal/frame"
	"github.com/dacsson/lamarik/internal/heap"
	"github.com/dacsson/lamarik/internal/value"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// exec runs one decoded instruction. next is the ip decode already
// advanced past it; exec sets vm.ip to next first, and control-flow
// instructions then override it.
func (vm *Interp) exec(in decoder.Instruction, next int) error {
	vm.ip = next

	switch in.Op {
	case decoder.OpNOP, decoder.OpLINE:
		return nil

	case decoder.OpHALT:
		vm.exited = true
		return nil

	case decoder.OpCONST:
		return vm.push(value.Box(int64(in.A)))

	case decoder.OpSTRING:
		raw, err := vm.img.StringAtOffset(in.A)
		if err != nil {
			return err
		}
		return vm.push(vm.heap.NewString(raw))

	case decoder.OpSEXP:
		return vm.execSexp(in)

	case decoder.OpARRAY:
		return vm.execArrayCheck(in)

	case decoder.OpTAG:
		return vm.execTag(in)

	case decoder.OpBINOP:
		return vm.execBinop(in)

	case decoder.OpSTA:
		return vm.execSta(in)

	case decoder.OpSTI, decoder.OpLOADREF:
		what := "STI"
		if in.Op == decoder.OpLOADREF {
			what = "LOADREF"
		}
		return errors.WithStack(&vmerr.UnreachableInstructionRejected{IP: in.Offset, What: what})

	case decoder.OpJMP:
		vm.ip = in.A
		return nil

	case decoder.OpCJMP:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		n := value.Unbox(v)
		cond := (in.CjmpKind == decoder.CjmpIsZero && n == 0) || (in.CjmpKind == decoder.CjmpIsNonZero && n != 0)
		if cond {
			vm.ip = in.A
		}
		return nil

	case decoder.OpDROP:
		_, err := vm.pop()
		return err

	case decoder.OpDUP:
		v, err := vm.top()
		if err != nil {
			return err
		}
		return vm.push(v)

	case decoder.OpSWAP:
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		if err := vm.push(b); err != nil {
			return err
		}
		return vm.push(a)

	case decoder.OpELEM:
		return vm.execElem()

	case decoder.OpLOAD:
		return vm.execLoad(in)

	case decoder.OpSTORE:
		return vm.execStore(in)

	case decoder.OpBEGIN, decoder.OpCBEGIN:
		return vm.execBegin(in)

	case decoder.OpEND, decoder.OpRET:
		return vm.execEnd()

	case decoder.OpCALL:
		return vm.execCall(in, next)

	case decoder.OpCALLC:
		return vm.execCallc(in, next)

	case decoder.OpCALLBUILTIN:
		return vm.execCallBuiltin(in)

	case decoder.OpCLOSURE:
		return vm.execClosure(in)

	case decoder.OpPATT:
		return vm.execPatt(in)

	case decoder.OpFAIL:
		return vm.execFail(in)

	default:
		return errors.WithStack(&vmerr.InvalidOpcode{Offset: in.Offset})
	}
}

func (vm *Interp) execBinop(in decoder.Instruction) error {
	r, err := vm.pop()
	if err != nil {
		return err
	}
	l, err := vm.pop()
	if err != nil {
		return err
	}
	lv, rv := value.Unbox(l), value.Unbox(r)

	var result int64
	switch in.BinOp {
	case decoder.BinADD:
		result = lv + rv
	case decoder.BinSUB:
		result = lv - rv
	case decoder.BinMUL:
		result = lv * rv
	case decoder.BinDIV:
		if rv == 0 {
			return errors.WithStack(&vmerr.DivisionByZero{IP: in.Offset})
		}
		result = lv / rv
	case decoder.BinMOD:
		if rv == 0 {
			return errors.WithStack(&vmerr.DivisionByZero{IP: in.Offset})
		}
		result = lv % rv
	case decoder.BinLT:
		result = boolToInt(lv < rv)
	case decoder.BinLEQ:
		result = boolToInt(lv <= rv)
	case decoder.BinGT:
		result = boolToInt(lv > rv)
	case decoder.BinGEQ:
		result = boolToInt(lv >= rv)
	case decoder.BinEQ:
		result = boolToInt(lv == rv)
	case decoder.BinNEQ:
		result = boolToInt(lv != rv)
	case decoder.BinAND:
		result = boolToInt(lv != 0 && rv != 0)
	case decoder.BinOR:
		result = boolToInt(lv != 0 || rv != 0)
	default:
		return errors.WithStack(&vmerr.InvalidOpcode{Offset: in.Offset})
	}
	return vm.push(value.Box(result))
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func (vm *Interp) execSexp(in decoder.Instruction) error {
	words, err := vm.popN(in.B)
	if err != nil {
		return err
	}
	tagName, err := vm.img.StringAtOffsetTrimmed(in.A)
	if err != nil {
		return err
	}
	ptr := vm.heap.NewSexp(heap.TagHash(tagName), tagName, words)
	return vm.push(ptr)
}

func (vm *Interp) execArrayCheck(in decoder.Instruction) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	result := int64(0)
	if !value.IsUnboxed(v) {
		if vm.heap.IsArray(v) {
			words, _ := vm.heap.Words(v)
			if len(words) == in.A {
				result = 1
			}
		}
	}
	return vm.push(value.Box(result))
}

func (vm *Interp) execTag(in decoder.Instruction) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	result := int64(0)
	if !value.IsUnboxed(v) && vm.heap.IsSexp(v) {
		words, _ := vm.heap.Words(v)
		tagHash, _ := vm.heap.SexpTag(v)
		wantTag, err := vm.img.StringAtOffsetTrimmed(in.A)
		if err != nil {
			return err
		}
		if tagHash == heap.TagHash(wantTag) && len(words) == in.B {
			result = 1
		}
	}
	return vm.push(value.Box(result))
}

func (vm *Interp) execSta(in decoder.Instruction) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	idxWord, err := vm.pop()
	if err != nil {
		return err
	}
	agg, err := vm.pop()
	if err != nil {
		return err
	}
	idx := int(value.Unbox(idxWord))

	kind, err := vm.heap.KindOf(agg)
	if err != nil {
		return err
	}
	switch kind {
	case heap.KindArray:
		err = vm.heap.SetArrayElem(agg, idx, v)
	case heap.KindSexp:
		err = vm.heap.SetSexpElem(agg, idx, v)
	case heap.KindString:
		err = vm.heap.SetStringByte(agg, idx, byte(value.Unbox(v)))
	default:
		err = errors.WithStack(&vmerr.InvalidType{IP: in.Offset, Want: "aggregate", Got: kind.String()})
	}
	if err != nil {
		return err
	}
	return vm.push(agg)
}

func (vm *Interp) execElem() error {
	idxWord, err := vm.pop()
	if err != nil {
		return err
	}
	agg, err := vm.pop()
	if err != nil {
		return err
	}
	words, err := vm.heap.Words(agg)
	if err != nil {
		return err
	}
	idx := int(value.Unbox(idxWord))
	if idx < 0 || idx >= len(words) {
		return errors.WithStack(&vmerr.OutOfBoundsAccess{Index: idx, Length: len(words)})
	}
	return vm.push(words[idx])
}

func (vm *Interp) execLoad(in decoder.Instruction) error {
	switch in.Rel {
	case decoder.RelGlobal:
		if in.A < 0 || in.A >= len(vm.globals) {
			return errors.WithStack(&vmerr.InvalidLoadIndex{IP: in.Offset, Index: in.A, Limit: len(vm.globals)})
		}
		return vm.push(vm.globals[in.A])
	case decoder.RelLocal:
		m, err := vm.currentMetadata()
		if err != nil {
			return err
		}
		v, err := m.LocalAt(vm.stack, vm.fp, in.A)
		if err != nil {
			return err
		}
		return vm.push(v)
	case decoder.RelArg:
		m, err := vm.currentMetadata()
		if err != nil {
			return err
		}
		v, err := m.ArgAt(vm.stack, vm.fp, in.A)
		if err != nil {
			return err
		}
		return vm.push(v)
	case decoder.RelCapture:
		closure, err := vm.currentClosure()
		if err != nil {
			return err
		}
		_, captured, err := vm.heap.ClosureEntry(closure)
		if err != nil {
			return err
		}
		if in.A < 0 || in.A >= len(captured) {
			return errors.WithStack(&vmerr.InvalidLoadIndex{IP: in.Offset, Index: in.A, Limit: len(captured)})
		}
		return vm.push(captured[in.A])
	default:
		return errors.WithStack(&vmerr.InvalidOpcode{Offset: in.Offset})
	}
}

func (vm *Interp) execStore(in decoder.Instruction) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	switch in.Rel {
	case decoder.RelGlobal:
		if in.A < 0 || in.A >= len(vm.globals) {
			return errors.WithStack(&vmerr.InvalidStoreIndex{IP: in.Offset, Index: in.A, Limit: len(vm.globals)})
		}
		vm.globals[in.A] = v
	case decoder.RelLocal:
		m, err := vm.currentMetadata()
		if err != nil {
			return err
		}
		if err := m.SetLocalAt(vm.stack, vm.fp, in.A, v); err != nil {
			return err
		}
	case decoder.RelArg:
		m, err := vm.currentMetadata()
		if err != nil {
			return err
		}
		if err := m.SetArgAt(vm.stack, vm.fp, in.A, v); err != nil {
			return err
		}
	case decoder.RelCapture:
		closure, err := vm.currentClosure()
		if err != nil {
			return err
		}
		_, captured, err := vm.heap.ClosureEntry(closure)
		if err != nil {
			return err
		}
		if in.A < 0 || in.A >= len(captured) {
			return errors.WithStack(&vmerr.InvalidStoreIndex{IP: in.Offset, Index: in.A, Limit: len(captured)})
		}
		captured[in.A] = v
	default:
		return errors.WithStack(&vmerr.InvalidOpcode{Offset: in.Offset})
	}
	return vm.push(v)
}

// execBegin builds a new activation record in place on the shared stack.
// For BEGIN, the top of stack is the caller's saved IP with no closure;
// for CBEGIN, top is the closure object with the saved IP one slot below.
func (vm *Interp) execBegin(in decoder.Instruction) error {
	var closureWord, savedIPWord value.Word
	var err error
	if in.Op == decoder.OpCBEGIN {
		closureWord, err = vm.pop()
		if err != nil {
			return err
		}
		savedIPWord, err = vm.pop()
		if err != nil {
			return err
		}
	} else {
		closureWord = value.Box(0)
		savedIPWord, err = vm.pop()
		if err != nil {
			return err
		}
	}

	args, err := vm.popN(in.A)
	if err != nil {
		return err
	}

	oldFP := vm.fp

	if err := vm.push(closureWord); err != nil {
		return err
	}
	if err := vm.push(value.Box(int64(in.A))); err != nil {
		return err
	}
	if err := vm.push(value.Box(int64(in.B))); err != nil {
		return err
	}
	if err := vm.push(value.Box(int64(oldFP))); err != nil {
		return err
	}
	if err := vm.push(savedIPWord); err != nil {
		return err
	}
	newFP := len(vm.stack) - 5 - 1
	for _, a := range args {
		if err := vm.push(a); err != nil {
			return err
		}
	}
	for i := 0; i < in.B; i++ {
		if err := vm.push(value.Box(0)); err != nil {
			return err
		}
	}

	vm.fp = newFP
	return nil
}

func (vm *Interp) execEnd() error {
	retval, err := vm.pop()
	if err != nil {
		return err
	}
	m, err := frame.Read(vm.stack, vm.fp)
	if err != nil {
		return err
	}

	vm.stack = vm.stack[:vm.fp+1]
	vm.publish()
	vm.fp = m.SavedFP

	if err := vm.push(retval); err != nil {
		return err
	}

	if m.SavedFP == 0 {
		vm.exited = true
		return nil
	}
	vm.ip = m.SavedIP
	return nil
}

func (vm *Interp) execCall(in decoder.Instruction, next int) error {
	if err := vm.push(value.Box(int64(next))); err != nil {
		return err
	}
	vm.ip = in.A
	return nil
}

func (vm *Interp) execCallc(in decoder.Instruction, next int) error {
	arity := in.A
	idx := len(vm.stack) - 1 - arity
	if idx < 0 {
		return errors.WithStack(&vmerr.StackUnderflow{IP: in.Offset, Height: len(vm.stack), Pop: arity + 1})
	}
	closureWord := vm.stack[idx]
	copy(vm.stack[idx:], vm.stack[idx+1:])
	vm.stack = vm.stack[:len(vm.stack)-1]
	vm.publish()

	if err := vm.push(value.Box(int64(next))); err != nil {
		return err
	}
	if err := vm.push(closureWord); err != nil {
		return err
	}

	entryOff, _, err := vm.heap.ClosureEntry(closureWord)
	if err != nil {
		return err
	}
	vm.ip = entryOff
	return nil
}

func (vm *Interp) execCallBuiltin(in decoder.Instruction) error {
	switch in.Builtin {
	case decoder.BuiltinLread:
		v, err := vm.dispatch.Lread()
		if err != nil {
			return err
		}
		return vm.push(v)
	case decoder.BuiltinLwrite:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		r, err := vm.dispatch.Lwrite(v)
		if err != nil {
			return err
		}
		return vm.push(r)
	case decoder.BuiltinLlength:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		r, err := vm.dispatch.Llength(v)
		if err != nil {
			return err
		}
		return vm.push(r)
	case decoder.BuiltinLstring:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		r, err := vm.dispatch.Lstring(v)
		if err != nil {
			return err
		}
		return vm.push(r)
	case decoder.BuiltinBarray:
		words, err := vm.popN(in.A)
		if err != nil {
			return err
		}
		r, err := vm.dispatch.Barray(words)
		if err != nil {
			return err
		}
		return vm.push(r)
	default:
		return errors.WithStack(&vmerr.InvalidOpcode{Offset: in.Offset})
	}
}

func (vm *Interp) execClosure(in decoder.Instruction) error {
	words := make([]value.Word, len(in.Captures))
	for i, c := range in.Captures {
		v, err := vm.resolveCapture(in.Offset, c)
		if err != nil {
			return err
		}
		words[i] = v
	}
	ptr := vm.heap.NewClosure(in.A, words)
	return vm.push(ptr)
}

func (vm *Interp) resolveCapture(ip int, c decoder.Capture) (value.Word, error) {
	switch c.Rel {
	case decoder.RelGlobal:
		if c.Index < 0 || c.Index >= len(vm.globals) {
			return 0, errors.WithStack(&vmerr.InvalidLoadIndex{IP: ip, Index: c.Index, Limit: len(vm.globals)})
		}
		return vm.globals[c.Index], nil
	case decoder.RelLocal:
		m, err := vm.currentMetadata()
		if err != nil {
			return 0, err
		}
		return m.LocalAt(vm.stack, vm.fp, c.Index)
	case decoder.RelArg:
		m, err := vm.currentMetadata()
		if err != nil {
			return 0, err
		}
		return m.ArgAt(vm.stack, vm.fp, c.Index)
	case decoder.RelCapture:
		closure, err := vm.currentClosure()
		if err != nil {
			return 0, err
		}
		_, captured, err := vm.heap.ClosureEntry(closure)
		if err != nil {
			return 0, err
		}
		if c.Index < 0 || c.Index >= len(captured) {
			return 0, errors.WithStack(&vmerr.InvalidLoadIndex{IP: ip, Index: c.Index, Limit: len(captured)})
		}
		return captured[c.Index], nil
	default:
		return 0, errors.WithStack(&vmerr.InvalidOpcode{Offset: ip})
	}
}

func (vm *Interp) execPatt(in decoder.Instruction) error {
	switch in.PattKind {
	case decoder.PattBothAreStr:
		b, err := vm.pop()
		if err != nil {
			return err
		}
		a, err := vm.pop()
		if err != nil {
			return err
		}
		result := int64(0)
		if !value.IsUnboxed(a) && !value.IsUnboxed(b) && vm.heap.IsString(a) && vm.heap.IsString(b) {
			eq, err := vm.heap.StringsEqual(a, b)
			if err != nil {
				return err
			}
			if eq {
				result = 1
			}
		}
		return vm.push(value.Box(result))
	case decoder.PattIsStr, decoder.PattIsArray, decoder.PattIsSExp, decoder.PattIsLambda:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		result := int64(0)
		if !value.IsUnboxed(v) {
			switch in.PattKind {
			case decoder.PattIsStr:
				result = boolToInt(vm.heap.IsString(v))
			case decoder.PattIsArray:
				result = boolToInt(vm.heap.IsArray(v))
			case decoder.PattIsSExp:
				result = boolToInt(vm.heap.IsSexp(v))
			case decoder.PattIsLambda:
				result = boolToInt(vm.heap.IsClosure(v))
			}
		}
		return vm.push(value.Box(result))
	case decoder.PattIsRef:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		return vm.push(value.Box(boolToInt(!value.IsUnboxed(v))))
	case decoder.PattIsVal:
		v, err := vm.pop()
		if err != nil {
			return err
		}
		return vm.push(value.Box(boolToInt(value.IsUnboxed(v))))
	default:
		return errors.WithStack(&vmerr.InvalidOpcode{Offset: in.Offset})
	}
}

func (vm *Interp) execFail(in decoder.Instruction) error {
	v, err := vm.pop()
	if err != nil {
		return err
	}
	s, err := builtin.Display(vm.heap, v)
	if err != nil {
		return err
	}
	return errors.WithStack(&vmerr.MatchFailed{Line: in.A, Col: in.B, Display: s})
}
