// Package interp is the fetch-decode-dispatch interpreter core (C7): a
// single operand stack holding both data and call frames, dispatching
// through internal/frame for activation records, internal/heap for
// aggregates, and internal/builtin for the five builtin calls.
package interp

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/dacsson/lamarik/internal/builtin"
	"github.com/dacsson/lamarik/internal/decoder"
	"github.com/dacsson/lamarik/internal/frame"
	"github.com/dacsson/lamarik/internal/heap"
	"github.com/dacsson/lamarik/internal/image"
	"github.com/dacsson/lamarik/internal/value"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// preFrameWords is the synthetic pre-frame of spec §4.7: eight metadata
// words (closure=empty, argc=2, localc=empty, savedFP=0, savedIP=0, two
// padding argument slots) plus a ninth word on top that main's BEGIN
// reads as its own incoming "saved IP". FP=0 after pushing these, so the
// slot at index 0 is the frame's own unused "previous slot".
var preFrameWords = [9]value.Word{
	value.Box(0), // [FP]   previous slot (unused)
	value.Box(0), // [FP+1] closure (none)
	value.Box(2), // [FP+2] argc (padding capacity for main's own params)
	value.Box(0), // [FP+3] localc (unused by the pre-frame itself)
	value.Box(0), // [FP+4] saved FP, zero marks this as the outermost frame
	value.Box(0), // [FP+5] saved IP, never returned to
	value.Box(0), // [FP+6] padding arg slot 0
	value.Box(0), // [FP+7] padding arg slot 1
	value.Box(0), // top: the "saved IP" main's BEGIN will collect
}

// Interp holds all process-scoped state: operand stack, globals, heap,
// and the current fetch-decode-dispatch position.
type Interp struct {
	img      *image.Image
	heap     *heap.Heap
	dispatch *builtin.Dispatcher
	maxDepth map[int]int
	logger   *zap.Logger
	ceiling  int

	stack   []value.Word
	globals []value.Word
	fp      int
	ip      int
	exited  bool
}

// New builds an interpreter over a verified image. maxDepth is the
// verifier's Result.MaxDepth; it is stored but not read by the dispatch
// loop, and the stack grows dynamically up to ceiling.
func New(img *image.Image, maxDepth map[int]int, h *heap.Heap, d *builtin.Dispatcher, logger *zap.Logger, ceiling int) *Interp {
	if logger == nil {
		logger = zap.NewNop()
	}
	globals := make([]value.Word, img.GlobalAreaSize)
	for i := range globals {
		globals[i] = value.Box(0)
	}
	return &Interp{
		img:      img,
		heap:     h,
		dispatch: d,
		maxDepth: maxDepth,
		logger:   logger,
		ceiling:  ceiling,
		globals:  globals,
	}
}

// Run locates the "main" public symbol, installs the pre-frame, and
// drives the fetch-decode-dispatch loop to completion.
func (vm *Interp) Run() error {
	mainOff, err := vm.findMain()
	if err != nil {
		return err
	}

	vm.stack = append(vm.stack, preFrameWords[:]...)
	vm.fp = 0
	vm.publish()
	vm.ip = mainOff

	for !vm.exited {
		in, next, err := decoder.Decode(vm.img.Code, vm.ip)
		if err != nil {
			return err
		}
		vm.logger.Debug("step", zap.Int("ip", vm.ip), zap.Int("op", int(in.Op)), zap.Int("height", len(vm.stack)))
		if err := vm.exec(in, next); err != nil {
			return errors.Wrapf(err, "at ip=%d", in.Offset)
		}
	}
	return vm.dispatch.Flush()
}

func (vm *Interp) findMain() (int, error) {
	for _, s := range vm.img.Symbols {
		name, err := vm.img.StringAtOffsetTrimmed(s.NameOffset)
		if err != nil {
			return 0, err
		}
		if name == "main" {
			return s.CodeOffset, nil
		}
	}
	return 0, errors.WithStack(&vmerr.InvalidFileFormat{Reason: "no public symbol named main"})
}

func (vm *Interp) publish() { vm.heap.PublishStackBounds(0, len(vm.stack)) }

func (vm *Interp) push(w value.Word) error {
	if len(vm.stack) >= vm.ceiling {
		return errors.WithStack(&vmerr.StackOverflow{IP: vm.ip, Height: len(vm.stack), Ceiling: vm.ceiling})
	}
	vm.stack = append(vm.stack, w)
	vm.publish()
	return nil
}

func (vm *Interp) pop() (value.Word, error) {
	if len(vm.stack) == 0 {
		return 0, errors.WithStack(&vmerr.StackUnderflow{IP: vm.ip, Height: 0, Pop: 1})
	}
	n := len(vm.stack) - 1
	w := vm.stack[n]
	vm.stack = vm.stack[:n]
	vm.publish()
	return w, nil
}

func (vm *Interp) top() (value.Word, error) {
	if len(vm.stack) == 0 {
		return 0, errors.WithStack(&vmerr.StackUnderflow{IP: vm.ip, Height: 0, Pop: 1})
	}
	return vm.stack[len(vm.stack)-1], nil
}

// popN pops n words and returns them in original push order, matching
// SEXP/Barray's "topmost becomes the last index" contract.
func (vm *Interp) popN(n int) ([]value.Word, error) {
	buf := make([]value.Word, n)
	for i := n - 1; i >= 0; i-- {
		w, err := vm.pop()
		if err != nil {
			return nil, err
		}
		buf[i] = w
	}
	return buf, nil
}

func (vm *Interp) currentClosure() (value.Word, error) { return frame.GetClosure(vm.stack, vm.fp) }

func (vm *Interp) currentMetadata() (frame.Metadata, error) { return frame.Read(vm.stack, vm.fp) }
