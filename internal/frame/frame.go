// Package frame implements pure accessors over the call-activation record
// layout spec.md §3 lays out on the shared operand stack. Nothing here
// mutates or grows the stack itself; internal/interp owns that.
package frame

import (
	"github.com/pkg/errors"

	"github.com/dacsson/lamarik/internal/value"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// fieldCount is the number of metadata slots between FP and the first
// argument: closure, argc, localc, saved FP, saved IP.
const fieldCount = 5

// Metadata is the decoded activation record rooted at a frame pointer.
type Metadata struct {
	ClosureObj    value.Word
	NArgs         int
	NLocals       int
	SavedFP       int
	SavedIP       int
}

// Read decodes the metadata block at fp (stack[fp] is the slot before the
// frame; the five metadata words start at fp+1).
func Read(stack []value.Word, fp int) (Metadata, error) {
	if fp+fieldCount >= len(stack) {
		return Metadata{}, errors.WithStack(&vmerr.InvalidLoadIndex{IP: fp, Index: fp + fieldCount, Limit: len(stack)})
	}
	return Metadata{
		ClosureObj: stack[fp+1],
		NArgs:      int(value.Unbox(stack[fp+2])),
		NLocals:    int(value.Unbox(stack[fp+3])),
		SavedFP:    int(value.Unbox(stack[fp+4])),
		SavedIP:    int(value.Unbox(stack[fp+5])),
	}, nil
}

// ArgIndex and LocalIndex compute absolute stack slots for argument and
// local index, relative to fp and the given argument count.
func ArgIndex(fp, index int) int { return fp + 1 + fieldCount + index }

func LocalIndex(fp, nArgs, index int) int { return fp + 1 + fieldCount + nArgs + index }

// ArgAt and LocalAt read a slot by frame-relative index, bounds-checked
// against the metadata's own declared counts rather than just slice
// length, matching the source's stricter setter discipline.
func (m Metadata) ArgAt(stack []value.Word, fp, index int) (value.Word, error) {
	if index < 0 || index >= m.NArgs {
		return 0, errors.WithStack(&vmerr.InvalidLoadIndex{IP: fp, Index: index, Limit: m.NArgs})
	}
	i := ArgIndex(fp, index)
	if i < 0 || i >= len(stack) {
		return 0, errors.WithStack(&vmerr.InvalidLoadIndex{IP: fp, Index: i, Limit: len(stack)})
	}
	return stack[i], nil
}

func (m Metadata) LocalAt(stack []value.Word, fp, index int) (value.Word, error) {
	if index < 0 || index >= m.NLocals {
		return 0, errors.WithStack(&vmerr.InvalidLoadIndex{IP: fp, Index: index, Limit: m.NLocals})
	}
	i := LocalIndex(fp, m.NArgs, index)
	if i < 0 || i >= len(stack) {
		return 0, errors.WithStack(&vmerr.InvalidLoadIndex{IP: fp, Index: i, Limit: len(stack)})
	}
	return stack[i], nil
}

func (m Metadata) SetArgAt(stack []value.Word, fp, index int, v value.Word) error {
	if index < 0 || index >= m.NArgs {
		return errors.WithStack(&vmerr.InvalidStoreIndex{IP: fp, Index: index, Limit: m.NArgs})
	}
	i := ArgIndex(fp, index)
	if i < 0 || i >= len(stack) {
		return errors.WithStack(&vmerr.InvalidStoreIndex{IP: fp, Index: i, Limit: len(stack)})
	}
	stack[i] = v
	return nil
}

func (m Metadata) SetLocalAt(stack []value.Word, fp, index int, v value.Word) error {
	if index < 0 || index >= m.NLocals {
		return errors.WithStack(&vmerr.InvalidStoreIndex{IP: fp, Index: index, Limit: m.NLocals})
	}
	i := LocalIndex(fp, m.NArgs, index)
	if i < 0 || i >= len(stack) {
		return errors.WithStack(&vmerr.InvalidStoreIndex{IP: fp, Index: i, Limit: len(stack)})
	}
	stack[i] = v
	return nil
}

// SaveClosure and GetClosure address the closure slot at fp+1 directly.
func SaveClosure(stack []value.Word, fp int, closure value.Word) error {
	if fp+1 >= len(stack) {
		return errors.WithStack(&vmerr.InvalidStoreIndex{IP: fp, Index: fp + 1, Limit: len(stack)})
	}
	stack[fp+1] = closure
	return nil
}

func GetClosure(stack []value.Word, fp int) (value.Word, error) {
	if fp+1 >= len(stack) {
		return 0, errors.WithStack(&vmerr.InvalidLoadIndex{IP: fp, Index: fp + 1, Limit: len(stack)})
	}
	return stack[fp+1], nil
}

// Size returns the number of stack slots a frame with nArgs arguments and
// nLocals locals occupies, including the five metadata words.
func Size(nArgs, nLocals int) int { return fieldCount + nArgs + nLocals }
