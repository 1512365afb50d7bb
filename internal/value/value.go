// Package value implements the tagged-word representation shared by every
// other lamarik package: the operand stack, the globals vector, and frame
// slots all hold Word, never a raw Go pointer or int.
package value

import "github.com/dacsson/lamarik/internal/vmerr"

// Word is a single tagged machine word as it lives on the operand stack.
// The low bit distinguishes an unboxed small integer (1) from a heap
// handle (0, always even). A heap handle is a 1-based index into a
// heap.Heap's object table, shifted left by one; there is no raw pointer
// arithmetic anywhere in this implementation.
type Word int64

// Nil is the canonical empty/absent word: handle 0 shifted into pointer
// position. It never refers to a live heap object.
const Nil Word = 0

// Box wraps a signed integer as an unboxed tagged word.
func Box(i int64) Word { return Word((i << 1) | 1) }

// Unbox reverses Box. Calling it on a heap handle silently returns
// garbage, matching the source contract that unbox is never applied to a
// value not known to be unboxed.
func Unbox(w Word) int64 { return int64(w) >> 1 }

// IsUnboxed reports whether w carries a small integer rather than a heap
// handle.
func IsUnboxed(w Word) bool { return w&1 == 1 }

// FromHandle packs a 1-based heap-table index into pointer position.
func FromHandle(handle int) Word { return Word(handle) << 1 }

// Handle unpacks a pointer word back into a heap-table index. Calling it
// on an unboxed word is a programming error in the caller; interpreter
// code only calls this once IsUnboxed has been checked.
func Handle(w Word) int { return int(w >> 1) }

// MustBeHandle returns Handle(w), failing with InvalidObjectPointer if w
// is actually an unboxed integer, the guard every heap.Kind-dispatching
// call site in the interpreter runs before touching the heap.
func MustBeHandle(w Word) (int, error) {
	if IsUnboxed(w) {
		return 0, &vmerr.InvalidObjectPointer{Word: int64(w)}
	}
	return Handle(w), nil
}
