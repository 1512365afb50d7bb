// Package heap is the managed store for STRING, ARRAY, SEXP, and CLOSURE
// objects (C8). Objects live in a handle table rather than behind real Go
// pointers: a value.Word heap pointer is simply a 1-based index into that
// table shifted into pointer position, so collection is just "let Go's GC
// reclaim table slots nothing points at any more", see DESIGN.md for why
// a hand-rolled moving collector was not attempted.
package heap

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"

	"github.com/dacsson/lamarik/internal/value"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// Kind classifies a heap object, mirroring spec §3's four aggregate kinds.
type Kind int

const (
	KindString Kind = iota
	KindArray
	KindSexp
	KindClosure
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindSexp:
		return "sexp"
	case KindClosure:
		return "closure"
	default:
		return "unknown"
	}
}

// Special-cased tag hashes spec §4.7/§9 requires regardless of what the
// generic hash function below would produce for these two literals.
const (
	tagHashCons = 0x19E867
	tagHashNil  = 0x1C459
)

type object struct {
	kind Kind

	// STRING
	bytes []byte

	// ARRAY / SEXP: raw element words
	words []value.Word

	// SEXP
	tagHash int64
	tagName string // supplemental: kept alongside the hash so Lstring/FAIL
	// display can render "Cons (1, Nil)" instead of a bare hash; the
	// runtime contract (§4.7) only requires the hash for TAG/equality.

	// CLOSURE
	entryOffset int
}

// Heap is the handle table. The zero value is not usable; use New.
type Heap struct {
	objects []object // objects[0] is an unused sentinel so handle 0 is never live

	stackBottom, stackTop int
}

// New returns an empty heap.
func New() *Heap {
	return &Heap{objects: make([]object, 1)}
}

func (h *Heap) alloc(o object) value.Word {
	h.objects = append(h.objects, o)
	return value.FromHandle(len(h.objects) - 1)
}

func (h *Heap) resolve(w value.Word) (*object, error) {
	idx, err := value.MustBeHandle(w)
	if err != nil {
		return nil, err
	}
	if idx <= 0 || idx >= len(h.objects) {
		return nil, errors.WithStack(&vmerr.InvalidObjectPointer{Word: int64(w)})
	}
	return &h.objects[idx], nil
}

// NewString allocates a string object. bytes should include the trailing
// NUL the image's string table stores, matching new_string's contract.
func (h *Heap) NewString(b []byte) value.Word {
	cp := make([]byte, len(b))
	copy(cp, b)
	return h.alloc(object{kind: KindString, bytes: cp})
}

// NewArray allocates an array of the given raw words.
func (h *Heap) NewArray(words []value.Word) value.Word {
	cp := make([]value.Word, len(words))
	copy(cp, words)
	return h.alloc(object{kind: KindArray, words: cp})
}

// NewSexp allocates an s-expression with the given tag hash, the source
// tag name (for display purposes only), and members.
func (h *Heap) NewSexp(tagHash int64, tagName string, words []value.Word) value.Word {
	cp := make([]value.Word, len(words))
	copy(cp, words)
	return h.alloc(object{kind: KindSexp, tagHash: tagHash, tagName: tagName, words: cp})
}

// NewClosure allocates a closure: entryOffset is the code offset BEGIN
// lives at, captured are the already-resolved capture words.
func (h *Heap) NewClosure(entryOffset int, captured []value.Word) value.Word {
	cp := make([]value.Word, len(captured))
	copy(cp, captured)
	return h.alloc(object{kind: KindClosure, entryOffset: entryOffset, words: cp})
}

// KindOf classifies a heap pointer.
func (h *Heap) KindOf(w value.Word) (Kind, error) {
	o, err := h.resolve(w)
	if err != nil {
		return 0, err
	}
	return o.kind, nil
}

// LengthOf returns the boxed element count: byte count for strings
// (terminator excluded), member count otherwise.
func (h *Heap) LengthOf(w value.Word) (value.Word, error) {
	o, err := h.resolve(w)
	if err != nil {
		return 0, err
	}
	switch o.kind {
	case KindString:
		n := len(o.bytes)
		if n > 0 && o.bytes[n-1] == 0 {
			n--
		}
		return value.Box(int64(n)), nil
	case KindClosure:
		return value.Box(int64(len(o.words))), nil
	default:
		return value.Box(int64(len(o.words))), nil
	}
}

// Bytes returns a string object's raw bytes (including terminator).
func (h *Heap) Bytes(w value.Word) ([]byte, error) {
	o, err := h.resolve(w)
	if err != nil {
		return nil, err
	}
	if o.kind != KindString {
		return nil, errors.WithStack(&vmerr.InvalidType{Want: "string", Got: o.kind.String()})
	}
	return o.bytes, nil
}

// Words returns an array or sexp object's raw element words.
func (h *Heap) Words(w value.Word) ([]value.Word, error) {
	o, err := h.resolve(w)
	if err != nil {
		return nil, err
	}
	switch o.kind {
	case KindArray, KindSexp:
		return o.words, nil
	default:
		return nil, errors.WithStack(&vmerr.InvalidType{Want: "array or sexp", Got: o.kind.String()})
	}
}

// SexpTag returns a sexp object's tag hash.
func (h *Heap) SexpTag(w value.Word) (int64, error) {
	o, err := h.resolve(w)
	if err != nil {
		return 0, err
	}
	if o.kind != KindSexp {
		return 0, errors.WithStack(&vmerr.InvalidType{Want: "sexp", Got: o.kind.String()})
	}
	return o.tagHash, nil
}

// SexpTagName returns the sexp's source tag name, if one was supplied at
// allocation. May be empty for objects constructed with only a hash.
func (h *Heap) SexpTagName(w value.Word) (string, error) {
	o, err := h.resolve(w)
	if err != nil {
		return "", err
	}
	if o.kind != KindSexp {
		return "", errors.WithStack(&vmerr.InvalidType{Want: "sexp", Got: o.kind.String()})
	}
	return o.tagName, nil
}

// ClosureEntry returns a closure's code offset and captured words.
func (h *Heap) ClosureEntry(w value.Word) (int, []value.Word, error) {
	o, err := h.resolve(w)
	if err != nil {
		return 0, nil, err
	}
	if o.kind != KindClosure {
		return 0, nil, errors.WithStack(&vmerr.InvalidType{Want: "closure", Got: o.kind.String()})
	}
	return o.entryOffset, o.words, nil
}

// SetArrayElem, SetSexpElem, SetStringByte implement STA's three aggregate
// write cases; the interpreter dispatches on KindOf first.

func (h *Heap) SetArrayElem(w value.Word, idx int, v value.Word) error {
	o, err := h.resolve(w)
	if err != nil {
		return err
	}
	if o.kind != KindArray {
		return errors.WithStack(&vmerr.InvalidType{Want: "array", Got: o.kind.String()})
	}
	if idx < 0 || idx >= len(o.words) {
		return errors.WithStack(&vmerr.OutOfBoundsAccess{Index: idx, Length: len(o.words)})
	}
	o.words[idx] = v
	return nil
}

func (h *Heap) SetSexpElem(w value.Word, idx int, v value.Word) error {
	o, err := h.resolve(w)
	if err != nil {
		return err
	}
	if o.kind != KindSexp {
		return errors.WithStack(&vmerr.InvalidType{Want: "sexp", Got: o.kind.String()})
	}
	if idx < 0 || idx >= len(o.words) {
		return errors.WithStack(&vmerr.OutOfBoundsAccess{Index: idx, Length: len(o.words)})
	}
	o.words[idx] = v
	return nil
}

func (h *Heap) SetStringByte(w value.Word, idx int, b byte) error {
	o, err := h.resolve(w)
	if err != nil {
		return err
	}
	if o.kind != KindString {
		return errors.WithStack(&vmerr.InvalidType{Want: "string", Got: o.kind.String()})
	}
	if idx < 0 || idx >= len(o.bytes) {
		return errors.WithStack(&vmerr.OutOfBoundsAccess{Index: idx, Length: len(o.bytes)})
	}
	o.bytes[idx] = b
	return nil
}

// Predicate probes backing PATT.

func (h *Heap) IsString(w value.Word) bool  { return h.kindIs(w, KindString) }
func (h *Heap) IsArray(w value.Word) bool   { return h.kindIs(w, KindArray) }
func (h *Heap) IsSexp(w value.Word) bool    { return h.kindIs(w, KindSexp) }
func (h *Heap) IsClosure(w value.Word) bool { return h.kindIs(w, KindClosure) }

func (h *Heap) kindIs(w value.Word, k Kind) bool {
	o, err := h.resolve(w)
	if err != nil {
		return false
	}
	return o.kind == k
}

// StringsEqual compares two string objects byte-for-byte.
func (h *Heap) StringsEqual(a, b value.Word) (bool, error) {
	ab, err := h.Bytes(a)
	if err != nil {
		return false, err
	}
	bb, err := h.Bytes(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

// TagHash implements the runtime tag_hash function: "cons" and "nil" are
// pre-computed literals, everything else is hashed generically. Every
// other tag need only be self-consistent: two calls with the same bytes
// must agree, which is all SEXP/TAG ever require of it.
func TagHash(tag string) int64 {
	switch tag {
	case "cons":
		return tagHashCons
	case "nil":
		return tagHashNil
	default:
		return int64(xxhash.Sum64String(tag) & 0x3fffffff)
	}
}

// PublishStackBounds records the operand stack's live region. The
// interpreter calls this after every stack mutation and before every
// allocation, per spec §5 and §4.8's publish_stack_bounds contract, even
// though this heap's GC (Go's own) never reads it; the call site and the
// invariant it protects are what property 6 in spec §8 tests.
func (h *Heap) PublishStackBounds(bottom, top int) {
	h.stackBottom, h.stackTop = bottom, top
}

// StackBounds returns the most recently published bounds, for tests that
// assert the publish-before-allocate invariant.
func (h *Heap) StackBounds() (bottom, top int) { return h.stackBottom, h.stackTop }
