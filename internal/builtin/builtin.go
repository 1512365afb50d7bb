// Package builtin implements the five CALL-builtin targets (C9):
// Lread, Lwrite, Llength, Lstring, Barray.
package builtin

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/dacsson/lamarik/internal/heap"
	"github.com/dacsson/lamarik/internal/value"
	"github.com/dacsson/lamarik/internal/vmerr"
)

// Dispatcher holds the I/O streams and heap the five builtins operate
// against. Streams are buffered rather than issuing raw syscalls per
// call.
type Dispatcher struct {
	in  *bufio.Reader
	out *bufio.Writer
	h   *heap.Heap
}

// New wires a Dispatcher to the given streams and heap.
func New(in io.Reader, out io.Writer, h *heap.Heap) *Dispatcher {
	return &Dispatcher{in: bufio.NewReader(in), out: bufio.NewWriter(out), h: h}
}

// Flush drains the output buffer; the interpreter calls this once at a
// normal exit.
func (d *Dispatcher) Flush() error { return d.out.Flush() }

// Lread reads one decimal integer from stdin and boxes it.
func (d *Dispatcher) Lread() (value.Word, error) {
	var n int64
	if _, err := fmt.Fscan(d.in, &n); err != nil {
		return 0, errors.Wrap(err, "Lread")
	}
	return value.Box(n), nil
}

// Lwrite writes v's unboxed decimal value followed by a newline, and
// returns box(0) as its own result (lama's lwrite is unit-valued).
func (d *Dispatcher) Lwrite(v value.Word) (value.Word, error) {
	if !value.IsUnboxed(v) {
		return 0, errors.WithStack(&vmerr.InvalidType{Want: "unboxed", Got: "pointer"})
	}
	if _, err := fmt.Fprintf(d.out, "%d\n", value.Unbox(v)); err != nil {
		return 0, errors.Wrap(err, "Lwrite")
	}
	if err := d.out.Flush(); err != nil {
		return 0, errors.Wrap(err, "Lwrite")
	}
	return value.Box(0), nil
}

// Llength returns the boxed length of any aggregate.
func (d *Dispatcher) Llength(v value.Word) (value.Word, error) {
	if value.IsUnboxed(v) {
		return 0, errors.WithStack(&vmerr.InvalidType{Want: "aggregate", Got: "unboxed"})
	}
	return d.h.LengthOf(v)
}

// Lstring converts any value to its display string and allocates it as a
// heap string (including the NUL terminator the rest of the heap
// contract expects strings to carry).
func (d *Dispatcher) Lstring(v value.Word) (value.Word, error) {
	s, err := Display(d.h, v)
	if err != nil {
		return 0, err
	}
	return d.h.NewString(append([]byte(s), 0)), nil
}

// Barray constructs an array out of already-collected raw words (the
// interpreter is responsible for popping and reversing them per spec
// §4.7's SEXP/Barray "topmost becomes the last index" rule before
// calling this).
func (d *Dispatcher) Barray(words []value.Word) (value.Word, error) {
	return d.h.NewArray(words), nil
}

// Display renders v the way Lstring and a MatchFailed diagnostic do:
// unboxed integers print as decimal, strings print their contents,
// arrays and sexps print their members recursively, closures print as a
// function reference.
func Display(h *heap.Heap, v value.Word) (string, error) {
	if value.IsUnboxed(v) {
		return strconv.FormatInt(value.Unbox(v), 10), nil
	}

	kind, err := h.KindOf(v)
	if err != nil {
		return "", err
	}

	switch kind {
	case heap.KindString:
		b, err := h.Bytes(v)
		if err != nil {
			return "", err
		}
		return strings.TrimRight(string(b), "\x00"), nil
	case heap.KindArray:
		words, err := h.Words(v)
		if err != nil {
			return "", err
		}
		return displayMembers(h, "[", "]", words)
	case heap.KindSexp:
		words, err := h.Words(v)
		if err != nil {
			return "", err
		}
		name, _ := h.SexpTagName(v)
		if name == "" {
			name = "sexp"
		}
		if len(words) == 0 {
			return name, nil
		}
		members, err := displayMembers(h, "(", ")", words)
		if err != nil {
			return "", err
		}
		return name + " " + members, nil
	case heap.KindClosure:
		return "<closure>", nil
	default:
		return "", errors.WithStack(&vmerr.InvalidType{Want: "displayable", Got: kind.String()})
	}
}

func displayMembers(h *heap.Heap, open, shut string, words []value.Word) (string, error) {
	parts := make([]string, len(words))
	for i, w := range words {
		s, err := Display(h, w)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return open + strings.Join(parts, ", ") + shut, nil
}
