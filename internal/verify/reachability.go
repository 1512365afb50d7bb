// Package verify implements the reachability walker (C4) and the
// static verifier (C5): together they turn a raw, decoded-on-demand code
// section into one the interpreter can trust without re-checking bounds
// on every fetch.
package verify

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"github.com/dacsson/lamarik/internal/decoder"
)

// Reachability is the output of Walk: which offsets begin a decoded
// instruction reachable from some public entry point, which offsets are
// the target of some control-flow transfer, and the decoded instruction
// at each reachable offset (decoded exactly once, per spec §4.4).
type Reachability struct {
	Reachable    *bitset.BitSet
	JumpTargets  *bitset.BitSet
	Instructions map[int]decoder.Instruction
	Order        []int // reachable offsets, ascending
}

// Walk runs the FIFO worklist algorithm of spec §4.4 over code, seeded
// from entryPoints (the public-symbol table's code offsets).
func Walk(code []byte, entryPoints []int) (*Reachability, error) {
	n := uint(len(code))
	reachable := bitset.New(n)
	jumpTargets := bitset.New(n)
	instructions := make(map[int]decoder.Instruction)

	queue := append([]int(nil), entryPoints...)
	for len(queue) > 0 {
		off := queue[0]
		queue = queue[1:]

		if off < 0 || uint(off) >= n || reachable.Test(uint(off)) {
			continue
		}

		in, next, err := decoder.Decode(code, off)
		if err != nil {
			return nil, err
		}
		reachable.Set(uint(off))
		instructions[off] = in

		if !in.IsTerminal() {
			queue = append(queue, next)
		}

		switch in.Op {
		case decoder.OpJMP, decoder.OpCJMP:
			if in.A >= 0 && uint(in.A) < n {
				jumpTargets.Set(uint(in.A))
			}
			queue = append(queue, in.A)
		case decoder.OpCALL:
			queue = append(queue, in.A)
		case decoder.OpCLOSURE:
			queue = append(queue, in.A)
		}
	}

	order := make([]int, 0, len(instructions))
	for off := range instructions {
		order = append(order, off)
	}
	sort.Ints(order)

	return &Reachability{
		Reachable:    reachable,
		JumpTargets:  jumpTargets,
		Instructions: instructions,
		Order:        order,
	}, nil
}
