// Package alloc assigns frame slots to the temps and stack-local bindings of
// a lowered function.
//
// Live ranges come from backward liveness over the instruction CFG, so a
// value that is live around a loop back edge covers the whole loop and a
// value live across a suspension covers the resume path. Slots are handed
// out by a linear scan and reused once a range has ended, only between
// values of the same kind. Parameters keep their positional slots for the
// whole function. Scope-field bindings live in scope objects and are never
// allocated here.
package alloc

import (
	"fmt"
	"sort"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/types"
)

// Config controls allocation.
type Config struct {
	// MaxLocals bounds the frame slot count; 0 means unbounded.
	MaxLocals int
	// Stackify keeps single-use temps on the evaluation stack.
	Stackify bool
}

// None marks a value that occupies no slot.
const None = -1

// Allocation is the frame layout of one function.
type Allocation struct {
	// TempSlot is the slot of each temp, or None when it is stack-resident
	// or never read.
	TempSlot []int
	// OnStack marks temps that stay on the evaluation stack between their
	// definition and their single use.
	OnStack []bool
	// Used counts the reads of each temp.
	Used []int
	// LocalSlot is the slot of each LIR local.
	LocalSlot []int
	// SlotKinds and SlotNames describe each frame slot. A reused slot keeps
	// the name of its first occupant.
	SlotKinds []types.Kind
	SlotNames []string
}

// Slots is the number of frame slots.
func (a *Allocation) Slots() int { return len(a.SlotKinds) }

// interval is the live range of one value, as instruction indices.
type interval struct {
	value      int // universe index: temps first, then locals
	start, end int
	kind       types.Kind
	name       string
}

// Allocate computes the frame layout of f.
func Allocate(f *lir.Function, cfg Config) (*Allocation, error) {
	nt := len(f.Kinds)
	a := &Allocation{
		TempSlot:  make([]int, nt),
		OnStack:   make([]bool, nt),
		Used:      make([]int, nt),
		LocalSlot: make([]int, len(f.Locals)),
	}
	for i := range a.TempSlot {
		a.TempSlot[i] = None
	}
	for i := range a.LocalSlot {
		a.LocalSlot[i] = None
	}
	for i := range f.Instrs {
		for _, t := range f.Instrs[i].Args {
			a.Used[t]++
		}
	}
	if cfg.Stackify {
		stackify(f, a)
	}

	// Parameters take slots 0..Params-1.
	for p := 0; p < f.Params; p++ {
		a.SlotKinds = append(a.SlotKinds, types.Boxed)
		a.SlotNames = append(a.SlotNames, fmt.Sprintf("%%arg%d", p))
	}
	for l, loc := range f.Locals {
		if loc.Param >= 0 && loc.Param < f.Params {
			a.LocalSlot[l] = loc.Param
			a.SlotNames[loc.Param] = loc.Name
		}
	}

	ranges := liveRanges(f, a)
	sort.SliceStable(ranges, func(i, j int) bool { return ranges[i].start < ranges[j].start })

	var active []interval
	free := make(map[types.Kind][]int)
	for _, iv := range ranges {
		// Expire ranges that ended before this one starts.
		kept := active[:0]
		for _, o := range active {
			if o.end < iv.start {
				s := a.slotOf(f, o.value)
				free[o.kind] = append(free[o.kind], s)
				continue
			}
			kept = append(kept, o)
		}
		active = kept

		var s int
		if pool := free[iv.kind]; len(pool) > 0 {
			sort.Ints(pool)
			s, free[iv.kind] = pool[0], pool[1:]
		} else {
			s = len(a.SlotKinds)
			a.SlotKinds = append(a.SlotKinds, iv.kind)
			a.SlotNames = append(a.SlotNames, iv.name)
		}
		if iv.value < nt {
			a.TempSlot[iv.value] = s
		} else {
			a.LocalSlot[iv.value-nt] = s
		}
		active = append(active, iv)
	}

	if cfg.MaxLocals > 0 && a.Slots() > cfg.MaxLocals {
		d := diag.New(diag.SlotCountExceeded, diag.Pos{Line: f.Pos.Line, Column: f.Pos.Col},
			"function needs %d frame slots, the limit is %d", a.Slots(), cfg.MaxLocals)
		d.Function = f.Name
		return nil, d
	}
	return a, nil
}

func (a *Allocation) slotOf(f *lir.Function, v int) int {
	if v < len(f.Kinds) {
		return a.TempSlot[v]
	}
	return a.LocalSlot[v-len(f.Kinds)]
}

// liveRanges returns the ranges of every temp and non-parameter local that
// needs a slot. A local live at entry is read before any write on some path
// and keeps a slot for the whole function, so it starts out undefined.
func liveRanges(f *lir.Function, a *Allocation) []interval {
	n := len(f.Instrs)
	nt := len(f.Kinds)
	nv := f.ValueCount()
	start := make([]int, nv)
	end := make([]int, nv)
	for v := range start {
		start[v], end[v] = n, -1
	}
	touch := func(v, i int) {
		if i < start[v] {
			start[v] = i
		}
		if i > end[v] {
			end[v] = i
		}
	}

	g := lir.BuildCFG(f)
	live := lir.ComputeLiveness(f, g)
	for i := 0; i < n; i++ {
		live.In[i].Each(func(v int) { touch(v, i) })
		live.Out[i].Each(func(v int) { touch(v, i) })
		f.Defs(i, func(v int) { touch(v, i) })
		f.Uses(i, func(v int) { touch(v, i) })
	}

	var out []interval
	for t := 0; t < nt; t++ {
		if a.OnStack[t] || a.Used[t] == 0 || end[t] < 0 {
			continue
		}
		out = append(out, interval{value: t, start: start[t], end: end[t], kind: f.Kind(lir.Temp(t)), name: lir.Temp(t).String()})
	}
	for l, loc := range f.Locals {
		if a.LocalSlot[l] != None {
			continue
		}
		v := f.LocalValue(l)
		if end[v] < 0 {
			continue
		}
		s, e := start[v], end[v]
		if n > 0 && live.In[0].Has(v) {
			s, e = 0, n-1
		}
		out = append(out, interval{value: v, start: s, end: e, kind: loc.Kind.Settle(), name: loc.Name})
	}
	return out
}

// stackify marks the temps that can stay on the evaluation stack: defined
// once, read once, as the first operand of the very next instruction. Join
// temps, suspension operands and values crossing a label never qualify.
func stackify(f *lir.Function, a *Allocation) {
	defs := make([]int, len(f.Kinds))
	for i := range f.Instrs {
		if d := f.Instrs[i].Dst; d != lir.NoTemp {
			defs[d]++
		}
	}
	for i := 0; i+1 < len(f.Instrs); i++ {
		def, use := &f.Instrs[i], &f.Instrs[i+1]
		t := def.Dst
		if t == lir.NoTemp || defs[t] != 1 || a.Used[t] != 1 {
			continue
		}
		if def.Op == lir.OpMaterialize || def.Op == lir.OpPhi {
			continue
		}
		if len(use.Args) == 0 || use.Args[0] != t {
			continue
		}
		switch use.Op {
		case lir.OpSuspend, lir.OpYield, lir.OpAwait, lir.OpEdge, lir.OpMaterialize:
			continue
		}
		a.OnStack[t] = true
	}
}
