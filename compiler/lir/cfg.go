package lir

import "math/bits"

// Bitset is a fixed-size set of small integers.
type Bitset []uint64

// NewBitset returns an empty set able to hold 0..n-1.
func NewBitset(n int) Bitset { return make(Bitset, (n+63)/64) }

func (s Bitset) Set(i int)      { s[i/64] |= 1 << (uint(i) % 64) }
func (s Bitset) Clear(i int)    { s[i/64] &^= 1 << (uint(i) % 64) }
func (s Bitset) Has(i int) bool { return s[i/64]&(1<<(uint(i)%64)) != 0 }

// Fill adds every element below n.
func (s Bitset) Fill(n int) {
	for i := 0; i < n; i++ {
		s.Set(i)
	}
}

// Copy returns an independent copy.
func (s Bitset) Copy() Bitset { return append(Bitset(nil), s...) }

// Union adds o to s and reports whether s changed.
func (s Bitset) Union(o Bitset) bool {
	changed := false
	for i := range s {
		n := s[i] | o[i]
		if n != s[i] {
			s[i] = n
			changed = true
		}
	}
	return changed
}

// Intersect keeps only the elements also in o.
func (s Bitset) Intersect(o Bitset) {
	for i := range s {
		s[i] &= o[i]
	}
}

// Equal reports whether s and o hold the same elements.
func (s Bitset) Equal(o Bitset) bool {
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// Len counts the elements.
func (s Bitset) Len() int {
	n := 0
	for _, w := range s {
		n += bits.OnesCount64(w)
	}
	return n
}

// Each calls fn for every element in increasing order.
func (s Bitset) Each(fn func(int)) {
	for wi, w := range s {
		for w != 0 {
			b := bits.TrailingZeros64(w)
			fn(wi*64 + b)
			w &^= 1 << uint(b)
		}
	}
}

// CFG is the instruction-level control-flow graph of a function.
type CFG struct {
	Succ [][]int
	Pred [][]int
}

// BuildCFG computes successors for every instruction. Instructions inside a
// protected region (between EnterTry and its handler label) also flow to the
// handler, as do the out-of-line return blocks of resume points. A Suspend
// flows to its resume label: the frame is preserved while suspended, so
// values live across the suspension stay in place.
func BuildCFG(f *Function) *CFG {
	n := len(f.Instrs)
	labels := f.LabelIndex()
	g := &CFG{Succ: make([][]int, n), Pred: make([][]int, n)}
	add := func(from, to int) {
		for _, s := range g.Succ[from] {
			if s == to {
				return
			}
		}
		g.Succ[from] = append(g.Succ[from], to)
		g.Pred[to] = append(g.Pred[to], from)
	}
	label := func(id int) (int, bool) {
		i, ok := labels[id]
		return i, ok
	}

	for i := range f.Instrs {
		in := &f.Instrs[i]
		switch in.Op {
		case OpJump:
			if t, ok := label(in.Target); ok {
				add(i, t)
			}
		case OpJumpIfFalse, OpJumpIfTrue:
			if t, ok := label(in.Target); ok {
				add(i, t)
			}
			if i+1 < n {
				add(i, i+1)
			}
		case OpReturn, OpThrow:
		case OpSuspend:
			if t, ok := label(in.Target); ok {
				add(i, t)
			}
		case OpEnterTry:
			if i+1 < n {
				add(i, i+1)
			}
			if t, ok := label(in.Target); ok {
				add(i, t)
			}
		default:
			if i+1 < n {
				add(i, i+1)
			}
		}
	}

	for i := range f.Instrs {
		if f.Instrs[i].Op != OpEnterTry {
			continue
		}
		h, ok := labels[f.Instrs[i].Target]
		if !ok || h <= i {
			continue
		}
		for j := i + 1; j < h; j++ {
			add(j, h)
		}
	}

	for _, rp := range f.Resume {
		start, ok := labels[rp.Return]
		if rp.Return < 0 || !ok {
			continue
		}
		for j := start + 1; j < n && f.Instrs[j].Op != OpLabel; j++ {
			for _, hl := range rp.Handlers {
				if h, ok := labels[hl]; ok {
					add(j, h)
				}
			}
		}
	}
	return g
}

// Reachable marks the instructions reachable from the entry.
func (g *CFG) Reachable() []bool {
	seen := make([]bool, len(g.Succ))
	if len(seen) == 0 {
		return seen
	}
	work := []int{0}
	seen[0] = true
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		for _, s := range g.Succ[i] {
			if !seen[s] {
				seen[s] = true
				work = append(work, s)
			}
		}
	}
	return seen
}

// Value numbering for dataflow: temps occupy 0..len(Kinds)-1 and locals
// follow them.

// ValueCount is the size of the value universe of f.
func (f *Function) ValueCount() int { return len(f.Kinds) + len(f.Locals) }

// LocalValue is the universe index of local l.
func (f *Function) LocalValue(l int) int { return len(f.Kinds) + l }

// Uses calls fn for every value read by instruction i.
func (f *Function) Uses(i int, fn func(v int)) {
	in := &f.Instrs[i]
	for _, a := range in.Args {
		if a != NoTemp {
			fn(int(a))
		}
	}
	if in.Op == OpLoadLocal {
		fn(f.LocalValue(in.Local))
	}
}

// Defs calls fn for every value written by instruction i.
func (f *Function) Defs(i int, fn func(v int)) {
	in := &f.Instrs[i]
	if in.Dst != NoTemp {
		fn(int(in.Dst))
	}
	if in.Op == OpStoreLocal {
		fn(f.LocalValue(in.Local))
	}
}

// Liveness is the result of backward live-variable analysis.
type Liveness struct {
	In  []Bitset
	Out []Bitset
}

// ComputeLiveness runs live-variable analysis over temps and locals.
func ComputeLiveness(f *Function, g *CFG) *Liveness {
	n := len(f.Instrs)
	nv := f.ValueCount()
	lv := &Liveness{In: make([]Bitset, n), Out: make([]Bitset, n)}
	for i := 0; i < n; i++ {
		lv.In[i] = NewBitset(nv)
		lv.Out[i] = NewBitset(nv)
	}
	for changed := true; changed; {
		changed = false
		for i := n - 1; i >= 0; i-- {
			out := lv.Out[i]
			for _, s := range g.Succ[i] {
				out.Union(lv.In[s])
			}
			in := out.Copy()
			f.Defs(i, func(v int) { in.Clear(v) })
			f.Uses(i, func(v int) { in.Set(v) })
			if !in.Equal(lv.In[i]) {
				lv.In[i] = in
				changed = true
			}
		}
	}
	return lv
}

// MustDefined runs forward must-be-defined analysis over temps. The result
// holds, per instruction, the temps defined on every path reaching it.
// Unreachable instructions see every temp as defined.
func MustDefined(f *Function, g *CFG) []Bitset {
	n := len(f.Instrs)
	nt := len(f.Kinds)
	in := make([]Bitset, n)
	out := make([]Bitset, n)
	for i := 0; i < n; i++ {
		in[i] = NewBitset(nt)
		out[i] = NewBitset(nt)
		if i > 0 {
			in[i].Fill(nt)
		}
		out[i].Fill(nt)
	}
	for changed := true; changed; {
		changed = false
		for i := 0; i < n; i++ {
			if i > 0 && len(g.Pred[i]) > 0 {
				acc := NewBitset(nt)
				acc.Fill(nt)
				for _, p := range g.Pred[i] {
					acc.Intersect(out[p])
				}
				in[i] = acc
			}
			o := in[i].Copy()
			if d := f.Instrs[i].Dst; d != NoTemp && int(d) < nt {
				o.Set(int(d))
			}
			if !o.Equal(out[i]) {
				out[i] = o
				changed = true
			}
		}
	}
	return in
}
