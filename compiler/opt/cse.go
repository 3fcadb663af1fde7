package opt

import (
	"github.com/chazu/kiln/compiler/lir"
)

type coercion struct {
	op  lir.Op
	src lir.Temp
}

// EliminateCoercions replaces a repeated ToNumber or ToBoolean of the same
// source temp within a basic block by a copy of the first result. Only
// Number and Boolean sources qualify: converting a boxed value may run a
// user-defined valueOf whose effects must happen once per occurrence.
func EliminateCoercions(f *lir.Function) *lir.Function {
	out := lir.CopyInstrs(f.Instrs)
	available := make(map[coercion]lir.Temp)
	for i := range out {
		in := &out[i]
		if in.Op == lir.OpLabel {
			clear(available)
			continue
		}
		if !in.Op.IsCoercion() || !f.Kind(in.Args[0]).IsUnboxed() {
			continue
		}
		key := coercion{in.Op, in.Args[0]}
		if first, ok := available[key]; ok {
			*in = lir.Instr{Op: lir.OpCopy, Dst: in.Dst, Args: []lir.Temp{first}, Pos: in.Pos}
			continue
		}
		available[key] = in.Dst
	}
	return f.WithInstrs(out)
}
