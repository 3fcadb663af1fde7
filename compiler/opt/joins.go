package opt

import "github.com/chazu/kiln/compiler/lir"

// MaterializeJoins replaces each join's Phi and Edge markers: every edge
// becomes a Materialize into the temp the Phi defined, at the point the
// value leaves its predecessor path. The Phi itself disappears, so no
// consumer can observe a merged value that was never written.
func MaterializeJoins(f *lir.Function) *lir.Function {
	dst := make(map[int]lir.Temp)
	for _, in := range f.Instrs {
		if in.Op == lir.OpPhi {
			dst[in.Target] = in.Dst
		}
	}
	if len(dst) == 0 {
		return f.WithInstrs(lir.CopyInstrs(f.Instrs))
	}

	out := make([]lir.Instr, 0, len(f.Instrs))
	for _, in := range lir.CopyInstrs(f.Instrs) {
		switch in.Op {
		case lir.OpPhi:
			continue
		case lir.OpEdge:
			t, ok := dst[in.Target]
			if !ok {
				// An edge into a join without a Phi feeds nothing.
				continue
			}
			in = lir.Instr{Op: lir.OpMaterialize, Dst: t, Args: in.Args, Pos: in.Pos}
		}
		out = append(out, in)
	}
	return f.WithInstrs(out)
}
