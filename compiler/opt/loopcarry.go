package opt

import (
	"github.com/chazu/kiln/compiler/lir"
)

// RepairLoopCarried makes every use of a temp definitely defined. A temp
// read on a path where it was never computed is a stale copy of a binding
// from an earlier point, typically the previous loop iteration. When the
// temp carries a stack-local binding's value (it was loaded from the local
// or stored to it) the use is rewritten to reload the local, so paths that
// did not update the binding see its current value. Any other such use is
// reported as an invariant violation.
func RepairLoopCarried(f *lir.Function) (*lir.Function, error) {
	g := lir.BuildCFG(f)
	reach := g.Reachable()
	must := lir.MustDefined(f, g)

	carrier := make(map[lir.Temp]int)
	for _, in := range f.Instrs {
		switch in.Op {
		case lir.OpLoadLocal:
			if _, ok := carrier[in.Dst]; !ok {
				carrier[in.Dst] = in.Local
			}
		case lir.OpStoreLocal:
			if _, ok := carrier[in.Args[0]]; !ok {
				carrier[in.Args[0]] = in.Local
			}
		}
	}

	r := f.Clone()
	out := make([]lir.Instr, 0, len(f.Instrs))
	repaired := false
	for i, in := range lir.CopyInstrs(f.Instrs) {
		if reach[i] {
			for k, a := range in.Args {
				if must[i].Has(int(a)) {
					continue
				}
				l, ok := carrier[a]
				if !ok {
					return nil, &lir.InvariantError{
						Func:  f.Name,
						Stage: lir.StageJoined,
						Index: i,
						Op:    in.Op,
						Msg:   "temp " + a.String() + " used without a reaching definition",
					}
				}
				t := r.NewTemp(f.Kind(a))
				out = append(out, lir.Instr{Op: lir.OpLoadLocal, Dst: t, Local: l, Pos: in.Pos})
				in.Args[k] = t
				repaired = true
			}
		}
		out = append(out, in)
	}
	if !repaired {
		return f.WithInstrs(lir.CopyInstrs(f.Instrs)), nil
	}
	r.Instrs = out
	return r, nil
}
