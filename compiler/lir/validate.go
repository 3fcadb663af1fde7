package lir

import (
	"fmt"

	"github.com/chazu/kiln/compiler/types"
)

// Stage is the pipeline point an LIR body is validated at.
type Stage uint8

const (
	StageBuilt   Stage = iota // builder output: Phi/Edge and Yield/Await allowed
	StageJoined               // after join materialization
	StageLowered              // after generator lowering
)

var stageNames = [...]string{"built", "joined", "lowered"}

func (s Stage) String() string { return stageNames[s] }

// InvariantError reports LIR that violates a structural invariant. It
// always indicates a compiler defect.
type InvariantError struct {
	Func  string
	Stage Stage
	Index int
	Op    Op
	Msg   string
}

func (e *InvariantError) Error() string {
	name := e.Func
	if name == "" {
		name = "<module>"
	}
	if e.Index < 0 {
		return fmt.Sprintf("lir %s (%s): %s", name, e.Stage, e.Msg)
	}
	return fmt.Sprintf("lir %s (%s) @%d %s: %s", name, e.Stage, e.Index, e.Op, e.Msg)
}

type validator struct {
	f     *Function
	stage Stage
}

func (v *validator) fail(i int, format string, args ...any) *InvariantError {
	e := &InvariantError{Func: v.f.Name, Stage: v.stage, Index: i, Msg: fmt.Sprintf(format, args...)}
	if i >= 0 && i < len(v.f.Instrs) {
		e.Op = v.f.Instrs[i].Op
	}
	return e
}

// Validate checks the structural invariants of f at the given stage and
// returns the first violation as an *InvariantError.
func Validate(f *Function, stage Stage) error {
	v := &validator{f: f, stage: stage}
	if err := v.labels(); err != nil {
		return err
	}
	if err := v.shapes(); err != nil {
		return err
	}
	if err := v.definitions(); err != nil {
		return err
	}
	return nil
}

func (v *validator) labels() error {
	defined := make(map[int]bool)
	for i, in := range v.f.Instrs {
		if in.Op != OpLabel {
			continue
		}
		if defined[in.Target] {
			return v.fail(i, "label L%d defined twice", in.Target)
		}
		defined[in.Target] = true
	}
	for i, in := range v.f.Instrs {
		switch in.Op {
		case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpEnterTry, OpSuspend:
			if !defined[in.Target] {
				return v.fail(i, "target L%d is not defined", in.Target)
			}
		}
	}
	if v.stage == StageLowered && v.f.IsSuspending() {
		for k, rp := range v.f.Resume {
			if !defined[rp.Label] {
				return v.fail(-1, "resume point %d has no resume label", k+1)
			}
		}
	}
	return nil
}

func (v *validator) temp(i int, t Temp) error {
	if t < 0 || int(t) >= len(v.f.Kinds) {
		return v.fail(i, "temp t%d out of range", t)
	}
	return nil
}

func (v *validator) shapes() error {
	f := v.f
	edges := make(map[int]int)
	phis := make(map[int]int)
	for i, in := range f.Instrs {
		if in.Dst != NoTemp {
			if err := v.temp(i, in.Dst); err != nil {
				return err
			}
		}
		for _, a := range in.Args {
			if err := v.temp(i, a); err != nil {
				return err
			}
		}
		switch in.Op {
		case OpLoadLocal, OpStoreLocal:
			if in.Local < 0 || in.Local >= len(f.Locals) {
				return v.fail(i, "local %d out of range", in.Local)
			}
			if lk := f.Locals[in.Local].Kind; in.Op == OpStoreLocal && lk.IsUnboxed() && f.Kind(in.Args[0]) != lk {
				return v.fail(i, "store of %s temp t%d into %s local %d", f.Kind(in.Args[0]), in.Args[0], lk, in.Local)
			}
		case OpEdge:
			if v.stage >= StageJoined {
				return v.fail(i, "join J%d was not materialized", in.Target)
			}
			edges[in.Target]++
		case OpPhi:
			if v.stage >= StageJoined {
				return v.fail(i, "join J%d was not materialized", in.Target)
			}
			phis[in.Target]++
		case OpYield, OpAwait:
			if v.stage >= StageLowered {
				return v.fail(i, "suspension point %d was not lowered", in.Field)
			}
		case OpJumpIfFalse, OpJumpIfTrue:
			if k := f.Kind(in.Args[0]); k != types.Boolean {
				return v.fail(i, "branch on %s temp t%d", k, in.Args[0])
			}
		case OpBinary:
			if in.Unboxed {
				for _, a := range in.Args {
					if k := f.Kind(a); k != types.Number {
						return v.fail(i, "unboxed %s on %s operand t%d", in.Operator, k, a)
					}
				}
			}
		case OpUnary:
			if in.Unboxed {
				want := types.Number
				if in.Operator == Not {
					want = types.Boolean
				}
				if k := f.Kind(in.Args[0]); k != want {
					return v.fail(i, "unboxed %s on %s operand t%d", in.Operator, k, in.Args[0])
				}
			}
		}
	}
	for j, n := range edges {
		if phis[j] != 1 {
			return v.fail(-1, "join J%d has %d edges and %d phis", j, n, phis[j])
		}
	}
	for j := range phis {
		if edges[j] == 0 {
			return v.fail(-1, "join J%d has no incoming edge", j)
		}
	}
	return nil
}

func (v *validator) definitions() error {
	f := v.f
	defs := make([]int, len(f.Kinds))
	materialized := make([]bool, len(f.Kinds))
	for _, in := range f.Instrs {
		if in.Dst == NoTemp {
			continue
		}
		defs[in.Dst]++
		if in.Op == OpMaterialize {
			materialized[in.Dst] = true
		}
	}
	for i, in := range f.Instrs {
		if in.Dst != NoTemp && defs[in.Dst] > 1 && !materialized[in.Dst] {
			return v.fail(i, "temp t%d has %d definitions outside a join", in.Dst, defs[in.Dst])
		}
		if in.Dst != NoTemp && materialized[in.Dst] && in.Op != OpMaterialize {
			return v.fail(i, "join temp t%d also defined by %s", in.Dst, in.Op)
		}
	}

	g := BuildCFG(f)
	reach := g.Reachable()
	must := MustDefined(f, g)
	for i, in := range f.Instrs {
		if !reach[i] {
			continue
		}
		for _, a := range in.Args {
			if !must[i].Has(int(a)) {
				return v.fail(i, "temp t%d used without a reaching definition", a)
			}
		}
	}
	return nil
}
