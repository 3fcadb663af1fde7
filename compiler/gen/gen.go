// Package gen lowers generator and async function bodies to explicit
// resumable state machines.
//
// Each yield or await becomes a Suspend carrying its resume point number,
// followed by the point's resume label and a dispatch on the resume mode.
// A ResumeSwitch at entry sends a resumed frame to the label of its saved
// state; state 0 falls through to the body. Values live across a suspension
// stay in frame slots, which the state record owns.
package gen

import (
	"fmt"

	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/types"
)

// Resume modes passed with a resume request.
const (
	ModeNext   = 0
	ModeThrow  = 1
	ModeReturn = 2
)

// Point is one resume point of a state machine.
type Point struct {
	Await   bool
	Label   int   // resume label
	Return  int   // label of the return-routing block, -1 for awaits
	Pending []int // finally regions to run on a return request, innermost first
}

// StateMachine describes the states of a lowered function: state 0 is the
// entry, state k resumes at Points[k-1], and a completed machine never
// resumes.
type StateMachine struct {
	Async  bool
	Points []Point
}

// States counts the entry, resume and completed states.
func (m *StateMachine) States() int { return len(m.Points) + 2 }

func (m *StateMachine) String() string {
	kind := "generator"
	if m.Async {
		kind = "async"
	}
	return fmt.Sprintf("%s state machine: %d resume points", kind, len(m.Points))
}

// Lower rewrites the suspension points of f. Functions that never suspend
// are returned unchanged with a nil machine.
func Lower(f *lir.Function) (*lir.Function, *StateMachine, error) {
	if !f.IsSuspending() {
		return f, nil, nil
	}
	g := f.Clone()
	m := &StateMachine{Async: f.Async}
	out := make([]lir.Instr, 0, len(f.Instrs)+8*len(f.Resume)+1)
	out = append(out, lir.Instr{Op: lir.OpResumeSwitch, Dst: lir.NoTemp, Pos: f.Pos})

	emit := func(in lir.Instr) { out = append(out, in) }
	value := func(k types.Kind, in lir.Instr) lir.Temp {
		in.Dst = g.NewTemp(k)
		emit(in)
		return in.Dst
	}
	effect := func(in lir.Instr) {
		in.Dst = lir.NoTemp
		emit(in)
	}

	for _, in := range f.Instrs {
		if in.Op != lir.OpYield && in.Op != lir.OpAwait {
			emit(in)
			continue
		}
		k := in.Field
		if k < 1 || k > len(g.Resume) {
			return nil, nil, &lir.InvariantError{Func: f.Name, Stage: lir.StageJoined, Index: -1, Op: in.Op,
				Msg: fmt.Sprintf("suspension names unknown resume point %d", k)}
		}
		rp := &g.Resume[k-1]
		if (in.Op == lir.OpAwait) != rp.Await {
			return nil, nil, &lir.InvariantError{Func: f.Name, Stage: lir.StageJoined, Index: -1, Op: in.Op,
				Msg: fmt.Sprintf("resume point %d has the wrong kind", k)}
		}
		rp.Label = g.NewLabel()
		pos := in.Pos

		effect(lir.Instr{Op: lir.OpSuspend, Field: k, Target: rp.Label, Args: in.Args, Pos: pos})
		effect(lir.Instr{Op: lir.OpLabel, Target: rp.Label, Pos: pos})
		mode := value(types.Number, lir.Instr{Op: lir.OpResumeMode, Pos: pos})

		// throw: raise the resume value at the suspension point.
		notThrow := g.NewLabel()
		isThrow := value(types.Boolean, modeTest(mode, ModeThrow, g, emit, pos))
		effect(lir.Instr{Op: lir.OpJumpIfFalse, Target: notThrow, Args: []lir.Temp{isThrow}, Pos: pos})
		exc := value(types.Boxed, lir.Instr{Op: lir.OpResumeValue, Pos: pos})
		effect(lir.Instr{Op: lir.OpThrow, Args: []lir.Temp{exc}, Pos: pos})
		effect(lir.Instr{Op: lir.OpLabel, Target: notThrow, Pos: pos})

		// return: leave through the pending finally regions.
		if rp.Return >= 0 {
			mode := value(types.Number, lir.Instr{Op: lir.OpResumeMode, Pos: pos})
			isReturn := value(types.Boolean, modeTest(mode, ModeReturn, g, emit, pos))
			effect(lir.Instr{Op: lir.OpJumpIfTrue, Target: rp.Return, Args: []lir.Temp{isReturn}, Pos: pos})
		}

		emit(lir.Instr{Op: lir.OpResumeValue, Dst: in.Dst, Pos: pos})

		m.Points = append(m.Points, Point{
			Await:   rp.Await,
			Label:   rp.Label,
			Return:  rp.Return,
			Pending: append([]int(nil), rp.Pending...),
		})
	}
	g.Instrs = out
	if len(m.Points) != len(g.Resume) {
		return nil, nil, &lir.InvariantError{Func: f.Name, Stage: lir.StageLowered, Index: -1,
			Msg: fmt.Sprintf("%d resume points declared, %d lowered", len(g.Resume), len(m.Points))}
	}
	if err := lir.Validate(g, lir.StageLowered); err != nil {
		return nil, nil, err
	}
	return g, m, nil
}

// modeTest emits the constant for want and returns the comparison of mode
// against it, ready for value.
func modeTest(mode lir.Temp, want int, g *lir.Function, emit func(lir.Instr), pos lir.Pos) lir.Instr {
	c := g.NewTemp(types.Number)
	emit(lir.Instr{Op: lir.OpConst, Dst: c, Lit: lir.Number(float64(want)), Pos: pos})
	return lir.Instr{Op: lir.OpBinary, Operator: lir.StrictEq, Unboxed: true, Args: []lir.Temp{mode, c}, Pos: pos}
}
