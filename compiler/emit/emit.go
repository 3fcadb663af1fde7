// Package emit translates allocated LIR into stack bytecode.
//
// The emitter tracks the symbolic evaluation-stack depth of every
// instruction from the opcode metadata table. The deepest point becomes the
// chunk's MaxStack. A stack that is not empty at a label, a protected-region
// boundary or a suspension point is a compiler defect and is reported as an
// invariant violation rather than emitted.
package emit

import (
	"fmt"
	"math"

	"github.com/chazu/kiln/compiler/alloc"
	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/gen"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/pkg/bytecode"
)

// Config controls emission.
type Config struct {
	// MaxStack bounds the evaluation-stack depth; 0 means unbounded.
	MaxStack int
	// Debug records a source map and slot names.
	Debug bool
}

type patch struct {
	at    int // placeholder offset
	label int
	instr int
}

type emitter struct {
	f   *lir.Function
	a   *alloc.Allocation
	cfg Config
	c   *bytecode.Chunk

	depth int
	max   int
	// top is the stack-resident temp currently on the evaluation stack.
	top lir.Temp

	labels  map[int]int
	patches []patch
	index   int
}

// Function emits the chunk of f. m is the state machine of a suspending
// function and nil otherwise.
func Function(f *lir.Function, a *alloc.Allocation, m *gen.StateMachine, cfg Config) (*bytecode.Chunk, error) {
	e := &emitter{
		f:      f,
		a:      a,
		cfg:    cfg,
		c:      bytecode.NewChunk(),
		top:    lir.NoTemp,
		labels: make(map[int]int),
	}
	e.c.Name = f.Name
	e.c.ParamCount = f.Params
	e.c.LocalCount = a.Slots()
	for _, fl := range []struct {
		set  bool
		flag bytecode.ChunkFlags
	}{
		{f.Generator, bytecode.ChunkFlagGenerator},
		{f.Async, bytecode.ChunkFlagAsync},
		{f.Arrow, bytecode.ChunkFlagArrow},
		{f.HasDefaults, bytecode.ChunkFlagDefaults},
		{f.Rest, bytecode.ChunkFlagRest},
	} {
		if fl.set {
			e.c.Flags |= fl.flag
		}
	}

	for i := range f.Instrs {
		e.index = i
		if err := e.instr(&f.Instrs[i]); err != nil {
			return nil, err
		}
	}
	if e.top != lir.NoTemp || e.depth != 0 {
		return nil, e.fail("function ends with %d values on the stack", e.depth)
	}
	for _, p := range e.patches {
		off, ok := e.labels[p.label]
		if !ok {
			e.index = p.instr
			return nil, e.fail("jump to undefined label L%d", p.label)
		}
		e.c.PatchJumpTo(p.at, off)
	}
	if m != nil {
		for k, p := range m.Points {
			off, ok := e.labels[p.Label]
			if !ok {
				e.index = -1
				return nil, e.fail("resume point %d has no label", k+1)
			}
			e.c.Resume = append(e.c.Resume, bytecode.ResumeEntry{
				Offset:  uint32(off),
				Await:   p.Await,
				Pending: append([]int(nil), p.Pending...),
			})
		}
	}
	e.c.MaxStack = e.max
	if cfg.Debug {
		e.c.VarNames = append([]string(nil), a.SlotNames...)
	}
	if cfg.MaxStack > 0 && e.max > cfg.MaxStack {
		d := diag.New(diag.StackDepthExceeded, diag.Pos{Line: f.Pos.Line, Column: f.Pos.Col},
			"function needs an evaluation stack of %d, the limit is %d", e.max, cfg.MaxStack)
		d.Function = f.Name
		return nil, d
	}
	return e.c, nil
}

func (e *emitter) fail(format string, args ...any) *lir.InvariantError {
	err := &lir.InvariantError{Func: e.f.Name, Stage: lir.StageLowered, Index: e.index, Msg: fmt.Sprintf(format, args...)}
	if e.index >= 0 && e.index < len(e.f.Instrs) {
		err.Op = e.f.Instrs[e.index].Op
	}
	return err
}

// op emits an opcode with its operand bytes and applies its stack effect.
// count is the operand that sizes variable-arity opcodes.
func (e *emitter) op(op bytecode.Opcode, count int, operands ...byte) error {
	pop, push := op.StackEffect(count)
	if e.depth < pop {
		return e.fail("%s needs %d values, the stack holds %d", op, pop, e.depth)
	}
	e.c.EmitWithOperand(op, operands...)
	e.depth += push - pop
	if e.depth > e.max {
		e.max = e.depth
	}
	return nil
}

func u16(v int) []byte { return []byte{byte(v >> 8), byte(v)} }

func (e *emitter) opU16(op bytecode.Opcode, v int) error {
	if v < 0 || v > 0xFFFF {
		return e.fail("%s operand %d out of range", op, v)
	}
	return e.op(op, v, u16(v)...)
}

func (e *emitter) name(s string) int {
	return int(e.c.AddConstant(bytecode.StringConst(s)))
}

func (e *emitter) jump(op bytecode.Opcode, label int) error {
	pop, _ := op.StackEffect(0)
	if e.depth < pop {
		return e.fail("%s needs %d values, the stack holds %d", op, pop, e.depth)
	}
	at := e.c.EmitJump(op)
	e.depth -= pop
	e.patches = append(e.patches, patch{at: at, label: label, instr: e.index})
	return nil
}

// operands pushes the arguments of in. A stack-resident first operand is
// already in place.
func (e *emitter) operands(in *lir.Instr) error {
	for k, t := range in.Args {
		if k == 0 && e.top != lir.NoTemp {
			if t != e.top {
				return e.fail("stack holds %s, instruction reads %s", e.top, t)
			}
			e.top = lir.NoTemp
			continue
		}
		if e.a.OnStack[t] {
			return e.fail("stack-resident %s read out of order", t)
		}
		s := e.a.TempSlot[t]
		if s == alloc.None {
			return e.fail("%s has no frame slot", t)
		}
		if err := e.opU16(bytecode.OpLoadLocal, s); err != nil {
			return err
		}
	}
	if e.top != lir.NoTemp {
		return e.fail("stack-resident %s is never read", e.top)
	}
	return nil
}

// result disposes of the value just pushed for in.Dst.
func (e *emitter) result(in *lir.Instr) error {
	t := in.Dst
	switch {
	case e.a.OnStack[t]:
		e.top = t
		return nil
	case e.a.TempSlot[t] == alloc.None:
		return e.op(bytecode.OpPop, 0)
	default:
		return e.opU16(bytecode.OpStoreLocal, e.a.TempSlot[t])
	}
}

// sourceColumn narrows a column to the source map's field, saturating
// columns past its range.
func sourceColumn(col int) uint16 {
	if col > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(col)
}

// empty checks that nothing is left on the evaluation stack.
func (e *emitter) empty(where string) error {
	if e.depth != 0 {
		return e.fail("evaluation stack holds %d values at %s", e.depth, where)
	}
	return nil
}

func (e *emitter) instr(in *lir.Instr) error {
	if e.cfg.Debug && in.Pos.Line > 0 {
		e.c.AddSourceLocation(uint32(e.c.CurrentOffset()), uint32(in.Pos.Line), sourceColumn(in.Pos.Col))
	}

	switch in.Op {
	case lir.OpNop:
		return nil
	case lir.OpLabel:
		if err := e.empty("a label"); err != nil {
			return err
		}
		if e.top != lir.NoTemp {
			return e.fail("stack-resident %s crosses a label", e.top)
		}
		e.labels[in.Target] = e.c.CurrentOffset()
		return nil
	case lir.OpEdge, lir.OpPhi:
		return e.fail("join J%d was not materialized", in.Target)
	case lir.OpYield, lir.OpAwait:
		return e.fail("suspension point %d was not lowered", in.Field)
	case lir.OpEnterTry, lir.OpExitTry:
		if e.top != lir.NoTemp {
			return e.fail("stack-resident %s crosses a protected-region boundary", e.top)
		}
		if err := e.empty("a protected-region boundary"); err != nil {
			return err
		}
	}

	if err := e.operands(in); err != nil {
		return err
	}
	if err := e.body(in); err != nil {
		return err
	}
	if in.Op == lir.OpSuspend {
		if err := e.empty("a suspension point"); err != nil {
			return err
		}
	}
	if in.Dst != lir.NoTemp {
		return e.result(in)
	}
	return nil
}

// body emits the opcodes of in once its operands are on the stack.
func (e *emitter) body(in *lir.Instr) error {
	switch in.Op {
	case lir.OpConst:
		return e.constant(in.Lit)
	case lir.OpCopy, lir.OpMaterialize:
		return nil
	case lir.OpLoadLocal:
		return e.opU16(bytecode.OpLoadLocal, e.a.LocalSlot[in.Local])
	case lir.OpStoreLocal:
		return e.opU16(bytecode.OpStoreLocal, e.a.LocalSlot[in.Local])
	case lir.OpLoadField, lir.OpStoreField:
		return e.field(in)
	case lir.OpLoadGlobal:
		return e.opU16(bytecode.OpLoadGlobal, e.name(in.Name))
	case lir.OpStoreGlobal:
		return e.opU16(bytecode.OpStoreGlobal, e.name(in.Name))
	case lir.OpLoadThis:
		return e.op(bytecode.OpLoadThis, 0)
	case lir.OpLoadCallee:
		return e.op(bytecode.OpLoadCallee, 0)
	case lir.OpLoadRest:
		return e.opU16(bytecode.OpLoadRest, in.Field)
	case lir.OpPushScope:
		return e.opU16(bytecode.OpPushScope, in.Field)
	case lir.OpPopScope:
		return e.op(bytecode.OpPopScope, 0)
	case lir.OpCloneScope:
		return e.op(bytecode.OpCloneScope, 0)
	case lir.OpNewObject:
		return e.op(bytecode.OpNewObject, 0)
	case lir.OpNewArray:
		return e.opU16(bytecode.OpNewArray, len(in.Args))
	case lir.OpInitProp:
		return e.opU16(bytecode.OpInitProp, e.name(in.Name))
	case lir.OpGetMember:
		if in.Access == lir.AccessFast && in.Name == "length" {
			return e.op(bytecode.OpGetLength, 0)
		}
		return e.opU16(bytecode.OpGetMember, e.name(in.Name))
	case lir.OpSetMember:
		return e.opU16(bytecode.OpSetMember, e.name(in.Name))
	case lir.OpGetIndex:
		if in.Access == lir.AccessFast {
			return e.op(bytecode.OpGetIndexFast, 0)
		}
		return e.op(bytecode.OpGetIndex, 0)
	case lir.OpSetIndex:
		return e.op(bytecode.OpSetIndex, 0)
	case lir.OpClosure:
		return e.opU16(bytecode.OpClosure, in.Func)
	case lir.OpBinary:
		return e.binary(in)
	case lir.OpUnary:
		return e.unary(in)
	case lir.OpToNumber:
		return e.op(bytecode.OpToNumber, 0)
	case lir.OpToBoolean:
		return e.op(bytecode.OpToBoolean, 0)
	case lir.OpCall:
		return e.call(bytecode.OpCall, len(in.Args)-2)
	case lir.OpNew:
		return e.call(bytecode.OpNew, len(in.Args)-1)
	case lir.OpCallRuntime:
		argc := len(in.Args)
		if argc > 0xFF {
			return e.fail("runtime call %s with %d arguments", in.Name, argc)
		}
		n := e.name(in.Name)
		return e.op(bytecode.OpCallRuntime, argc, append(u16(n), byte(argc))...)
	case lir.OpJump:
		return e.jump(bytecode.OpJump, in.Target)
	case lir.OpJumpIfFalse:
		return e.jump(bytecode.OpJumpFalse, in.Target)
	case lir.OpJumpIfTrue:
		return e.jump(bytecode.OpJumpTrue, in.Target)
	case lir.OpEnterTry:
		return e.jump(bytecode.OpEnterTry, in.Target)
	case lir.OpExitTry:
		return e.op(bytecode.OpExitTry, 0)
	case lir.OpCatch:
		return e.op(bytecode.OpCatch, 0)
	case lir.OpReturn:
		return e.op(bytecode.OpReturn, 0)
	case lir.OpThrow:
		return e.op(bytecode.OpThrow, 0)
	case lir.OpSuspend:
		return e.opU16(bytecode.OpSuspend, in.Field)
	case lir.OpResumeSwitch:
		return e.op(bytecode.OpResumeSwitch, 0)
	case lir.OpResumeMode:
		return e.op(bytecode.OpResumeMode, 0)
	case lir.OpResumeValue:
		return e.op(bytecode.OpResumeValue, 0)
	}
	return e.fail("no bytecode for %s", in.Op)
}

func (e *emitter) constant(l lir.Literal) error {
	switch l.Kind {
	case lir.LitUndefined:
		return e.op(bytecode.OpUndefined, 0)
	case lir.LitNull:
		return e.op(bytecode.OpNull, 0)
	case lir.LitHole:
		return e.op(bytecode.OpHole, 0)
	case lir.LitBool:
		if l.Bool {
			return e.op(bytecode.OpTrue, 0)
		}
		return e.op(bytecode.OpFalse, 0)
	case lir.LitNumber:
		return e.opU16(bytecode.OpConst, int(e.c.AddConstant(bytecode.NumberConst(l.Num))))
	case lir.LitString:
		return e.opU16(bytecode.OpConst, int(e.c.AddConstant(bytecode.StringConst(l.Str))))
	}
	return e.fail("unknown literal kind %d", l.Kind)
}

func (e *emitter) field(in *lir.Instr) error {
	if in.Hops > 0xFF {
		return e.fail("scope chain of %d hops", in.Hops)
	}
	if in.Field > 0xFFFF {
		return e.fail("scope field %d out of range", in.Field)
	}
	var op bytecode.Opcode
	switch {
	case in.Op == lir.OpLoadField && in.Checked:
		op = bytecode.OpLoadFieldChecked
	case in.Op == lir.OpLoadField:
		op = bytecode.OpLoadField
	case in.Checked:
		op = bytecode.OpStoreFieldChecked
	default:
		op = bytecode.OpStoreField
	}
	return e.op(op, 0, append([]byte{byte(in.Hops)}, u16(in.Field)...)...)
}

func (e *emitter) binary(in *lir.Instr) error {
	if in.Operator > lir.StrictNe {
		return e.fail("%s is not a binary operator", in.Operator)
	}
	op := bytecode.OpAdd + bytecode.Opcode(in.Operator)
	if in.Unboxed {
		op += bytecode.OpAddNum - bytecode.OpAdd
	}
	return e.op(op, 0)
}

func (e *emitter) unary(in *lir.Instr) error {
	var op bytecode.Opcode
	switch in.Operator {
	case lir.Neg:
		op = bytecode.OpNeg
		if in.Unboxed {
			op = bytecode.OpNegNum
		}
	case lir.BitNot:
		op = bytecode.OpBitNot
		if in.Unboxed {
			op = bytecode.OpBitNotNum
		}
	case lir.Not:
		op = bytecode.OpNot
		if in.Unboxed {
			op = bytecode.OpNotBool
		}
	default:
		return e.fail("%s is not a unary operator", in.Operator)
	}
	return e.op(op, 0)
}

func (e *emitter) call(op bytecode.Opcode, argc int) error {
	if argc < 0 || argc > 0xFF {
		return e.fail("%s with %d arguments", op, argc)
	}
	return e.op(op, argc, byte(argc))
}
