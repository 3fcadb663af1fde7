package vm

import (
	"fmt"
	"math"

	"github.com/chazu/kiln/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Frame: Execution state of one function activation
// ---------------------------------------------------------------------------

// handler is an installed protected region.
type handler struct {
	ip  int
	env *Scope
}

// frame is the execution state of one activation. Generator and async
// frames outlive their first run: the locals, the scope chain and the
// handler stack survive suspension, and the evaluation stack is empty at
// every suspension point.
type frame struct {
	prog   *program
	index  int
	chunk  *bytecode.Chunk
	callee *Object
	this   Value
	args   []Value

	ip       int
	locals   []Value
	stack    []Value
	env      *Scope
	handlers []handler
	caught   Value

	// Suspension state
	state int   // resume point of the last suspension, 0 before the first
	mode  int   // resume mode: next, throw or return
	sent  Value // resume value
}

// Resume modes, matching the RESUME_MODE protocol of generated code.
const (
	modeNext   = 0
	modeThrow  = 1
	modeReturn = 2
)

func (vm *VM) newFrame(callee *Object, this Value, args []Value) *frame {
	fn := callee.fn
	c := fn.chunk
	fr := &frame{
		prog:   fn.prog,
		index:  fn.prog.indexOf[c],
		chunk:  c,
		callee: callee,
		this:   this,
		args:   args,
		locals: make([]Value, c.LocalCount),
		stack:  make([]Value, 0, c.MaxStack),
		env:    fn.env,
		sent:   Undefined,
	}
	for i := range fr.locals {
		fr.locals[i] = Undefined
	}
	for i := 0; i < c.ParamCount && i < len(args) && i < len(fr.locals); i++ {
		fr.locals[i] = args[i]
	}
	return fr
}

func (fr *frame) push(v Value) { fr.stack = append(fr.stack, v) }

func (fr *frame) pop() Value {
	v := fr.stack[len(fr.stack)-1]
	fr.stack = fr.stack[:len(fr.stack)-1]
	return v
}

func (fr *frame) popN(n int) []Value {
	out := make([]Value, n)
	copy(out, fr.stack[len(fr.stack)-n:])
	fr.stack = fr.stack[:len(fr.stack)-n]
	return out
}

func (fr *frame) u8() int {
	v := int(fr.chunk.Code[fr.ip])
	fr.ip++
	return v
}

func (fr *frame) u16() int {
	v := int(fr.chunk.ReadU16(fr.ip))
	fr.ip += 2
	return v
}

func (fr *frame) name(idx int) string { return fr.chunk.NameAt(uint16(idx)) }

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

// run executes fr until it returns or suspends. A thrown value that no
// handler of the frame catches is returned as an *Exception.
func (vm *VM) run(fr *frame) (result Value, suspended bool, err error) {
	for {
		result, suspended, err = vm.step(fr)
		if err == nil {
			return result, suspended, nil
		}
		v, catchable := thrown(err)
		if !catchable || len(fr.handlers) == 0 {
			return nil, false, err
		}
		h := fr.handlers[len(fr.handlers)-1]
		fr.handlers = fr.handlers[:len(fr.handlers)-1]
		fr.stack = fr.stack[:0]
		fr.env = h.env
		fr.ip = h.ip
		fr.caught = v
	}
}

// step runs instructions until the frame returns, suspends or raises.
func (vm *VM) step(fr *frame) (Value, bool, error) {
	c := fr.chunk
	consts := fr.prog.consts[fr.index]
	code := c.Code
	for fr.ip < len(code) {
		if vm.interrupted.Load() {
			return nil, false, ErrInterrupted
		}
		start := fr.ip
		op := bytecode.Opcode(code[fr.ip])
		fr.ip++

		switch op {
		case bytecode.OpNop:

		case bytecode.OpPop:
			fr.pop()

		// Constants
		case bytecode.OpConst:
			fr.push(consts[fr.u16()])
		case bytecode.OpUndefined:
			fr.push(Undefined)
		case bytecode.OpNull:
			fr.push(Null)
		case bytecode.OpTrue:
			fr.push(true)
		case bytecode.OpFalse:
			fr.push(false)
		case bytecode.OpHole:
			fr.push(hole)

		// Frame slots and scopes
		case bytecode.OpLoadLocal:
			fr.push(fr.locals[fr.u16()])
		case bytecode.OpStoreLocal:
			fr.locals[fr.u16()] = fr.pop()
		case bytecode.OpLoadField, bytecode.OpLoadFieldChecked:
			hops := fr.u8()
			field := fr.u16()
			s := fr.env.up(hops)
			if s == nil || field >= len(s.fields) {
				return nil, false, vm.internal(fr, start, "scope field %d/%d out of range", hops, field)
			}
			v := s.fields[field]
			if isHole(v) {
				if op == bytecode.OpLoadFieldChecked {
					return nil, false, vm.referenceError("Cannot access '%s' before initialization", s.name(field))
				}
				v = Undefined
			}
			fr.push(v)
		case bytecode.OpStoreField, bytecode.OpStoreFieldChecked:
			hops := fr.u8()
			field := fr.u16()
			s := fr.env.up(hops)
			if s == nil || field >= len(s.fields) {
				return nil, false, vm.internal(fr, start, "scope field %d/%d out of range", hops, field)
			}
			if op == bytecode.OpStoreFieldChecked && isHole(s.fields[field]) {
				return nil, false, vm.referenceError("Cannot access '%s' before initialization", s.name(field))
			}
			s.fields[field] = fr.pop()
		case bytecode.OpLoadGlobal:
			name := fr.name(fr.u16())
			v, ok := vm.globals[name]
			if !ok {
				return nil, false, vm.referenceError("%s is not defined", name)
			}
			fr.push(v)
		case bytecode.OpStoreGlobal:
			vm.globals[fr.name(fr.u16())] = fr.pop()
		case bytecode.OpLoadThis:
			fr.push(fr.this)
		case bytecode.OpLoadCallee:
			fr.push(fr.callee)
		case bytecode.OpLoadRest:
			n := fr.u16()
			var rest []Value
			if n < len(fr.args) {
				rest = append(rest, fr.args[n:]...)
			}
			fr.push(vm.NewArray(rest))
		case bytecode.OpPushScope:
			idx := fr.u16()
			if idx >= len(fr.prog.module.ScopeLayouts) {
				return nil, false, vm.internal(fr, start, "scope layout %d out of range", idx)
			}
			fr.env = newScope(&fr.prog.module.ScopeLayouts[idx], fr.env)
		case bytecode.OpPopScope:
			fr.env = fr.env.parent
		case bytecode.OpCloneScope:
			fr.env = fr.env.clone()

		// Objects
		case bytecode.OpNewObject:
			fr.push(vm.NewObject())
		case bytecode.OpNewArray:
			fr.push(vm.NewArray(fr.popN(fr.u16())))
		case bytecode.OpInitProp:
			name := fr.name(fr.u16())
			v := fr.pop()
			AsObject(fr.pop()).DefineData(name, v, true)
		case bytecode.OpGetMember:
			name := fr.name(fr.u16())
			v, err := vm.GetMember(fr.pop(), name)
			if err != nil {
				return nil, false, err
			}
			fr.push(v)
		case bytecode.OpGetLength:
			v, err := vm.GetMember(fr.pop(), "length")
			if err != nil {
				return nil, false, err
			}
			fr.push(v)
		case bytecode.OpSetMember:
			name := fr.name(fr.u16())
			v := fr.pop()
			if err := vm.SetMember(fr.pop(), name, v); err != nil {
				return nil, false, err
			}
		case bytecode.OpGetIndex, bytecode.OpGetIndexFast:
			k := fr.pop()
			v, err := vm.GetIndex(fr.pop(), k)
			if err != nil {
				return nil, false, err
			}
			fr.push(v)
		case bytecode.OpSetIndex:
			v := fr.pop()
			k := fr.pop()
			if err := vm.SetIndex(fr.pop(), k, v); err != nil {
				return nil, false, err
			}
		case bytecode.OpClosure:
			idx := fr.u16()
			if idx >= len(fr.prog.module.Chunks) {
				return nil, false, vm.internal(fr, start, "function %d out of range", idx)
			}
			fr.push(vm.closure(fr.prog, idx, fr.env))

		// Unary and coercions
		case bytecode.OpNeg:
			x, err := vm.ToNumber(fr.pop())
			if err != nil {
				return nil, false, err
			}
			fr.push(-x)
		case bytecode.OpBitNot:
			x, err := vm.ToNumber(fr.pop())
			if err != nil {
				return nil, false, err
			}
			fr.push(float64(^toInt32(x)))
		case bytecode.OpNot, bytecode.OpNotBool:
			fr.push(!ToBoolean(fr.pop()))
		case bytecode.OpNegNum:
			fr.push(-num(fr.pop()))
		case bytecode.OpBitNotNum:
			fr.push(float64(^toInt32(num(fr.pop()))))
		case bytecode.OpToNumber:
			x, err := vm.ToNumber(fr.pop())
			if err != nil {
				return nil, false, err
			}
			fr.push(x)
		case bytecode.OpToBoolean:
			fr.push(ToBoolean(fr.pop()))

		// Control flow
		case bytecode.OpJump:
			fr.ip = c.JumpTarget(start)
		case bytecode.OpJumpTrue:
			if ToBoolean(fr.pop()) {
				fr.ip = c.JumpTarget(start)
			} else {
				fr.ip += 4
			}
		case bytecode.OpJumpFalse:
			if !ToBoolean(fr.pop()) {
				fr.ip = c.JumpTarget(start)
			} else {
				fr.ip += 4
			}
		case bytecode.OpEnterTry:
			fr.handlers = append(fr.handlers, handler{ip: c.JumpTarget(start), env: fr.env})
			fr.ip += 4
		case bytecode.OpExitTry:
			if len(fr.handlers) == 0 {
				return nil, false, vm.internal(fr, start, "EXIT_TRY without a handler")
			}
			fr.handlers = fr.handlers[:len(fr.handlers)-1]
		case bytecode.OpCatch:
			v := fr.caught
			if v == nil {
				v = Undefined
			}
			fr.caught = nil
			fr.push(v)
		case bytecode.OpThrow:
			return nil, false, &Exception{Value: fr.pop()}

		// Calls
		case bytecode.OpCall:
			argc := fr.u8()
			args := fr.popN(argc)
			this := fr.pop()
			callee := fr.pop()
			if !IsCallable(callee) {
				return nil, false, vm.typeError("%s is not a function", ToDisplay(callee))
			}
			v, err := vm.Call(callee, this, args)
			if err != nil {
				return nil, false, err
			}
			fr.push(v)
		case bytecode.OpNew:
			argc := fr.u8()
			args := fr.popN(argc)
			v, err := vm.Construct(fr.pop(), args)
			if err != nil {
				return nil, false, err
			}
			fr.push(v)
		case bytecode.OpCallRuntime:
			idx := fr.u16()
			argc := fr.u8()
			rt := fr.prog.runtime[fr.index][idx]
			if rt == nil {
				return nil, false, vm.internal(fr, start, "runtime operation %q not resolved", fr.name(idx))
			}
			v, err := rt(vm, fr.popN(argc))
			if err != nil {
				return nil, false, err
			}
			fr.push(v)

		// Suspension
		case bytecode.OpSuspend:
			fr.state = fr.u16()
			v := fr.pop()
			fr.ip = 0
			return v, true, nil
		case bytecode.OpResumeSwitch:
			if fr.state > 0 {
				if fr.state > len(c.Resume) {
					return nil, false, vm.internal(fr, start, "resume state %d out of range", fr.state)
				}
				fr.ip = int(c.Resume[fr.state-1].Offset)
			}
		case bytecode.OpResumeMode:
			fr.push(float64(fr.mode))
		case bytecode.OpResumeValue:
			fr.push(fr.sent)

		case bytecode.OpReturn:
			return fr.pop(), false, nil

		default:
			switch {
			case op >= bytecode.OpAdd && op <= bytecode.OpStrictNe:
				b := fr.pop()
				a := fr.pop()
				v, err := vm.binary(op, a, b)
				if err != nil {
					return nil, false, err
				}
				fr.push(v)
			case op >= bytecode.OpAddNum && op <= bytecode.OpStrictNeNum:
				y := num(fr.pop())
				x := num(fr.pop())
				fr.push(binaryNum(op-bytecode.OpAddNum+bytecode.OpAdd, x, y))
			default:
				return nil, false, vm.internal(fr, start, "unknown opcode %s", op)
			}
		}
		if len(fr.stack) > c.MaxStack {
			return nil, false, vm.internal(fr, start, "evaluation stack exceeds MaxStack %d", c.MaxStack)
		}
	}
	return Undefined, false, nil
}

// num reads an unboxed number operand.
func num(v Value) float64 {
	if f, ok := v.(float64); ok {
		return f
	}
	return math.NaN()
}

// binary applies a generic binary opcode.
func (vm *VM) binary(op bytecode.Opcode, a, b Value) (Value, error) {
	switch op {
	case bytecode.OpAdd:
		return vm.Add(a, b)
	case bytecode.OpEq, bytecode.OpNe:
		eq, err := vm.LooseEquals(a, b)
		return eq == (op == bytecode.OpEq), err
	case bytecode.OpStrictEq:
		return StrictEquals(a, b), nil
	case bytecode.OpStrictNe:
		return !StrictEquals(a, b), nil
	case bytecode.OpLt:
		less, ok, err := vm.compare(a, b, true)
		return ok && less, err
	case bytecode.OpGt:
		less, ok, err := vm.compare(b, a, false)
		return ok && less, err
	case bytecode.OpLe:
		less, ok, err := vm.compare(b, a, false)
		return ok && !less, err
	case bytecode.OpGe:
		less, ok, err := vm.compare(a, b, true)
		return ok && !less, err
	}
	x, err := vm.ToNumber(a)
	if err != nil {
		return nil, err
	}
	y, err := vm.ToNumber(b)
	if err != nil {
		return nil, err
	}
	return binaryNum(op, x, y), nil
}

// binaryNum applies a binary opcode, given in its generic form, to two
// numbers.
func binaryNum(op bytecode.Opcode, x, y float64) Value {
	switch op {
	case bytecode.OpAdd:
		return x + y
	case bytecode.OpSub:
		return x - y
	case bytecode.OpMul:
		return x * y
	case bytecode.OpDiv:
		return x / y
	case bytecode.OpMod:
		return numeric('%', x, y)
	case bytecode.OpPow:
		return numeric('p', x, y)
	case bytecode.OpBitAnd:
		return numeric('&', x, y)
	case bytecode.OpBitOr:
		return numeric('|', x, y)
	case bytecode.OpBitXor:
		return numeric('^', x, y)
	case bytecode.OpShl:
		return numeric('<', x, y)
	case bytecode.OpShr:
		return numeric('>', x, y)
	case bytecode.OpUShr:
		return numeric('u', x, y)
	case bytecode.OpLt:
		return x < y
	case bytecode.OpLe:
		return x <= y
	case bytecode.OpGt:
		return x > y
	case bytecode.OpGe:
		return x >= y
	case bytecode.OpEq, bytecode.OpStrictEq:
		return x == y
	case bytecode.OpNe, bytecode.OpStrictNe:
		return x != y
	}
	return math.NaN()
}

// internal reports malformed bytecode. It is not catchable by scripts.
func (vm *VM) internal(fr *frame, at int, format string, args ...any) error {
	return fmt.Errorf("vm: %s @%04X: %s", displayName(fr.chunk.Name), at, fmt.Sprintf(format, args...))
}

func displayName(name string) string {
	if name == "" {
		return "<module>"
	}
	return name
}
