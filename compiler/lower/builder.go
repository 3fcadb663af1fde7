// Package lower builds the LIR of every function of an analyzed program.
//
// The builder walks each function's AST once in source evaluation order.
// Control-flow merges that produce a value are emitted as Phi/Edge pairs for
// join materialization; stack-local binding reads are forwarded within a
// basic block. Syntax the back end does not support is reported per
// function; the remaining functions still build.
package lower

import (
	"fmt"
	"math"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/scope"
	"github.com/chazu/kiln/compiler/types"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
)

// Build lowers every function of an. Functions that fail to build are left
// nil in the unit and described by the returned diagnostics.
func Build(an *scope.Analysis, name string) (*lir.Unit, diag.List) {
	u := &lir.Unit{Name: name, Funcs: make([]*lir.Function, len(an.Functions))}
	for _, l := range an.Layouts {
		u.Layouts = append(u.Layouts, lir.Layout{Names: l.Names, TDZ: l.TDZ})
	}
	for _, b := range an.Exports() {
		u.Exports = append(u.Exports, lir.Export{Name: b.Name, Kind: b.Hint, Decl: b.Decl.String()})
	}
	var diags diag.List
	for _, fn := range an.Functions {
		f, ds := BuildFunction(an, fn)
		diags = append(diags, ds...)
		u.Funcs[fn.Index] = f
	}
	return u, diags
}

// BuildFunction lowers one function. It returns nil and at least one
// diagnostic when the function uses unsupported syntax.
func BuildFunction(an *scope.Analysis, fn *scope.Function) (*lir.Function, diag.List) {
	b := &builder{
		an:     an,
		fn:     fn,
		f:      lir.NewFunction(fn.Index, fn.Name),
		locals: make(map[*scope.Binding]int),
		cache:  make(map[int]lir.Temp),
	}
	f := b.f
	f.Generator, f.Async, f.Arrow = fn.Generator, fn.Async, fn.Arrow
	f.Pos = lir.Pos{Line: fn.Pos.Line, Col: fn.Pos.Column}
	if fn.Params != nil {
		f.Params = len(fn.Params.List)
		f.Rest = fn.Params.Rest != nil
	}
	f.HasDefaults = fn.HasDefaults
	if fn.Generator && fn.Async {
		b.unsupported(fn.Node.Idx0(), "async generator")
	}

	b.prologue()
	switch n := fn.Node.(type) {
	case *ast.Program:
		b.statements(n.Body)
	case *ast.FunctionLiteral:
		b.statements(n.Body.List)
	case *ast.ArrowFunctionLiteral:
		switch body := n.Body.(type) {
		case *ast.BlockStatement:
			b.statements(body.List)
		case *ast.ExpressionBody:
			v := b.expr(body.Expression)
			b.routeReturn(v)
		}
	}
	b.routeReturn(b.undefined())
	for len(b.deferred) > 0 {
		d := b.deferred[0]
		b.deferred = b.deferred[1:]
		d()
	}

	if b.failed {
		return nil, b.diags
	}
	return f, b.diags
}

type builder struct {
	an *scope.Analysis
	fn *scope.Function
	f  *lir.Function

	scope  *scope.Scope
	locals map[*scope.Binding]int
	// cache maps a local to the temp holding its current value within the
	// current basic block.
	cache map[int]lir.Temp

	blocks   []block
	deferred []func()
	finallys int

	pos    lir.Pos
	diags  diag.List
	failed bool
}

// ---------------------------------------------------------------------------
// Diagnostics and positions
// ---------------------------------------------------------------------------

func (b *builder) at(idx file.Idx) {
	if p := b.an.Position(idx); p.IsValid() {
		b.pos = lir.Pos{Line: p.Line, Col: p.Column}
	}
}

func (b *builder) unsupported(idx file.Idx, what string) {
	d := diag.New(diag.UnsupportedSyntax, b.an.Position(idx), "%s is not supported", what)
	d.Function = b.fn.Name
	b.diags.Add(d)
	b.failed = true
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

func (b *builder) emit(in lir.Instr) {
	in.Pos = b.pos
	b.f.Instrs = append(b.f.Instrs, in)
}

// value emits an instruction that defines a fresh temp of kind k.
func (b *builder) value(k types.Kind, in lir.Instr) lir.Temp {
	in.Dst = b.f.NewTemp(k)
	b.emit(in)
	return in.Dst
}

// effect emits an instruction without a destination.
func (b *builder) effect(in lir.Instr) {
	in.Dst = lir.NoTemp
	b.emit(in)
}

func (b *builder) label(l int) {
	b.effect(lir.Instr{Op: lir.OpLabel, Target: l})
	clear(b.cache)
}

func (b *builder) jump(op lir.Op, l int, args ...lir.Temp) {
	b.effect(lir.Instr{Op: op, Target: l, Args: args})
}

func (b *builder) constant(l lir.Literal) lir.Temp {
	return b.value(l.TypeKind(), lir.Instr{Op: lir.OpConst, Lit: l})
}

func (b *builder) undefined() lir.Temp { return b.constant(lir.Undefined) }

func (b *builder) number(v float64) lir.Temp { return b.constant(lir.Number(v)) }

func (b *builder) str(s string) lir.Temp { return b.constant(lir.String(s)) }

// runtime calls a runtime-library operation by name.
func (b *builder) runtime(name string, args ...lir.Temp) lir.Temp {
	k := types.Boxed
	if op, ok := types.LookupRuntime(name); ok {
		k = op.Result
	}
	return b.value(k, lir.Instr{Op: lir.OpCallRuntime, Name: name, Args: args})
}

func (b *builder) toNumber(t lir.Temp) lir.Temp {
	if b.f.Kind(t) == types.Number {
		return t
	}
	return b.value(types.Number, lir.Instr{Op: lir.OpToNumber, Args: []lir.Temp{t}})
}

func (b *builder) toBoolean(t lir.Temp) lir.Temp {
	if b.f.Kind(t) == types.Boolean {
		return t
	}
	return b.value(types.Boolean, lir.Instr{Op: lir.OpToBoolean, Args: []lir.Temp{t}})
}

func (b *builder) not(t lir.Temp) lir.Temp {
	return b.value(types.Boolean, lir.Instr{Op: lir.OpUnary, Operator: lir.Not, Unboxed: true, Args: []lir.Temp{b.toBoolean(t)}})
}

// strictEqNumber compares a Number temp against a constant.
func (b *builder) strictEqNumber(t lir.Temp, v float64) lir.Temp {
	c := b.number(v)
	return b.value(types.Boolean, lir.Instr{Op: lir.OpBinary, Operator: lir.StrictEq, Unboxed: true, Args: []lir.Temp{t, c}})
}

func (b *builder) getMember(obj lir.Temp, name string, access lir.Access, k types.Kind) lir.Temp {
	return b.value(k, lir.Instr{Op: lir.OpGetMember, Name: name, Access: access, Args: []lir.Temp{obj}})
}

func (b *builder) closure(fn *scope.Function) lir.Temp {
	return b.value(types.Boxed, lir.Instr{Op: lir.OpClosure, Func: fn.Index})
}

// join collects the values flowing into one control-flow merge.
type join struct {
	id    int
	kinds []types.Kind
}

func (b *builder) newJoin() *join { return &join{id: b.f.NewJoin()} }

// edge records v as the value of j along the current path. It must be the
// last instruction before the branch or fall-through into the merge.
func (b *builder) edge(j *join, v lir.Temp) {
	j.kinds = append(j.kinds, b.f.Kind(v))
	b.effect(lir.Instr{Op: lir.OpEdge, Target: j.id, Args: []lir.Temp{v}})
}

// phi defines the merged value of j. It follows the merge label.
func (b *builder) phi(j *join) lir.Temp {
	return b.value(types.MeetAll(j.kinds...).Settle(), lir.Instr{Op: lir.OpPhi, Target: j.id})
}

// ---------------------------------------------------------------------------
// Prologue
// ---------------------------------------------------------------------------

func (b *builder) prologue() {
	fn := b.fn
	b.scope = fn.Scope
	if fn.Scope.Materialized() {
		b.effect(lir.Instr{Op: lir.OpPushScope, Field: fn.Scope.Layout})
	}
	if fn.This != nil {
		t := b.value(types.Boxed, lir.Instr{Op: lir.OpLoadThis})
		b.store(fn.This, t, true)
	}
	if fn.Self != nil {
		t := b.value(types.Boxed, lir.Instr{Op: lir.OpLoadCallee})
		b.store(fn.Self, t, true)
	}
	if fn.Params != nil {
		b.params(fn.Params)
	}
	b.hoist(fn.Scope)
}

func (b *builder) params(list *ast.ParameterList) {
	fn := b.fn
	for i, p := range list.List {
		var bd *scope.Binding
		if i < len(fn.ParamBindings) {
			bd = fn.ParamBindings[i]
		}
		name := fmt.Sprintf("%%arg%d", i)
		if bd != nil {
			name = bd.Name
		}
		slot := b.f.AddLocal(lir.Local{Name: name, Kind: types.Boxed, Param: i})
		if bd != nil && bd.Storage == scope.StackLocal {
			b.locals[bd] = slot
		}
		if p.Initializer == nil && bd != nil && bd.Storage == scope.StackLocal {
			continue
		}
		v := b.load(slot, types.Boxed)
		if p.Initializer != nil {
			v = b.withDefault(v, p.Initializer)
		}
		if bd != nil {
			b.store(bd, v, true)
		} else {
			b.bindPattern(p.Target, v, true)
		}
	}
	if list.Rest != nil {
		rest := b.value(types.Boxed, lir.Instr{Op: lir.OpLoadRest, Field: len(list.List)})
		if fn.Rest != nil {
			b.store(fn.Rest, rest, true)
		} else {
			b.bindPattern(list.Rest, rest, true)
		}
	}
}

// withDefault evaluates init when v is undefined.
func (b *builder) withDefault(v lir.Temp, init ast.Expression) lir.Temp {
	u := b.undefined()
	isUndef := b.value(types.Boolean, lir.Instr{Op: lir.OpBinary, Operator: lir.StrictEq, Args: []lir.Temp{v, u}})
	j := b.newJoin()
	done := b.f.NewLabel()
	b.edge(j, v)
	b.jump(lir.OpJumpIfFalse, done, isUndef)
	d := b.expr(init)
	b.edge(j, d)
	b.label(done)
	return b.phi(j)
}

// hoist initializes the function declarations of s.
func (b *builder) hoist(s *scope.Scope) {
	for _, lit := range s.Hoisted {
		fn := b.an.FuncOf[lit]
		bd := b.an.Refs[lit.Name]
		if fn == nil || bd == nil {
			continue
		}
		b.store(bd, b.closure(fn), true)
	}
}

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

func (b *builder) localOf(bd *scope.Binding) int {
	if l, ok := b.locals[bd]; ok {
		return l
	}
	l := b.f.AddLocal(lir.Local{Name: bd.Name, Kind: bd.Hint, Param: -1})
	b.locals[bd] = l
	return l
}

func (b *builder) load(l int, k types.Kind) lir.Temp {
	if t, ok := b.cache[l]; ok {
		return t
	}
	t := b.value(k, lir.Instr{Op: lir.OpLoadLocal, Local: l})
	b.cache[l] = t
	return t
}

// checked reports whether accesses to bd need a run-time hole check.
func (b *builder) checked(bd *scope.Binding) bool {
	return bd.TDZ && (bd.Checked || bd.Scope.Func != b.fn)
}

// read loads the current value of bd.
func (b *builder) read(bd *scope.Binding) lir.Temp {
	if bd.Storage == scope.StackLocal {
		return b.load(b.localOf(bd), bd.Hint)
	}
	return b.value(bd.Hint, lir.Instr{
		Op:      lir.OpLoadField,
		Hops:    b.scope.Hops(bd),
		Field:   bd.Field,
		Checked: b.checked(bd),
	})
}

// store writes v to bd. init marks the initializing write of a declaration,
// which never checks the hole.
func (b *builder) store(bd *scope.Binding, v lir.Temp, init bool) {
	if bd.Storage == scope.StackLocal {
		l := b.localOf(bd)
		b.effect(lir.Instr{Op: lir.OpStoreLocal, Local: l, Args: []lir.Temp{v}})
		b.cache[l] = v
		return
	}
	b.effect(lir.Instr{
		Op:      lir.OpStoreField,
		Hops:    b.scope.Hops(bd),
		Field:   bd.Field,
		Checked: !init && b.checked(bd),
		Args:    []lir.Temp{v},
	})
}

// readIdent loads the value named by id.
func (b *builder) readIdent(id *ast.Identifier) lir.Temp {
	name := id.Name.String()
	bd := b.an.Refs[id]
	if bd == nil {
		switch name {
		case "undefined":
			return b.undefined()
		case "NaN":
			return b.constant(lir.Number(math.NaN()))
		case "Infinity":
			return b.constant(lir.Number(math.Inf(1)))
		case "arguments":
			if !b.fn.IsModule() {
				b.unsupported(id.Idx, "the arguments object")
				return b.undefined()
			}
		}
		return b.value(types.Boxed, lir.Instr{Op: lir.OpLoadGlobal, Name: name})
	}
	if b.an.EarlyRefs[id] {
		b.runtime(types.RtThrowTDZ, b.str(name))
		return b.undefined()
	}
	return b.read(bd)
}

// writeIdent assigns v to the name id.
func (b *builder) writeIdent(id *ast.Identifier, v lir.Temp) {
	name := id.Name.String()
	bd := b.an.Refs[id]
	switch {
	case bd == nil:
		b.effect(lir.Instr{Op: lir.OpStoreGlobal, Name: name, Args: []lir.Temp{v}})
	case b.an.EarlyRefs[id]:
		b.runtime(types.RtThrowTDZ, b.str(name))
	case bd.Decl == scope.Const:
		b.runtime(types.RtThrowConst, b.str(name))
	default:
		b.store(bd, v, false)
	}
}

// declareIdent performs the initializing write of a declared identifier.
func (b *builder) declareIdent(id *ast.Identifier, v lir.Temp) {
	bd := b.an.Refs[id]
	if bd == nil {
		b.effect(lir.Instr{Op: lir.OpStoreGlobal, Name: id.Name.String(), Args: []lir.Temp{v}})
		return
	}
	b.store(bd, v, true)
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

// enterScope enters the scope introduced by node, if any, and returns the
// function that leaves it on the fall-through path.
func (b *builder) enterScope(node ast.Node) func() {
	sc := b.an.Scopes[node]
	if sc == nil || sc == b.scope {
		return func() {}
	}
	outer := b.scope
	b.scope = sc
	if sc.Materialized() {
		b.effect(lir.Instr{Op: lir.OpPushScope, Field: sc.Layout})
		b.push(block{kind: bkScope})
	}
	b.hoist(sc)
	return func() {
		if sc.Materialized() {
			b.pop()
			b.effect(lir.Instr{Op: lir.OpPopScope})
		}
		b.scope = outer
	}
}
