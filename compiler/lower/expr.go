package lower

import (
	"fmt"

	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/scope"
	"github.com/chazu/kiln/compiler/types"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

// arrayChunk is the largest array literal prefix built by one NewArray.
const arrayChunk = 32

var binaryOperators = map[token.Token]lir.Operator{
	token.PLUS:                 lir.Add,
	token.MINUS:                lir.Sub,
	token.MULTIPLY:             lir.Mul,
	token.SLASH:                lir.Div,
	token.REMAINDER:            lir.Mod,
	token.EXPONENT:             lir.Pow,
	token.AND:                  lir.BitAnd,
	token.OR:                   lir.BitOr,
	token.EXCLUSIVE_OR:         lir.BitXor,
	token.SHIFT_LEFT:           lir.Shl,
	token.SHIFT_RIGHT:          lir.Shr,
	token.UNSIGNED_SHIFT_RIGHT: lir.UShr,
	token.LESS:                 lir.Lt,
	token.LESS_OR_EQUAL:        lir.Le,
	token.GREATER:              lir.Gt,
	token.GREATER_OR_EQUAL:     lir.Ge,
	token.EQUAL:                lir.Eq,
	token.NOT_EQUAL:            lir.Ne,
	token.STRICT_EQUAL:         lir.StrictEq,
	token.STRICT_NOT_EQUAL:     lir.StrictNe,
}

func (b *builder) exprOrUndefined(e ast.Expression) lir.Temp {
	if e == nil {
		return b.undefined()
	}
	return b.expr(e)
}

func (b *builder) expr(e ast.Expression) lir.Temp {
	switch e := e.(type) {
	case nil:
		return b.undefined()
	case *ast.NumberLiteral:
		if v, ok := numberValue(e.Value); ok {
			return b.number(v)
		}
		b.unsupported(e.Idx, "BigInt literal")
		return b.undefined()
	case *ast.StringLiteral:
		return b.str(e.Value.String())
	case *ast.BooleanLiteral:
		return b.constant(lir.Bool(e.Value))
	case *ast.NullLiteral:
		return b.constant(lir.Null)
	case *ast.TemplateLiteral:
		return b.template(e)
	case *ast.RegExpLiteral:
		return b.runtime(types.RtRegExp, b.str(e.Pattern), b.str(e.Flags))
	case *ast.Identifier:
		return b.readIdent(e)
	case *ast.ThisExpression:
		return b.this(e)
	case *ast.ArrayLiteral:
		return b.arrayLiteral(e)
	case *ast.ObjectLiteral:
		return b.objectLiteral(e)
	case *ast.FunctionLiteral:
		return b.closure(b.an.FuncOf[e])
	case *ast.ArrowFunctionLiteral:
		return b.closure(b.an.FuncOf[e])
	case *ast.ClassLiteral:
		return b.class(e)
	case *ast.AssignExpression:
		return b.assign(e)
	case *ast.UnaryExpression:
		return b.unary(e)
	case *ast.BinaryExpression:
		switch e.Operator {
		case token.LOGICAL_AND, token.LOGICAL_OR, token.COALESCE:
			return b.logical(e.Operator, e.Left, e.Right)
		}
		l := b.expr(e.Left)
		r := b.expr(e.Right)
		return b.binary(e.Operator, l, r)
	case *ast.ConditionalExpression:
		return b.conditional(e)
	case *ast.SequenceExpression:
		v := b.undefined()
		for _, x := range e.Sequence {
			v = b.expr(x)
		}
		return v
	case *ast.CallExpression:
		return b.call(e)
	case *ast.NewExpression:
		callee := b.expr(e.Callee)
		args := b.args(e.ArgumentList)
		return b.value(types.Boxed, lir.Instr{Op: lir.OpNew, Args: append([]lir.Temp{callee}, args...)})
	case *ast.DotExpression:
		return b.dot(e)
	case *ast.BracketExpression:
		return b.bracket(e)
	case *ast.YieldExpression:
		if e.Delegate {
			b.unsupported(e.Yield, "yield*")
		}
		return b.suspend(lir.OpYield, b.exprOrUndefined(e.Argument))
	case *ast.AwaitExpression:
		return b.suspend(lir.OpAwait, b.expr(e.Argument))
	case *ast.OptionalChain, *ast.Optional:
		b.unsupported(e.Idx0(), "optional chaining")
	case *ast.PrivateDotExpression:
		b.unsupported(e.Idx0(), "private names")
	case *ast.SuperExpression:
		b.unsupported(e.Idx, "super outside a call or member access")
	default:
		b.unsupported(e.Idx0(), fmt.Sprintf("expression %T", e))
	}
	return b.undefined()
}

func (b *builder) this(e *ast.ThisExpression) lir.Temp {
	if bd := b.an.Thises[e]; bd != nil {
		return b.read(bd)
	}
	if b.fn.Arrow {
		return b.undefined()
	}
	return b.value(types.Boxed, lir.Instr{Op: lir.OpLoadThis})
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// binary applies a non-short-circuit binary operator to evaluated operands.
// Numeric operators coerce both operands after both are evaluated.
func (b *builder) binary(op token.Token, l, r lir.Temp) lir.Temp {
	switch op {
	case token.IN:
		return b.runtime(types.RtIn, l, r)
	case token.INSTANCEOF:
		return b.runtime(types.RtInstanceof, l, r)
	}
	o, ok := binaryOperators[op]
	if !ok {
		b.unsupported(0, fmt.Sprintf("operator %s", op))
		return b.undefined()
	}
	switch scope.BinaryClass(op) {
	case types.ClassArith, types.ClassBitwise:
		ln := b.toNumber(l)
		rn := b.toNumber(r)
		return b.value(types.Number, lir.Instr{Op: lir.OpBinary, Operator: o, Unboxed: true, Args: []lir.Temp{ln, rn}})
	case types.ClassAdd:
		if b.f.Kind(l) == types.Number && b.f.Kind(r) == types.Number {
			return b.value(types.Number, lir.Instr{Op: lir.OpBinary, Operator: lir.Add, Unboxed: true, Args: []lir.Temp{l, r}})
		}
		return b.value(types.Boxed, lir.Instr{Op: lir.OpBinary, Operator: lir.Add, Args: []lir.Temp{l, r}})
	}
	return b.compare(o, l, r)
}

func (b *builder) compare(o lir.Operator, l, r lir.Temp) lir.Temp {
	unboxed := b.f.Kind(l) == types.Number && b.f.Kind(r) == types.Number
	return b.value(types.Boolean, lir.Instr{Op: lir.OpBinary, Operator: o, Unboxed: unboxed, Args: []lir.Temp{l, r}})
}

// shortCircuit branches to done with v as the result when op decides
// without its right operand.
func (b *builder) shortCircuit(op token.Token, v lir.Temp, j *join, done int) {
	var test lir.Temp
	jump := lir.OpJumpIfTrue
	switch op {
	case token.LOGICAL_AND:
		test = b.toBoolean(v)
		jump = lir.OpJumpIfFalse
	case token.LOGICAL_OR:
		test = b.toBoolean(v)
	case token.COALESCE:
		test = b.runtime(types.RtIsNullish, v)
		jump = lir.OpJumpIfFalse
	}
	b.edge(j, v)
	b.jump(jump, done, test)
}

func (b *builder) logical(op token.Token, left, right ast.Expression) lir.Temp {
	j := b.newJoin()
	done := b.f.NewLabel()
	b.shortCircuit(op, b.expr(left), j, done)
	b.edge(j, b.expr(right))
	b.label(done)
	return b.phi(j)
}

func (b *builder) conditional(e *ast.ConditionalExpression) lir.Temp {
	j := b.newJoin()
	els := b.f.NewLabel()
	done := b.f.NewLabel()
	b.jump(lir.OpJumpIfFalse, els, b.cond(e.Test))
	b.edge(j, b.expr(e.Consequent))
	b.jump(lir.OpJump, done)
	b.label(els)
	b.edge(j, b.expr(e.Alternate))
	b.label(done)
	return b.phi(j)
}

func (b *builder) unary(e *ast.UnaryExpression) lir.Temp {
	switch e.Operator {
	case token.INCREMENT, token.DECREMENT:
		return b.update(e)
	case token.MINUS:
		n := b.toNumber(b.expr(e.Operand))
		return b.value(types.Number, lir.Instr{Op: lir.OpUnary, Operator: lir.Neg, Unboxed: true, Args: []lir.Temp{n}})
	case token.PLUS:
		return b.toNumber(b.expr(e.Operand))
	case token.BITWISE_NOT:
		n := b.toNumber(b.expr(e.Operand))
		return b.value(types.Number, lir.Instr{Op: lir.OpUnary, Operator: lir.BitNot, Unboxed: true, Args: []lir.Temp{n}})
	case token.NOT:
		return b.not(b.expr(e.Operand))
	case token.TYPEOF:
		if id, ok := e.Operand.(*ast.Identifier); ok && b.an.Refs[id] == nil {
			if _, folded := scope.GlobalConstant(id.Name.String()); !folded {
				return b.runtime(types.RtTypeofGlobal, b.str(id.Name.String()))
			}
		}
		return b.runtime(types.RtTypeof, b.expr(e.Operand))
	case token.VOID:
		b.expr(e.Operand)
		return b.undefined()
	case token.DELETE:
		switch t := e.Operand.(type) {
		case *ast.DotExpression:
			return b.runtime(types.RtDelete, b.expr(t.Left), b.str(t.Identifier.Name.String()))
		case *ast.BracketExpression:
			o := b.expr(t.Left)
			return b.runtime(types.RtDelete, o, b.expr(t.Member))
		case *ast.Identifier:
			return b.constant(lir.Bool(false))
		}
		b.expr(e.Operand)
		return b.constant(lir.Bool(true))
	}
	b.unsupported(e.Idx, fmt.Sprintf("unary operator %s", e.Operator))
	return b.undefined()
}

// update lowers ++ and --. The old value is converted once; postfix forms
// produce the converted old value.
func (b *builder) update(e *ast.UnaryExpression) lir.Temp {
	r, ok := b.reference(e.Operand)
	if !ok {
		return b.undefined()
	}
	old := b.toNumber(b.get(r))
	o := lir.Add
	if e.Operator == token.DECREMENT {
		o = lir.Sub
	}
	nv := b.value(types.Number, lir.Instr{Op: lir.OpBinary, Operator: o, Unboxed: true, Args: []lir.Temp{old, b.number(1)}})
	b.set(r, nv)
	if e.Postfix {
		return old
	}
	return nv
}

func (b *builder) assign(e *ast.AssignExpression) lir.Temp {
	switch e.Operator {
	case token.ASSIGN:
		switch l := e.Left.(type) {
		case *ast.ArrayPattern, *ast.ObjectPattern:
			v := b.expr(e.Right)
			b.bindPattern(l, v, false)
			return v
		}
		r, ok := b.reference(e.Left)
		if !ok {
			return b.undefined()
		}
		v := b.expr(e.Right)
		b.set(r, v)
		return v
	case token.LOGICAL_AND, token.LOGICAL_OR, token.COALESCE:
		r, ok := b.reference(e.Left)
		if !ok {
			return b.undefined()
		}
		j := b.newJoin()
		done := b.f.NewLabel()
		b.shortCircuit(e.Operator, b.get(r), j, done)
		v := b.expr(e.Right)
		b.set(r, v)
		b.edge(j, v)
		b.label(done)
		return b.phi(j)
	}
	r, ok := b.reference(e.Left)
	if !ok {
		return b.undefined()
	}
	old := b.get(r)
	v := b.binary(e.Operator, old, b.expr(e.Right))
	b.set(r, v)
	return v
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

type refKind uint8

const (
	refName refKind = iota
	refMember
	refIndex
)

// ref is an evaluated assignment target: the object and key are computed
// once and reused by the read and the write.
type ref struct {
	kind refKind
	id   *ast.Identifier
	obj  lir.Temp
	key  lir.Temp
	name string
}

func (b *builder) reference(e ast.Expression) (ref, bool) {
	switch t := e.(type) {
	case *ast.Identifier:
		return ref{kind: refName, id: t}, true
	case *ast.DotExpression:
		if _, ok := t.Left.(*ast.SuperExpression); ok {
			break
		}
		return ref{kind: refMember, obj: b.expr(t.Left), name: t.Identifier.Name.String()}, true
	case *ast.BracketExpression:
		o := b.expr(t.Left)
		return ref{kind: refIndex, obj: o, key: b.expr(t.Member)}, true
	}
	b.unsupported(e.Idx0(), "assignment target")
	return ref{}, false
}

func (b *builder) get(r ref) lir.Temp {
	switch r.kind {
	case refMember:
		return b.getMember(r.obj, r.name, lir.AccessDynamic, types.Boxed)
	case refIndex:
		return b.value(types.Boxed, lir.Instr{Op: lir.OpGetIndex, Args: []lir.Temp{r.obj, r.key}})
	}
	return b.readIdent(r.id)
}

func (b *builder) set(r ref, v lir.Temp) {
	switch r.kind {
	case refMember:
		b.effect(lir.Instr{Op: lir.OpSetMember, Name: r.name, Args: []lir.Temp{r.obj, v}})
	case refIndex:
		b.effect(lir.Instr{Op: lir.OpSetIndex, Args: []lir.Temp{r.obj, r.key, v}})
	default:
		b.writeIdent(r.id, v)
	}
}

// ---------------------------------------------------------------------------
// Member access and calls
// ---------------------------------------------------------------------------

func (b *builder) dot(e *ast.DotExpression) lir.Temp {
	name := e.Identifier.Name.String()
	if sup, ok := e.Left.(*ast.SuperExpression); ok {
		return b.superMember(sup, name)
	}
	o := b.expr(e.Left)
	if types.FastMember(b.an.ExprShape(e.Left), name) {
		return b.getMember(o, name, lir.AccessFast, types.Number)
	}
	return b.getMember(o, name, lir.AccessDynamic, types.Boxed)
}

func (b *builder) bracket(e *ast.BracketExpression) lir.Temp {
	o := b.expr(e.Left)
	switch m := e.Member.(type) {
	case *ast.StringLiteral:
		return b.getMember(o, m.Value.String(), lir.AccessDynamic, types.Boxed)
	case *ast.NumberLiteral:
		if v, ok := numberValue(m.Value); ok {
			access := lir.AccessDynamic
			if types.FastIndex(b.an.ExprShape(e.Left), v) {
				access = lir.AccessFast
			}
			return b.value(types.Boxed, lir.Instr{Op: lir.OpGetIndex, Access: access, Args: []lir.Temp{o, b.number(v)}})
		}
	}
	k := b.expr(e.Member)
	return b.value(types.Boxed, lir.Instr{Op: lir.OpGetIndex, Args: []lir.Temp{o, k}})
}

// numberValue converts a parsed numeric literal. BigInt literals do not
// convert.
func numberValue(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// superMember reads name from the parent class: its prototype for instance
// methods, the class itself for static ones.
func (b *builder) superMember(sup *ast.SuperExpression, name string) lir.Temp {
	bd := b.an.Supers[sup]
	if bd == nil {
		b.unsupported(sup.Idx, "super outside a derived class")
		return b.undefined()
	}
	home := b.read(bd)
	if !b.fn.Static {
		home = b.getMember(home, "prototype", lir.AccessDynamic, types.Boxed)
	}
	return b.getMember(home, name, lir.AccessDynamic, types.Boxed)
}

func (b *builder) args(list []ast.Expression) []lir.Temp {
	out := make([]lir.Temp, 0, len(list))
	for _, a := range list {
		if s, ok := a.(*ast.SpreadElement); ok {
			b.unsupported(s.Idx0(), "spread arguments")
			continue
		}
		out = append(out, b.expr(a))
	}
	return out
}

func (b *builder) call(e *ast.CallExpression) lir.Temp {
	if name, ok := b.an.BuiltinName(e.Callee); ok {
		return b.runtime(name, b.args(e.ArgumentList)...)
	}
	var callee, this lir.Temp
	switch c := e.Callee.(type) {
	case *ast.SuperExpression:
		return b.superCall(c, e.ArgumentList)
	case *ast.DotExpression:
		if sup, ok := c.Left.(*ast.SuperExpression); ok {
			callee = b.superMember(sup, c.Identifier.Name.String())
			this = b.value(types.Boxed, lir.Instr{Op: lir.OpLoadThis})
			break
		}
		this = b.expr(c.Left)
		callee = b.getMember(this, c.Identifier.Name.String(), lir.AccessDynamic, types.Boxed)
	case *ast.BracketExpression:
		this = b.expr(c.Left)
		k := b.expr(c.Member)
		callee = b.value(types.Boxed, lir.Instr{Op: lir.OpGetIndex, Args: []lir.Temp{this, k}})
	default:
		callee = b.expr(e.Callee)
		this = b.undefined()
	}
	args := b.args(e.ArgumentList)
	return b.value(types.Boxed, lir.Instr{Op: lir.OpCall, Args: append([]lir.Temp{callee, this}, args...)})
}

// superCall runs the parent constructor on the current this.
func (b *builder) superCall(sup *ast.SuperExpression, list []ast.Expression) lir.Temp {
	bd := b.an.Supers[sup]
	if bd == nil || b.fn.Arrow {
		b.unsupported(sup.Idx, "super call outside a derived constructor")
		return b.undefined()
	}
	parent := b.read(bd)
	this := b.value(types.Boxed, lir.Instr{Op: lir.OpLoadThis})
	args := b.args(list)
	b.value(types.Boxed, lir.Instr{Op: lir.OpCall, Args: append([]lir.Temp{parent, this}, args...)})
	return this
}

// ---------------------------------------------------------------------------
// Literals
// ---------------------------------------------------------------------------

func (b *builder) arrayLiteral(e *ast.ArrayLiteral) lir.Temp {
	var head []lir.Temp
	i := 0
	for ; i < len(e.Value) && i < arrayChunk; i++ {
		if _, ok := e.Value[i].(*ast.SpreadElement); ok {
			break
		}
		head = append(head, b.exprOrUndefined(e.Value[i]))
	}
	arr := b.value(types.Boxed, lir.Instr{Op: lir.OpNewArray, Args: head})
	for ; i < len(e.Value); i++ {
		if s, ok := e.Value[i].(*ast.SpreadElement); ok {
			b.runtime(types.RtArrayExtend, arr, b.expr(s.Expression))
			continue
		}
		b.runtime(types.RtArrayAppend, arr, b.exprOrUndefined(e.Value[i]))
	}
	return arr
}

// propertyKey evaluates a computed key, or returns "" and NoTemp for a
// static one whose name is returned instead.
func (b *builder) propertyKey(key ast.Expression, computed bool) (string, lir.Temp) {
	if computed {
		return "", b.expr(key)
	}
	return scope.PropertyName(key), lir.NoTemp
}

// define installs a data property on obj under a static name or a computed
// key.
func (b *builder) define(obj lir.Temp, name string, key, v lir.Temp) {
	if key != lir.NoTemp {
		b.effect(lir.Instr{Op: lir.OpSetIndex, Args: []lir.Temp{obj, key, v}})
		return
	}
	b.effect(lir.Instr{Op: lir.OpInitProp, Name: name, Args: []lir.Temp{obj, v}})
}

// accessor installs a getter or setter.
func (b *builder) accessor(obj lir.Temp, kind ast.PropertyKind, name string, key, fn lir.Temp) {
	if key == lir.NoTemp {
		key = b.str(name)
	}
	op := types.RtDefineGetter
	if kind == ast.PropertyKindSet {
		op = types.RtDefineSetter
	}
	b.runtime(op, obj, key, fn)
}

func (b *builder) objectLiteral(e *ast.ObjectLiteral) lir.Temp {
	obj := b.value(types.Boxed, lir.Instr{Op: lir.OpNewObject})
	for _, p := range e.Value {
		switch p := p.(type) {
		case *ast.PropertyShort:
			b.define(obj, p.Name.Name.String(), lir.NoTemp, b.readIdent(&p.Name))
		case *ast.PropertyKeyed:
			name, key := b.propertyKey(p.Key, p.Computed)
			switch p.Kind {
			case ast.PropertyKindGet, ast.PropertyKindSet:
				fl, _ := p.Value.(*ast.FunctionLiteral)
				b.accessor(obj, p.Kind, name, key, b.closure(b.an.FuncOf[fl]))
			default:
				b.define(obj, name, key, b.expr(p.Value))
			}
		case *ast.SpreadElement:
			b.unsupported(p.Idx0(), "object spread")
		}
	}
	return obj
}

func (b *builder) template(e *ast.TemplateLiteral) lir.Temp {
	if e.Tag != nil {
		b.unsupported(e.OpenQuote, "tagged template")
		return b.undefined()
	}
	quasi := func(i int) string {
		if i < len(e.Elements) {
			return e.Elements[i].Parsed.String()
		}
		return ""
	}
	acc := b.str(quasi(0))
	for i, x := range e.Expressions {
		s := b.runtime(types.RtToString, b.expr(x))
		acc = b.value(types.Boxed, lir.Instr{Op: lir.OpBinary, Operator: lir.Add, Args: []lir.Temp{acc, s}})
		if q := quasi(i + 1); q != "" {
			acc = b.value(types.Boxed, lir.Instr{Op: lir.OpBinary, Operator: lir.Add, Args: []lir.Temp{acc, b.str(q)}})
		}
	}
	return acc
}
