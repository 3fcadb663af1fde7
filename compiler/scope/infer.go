package scope

import (
	"math/big"

	"github.com/chazu/kiln/compiler/types"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

// assignment is one write to a binding. A nil expr with update unset is a
// value of unknown kind (a declaration without initializer, a parameter, a
// destructured element, a function object).
type assignment struct {
	expr   ast.Expression
	op     token.Token // binary operator of a compound assignment
	update bool        // ++ or --
}

func (as assignment) compound() bool {
	return as.op != 0 && as.op != token.ASSIGN
}

// infer computes the kind hint and shape of every binding. Hints start at
// Unknown and only move down the lattice, so the loop terminates; whatever is
// still Unknown at the fixpoint settles to Boxed.
func (a *Analysis) infer() {
	// A binding's shape is the meet over every write to it, so shapes flow
	// through any binding and never depend on kinds. Two sweeps reach every
	// chain the source order allows; anything left undecided is ShapeNone.
	for range 2 {
		for _, b := range a.Bindings {
			b.Shape = a.bindingShape(b)
		}
	}

	for changed := true; changed; {
		changed = false
		for _, b := range a.Bindings {
			k := types.Unknown
			for _, as := range b.assigns {
				k = types.Meet(k, a.assignKind(b, as))
			}
			if k != b.Hint {
				b.Hint = k
				changed = true
			}
		}
	}
	for _, b := range a.Bindings {
		b.Hint = b.Hint.Settle()
	}
}

func (a *Analysis) assignKind(b *Binding, as assignment) types.Kind {
	switch {
	case as.update:
		return types.Number
	case as.expr == nil:
		return types.Boxed
	case as.compound():
		return a.compoundKind(as.op, b.Hint, a.ExprKind(as.expr))
	}
	return a.ExprKind(as.expr)
}

func (a *Analysis) compoundKind(op token.Token, l, r types.Kind) types.Kind {
	switch op {
	case token.LOGICAL_AND, token.LOGICAL_OR, token.COALESCE:
		return types.Meet(l, r)
	}
	return types.BinaryResult(BinaryClass(op), l, r)
}

// BinaryClass maps a binary operator token to its type-model class.
func BinaryClass(op token.Token) types.OpClass {
	switch op {
	case token.PLUS:
		return types.ClassAdd
	case token.MINUS, token.MULTIPLY, token.SLASH, token.REMAINDER, token.EXPONENT:
		return types.ClassArith
	case token.AND, token.OR, token.EXCLUSIVE_OR, token.SHIFT_LEFT, token.SHIFT_RIGHT, token.UNSIGNED_SHIFT_RIGHT:
		return types.ClassBitwise
	case token.LESS, token.LESS_OR_EQUAL, token.GREATER, token.GREATER_OR_EQUAL,
		token.EQUAL, token.NOT_EQUAL, token.STRICT_EQUAL, token.STRICT_NOT_EQUAL:
		return types.ClassCompare
	}
	return types.ClassOther
}

// UnaryKind maps a unary operator token to its type-model operator.
func UnaryKind(op token.Token) (types.UnaryOp, bool) {
	switch op {
	case token.MINUS:
		return types.UnaryNeg, true
	case token.PLUS:
		return types.UnaryPlus, true
	case token.BITWISE_NOT:
		return types.UnaryBitNot, true
	case token.NOT:
		return types.UnaryNot, true
	case token.TYPEOF:
		return types.UnaryTypeof, true
	case token.VOID:
		return types.UnaryVoid, true
	case token.DELETE:
		return types.UnaryDelete, true
	}
	return 0, false
}

// GlobalConstant reports the kind of the unshadowed globals the compiler
// folds to constants.
func GlobalConstant(name string) (types.Kind, bool) {
	switch name {
	case "NaN", "Infinity":
		return types.Number, true
	case "undefined":
		return types.Boxed, true
	}
	return types.Unknown, false
}

// BuiltinName returns the runtime name of a call to a known built-in on an
// unshadowed global, such as "Math.floor" or "parseInt".
func (a *Analysis) BuiltinName(callee ast.Expression) (string, bool) {
	var name string
	switch c := callee.(type) {
	case *ast.Identifier:
		if a.Refs[c] != nil {
			return "", false
		}
		name = c.Name.String()
	case *ast.DotExpression:
		id, ok := c.Left.(*ast.Identifier)
		if !ok || a.Refs[id] != nil {
			return "", false
		}
		name = id.Name.String() + "." + c.Identifier.Name.String()
	default:
		return "", false
	}
	if !types.IsBuiltinCall(name) {
		return "", false
	}
	return name, true
}

// ExprKind is the kind of the value e produces under the current hints. It
// mirrors the kinds the builder assigns to temporaries.
func (a *Analysis) ExprKind(e ast.Expression) types.Kind {
	switch e := e.(type) {
	case *ast.NumberLiteral:
		if _, ok := e.Value.(*big.Int); ok {
			return types.Boxed
		}
		return types.Number
	case *ast.BooleanLiteral:
		return types.Boolean
	case *ast.Identifier:
		b := a.Refs[e]
		if b == nil {
			if k, ok := GlobalConstant(e.Name.String()); ok {
				return k
			}
			return types.Boxed
		}
		if a.EarlyRefs[e] {
			return types.Boxed
		}
		return b.Hint
	case *ast.UnaryExpression:
		if e.Operator == token.INCREMENT || e.Operator == token.DECREMENT {
			return types.Number
		}
		if op, ok := UnaryKind(e.Operator); ok {
			return types.UnaryResult(op, a.ExprKind(e.Operand))
		}
		return types.Boxed
	case *ast.BinaryExpression:
		l, r := a.ExprKind(e.Left), a.ExprKind(e.Right)
		return a.compoundKind(e.Operator, l, r)
	case *ast.ConditionalExpression:
		return types.Meet(a.ExprKind(e.Consequent), a.ExprKind(e.Alternate))
	case *ast.SequenceExpression:
		if len(e.Sequence) == 0 {
			return types.Boxed
		}
		return a.ExprKind(e.Sequence[len(e.Sequence)-1])
	case *ast.AssignExpression:
		if e.Operator == token.ASSIGN || e.Operator == 0 {
			return a.ExprKind(e.Right)
		}
		return a.compoundKind(e.Operator, a.ExprKind(e.Left), a.ExprKind(e.Right))
	case *ast.CallExpression:
		if name, ok := a.BuiltinName(e.Callee); ok {
			op, _ := types.LookupRuntime(name)
			return op.Result
		}
	case *ast.DotExpression:
		if e.Identifier.Name.String() == "length" && types.FastMember(a.ExprShape(e.Left), "length") {
			return types.Number
		}
	}
	return types.Boxed
}

func (a *Analysis) bindingShape(b *Binding) types.Shape {
	if len(b.assigns) == 0 {
		return types.ShapeNone
	}
	s := a.assignShape(b.assigns[0])
	for _, as := range b.assigns[1:] {
		s = types.MeetShape(s, a.assignShape(as))
	}
	return s
}

func (a *Analysis) assignShape(as assignment) types.Shape {
	if as.update || as.expr == nil || as.compound() {
		return types.ShapeNone
	}
	return a.ExprShape(as.expr)
}

// ExprShape is the statically known shape of the value e produces.
func (a *Analysis) ExprShape(e ast.Expression) types.Shape {
	switch e := e.(type) {
	case *ast.ArrayLiteral:
		return types.ShapeArray
	case *ast.ObjectLiteral:
		return types.ShapeObject
	case *ast.StringLiteral:
		return types.ShapeString
	case *ast.TemplateLiteral:
		if e.Tag == nil {
			return types.ShapeString
		}
	case *ast.Identifier:
		if b := a.Refs[e]; b != nil && !a.EarlyRefs[e] {
			return b.Shape
		}
	case *ast.BinaryExpression:
		if e.Operator == token.PLUS && (a.ExprShape(e.Left) == types.ShapeString || a.ExprShape(e.Right) == types.ShapeString) {
			return types.ShapeString
		}
	case *ast.CallExpression:
		if name, ok := a.BuiltinName(e.Callee); ok {
			op, _ := types.LookupRuntime(name)
			return op.Shape
		}
	}
	return types.ShapeNone
}
