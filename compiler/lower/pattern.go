package lower

import (
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/types"
	"github.com/dop251/goja/ast"
)

// bindPattern assigns v to target. With declare set the writes initialize
// declared bindings; otherwise they are ordinary assignments.
//
// Array patterns read elements by index rather than through the iterator
// protocol.
func (b *builder) bindPattern(target ast.Expression, v lir.Temp, declare bool) {
	switch t := target.(type) {
	case nil:
	case *ast.Identifier:
		if declare {
			b.declareIdent(t, v)
		} else {
			b.writeIdent(t, v)
		}
	case *ast.AssignExpression:
		b.bindPattern(t.Left, b.withDefault(v, t.Right), declare)
	case *ast.ArrayPattern:
		for i, el := range t.Elements {
			if el == nil {
				continue
			}
			item := b.value(types.Boxed, lir.Instr{Op: lir.OpGetIndex, Args: []lir.Temp{v, b.number(float64(i))}})
			b.bindPattern(el, item, declare)
		}
		if t.Rest != nil {
			rest := b.runtime(types.RtArraySlice, v, b.number(float64(len(t.Elements))))
			b.bindPattern(t.Rest, rest, declare)
		}
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				item := b.getMember(v, p.Name.Name.String(), lir.AccessDynamic, types.Boxed)
				if p.Initializer != nil {
					item = b.withDefault(item, p.Initializer)
				}
				b.bindPattern(&p.Name, item, declare)
			case *ast.PropertyKeyed:
				var item lir.Temp
				if name, key := b.propertyKey(p.Key, p.Computed); key != lir.NoTemp {
					item = b.value(types.Boxed, lir.Instr{Op: lir.OpGetIndex, Args: []lir.Temp{v, key}})
				} else {
					item = b.getMember(v, name, lir.AccessDynamic, types.Boxed)
				}
				b.bindPattern(p.Value, item, declare)
			}
		}
		if t.Rest != nil {
			b.unsupported(t.Rest.Idx0(), "object rest in a pattern")
		}
	case *ast.DotExpression, *ast.BracketExpression:
		if r, ok := b.reference(t); ok {
			b.set(r, v)
		}
	default:
		b.unsupported(target.Idx0(), "destructuring target")
	}
}
