package lower

import (
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/scope"
	"github.com/chazu/kiln/compiler/types"
	"github.com/dop251/goja/ast"
)

// class evaluates a class literal to its constructor. Methods are installed
// on the prototype, static methods on the constructor itself.
func (b *builder) class(cl *ast.ClassLiteral) lir.Temp {
	parent := lir.NoTemp
	if cl.SuperClass != nil {
		parent = b.expr(cl.SuperClass)
	}
	leave := b.enterScope(cl)
	defer leave()
	sc := b.an.Scopes[cl]
	if parent != lir.NoTemp && sc != nil {
		if bd := sc.Lookup(scope.SuperName); bd != nil {
			b.store(bd, parent, true)
		}
	}

	var ctorDef *ast.MethodDefinition
	for _, el := range cl.Body {
		switch el := el.(type) {
		case *ast.MethodDefinition:
			if fn := b.an.FuncOf[el.Body]; fn != nil && fn.Method == scope.Constructor {
				ctorDef = el
			}
		case *ast.FieldDefinition:
			b.unsupported(el.Idx, "class fields")
			return b.undefined()
		case *ast.ClassStaticBlock:
			b.unsupported(el.Static, "static initialization blocks")
			return b.undefined()
		}
	}

	base := parent
	if base == lir.NoTemp {
		base = b.undefined()
	}
	var ctor lir.Temp
	if ctorDef != nil {
		ctor = b.closure(b.an.FuncOf[ctorDef.Body])
	} else {
		ctor = b.runtime(types.RtClassDefault, base)
	}
	b.runtime(types.RtClassSetup, ctor, base)
	if cl.Name != nil && sc != nil {
		if bd := sc.Lookup(cl.Name.Name.String()); bd != nil {
			b.store(bd, ctor, true)
		}
	}

	proto := b.getMember(ctor, "prototype", lir.AccessDynamic, types.Boxed)
	for _, el := range cl.Body {
		m, ok := el.(*ast.MethodDefinition)
		if !ok || m == ctorDef {
			continue
		}
		if _, private := m.Key.(*ast.PrivateIdentifier); private {
			b.unsupported(m.Idx, "private methods")
			continue
		}
		home := proto
		if m.Static {
			home = ctor
		}
		name, key := b.propertyKey(m.Key, m.Computed)
		fn := b.closure(b.an.FuncOf[m.Body])
		switch m.Kind {
		case ast.PropertyKindGet, ast.PropertyKindSet:
			b.accessor(home, m.Kind, name, key, fn)
		default:
			b.define(home, name, key, fn)
		}
	}
	return ctor
}
