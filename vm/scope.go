package vm

import "github.com/chazu/kiln/pkg/bytecode"

// Scope is a heap-allocated scope object holding the captured bindings of
// one lexical scope. Closures keep the scope chain they were created in
// alive.
type Scope struct {
	fields []Value
	layout *bytecode.ScopeLayout
	parent *Scope
}

func newScope(layout *bytecode.ScopeLayout, parent *Scope) *Scope {
	s := &Scope{fields: make([]Value, len(layout.Names)), layout: layout, parent: parent}
	for i := range s.fields {
		if i < len(layout.TDZ) && layout.TDZ[i] {
			s.fields[i] = hole
		} else {
			s.fields[i] = Undefined
		}
	}
	return s
}

// clone copies the fields of s into a fresh scope with the same parent, so
// closures created before the copy keep the old values.
func (s *Scope) clone() *Scope {
	return &Scope{fields: append([]Value(nil), s.fields...), layout: s.layout, parent: s.parent}
}

// up walks hops parent links.
func (s *Scope) up(hops int) *Scope {
	for ; hops > 0 && s != nil; hops-- {
		s = s.parent
	}
	return s
}

func (s *Scope) name(field int) string {
	if s.layout != nil && field < len(s.layout.Names) {
		return s.layout.Names[field]
	}
	return "?"
}
