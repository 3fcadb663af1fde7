// Package scope builds the scope tree of a compilation unit and classifies
// every binding's storage.
//
// A single top-down walk declares bindings (var hoisted to the nearest
// function or module scope; let, const and class block scoped), resolves
// each identifier outward to its nearest declaration, and upgrades bindings
// that are referenced across a function boundary to scope-field storage.
// Loop variables declared with let or const get scope-field storage whenever
// the loop contains a closure so that every iteration exposes its own cell.
// The result is immutable once Analyze returns.
package scope

import (
	"fmt"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/types"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
)

// Kind of a scope.
type Kind uint8

const (
	ModuleScope Kind = iota
	FunctionScope
	BlockScope
	LoopScope // per-iteration scope of a for/for-in/for-of head
	CatchScope
	ClassScope
)

var kindNames = [...]string{"module", "function", "block", "loop-iteration", "catch", "class"}

func (k Kind) String() string { return kindNames[k] }

// DeclKind is how a binding was declared.
type DeclKind uint8

const (
	Var DeclKind = iota
	Let
	Const
	Param
	CatchParam
	FunctionDecl
	ClassDecl
	Internal // compiler-introduced (%this, %super)
)

var declNames = [...]string{"var", "let", "const", "param", "catch-param", "function", "class", "internal"}

func (d DeclKind) String() string { return declNames[d] }

// Lexical reports whether the declaration is block scoped.
func (d DeclKind) Lexical() bool {
	return d == Let || d == Const || d == ClassDecl
}

// Storage class of a binding.
type Storage uint8

const (
	// StackLocal bindings live in a frame slot assigned by the allocator.
	StackLocal Storage = iota
	// ScopeField bindings live in a heap scope object shared with closures.
	ScopeField
)

func (s Storage) String() string {
	if s == ScopeField {
		return "scope-field"
	}
	return "stack-local"
}

// Binding is a declared name.
type Binding struct {
	ID           int
	Name         string
	Decl         DeclKind
	Storage      Storage
	TDZ          bool // let/const/class: reading before initialization throws
	PerIteration bool // loop variable copied into a fresh cell each iteration
	Captured     bool // referenced from a nested function
	Checked      bool // every read checks for an uninitialized cell
	Hint         types.Kind
	Shape        types.Shape
	Scope        *Scope
	Field        int // index in the scope object, -1 unless ScopeField
	ParamIndex   int // -1 unless a simple positional parameter
	Pos          diag.Pos

	idx         file.Idx
	initialized bool
	assigns     []assignment

	// A var starts as undefined unless its initializer runs before any
	// reference in straight-line code of its function.
	varUndefined bool
	referenced   bool
	initFirst    bool
}

func (b *Binding) String() string {
	return fmt.Sprintf("%s %s (%s, %s)", b.Decl, b.Name, b.Storage, b.Hint)
}

// IsInternal reports whether the compiler introduced the binding.
func (b *Binding) IsInternal() bool { return b.Decl == Internal }

// Scope is a node in the scope tree.
type Scope struct {
	Kind        Kind
	Parent      *Scope
	Func        *Function
	Bindings    []*Binding
	Children    []*Scope
	Capturing   bool // lies on the path of a reference that crosses a function boundary
	HasCaptured bool // a nested function captures one of its bindings
	Node        ast.Node

	// Fields lists the scope-field bindings in field order. Layout is the
	// index of the scope-object layout, or -1 when the scope needs no object.
	Fields []*Binding
	Layout int

	// Hoisted function declarations initialized on scope entry.
	Hoisted []*ast.FunctionLiteral

	byName map[string]*Binding
}

func newScope(kind Kind, parent *Scope, fn *Function, node ast.Node) *Scope {
	s := &Scope{
		Kind:   kind,
		Parent: parent,
		Func:   fn,
		Node:   node,
		Layout: -1,
		byName: make(map[string]*Binding),
	}
	if parent != nil {
		parent.Children = append(parent.Children, s)
	}
	return s
}

// Lookup finds a binding declared directly in s.
func (s *Scope) Lookup(name string) *Binding {
	return s.byName[name]
}

// Resolve finds the nearest binding for name visible from s.
func (s *Scope) Resolve(name string) *Binding {
	for sc := s; sc != nil; sc = sc.Parent {
		if b := sc.byName[name]; b != nil {
			return b
		}
	}
	return nil
}

// Materialized reports whether entering the scope allocates a scope object.
func (s *Scope) Materialized() bool { return s.Layout >= 0 }

// Hops counts the scope objects between s and the scope declaring b. It is
// the number of parent links to follow from the innermost scope object
// visible at s.
func (s *Scope) Hops(b *Binding) int {
	hops := 0
	for sc := s; sc != nil && sc != b.Scope; sc = sc.Parent {
		if sc.Materialized() {
			hops++
		}
	}
	return hops
}

// MethodKind classifies functions defined inside classes and object
// literals.
type MethodKind uint8

const (
	NotMethod MethodKind = iota
	Method
	Getter
	Setter
	Constructor
)

// Function describes one function body: a declaration, expression, arrow,
// method, or the module body itself.
type Function struct {
	Index     int
	Name      string
	Node      ast.Node // *ast.Program, *ast.FunctionLiteral or *ast.ArrowFunctionLiteral
	Scope     *Scope
	Parent    *Function
	Children  []*Function
	Params    *ast.ParameterList
	Generator bool
	Async     bool
	Arrow     bool
	Method    MethodKind
	Static    bool
	Derived   bool // constructor of a class with an extends clause
	Pos       diag.Pos

	// This is the internal binding through which arrows read this. Self
	// binds the name of a named function expression inside its body.
	This *Binding
	Self *Binding
	// Class is set for methods and constructors.
	Class *ast.ClassLiteral
	// Vars are the hoisted var bindings of the function.
	Vars []*Binding
	// ParamBindings holds the binding of each simple identifier parameter,
	// nil for destructured ones. Rest is the rest parameter binding.
	ParamBindings []*Binding
	Rest          *Binding
	HasDefaults   bool
	HasPatterns   bool
}

// IsModule reports whether f is the top-level body.
func (f *Function) IsModule() bool { return f.Parent == nil }

// NonArrow returns the nearest enclosing function that is not an arrow.
func (f *Function) NonArrow() *Function {
	for fn := f; fn != nil; fn = fn.Parent {
		if !fn.Arrow {
			return fn
		}
	}
	return nil
}

// Layout is the field layout of a scope object.
type Layout struct {
	Names []string
	TDZ   []bool // fields that start as uninitialized holes
}

// Analysis is the scope facts of a compilation unit.
type Analysis struct {
	File      *file.File
	Module    *Function
	Functions []*Function
	Bindings  []*Binding
	Layouts   []Layout

	// Scopes maps scope-introducing nodes to their scope. Function bodies
	// share the scope of their function node; catch bodies share the catch
	// scope.
	Scopes map[ast.Node]*Scope
	// FuncOf maps function nodes to their descriptor.
	FuncOf map[ast.Node]*Function
	// Refs maps every identifier that names a binding, both declarations
	// and references. Identifiers absent from Refs are globals.
	Refs map[*ast.Identifier]*Binding
	// EarlyRefs are references that execute before their binding's
	// declaration within the same function; they always throw.
	EarlyRefs map[*ast.Identifier]bool
	// Thises maps this expressions inside arrows to the captured binding.
	Thises map[*ast.ThisExpression]*Binding
	// Supers maps super expressions to the %super binding of their class.
	Supers map[*ast.SuperExpression]*Binding

	Diags diag.List
}

// Position resolves a node index in the analyzed file.
func (a *Analysis) Position(idx file.Idx) diag.Pos {
	if a.File == nil || idx == 0 {
		return diag.Pos{}
	}
	p := a.File.Position(int(idx) - a.File.Base())
	return diag.Pos{File: p.Filename, Line: p.Line, Column: p.Column}
}

// ScopeOf returns the scope introduced by node, or nil.
func (a *Analysis) ScopeOf(node ast.Node) *Scope { return a.Scopes[node] }

// BindingOf returns the binding named by ident, or nil for a global.
func (a *Analysis) BindingOf(ident *ast.Identifier) *Binding { return a.Refs[ident] }

// Exports returns the module-level declarations visible to a host.
func (a *Analysis) Exports() []*Binding {
	var out []*Binding
	for _, b := range a.Module.Scope.Bindings {
		if !b.IsInternal() {
			out = append(out, b)
		}
	}
	return out
}
