package scope

import (
	"github.com/chazu/kiln/compiler/diag"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/token"
	"github.com/dop251/goja/unistring"
)

// Names of compiler-introduced bindings. The leading % keeps them out of
// reach of source identifiers.
const (
	ThisName  = "%this"
	SuperName = "%super"
)

type analyzer struct {
	an     *Analysis
	scope  *Scope
	fn     *Function
	scopes []*Scope
	funcs  int // functions entered so far, used to detect closures in loops

	// straight holds the var statements at the top level of a body.
	straight map[*ast.VariableStatement]bool
}

// Analyze builds the scope tree of prog. Binding errors are collected in the
// returned Analysis's Diags; the tree is complete even when errors exist.
func Analyze(prog *ast.Program) *Analysis {
	an := &Analysis{
		File:      prog.File,
		Scopes:    make(map[ast.Node]*Scope),
		FuncOf:    make(map[ast.Node]*Function),
		Refs:      make(map[*ast.Identifier]*Binding),
		EarlyRefs: make(map[*ast.Identifier]bool),
		Thises:    make(map[*ast.ThisExpression]*Binding),
		Supers:    make(map[*ast.SuperExpression]*Binding),
	}
	a := &analyzer{an: an, straight: make(map[*ast.VariableStatement]bool)}
	fn := a.newFunction("", prog)
	fn.Scope = a.newScope(ModuleScope, nil, fn, prog)
	an.Module = fn
	a.fn, a.scope = fn, fn.Scope

	a.hoistVars(prog.Body)
	a.declareLexical(prog.Body)
	a.topStatements(prog.Body)
	a.finish()
	return an
}

func (a *analyzer) errorf(kind diag.Kind, idx file.Idx, format string, args ...any) {
	d := diag.New(kind, a.an.Position(idx), format, args...)
	d.Function = a.fn.Name
	a.an.Diags.Add(d)
}

func (a *analyzer) newFunction(name string, node ast.Node) *Function {
	fn := &Function{
		Index:  len(a.an.Functions),
		Name:   name,
		Node:   node,
		Parent: a.fn,
	}
	if _, ok := node.(*ast.Program); !ok {
		fn.Pos = a.an.Position(node.Idx0())
	}
	if a.fn != nil {
		a.fn.Children = append(a.fn.Children, fn)
	}
	a.an.Functions = append(a.an.Functions, fn)
	a.an.FuncOf[node] = fn
	return fn
}

func (a *analyzer) newScope(kind Kind, parent *Scope, fn *Function, node ast.Node) *Scope {
	s := newScope(kind, parent, fn, node)
	a.scopes = append(a.scopes, s)
	a.an.Scopes[node] = s
	return s
}

func (a *analyzer) push(kind Kind, node ast.Node) *Scope {
	a.scope = a.newScope(kind, a.scope, a.fn, node)
	return a.scope
}

func (a *analyzer) pop() { a.scope = a.scope.Parent }

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

func redeclarable(d DeclKind) bool {
	return d == Var || d == Param || d == FunctionDecl
}

func (a *analyzer) declare(s *Scope, ident *ast.Identifier, kind DeclKind) *Binding {
	name := ident.Name.String()
	if old := s.byName[name]; old != nil {
		a.an.Refs[ident] = old
		if redeclarable(old.Decl) && redeclarable(kind) {
			if kind == FunctionDecl && old.Decl == Var {
				old.Decl = FunctionDecl
			}
			return old
		}
		a.errorf(diag.Redeclaration, ident.Idx, "identifier '%s' has already been declared", name)
		return old
	}
	b := &Binding{
		ID:         len(a.an.Bindings),
		Name:       name,
		Decl:       kind,
		TDZ:        kind.Lexical(),
		Scope:      s,
		Field:      -1,
		ParamIndex: -1,
		Pos:        a.an.Position(ident.Idx),
		idx:        ident.Idx,
	}
	b.initialized = !b.TDZ
	switch kind {
	case Let, Const:
	case Var:
		b.varUndefined = true
	default:
		b.assigns = append(b.assigns, assignment{})
	}
	s.Bindings = append(s.Bindings, b)
	s.byName[name] = b
	a.an.Bindings = append(a.an.Bindings, b)
	a.an.Refs[ident] = b
	if kind == Var && s == s.Func.Scope {
		s.Func.Vars = append(s.Func.Vars, b)
	}
	return b
}

func (a *analyzer) declareInternal(s *Scope, name string) *Binding {
	return a.declare(s, &ast.Identifier{Name: unistring.NewFromString(name)}, Internal)
}

// declarePattern declares every identifier of a binding target in s.
func (a *analyzer) declarePattern(target ast.Expression, kind DeclKind, s *Scope) {
	switch t := target.(type) {
	case *ast.Identifier:
		a.declare(s, t, kind)
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			if el != nil {
				a.declarePattern(el, kind, s)
			}
		}
		if t.Rest != nil {
			a.declarePattern(t.Rest, kind, s)
		}
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				a.declare(s, &p.Name, kind)
			case *ast.PropertyKeyed:
				a.declarePattern(p.Value, kind, s)
			}
		}
		if t.Rest != nil {
			a.declarePattern(t.Rest, kind, s)
		}
	case *ast.AssignExpression:
		a.declarePattern(t.Left, kind, s)
	case nil:
	default:
		a.errorf(diag.InvalidDestructure, target.Idx0(), "invalid destructuring target in declaration")
	}
}

// hoistVars declares the var bindings of a function body in the function
// scope, descending into nested statements but not nested functions.
func (a *analyzer) hoistVars(list []ast.Statement) {
	for _, s := range list {
		a.hoistVarsIn(s)
	}
}

func (a *analyzer) hoistVarsIn(s ast.Statement) {
	into := a.fn.Scope
	switch s := s.(type) {
	case *ast.VariableStatement:
		for _, b := range s.List {
			a.declarePattern(b.Target, Var, into)
		}
	case *ast.BlockStatement:
		a.hoistVars(s.List)
	case *ast.IfStatement:
		a.hoistVarsIn(s.Consequent)
		if s.Alternate != nil {
			a.hoistVarsIn(s.Alternate)
		}
	case *ast.ForStatement:
		if init, ok := s.Initializer.(*ast.ForLoopInitializerVarDeclList); ok {
			for _, b := range init.List {
				a.declarePattern(b.Target, Var, into)
			}
		}
		a.hoistVarsIn(s.Body)
	case *ast.ForInStatement:
		if v, ok := s.Into.(*ast.ForIntoVar); ok {
			a.declarePattern(v.Binding.Target, Var, into)
		}
		a.hoistVarsIn(s.Body)
	case *ast.ForOfStatement:
		if v, ok := s.Into.(*ast.ForIntoVar); ok {
			a.declarePattern(v.Binding.Target, Var, into)
		}
		a.hoistVarsIn(s.Body)
	case *ast.WhileStatement:
		a.hoistVarsIn(s.Body)
	case *ast.DoWhileStatement:
		a.hoistVarsIn(s.Body)
	case *ast.LabelledStatement:
		a.hoistVarsIn(s.Statement)
	case *ast.TryStatement:
		a.hoistVars(s.Body.List)
		if s.Catch != nil {
			a.hoistVars(s.Catch.Body.List)
		}
		if s.Finally != nil {
			a.hoistVars(s.Finally.List)
		}
	case *ast.SwitchStatement:
		for _, c := range s.Body {
			a.hoistVars(c.Consequent)
		}
	case *ast.WithStatement:
		a.hoistVarsIn(s.Body)
	}
}

// declareLexical declares the let, const, class and function declarations
// that appear directly in list, in the current scope.
func (a *analyzer) declareLexical(list []ast.Statement) {
	for _, s := range list {
		switch s := s.(type) {
		case *ast.LexicalDeclaration:
			kind := Let
			if s.Token == token.CONST {
				kind = Const
			}
			for _, b := range s.List {
				a.declarePattern(b.Target, kind, a.scope)
			}
		case *ast.ClassDeclaration:
			if s.Class.Name != nil {
				a.declare(a.scope, s.Class.Name, ClassDecl)
			}
		case *ast.FunctionDeclaration:
			if s.Function.Name != nil {
				a.declare(a.scope, s.Function.Name, FunctionDecl)
				a.scope.Hoisted = append(a.scope.Hoisted, s.Function)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// Resolution
// ---------------------------------------------------------------------------

// lookup finds the binding for name and records a capture when the
// reference crosses a function boundary.
func (a *analyzer) lookup(name string) *Binding {
	for s := a.scope; s != nil; s = s.Parent {
		b := s.byName[name]
		if b == nil {
			continue
		}
		b.referenced = true
		if b.Scope.Func != a.fn {
			b.Captured = true
			b.Storage = ScopeField
			b.Scope.HasCaptured = true
			for p := a.scope; p != b.Scope; p = p.Parent {
				p.Capturing = true
			}
		}
		return b
	}
	return nil
}

func (a *analyzer) resolve(ident *ast.Identifier) *Binding {
	b := a.lookup(ident.Name.String())
	if b == nil {
		return nil
	}
	a.an.Refs[ident] = b
	if b.Scope.Func == a.fn && !b.initialized {
		a.an.EarlyRefs[ident] = true
	}
	return b
}

func (a *analyzer) resolveWrite(ident *ast.Identifier) *Binding {
	b := a.resolve(ident)
	if b != nil && b.Decl == Const {
		a.errorf(diag.ConstAssignment, ident.Idx, "assignment to constant variable '%s'", b.Name)
	}
	return b
}

// bindTarget records a write of init (nil for a value of unknown kind) to
// target. declaring marks the initializing write of a lexical declaration.
func (a *analyzer) bindTarget(target ast.Expression, init ast.Expression, declaring bool) {
	id, ok := target.(*ast.Identifier)
	if !ok {
		a.patternWrite(target, declaring)
		return
	}
	var b *Binding
	if declaring {
		b = a.an.Refs[id]
	} else {
		b = a.resolveWrite(id)
	}
	if b == nil {
		return
	}
	b.assigns = append(b.assigns, assignment{expr: init})
	if declaring {
		b.initialized = true
	}
}

// patternWrite walks a destructuring target: default values are evaluated
// and every leaf is written with a value of unknown kind.
func (a *analyzer) patternWrite(target ast.Expression, declaring bool) {
	switch t := target.(type) {
	case *ast.Identifier:
		a.bindTarget(t, nil, declaring)
	case *ast.ArrayPattern:
		for _, el := range t.Elements {
			if el != nil {
				a.patternWrite(el, declaring)
			}
		}
		if t.Rest != nil {
			a.patternWrite(t.Rest, declaring)
		}
	case *ast.ObjectPattern:
		for _, p := range t.Properties {
			switch p := p.(type) {
			case *ast.PropertyShort:
				a.expr(p.Initializer)
				a.bindTarget(&p.Name, nil, declaring)
			case *ast.PropertyKeyed:
				if p.Computed {
					a.expr(p.Key)
				}
				a.patternWrite(p.Value, declaring)
			}
		}
		if t.Rest != nil {
			a.patternWrite(t.Rest, declaring)
		}
	case *ast.AssignExpression:
		a.expr(t.Right)
		a.patternWrite(t.Left, declaring)
	case *ast.DotExpression, *ast.BracketExpression:
		// declarePattern already reported a member target in a declaration.
		if !declaring {
			a.expr(t)
		}
	case nil:
	default:
		a.errorf(diag.InvalidDestructure, t.Idx0(), "invalid destructuring target")
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// topStatements analyzes the body of a function or module.
func (a *analyzer) topStatements(list []ast.Statement) {
	for _, s := range list {
		if v, ok := s.(*ast.VariableStatement); ok {
			a.straight[v] = true
		}
	}
	a.statements(list)
}

func (a *analyzer) statements(list []ast.Statement) {
	for _, s := range list {
		a.statement(s)
	}
}

func (a *analyzer) statement(s ast.Statement) {
	switch s := s.(type) {
	case nil:
	case *ast.ExpressionStatement:
		a.expr(s.Expression)
	case *ast.VariableStatement:
		straight := a.straight[s]
		for _, b := range s.List {
			a.varBinding(b, straight)
		}
	case *ast.LexicalDeclaration:
		for _, b := range s.List {
			a.lexicalBinding(b)
		}
	case *ast.FunctionDeclaration:
		name := ""
		if s.Function.Name != nil {
			name = s.Function.Name.Name.String()
		}
		a.function(s.Function, name, NotMethod, false, true)
	case *ast.ClassDeclaration:
		a.class(s.Class, true)
		if s.Class.Name != nil {
			if b := a.an.Refs[s.Class.Name]; b != nil {
				b.initialized = true
			}
		}
	case *ast.BlockStatement:
		a.block(s)
	case *ast.IfStatement:
		a.expr(s.Test)
		a.statement(s.Consequent)
		a.statement(s.Alternate)
	case *ast.WhileStatement:
		a.expr(s.Test)
		a.statement(s.Body)
	case *ast.DoWhileStatement:
		a.statement(s.Body)
		a.expr(s.Test)
	case *ast.ForStatement:
		a.forStatement(s)
	case *ast.ForInStatement:
		a.forInOf(s, s.Into, s.Source, s.Body)
	case *ast.ForOfStatement:
		a.forInOf(s, s.Into, s.Source, s.Body)
	case *ast.LabelledStatement:
		a.statement(s.Statement)
	case *ast.ReturnStatement:
		a.expr(s.Argument)
	case *ast.ThrowStatement:
		a.expr(s.Argument)
	case *ast.TryStatement:
		a.block(s.Body)
		if s.Catch != nil {
			a.catch(s.Catch)
		}
		if s.Finally != nil {
			a.block(s.Finally)
		}
	case *ast.SwitchStatement:
		a.expr(s.Discriminant)
		sc := a.push(BlockScope, s)
		for _, c := range s.Body {
			a.declareLexical(c.Consequent)
		}
		// A case can be entered past another case's declarations.
		for _, b := range sc.Bindings {
			if b.TDZ {
				b.Checked = true
				b.Storage = ScopeField
			}
		}
		for _, c := range s.Body {
			a.expr(c.Test)
			a.statements(c.Consequent)
		}
		a.pop()
	case *ast.WithStatement:
		a.expr(s.Object)
		a.statement(s.Body)
	}
}

// varBinding analyzes one declarator of a var statement. straight marks a
// statement that runs unconditionally at the top of its function body.
func (a *analyzer) varBinding(b *ast.Binding, straight bool) {
	id, simple := b.Target.(*ast.Identifier)
	if b.Initializer == nil && simple {
		return
	}
	a.expr(b.Initializer)
	if simple && straight {
		if bd := a.scope.byName[id.Name.String()]; bd != nil && bd.Decl == Var && !bd.referenced {
			bd.initFirst = true
		}
	}
	a.bindTarget(b.Target, b.Initializer, false)
}

func (a *analyzer) lexicalBinding(b *ast.Binding) {
	a.expr(b.Initializer)
	a.bindTarget(b.Target, b.Initializer, true)
}

func (a *analyzer) block(b *ast.BlockStatement) {
	a.push(BlockScope, b)
	a.declareLexical(b.List)
	a.statements(b.List)
	a.pop()
}

func (a *analyzer) catch(c *ast.CatchStatement) {
	sc := a.push(CatchScope, c)
	if c.Parameter != nil {
		a.declarePattern(c.Parameter, CatchParam, sc)
		if _, ok := c.Parameter.(*ast.Identifier); !ok {
			a.patternWrite(c.Parameter, true)
		}
	}
	a.an.Scopes[c.Body] = sc
	a.declareLexical(c.Body.List)
	a.statements(c.Body.List)
	a.pop()
}

// perIteration gives every binding of a loop head its own cell per
// iteration.
func perIteration(s *Scope) {
	for _, b := range s.Bindings {
		b.PerIteration = true
		b.Storage = ScopeField
	}
}

func (a *analyzer) forStatement(s *ast.ForStatement) {
	switch init := s.Initializer.(type) {
	case *ast.ForLoopInitializerLexicalDecl:
		decl := &init.LexicalDeclaration
		sc := a.push(LoopScope, s)
		kind := Let
		if decl.Token == token.CONST {
			kind = Const
		}
		for _, b := range decl.List {
			a.declarePattern(b.Target, kind, sc)
		}
		before := a.funcs
		for _, b := range decl.List {
			a.lexicalBinding(b)
		}
		a.expr(s.Test)
		a.expr(s.Update)
		a.statement(s.Body)
		if a.funcs != before {
			perIteration(sc)
		}
		a.pop()
		return
	case *ast.ForLoopInitializerVarDeclList:
		for _, b := range init.List {
			a.varBinding(b, false)
		}
	case *ast.ForLoopInitializerExpression:
		a.expr(init.Expression)
	}
	a.expr(s.Test)
	a.expr(s.Update)
	a.statement(s.Body)
}

func (a *analyzer) forInOf(node ast.Node, into ast.ForInto, source ast.Expression, body ast.Statement) {
	a.expr(source)
	switch into := into.(type) {
	case *ast.ForDeclaration:
		sc := a.push(LoopScope, node)
		kind := Let
		if into.IsConst {
			kind = Const
		}
		a.declarePattern(into.Target, kind, sc)
		a.bindTarget(into.Target, nil, true)
		before := a.funcs
		a.statement(body)
		if a.funcs != before {
			perIteration(sc)
		}
		a.pop()
	case *ast.ForIntoVar:
		a.expr(into.Binding.Initializer)
		a.bindTarget(into.Binding.Target, nil, false)
		a.statement(body)
	case *ast.ForIntoExpression:
		a.bindTarget(into.Expression, nil, false)
		a.statement(body)
	}
}

// ---------------------------------------------------------------------------
// Functions and classes
// ---------------------------------------------------------------------------

func (a *analyzer) enter(fn *Function, node ast.Node, body func()) {
	savedFn, savedScope := a.fn, a.scope
	fn.Scope = a.newScope(FunctionScope, a.scope, fn, node)
	a.fn, a.scope = fn, fn.Scope
	a.funcs++
	body()
	a.fn, a.scope = savedFn, savedScope
}

func (a *analyzer) params(fn *Function, list *ast.ParameterList) {
	fn.Params = list
	if list == nil {
		return
	}
	for i, p := range list.List {
		if id, ok := p.Target.(*ast.Identifier); ok {
			b := a.declare(fn.Scope, id, Param)
			b.ParamIndex = i
			fn.ParamBindings = append(fn.ParamBindings, b)
		} else {
			fn.ParamBindings = append(fn.ParamBindings, nil)
			fn.HasPatterns = true
			a.declarePattern(p.Target, Param, fn.Scope)
		}
		if p.Initializer != nil {
			fn.HasDefaults = true
		}
	}
	if list.Rest != nil {
		if id, ok := list.Rest.(*ast.Identifier); ok {
			fn.Rest = a.declare(fn.Scope, id, Param)
		} else {
			fn.HasPatterns = true
			a.declarePattern(list.Rest, Param, fn.Scope)
		}
	}
	for _, p := range list.List {
		a.expr(p.Initializer)
		if _, ok := p.Target.(*ast.Identifier); !ok {
			a.patternWrite(p.Target, true)
		}
	}
	if list.Rest != nil {
		if _, ok := list.Rest.(*ast.Identifier); !ok {
			a.patternWrite(list.Rest, true)
		}
	}
}

func (a *analyzer) body(list []ast.Statement) {
	a.hoistVars(list)
	a.declareLexical(list)
	a.topStatements(list)
}

// function analyzes a function literal. declared is set for function
// declarations, whose name binds in the enclosing scope.
func (a *analyzer) function(lit *ast.FunctionLiteral, name string, kind MethodKind, static, declared bool) *Function {
	fn := a.newFunction(name, lit)
	fn.Generator, fn.Async = lit.Generator, lit.Async
	fn.Method, fn.Static = kind, static
	a.enter(fn, lit, func() {
		a.params(fn, lit.ParameterList)
		a.hoistVars(lit.Body.List)
		a.declareLexical(lit.Body.List)
		if !declared && lit.Name != nil && fn.Scope.byName[lit.Name.Name.String()] == nil {
			fn.Self = a.declare(fn.Scope, lit.Name, FunctionDecl)
		}
		a.topStatements(lit.Body.List)
	})
	a.an.Scopes[lit.Body] = fn.Scope
	return fn
}

func (a *analyzer) arrow(lit *ast.ArrowFunctionLiteral) *Function {
	fn := a.newFunction("<arrow>", lit)
	fn.Arrow, fn.Async = true, lit.Async
	a.enter(fn, lit, func() {
		a.params(fn, lit.ParameterList)
		switch body := lit.Body.(type) {
		case *ast.BlockStatement:
			a.an.Scopes[body] = fn.Scope
			a.body(body.List)
		case *ast.ExpressionBody:
			a.expr(body.Expression)
		}
	})
	return fn
}

func (a *analyzer) class(cl *ast.ClassLiteral, declared bool) {
	a.expr(cl.SuperClass)
	sc := a.push(ClassScope, cl)
	if cl.SuperClass != nil {
		a.declareInternal(sc, SuperName)
	}
	var self *Binding
	if !declared && cl.Name != nil {
		self = a.declare(sc, cl.Name, ClassDecl)
	}
	className := ""
	if cl.Name != nil {
		className = cl.Name.Name.String()
	}
	for _, el := range cl.Body {
		m, ok := el.(*ast.MethodDefinition)
		if !ok {
			continue
		}
		if m.Computed {
			a.expr(m.Key)
		}
		name := PropertyName(m.Key)
		kind := Method
		switch {
		case m.Kind == ast.PropertyKindGet:
			kind = Getter
		case m.Kind == ast.PropertyKindSet:
			kind = Setter
		case !m.Static && !m.Computed && name == "constructor":
			kind = Constructor
			name = className
		}
		fn := a.function(m.Body, name, kind, m.Static, true)
		fn.Derived = kind == Constructor && cl.SuperClass != nil
		fn.Class = cl
	}
	a.pop()
	if self != nil {
		self.initialized = true
	}
}

func (a *analyzer) this(e *ast.ThisExpression) {
	if !a.fn.Arrow {
		return
	}
	owner := a.fn.NonArrow()
	if owner.IsModule() {
		return
	}
	if owner.This == nil {
		owner.This = a.declareInternal(owner.Scope, ThisName)
	}
	if b := a.lookup(ThisName); b != nil {
		a.an.Thises[e] = b
	}
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (a *analyzer) exprs(list []ast.Expression) {
	for _, e := range list {
		a.expr(e)
	}
}

func (a *analyzer) expr(e ast.Expression) {
	switch e := e.(type) {
	case nil:
	case *ast.Identifier:
		a.resolve(e)
	case *ast.ThisExpression:
		a.this(e)
	case *ast.SuperExpression:
		if b := a.lookup(SuperName); b != nil {
			a.an.Supers[e] = b
		}
	case *ast.AssignExpression:
		switch l := e.Left.(type) {
		case *ast.Identifier:
			a.expr(e.Right)
			if b := a.resolveWrite(l); b != nil {
				b.assigns = append(b.assigns, assignment{expr: e.Right, op: e.Operator})
			}
		case *ast.ArrayPattern, *ast.ObjectPattern:
			a.expr(e.Right)
			a.patternWrite(l, false)
		default:
			a.expr(l)
			a.expr(e.Right)
		}
	case *ast.UnaryExpression:
		if e.Operator == token.INCREMENT || e.Operator == token.DECREMENT {
			if id, ok := e.Operand.(*ast.Identifier); ok {
				if b := a.resolveWrite(id); b != nil {
					b.assigns = append(b.assigns, assignment{update: true})
				}
				return
			}
		}
		a.expr(e.Operand)
	case *ast.BinaryExpression:
		a.expr(e.Left)
		a.expr(e.Right)
	case *ast.ConditionalExpression:
		a.expr(e.Test)
		a.expr(e.Consequent)
		a.expr(e.Alternate)
	case *ast.SequenceExpression:
		a.exprs(e.Sequence)
	case *ast.CallExpression:
		a.expr(e.Callee)
		a.exprs(e.ArgumentList)
	case *ast.NewExpression:
		a.expr(e.Callee)
		a.exprs(e.ArgumentList)
	case *ast.DotExpression:
		a.expr(e.Left)
	case *ast.PrivateDotExpression:
		a.expr(e.Left)
	case *ast.BracketExpression:
		a.expr(e.Left)
		a.expr(e.Member)
	case *ast.ArrayLiteral:
		a.exprs(e.Value)
	case *ast.ObjectLiteral:
		a.objectLiteral(e)
	case *ast.SpreadElement:
		a.expr(e.Expression)
	case *ast.FunctionLiteral:
		name := ""
		if e.Name != nil {
			name = e.Name.Name.String()
		}
		a.function(e, name, NotMethod, false, false)
	case *ast.ArrowFunctionLiteral:
		a.arrow(e)
	case *ast.ClassLiteral:
		a.class(e, false)
	case *ast.TemplateLiteral:
		a.expr(e.Tag)
		a.exprs(e.Expressions)
	case *ast.YieldExpression:
		a.expr(e.Argument)
	case *ast.AwaitExpression:
		a.expr(e.Argument)
	case *ast.OptionalChain:
		a.expr(e.Expression)
	case *ast.Optional:
		a.expr(e.Expression)
	case *ast.ArrayPattern, *ast.ObjectPattern:
		a.patternWrite(e, false)
	}
}

func (a *analyzer) objectLiteral(e *ast.ObjectLiteral) {
	for _, p := range e.Value {
		switch p := p.(type) {
		case *ast.PropertyShort:
			a.resolve(&p.Name)
			a.expr(p.Initializer)
		case *ast.PropertyKeyed:
			if p.Computed {
				a.expr(p.Key)
			}
			if fl, ok := p.Value.(*ast.FunctionLiteral); ok && p.Kind != ast.PropertyKindValue {
				kind := Method
				switch p.Kind {
				case ast.PropertyKindGet:
					kind = Getter
				case ast.PropertyKindSet:
					kind = Setter
				}
				a.function(fl, PropertyName(p.Key), kind, false, true)
				continue
			}
			a.expr(p.Value)
		case *ast.SpreadElement:
			a.expr(p.Expression)
		}
	}
}

// PropertyName returns the static name of a property key, or "" for keys
// that are only known at run time.
func PropertyName(key ast.Expression) string {
	switch k := key.(type) {
	case *ast.Identifier:
		return k.Name.String()
	case *ast.StringLiteral:
		return k.Value.String()
	case *ast.NumberLiteral:
		return k.Literal
	}
	return ""
}

// ---------------------------------------------------------------------------
// Finalization
// ---------------------------------------------------------------------------

func (a *analyzer) finish() {
	for _, b := range a.an.Bindings {
		if b.varUndefined && !(b.Decl == Var && b.initFirst && !b.Captured) {
			b.assigns = append(b.assigns, assignment{})
		}
	}
	for _, b := range a.an.Bindings {
		if b.Storage == ScopeField {
			b.Field = len(b.Scope.Fields)
			b.Scope.Fields = append(b.Scope.Fields, b)
		}
	}
	for _, s := range a.scopes {
		if len(s.Fields) == 0 {
			continue
		}
		l := Layout{Names: make([]string, len(s.Fields)), TDZ: make([]bool, len(s.Fields))}
		for i, b := range s.Fields {
			l.Names[i] = b.Name
			l.TDZ[i] = b.TDZ
		}
		s.Layout = len(a.an.Layouts)
		a.an.Layouts = append(a.an.Layouts, l)
	}
	a.an.infer()
}
