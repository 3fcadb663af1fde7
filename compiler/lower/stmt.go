package lower

import (
	"fmt"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/types"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/token"
)

func (b *builder) statements(list []ast.Statement) {
	for _, s := range list {
		b.statement(s)
	}
}

func (b *builder) statement(s ast.Statement) {
	if s == nil {
		return
	}
	b.at(s.Idx0())
	switch s := s.(type) {
	case *ast.EmptyStatement, *ast.DebuggerStatement, *ast.FunctionDeclaration:
		// Function declarations are initialized on scope entry.
	case *ast.ExpressionStatement:
		b.expr(s.Expression)
	case *ast.VariableStatement:
		for _, d := range s.List {
			b.varDecl(d)
		}
	case *ast.LexicalDeclaration:
		for _, d := range s.List {
			b.lexicalDecl(d)
		}
	case *ast.ClassDeclaration:
		c := b.class(s.Class)
		if s.Class.Name != nil {
			b.declareIdent(s.Class.Name, c)
		}
	case *ast.BlockStatement:
		b.block(s)
	case *ast.IfStatement:
		b.ifStatement(s)
	case *ast.WhileStatement:
		b.whileStatement(s, nil)
	case *ast.DoWhileStatement:
		b.doWhileStatement(s, nil)
	case *ast.ForStatement:
		b.forStatement(s, nil)
	case *ast.ForInStatement:
		b.forEach(s, s.Into, s.Source, s.Body, true, nil)
	case *ast.ForOfStatement:
		b.forEach(s, s.Into, s.Source, s.Body, false, nil)
	case *ast.SwitchStatement:
		b.switchStatement(s, nil)
	case *ast.LabelledStatement:
		b.labelled(s)
	case *ast.BranchStatement:
		b.branch(s)
	case *ast.ReturnStatement:
		b.routeReturn(b.exprOrUndefined(s.Argument))
	case *ast.ThrowStatement:
		v := b.expr(s.Argument)
		b.effect(lir.Instr{Op: lir.OpThrow, Args: []lir.Temp{v}})
	case *ast.TryStatement:
		b.tryStatement(s)
	case *ast.WithStatement:
		b.unsupported(s.Idx0(), "the with statement")
	default:
		b.unsupported(s.Idx0(), fmt.Sprintf("statement %T", s))
	}
}

func (b *builder) block(s *ast.BlockStatement) {
	leave := b.enterScope(s)
	b.statements(s.List)
	leave()
}

func (b *builder) varDecl(d *ast.Binding) {
	if d.Initializer == nil {
		if _, ok := d.Target.(*ast.Identifier); ok {
			return
		}
	}
	v := b.expr(d.Initializer)
	b.bindPattern(d.Target, v, false)
}

func (b *builder) lexicalDecl(d *ast.Binding) {
	b.bindPattern(d.Target, b.exprOrUndefined(d.Initializer), true)
}

// cond evaluates e as a branch condition.
func (b *builder) cond(e ast.Expression) lir.Temp {
	return b.toBoolean(b.expr(e))
}

func (b *builder) ifStatement(s *ast.IfStatement) {
	c := b.cond(s.Test)
	els := b.f.NewLabel()
	b.jump(lir.OpJumpIfFalse, els, c)
	b.statement(s.Consequent)
	if s.Alternate == nil {
		b.label(els)
		return
	}
	done := b.f.NewLabel()
	b.jump(lir.OpJump, done)
	b.label(els)
	b.statement(s.Alternate)
	b.label(done)
}

func (b *builder) newLoop(labels []string) *loop {
	return &loop{labels: labels, brk: b.f.NewLabel(), cont: b.f.NewLabel()}
}

func (b *builder) loopBody(l *loop, body ast.Statement) {
	b.push(block{kind: bkLoop, loop: l})
	b.statement(body)
	b.pop()
}

func (b *builder) whileStatement(s *ast.WhileStatement, labels []string) {
	l := b.newLoop(labels)
	b.label(l.cont)
	b.jump(lir.OpJumpIfFalse, l.brk, b.cond(s.Test))
	b.loopBody(l, s.Body)
	b.jump(lir.OpJump, l.cont)
	b.label(l.brk)
}

func (b *builder) doWhileStatement(s *ast.DoWhileStatement, labels []string) {
	l := b.newLoop(labels)
	top := b.f.NewLabel()
	b.label(top)
	b.loopBody(l, s.Body)
	b.label(l.cont)
	b.jump(lir.OpJumpIfTrue, top, b.cond(s.Test))
	b.label(l.brk)
}

func (b *builder) forStatement(s *ast.ForStatement, labels []string) {
	leave := b.enterScope(s)
	switch init := s.Initializer.(type) {
	case *ast.ForLoopInitializerVarDeclList:
		for _, d := range init.List {
			b.varDecl(d)
		}
	case *ast.ForLoopInitializerLexicalDecl:
		for _, d := range init.LexicalDeclaration.List {
			b.lexicalDecl(d)
		}
	case *ast.ForLoopInitializerExpression:
		b.expr(init.Expression)
	}

	// Each iteration sees a fresh copy of the per-iteration cells, taken
	// before the update expression runs.
	perIteration := false
	if sc := b.an.Scopes[s]; sc != nil && sc.Materialized() {
		for _, bd := range sc.Bindings {
			perIteration = perIteration || bd.PerIteration
		}
	}

	l := b.newLoop(labels)
	top := b.f.NewLabel()
	b.label(top)
	if s.Test != nil {
		b.jump(lir.OpJumpIfFalse, l.brk, b.cond(s.Test))
	}
	b.loopBody(l, s.Body)
	b.label(l.cont)
	if perIteration {
		b.effect(lir.Instr{Op: lir.OpCloneScope})
	}
	if s.Update != nil {
		b.expr(s.Update)
	}
	b.jump(lir.OpJump, top)
	b.label(l.brk)
	leave()
}

// forEach lowers for-in and for-of. for-in iterates the enumerable keys
// collected by the runtime up front.
func (b *builder) forEach(node ast.Node, into ast.ForInto, source ast.Expression, body ast.Statement, keys bool, labels []string) {
	src := b.expr(source)
	if keys {
		src = b.runtime(types.RtForInKeys, src)
	}
	it := b.runtime(types.RtIterOpen, src)
	b.push(block{kind: bkIter, iter: it})

	l := b.newLoop(labels)
	exit := b.f.NewLabel()
	b.label(l.cont)
	b.jump(lir.OpJumpIfFalse, exit, b.runtime(types.RtIterStep, it))
	v := b.runtime(types.RtIterValue, it)

	b.push(block{kind: bkLoop, loop: l})
	switch into := into.(type) {
	case *ast.ForDeclaration:
		leave := b.enterScope(node)
		b.bindPattern(into.Target, v, true)
		b.statement(body)
		leave()
	case *ast.ForIntoVar:
		b.bindPattern(into.Binding.Target, v, false)
		b.statement(body)
	case *ast.ForIntoExpression:
		b.bindPattern(into.Expression, v, false)
		b.statement(body)
	}
	b.pop()
	b.jump(lir.OpJump, l.cont)
	b.pop()

	b.label(l.brk)
	b.runtime(types.RtIterClose, it)
	b.label(exit)
}

func (b *builder) switchStatement(s *ast.SwitchStatement, labels []string) {
	d := b.expr(s.Discriminant)
	leave := b.enterScope(s)
	l := &loop{labels: labels, brk: b.f.NewLabel(), cont: -1}
	b.push(block{kind: bkLoop, loop: l})

	cases := make([]int, len(s.Body))
	for i, c := range s.Body {
		cases[i] = b.f.NewLabel()
		if c.Test == nil {
			continue
		}
		t := b.expr(c.Test)
		eq := b.compare(lir.StrictEq, d, t)
		b.jump(lir.OpJumpIfTrue, cases[i], eq)
	}
	if s.Default >= 0 && s.Default < len(cases) {
		b.jump(lir.OpJump, cases[s.Default])
	} else {
		b.jump(lir.OpJump, l.brk)
	}
	for i, c := range s.Body {
		b.label(cases[i])
		b.statements(c.Consequent)
	}

	b.pop()
	b.label(l.brk)
	leave()
}

func (b *builder) labelled(s *ast.LabelledStatement) {
	var labels []string
	var inner ast.Statement = s
	for {
		ls, ok := inner.(*ast.LabelledStatement)
		if !ok {
			break
		}
		labels = append(labels, ls.Label.Name.String())
		inner = ls.Statement
	}
	b.at(inner.Idx0())
	switch st := inner.(type) {
	case *ast.WhileStatement:
		b.whileStatement(st, labels)
	case *ast.DoWhileStatement:
		b.doWhileStatement(st, labels)
	case *ast.ForStatement:
		b.forStatement(st, labels)
	case *ast.ForInStatement:
		b.forEach(st, st.Into, st.Source, st.Body, true, labels)
	case *ast.ForOfStatement:
		b.forEach(st, st.Into, st.Source, st.Body, false, labels)
	case *ast.SwitchStatement:
		b.switchStatement(st, labels)
	default:
		l := &loop{labels: labels, brk: b.f.NewLabel(), cont: -1, plain: true}
		b.push(block{kind: bkLoop, loop: l})
		b.statement(inner)
		b.pop()
		b.label(l.brk)
	}
}

func (b *builder) branch(s *ast.BranchStatement) {
	name := ""
	if s.Label != nil {
		name = s.Label.Name.String()
	}
	cont := s.Token == token.CONTINUE
	target := b.findLoop(name, cont)
	if target < 0 {
		d := diag.New(diag.IllegalBreak, b.an.Position(s.Idx), "no enclosing target for %s", s.Token)
		d.Function = b.fn.Name
		b.diags.Add(d)
		b.failed = true
		return
	}
	b.jumpOut(b.blocks, target, cont)
}

func (b *builder) tryStatement(s *ast.TryStatement) {
	body := func() { b.block(s.Body) }
	if s.Catch != nil {
		protected := body
		body = func() {
			b.tryCatch(protected, func(exc lir.Temp) {
				leave := b.enterScope(s.Catch)
				if s.Catch.Parameter != nil {
					b.bindPattern(s.Catch.Parameter, exc, true)
				}
				b.statements(s.Catch.Body.List)
				leave()
			})
		}
	}
	if s.Finally == nil {
		body()
		return
	}
	b.tryFinally(body, func() { b.block(s.Finally) })
}
