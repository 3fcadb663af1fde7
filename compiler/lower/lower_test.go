package lower

import (
	"strings"
	"testing"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/frontend"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/scope"
	"github.com/chazu/kiln/compiler/types"
)

func build(t *testing.T, src string) *lir.Unit {
	t.Helper()
	s, err := frontend.Parse("test.js", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	an := scope.Analyze(s.Program)
	if len(an.Diags) > 0 {
		t.Fatalf("analyze: %v", an.Diags)
	}
	u, diags := Build(an, "test")
	if len(diags) > 0 {
		t.Fatalf("build: %v", diags)
	}
	for _, f := range u.Funcs {
		if f == nil {
			t.Fatal("function missing from unit")
		}
		if err := lir.Validate(f, lir.StageBuilt); err != nil {
			t.Fatalf("validate: %v\n%s", err, f.Dump())
		}
	}
	return u
}

func buildDiags(t *testing.T, src string) diag.List {
	t.Helper()
	s, err := frontend.Parse("test.js", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, diags := Build(scope.Analyze(s.Program), "test")
	return diags
}

func runtimeCalls(f *lir.Function, name string) int {
	n := 0
	for _, in := range f.Instrs {
		if in.Op == lir.OpCallRuntime && in.Name == name {
			n++
		}
	}
	return n
}

// ============ Well-formedness ============

func TestBuildValidates(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"arithmetic", `let a = 1; let b = a * 2 + 3; result = b % 4 - (a ** 2) / 5;`},
		{"joins", `let c = Math.random() > 0.5; result = (c ? 1 : 2) + (c && 3) + (c || 4) + (null ?? 5);`},
		{"while", `let i = 0; while (i < 3) { i++; } do { i--; } while (i > 0); result = i;`},
		{"for-let-closure", `const fs = []; for (let i = 0; i < 3; i++) { fs.push(() => i); } result = fs;`},
		{"for-of", `let s = 0; for (const x of [1, 2, 3]) { if (x === 2) continue; s += x; } result = s;`},
		{"for-in", `const o = {a: 1, b: 2}; let ks = ""; for (const k in o) ks += k; result = ks;`},
		{"labels", `outer: for (let i = 0; i < 3; i++) { for (let j = 0; j < 3; j++) { if (j === 1) continue outer; if (i === 2) break outer; } }`},
		{"switch", `let r = 0; switch (Math.floor(Math.random() * 3)) { case 0: { let y = 1; r = y; break; } case 1: r = 2; default: r += 3; } result = r;`},
		{"try", `function f() { try { return 1; } finally { console.log("f"); } } result = f();`},
		{"try-loop", `for (let i = 0; i < 3; i++) { try { if (i === 1) break; if (i === 0) continue; } catch (e) { console.log(e); } finally { console.log(i); } }`},
		{"generator", `function* g() { try { yield 1; yield 2; } finally { console.log("done"); } } result = g();`},
		{"async", `async function f(p) { const v = await p; return v + 1; } result = f(1);`},
		{"class", `class A { constructor(x) { this.x = x; } get double() { return this.x * 2; } static make() { return new A(1); } }
class B extends A { constructor() { super(5); } get double() { return super.double + 1; } }
result = new B().double;`},
		{"destructuring", `const [a, , b = 3, ...rest] = [1, 2, undefined, 4, 5]; const {x, y: {z}, w = 9} = {x: 1, y: {z: 2}}; let p, q; [p, q] = [q, p]; result = a + b + x + z + w + rest.length;`},
		{"literals", "const o = {a: 1, ['b' + 1]: 2, get c() { return 3; }, m() { return this.a; }}; result = `${o.a}-${typeof o}` + /ab+c/i.test('abbc') + ('a' in o) + (o instanceof Object) + delete o.a;"},
		{"compound", `const o = {n: 1}; const a = [1]; o.n += 2; a[0] *= 3; o.m ??= 4; a[1] ||= 5; o.n++; --a[0]; result = o;`},
		{"defaults", `function f(a, b = a + 1, ...rest) { return a + b + rest.length; } result = f(1);`},
		{"arrow-this", `function C() { this.v = 1; const g = () => this.v; return g(); } result = new C();`},
		{"tdz-closure", `function f() { return later; } let later = 1; result = f();`},
		{"named-fn-expr", `const fact = function self(n) { return n <= 1 ? 1 : n * self(n - 1); }; result = fact(5);`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			build(t, tt.src)
		})
	}
}

// ============ Typing ============

func TestUnboxedArithmetic(t *testing.T) {
	u := build(t, `let a = 1; let b = a * 2; result = b;`)
	f := u.Funcs[0]
	for _, in := range f.Instrs {
		if in.Op == lir.OpBinary && in.Operator == lir.Mul && !in.Unboxed {
			t.Errorf("a * 2 should be unboxed:\n%s", f.Dump())
		}
	}
	if f.Count(lir.OpToNumber) != 0 {
		t.Errorf("numeric operands need no conversion:\n%s", f.Dump())
	}
}

func TestBoxedAddStaysDynamic(t *testing.T) {
	u := build(t, `let s = "x"; let n = 1; result = s + n;`)
	f := u.Funcs[0]
	for _, in := range f.Instrs {
		if in.Op == lir.OpBinary && in.Operator == lir.Add && in.Unboxed {
			t.Errorf("string + number must stay boxed:\n%s", f.Dump())
		}
	}
}

func TestSubtractConvertsOperands(t *testing.T) {
	u := build(t, `result = x - y;`)
	f := u.Funcs[0]
	if n := f.Count(lir.OpToNumber); n != 2 {
		t.Errorf("ToNumber count = %d, want 2:\n%s", n, f.Dump())
	}
}

func TestFastAccess(t *testing.T) {
	u := build(t, `const a = [1, 2, 3]; result = a.length + a[1]; const o = {}; result = o.length;`)
	f := u.Funcs[0]
	var fastMember, fastIndex, dynMember int
	for _, in := range f.Instrs {
		switch {
		case in.Op == lir.OpGetMember && in.Access == lir.AccessFast:
			fastMember++
			if f.Kind(in.Dst) != types.Number {
				t.Errorf("fast length should be numeric")
			}
		case in.Op == lir.OpGetIndex && in.Access == lir.AccessFast:
			fastIndex++
		case in.Op == lir.OpGetMember && in.Name == "length":
			dynMember++
		}
	}
	if fastMember != 1 || fastIndex != 1 || dynMember != 1 {
		t.Errorf("fast member %d, fast index %d, dynamic length %d:\n%s", fastMember, fastIndex, dynMember, f.Dump())
	}
}

func TestBuiltinCallIsTyped(t *testing.T) {
	u := build(t, `result = Math.floor(2.5) + 1;`)
	f := u.Funcs[0]
	if runtimeCalls(f, "Math.floor") != 1 {
		t.Fatalf("Math.floor should lower to a runtime call:\n%s", f.Dump())
	}
	for _, in := range f.Instrs {
		if in.Op == lir.OpBinary && in.Operator == lir.Add && !in.Unboxed {
			t.Errorf("Math.floor(x) + 1 should be unboxed:\n%s", f.Dump())
		}
	}
}

func TestShadowedBuiltinIsCalledDynamically(t *testing.T) {
	u := build(t, `const Math = {floor(x) { return x; }}; result = Math.floor(2.5);`)
	if runtimeCalls(u.Funcs[0], "Math.floor") != 0 {
		t.Errorf("shadowed Math must not lower to the runtime builtin")
	}
}

// ============ Control flow ============

func TestJoinsEmitPhis(t *testing.T) {
	u := build(t, `const c = Math.random() > 0.5; result = (c ? 1 : 2) + (c && 3);`)
	f := u.Funcs[0]
	if p, e := f.Count(lir.OpPhi), f.Count(lir.OpEdge); p != 2 || e != 4 {
		t.Errorf("phis %d, edges %d; want 2 and 4:\n%s", p, e, f.Dump())
	}
}

func TestPerIterationClone(t *testing.T) {
	u := build(t, `const fs = []; for (let i = 0; i < 3; i++) { fs.push(() => i); }`)
	if n := u.Funcs[0].Count(lir.OpCloneScope); n != 1 {
		t.Errorf("clone count = %d, want 1:\n%s", n, u.Funcs[0].Dump())
	}
	u = build(t, `let s = 0; for (let i = 0; i < 3; i++) { s += i; }`)
	if n := u.Funcs[0].Count(lir.OpCloneScope); n != 0 {
		t.Errorf("loop without closures should not clone:\n%s", u.Funcs[0].Dump())
	}
}

func TestForOfScopePerIteration(t *testing.T) {
	u := build(t, `const fs = []; for (const x of [1, 2]) { fs.push(() => x); }`)
	f := u.Funcs[0]
	if f.Count(lir.OpPushScope) != 1 || f.Count(lir.OpPopScope) != 1 {
		t.Errorf("for-of body should push one scope per iteration:\n%s", f.Dump())
	}
	if runtimeCalls(f, types.RtIterClose) != 1 {
		t.Errorf("iterator close missing:\n%s", f.Dump())
	}
}

func TestBreakOutOfForOfClosesIterator(t *testing.T) {
	u := build(t, `for (const x of [1, 2]) { for (const y of [3]) { break; } if (x) break; }`)
	f := u.Funcs[0]
	// Each break jumps to its own loop's close.
	if n := runtimeCalls(f, types.RtIterClose); n != 2 {
		t.Errorf("iter.close count = %d, want 2:\n%s", n, f.Dump())
	}
}

func TestReturnFromForOfClosesIterator(t *testing.T) {
	u := build(t, `function f(xs) { for (const x of xs) { return x; } }`)
	f := u.Funcs[1]
	if n := runtimeCalls(f, types.RtIterClose); n != 2 {
		t.Errorf("iter.close count = %d, want 2 (return path and loop exit):\n%s", n, f.Dump())
	}
}

func TestFinallyRoutesReturn(t *testing.T) {
	u := build(t, `function f() { try { return 1; } finally { console.log("x"); } }`)
	f := u.Funcs[1]
	if f.Count(lir.OpEnterTry) != 1 || f.Count(lir.OpCatch) != 1 {
		t.Fatalf("expected one protected region:\n%s", f.Dump())
	}
	var completion bool
	for _, l := range f.Locals {
		completion = completion || l.Name == "%completion"
	}
	if !completion {
		t.Errorf("finally region should allocate a completion local")
	}
	// The dispatch's return and the implicit one.
	if n := f.Count(lir.OpReturn); n != 2 {
		t.Errorf("return count = %d, want 2:\n%s", n, f.Dump())
	}
}

func TestYieldRecordsPendingFinally(t *testing.T) {
	u := build(t, `function* g() { try { try { yield 1; } finally { a(); } } finally { b(); } yield 2; }`)
	f := u.Funcs[1]
	if len(f.Resume) != 2 {
		t.Fatalf("resume points = %d, want 2", len(f.Resume))
	}
	if got := f.Resume[0].Pending; len(got) != 2 || got[0] <= got[1] {
		t.Errorf("pending finally ids = %v, want innermost first", got)
	}
	if len(f.Resume[1].Pending) != 0 {
		t.Errorf("second yield should have no pending finally: %v", f.Resume[1].Pending)
	}
	for i, rp := range f.Resume {
		if rp.Return < 0 {
			t.Errorf("yield %d has no return block", i+1)
		}
	}
}

func TestAwaitHasNoReturnBlock(t *testing.T) {
	u := build(t, `async function f(p) { try { await p; } finally { x(); } }`)
	f := u.Funcs[1]
	if len(f.Resume) != 1 || !f.Resume[0].Await || f.Resume[0].Return != -1 {
		t.Errorf("resume = %+v", f.Resume)
	}
}

func TestSwitchLexicalIsChecked(t *testing.T) {
	u := build(t, `switch (k) { case 0: let x = 1; case 1: result = x; }`)
	f := u.Funcs[0]
	var checked bool
	for _, in := range f.Instrs {
		if in.Op == lir.OpLoadField && in.Checked {
			checked = true
		}
	}
	if !checked {
		t.Errorf("switch case lexical read must be checked:\n%s", f.Dump())
	}
}

func TestEarlyReferenceThrows(t *testing.T) {
	u := build(t, `x; let x = 1;`)
	if runtimeCalls(u.Funcs[0], types.RtThrowTDZ) != 1 {
		t.Errorf("early reference should throw:\n%s", u.Funcs[0].Dump())
	}
}

func TestForwardingWithinBlock(t *testing.T) {
	u := build(t, `let a = Math.random(); let b = a + a; result = b * a;`)
	f := u.Funcs[0]
	if n := f.Count(lir.OpLoadLocal); n != 0 {
		t.Errorf("straight-line reads should forward stored temps, got %d loads:\n%s", n, f.Dump())
	}
}

// ============ Diagnostics ============

func TestUnsupportedSyntax(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`with (o) { x; }`, "with"},
		{`function* g() { yield* h(); }`, "yield*"},
		{`result = o?.x;`, "optional chaining"},
		{"result = tag`x`;", "tagged template"},
		{`class A { x = 1; }`, "class fields"},
		{`f(...xs);`, "spread arguments"},
		{`function f() { return arguments; }`, "arguments"},
		{`async function* g() {}`, "async generator"},
	}
	for _, tt := range tests {
		diags := buildDiags(t, tt.src)
		if len(diags) == 0 {
			t.Errorf("%q: no diagnostic", tt.src)
			continue
		}
		if diags[0].Kind != diag.UnsupportedSyntax || !strings.Contains(diags[0].Message, tt.want) {
			t.Errorf("%q: got %v, want unsupported %q", tt.src, diags[0], tt.want)
		}
	}
}

func TestFailureIsPerFunction(t *testing.T) {
	s, err := frontend.Parse("test.js", `function bad() { with (o) {} } function good() { return 1; }`)
	if err != nil {
		t.Fatal(err)
	}
	u, diags := Build(scope.Analyze(s.Program), "test")
	if len(diags) != 1 {
		t.Fatalf("diags = %v", diags)
	}
	if u.Funcs[1] != nil {
		t.Error("bad should not build")
	}
	if u.Funcs[2] == nil || u.Funcs[0] == nil {
		t.Error("siblings of a failed function should still build")
	}
}

func TestExports(t *testing.T) {
	u := build(t, `const n = 1; let s = "a"; function f() {}`)
	got := map[string]types.Kind{}
	for _, e := range u.Exports {
		got[e.Name] = e.Kind
	}
	if got["n"] != types.Number || got["s"] != types.Boxed {
		t.Errorf("exports = %+v", u.Exports)
	}
	if _, ok := got["f"]; !ok {
		t.Errorf("function f should be exported: %+v", u.Exports)
	}
}
