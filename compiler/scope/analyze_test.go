package scope

import (
	"testing"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/frontend"
	"github.com/chazu/kiln/compiler/types"
)

func analyze(t *testing.T, src string) *Analysis {
	t.Helper()
	s, err := frontend.Parse("test.js", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return Analyze(s.Program)
}

func bindingNamed(t *testing.T, an *Analysis, name string) *Binding {
	t.Helper()
	var found *Binding
	for _, b := range an.Bindings {
		if b.Name == name {
			if found != nil {
				t.Fatalf("binding %q declared more than once", name)
			}
			found = b
		}
	}
	if found == nil {
		t.Fatalf("binding %q not found", name)
	}
	return found
}

// ============ Storage Tests ============

func TestStackLocalWhenNotCaptured(t *testing.T) {
	an := analyze(t, `let a = 1; let b = a + 2; console.log(b);`)
	for _, name := range []string{"a", "b"} {
		b := bindingNamed(t, an, name)
		if b.Storage != StackLocal {
			t.Errorf("%s: storage = %s, want stack-local", name, b.Storage)
		}
	}
	if an.Module.Scope.Materialized() {
		t.Error("module scope should not need a scope object")
	}
}

func TestCapturedBecomesScopeField(t *testing.T) {
	an := analyze(t, `
let count = 0;
let other = 1;
function inc() { count = count + 1; }
`)
	count := bindingNamed(t, an, "count")
	if count.Storage != ScopeField || !count.Captured {
		t.Fatalf("count = %+v, want captured scope field", count)
	}
	if count.Field != 0 {
		t.Errorf("count.Field = %d, want 0", count.Field)
	}
	if other := bindingNamed(t, an, "other"); other.Storage != StackLocal {
		t.Errorf("other: storage = %s, want stack-local", other.Storage)
	}
	mod := an.Module.Scope
	if !mod.HasCaptured || !mod.Materialized() {
		t.Errorf("module scope: HasCaptured=%v Layout=%d", mod.HasCaptured, mod.Layout)
	}
	inc := an.Functions[1]
	if !inc.Scope.Capturing {
		t.Error("inc scope should be marked capturing")
	}
}

func TestPerIterationLoopBinding(t *testing.T) {
	an := analyze(t, `
const fs = [];
for (let i = 0; i < 3; i++) { fs.push(() => i); }
for (let j = 0; j < 3; j++) { console.log(j); }
`)
	i := bindingNamed(t, an, "i")
	if !i.PerIteration || i.Storage != ScopeField {
		t.Errorf("i = %+v, want per-iteration scope field", i)
	}
	if i.Scope.Kind != LoopScope {
		t.Errorf("i declared in %s scope", i.Scope.Kind)
	}
	j := bindingNamed(t, an, "j")
	if j.PerIteration || j.Storage != StackLocal {
		t.Errorf("j = %+v, want plain stack local", j)
	}
}

func TestForOfPerIteration(t *testing.T) {
	an := analyze(t, `for (const x of [1, 2]) { setTimeout(function () { return x; }); }`)
	x := bindingNamed(t, an, "x")
	if !x.PerIteration || x.Storage != ScopeField {
		t.Errorf("x = %+v, want per-iteration scope field", x)
	}
}

func TestVarHoistsToFunction(t *testing.T) {
	an := analyze(t, `
function f() {
  if (true) { var v = 1; }
  return v;
}
`)
	v := bindingNamed(t, an, "v")
	f := an.Functions[1]
	if v.Scope != f.Scope {
		t.Errorf("var declared in %s scope, want function scope", v.Scope.Kind)
	}
	if len(f.Vars) != 1 || f.Vars[0] != v {
		t.Errorf("f.Vars = %v", f.Vars)
	}
}

func TestHopsSkipUnmaterializedScopes(t *testing.T) {
	an := analyze(t, `
let outer = 1;
{
  let plain = 2;
  {
    let inner = 3;
    (() => outer + inner)();
    console.log(plain);
  }
}
`)
	outer := bindingNamed(t, an, "outer")
	inner := bindingNamed(t, an, "inner")
	plain := bindingNamed(t, an, "plain")
	if plain.Storage != StackLocal {
		t.Fatalf("plain should stay stack local")
	}
	if plain.Scope.Materialized() {
		t.Error("block with only stack locals should not be materialized")
	}
	arrow := an.Functions[1]
	if got := arrow.Scope.Hops(inner); got != 0 {
		t.Errorf("Hops(inner) = %d, want 0", got)
	}
	if got := arrow.Scope.Hops(outer); got != 1 {
		t.Errorf("Hops(outer) = %d, want 1", got)
	}
}

// ============ Diagnostics Tests ============

func TestRedeclarationDiagnostics(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int
	}{
		{"let twice", `let a = 1; let a = 2;`, 1},
		{"let after var", `var a; let a;`, 1},
		{"const after param", `function f(x) { const x = 1; }`, 1},
		{"var twice", `var a = 1; var a = 2;`, 0},
		{"function over var", `var f; function f() {}`, 0},
		{"shadow in block", `let a = 1; { let a = 2; }`, 0},
		{"catch param vs let", `try {} catch (e) { let e = 1; }`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			an := analyze(t, tt.src)
			if got := len(an.Diags.Filter(diag.Redeclaration)); got != tt.want {
				t.Errorf("redeclarations = %d, want %d (%v)", got, tt.want, an.Diags)
			}
		})
	}
}

func TestConstAssignment(t *testing.T) {
	an := analyze(t, `
const k = 1;
k = 2;
k++;
function g() { k += 1; }
let m = 0; m = 1;
`)
	got := an.Diags.Filter(diag.ConstAssignment)
	if len(got) != 3 {
		t.Fatalf("const assignments = %d, want 3: %v", len(got), an.Diags)
	}
	if got[0].Pos.Line != 3 {
		t.Errorf("first diagnostic at line %d, want 3", got[0].Pos.Line)
	}
	if got[2].Function != "g" {
		t.Errorf("third diagnostic function = %q, want g", got[2].Function)
	}
}

func TestInvalidDestructuringTarget(t *testing.T) {
	tests := []struct {
		src  string
		line int
		col  int
	}{
		{"let [a, b.c] = [1, 2];", 1, 9},
		{"const {x: o[0]} = {};", 1, 11},
	}
	for _, tt := range tests {
		an := analyze(t, tt.src)
		got := an.Diags.Filter(diag.InvalidDestructure)
		if len(got) != 1 {
			t.Errorf("%q: diagnostics = %v, want exactly one invalid target", tt.src, an.Diags)
			continue
		}
		if got[0].Pos.Line != tt.line || got[0].Pos.Column != tt.col {
			t.Errorf("%q: position %d:%d, want %d:%d", tt.src, got[0].Pos.Line, got[0].Pos.Column, tt.line, tt.col)
		}
	}

	// Member targets are fine in plain destructuring assignment.
	an := analyze(t, "let o = {}; [o.a, o.b] = [1, 2];")
	if ds := an.Diags.Filter(diag.InvalidDestructure); len(ds) != 0 {
		t.Errorf("assignment pattern: %v", ds)
	}
}

// ============ TDZ Tests ============

func TestEarlyReference(t *testing.T) {
	an := analyze(t, `
console.log(x);
let x = 1;
function later() { return x; }
console.log(x);
`)
	if len(an.EarlyRefs) != 1 {
		t.Fatalf("EarlyRefs = %d, want 1", len(an.EarlyRefs))
	}
	for id := range an.EarlyRefs {
		if p := an.Position(id.Idx); p.Line != 2 {
			t.Errorf("early ref at line %d, want 2", p.Line)
		}
	}
	x := bindingNamed(t, an, "x")
	if !x.TDZ || x.Storage != ScopeField {
		t.Errorf("x = %+v, want TDZ scope field", x)
	}
	l := an.Layouts[an.Module.Scope.Layout]
	if len(l.TDZ) != 1 || !l.TDZ[0] {
		t.Errorf("layout TDZ = %v, want [true]", l.TDZ)
	}
}

func TestSelfReferenceInInitializer(t *testing.T) {
	an := analyze(t, `let y = y + 1;`)
	if len(an.EarlyRefs) != 1 {
		t.Errorf("EarlyRefs = %d, want 1", len(an.EarlyRefs))
	}
}

// ============ Functions and Classes Tests ============

func TestArrowThisCapture(t *testing.T) {
	an := analyze(t, `
function Counter() {
  this.n = 0;
  const tick = () => { this.n++; };
  tick();
}
const top = () => this;
`)
	ctor := an.Functions[1]
	if ctor.This == nil {
		t.Fatal("Counter should declare an internal this binding")
	}
	if ctor.This.Storage != ScopeField || !ctor.This.IsInternal() {
		t.Errorf("this binding = %+v", ctor.This)
	}
	if len(an.Thises) != 1 {
		t.Errorf("Thises = %d, want 1 (module-level this is undefined)", len(an.Thises))
	}
}

func TestClassSuperBinding(t *testing.T) {
	an := analyze(t, `
class A { hi() { return 1; } }
class B extends A {
  constructor() { super(); }
  hi() { return super.hi() + 1; }
}
`)
	if len(an.Supers) != 2 {
		t.Fatalf("Supers = %d, want 2", len(an.Supers))
	}
	var ctor *Function
	for _, fn := range an.Functions {
		if fn.Method == Constructor {
			ctor = fn
		}
	}
	if ctor == nil || !ctor.Derived || ctor.Name != "B" {
		t.Errorf("constructor = %+v", ctor)
	}
	for _, b := range an.Supers {
		if b.Name != SuperName || b.Storage != ScopeField {
			t.Errorf("super binding = %+v", b)
		}
	}
}

func TestNamedFunctionExpressionSelf(t *testing.T) {
	an := analyze(t, `const fact = function f(n) { return n <= 1 ? 1 : n * f(n - 1); };`)
	fn := an.Functions[1]
	if fn.Self == nil || fn.Self.Name != "f" {
		t.Fatalf("Self = %v", fn.Self)
	}
	if fn.Self.Scope != fn.Scope {
		t.Error("self binding should live in the function scope")
	}
}

func TestParams(t *testing.T) {
	an := analyze(t, `function f(a, [b, c], d = 1, ...rest) {}`)
	fn := an.Functions[1]
	if len(fn.ParamBindings) != 3 {
		t.Fatalf("ParamBindings = %d, want 3", len(fn.ParamBindings))
	}
	if fn.ParamBindings[1] != nil {
		t.Error("destructured parameter should have no simple binding")
	}
	if fn.ParamBindings[2].ParamIndex != 2 {
		t.Errorf("d.ParamIndex = %d", fn.ParamBindings[2].ParamIndex)
	}
	if fn.Rest == nil || fn.Rest.Name != "rest" {
		t.Errorf("Rest = %v", fn.Rest)
	}
	if !fn.HasDefaults || !fn.HasPatterns {
		t.Errorf("HasDefaults=%v HasPatterns=%v", fn.HasDefaults, fn.HasPatterns)
	}
}

// ============ Inference Tests ============

func TestHints(t *testing.T) {
	an := analyze(t, `
let n = 0;
for (let i = 0; i < 10; i++) { n = n + i; }
let flag = n > 3;
let s = "x";
let mixed = 1;
mixed = "two";
let f = Math.floor(n / 2);
let g = n + s;
var v = 1;
let u;
const arr = [1, 2];
const alias = arr;
let copy = arr;
early = w;
var w = 2;
var cv = 3;
function readCV() { return cv; }
if (n) { var cond = 4; }
var text = s + "!";
`)
	tests := []struct {
		name  string
		kind  types.Kind
		shape types.Shape
	}{
		{"n", types.Number, types.ShapeNone},
		{"i", types.Number, types.ShapeNone},
		{"flag", types.Boolean, types.ShapeNone},
		{"s", types.Boxed, types.ShapeString},
		{"mixed", types.Boxed, types.ShapeNone},
		{"f", types.Number, types.ShapeNone},
		{"g", types.Boxed, types.ShapeString},
		{"v", types.Number, types.ShapeNone},
		{"w", types.Boxed, types.ShapeNone},
		{"cv", types.Boxed, types.ShapeNone},
		{"cond", types.Boxed, types.ShapeNone},
		{"text", types.Boxed, types.ShapeString},
		{"copy", types.Boxed, types.ShapeArray},
		{"u", types.Boxed, types.ShapeNone},
		{"arr", types.Boxed, types.ShapeArray},
		{"alias", types.Boxed, types.ShapeArray},
	}
	for _, tt := range tests {
		b := bindingNamed(t, an, tt.name)
		if b.Hint != tt.kind {
			t.Errorf("%s: hint = %s, want %s", tt.name, b.Hint, tt.kind)
		}
		if b.Shape != tt.shape {
			t.Errorf("%s: shape = %s, want %s", tt.name, b.Shape, tt.shape)
		}
	}
}

func TestShadowedMathIsNotBuiltin(t *testing.T) {
	an := analyze(t, `
const Math = { floor(x) { return "no"; } };
let r = Math.floor(1.5);
`)
	if r := bindingNamed(t, an, "r"); r.Hint != types.Boxed {
		t.Errorf("r: hint = %s, want boxed", r.Hint)
	}
}

func TestCyclicHintsStayOptimistic(t *testing.T) {
	an := analyze(t, `
let a = 1, b = 2;
for (let k = 0; k < 3; k++) { const t = a; a = b + 1; b = t * 2; }
`)
	for _, name := range []string{"a", "b"} {
		if b := bindingNamed(t, an, name); b.Hint != types.Number {
			t.Errorf("%s: hint = %s, want number", name, b.Hint)
		}
	}
}
