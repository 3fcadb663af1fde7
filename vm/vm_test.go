package vm_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/compiler/opt"
	"github.com/chazu/kiln/pkg/bytecode"
	"github.com/chazu/kiln/vm"
)

// configs are the pass selections every program must behave the same
// under. Join materialization is required for valid LIR and stays on.
var configs = map[string]opt.Config{
	"all":     opt.DefaultConfig(),
	"minimal": {Joins: true},
	"no-cse":  {Joins: true, LoopCarried: true},
}

// run compiles src, executes it and returns what console.log printed.
func run(t *testing.T, src string, passes opt.Config) (string, error) {
	t.Helper()
	opts := compiler.DefaultOptions()
	opts.Name = "test.js"
	opts.Passes = passes
	res, err := compiler.Compile(src, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	var out bytes.Buffer
	machine := vm.New(vm.Options{Stdout: &out, MaxDepth: 200})
	if err := machine.Load(res.Module); err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = machine.Run()
	return out.String(), err
}

// expect runs src under every pass configuration and compares the output.
func expect(t *testing.T, src, want string) {
	t.Helper()
	for name, cfg := range configs {
		got, err := run(t, src, cfg)
		if err != nil {
			t.Fatalf("%s: run: %v", name, err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("%s: output mismatch (-want +got):\n%s", name, diff)
		}
	}
}

func TestJoinBothBranches(t *testing.T) {
	expect(t, `
function pick(c) {
  let v;
  if (c) { v = 1 } else { v = "a" }
  return v;
}
function tern(x) { return x > 2 ? x * 2 : "no" }
console.log(pick(true), pick(false), tern(3), tern(1));
`, "1 a 6 no\n")
}

func TestPerIterationClosures(t *testing.T) {
	expect(t, `
const fs = [];
for (let i = 0; i < 3; i++) { fs.push(() => i + 1) }
console.log(fs.map(f => f()));
`, "[ 1, 2, 3 ]\n")
}

func TestPerIterationForOfClosures(t *testing.T) {
	expect(t, `
const xs = [1, 2, 3];
const fns = [];
for (let x of xs) { fns.push(() => x) }
console.log(fns.map(f => f()));
`, "[ 1, 2, 3 ]\n")
}

func TestCoercionRunsEachTime(t *testing.T) {
	expect(t, `
let n = 0;
const o = { valueOf() { n++; return 2 } };
const a = o * 1 + o * 1;
console.log(a, n);
`, "4 2\n")
}

func TestLoopCarriedAccumulator(t *testing.T) {
	expect(t, `
function sum(xs) {
  let acc = 0;
  for (let i = 0; i < xs.length; i++) acc += xs[i];
  return acc;
}
console.log(sum([1, 2, 3]), sum([]), sum(["a", "b"]));
`, "6 0 0ab\n")
}

func TestConditionalLoopUpdate(t *testing.T) {
	expect(t, `
let acc = 0;
for (let i = 0; i < 5; i++) if (i % 2 === 0) acc += i;
function evens(n) {
  let s = 0;
  for (let i = 0; i < n; i++) { if (i % 2 === 0) s += i }
  return s;
}
console.log(acc, evens(5), evens(0));
`, "6 6 0\n")
}

func TestVarBeforeInitializer(t *testing.T) {
	expect(t, `
console.log(w);
var w = 2;
var ok = true;
console.log(ok, w);
function f() {
  var t = 1;
  if (t) { var u = "s" }
  return u + t;
}
console.log(f());
`, "undefined\ntrue 2\ns1\n")
}

func TestTryCatchFinally(t *testing.T) {
	expect(t, `
function f() {
  try { throw new Error("boom") }
  catch (e) { return e.message }
  finally { console.log("fin") }
}
console.log(f());
function g() {
  for (let i = 0; i < 5; i++) {
    try { if (i === 2) break } finally { console.log("leave", i) }
  }
  return "done";
}
console.log(g());
`, "fin\nboom\nleave 0\nleave 1\nleave 2\ndone\n")
}

func TestUncaughtException(t *testing.T) {
	_, err := run(t, `throw new TypeError("bad value")`, opt.DefaultConfig())
	ex, ok := vm.AsException(err)
	if !ok {
		t.Fatalf("err = %v, want an exception", err)
	}
	if got, want := ex.Error(), "Uncaught TypeError: bad value"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestGeneratorProtocol(t *testing.T) {
	expect(t, `
function* count(n) { for (let i = 0; i < n; i++) yield i }
const seen = [];
for (const v of count(3)) seen.push(v);
console.log(seen, [...count(2)]);

function* echo() { const x = yield 1; console.log("got", x); return x * 2 }
const it = echo();
const a = it.next("ignored");
const b = it.next(21);
const c = it.next();
console.log(a.value, a.done, b.value, b.done, c.value, c.done);
`, "[ 0, 1, 2 ] [ 0, 1 ]\ngot 21\n1 false 42 true undefined true\n")
}

func TestGeneratorReturnRunsFinally(t *testing.T) {
	expect(t, `
function* g() {
  try { yield 1; yield 2 } finally { console.log("cleanup") }
}
const it = g();
console.log(it.next().value);
const r = it.return(9);
console.log(r.value, r.done, it.next().done);

function* h() { try { yield 1 } finally { return 5 } }
const h1 = h();
h1.next();
const r2 = h1.return(9);
console.log(r2.value, r2.done);
`, "1\ncleanup\n9 true true\n5 true\n")
}

func TestGeneratorFinallyOverrides(t *testing.T) {
	expect(t, `
function* g() { try { yield 1 } finally { throw new Error("fin") } }
const a = g();
a.next();
try { a.return(5) } catch (e) { console.log(e.message) }
const b = g();
b.next();
try { b.throw(new Error("orig")) } catch (e) { console.log(e.message) }
function* h() { try { throw new Error("orig") } finally { throw new Error("fin2") } }
try { h().next() } catch (e) { console.log(e.message) }
console.log(a.next().done, b.next().done);
`, "fin\nfin\nfin2\ntrue true\n")
}

func TestGeneratorThrow(t *testing.T) {
	expect(t, `
function* g() {
  try { yield 1 } catch (e) { console.log("caught", e); yield 2 }
}
const it = g();
it.next();
console.log(it.throw("oops").value);
`, "caught oops\n2\n")
}

func TestGeneratorAlreadyRunning(t *testing.T) {
	expect(t, `
function* g() { it.next() }
const it = g();
try { it.next() } catch (e) { console.log(e instanceof TypeError) }
`, "true\n")
}

func TestAsyncOrdering(t *testing.T) {
	expect(t, `
const log = [];
async function a() { log.push("a1"); await null; log.push("a2"); return 7 }
a().then(v => { log.push("then " + v); console.log(log.join(",")) });
log.push("sync");
Promise.resolve().then(() => log.push("micro"));
`, "a1,sync,a2,micro,then 7\n")
}

func TestAsyncRejection(t *testing.T) {
	expect(t, `
async function fail() { await 1; throw new RangeError("late") }
async function main() {
  try { await fail() } catch (e) { console.log(e.name, e.message) }
}
main();
`, "RangeError late\n")
}

func TestClasses(t *testing.T) {
	expect(t, `
class A {
  constructor(x) { this.x = x }
  get double() { return this.x * 2 }
  static make() { return new A(4) }
}
class B extends A {
  constructor() { super(5) }
  hi() { return "B" + this.x }
}
const b = new B();
console.log(b.hi(), b.double, A.make().x, b instanceof A, b instanceof B);
class C extends A {}
console.log(new C(3).double);
`, "B5 10 4 true true\n6\n")
}

func TestDestructuring(t *testing.T) {
	expect(t, `
const { a, b: [c, ...d], e = 9 } = { a: 1, b: [2, 3, 4] };
console.log(a, c, d, e);
function f({ x, y } = { x: 1, y: 2 }) { return x + y }
console.log(f(), f({ x: 10, y: 5 }));
`, "1 2 [ 3, 4 ] 9\n3 15\n")
}

func TestRegExp(t *testing.T) {
	expect(t, `
const m = /(\d+)-(\d+)/.exec("x 12-34");
console.log(m[1], m[2], m.index, /a/i.test("CAT"), "a-b-c".replace(/-/g, "+"));
console.log("one two".split(/\s+/), "abc".match(/z/));
`, "12 34 2 true a+b+c\n[ 'one', 'two' ] null\n")
}

func TestLabeledContinue(t *testing.T) {
	expect(t, `
const fs = [];
outer: for (let i = 0; i < 3; i++) {
  for (let j = 0; j < 3; j++) {
    if (j > i) continue outer;
    fs.push(() => i * 10 + j);
  }
}
console.log(fs.map(f => f()).join(","));
`, "0,10,11,20,21,22\n")
}

func TestTemporalDeadZone(t *testing.T) {
	expect(t, `
try { x; let x = 1 } catch (e) { console.log(e.name) }
`, "ReferenceError\n")
}

func TestStackOverflow(t *testing.T) {
	expect(t, `
function r() { return r() }
try { r() } catch (e) { console.log(e instanceof RangeError) }
`, "true\n")
}

func TestStringsAndTemplates(t *testing.T) {
	expect(t, "console.log(`${1 + 1} ${typeof \"s\"} ${typeof nothingHere}`, \"straße\".toUpperCase(), \"abc\".slice(-2), \"x\".padStart(3, \"-\"));\n",
		"2 string undefined STRASSE bc --x\n")
}

func TestInspect(t *testing.T) {
	expect(t, `
console.log({ a: 1, b: "x", c: [1, { d: null }], "e-f": undefined }, [], {}, -0);
console.log(function named() {}, Promise.resolve(3), new Error("m"));
`, "{ a: 1, b: 'x', c: [ 1, { d: null } ], 'e-f': undefined } [] {} -0\n[Function: named] Promise { 3 } Error: m\n")
}

func TestLoadRejectsUnknownRuntimeOperation(t *testing.T) {
	c := bytecode.NewChunk()
	idx := c.AddConstant(bytecode.StringConst("no.such.op"))
	c.EmitWithOperand(bytecode.OpCallRuntime, byte(idx>>8), byte(idx), 0)
	c.Emit(bytecode.OpReturn)
	c.MaxStack = 1
	m := bytecode.NewModule("bad")
	m.Chunks = []*bytecode.Chunk{c}

	err := vm.New(vm.Options{}).Load(m)
	if err == nil || !strings.Contains(err.Error(), "no.such.op") {
		t.Fatalf("Load error = %v, want unknown runtime operation", err)
	}
}

func TestCallFromHost(t *testing.T) {
	opts := compiler.DefaultOptions()
	res, err := compiler.Compile(`function add(a, b) { return a + b } sum = add;`, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	machine := vm.New(vm.Options{})
	if err := machine.Load(res.Module); err != nil {
		t.Fatal(err)
	}
	if _, err := machine.Run(); err != nil {
		t.Fatal(err)
	}
	fn, ok := machine.Global("sum")
	if !ok {
		t.Fatal("global sum not defined")
	}
	got, err := machine.Call(fn, vm.Undefined, []vm.Value{2.0, 3.0})
	if err != nil {
		t.Fatal(err)
	}
	if got != 5.0 {
		t.Errorf("sum(2, 3) = %v, want 5", got)
	}

	_, err = machine.Call(vm.Undefined, vm.Undefined, nil)
	var ex *vm.Exception
	if !errors.As(err, &ex) {
		t.Errorf("calling undefined: err = %v, want a TypeError exception", err)
	}
}

func TestInterrupt(t *testing.T) {
	res, err := compiler.Compile(`let n = 0; while (true) { n++ }`, compiler.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	machine := vm.New(vm.Options{})
	if err := machine.Load(res.Module); err != nil {
		t.Fatal(err)
	}
	time.AfterFunc(20*time.Millisecond, machine.Interrupt)
	if _, err := machine.Run(); !errors.Is(err, vm.ErrInterrupted) {
		t.Fatalf("err = %v, want ErrInterrupted", err)
	}

	machine.ClearInterrupt()
	var out bytes.Buffer
	machine.SetStdout(&out)
	res, err = compiler.Compile(`console.log("again")`, compiler.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	if err := machine.Load(res.Module); err != nil {
		t.Fatal(err)
	}
	if _, err := machine.Run(); err != nil || out.String() != "again\n" {
		t.Errorf("after ClearInterrupt: %q, %v", out.String(), err)
	}
}
