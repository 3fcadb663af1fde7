package compiler_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/opt"
	"github.com/chazu/kiln/pkg/bytecode"
	"github.com/chazu/kiln/vm"
)

func compile(t *testing.T, src string) *compiler.Result {
	t.Helper()
	opts := compiler.DefaultOptions()
	opts.Name = "test.js"
	res, err := compiler.Compile(src, opts)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return res
}

func TestCompileAndRun(t *testing.T) {
	res := compile(t, `
function fib(n) { return n < 2 ? n : fib(n - 1) + fib(n - 2) }
console.log(fib(10));
`)
	if res.Module == nil {
		t.Fatal("module is nil")
	}
	if res.Module.Name != "test.js" {
		t.Errorf("module name = %q", res.Module.Name)
	}
	var out bytes.Buffer
	machine := vm.New(vm.Options{Stdout: &out})
	if err := machine.Load(res.Module); err != nil {
		t.Fatal(err)
	}
	if _, err := machine.Run(); err != nil {
		t.Fatal(err)
	}
	if got := out.String(); got != "55\n" {
		t.Errorf("output = %q, want 55", got)
	}
}

func TestEveryChunkWithinStackBound(t *testing.T) {
	res := compile(t, `
function* g(a) { const x = [a, yield 1, { k: yield 2 }]; return x }
async function h(p) { return (await p) + (await p) * 2 }
const o = { a: [1, [2, [3]]], b: (1 + 2) * (3 + 4) };
`)
	for i, c := range res.Module.Chunks {
		if c.MaxStack > 1024 {
			t.Errorf("chunk %d: max stack %d over limit", i, c.MaxStack)
		}
		if c.Flags&bytecode.ChunkFlagGenerator != 0 && len(c.Resume) != 2 {
			t.Errorf("chunk %d: generator has %d resume points, want 2", i, len(c.Resume))
		}
	}
}

func TestSyntaxError(t *testing.T) {
	res, err := compiler.Compile(`let = ;`, compiler.DefaultOptions())
	if err == nil {
		t.Fatal("expected an error")
	}
	if res == nil || len(res.Diagnostics) == 0 {
		t.Fatalf("expected diagnostics, got %v", res)
	}
	if res.Diagnostics[0].Kind != diag.Syntax {
		t.Errorf("kind = %s, want %s", res.Diagnostics[0].Kind, diag.Syntax)
	}
	if res.Module != nil {
		t.Error("module should be nil on error")
	}
}

func TestDiagnosticsCollectedAcrossFunctions(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.Name = "multi.js"
	res, err := compiler.Compile(`
function a(xs) { return g(...xs) }
function ok() { return 1 }
function b() { with (o) {} }
`, opts)
	if err == nil {
		t.Fatal("expected an error")
	}
	var got []string
	for _, d := range res.Diagnostics {
		if d.Kind != diag.UnsupportedSyntax {
			t.Errorf("unexpected diagnostic %v", d)
		}
		got = append(got, d.Function)
	}
	if diff := cmp.Diff([]string{"a", "b"}, got); diff != "" {
		t.Errorf("failing functions (-want +got):\n%s", diff)
	}
	if res.Diagnostics[0].Pos.Line != 2 || res.Diagnostics[0].Pos.File != "multi.js" {
		t.Errorf("position = %v", res.Diagnostics[0].Pos)
	}
	if !strings.Contains(err.Error(), "spread arguments") {
		t.Errorf("error %q should name the construct", err)
	}
}

func TestCapacityDiagnostic(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.MaxStack = 2
	res, err := compiler.Compile(`result = [1, 2, 3, 4].concat([5, 6]);`, opts)
	if err == nil {
		t.Fatal("expected a capacity error")
	}
	ds := res.Diagnostics.Filter(diag.StackDepthExceeded)
	if len(ds) != 1 || !ds[0].IsCapacity() {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
}

func TestDisabledJoinsIsInvariantError(t *testing.T) {
	opts := compiler.DefaultOptions()
	opts.Passes = opt.Config{}
	res, err := compiler.Compile(`function tern(x) { return x > 2 ? x : 0 }`, opts)
	if err == nil {
		t.Fatal("expected an error")
	}
	ds := res.Diagnostics.Filter(diag.PassInvariant)
	if len(ds) == 0 || ds[0].Function != "tern" {
		t.Errorf("diagnostics = %v", res.Diagnostics)
	}
}

func TestExportHints(t *testing.T) {
	res := compile(t, `const n = 1; let s = "x"; var ok = true; function f() {}`)
	got := map[string]string{}
	for _, e := range res.Module.Exports {
		got[e.Name] = e.Hint + " " + e.Decl
	}
	want := map[string]string{
		"n":  "number const",
		"s":  "any let",
		"ok": "boolean var",
		"f":  "any function",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exports (-want +got):\n%s", diff)
	}
}

func TestMetrics(t *testing.T) {
	res := compile(t, `function f(a) { return a + 1 } f(1);`)
	by := res.Metrics.ByStage()
	for _, stage := range []string{"parse", "scope", "build", "joins", "generator", "alloc", "emit"} {
		if _, ok := by[stage]; !ok {
			t.Errorf("no metrics for stage %q; have %v", stage, by)
		}
	}
	if !strings.Contains(res.Metrics.String(), "emit") {
		t.Errorf("summary missing emit:\n%s", res.Metrics)
	}
}

func TestFingerprintTracksOptions(t *testing.T) {
	a := compiler.DefaultOptions()
	b := a
	b.Passes.CoercionCSE = false
	if a.Fingerprint() == b.Fingerprint() {
		t.Error("fingerprint should change with the pass selection")
	}
	b = a
	b.Name = "other.js"
	b.Jobs = 8
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("name and jobs do not affect code")
	}
}

func TestCompileAll(t *testing.T) {
	inputs := []compiler.Input{
		{Name: "a.js", Text: `result = 1 + 1;`},
		{Name: "b.js", Text: `with (o) {}`},
		{Name: "c.js", Text: `function f() { return "c" }`},
	}
	opts := compiler.DefaultOptions()
	opts.Jobs = 2
	results, err := compiler.CompileAll(context.Background(), inputs, opts)
	if err == nil || !strings.Contains(err.Error(), "b.js") {
		t.Fatalf("err = %v, want the failure of b.js", err)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for i, want := range []bool{true, false, true} {
		if got := results[i].Module != nil; got != want {
			t.Errorf("%s: module present = %t, want %t", inputs[i].Name, got, want)
		}
	}
	if results[2].Module.Name != "c.js" {
		t.Errorf("name = %q", results[2].Module.Name)
	}
}

func TestCompileAllCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := compiler.CompileAll(ctx, []compiler.Input{{Name: "a.js", Text: "1"}}, compiler.DefaultOptions())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
