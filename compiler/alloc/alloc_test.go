package alloc

import (
	"testing"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/frontend"
	"github.com/chazu/kiln/compiler/gen"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/lower"
	"github.com/chazu/kiln/compiler/opt"
	"github.com/chazu/kiln/compiler/scope"
	"github.com/chazu/kiln/compiler/types"
)

// lowered runs every stage before allocation.
func lowered(t *testing.T, src string) []*lir.Function {
	t.Helper()
	s, err := frontend.Parse("test.js", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	u, diags := lower.Build(scope.Analyze(s.Program), "test")
	if len(diags) > 0 {
		t.Fatalf("build: %v", diags)
	}
	var out []*lir.Function
	for _, f := range u.Funcs {
		f, _, err := opt.Run(f, opt.DefaultConfig())
		if err != nil {
			t.Fatalf("opt: %v", err)
		}
		f, _, err = gen.Lower(f)
		if err != nil {
			t.Fatalf("gen: %v", err)
		}
		out = append(out, f)
	}
	return out
}

// chain builds
//
//	t0 = 1; t1 = 2; t2 = t0 + t1; t3 = <k>; t4 = isNaN(t2, t3); return t4
func chain(k types.Kind) *lir.Function {
	f := lir.NewFunction(0, "chain")
	add := func(kind types.Kind, in lir.Instr) lir.Temp {
		in.Dst = f.NewTemp(kind)
		f.Instrs = append(f.Instrs, in)
		return in.Dst
	}
	t0 := add(types.Number, lir.Instr{Op: lir.OpConst, Lit: lir.Number(1)})
	t1 := add(types.Number, lir.Instr{Op: lir.OpConst, Lit: lir.Number(2)})
	t2 := add(types.Number, lir.Instr{Op: lir.OpBinary, Operator: lir.Add, Unboxed: true, Args: []lir.Temp{t0, t1}})
	lit := lir.Number(3)
	if k == types.Boolean {
		lit = lir.Bool(true)
	}
	t3 := add(k, lir.Instr{Op: lir.OpConst, Lit: lit})
	t4 := add(types.Boolean, lir.Instr{Op: lir.OpCallRuntime, Name: "isNaN", Args: []lir.Temp{t2, t3}})
	f.Instrs = append(f.Instrs, lir.Instr{Op: lir.OpReturn, Dst: lir.NoTemp, Args: []lir.Temp{t4}})
	return f
}

// checkNoInterference fails when two values live at the same point share a
// slot.
func checkNoInterference(t *testing.T, f *lir.Function, a *Allocation) {
	t.Helper()
	live := lir.ComputeLiveness(f, lir.BuildCFG(f))
	nt := len(f.Kinds)
	slot := func(v int) int {
		if v < nt {
			return a.TempSlot[v]
		}
		return a.LocalSlot[v-nt]
	}
	for i := range f.Instrs {
		for _, set := range []lir.Bitset{live.In[i], live.Out[i]} {
			owner := make(map[int]int)
			set.Each(func(v int) {
				s := slot(v)
				if s == None {
					return
				}
				if o, ok := owner[s]; ok && o != v {
					t.Errorf("%s @%d: values %d and %d share slot %d\n%s", f.Name, i, o, v, s, f.Dump())
				}
				owner[s] = v
			})
		}
	}
}

func TestSlotReuseAfterRangeEnds(t *testing.T) {
	f := chain(types.Number)
	a, err := Allocate(f, Config{})
	if err != nil {
		t.Fatal(err)
	}
	// t3 reuses the slot of t0; the boolean t4 gets a fresh one.
	if a.Slots() != 4 {
		t.Errorf("slots = %d, want 4 (%v)", a.Slots(), a.TempSlot)
	}
	if a.TempSlot[3] != a.TempSlot[0] {
		t.Errorf("t3 should reuse the slot of t0: %v", a.TempSlot)
	}
	checkNoInterference(t, f, a)
}

func TestSlotsAreTyped(t *testing.T) {
	f := chain(types.Boolean)
	a, err := Allocate(f, Config{})
	if err != nil {
		t.Fatal(err)
	}
	s := a.TempSlot[3]
	if s == a.TempSlot[0] || s == a.TempSlot[1] {
		t.Errorf("boolean t3 reused a number slot: %v", a.TempSlot)
	}
	if a.SlotKinds[s] != types.Boolean {
		t.Errorf("slot %d kind = %s", s, a.SlotKinds[s])
	}
}

func TestStackifyNextInstructionOperand(t *testing.T) {
	f := chain(types.Number)
	a, err := Allocate(f, Config{Stackify: true})
	if err != nil {
		t.Fatal(err)
	}
	want := []bool{false, false, false, false, true}
	for i, w := range want {
		if a.OnStack[i] != w {
			t.Errorf("t%d on stack = %v, want %v", i, a.OnStack[i], w)
		}
	}
	if a.TempSlot[4] != None {
		t.Errorf("stack-resident t4 got slot %d", a.TempSlot[4])
	}
}

func TestUnusedTempHasNoSlot(t *testing.T) {
	f := lir.NewFunction(0, "dead")
	f.Instrs = []lir.Instr{
		{Op: lir.OpConst, Dst: f.NewTemp(types.Number), Lit: lir.Number(1)},
		{Op: lir.OpConst, Dst: f.NewTemp(types.Boxed), Lit: lir.Undefined},
		{Op: lir.OpReturn, Dst: lir.NoTemp, Args: []lir.Temp{1}},
	}
	a, err := Allocate(f, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if a.Used[0] != 0 || a.TempSlot[0] != None {
		t.Errorf("dead t0: used %d, slot %d", a.Used[0], a.TempSlot[0])
	}
}

func TestParamsKeepPositionalSlots(t *testing.T) {
	fs := lowered(t, `function f(a, b, c) { const x = a + c; return x + b; }`)
	f := fs[1]
	a, err := Allocate(f, Config{Stackify: true})
	if err != nil {
		t.Fatal(err)
	}
	for l, loc := range f.Locals {
		if loc.Param >= 0 && a.LocalSlot[l] != loc.Param {
			t.Errorf("param %s in slot %d, want %d", loc.Name, a.LocalSlot[l], loc.Param)
		}
	}
	if a.SlotNames[0] != "a" || a.SlotNames[2] != "c" {
		t.Errorf("slot names = %v", a.SlotNames)
	}
}

func TestNoInterference(t *testing.T) {
	srcs := []string{
		`function f(n) { let acc = 0; for (let i = 0; i < n; i++) { if (i % 2 === 0) acc += i; } return acc; }`,
		`function f(c) { const x = c ? 1 : 2; const y = c && 3; return x + (y || 4); }`,
		`function f(xs) { let s = ""; for (const x of xs) { try { s += x; } finally { s += ","; } } return s; }`,
		`function* g(n) { let i = 0; while (i < n) { const v = yield i; i += v ? 2 : 1; } return i; }`,
		`async function h(p) { let t = 0; for (let i = 0; i < 3; i++) { t += await p; } return t; }`,
		`function f(o) { let r; switch (o.k) { case 1: r = "a"; break; default: r = "b"; } return r; }`,
	}
	for _, src := range srcs {
		for _, f := range lowered(t, src) {
			for _, stack := range []bool{false, true} {
				a, err := Allocate(f, Config{Stackify: stack})
				if err != nil {
					t.Fatalf("%s: %v", src, err)
				}
				checkNoInterference(t, f, a)
			}
		}
	}
}

func TestStackifySkipsSuspensionAndJoins(t *testing.T) {
	for _, f := range lowered(t, `function* g(c) { const v = yield (c ? 1 : 2); return v; }`) {
		a, err := Allocate(f, Config{Stackify: true})
		if err != nil {
			t.Fatal(err)
		}
		for _, in := range f.Instrs {
			switch in.Op {
			case lir.OpSuspend:
				if a.OnStack[in.Args[0]] {
					t.Errorf("suspension operand %s kept on the stack", in.Args[0])
				}
			case lir.OpMaterialize:
				if a.OnStack[in.Dst] {
					t.Errorf("join temp %s kept on the stack", in.Dst)
				}
			}
		}
	}
}

func TestLocalReadBeforeWriteSpansFunction(t *testing.T) {
	f := lir.NewFunction(0, "early")
	x := f.AddLocal(lir.Local{Name: "x", Kind: types.Boxed, Param: -1})
	t0 := f.NewTemp(types.Boxed)
	t1 := f.NewTemp(types.Boxed)
	f.Instrs = []lir.Instr{
		{Op: lir.OpLoadLocal, Dst: t0, Local: x},
		{Op: lir.OpConst, Dst: t1, Lit: lir.Undefined},
		{Op: lir.OpStoreLocal, Dst: lir.NoTemp, Local: x, Args: []lir.Temp{t1}},
		{Op: lir.OpReturn, Dst: lir.NoTemp, Args: []lir.Temp{t0}},
	}
	a, err := Allocate(f, Config{})
	if err != nil {
		t.Fatal(err)
	}
	if a.LocalSlot[x] == a.TempSlot[t1] || a.LocalSlot[x] == a.TempSlot[t0] {
		t.Errorf("local x shares a slot: %v %v", a.LocalSlot, a.TempSlot)
	}
}

func TestMaxLocals(t *testing.T) {
	fs := lowered(t, `function f(a, b, c, d) { const x = a + b; const y = c + d; return [x, y, x * y]; }`)
	_, err := Allocate(fs[1], Config{MaxLocals: 4})
	d, ok := diag.As(err)
	if !ok || d.Kind != diag.SlotCountExceeded {
		t.Fatalf("err = %v, want slot-count-exceeded", err)
	}
	if d.Function != "f" {
		t.Errorf("function = %q", d.Function)
	}
	if _, err := Allocate(fs[1], Config{MaxLocals: 64}); err != nil {
		t.Errorf("generous limit: %v", err)
	}
}
