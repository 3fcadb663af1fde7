package opt

import (
	"errors"
	"testing"

	"github.com/chazu/kiln/compiler/frontend"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/lower"
	"github.com/chazu/kiln/compiler/scope"
	"github.com/chazu/kiln/compiler/types"
	"github.com/google/go-cmp/cmp"
)

func lowerAll(t *testing.T, src string) []*lir.Function {
	t.Helper()
	s, err := frontend.Parse("test.js", src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	u, diags := lower.Build(scope.Analyze(s.Program), "test")
	if len(diags) > 0 {
		t.Fatalf("build: %v", diags)
	}
	return u.Funcs
}

// fb assembles hand-written LIR.
type fb struct{ f *lir.Function }

func newFB() *fb { return &fb{f: lir.NewFunction(0, "t")} }

func (b *fb) value(k types.Kind, in lir.Instr) lir.Temp {
	in.Dst = b.f.NewTemp(k)
	b.f.Instrs = append(b.f.Instrs, in)
	return in.Dst
}

func (b *fb) effect(in lir.Instr) {
	in.Dst = lir.NoTemp
	b.f.Instrs = append(b.f.Instrs, in)
}

func (b *fb) num(v float64) lir.Temp {
	return b.value(types.Number, lir.Instr{Op: lir.OpConst, Lit: lir.Number(v)})
}

var programs = map[string]string{
	"joins":    `const c = Math.random() > 0.5; result = (c ? 1 : 2) * (c && 3) + (c || 4) + (null ?? 5);`,
	"loop":     `let acc = 0; for (let i = 0; i < 5; i++) { if (i % 2 === 0) acc += i; } result = acc;`,
	"coercion": `const b = Math.random() > 0.5; const n = Math.random(); result = (b - b) + !n + !n;`,
	"finally":  `function f(xs) { for (const x of xs) { try { if (x) return x; } finally { console.log(x); } } return -1; } result = f([0, 2]);`,
	"gen":      `function* g(n) { let i = 0; while (i < n) { yield i > 1 ? i : -i; i++; } } result = g(3);`,
}

// ============ Idempotence ============

func TestPassesAreIdempotent(t *testing.T) {
	passes := []struct {
		name string
		run  func(*lir.Function) (*lir.Function, error)
	}{
		{"joins", infallible(MaterializeJoins)},
		{"loop-carried", RepairLoopCarried},
		{"coercion-cse", infallible(EliminateCoercions)},
	}
	for name, src := range programs {
		for _, f := range lowerAll(t, src) {
			// Later passes see materialized joins.
			joined := MaterializeJoins(f)
			for _, p := range passes {
				in := joined
				if p.name == "joins" {
					in = f
				}
				once, err := p.run(in)
				if err != nil {
					t.Fatalf("%s/%s: %v", name, p.name, err)
				}
				twice, err := p.run(once)
				if err != nil {
					t.Fatalf("%s/%s second run: %v", name, p.name, err)
				}
				if diff := cmp.Diff(once.Dump(), twice.Dump()); diff != "" {
					t.Errorf("%s/%s not idempotent (-once +twice):\n%s", name, p.name, diff)
				}
				if diff := cmp.Diff(once.Kinds, twice.Kinds); diff != "" {
					t.Errorf("%s/%s changed temp kinds:\n%s", name, p.name, diff)
				}
			}
		}
	}
}

func TestRunValidates(t *testing.T) {
	for name, src := range programs {
		for _, f := range lowerAll(t, src) {
			out, stats, err := Run(f, DefaultConfig())
			if err != nil {
				t.Fatalf("%s: %v", name, err)
			}
			if len(stats) != 3 {
				t.Errorf("%s: stats = %+v", name, stats)
			}
			if out.Count(lir.OpPhi) != 0 || out.Count(lir.OpEdge) != 0 {
				t.Errorf("%s: joins left after Run:\n%s", name, out.Dump())
			}
		}
	}
}

func TestRunWithoutJoinsLeavesPhis(t *testing.T) {
	f := lowerAll(t, programs["joins"])[0]
	cfg := DefaultConfig()
	cfg.Joins = false
	out, stats, err := Run(f, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 2 || out.Count(lir.OpPhi) == 0 {
		t.Errorf("stats = %+v, phis = %d", stats, out.Count(lir.OpPhi))
	}
	if err := lir.Validate(out, lir.StageJoined); err == nil {
		t.Error("unmaterialized joins should fail validation at the joined stage")
	}
}

// ============ Join Materialization ============

func TestMaterializeJoins(t *testing.T) {
	f := lowerAll(t, `const c = Math.random() > 0.5; result = (c ? 1 : 2) + 1;`)[0]
	var phi lir.Temp = lir.NoTemp
	for _, in := range f.Instrs {
		if in.Op == lir.OpPhi {
			phi = in.Dst
		}
	}
	if phi == lir.NoTemp {
		t.Fatalf("no phi:\n%s", f.Dump())
	}
	out := MaterializeJoins(f)
	n := 0
	for _, in := range out.Instrs {
		if in.Op == lir.OpMaterialize {
			n++
			if in.Dst != phi {
				t.Errorf("materialize into %s, want %s", in.Dst, phi)
			}
		}
	}
	if n != 2 {
		t.Errorf("materialize count = %d, want 2:\n%s", n, out.Dump())
	}
	if out.Kind(phi) != types.Number {
		t.Errorf("join of two numbers should stay numeric, got %s", out.Kind(phi))
	}
	if err := lir.Validate(out, lir.StageJoined); err != nil {
		t.Error(err)
	}
	if f.Count(lir.OpPhi) != 1 {
		t.Error("input function was modified")
	}
}

// ============ Loop-Carried Repair ============

// staleLoop builds
//
//	acc = 0
//	L0: if !cond goto L1
//	    t = acc + acc; acc = t
//	    goto L0
//	L1: return t
//
// where the exit reads the temp last stored to acc, which is undefined when
// the loop runs zero times.
func staleLoop(store bool) (*lir.Function, lir.Temp) {
	b := newFB()
	acc := b.f.AddLocal(lir.Local{Name: "acc", Kind: types.Number, Param: -1})
	zero := b.num(0)
	b.effect(lir.Instr{Op: lir.OpStoreLocal, Local: acc, Args: []lir.Temp{zero}})
	l0, l1 := b.f.NewLabel(), b.f.NewLabel()
	b.effect(lir.Instr{Op: lir.OpLabel, Target: l0})
	cond := b.value(types.Boolean, lir.Instr{Op: lir.OpCallRuntime, Name: "isNaN"})
	b.effect(lir.Instr{Op: lir.OpJumpIfFalse, Target: l1, Args: []lir.Temp{cond}})
	cur := b.value(types.Number, lir.Instr{Op: lir.OpLoadLocal, Local: acc})
	sum := b.value(types.Number, lir.Instr{Op: lir.OpBinary, Operator: lir.Add, Unboxed: true, Args: []lir.Temp{cur, cur}})
	if store {
		b.effect(lir.Instr{Op: lir.OpStoreLocal, Local: acc, Args: []lir.Temp{sum}})
	}
	b.effect(lir.Instr{Op: lir.OpJump, Target: l0})
	b.effect(lir.Instr{Op: lir.OpLabel, Target: l1})
	b.effect(lir.Instr{Op: lir.OpReturn, Args: []lir.Temp{sum}})
	return b.f, sum
}

func TestRepairReloadsStaleBinding(t *testing.T) {
	f, stale := staleLoop(true)
	if err := lir.Validate(f, lir.StageJoined); err == nil {
		t.Fatal("hand-built loop should start out invalid")
	}
	out, err := RepairLoopCarried(f)
	if err != nil {
		t.Fatal(err)
	}
	if err := lir.Validate(out, lir.StageJoined); err != nil {
		t.Fatalf("%v\n%s", err, out.Dump())
	}
	last := out.Instrs[len(out.Instrs)-1]
	reload := out.Instrs[len(out.Instrs)-2]
	if last.Op != lir.OpReturn || last.Args[0] == stale {
		t.Errorf("return still reads the stale temp:\n%s", out.Dump())
	}
	if reload.Op != lir.OpLoadLocal || reload.Dst != last.Args[0] || reload.Local != 0 {
		t.Errorf("expected a reload of acc before the return:\n%s", out.Dump())
	}
	if out.Kind(reload.Dst) != types.Number {
		t.Errorf("reload kind = %s, want number", out.Kind(reload.Dst))
	}
}

func TestRepairRejectsUncarriedTemp(t *testing.T) {
	f, _ := staleLoop(false)
	_, err := RepairLoopCarried(f)
	var ie *lir.InvariantError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *lir.InvariantError", err)
	}
	if ie.Op != lir.OpReturn {
		t.Errorf("violation reported at %s, want return", ie.Op)
	}
}

func TestRepairLeavesBuilderOutputAlone(t *testing.T) {
	for _, f := range lowerAll(t, programs["loop"]) {
		joined := MaterializeJoins(f)
		out, err := RepairLoopCarried(joined)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(joined.Dump(), out.Dump()); diff != "" {
			t.Errorf("builder output should need no repair:\n%s", diff)
		}
	}
}

// ============ Coercion CSE ============

func TestCSEMergesPrimitiveSource(t *testing.T) {
	f := lowerAll(t, `const b = Math.random() > 0.5; result = b - b;`)[0]
	if f.Count(lir.OpToNumber) != 2 {
		t.Fatalf("expected two conversions:\n%s", f.Dump())
	}
	out := EliminateCoercions(f)
	if out.Count(lir.OpToNumber) != 1 || out.Count(lir.OpCopy) != 1 {
		t.Errorf("conversions of a boolean should merge:\n%s", out.Dump())
	}
	if err := lir.Validate(out, lir.StageBuilt); err != nil {
		t.Error(err)
	}
}

func TestCSEMergesToBooleanOfNumber(t *testing.T) {
	f := lowerAll(t, `const n = Math.random(); result = !n; other = !n;`)[0]
	out := EliminateCoercions(f)
	if f.Count(lir.OpToBoolean) != 2 || out.Count(lir.OpToBoolean) != 1 {
		t.Errorf("before %d, after %d conversions:\n%s", f.Count(lir.OpToBoolean), out.Count(lir.OpToBoolean), out.Dump())
	}
}

func TestCSEKeepsBoxedSource(t *testing.T) {
	f := lowerAll(t, `const o = {valueOf() { count++; return 1; }}; result = o - o;`)[0]
	out := EliminateCoercions(f)
	if out.Count(lir.OpToNumber) != 2 || out.Count(lir.OpCopy) != 0 {
		t.Errorf("conversions of an object must both run:\n%s", out.Dump())
	}
}

func TestCSEStopsAtLabels(t *testing.T) {
	b := newFB()
	n := b.num(1)
	b.value(types.Boolean, lir.Instr{Op: lir.OpToBoolean, Args: []lir.Temp{n}})
	b.effect(lir.Instr{Op: lir.OpLabel, Target: b.f.NewLabel()})
	b.value(types.Boolean, lir.Instr{Op: lir.OpToBoolean, Args: []lir.Temp{n}})
	out := EliminateCoercions(b.f)
	if out.Count(lir.OpToBoolean) != 2 {
		t.Errorf("coercions in different blocks must not merge:\n%s", out.Dump())
	}
}
