package lir

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/kiln/compiler/types"
)

type fb struct{ f *Function }

func newFB() *fb { return &fb{f: NewFunction(0, "t")} }

func (b *fb) num(v float64) Temp {
	t := b.f.NewTemp(types.Number)
	b.emit(Instr{Op: OpConst, Dst: t, Lit: Number(v)})
	return t
}

func (b *fb) emit(in Instr) { b.f.Instrs = append(b.f.Instrs, in) }

func (b *fb) label(l int) { b.emit(Instr{Op: OpLabel, Dst: NoTemp, Target: l}) }

// ============ Bitset Tests ============

func TestBitset(t *testing.T) {
	s := NewBitset(130)
	s.Set(0)
	s.Set(64)
	s.Set(129)
	if !s.Has(64) || s.Has(65) {
		t.Fatal("Has mismatch")
	}
	if s.Len() != 3 {
		t.Errorf("Len = %d, want 3", s.Len())
	}
	var got []int
	s.Each(func(i int) { got = append(got, i) })
	if len(got) != 3 || got[2] != 129 {
		t.Errorf("Each = %v", got)
	}
	o := NewBitset(130)
	o.Set(64)
	c := s.Copy()
	c.Intersect(o)
	if c.Len() != 1 || !c.Has(64) {
		t.Errorf("Intersect = %v", c)
	}
	if c.Union(o) {
		t.Error("Union of a subset reported a change")
	}
}

// ============ CFG Tests ============

func TestCFGTryRegion(t *testing.T) {
	b := newFB()
	b.emit(Instr{Op: OpEnterTry, Dst: NoTemp, Target: 0})
	x := b.num(1)
	b.emit(Instr{Op: OpThrow, Dst: NoTemp, Args: []Temp{x}})
	b.emit(Instr{Op: OpExitTry, Dst: NoTemp})
	b.label(0)
	e := b.f.NewTemp(types.Boxed)
	b.emit(Instr{Op: OpCatch, Dst: e})
	b.emit(Instr{Op: OpReturn, Dst: NoTemp, Args: []Temp{e}})

	g := BuildCFG(b.f)
	for i := 1; i <= 3; i++ {
		found := false
		for _, s := range g.Succ[i] {
			if s == 4 {
				found = true
			}
		}
		if !found {
			t.Errorf("instr %d has no exceptional edge to the handler: %v", i, g.Succ[i])
		}
	}
	if len(g.Succ[6]) != 0 {
		t.Errorf("return has successors %v", g.Succ[6])
	}
}

func TestLiveness(t *testing.T) {
	b := newFB()
	l := b.f.AddLocal(Local{Name: "x", Kind: types.Number, Param: -1})
	one := b.num(1)
	b.emit(Instr{Op: OpStoreLocal, Dst: NoTemp, Local: l, Args: []Temp{one}})
	b.label(0)
	v := b.f.NewTemp(types.Number)
	b.emit(Instr{Op: OpLoadLocal, Dst: v, Local: l})
	b.emit(Instr{Op: OpReturn, Dst: NoTemp, Args: []Temp{v}})

	lv := ComputeLiveness(b.f, BuildCFG(b.f))
	lx := b.f.LocalValue(l)
	if lv.In[1].Has(lx) {
		t.Error("x live into its store")
	}
	if !lv.Out[1].Has(lx) || !lv.In[3].Has(lx) {
		t.Error("x should be live from store to load")
	}
	if !lv.In[1].Has(int(one)) || lv.Out[1].Has(int(one)) {
		t.Error("t0 should die at the store")
	}
}

// ============ Validate Tests ============

func TestValidateUseWithoutDefinition(t *testing.T) {
	b := newFB()
	c := b.f.NewTemp(types.Boolean)
	x := b.f.NewTemp(types.Number)
	b.emit(Instr{Op: OpConst, Dst: c, Lit: Bool(true)})
	b.emit(Instr{Op: OpJumpIfFalse, Dst: NoTemp, Target: 0, Args: []Temp{c}})
	b.emit(Instr{Op: OpConst, Dst: x, Lit: Number(1)})
	b.label(0)
	b.emit(Instr{Op: OpReturn, Dst: NoTemp, Args: []Temp{x}})

	err := Validate(b.f, StageJoined)
	var ie *InvariantError
	if !errors.As(err, &ie) {
		t.Fatalf("Validate = %v, want InvariantError", err)
	}
	if ie.Index != 4 || !strings.Contains(ie.Msg, "without a reaching definition") {
		t.Errorf("error = %v", ie)
	}
}

func TestValidateJoinStages(t *testing.T) {
	b := newFB()
	c := b.f.NewTemp(types.Boolean)
	b.emit(Instr{Op: OpConst, Dst: c, Lit: Bool(true)})
	j := b.f.NewJoin()
	r := b.f.NewTemp(types.Number)
	x := b.num(1)
	b.emit(Instr{Op: OpEdge, Dst: NoTemp, Target: j, Args: []Temp{x}})
	b.emit(Instr{Op: OpJumpIfFalse, Dst: NoTemp, Target: 0, Args: []Temp{c}})
	y := b.num(2)
	b.emit(Instr{Op: OpEdge, Dst: NoTemp, Target: j, Args: []Temp{y}})
	b.label(0)
	b.emit(Instr{Op: OpPhi, Dst: r, Target: j})
	b.emit(Instr{Op: OpReturn, Dst: NoTemp, Args: []Temp{r}})

	if err := Validate(b.f, StageBuilt); err != nil {
		t.Fatalf("built stage: %v", err)
	}
	if err := Validate(b.f, StageJoined); err == nil {
		t.Fatal("joined stage accepted an unmaterialized phi")
	}
}

func TestValidateUnboxedOperands(t *testing.T) {
	b := newFB()
	s := b.f.NewTemp(types.Boxed)
	b.emit(Instr{Op: OpConst, Dst: s, Lit: String("x")})
	one := b.num(1)
	r := b.f.NewTemp(types.Number)
	b.emit(Instr{Op: OpBinary, Dst: r, Operator: Add, Unboxed: true, Args: []Temp{s, one}})
	if err := Validate(b.f, StageBuilt); err == nil {
		t.Fatal("unboxed add on a boxed operand accepted")
	}
}

func TestValidateDuplicateLabel(t *testing.T) {
	b := newFB()
	b.label(3)
	b.label(3)
	if err := Validate(b.f, StageBuilt); err == nil {
		t.Fatal("duplicate label accepted")
	}
}

// ============ Dump Tests ============

func TestDump(t *testing.T) {
	b := newFB()
	x := b.num(2)
	y := b.num(3)
	r := b.f.NewTemp(types.Number)
	b.emit(Instr{Op: OpBinary, Dst: r, Operator: Mul, Unboxed: true, Args: []Temp{x, y}})
	b.emit(Instr{Op: OpReturn, Dst: NoTemp, Args: []Temp{r}})
	got := b.f.Dump()
	for _, want := range []string{"t2:number = binary.mul.num t0, t1", "return t2", "t0:number = const 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("dump missing %q:\n%s", want, got)
		}
	}
}
