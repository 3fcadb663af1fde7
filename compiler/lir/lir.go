// Package lir defines the low-level intermediate representation: a flat,
// typed instruction sequence per function sitting between the AST and the
// target bytecode.
//
// Instructions are plain values. Passes never edit an instruction slice in
// place; they return a new slice so that the output of every stage can be
// validated and compared on its own.
package lir

import (
	"github.com/chazu/kiln/compiler/types"
)

// Temp is a single-assignment temporary. Joins are the only place a temp is
// defined more than once, through Materialize.
type Temp int

// NoTemp marks an absent destination or operand.
const NoTemp Temp = -1

// Op is an LIR operation.
type Op uint8

const (
	OpNop Op = iota

	// Values and storage
	OpConst       // Dst = Lit
	OpCopy        // Dst = Args[0]
	OpLoadLocal   // Dst = locals[Local]
	OpStoreLocal  // locals[Local] = Args[0]
	OpLoadField   // Dst = env(Hops).fields[Field]; Checked throws on a hole
	OpStoreField  // env(Hops).fields[Field] = Args[0]; Checked throws on a hole
	OpLoadGlobal  // Dst = global Name
	OpStoreGlobal // global Name = Args[0]
	OpLoadThis    // Dst = this
	OpLoadCallee  // Dst = the running closure
	OpLoadRest    // Dst = array of arguments from index Field on

	// Scope objects
	OpPushScope  // env = new scope object of layout Field, parent env
	OpPopScope   // env = env.parent
	OpCloneScope // env = copy of env with the same parent

	// Objects and member access
	OpNewObject // Dst = {}
	OpNewArray  // Dst = [Args...]
	OpInitProp  // define own property Name on Args[0] with value Args[1]
	OpGetMember // Dst = Args[0].Name
	OpSetMember // Args[0].Name = Args[1]
	OpGetIndex  // Dst = Args[0][Args[1]]
	OpSetIndex  // Args[0][Args[1]] = Args[2]
	OpClosure   // Dst = closure of function Func over env

	// Arithmetic, comparison and coercion
	OpBinary    // Dst = Args[0] Operator Args[1]; Unboxed selects the numeric form
	OpUnary     // Dst = Operator Args[0]; Unboxed selects the numeric form
	OpToNumber  // Dst = ToNumber(Args[0])
	OpToBoolean // Dst = ToBoolean(Args[0])

	// Calls
	OpCall        // Dst = Args[0].call(Args[1], Args[2:]...)
	OpNew         // Dst = new Args[0](Args[1:]...)
	OpCallRuntime // Dst = runtime Name(Args...)

	// Control flow
	OpLabel       // Target is the label id
	OpJump        // goto Target
	OpJumpIfFalse // if !Args[0] goto Target
	OpJumpIfTrue  // if Args[0] goto Target
	OpReturn      // return Args[0]
	OpThrow       // throw Args[0]
	OpEnterTry    // push handler Target
	OpExitTry     // pop handler
	OpCatch       // Dst = exception being handled

	// Control-flow joins
	OpEdge        // value Args[0] flows into join Target
	OpPhi         // Dst = value of join Target
	OpMaterialize // Dst = Args[0] on the edge into a join

	// Suspension
	OpYield        // Dst = yield Args[0] at resume point Field
	OpAwait        // Dst = await Args[0] at resume point Field
	OpSuspend      // suspend with Args[0] at resume point Field; resumes at label Target
	OpResumeSwitch // dispatch to the resume label of the saved state
	OpResumeMode   // Dst = resume mode (0 next, 1 throw, 2 return)
	OpResumeValue  // Dst = value passed to the resume
)

var opNames = [...]string{
	OpNop:          "nop",
	OpConst:        "const",
	OpCopy:         "copy",
	OpLoadLocal:    "load.local",
	OpStoreLocal:   "store.local",
	OpLoadField:    "load.field",
	OpStoreField:   "store.field",
	OpLoadGlobal:   "load.global",
	OpStoreGlobal:  "store.global",
	OpLoadThis:     "load.this",
	OpLoadCallee:   "load.callee",
	OpLoadRest:     "load.rest",
	OpPushScope:    "scope.push",
	OpPopScope:     "scope.pop",
	OpCloneScope:   "scope.clone",
	OpNewObject:    "new.object",
	OpNewArray:     "new.array",
	OpInitProp:     "init.prop",
	OpGetMember:    "get.member",
	OpSetMember:    "set.member",
	OpGetIndex:     "get.index",
	OpSetIndex:     "set.index",
	OpClosure:      "closure",
	OpBinary:       "binary",
	OpUnary:        "unary",
	OpToNumber:     "to.number",
	OpToBoolean:    "to.boolean",
	OpCall:         "call",
	OpNew:          "new",
	OpCallRuntime:  "call.runtime",
	OpLabel:        "label",
	OpJump:         "jump",
	OpJumpIfFalse:  "jump.false",
	OpJumpIfTrue:   "jump.true",
	OpReturn:       "return",
	OpThrow:        "throw",
	OpEnterTry:     "try.enter",
	OpExitTry:      "try.exit",
	OpCatch:        "catch",
	OpEdge:         "edge",
	OpPhi:          "phi",
	OpMaterialize:  "materialize",
	OpYield:        "yield",
	OpAwait:        "await",
	OpSuspend:      "suspend",
	OpResumeSwitch: "resume.switch",
	OpResumeMode:   "resume.mode",
	OpResumeValue:  "resume.value",
}

func (op Op) String() string {
	if int(op) < len(opNames) && opNames[op] != "" {
		return opNames[op]
	}
	return "op?"
}

// IsJump reports whether op transfers control to Target.
func (op Op) IsJump() bool {
	return op == OpJump || op == OpJumpIfFalse || op == OpJumpIfTrue
}

// IsTerminator reports whether control never falls through op.
func (op Op) IsTerminator() bool {
	return op == OpJump || op == OpReturn || op == OpThrow || op == OpSuspend
}

// IsCoercion reports whether op is a language-defined conversion.
func (op Op) IsCoercion() bool { return op == OpToNumber || op == OpToBoolean }

// Operator is the operator of a Binary or Unary instruction.
type Operator uint8

const (
	Add Operator = iota
	Sub
	Mul
	Div
	Mod
	Pow
	BitAnd
	BitOr
	BitXor
	Shl
	Shr
	UShr
	Lt
	Le
	Gt
	Ge
	Eq
	Ne
	StrictEq
	StrictNe
	Neg
	BitNot
	Not
)

var operatorNames = [...]string{
	"add", "sub", "mul", "div", "mod", "pow", "and", "or", "xor", "shl",
	"shr", "ushr", "lt", "le", "gt", "ge", "eq", "ne", "seq", "sne", "neg",
	"bitnot", "not",
}

func (o Operator) String() string {
	if int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return "operator?"
}

// IsComparison reports whether o produces a boolean.
func (o Operator) IsComparison() bool { return o >= Lt && o <= StrictNe }

// LitKind tags a literal operand.
type LitKind uint8

const (
	LitUndefined LitKind = iota
	LitNull
	LitNumber
	LitString
	LitBool
	LitHole // uninitialized let/const cell
)

// Literal is a constant operand.
type Literal struct {
	Kind LitKind
	Num  float64
	Str  string
	Bool bool
}

// Number returns a numeric literal.
func Number(v float64) Literal { return Literal{Kind: LitNumber, Num: v} }

// String returns a string literal.
func String(s string) Literal { return Literal{Kind: LitString, Str: s} }

// Bool returns a boolean literal.
func Bool(b bool) Literal { return Literal{Kind: LitBool, Bool: b} }

// Undefined is the undefined literal.
var Undefined = Literal{Kind: LitUndefined}

// Null is the null literal.
var Null = Literal{Kind: LitNull}

// TypeKind is the type-model kind of the literal.
func (l Literal) TypeKind() types.Kind {
	switch l.Kind {
	case LitNumber:
		return types.Number
	case LitBool:
		return types.Boolean
	}
	return types.Boxed
}

// Access selects the member-access variant.
type Access uint8

const (
	AccessDynamic Access = iota // prototype lookup through the runtime
	AccessFast                  // statically known layout
)

// Pos is a source position carried for the source map.
type Pos struct {
	Line int
	Col  int
}

// Instr is one LIR instruction. Fields not used by an Op are zero, except
// Dst which is NoTemp when the instruction defines nothing.
type Instr struct {
	Op       Op
	Dst      Temp
	Args     []Temp
	Lit      Literal
	Name     string
	Local    int
	Hops     int
	Field    int
	Target   int
	Func     int
	Operator Operator
	Unboxed  bool
	Checked  bool
	Access   Access
	Pos      Pos
}

// Defines reports whether the instruction produces a temp.
func (in *Instr) Defines() bool { return in.Dst != NoTemp }

// Local is a frame-resident variable: a stack-local binding, a parameter or a
// compiler-introduced slot.
type Local struct {
	Name  string
	Kind  types.Kind
	Param int // parameter position, -1 otherwise
}

// ResumePoint describes one yield or await of a generator-shaped function.
type ResumePoint struct {
	Await bool
	// Label is the resume label, assigned by generator lowering.
	Label int
	// Return is the label of the out-of-line block that routes a return
	// request through the pending finally regions, or -1.
	Return int
	// Pending lists the ids of the finally regions enclosing the point,
	// innermost first. Handlers lists the handler labels of every
	// enclosing protected region.
	Pending  []int
	Handlers []int
}

// Function is the LIR of one function body.
type Function struct {
	Index       int
	Name        string
	Params      int
	Rest        bool
	HasDefaults bool
	Generator   bool
	Async       bool
	Arrow       bool
	Pos         Pos

	Instrs []Instr
	Locals []Local
	Kinds  []types.Kind // kind of each temp
	Labels int
	Joins  int
	Resume []ResumePoint // Resume[k-1] describes resume point k
}

// NewFunction returns an empty function.
func NewFunction(index int, name string) *Function {
	return &Function{Index: index, Name: name}
}

// NewTemp allocates a temp of the given kind.
func (f *Function) NewTemp(k types.Kind) Temp {
	f.Kinds = append(f.Kinds, k)
	return Temp(len(f.Kinds) - 1)
}

// NewLabel allocates a label id.
func (f *Function) NewLabel() int {
	f.Labels++
	return f.Labels - 1
}

// NewJoin allocates a join id.
func (f *Function) NewJoin() int {
	f.Joins++
	return f.Joins - 1
}

// AddLocal allocates a frame local.
func (f *Function) AddLocal(l Local) int {
	f.Locals = append(f.Locals, l)
	return len(f.Locals) - 1
}

// Kind returns the kind of t.
func (f *Function) Kind(t Temp) types.Kind {
	if t < 0 || int(t) >= len(f.Kinds) {
		return types.Boxed
	}
	return f.Kinds[t]
}

// IsSuspending reports whether the function lowers to a state machine.
func (f *Function) IsSuspending() bool { return f.Generator || f.Async }

// WithInstrs returns a shallow copy of f carrying instrs.
func (f *Function) WithInstrs(instrs []Instr) *Function {
	g := *f
	g.Instrs = instrs
	return &g
}

// Clone returns a deep copy of f.
func (f *Function) Clone() *Function {
	g := *f
	g.Instrs = CopyInstrs(f.Instrs)
	g.Locals = append([]Local(nil), f.Locals...)
	g.Kinds = append([]types.Kind(nil), f.Kinds...)
	g.Resume = make([]ResumePoint, len(f.Resume))
	for i, rp := range f.Resume {
		rp.Pending = append([]int(nil), rp.Pending...)
		rp.Handlers = append([]int(nil), rp.Handlers...)
		g.Resume[i] = rp
	}
	return &g
}

// CopyInstrs deep-copies an instruction slice.
func CopyInstrs(in []Instr) []Instr {
	out := make([]Instr, len(in))
	for i, x := range in {
		if x.Args != nil {
			x.Args = append([]Temp(nil), x.Args...)
		}
		out[i] = x
	}
	return out
}

// LabelIndex maps each label id to its instruction index.
func (f *Function) LabelIndex() map[int]int {
	m := make(map[int]int)
	for i := range f.Instrs {
		if f.Instrs[i].Op == OpLabel {
			m[f.Instrs[i].Target] = i
		}
	}
	return m
}

// Layout is the field layout of a scope object.
type Layout struct {
	Names []string
	TDZ   []bool
}

// Export is a module-level declaration exposed to hosts.
type Export struct {
	Name string
	Kind types.Kind
	Decl string
}

// Unit is the LIR of a compilation unit. Funcs[0] is the module body.
type Unit struct {
	Name    string
	Funcs   []*Function
	Layouts []Layout
	Exports []Export
}
