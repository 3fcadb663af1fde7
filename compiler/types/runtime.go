package types

import "sort"

// RuntimeOp describes an operation provided by the runtime library. The
// compiler calls it by stable name and trusts Result when seeding the type
// model.
type RuntimeOp struct {
	Name   string
	Arity  int // -1 for variadic
	Result Kind
	Shape  Shape
	Throws bool // never returns normally
}

// Runtime operation names used by the builder.
const (
	RtTypeof        = "typeof"
	RtTypeofGlobal  = "typeof.global"
	RtToString      = "tostring"
	RtInstanceof    = "instanceof"
	RtIn            = "in"
	RtDelete        = "delete"
	RtIsNullish     = "isnullish"
	RtIterOpen      = "iter.open"
	RtIterStep      = "iter.step"
	RtIterValue     = "iter.value"
	RtIterClose     = "iter.close"
	RtForInKeys     = "forin.keys"
	RtRegExp        = "regexp.new"
	RtThrowTDZ      = "throw.tdz"
	RtThrowConst    = "throw.const"
	RtArrayAppend   = "array.append"
	RtArrayExtend   = "array.extend"
	RtArraySlice    = "array.slice"
	RtClassSetup    = "class.setup"
	RtClassDefault  = "class.defaultctor"
	RtDefineGetter  = "object.defineGetter"
	RtDefineSetter  = "object.defineSetter"
)

var runtimeOps = map[string]RuntimeOp{}

func register(ops ...RuntimeOp) {
	for _, op := range ops {
		runtimeOps[op.Name] = op
	}
}

func init() {
	register(
		RuntimeOp{Name: RtTypeof, Arity: 1, Result: Boxed, Shape: ShapeString},
		RuntimeOp{Name: RtTypeofGlobal, Arity: 1, Result: Boxed, Shape: ShapeString},
		RuntimeOp{Name: RtToString, Arity: 1, Result: Boxed, Shape: ShapeString},
		RuntimeOp{Name: RtInstanceof, Arity: 2, Result: Boolean},
		RuntimeOp{Name: RtIn, Arity: 2, Result: Boolean},
		RuntimeOp{Name: RtDelete, Arity: 2, Result: Boolean},
		RuntimeOp{Name: RtIsNullish, Arity: 1, Result: Boolean},
		RuntimeOp{Name: RtIterOpen, Arity: 1, Result: Boxed},
		RuntimeOp{Name: RtIterStep, Arity: 1, Result: Boolean},
		RuntimeOp{Name: RtIterValue, Arity: 1, Result: Boxed},
		RuntimeOp{Name: RtIterClose, Arity: 1, Result: Boxed},
		RuntimeOp{Name: RtForInKeys, Arity: 1, Result: Boxed, Shape: ShapeArray},
		RuntimeOp{Name: RtRegExp, Arity: 2, Result: Boxed},
		RuntimeOp{Name: RtThrowTDZ, Arity: 1, Result: Boxed, Throws: true},
		RuntimeOp{Name: RtThrowConst, Arity: 1, Result: Boxed, Throws: true},
		RuntimeOp{Name: RtArrayAppend, Arity: 2, Result: Boxed},
		RuntimeOp{Name: RtArrayExtend, Arity: 2, Result: Boxed},
		RuntimeOp{Name: RtArraySlice, Arity: 2, Result: Boxed, Shape: ShapeArray},
		RuntimeOp{Name: RtClassSetup, Arity: 2, Result: Boxed},
		RuntimeOp{Name: RtClassDefault, Arity: 1, Result: Boxed},
		RuntimeOp{Name: RtDefineGetter, Arity: 3, Result: Boxed},
		RuntimeOp{Name: RtDefineSetter, Arity: 3, Result: Boxed},
	)

	// Built-in functions with a documented numeric or boolean result. Calls
	// such as Math.floor(x) on the unshadowed global are lowered to runtime
	// calls so their result can stay unboxed.
	for _, name := range []string{
		"Math.abs", "Math.ceil", "Math.floor", "Math.round", "Math.trunc",
		"Math.sign", "Math.sqrt", "Math.cbrt", "Math.exp", "Math.log",
		"Math.log2", "Math.log10", "Math.sin", "Math.cos", "Math.tan",
		"Math.atan", "Math.atan2", "Math.pow", "Math.min", "Math.max",
		"Math.hypot", "Math.random", "Number", "parseInt", "parseFloat",
	} {
		register(RuntimeOp{Name: name, Arity: -1, Result: Number})
	}
	for _, name := range []string{"Boolean", "isNaN", "isFinite", "Array.isArray", "Number.isInteger"} {
		register(RuntimeOp{Name: name, Arity: -1, Result: Boolean})
	}
	register(RuntimeOp{Name: "String", Arity: -1, Result: Boxed, Shape: ShapeString})
}

// LookupRuntime returns the runtime operation registered under name.
func LookupRuntime(name string) (RuntimeOp, bool) {
	op, ok := runtimeOps[name]
	return op, ok
}

// IsBuiltinCall reports whether name is a built-in function that may be
// lowered to a typed runtime call.
func IsBuiltinCall(name string) bool {
	op, ok := runtimeOps[name]
	return ok && op.Arity == -1
}

// RuntimeNames lists every registered runtime operation, sorted.
func RuntimeNames() []string {
	names := make([]string, 0, len(runtimeOps))
	for n := range runtimeOps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
