package vm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Built-in functions callable through CALL_RUNTIME
// ---------------------------------------------------------------------------

func mathFunc(fn func(float64) float64) NativeFunc {
	return func(vm *VM, this Value, args []Value) (Value, error) {
		x, err := vm.ToNumber(arg(args, 0))
		if err != nil {
			return nil, err
		}
		return fn(x), nil
	}
}

func mathFunc2(fn func(x, y float64) float64) NativeFunc {
	return func(vm *VM, this Value, args []Value) (Value, error) {
		x, err := vm.ToNumber(arg(args, 0))
		if err != nil {
			return nil, err
		}
		y, err := vm.ToNumber(arg(args, 1))
		if err != nil {
			return nil, err
		}
		return fn(x, y), nil
	}
}

// numbers converts every argument with ToNumber, in order.
func (vm *VM) numbers(args []Value) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		f, err := vm.ToNumber(a)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}

func mathExtreme(max bool) NativeFunc {
	return func(vm *VM, this Value, args []Value) (Value, error) {
		xs, err := vm.numbers(args)
		if err != nil {
			return nil, err
		}
		r := math.Inf(1)
		if max {
			r = math.Inf(-1)
		}
		for _, x := range xs {
			switch {
			case math.IsNaN(x):
				return nan, nil
			case max && (x > r || (x == 0 && r == 0 && !math.Signbit(x))):
				r = x
			case !max && (x < r || (x == 0 && r == 0 && math.Signbit(x))):
				r = x
			}
		}
		return r, nil
	}
}

func jsRound(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) || x == math.Trunc(x) {
		return x
	}
	if x < 0 && x >= -0.5 {
		return math.Copysign(0, -1)
	}
	return math.Floor(x + 0.5)
}

func jsSign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return x
}

// builtinCalls are the built-in functions the compiler may lower to direct
// runtime calls. The same implementations back the global objects.
var builtinCalls = map[string]NativeFunc{
	"Math.abs":   mathFunc(math.Abs),
	"Math.ceil":  mathFunc(math.Ceil),
	"Math.floor": mathFunc(math.Floor),
	"Math.round": mathFunc(jsRound),
	"Math.trunc": mathFunc(math.Trunc),
	"Math.sign":  mathFunc(jsSign),
	"Math.sqrt":  mathFunc(math.Sqrt),
	"Math.cbrt":  mathFunc(math.Cbrt),
	"Math.exp":   mathFunc(math.Exp),
	"Math.log":   mathFunc(math.Log),
	"Math.log2":  mathFunc(math.Log2),
	"Math.log10": mathFunc(math.Log10),
	"Math.sin":   mathFunc(math.Sin),
	"Math.cos":   mathFunc(math.Cos),
	"Math.tan":   mathFunc(math.Tan),
	"Math.atan":  mathFunc(math.Atan),
	"Math.atan2": mathFunc2(math.Atan2),
	"Math.pow": mathFunc2(func(x, y float64) float64 {
		return numeric('p', x, y).(float64)
	}),
	"Math.min": mathExtreme(false),
	"Math.max": mathExtreme(true),
	"Math.hypot": func(vm *VM, this Value, args []Value) (Value, error) {
		xs, err := vm.numbers(args)
		if err != nil {
			return nil, err
		}
		r := 0.0
		for _, x := range xs {
			r = math.Hypot(r, x)
		}
		return r, nil
	},
	"Math.random": func(vm *VM, this Value, args []Value) (Value, error) {
		return rand.Float64(), nil
	},
	"Number": func(vm *VM, this Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return 0.0, nil
		}
		return vm.ToNumber(args[0])
	},
	"String": func(vm *VM, this Value, args []Value) (Value, error) {
		if len(args) == 0 {
			return "", nil
		}
		return vm.ToString(args[0])
	},
	"Boolean": func(vm *VM, this Value, args []Value) (Value, error) {
		return ToBoolean(arg(args, 0)), nil
	},
	"parseInt": func(vm *VM, this Value, args []Value) (Value, error) {
		s, err := vm.ToString(arg(args, 0))
		if err != nil {
			return nil, err
		}
		radix := 0.0
		if !IsUndefined(arg(args, 1)) {
			if radix, err = vm.ToNumber(arg(args, 1)); err != nil {
				return nil, err
			}
		}
		return parseInt(s, int(toInt32(radix))), nil
	},
	"parseFloat": func(vm *VM, this Value, args []Value) (Value, error) {
		s, err := vm.ToString(arg(args, 0))
		if err != nil {
			return nil, err
		}
		return parseFloat(s), nil
	},
	"isNaN": func(vm *VM, this Value, args []Value) (Value, error) {
		x, err := vm.ToNumber(arg(args, 0))
		return math.IsNaN(x), err
	},
	"isFinite": func(vm *VM, this Value, args []Value) (Value, error) {
		x, err := vm.ToNumber(arg(args, 0))
		return !math.IsNaN(x) && !math.IsInf(x, 0), err
	},
	"Array.isArray": func(vm *VM, this Value, args []Value) (Value, error) {
		o, ok := arg(args, 0).(*Object)
		return ok && o.class == ClassArray, nil
	},
	"Number.isInteger": func(vm *VM, this Value, args []Value) (Value, error) {
		x, ok := arg(args, 0).(float64)
		return ok && !math.IsInf(x, 0) && x == math.Trunc(x), nil
	},
}

func parseInt(s string, radix int) float64 {
	s = strings.TrimSpace(s)
	sign := 1.0
	if s != "" && (s[0] == '-' || s[0] == '+') {
		if s[0] == '-' {
			sign = -1
		}
		s = s[1:]
	}
	if radix == 0 || radix == 16 {
		if len(s) > 1 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
			s = s[2:]
			radix = 16
		}
	}
	if radix == 0 {
		radix = 10
	}
	if radix < 2 || radix > 36 {
		return nan
	}
	n, digits := 0.0, 0
	for _, c := range strings.ToLower(s) {
		var d int
		switch {
		case c >= '0' && c <= '9':
			d = int(c - '0')
		case c >= 'a' && c <= 'z':
			d = int(c-'a') + 10
		default:
			d = radix
		}
		if d >= radix {
			break
		}
		n = n*float64(radix) + float64(d)
		digits++
	}
	if digits == 0 {
		return nan
	}
	return sign * n
}

func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	for _, inf := range []string{"Infinity", "+Infinity", "-Infinity"} {
		if strings.HasPrefix(s, inf) {
			if inf[0] == '-' {
				return math.Inf(-1)
			}
			return math.Inf(1)
		}
	}
	// Longest prefix that parses as a decimal literal.
	end := 0
	seenDigit, seenDot, seenExp := false, false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
			end = i + 1
		case (c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		default:
			i = len(s)
		}
	}
	if !seenDigit {
		return nan
	}
	f, err := strconv.ParseFloat(strings.TrimRight(s[:end], "eE+-"), 64)
	if err != nil {
		return nan
	}
	return f
}

// ---------------------------------------------------------------------------
// Global objects
// ---------------------------------------------------------------------------

// constructor creates a global constructor function whose prototype
// property is proto. call runs for both calls and new.
func (vm *VM) constructor(name string, arity int, proto *Object, call NativeFunc) *Object {
	c := vm.NewNative(name, arity, call)
	c.internal = call
	c.DefineData("prototype", proto, false)
	proto.DefineData("constructor", c, false)
	vm.globals[name] = c
	return c
}

func (vm *VM) installBuiltins() {
	vm.ObjectPrototype = newObject(nil)
	vm.FunctionPrototype = newObject(vm.ObjectPrototype)
	vm.FunctionPrototype.class = ClassFunction
	vm.FunctionPrototype.fn = &function{name: "", native: func(*VM, Value, []Value) (Value, error) { return Undefined, nil }}
	vm.ArrayPrototype = newObject(vm.ObjectPrototype)
	vm.ArrayPrototype.class = ClassArray
	vm.ArrayPrototype.elems = []Value{}

	vm.installObject()
	vm.installFunction()
	vm.installArray()
	vm.installNumber()
	vm.installStrings()
	vm.installRegExp()
	vm.installErrors()
	vm.installGenerators()
	vm.installPromise()
	vm.installMath()
	vm.installConsole()

	vm.globals["NaN"] = nan
	vm.globals["Infinity"] = math.Inf(1)
	vm.globals["undefined"] = Undefined
	for _, name := range []string{"parseInt", "parseFloat", "isNaN", "isFinite"} {
		vm.globals[name] = vm.NewNative(name, 1, builtinCalls[name])
	}
	global := vm.NewObject()
	for name, v := range vm.globals {
		global.DefineData(name, v, false)
	}
	vm.globals["globalThis"] = global
}

func (vm *VM) installConsole() {
	console := vm.NewObject()
	logFn := func(vm *VM, this Value, args []Value) (Value, error) {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = ToDisplay(a)
		}
		fmt.Fprintln(vm.out, strings.Join(parts, " "))
		return Undefined, nil
	}
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		vm.method(console, name, 0, logFn)
	}
	vm.globals["console"] = console
}

func (vm *VM) installMath() {
	m := vm.NewObject()
	for name, fn := range builtinCalls {
		if short, ok := strings.CutPrefix(name, "Math."); ok {
			vm.method(m, short, 1, fn)
		}
	}
	for name, v := range map[string]float64{
		"PI": math.Pi, "E": math.E, "LN2": math.Ln2, "LN10": math.Ln10,
		"LOG2E": math.Log2E, "LOG10E": math.Log10E, "SQRT2": math.Sqrt2, "SQRT1_2": math.Sqrt2 / 2,
	} {
		m.DefineData(name, v, false)
	}
	vm.globals["Math"] = m
}

func (vm *VM) installObject() {
	p := vm.ObjectPrototype
	vm.method(p, "hasOwnProperty", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		key, err := vm.ToPropertyKey(arg(args, 0))
		if err != nil {
			return nil, err
		}
		o, ok := this.(*Object)
		if !ok {
			return false, nil
		}
		if o.class == ClassArray {
			if i, ok := arrayIndex(key); ok {
				return i < len(o.elems), nil
			}
		}
		_, own := o.own(key)
		return own, nil
	})
	vm.method(p, "toString", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		switch {
		case IsUndefined(this):
			return "[object Undefined]", nil
		case IsNull(this):
			return "[object Null]", nil
		}
		if o, ok := this.(*Object); ok {
			switch {
			case o.class == ClassArray:
				return "[object Array]", nil
			case o.fn != nil:
				return "[object Function]", nil
			case o.class == ClassError:
				return "[object Error]", nil
			}
		}
		return "[object Object]", nil
	})
	vm.method(p, "valueOf", 0, func(vm *VM, this Value, args []Value) (Value, error) { return this, nil })

	objectArg := func(v Value) (*Object, error) {
		if o, ok := v.(*Object); ok {
			return o, nil
		}
		if IsNullish(v) {
			return nil, vm.typeError("Cannot convert undefined or null to object")
		}
		return vm.NewObject(), nil
	}
	ctor := vm.constructor("Object", 1, p, func(vm *VM, this Value, args []Value) (Value, error) {
		if o, ok := arg(args, 0).(*Object); ok {
			return o, nil
		}
		return vm.NewObject(), nil
	})
	vm.method(ctor, "keys", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		o, err := objectArg(arg(args, 0))
		if err != nil {
			return nil, err
		}
		keys := o.Keys()
		out := make([]Value, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return vm.NewArray(out), nil
	})
	vm.method(ctor, "values", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		o, err := objectArg(arg(args, 0))
		if err != nil {
			return nil, err
		}
		var out []Value
		for _, k := range o.Keys() {
			v, err := vm.GetMember(o, k)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return vm.NewArray(out), nil
	})
	vm.method(ctor, "entries", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		o, err := objectArg(arg(args, 0))
		if err != nil {
			return nil, err
		}
		var out []Value
		for _, k := range o.Keys() {
			v, err := vm.GetMember(o, k)
			if err != nil {
				return nil, err
			}
			out = append(out, vm.NewArray([]Value{k, v}))
		}
		return vm.NewArray(out), nil
	})
	vm.method(ctor, "assign", 2, func(vm *VM, this Value, args []Value) (Value, error) {
		target, err := objectArg(arg(args, 0))
		if err != nil {
			return nil, err
		}
		for _, src := range args[min(1, len(args)):] {
			so, ok := src.(*Object)
			if !ok {
				continue
			}
			for _, k := range so.Keys() {
				v, err := vm.GetMember(so, k)
				if err != nil {
					return nil, err
				}
				if err := vm.SetMember(target, k, v); err != nil {
					return nil, err
				}
			}
		}
		return target, nil
	})
	vm.method(ctor, "create", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		switch proto := arg(args, 0).(type) {
		case *Object:
			return newObject(proto), nil
		case nullType:
			return newObject(nil), nil
		}
		return nil, vm.typeError("Object prototype may only be an Object or null")
	})
	vm.method(ctor, "getPrototypeOf", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		p := vm.protoFor(arg(args, 0))
		if o, ok := arg(args, 0).(*Object); ok {
			p = o.proto
		}
		if p == nil {
			return Null, nil
		}
		return p, nil
	})
	vm.method(ctor, "freeze", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		return arg(args, 0), nil
	})
}

func (vm *VM) installFunction() {
	p := vm.FunctionPrototype
	vm.method(p, "call", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		var rest []Value
		if len(args) > 1 {
			rest = args[1:]
		}
		return vm.Call(this, arg(args, 0), rest)
	})
	vm.method(p, "apply", 2, func(vm *VM, this Value, args []Value) (Value, error) {
		var list []Value
		if !IsNullish(arg(args, 1)) {
			items, err := vm.iterate(arg(args, 1))
			if err != nil {
				return nil, err
			}
			list = items
		}
		return vm.Call(this, arg(args, 0), list)
	})
	vm.method(p, "bind", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		target := this
		if !IsCallable(target) {
			return nil, vm.typeError("Bind must be called on a function")
		}
		boundThis := arg(args, 0)
		var bound []Value
		if len(args) > 1 {
			bound = append(bound, args[1:]...)
		}
		name, _ := AsObject(target).lookupString("name")
		return vm.NewNative("bound "+name, 0, func(vm *VM, _ Value, args []Value) (Value, error) {
			return vm.Call(target, boundThis, append(append([]Value(nil), bound...), args...))
		}), nil
	})
	vm.method(p, "toString", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		o := AsObject(this)
		if o == nil || o.fn == nil {
			return nil, vm.typeError("Function.prototype.toString requires that 'this' be a Function")
		}
		return "function " + o.fn.name + "() { [code] }", nil
	})
	vm.constructor("Function", 1, p, func(vm *VM, this Value, args []Value) (Value, error) {
		return nil, vm.throwError("EvalError", nil, "Function constructor is not supported")
	})
}

func (vm *VM) installNumber() {
	vm.NumberPrototype = newObject(vm.ObjectPrototype)
	vm.NumberPrototype.class = ClassNumber
	vm.NumberPrototype.internal = 0.0
	vm.BooleanPrototype = newObject(vm.ObjectPrototype)
	vm.BooleanPrototype.class = ClassBoolean
	vm.BooleanPrototype.internal = false

	thisNumber := func(this Value) (float64, error) {
		switch v := this.(type) {
		case float64:
			return v, nil
		case *Object:
			if f, ok := v.internal.(float64); ok && v.class == ClassNumber {
				return f, nil
			}
		}
		return 0, vm.typeError("Number.prototype method called on incompatible receiver %s", ToDisplay(this))
	}
	p := vm.NumberPrototype
	vm.method(p, "toString", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		x, err := thisNumber(this)
		if err != nil {
			return nil, err
		}
		radix := 10.0
		if !IsUndefined(arg(args, 0)) {
			if radix, err = vm.ToNumber(arg(args, 0)); err != nil {
				return nil, err
			}
		}
		if radix < 2 || radix > 36 {
			return nil, vm.rangeError("toString() radix must be between 2 and 36")
		}
		if radix == 10 || math.IsNaN(x) || math.IsInf(x, 0) {
			return NumberToString(x), nil
		}
		return formatRadix(x, int(radix)), nil
	})
	vm.method(p, "toFixed", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		x, err := thisNumber(this)
		if err != nil {
			return nil, err
		}
		d, err := vm.ToNumber(arg(args, 0))
		if err != nil {
			return nil, err
		}
		d = toInteger(d)
		if d < 0 || d > 100 {
			return nil, vm.rangeError("toFixed() digits argument must be between 0 and 100")
		}
		if math.Abs(x) >= 1e21 || math.IsNaN(x) {
			return NumberToString(x), nil
		}
		return strconv.FormatFloat(x, 'f', int(d), 64), nil
	})
	vm.method(p, "valueOf", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		return objectResultFloat(thisNumber(this))
	})

	numberCall := builtinCalls["Number"]
	ctor := vm.constructor("Number", 1, p, numberCall)
	ctor.internal = NativeFunc(func(vm *VM, this Value, args []Value) (Value, error) {
		v, err := numberCall(vm, this, args)
		if err != nil {
			return nil, err
		}
		o := newObject(vm.NumberPrototype)
		o.class = ClassNumber
		o.internal = v
		return o, nil
	})
	vm.method(ctor, "isInteger", 1, builtinCalls["Number.isInteger"])
	vm.method(ctor, "isFinite", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		x, ok := arg(args, 0).(float64)
		return ok && !math.IsNaN(x) && !math.IsInf(x, 0), nil
	})
	vm.method(ctor, "isNaN", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		x, ok := arg(args, 0).(float64)
		return ok && math.IsNaN(x), nil
	})
	vm.method(ctor, "parseFloat", 1, builtinCalls["parseFloat"])
	vm.method(ctor, "parseInt", 2, builtinCalls["parseInt"])
	for name, v := range map[string]float64{
		"MAX_SAFE_INTEGER": 1<<53 - 1, "MIN_SAFE_INTEGER": -(1<<53 - 1),
		"EPSILON": math.Pow(2, -52), "MAX_VALUE": math.MaxFloat64, "MIN_VALUE": 5e-324,
		"POSITIVE_INFINITY": math.Inf(1), "NEGATIVE_INFINITY": math.Inf(-1), "NaN": nan,
	} {
		ctor.DefineData(name, v, false)
	}

	bp := vm.BooleanPrototype
	thisBool := func(this Value) (bool, error) {
		switch v := this.(type) {
		case bool:
			return v, nil
		case *Object:
			if b, ok := v.internal.(bool); ok && v.class == ClassBoolean {
				return b, nil
			}
		}
		return false, vm.typeError("Boolean.prototype method called on incompatible receiver %s", ToDisplay(this))
	}
	vm.method(bp, "toString", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		b, err := thisBool(this)
		if err != nil {
			return nil, err
		}
		return primitiveString(b), nil
	})
	vm.method(bp, "valueOf", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		b, err := thisBool(this)
		if err != nil {
			return nil, err
		}
		return b, nil
	})
	vm.constructor("Boolean", 1, bp, builtinCalls["Boolean"])
}

func objectResultFloat(f float64, err error) (Value, error) {
	if err != nil {
		return nil, err
	}
	return f, nil
}

// formatRadix formats x in a base other than 10.
func formatRadix(x float64, radix int) string {
	if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
		return strconv.FormatInt(int64(x), radix)
	}
	neg := x < 0
	x = math.Abs(x)
	ip := math.Floor(x)
	frac := x - ip
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(strconv.FormatInt(int64(ip), radix))
	b.WriteByte('.')
	for i := 0; i < 52 && frac > 0; i++ {
		frac *= float64(radix)
		d := int(frac)
		b.WriteByte("0123456789abcdefghijklmnopqrstuvwxyz"[d])
		frac -= float64(d)
	}
	return b.String()
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func inherits(o, proto *Object) bool {
	for p := o.proto; p != nil; p = p.proto {
		if p == proto {
			return true
		}
	}
	return false
}

func (vm *VM) installErrors() {
	base := vm.NewObject()
	base.DefineData("name", "Error", false)
	base.DefineData("message", "", false)
	vm.method(base, "toString", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		o, ok := this.(*Object)
		if !ok {
			return nil, vm.typeError("Error.prototype.toString called on non-object")
		}
		name, _ := o.lookupString("name")
		msg, _ := o.lookupString("message")
		switch {
		case msg == "":
			return name, nil
		case name == "":
			return msg, nil
		}
		return name + ": " + msg, nil
	})
	for _, kind := range []string{"Error", "TypeError", "RangeError", "ReferenceError", "SyntaxError", "EvalError"} {
		proto := base
		if kind != "Error" {
			proto = newObject(base)
			proto.DefineData("name", kind, false)
			proto.DefineData("message", "", false)
		}
		vm.errorProtos[kind] = proto
		vm.constructor(kind, 1, proto, func(vm *VM, this Value, args []Value) (Value, error) {
			var o *Object
			if t, ok := this.(*Object); ok && t.class == ClassObject && inherits(t, proto) {
				o = t
				o.class = ClassError
			} else {
				o = vm.NewError(kind, "")
				delete(o.props, "message")
				o.keys = o.keys[:0]
			}
			if msg := arg(args, 0); !IsUndefined(msg) {
				s, err := vm.ToString(msg)
				if err != nil {
					return nil, err
				}
				o.DefineData("message", s, false)
			}
			return o, nil
		})
	}
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func (vm *VM) thisArray(this Value, method string) (*Object, error) {
	if o, ok := this.(*Object); ok && o.class == ClassArray {
		return o, nil
	}
	return nil, vm.typeError("Array.prototype.%s called on %s", method, ToDisplay(this))
}

// callback invokes fn(element, index, array) for array methods.
func (vm *VM) callback(fn Value, thisArg Value, o *Object, i int) (Value, error) {
	return vm.Call(fn, thisArg, []Value{o.elems[i], float64(i), o})
}

func (vm *VM) installArray() {
	p := vm.ArrayPrototype
	arr := func(name string, arity int, fn func(vm *VM, o *Object, args []Value) (Value, error)) {
		vm.method(p, name, arity, func(vm *VM, this Value, args []Value) (Value, error) {
			o, err := vm.thisArray(this, name)
			if err != nil {
				return nil, err
			}
			return fn(vm, o, args)
		})
	}
	withCallback := func(name string, fn func(vm *VM, o *Object, cb, thisArg Value) (Value, error)) {
		arr(name, 1, func(vm *VM, o *Object, args []Value) (Value, error) {
			cb := arg(args, 0)
			if !IsCallable(cb) {
				return nil, vm.typeError("%s is not a function", ToDisplay(cb))
			}
			return fn(vm, o, cb, arg(args, 1))
		})
	}

	arr("push", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		o.elems = append(o.elems, args...)
		return float64(len(o.elems)), nil
	})
	arr("pop", 0, func(vm *VM, o *Object, args []Value) (Value, error) {
		if len(o.elems) == 0 {
			return Undefined, nil
		}
		v := o.elems[len(o.elems)-1]
		o.elems = o.elems[:len(o.elems)-1]
		return v, nil
	})
	arr("shift", 0, func(vm *VM, o *Object, args []Value) (Value, error) {
		if len(o.elems) == 0 {
			return Undefined, nil
		}
		v := o.elems[0]
		o.elems = append([]Value(nil), o.elems[1:]...)
		return v, nil
	})
	arr("unshift", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		o.elems = append(append([]Value(nil), args...), o.elems...)
		return float64(len(o.elems)), nil
	})
	join := func(vm *VM, o *Object, args []Value) (Value, error) {
		sep := ","
		if !IsUndefined(arg(args, 0)) {
			var err error
			if sep, err = vm.ToString(arg(args, 0)); err != nil {
				return nil, err
			}
		}
		parts := make([]string, len(o.elems))
		for i, e := range o.elems {
			if IsNullish(e) {
				continue
			}
			s, err := vm.ToString(e)
			if err != nil {
				return nil, err
			}
			parts[i] = s
		}
		return strings.Join(parts, sep), nil
	}
	arr("join", 1, join)
	arr("toString", 0, func(vm *VM, o *Object, args []Value) (Value, error) { return join(vm, o, nil) })
	arr("indexOf", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		from, err := vm.relIndex(arg(args, 1), len(o.elems), 0)
		if err != nil {
			return nil, err
		}
		for i := from; i < len(o.elems); i++ {
			if StrictEquals(o.elems[i], arg(args, 0)) {
				return float64(i), nil
			}
		}
		return -1.0, nil
	})
	arr("includes", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		for _, e := range o.elems {
			if SameValueZero(e, arg(args, 0)) {
				return true, nil
			}
		}
		return false, nil
	})
	arr("slice", 2, func(vm *VM, o *Object, args []Value) (Value, error) {
		start, err := vm.relIndex(arg(args, 0), len(o.elems), 0)
		if err != nil {
			return nil, err
		}
		end, err := vm.relIndex(arg(args, 1), len(o.elems), len(o.elems))
		if err != nil {
			return nil, err
		}
		if start >= end {
			return vm.NewArray(nil), nil
		}
		return vm.NewArray(append([]Value(nil), o.elems[start:end]...)), nil
	})
	arr("splice", 2, func(vm *VM, o *Object, args []Value) (Value, error) {
		start, err := vm.relIndex(arg(args, 0), len(o.elems), 0)
		if err != nil {
			return nil, err
		}
		count := len(o.elems) - start
		if len(args) > 1 {
			n, err := vm.ToNumber(args[1])
			if err != nil {
				return nil, err
			}
			count = max(0, min(int(toInteger(n)), len(o.elems)-start))
		}
		removed := append([]Value(nil), o.elems[start:start+count]...)
		var insert []Value
		if len(args) > 2 {
			insert = args[2:]
		}
		tail := append(append([]Value(nil), insert...), o.elems[start+count:]...)
		o.elems = append(o.elems[:start], tail...)
		return vm.NewArray(removed), nil
	})
	arr("concat", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		out := append([]Value(nil), o.elems...)
		for _, a := range args {
			if ao, ok := a.(*Object); ok && ao.class == ClassArray {
				out = append(out, ao.elems...)
			} else {
				out = append(out, a)
			}
		}
		return vm.NewArray(out), nil
	})
	arr("reverse", 0, func(vm *VM, o *Object, args []Value) (Value, error) {
		for i, j := 0, len(o.elems)-1; i < j; i, j = i+1, j-1 {
			o.elems[i], o.elems[j] = o.elems[j], o.elems[i]
		}
		return o, nil
	})
	arr("fill", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		start, err := vm.relIndex(arg(args, 1), len(o.elems), 0)
		if err != nil {
			return nil, err
		}
		end, err := vm.relIndex(arg(args, 2), len(o.elems), len(o.elems))
		if err != nil {
			return nil, err
		}
		for i := start; i < end; i++ {
			o.elems[i] = arg(args, 0)
		}
		return o, nil
	})
	arr("sort", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		cmp := arg(args, 0)
		var sortErr error
		less := func(a, b Value) bool {
			if sortErr != nil {
				return false
			}
			if IsUndefined(a) || IsUndefined(b) {
				return !IsUndefined(a) && IsUndefined(b)
			}
			if IsCallable(cmp) {
				r, err := vm.Call(cmp, Undefined, []Value{a, b})
				if err != nil {
					sortErr = err
					return false
				}
				n, err := vm.ToNumber(r)
				if err != nil {
					sortErr = err
					return false
				}
				return n < 0
			}
			sa, err := vm.ToString(a)
			if err != nil {
				sortErr = err
				return false
			}
			sb, err := vm.ToString(b)
			if err != nil {
				sortErr = err
				return false
			}
			return sa < sb
		}
		sort.SliceStable(o.elems, func(i, j int) bool { return less(o.elems[i], o.elems[j]) })
		if sortErr != nil {
			return nil, sortErr
		}
		return o, nil
	})
	withCallback("forEach", func(vm *VM, o *Object, cb, thisArg Value) (Value, error) {
		for i := 0; i < len(o.elems); i++ {
			if _, err := vm.callback(cb, thisArg, o, i); err != nil {
				return nil, err
			}
		}
		return Undefined, nil
	})
	withCallback("map", func(vm *VM, o *Object, cb, thisArg Value) (Value, error) {
		out := make([]Value, len(o.elems))
		for i := 0; i < len(o.elems) && i < len(out); i++ {
			v, err := vm.callback(cb, thisArg, o, i)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return vm.NewArray(out), nil
	})
	withCallback("filter", func(vm *VM, o *Object, cb, thisArg Value) (Value, error) {
		var out []Value
		for i := 0; i < len(o.elems); i++ {
			e := o.elems[i]
			v, err := vm.callback(cb, thisArg, o, i)
			if err != nil {
				return nil, err
			}
			if ToBoolean(v) {
				out = append(out, e)
			}
		}
		return vm.NewArray(out), nil
	})
	withCallback("some", func(vm *VM, o *Object, cb, thisArg Value) (Value, error) {
		for i := 0; i < len(o.elems); i++ {
			v, err := vm.callback(cb, thisArg, o, i)
			if err != nil || ToBoolean(v) {
				return err == nil, err
			}
		}
		return false, nil
	})
	withCallback("every", func(vm *VM, o *Object, cb, thisArg Value) (Value, error) {
		for i := 0; i < len(o.elems); i++ {
			v, err := vm.callback(cb, thisArg, o, i)
			if err != nil {
				return nil, err
			}
			if !ToBoolean(v) {
				return false, nil
			}
		}
		return true, nil
	})
	withCallback("find", func(vm *VM, o *Object, cb, thisArg Value) (Value, error) {
		for i := 0; i < len(o.elems); i++ {
			e := o.elems[i]
			v, err := vm.callback(cb, thisArg, o, i)
			if err != nil {
				return nil, err
			}
			if ToBoolean(v) {
				return e, nil
			}
		}
		return Undefined, nil
	})
	withCallback("findIndex", func(vm *VM, o *Object, cb, thisArg Value) (Value, error) {
		for i := 0; i < len(o.elems); i++ {
			v, err := vm.callback(cb, thisArg, o, i)
			if err != nil {
				return nil, err
			}
			if ToBoolean(v) {
				return float64(i), nil
			}
		}
		return -1.0, nil
	})
	arr("reduce", 1, func(vm *VM, o *Object, args []Value) (Value, error) {
		cb := arg(args, 0)
		if !IsCallable(cb) {
			return nil, vm.typeError("%s is not a function", ToDisplay(cb))
		}
		i := 0
		var acc Value
		if len(args) > 1 {
			acc = args[1]
		} else {
			if len(o.elems) == 0 {
				return nil, vm.typeError("Reduce of empty array with no initial value")
			}
			acc = o.elems[0]
			i = 1
		}
		for ; i < len(o.elems); i++ {
			v, err := vm.Call(cb, Undefined, []Value{acc, o.elems[i], float64(i), o})
			if err != nil {
				return nil, err
			}
			acc = v
		}
		return acc, nil
	})

	ctor := vm.constructor("Array", 1, p, func(vm *VM, this Value, args []Value) (Value, error) {
		if len(args) == 1 {
			if n, ok := args[0].(float64); ok {
				l, ok := numberIndex(n)
				if !ok {
					return nil, vm.rangeError("Invalid array length")
				}
				elems := make([]Value, l)
				for i := range elems {
					elems[i] = Undefined
				}
				return vm.NewArray(elems), nil
			}
		}
		return vm.NewArray(append([]Value(nil), args...)), nil
	})
	vm.method(ctor, "isArray", 1, builtinCalls["Array.isArray"])
	vm.method(ctor, "of", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		return vm.NewArray(append([]Value(nil), args...)), nil
	})
	vm.method(ctor, "from", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		items, err := vm.iterate(arg(args, 0))
		if err != nil {
			return nil, err
		}
		if fn := arg(args, 1); IsCallable(fn) {
			for i, item := range items {
				v, err := vm.Call(fn, Undefined, []Value{item, float64(i)})
				if err != nil {
					return nil, err
				}
				items[i] = v
			}
		}
		return vm.NewArray(items), nil
	})
}
