package vm

import (
	"github.com/chazu/kiln/compiler/types"
)

// runtimeTable maps the stable names generated code calls through
// CALL_RUNTIME to their implementations. Built-in functions such as
// Math.floor are added from builtinCalls.
var runtimeTable = map[string]runtimeFunc{
	types.RtTypeof:       rtTypeof,
	types.RtTypeofGlobal: rtTypeofGlobal,
	types.RtToString:     rtToString,
	types.RtInstanceof:   rtInstanceof,
	types.RtIn:           rtIn,
	types.RtDelete:       rtDelete,
	types.RtIsNullish:    rtIsNullish,
	types.RtIterOpen:     rtIterOpen,
	types.RtIterStep:     rtIterStep,
	types.RtIterValue:    rtIterValue,
	types.RtIterClose:    rtIterClose,
	types.RtForInKeys:    rtForInKeys,
	types.RtRegExp:       rtRegExp,
	types.RtThrowTDZ:     rtThrowTDZ,
	types.RtThrowConst:   rtThrowConst,
	types.RtArrayAppend:  rtArrayAppend,
	types.RtArrayExtend:  rtArrayExtend,
	types.RtArraySlice:   rtArraySlice,
	types.RtClassSetup:   rtClassSetup,
	types.RtClassDefault: rtClassDefault,
	types.RtDefineGetter: rtDefineGetter,
	types.RtDefineSetter: rtDefineSetter,
}

func init() {
	for name, fn := range builtinCalls {
		runtimeTable[name] = func(vm *VM, args []Value) (Value, error) {
			return fn(vm, Undefined, args)
		}
	}
}

// arg returns args[i], or undefined past the end.
func arg(args []Value, i int) Value {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

func rtTypeof(vm *VM, args []Value) (Value, error) {
	return TypeOf(arg(args, 0)), nil
}

func rtTypeofGlobal(vm *VM, args []Value) (Value, error) {
	name, _ := arg(args, 0).(string)
	if v, ok := vm.globals[name]; ok {
		return TypeOf(v), nil
	}
	return "undefined", nil
}

func rtToString(vm *VM, args []Value) (Value, error) {
	return vm.ToString(arg(args, 0))
}

func rtInstanceof(vm *VM, args []Value) (Value, error) {
	return vm.instanceOf(arg(args, 0), arg(args, 1))
}

func rtIn(vm *VM, args []Value) (Value, error) {
	o, ok := arg(args, 1).(*Object)
	if !ok {
		return nil, vm.typeError("Cannot use 'in' operator to search for a key in %s", ToDisplay(arg(args, 1)))
	}
	key, err := vm.ToPropertyKey(arg(args, 0))
	if err != nil {
		return nil, err
	}
	return o.hasProperty(key), nil
}

func rtDelete(vm *VM, args []Value) (Value, error) {
	v := arg(args, 0)
	if IsNullish(v) {
		return nil, vm.typeError("Cannot convert undefined or null to object")
	}
	o, ok := v.(*Object)
	if !ok {
		return true, nil
	}
	key, err := vm.ToPropertyKey(arg(args, 1))
	if err != nil {
		return nil, err
	}
	return o.deleteKey(key), nil
}

func rtIsNullish(vm *VM, args []Value) (Value, error) {
	return IsNullish(arg(args, 0)), nil
}

func rtThrowTDZ(vm *VM, args []Value) (Value, error) {
	return nil, vm.referenceError("Cannot access '%s' before initialization", primitiveString(arg(args, 0)))
}

func rtThrowConst(vm *VM, args []Value) (Value, error) {
	return nil, vm.typeError("Assignment to constant variable '%s'", primitiveString(arg(args, 0)))
}

func rtRegExp(vm *VM, args []Value) (Value, error) {
	return objectResult(vm.NewRegExp(primitiveString(arg(args, 0)), primitiveString(arg(args, 1))))
}

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func rtArrayAppend(vm *VM, args []Value) (Value, error) {
	arr := AsObject(arg(args, 0))
	if arr == nil {
		return nil, vm.typeError("array.append on a non-object")
	}
	arr.elems = append(arr.elems, arg(args, 1))
	return arr, nil
}

func rtArrayExtend(vm *VM, args []Value) (Value, error) {
	arr := AsObject(arg(args, 0))
	if arr == nil {
		return nil, vm.typeError("array.extend on a non-object")
	}
	items, err := vm.iterate(arg(args, 1))
	if err != nil {
		return nil, err
	}
	arr.elems = append(arr.elems, items...)
	return arr, nil
}

// rtArraySlice collects the elements of an array-like value from index n
// on, for rest elements in array patterns.
func rtArraySlice(vm *VM, args []Value) (Value, error) {
	v := arg(args, 0)
	n, _ := arg(args, 1).(float64)
	start := int(n)
	if o, ok := v.(*Object); ok && o.class == ClassArray {
		if start >= len(o.elems) {
			return vm.NewArray(nil), nil
		}
		return vm.NewArray(append([]Value(nil), o.elems[start:]...)), nil
	}
	items, err := vm.iterate(v)
	if err != nil {
		return nil, err
	}
	if start >= len(items) {
		return vm.NewArray(nil), nil
	}
	return vm.NewArray(items[start:]), nil
}

func rtForInKeys(vm *VM, args []Value) (Value, error) {
	o, ok := arg(args, 0).(*Object)
	if !ok {
		if s, isStr := arg(args, 0).(string); isStr {
			keys := make([]Value, len(utf16Units(s)))
			for i := range keys {
				keys[i] = NumberToString(float64(i))
			}
			return vm.NewArray(keys), nil
		}
		return vm.NewArray(nil), nil
	}
	seen := make(map[string]bool)
	var keys []Value
	for p := o; p != nil; p = p.proto {
		for _, k := range p.Keys() {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return vm.NewArray(keys), nil
}

// ---------------------------------------------------------------------------
// Classes and accessors
// ---------------------------------------------------------------------------

// rtClassSetup links a class constructor to its parent: the prototype
// object inherits from the parent's prototype and the constructor from the
// parent itself.
func rtClassSetup(vm *VM, args []Value) (Value, error) {
	ctor := AsObject(arg(args, 0))
	if ctor == nil || ctor.fn == nil {
		return nil, vm.typeError("class constructor is not a function")
	}
	proto := ctor.props["prototype"]
	var protoObj *Object
	if proto != nil {
		protoObj, _ = proto.value.(*Object)
	}
	if protoObj == nil {
		protoObj = vm.NewObject()
		protoObj.DefineData("constructor", ctor, false)
		ctor.DefineData("prototype", protoObj, false)
	}
	base := arg(args, 1)
	switch b := base.(type) {
	case undefinedType:
	case nullType:
		protoObj.proto = nil
	case *Object:
		if b.fn == nil {
			return nil, vm.typeError("Class extends value %s is not a constructor or null", ToDisplay(base))
		}
		bp, err := vm.GetMember(b, "prototype")
		if err != nil {
			return nil, err
		}
		switch bp := bp.(type) {
		case *Object:
			protoObj.proto = bp
		case nullType:
			protoObj.proto = nil
		default:
			return nil, vm.typeError("Class extends value does not have valid prototype property")
		}
		ctor.proto = b
	default:
		return nil, vm.typeError("Class extends value %s is not a constructor or null", ToDisplay(base))
	}
	return ctor, nil
}

// rtClassDefault creates the implicit constructor of a class. A derived
// class forwards its arguments to the parent constructor.
func rtClassDefault(vm *VM, args []Value) (Value, error) {
	base := arg(args, 0)
	ctor := vm.NewNative("constructor", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		if IsUndefined(base) {
			return Undefined, nil
		}
		return vm.Call(base, this, args)
	})
	return ctor, nil
}

func rtDefineGetter(vm *VM, args []Value) (Value, error) {
	return defineAccessor(vm, args, true)
}

func rtDefineSetter(vm *VM, args []Value) (Value, error) {
	return defineAccessor(vm, args, false)
}

func defineAccessor(vm *VM, args []Value, getter bool) (Value, error) {
	o := AsObject(arg(args, 0))
	fn := AsObject(arg(args, 2))
	if o == nil || fn == nil {
		return nil, vm.typeError("accessor target is not an object")
	}
	key, err := vm.ToPropertyKey(arg(args, 1))
	if err != nil {
		return nil, err
	}
	if getter {
		o.defineAccessor(key, fn, nil)
	} else {
		o.defineAccessor(key, nil, fn)
	}
	return o, nil
}
