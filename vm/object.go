package vm

import (
	"math"
	"strconv"

	"github.com/chazu/kiln/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Object layout
// ---------------------------------------------------------------------------

// Class tags the internal kind of an object.
type Class uint8

const (
	ClassObject Class = iota
	ClassArray
	ClassFunction
	ClassError
	ClassRegExp
	ClassGenerator
	ClassPromise
	ClassIterator
	ClassBoolean
	ClassNumber
	ClassString
)

type property struct {
	value      Value
	get, set   *Object
	enumerable bool
}

func (p *property) isAccessor() bool { return p.get != nil || p.set != nil }

// Object is a JavaScript object. Arrays keep their indexed elements in
// elems; every other property lives in props, in insertion order.
type Object struct {
	class Class
	proto *Object
	props map[string]*property
	keys  []string
	elems []Value

	fn       *function
	internal any
}

// NativeFunc implements a built-in function.
type NativeFunc func(vm *VM, this Value, args []Value) (Value, error)

// function is the callable part of a function object.
type function struct {
	name   string
	native NativeFunc

	// Compiled functions
	prog  *program
	chunk *bytecode.Chunk
	env   *Scope
}

func newObject(proto *Object) *Object {
	return &Object{proto: proto, props: make(map[string]*property)}
}

// Class returns the internal kind of o.
func (o *Object) Class() Class { return o.class }

// Prototype returns the prototype of o, or nil.
func (o *Object) Prototype() *Object { return o.proto }

// Elements returns the indexed elements of an array.
func (o *Object) Elements() []Value { return o.elems }

// Keys returns the own enumerable property names of o in JavaScript order:
// array indices first, then string keys in insertion order.
func (o *Object) Keys() []string {
	var out []string
	if o.class == ClassArray {
		for i := range o.elems {
			out = append(out, strconv.Itoa(i))
		}
	}
	for _, k := range o.keys {
		if p := o.props[k]; p != nil && p.enumerable {
			out = append(out, k)
		}
	}
	return out
}

func (o *Object) own(key string) (*property, bool) {
	p, ok := o.props[key]
	return p, ok
}

// DefineData sets an own data property.
func (o *Object) DefineData(key string, v Value, enumerable bool) {
	if o.class == ClassArray {
		if i, ok := arrayIndex(key); ok {
			o.setElem(i, v)
			return
		}
	}
	if p, ok := o.props[key]; ok {
		p.value, p.get, p.set = v, nil, nil
		return
	}
	o.props[key] = &property{value: v, enumerable: enumerable}
	o.keys = append(o.keys, key)
}

func (o *Object) defineAccessor(key string, get, set *Object) {
	p, ok := o.props[key]
	if !ok {
		p = &property{enumerable: true}
		o.props[key] = p
		o.keys = append(o.keys, key)
	}
	p.value = nil
	if get != nil {
		p.get = get
	}
	if set != nil {
		p.set = set
	}
}

func (o *Object) deleteKey(key string) bool {
	if o.class == ClassArray {
		if i, ok := arrayIndex(key); ok {
			if i < len(o.elems) {
				o.elems[i] = Undefined
			}
			return true
		}
	}
	if _, ok := o.props[key]; !ok {
		return true
	}
	delete(o.props, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// lookup finds key on o or its prototype chain.
func (o *Object) lookup(key string) *property {
	for p := o; p != nil; p = p.proto {
		if prop, ok := p.props[key]; ok {
			return prop
		}
	}
	return nil
}

func (o *Object) hasProperty(key string) bool {
	for p := o; p != nil; p = p.proto {
		if p.class == ClassArray {
			if i, ok := arrayIndex(key); ok && i < len(p.elems) {
				return true
			}
			if key == "length" {
				return true
			}
		}
		if _, ok := p.props[key]; ok {
			return true
		}
	}
	return false
}

func (o *Object) setElem(i int, v Value) {
	for len(o.elems) <= i {
		o.elems = append(o.elems, Undefined)
	}
	o.elems[i] = v
}

// arrayIndex parses a canonical array index.
func arrayIndex(key string) (int, bool) {
	if key == "" || len(key) > 9 || (len(key) > 1 && key[0] == '0') {
		return 0, false
	}
	n := 0
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// numberIndex converts a numeric key to an array index.
func numberIndex(f float64) (int, bool) {
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// ---------------------------------------------------------------------------
// Member access
// ---------------------------------------------------------------------------

// protoFor returns the prototype used for member access on v.
func (vm *VM) protoFor(v Value) *Object {
	switch v := v.(type) {
	case *Object:
		return v
	case string:
		return vm.StringPrototype
	case float64:
		return vm.NumberPrototype
	case bool:
		return vm.BooleanPrototype
	}
	return nil
}

// GetMember reads v[key] with JavaScript semantics, running getters.
func (vm *VM) GetMember(v Value, key string) (Value, error) {
	switch x := v.(type) {
	case undefinedType, nullType, holeType:
		return nil, vm.typeError("Cannot read properties of %s (reading '%s')", ToDisplay(v), key)
	case string:
		if key == "length" {
			return float64(len(utf16Units(x))), nil
		}
		if i, ok := arrayIndex(key); ok {
			u := utf16Units(x)
			if i < len(u) {
				return utf16String(u[i : i+1]), nil
			}
			return Undefined, nil
		}
	case *Object:
		if x.class == ClassArray {
			if key == "length" {
				return float64(len(x.elems)), nil
			}
			if i, ok := arrayIndex(key); ok {
				if i < len(x.elems) {
					return x.elems[i], nil
				}
				return Undefined, nil
			}
		}
	}
	o := vm.protoFor(v)
	if o == nil {
		return Undefined, nil
	}
	p := o.lookup(key)
	if p == nil {
		return Undefined, nil
	}
	if p.isAccessor() {
		if p.get == nil {
			return Undefined, nil
		}
		return vm.Call(p.get, v, nil)
	}
	return p.value, nil
}

// SetMember writes v[key] = val, running setters found on the prototype
// chain.
func (vm *VM) SetMember(v Value, key string, val Value) error {
	o, ok := v.(*Object)
	if !ok {
		if IsNullish(v) {
			return vm.typeError("Cannot set properties of %s (setting '%s')", ToDisplay(v), key)
		}
		// Writes to primitives are dropped.
		return nil
	}
	if o.class == ClassArray && key == "length" {
		n, err := vm.ToNumber(val)
		if err != nil {
			return err
		}
		l, ok := numberIndex(n)
		if !ok {
			return vm.rangeError("Invalid array length")
		}
		if l < len(o.elems) {
			o.elems = o.elems[:l]
		} else {
			for len(o.elems) < l {
				o.elems = append(o.elems, Undefined)
			}
		}
		return nil
	}
	if p := o.lookup(key); p != nil && p.isAccessor() {
		if p.set == nil {
			return nil
		}
		_, err := vm.Call(p.set, o, []Value{val})
		return err
	}
	o.DefineData(key, val, true)
	return nil
}

// GetIndex reads v[k] for a computed key.
func (vm *VM) GetIndex(v, k Value) (Value, error) {
	if o, ok := v.(*Object); ok && o.class == ClassArray {
		if f, ok := k.(float64); ok {
			if i, ok := numberIndex(f); ok {
				if i < len(o.elems) {
					return o.elems[i], nil
				}
				return Undefined, nil
			}
		}
	}
	key, err := vm.ToPropertyKey(k)
	if err != nil {
		return nil, err
	}
	return vm.GetMember(v, key)
}

// SetIndex writes v[k] = val for a computed key.
func (vm *VM) SetIndex(v, k, val Value) error {
	if o, ok := v.(*Object); ok && o.class == ClassArray {
		if f, ok := k.(float64); ok {
			if i, ok := numberIndex(f); ok {
				o.setElem(i, val)
				return nil
			}
		}
	}
	key, err := vm.ToPropertyKey(k)
	if err != nil {
		return err
	}
	return vm.SetMember(v, key, val)
}

// ---------------------------------------------------------------------------
// Constructors for common objects
// ---------------------------------------------------------------------------

// NewObject creates an empty plain object.
func (vm *VM) NewObject() *Object { return newObject(vm.ObjectPrototype) }

// NewArray creates an array holding elems.
func (vm *VM) NewArray(elems []Value) *Object {
	o := newObject(vm.ArrayPrototype)
	o.class = ClassArray
	o.elems = elems
	if o.elems == nil {
		o.elems = []Value{}
	}
	return o
}

// NewNative creates a built-in function object.
func (vm *VM) NewNative(name string, arity int, fn NativeFunc) *Object {
	o := newObject(vm.FunctionPrototype)
	o.class = ClassFunction
	o.fn = &function{name: name, native: fn}
	o.DefineData("name", name, false)
	o.DefineData("length", float64(arity), false)
	return o
}

// method installs a native method on o.
func (vm *VM) method(o *Object, name string, arity int, fn NativeFunc) {
	o.DefineData(name, vm.NewNative(name, arity, fn), false)
}

// instanceOf implements the instanceof operator.
func (vm *VM) instanceOf(v, ctor Value) (bool, error) {
	c, ok := ctor.(*Object)
	if !ok || c.fn == nil {
		return false, vm.typeError("Right-hand side of 'instanceof' is not callable")
	}
	o, ok := v.(*Object)
	if !ok {
		return false, nil
	}
	pv, err := vm.GetMember(c, "prototype")
	if err != nil {
		return false, err
	}
	proto, ok := pv.(*Object)
	if !ok {
		return false, nil
	}
	for p := o.proto; p != nil; p = p.proto {
		if p == proto {
			return true, nil
		}
	}
	return false, nil
}
