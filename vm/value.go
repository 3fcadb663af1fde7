package vm

import (
	"math"
)

// Value is a JavaScript value. The concrete types are:
//   - Undefined and Null
//   - float64 for numbers
//   - bool
//   - string
//   - *Object for objects, arrays and functions
//
// Frame slots and the evaluation stack hold Values directly; unboxed numbers
// and booleans are simply float64 and bool.
type Value any

type undefinedType struct{}

func (undefinedType) String() string { return "undefined" }

type nullType struct{}

func (nullType) String() string { return "null" }

// holeType marks an uninitialized let/const cell.
type holeType struct{}

// Pre-defined special values
var (
	Undefined Value = undefinedType{}
	Null      Value = nullType{}
	hole      Value = holeType{}
)

// IsUndefined reports whether v is undefined.
func IsUndefined(v Value) bool {
	_, ok := v.(undefinedType)
	return ok
}

// IsNull reports whether v is null.
func IsNull(v Value) bool {
	_, ok := v.(nullType)
	return ok
}

// IsNullish reports whether v is null or undefined.
func IsNullish(v Value) bool { return IsUndefined(v) || IsNull(v) }

func isHole(v Value) bool {
	_, ok := v.(holeType)
	return ok
}

// AsObject returns v as an object, or nil.
func AsObject(v Value) *Object {
	o, _ := v.(*Object)
	return o
}

// IsCallable reports whether v can be called.
func IsCallable(v Value) bool {
	o := AsObject(v)
	return o != nil && o.fn != nil
}

// TypeOf implements the typeof operator.
func TypeOf(v Value) string {
	switch v := v.(type) {
	case undefinedType, holeType:
		return "undefined"
	case nullType:
		return "object"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case string:
		return "string"
	case *Object:
		if v.fn != nil {
			return "function"
		}
	}
	return "object"
}

// StrictEquals implements ===.
func StrictEquals(a, b Value) bool {
	switch x := a.(type) {
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case undefinedType:
		return IsUndefined(b)
	case nullType:
		return IsNull(b)
	case *Object:
		y, ok := b.(*Object)
		return ok && x == y
	}
	return false
}

// SameValueZero is the equality used by includes and similar built-ins.
func SameValueZero(a, b Value) bool {
	x, xok := a.(float64)
	y, yok := b.(float64)
	if xok && yok && math.IsNaN(x) && math.IsNaN(y) {
		return true
	}
	return StrictEquals(a, b)
}

// objectResult adapts an (*Object, error) pair to (Value, error) without
// boxing a nil pointer.
func objectResult(o *Object, err error) (Value, error) {
	if err != nil {
		return nil, err
	}
	return o, nil
}
