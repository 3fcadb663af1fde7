package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Type conversions
// ---------------------------------------------------------------------------

// ToBoolean implements the ToBoolean abstract operation.
func ToBoolean(v Value) bool {
	switch v := v.(type) {
	case bool:
		return v
	case float64:
		return v != 0 && !math.IsNaN(v)
	case string:
		return v != ""
	case *Object:
		return true
	}
	return false
}

// ToPrimitive converts an object to a primitive by calling valueOf and
// toString. hint is "number", "string" or "default".
func (vm *VM) ToPrimitive(v Value, hint string) (Value, error) {
	o, ok := v.(*Object)
	if !ok {
		return v, nil
	}
	order := []string{"valueOf", "toString"}
	if hint == "string" {
		order = []string{"toString", "valueOf"}
	}
	for _, name := range order {
		m, err := vm.GetMember(o, name)
		if err != nil {
			return nil, err
		}
		if !IsCallable(m) {
			continue
		}
		r, err := vm.Call(m, o, nil)
		if err != nil {
			return nil, err
		}
		if _, isObj := r.(*Object); !isObj {
			return r, nil
		}
	}
	return nil, vm.typeError("Cannot convert object to primitive value")
}

// ToNumber implements the ToNumber abstract operation.
func (vm *VM) ToNumber(v Value) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string:
		return stringToNumber(x), nil
	case nullType:
		return 0, nil
	case *Object:
		p, err := vm.ToPrimitive(x, "number")
		if err != nil {
			return 0, err
		}
		return vm.ToNumber(p)
	}
	return math.NaN(), nil
}

func stringToNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	switch s {
	case "Infinity", "+Infinity":
		return math.Inf(1)
	case "-Infinity":
		return math.Inf(-1)
	}
	if len(s) > 2 && s[0] == '0' {
		base := 0
		switch s[1] {
		case 'x', 'X':
			base = 16
		case 'o', 'O':
			base = 8
		case 'b', 'B':
			base = 2
		}
		if base != 0 {
			n, err := strconv.ParseUint(s[2:], base, 64)
			if err != nil {
				return math.NaN()
			}
			return float64(n)
		}
	}
	if strings.ContainsAny(s, "_xXpP") || strings.HasPrefix(s, "inf") || strings.HasPrefix(s, "nan") {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		if ne, ok := err.(*strconv.NumError); ok && ne.Err == strconv.ErrRange {
			return f
		}
		return math.NaN()
	}
	return f
}

// ToString implements the ToString abstract operation.
func (vm *VM) ToString(v Value) (string, error) {
	if o, ok := v.(*Object); ok {
		p, err := vm.ToPrimitive(o, "string")
		if err != nil {
			return "", err
		}
		return vm.ToString(p)
	}
	return primitiveString(v), nil
}

func primitiveString(v Value) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return NumberToString(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case nullType:
		return "null"
	}
	return "undefined"
}

// ToPropertyKey converts a computed key to a property name.
func (vm *VM) ToPropertyKey(v Value) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	return vm.ToString(v)
}

// NumberToString formats a number the way JavaScript prints it.
func NumberToString(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	abs := math.Abs(f)
	if abs < 1e-6 || abs >= 1e21 {
		return cleanExponent(strconv.FormatFloat(f, 'e', -1, 64))
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// cleanExponent rewrites Go's "1.5e-07" as JavaScript's "1.5e-7".
func cleanExponent(s string) string {
	i := strings.IndexByte(s, 'e')
	if i < 0 || i+2 > len(s) {
		return s
	}
	mant, sign, digits := s[:i], s[i+1], strings.TrimLeft(s[i+2:], "0")
	if digits == "" {
		digits = "0"
	}
	return mant + "e" + string(sign) + digits
}

// toInt32 implements ToInt32 on a number.
func toInt32(f float64) int32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int32(uint32(int64(math.Mod(math.Trunc(f), 4294967296))))
}

func toUint32(f float64) uint32 { return uint32(toInt32(f)) }

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

// LooseEquals implements ==.
func (vm *VM) LooseEquals(a, b Value) (bool, error) {
	if IsNullish(a) || IsNullish(b) {
		return IsNullish(a) && IsNullish(b), nil
	}
	switch x := a.(type) {
	case float64:
		switch y := b.(type) {
		case string:
			return x == stringToNumber(y), nil
		case bool:
			return vm.LooseEquals(x, boolNumber(y))
		case *Object:
			p, err := vm.ToPrimitive(y, "default")
			if err != nil {
				return false, err
			}
			return vm.LooseEquals(x, p)
		}
	case string:
		switch y := b.(type) {
		case float64:
			return stringToNumber(x) == y, nil
		case bool:
			return stringToNumber(x) == boolNumber(y), nil
		case *Object:
			p, err := vm.ToPrimitive(y, "default")
			if err != nil {
				return false, err
			}
			return vm.LooseEquals(x, p)
		}
	case bool:
		return vm.LooseEquals(boolNumber(x), b)
	case *Object:
		if _, ok := b.(*Object); !ok {
			if y, ok := b.(bool); ok {
				return vm.LooseEquals(a, boolNumber(y))
			}
			p, err := vm.ToPrimitive(x, "default")
			if err != nil {
				return false, err
			}
			return vm.LooseEquals(p, b)
		}
	}
	return StrictEquals(a, b), nil
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Add implements the + operator.
func (vm *VM) Add(a, b Value) (Value, error) {
	if x, ok := a.(float64); ok {
		if y, ok := b.(float64); ok {
			return x + y, nil
		}
	}
	pa, err := vm.ToPrimitive(a, "default")
	if err != nil {
		return nil, err
	}
	pb, err := vm.ToPrimitive(b, "default")
	if err != nil {
		return nil, err
	}
	_, sa := pa.(string)
	_, sb := pb.(string)
	if sa || sb {
		return primitiveString(pa) + primitiveString(pb), nil
	}
	x, _ := vm.ToNumber(pa)
	y, _ := vm.ToNumber(pb)
	return x + y, nil
}

// compare implements the abstract relational comparison a < b. The result
// is undefined (ok false) when either side is NaN.
func (vm *VM) compare(a, b Value, leftFirst bool) (less, ok bool, err error) {
	var pa, pb Value
	if leftFirst {
		if pa, err = vm.ToPrimitive(a, "number"); err != nil {
			return
		}
		if pb, err = vm.ToPrimitive(b, "number"); err != nil {
			return
		}
	} else {
		if pb, err = vm.ToPrimitive(b, "number"); err != nil {
			return
		}
		if pa, err = vm.ToPrimitive(a, "number"); err != nil {
			return
		}
	}
	if x, isStr := pa.(string); isStr {
		if y, isStr := pb.(string); isStr {
			return x < y, true, nil
		}
	}
	x, _ := vm.ToNumber(pa)
	y, _ := vm.ToNumber(pb)
	if math.IsNaN(x) || math.IsNaN(y) {
		return false, false, nil
	}
	return x < y, true, nil
}

// numeric applies a numeric binary operator to two numbers.
func numeric(op byte, x, y float64) Value {
	switch op {
	case '+':
		return x + y
	case '-':
		return x - y
	case '*':
		return x * y
	case '/':
		return x / y
	case '%':
		if y == 0 || math.IsInf(x, 0) || math.IsNaN(x) || math.IsNaN(y) {
			return math.NaN()
		}
		if math.IsInf(y, 0) {
			return x
		}
		return math.Mod(x, y)
	case 'p':
		if math.IsNaN(y) || ((x == 1 || x == -1) && math.IsInf(y, 0)) {
			return math.NaN()
		}
		return math.Pow(x, y)
	case '&':
		return float64(toInt32(x) & toInt32(y))
	case '|':
		return float64(toInt32(x) | toInt32(y))
	case '^':
		return float64(toInt32(x) ^ toInt32(y))
	case '<':
		return float64(toInt32(x) << (toUint32(y) & 31))
	case '>':
		return float64(toInt32(x) >> (toUint32(y) & 31))
	case 'u':
		return float64(toUint32(x) >> (toUint32(y) & 31))
	}
	return math.NaN()
}

var nan = math.NaN()

// toInteger implements ToIntegerOrInfinity on a number.
func toInteger(f float64) float64 {
	if math.IsNaN(f) {
		return 0
	}
	return math.Trunc(f)
}
