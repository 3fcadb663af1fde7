package vm

import (
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Strings are stored as Go strings; indices and lengths are in UTF-16
// code units.

func utf16Units(s string) []uint16 { return utf16.Encode([]rune(s)) }

func utf16String(u []uint16) string { return string(utf16.Decode(u)) }

var (
	upper = cases.Upper(language.Und)
	lower = cases.Lower(language.Und)
)

// thisString coerces the receiver of a String.prototype method.
func (vm *VM) thisString(this Value, method string) (string, error) {
	if IsNullish(this) {
		return "", vm.typeError("String.prototype.%s called on null or undefined", method)
	}
	if o, ok := this.(*Object); ok && o.class == ClassString {
		return o.internal.(string), nil
	}
	return vm.ToString(this)
}

// relIndex resolves a relative index argument against length n.
func (vm *VM) relIndex(v Value, n, def int) (int, error) {
	if IsUndefined(v) {
		return def, nil
	}
	f, err := vm.ToNumber(v)
	if err != nil {
		return 0, err
	}
	f = toInteger(f)
	if f < 0 {
		f += float64(n)
		if f < 0 {
			f = 0
		}
	}
	if f > float64(n) {
		f = float64(n)
	}
	return int(f), nil
}

// clampIndex clamps an index argument into [0, n] without wrapping.
func (vm *VM) clampIndex(v Value, n, def int) (int, error) {
	if IsUndefined(v) {
		return def, nil
	}
	f, err := vm.ToNumber(v)
	if err != nil {
		return 0, err
	}
	f = toInteger(f)
	switch {
	case f < 0:
		return 0, nil
	case f > float64(n):
		return n, nil
	}
	return int(f), nil
}

func (vm *VM) installStrings() {
	vm.StringPrototype = vm.NewObject()
	vm.StringPrototype.class = ClassString
	vm.StringPrototype.internal = ""
	p := vm.StringPrototype

	str := func(name string, arity int, fn func(vm *VM, s string, args []Value) (Value, error)) {
		vm.method(p, name, arity, func(vm *VM, this Value, args []Value) (Value, error) {
			s, err := vm.thisString(this, name)
			if err != nil {
				return nil, err
			}
			return fn(vm, s, args)
		})
	}
	strArg := func(vm *VM, args []Value, i int) (string, error) {
		return vm.ToString(arg(args, i))
	}

	str("toString", 0, func(vm *VM, s string, args []Value) (Value, error) { return s, nil })
	str("valueOf", 0, func(vm *VM, s string, args []Value) (Value, error) { return s, nil })
	str("charAt", 1, func(vm *VM, s string, args []Value) (Value, error) {
		u := utf16Units(s)
		i, err := vm.ToNumber(arg(args, 0))
		if err != nil {
			return nil, err
		}
		i = toInteger(i)
		if i < 0 || i >= float64(len(u)) {
			return "", nil
		}
		return utf16String(u[int(i) : int(i)+1]), nil
	})
	str("charCodeAt", 1, func(vm *VM, s string, args []Value) (Value, error) {
		u := utf16Units(s)
		i, err := vm.ToNumber(arg(args, 0))
		if err != nil {
			return nil, err
		}
		i = toInteger(i)
		if i < 0 || i >= float64(len(u)) {
			return nan, nil
		}
		return float64(u[int(i)]), nil
	})
	str("indexOf", 1, func(vm *VM, s string, args []Value) (Value, error) {
		sub, err := strArg(vm, args, 0)
		if err != nil {
			return nil, err
		}
		u, su := utf16Units(s), utf16Units(sub)
		from, err := vm.clampIndex(arg(args, 1), len(u), 0)
		if err != nil {
			return nil, err
		}
		return float64(indexUnits(u, su, from)), nil
	})
	str("lastIndexOf", 1, func(vm *VM, s string, args []Value) (Value, error) {
		sub, err := strArg(vm, args, 0)
		if err != nil {
			return nil, err
		}
		u, su := utf16Units(s), utf16Units(sub)
		for i := len(u) - len(su); i >= 0; i-- {
			if equalUnits(u[i:i+len(su)], su) {
				return float64(i), nil
			}
		}
		return -1.0, nil
	})
	str("includes", 1, func(vm *VM, s string, args []Value) (Value, error) {
		sub, err := strArg(vm, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.Contains(s, sub), nil
	})
	str("startsWith", 1, func(vm *VM, s string, args []Value) (Value, error) {
		sub, err := strArg(vm, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.HasPrefix(s, sub), nil
	})
	str("endsWith", 1, func(vm *VM, s string, args []Value) (Value, error) {
		sub, err := strArg(vm, args, 0)
		if err != nil {
			return nil, err
		}
		return strings.HasSuffix(s, sub), nil
	})
	str("slice", 2, func(vm *VM, s string, args []Value) (Value, error) {
		u := utf16Units(s)
		start, err := vm.relIndex(arg(args, 0), len(u), 0)
		if err != nil {
			return nil, err
		}
		end, err := vm.relIndex(arg(args, 1), len(u), len(u))
		if err != nil {
			return nil, err
		}
		if start >= end {
			return "", nil
		}
		return utf16String(u[start:end]), nil
	})
	str("substring", 2, func(vm *VM, s string, args []Value) (Value, error) {
		u := utf16Units(s)
		start, err := vm.clampIndex(arg(args, 0), len(u), 0)
		if err != nil {
			return nil, err
		}
		end, err := vm.clampIndex(arg(args, 1), len(u), len(u))
		if err != nil {
			return nil, err
		}
		if start > end {
			start, end = end, start
		}
		return utf16String(u[start:end]), nil
	})
	str("toUpperCase", 0, func(vm *VM, s string, args []Value) (Value, error) { return upper.String(s), nil })
	str("toLowerCase", 0, func(vm *VM, s string, args []Value) (Value, error) { return lower.String(s), nil })
	str("trim", 0, func(vm *VM, s string, args []Value) (Value, error) { return strings.TrimSpace(s), nil })
	str("trimStart", 0, func(vm *VM, s string, args []Value) (Value, error) {
		return strings.TrimLeftFunc(s, unicode.IsSpace), nil
	})
	str("trimEnd", 0, func(vm *VM, s string, args []Value) (Value, error) {
		return strings.TrimRightFunc(s, unicode.IsSpace), nil
	})
	str("repeat", 1, func(vm *VM, s string, args []Value) (Value, error) {
		n, err := vm.ToNumber(arg(args, 0))
		if err != nil {
			return nil, err
		}
		n = toInteger(n)
		if n < 0 || n > 1<<28 {
			return nil, vm.rangeError("Invalid count value: %s", NumberToString(n))
		}
		return strings.Repeat(s, int(n)), nil
	})
	pad := func(start bool) func(vm *VM, s string, args []Value) (Value, error) {
		return func(vm *VM, s string, args []Value) (Value, error) {
			n, err := vm.ToNumber(arg(args, 0))
			if err != nil {
				return nil, err
			}
			fill := " "
			if !IsUndefined(arg(args, 1)) {
				if fill, err = vm.ToString(arg(args, 1)); err != nil {
					return nil, err
				}
			}
			u, fu := utf16Units(s), utf16Units(fill)
			want := int(toInteger(n))
			if want <= len(u) || len(fu) == 0 {
				return s, nil
			}
			var padding []uint16
			for len(padding) < want-len(u) {
				padding = append(padding, fu...)
			}
			padding = padding[:want-len(u)]
			if start {
				return utf16String(padding) + s, nil
			}
			return s + utf16String(padding), nil
		}
	}
	str("padStart", 2, pad(true))
	str("padEnd", 2, pad(false))
	str("split", 2, func(vm *VM, s string, args []Value) (Value, error) {
		sep := arg(args, 0)
		if IsUndefined(sep) {
			return vm.NewArray([]Value{s}), nil
		}
		if re := regexpOf(sep); re != nil {
			return vm.splitRegExp(re, s)
		}
		sepStr, err := vm.ToString(sep)
		if err != nil {
			return nil, err
		}
		var parts []string
		if sepStr == "" {
			for _, unit := range utf16Units(s) {
				parts = append(parts, utf16String([]uint16{unit}))
			}
		} else {
			parts = strings.Split(s, sepStr)
		}
		out := make([]Value, len(parts))
		for i, part := range parts {
			out[i] = part
		}
		return vm.NewArray(out), nil
	})
	str("concat", 1, func(vm *VM, s string, args []Value) (Value, error) {
		var b strings.Builder
		b.WriteString(s)
		for _, a := range args {
			t, err := vm.ToString(a)
			if err != nil {
				return nil, err
			}
			b.WriteString(t)
		}
		return b.String(), nil
	})
	str("replace", 2, func(vm *VM, s string, args []Value) (Value, error) {
		return vm.replace(s, arg(args, 0), arg(args, 1), false)
	})
	str("replaceAll", 2, func(vm *VM, s string, args []Value) (Value, error) {
		return vm.replace(s, arg(args, 0), arg(args, 1), true)
	})
	str("match", 1, func(vm *VM, s string, args []Value) (Value, error) {
		re := regexpOf(arg(args, 0))
		if re == nil {
			pattern, err := vm.ToString(arg(args, 0))
			if err != nil {
				return nil, err
			}
			o, err := vm.NewRegExp(pattern, "")
			if err != nil {
				return nil, err
			}
			re = regexpOf(o)
		}
		return vm.match(re, s)
	})

	stringCall := builtinCalls["String"]
	ctor := vm.constructor("String", 1, p, stringCall)
	ctor.internal = NativeFunc(func(vm *VM, this Value, args []Value) (Value, error) {
		v, err := stringCall(vm, this, args)
		if err != nil {
			return nil, err
		}
		o := newObject(vm.StringPrototype)
		o.class = ClassString
		o.internal = v
		return o, nil
	})
	vm.method(ctor, "fromCharCode", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		u := make([]uint16, len(args))
		for i, a := range args {
			n, err := vm.ToNumber(a)
			if err != nil {
				return nil, err
			}
			u[i] = uint16(toUint32(n))
		}
		return utf16String(u), nil
	})
}

func indexUnits(u, sub []uint16, from int) int {
	for i := from; i+len(sub) <= len(u); i++ {
		if equalUnits(u[i:i+len(sub)], sub) {
			return i
		}
	}
	return -1
}

func equalUnits(a, b []uint16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// replace implements String.prototype.replace and replaceAll for string
// and regular expression patterns. A function replacement receives the
// match, its groups and its index.
func (vm *VM) replace(s string, pattern, replacement Value, all bool) (Value, error) {
	if re := regexpOf(pattern); re != nil {
		return vm.replaceRegExp(re, s, replacement, all)
	}
	pat, err := vm.ToString(pattern)
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	rest := s
	offset := 0
	for {
		i := strings.Index(rest, pat)
		if i < 0 {
			break
		}
		b.WriteString(rest[:i])
		rep, err := vm.replacementText(replacement, pat, nil, float64(len(utf16Units(s[:offset+i]))), s)
		if err != nil {
			return nil, err
		}
		b.WriteString(rep)
		adv := i + len(pat)
		if pat == "" {
			if i >= len(rest) {
				rest = ""
				break
			}
			_, size := utf8.DecodeRuneInString(rest[i:])
			b.WriteString(rest[i : i+size])
			adv = i + size
		}
		offset += adv
		rest = rest[adv:]
		if !all {
			break
		}
	}
	b.WriteString(rest)
	return b.String(), nil
}

// replacementText computes the text for one match: the result of calling a
// replacement function, or a replacement string with $& and $n expanded.
func (vm *VM) replacementText(replacement Value, matched string, groups []Value, index float64, input string) (string, error) {
	if IsCallable(replacement) {
		callArgs := append([]Value{matched}, groups...)
		callArgs = append(callArgs, index, input)
		r, err := vm.Call(replacement, Undefined, callArgs)
		if err != nil {
			return "", err
		}
		return vm.ToString(r)
	}
	tmpl, err := vm.ToString(replacement)
	if err != nil {
		return "", err
	}
	if !strings.Contains(tmpl, "$") {
		return tmpl, nil
	}
	var b strings.Builder
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		if c != '$' || i+1 >= len(tmpl) {
			b.WriteByte(c)
			continue
		}
		next := tmpl[i+1]
		switch {
		case next == '$':
			b.WriteByte('$')
			i++
		case next == '&':
			b.WriteString(matched)
			i++
		case next >= '1' && next <= '9' && int(next-'0') <= len(groups):
			if g := groups[next-'1']; !IsUndefined(g) {
				b.WriteString(primitiveString(g))
			}
			i++
		default:
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}
