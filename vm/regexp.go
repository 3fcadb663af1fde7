package vm

import (
	"strings"
	"unicode/utf16"

	"github.com/dlclark/regexp2"
)

type regexpData struct {
	re            *regexp2.Regexp
	source, flags string
	global        bool
	sticky        bool
}

func regexpOf(v Value) *regexpData {
	if o, ok := v.(*Object); ok {
		if r, ok := o.internal.(*regexpData); ok {
			return r
		}
	}
	return nil
}

// NewRegExp compiles a regular expression literal. Patterns use
// ECMAScript syntax unless a flag needs a mode regexp2 only offers outside
// it.
func (vm *VM) NewRegExp(pattern, flags string) (*Object, error) {
	opts := regexp2.RegexOptions(regexp2.ECMAScript)
	r := &regexpData{source: pattern, flags: flags}
	for _, f := range flags {
		switch f {
		case 'i':
			opts |= regexp2.IgnoreCase
		case 'm':
			opts |= regexp2.Multiline
		case 's':
			opts = opts&^regexp2.ECMAScript | regexp2.Singleline
		case 'u':
			opts = opts&^regexp2.ECMAScript | regexp2.Unicode
		case 'g':
			r.global = true
		case 'y':
			r.sticky = true
		default:
			return nil, vm.throwError("SyntaxError", nil, "Invalid regular expression flags '%s'", flags)
		}
	}
	re, err := regexp2.Compile(pattern, opts)
	if err != nil {
		return nil, vm.throwError("SyntaxError", err, "Invalid regular expression: /%s/: %v", pattern, err)
	}
	r.re = re
	o := newObject(vm.RegExpPrototype)
	o.class = ClassRegExp
	o.internal = r
	o.DefineData("lastIndex", 0.0, false)
	return o, nil
}

// unitIndex converts a rune offset within runes to a UTF-16 offset.
func unitIndex(runes []rune, i int) int {
	n := 0
	for _, r := range runes[:i] {
		n += utf16.RuneLen(r)
	}
	return n
}

// runeIndex converts a UTF-16 offset to a rune offset, rounding up inside
// a surrogate pair.
func runeIndex(runes []rune, unit int) int {
	n := 0
	for i, r := range runes {
		if n >= unit {
			return i
		}
		n += utf16.RuneLen(r)
	}
	return len(runes)
}

// exec runs one match of o against s, honouring lastIndex for global and
// sticky expressions. It returns nil when there is no match.
func (vm *VM) exec(o *Object, s string) (*Object, error) {
	r := regexpOf(o)
	runes := []rune(s)
	start := 0
	if r.global || r.sticky {
		li, err := vm.GetMember(o, "lastIndex")
		if err != nil {
			return nil, err
		}
		n, err := vm.ToNumber(li)
		if err != nil {
			return nil, err
		}
		if n = toInteger(n); n > float64(len(utf16Units(s))) {
			o.DefineData("lastIndex", 0.0, false)
			return nil, nil
		} else if n > 0 {
			start = runeIndex(runes, int(n))
		}
	}
	m, err := r.re.FindRunesMatchStartingAt(runes, start)
	if err != nil {
		return nil, vm.throwError("Error", err, "regular expression: %v", err)
	}
	if m == nil || (r.sticky && m.Index != start) {
		if r.global || r.sticky {
			o.DefineData("lastIndex", 0.0, false)
		}
		return nil, nil
	}
	if r.global || r.sticky {
		o.DefineData("lastIndex", float64(unitIndex(runes, m.Index+m.Length)), false)
	}
	return vm.matchArray(m, runes, s), nil
}

func (vm *VM) matchArray(m *regexp2.Match, runes []rune, s string) *Object {
	groups := m.Groups()
	elems := make([]Value, len(groups))
	for i, g := range groups {
		if len(g.Captures) == 0 {
			elems[i] = Undefined
		} else {
			elems[i] = g.String()
		}
	}
	arr := vm.NewArray(elems)
	arr.DefineData("index", float64(unitIndex(runes, m.Index)), true)
	arr.DefineData("input", s, true)
	return arr
}

// match implements String.prototype.match.
func (vm *VM) match(r *regexpData, s string) (Value, error) {
	if !r.global {
		m, err := r.re.FindStringMatch(s)
		if err != nil {
			return nil, vm.throwError("Error", err, "regular expression: %v", err)
		}
		if m == nil {
			return Null, nil
		}
		return vm.matchArray(m, []rune(s), s), nil
	}
	var out []Value
	m, err := r.re.FindStringMatch(s)
	for ; m != nil && err == nil; m, err = r.re.FindNextMatch(m) {
		out = append(out, m.String())
	}
	if err != nil {
		return nil, vm.throwError("Error", err, "regular expression: %v", err)
	}
	if len(out) == 0 {
		return Null, nil
	}
	return vm.NewArray(out), nil
}

func (vm *VM) splitRegExp(r *regexpData, s string) (Value, error) {
	runes := []rune(s)
	var out []Value
	last := 0
	m, err := r.re.FindRunesMatchStartingAt(runes, 0)
	for ; m != nil && err == nil; m, err = r.re.FindNextMatch(m) {
		if m.Length == 0 && (m.Index == 0 || m.Index >= len(runes)) {
			continue
		}
		out = append(out, string(runes[last:m.Index]))
		for _, g := range m.Groups()[1:] {
			if len(g.Captures) == 0 {
				out = append(out, Undefined)
			} else {
				out = append(out, g.String())
			}
		}
		last = m.Index + m.Length
	}
	if err != nil {
		return nil, vm.throwError("Error", err, "regular expression: %v", err)
	}
	out = append(out, string(runes[last:]))
	return vm.NewArray(out), nil
}

func (vm *VM) replaceRegExp(r *regexpData, s string, replacement Value, all bool) (Value, error) {
	if all && !r.global {
		return nil, vm.typeError("replaceAll must be called with a global RegExp")
	}
	runes := []rune(s)
	var b strings.Builder
	last := 0
	m, err := r.re.FindRunesMatchStartingAt(runes, 0)
	for ; m != nil && err == nil; m, err = r.re.FindNextMatch(m) {
		b.WriteString(string(runes[last:m.Index]))
		var groups []Value
		for _, g := range m.Groups()[1:] {
			if len(g.Captures) == 0 {
				groups = append(groups, Undefined)
			} else {
				groups = append(groups, g.String())
			}
		}
		rep, rerr := vm.replacementText(replacement, m.String(), groups, float64(unitIndex(runes, m.Index)), s)
		if rerr != nil {
			return nil, rerr
		}
		b.WriteString(rep)
		last = m.Index + m.Length
		if !r.global {
			break
		}
	}
	if err != nil {
		return nil, vm.throwError("Error", err, "regular expression: %v", err)
	}
	b.WriteString(string(runes[last:]))
	return b.String(), nil
}

func (vm *VM) installRegExp() {
	vm.RegExpPrototype = vm.NewObject()
	p := vm.RegExpPrototype
	this := func(v Value) (*Object, error) {
		if o, ok := v.(*Object); ok && regexpOf(o) != nil {
			return o, nil
		}
		return nil, vm.typeError("receiver %s is not a RegExp", ToDisplay(v))
	}
	vm.method(p, "exec", 1, func(vm *VM, t Value, args []Value) (Value, error) {
		o, err := this(t)
		if err != nil {
			return nil, err
		}
		s, err := vm.ToString(arg(args, 0))
		if err != nil {
			return nil, err
		}
		m, err := vm.exec(o, s)
		if err != nil || m == nil {
			return Null, err
		}
		return m, nil
	})
	vm.method(p, "test", 1, func(vm *VM, t Value, args []Value) (Value, error) {
		o, err := this(t)
		if err != nil {
			return nil, err
		}
		s, err := vm.ToString(arg(args, 0))
		if err != nil {
			return nil, err
		}
		m, err := vm.exec(o, s)
		return m != nil, err
	})
	vm.method(p, "toString", 0, func(vm *VM, t Value, args []Value) (Value, error) {
		o, err := this(t)
		if err != nil {
			return nil, err
		}
		r := regexpOf(o)
		return "/" + r.source + "/" + r.flags, nil
	})
	getter := func(name string, fn func(r *regexpData) Value) {
		get := vm.NewNative(name, 0, func(vm *VM, t Value, args []Value) (Value, error) {
			o, err := this(t)
			if err != nil {
				return nil, err
			}
			return fn(regexpOf(o)), nil
		})
		p.defineAccessor(name, get, nil)
		p.props[name].enumerable = false
	}
	getter("source", func(r *regexpData) Value { return r.source })
	getter("flags", func(r *regexpData) Value { return r.flags })
	getter("global", func(r *regexpData) Value { return r.global })

	vm.constructor("RegExp", 2, p, func(vm *VM, t Value, args []Value) (Value, error) {
		if r := regexpOf(arg(args, 0)); r != nil && IsUndefined(arg(args, 1)) {
			return objectResult(vm.NewRegExp(r.source, r.flags))
		}
		pattern := ""
		if !IsUndefined(arg(args, 0)) {
			var err error
			if pattern, err = vm.ToString(arg(args, 0)); err != nil {
				return nil, err
			}
		}
		flags := ""
		if !IsUndefined(arg(args, 1)) {
			var err error
			if flags, err = vm.ToString(arg(args, 1)); err != nil {
				return nil, err
			}
		}
		return objectResult(vm.NewRegExp(pattern, flags))
	})
}
