package vm

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ToDisplay formats v the way console.log prints a top-level argument:
// strings are printed raw, everything else as by Inspect.
func ToDisplay(v Value) string {
	if s, ok := v.(string); ok {
		return s
	}
	return Inspect(v)
}

// Inspect formats v for humans in the style of Node's util.inspect, on a
// single line.
func Inspect(v Value) string {
	var b strings.Builder
	inspect(&b, v, 0, map[*Object]bool{})
	return b.String()
}

const inspectDepth = 2

func inspect(b *strings.Builder, v Value, depth int, seen map[*Object]bool) {
	switch x := v.(type) {
	case string:
		b.WriteString(quote(x))
	case float64:
		if x == 0 && math.Signbit(x) {
			b.WriteString("-0")
		} else {
			b.WriteString(NumberToString(x))
		}
	case *Object:
		inspectObject(b, x, depth, seen)
	case nil:
		b.WriteString("undefined")
	default:
		b.WriteString(primitiveString(v))
	}
}

func quote(s string) string {
	q := strconv.Quote(s)
	if !strings.Contains(s, "'") {
		q = "'" + strings.ReplaceAll(q[1:len(q)-1], `\"`, `"`) + "'"
	}
	return q
}

func inspectObject(b *strings.Builder, o *Object, depth int, seen map[*Object]bool) {
	if seen[o] {
		b.WriteString("[Circular]")
		return
	}
	switch {
	case o.fn != nil:
		name := o.fn.name
		if n, ok := o.lookupString("name"); ok {
			name = n
		}
		if name == "" {
			b.WriteString("[Function (anonymous)]")
		} else {
			b.WriteString("[Function: " + name + "]")
		}
		return
	case o.class == ClassError:
		name, _ := o.lookupString("name")
		msg, _ := o.lookupString("message")
		if msg == "" {
			b.WriteString(name)
		} else {
			b.WriteString(name + ": " + msg)
		}
		return
	case o.class == ClassRegExp:
		if r := regexpOf(o); r != nil {
			b.WriteString("/" + r.source + "/" + r.flags)
			return
		}
	case o.class == ClassNumber || o.class == ClassString || o.class == ClassBoolean:
		if o.internal != nil {
			kind := map[Class]string{ClassNumber: "Number", ClassString: "String", ClassBoolean: "Boolean"}[o.class]
			b.WriteString("[" + kind + ": ")
			inspect(b, o.internal, depth+1, seen)
			b.WriteString("]")
			return
		}
	}

	if depth > inspectDepth {
		if o.class == ClassArray {
			b.WriteString("[Array]")
		} else {
			b.WriteString("[Object]")
		}
		return
	}
	seen[o] = true
	defer delete(seen, o)

	var items []string
	item := func(v Value) string {
		var ib strings.Builder
		inspect(&ib, v, depth+1, seen)
		return ib.String()
	}
	prefix := ""
	switch o.class {
	case ClassArray:
		for _, e := range o.elems {
			items = append(items, item(e))
		}
	case ClassPromise:
		prefix = "Promise "
		state, val, _ := PromiseState(o)
		switch state {
		case "pending":
			items = append(items, "<pending>")
		case "rejected":
			items = append(items, "<rejected> "+item(val))
		default:
			items = append(items, item(val))
		}
	case ClassGenerator:
		prefix = "Object [Generator] "
	}
	for _, k := range o.keys {
		p := o.props[k]
		if p == nil || !p.enumerable {
			continue
		}
		var val string
		switch {
		case p.get != nil && p.set != nil:
			val = "[Getter/Setter]"
		case p.get != nil:
			val = "[Getter]"
		case p.set != nil:
			val = "[Setter]"
		default:
			val = item(p.value)
		}
		items = append(items, propertyName(k)+": "+val)
	}

	lb, rb := "{", "}"
	if o.class == ClassArray {
		lb, rb = "[", "]"
	}
	b.WriteString(prefix)
	if len(items) == 0 {
		b.WriteString(lb + rb)
		return
	}
	b.WriteString(lb + " " + strings.Join(items, ", ") + " " + rb)
}

// propertyName quotes keys that are not identifiers.
func propertyName(k string) string {
	if k == "" {
		return "''"
	}
	for i, r := range k {
		if !(r == '_' || r == '$' || unicode.IsLetter(r) || (i > 0 && unicode.IsDigit(r))) {
			return quote(k)
		}
	}
	return k
}
