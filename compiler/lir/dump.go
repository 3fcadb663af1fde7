package lir

import (
	"fmt"
	"strconv"
	"strings"
)

func (l Literal) String() string {
	switch l.Kind {
	case LitUndefined:
		return "undefined"
	case LitNull:
		return "null"
	case LitNumber:
		return strconv.FormatFloat(l.Num, 'g', -1, 64)
	case LitString:
		return strconv.Quote(l.Str)
	case LitBool:
		return strconv.FormatBool(l.Bool)
	case LitHole:
		return "<hole>"
	}
	return "?"
}

func (t Temp) String() string {
	if t == NoTemp {
		return "_"
	}
	return "t" + strconv.Itoa(int(t))
}

// Format renders one instruction of f.
func (f *Function) Format(in *Instr) string {
	var sb strings.Builder
	if in.Op == OpLabel {
		fmt.Fprintf(&sb, "L%d:", in.Target)
		return sb.String()
	}
	sb.WriteString("  ")
	if in.Dst != NoTemp {
		fmt.Fprintf(&sb, "%s:%s = ", in.Dst, f.Kind(in.Dst))
	}
	sb.WriteString(in.Op.String())
	switch in.Op {
	case OpBinary, OpUnary:
		sb.WriteString("." + in.Operator.String())
		if in.Unboxed {
			sb.WriteString(".num")
		}
	case OpGetMember, OpSetMember, OpGetIndex, OpSetIndex:
		if in.Access == AccessFast {
			sb.WriteString(".fast")
		}
	case OpLoadField, OpStoreField:
		if in.Checked {
			sb.WriteString(".checked")
		}
	}

	var ops []string
	switch in.Op {
	case OpConst:
		ops = append(ops, in.Lit.String())
	case OpLoadLocal, OpStoreLocal:
		name := ""
		if in.Local >= 0 && in.Local < len(f.Locals) {
			name = f.Locals[in.Local].Name
		}
		ops = append(ops, fmt.Sprintf("%%%d(%s)", in.Local, name))
	case OpLoadField, OpStoreField:
		ops = append(ops, fmt.Sprintf("^%d.%d", in.Hops, in.Field))
	case OpLoadGlobal, OpStoreGlobal, OpGetMember, OpSetMember, OpInitProp, OpCallRuntime:
		ops = append(ops, in.Name)
	case OpPushScope:
		ops = append(ops, fmt.Sprintf("layout%d", in.Field))
	case OpLoadRest:
		ops = append(ops, strconv.Itoa(in.Field))
	case OpClosure:
		ops = append(ops, fmt.Sprintf("fn%d", in.Func))
	case OpJump, OpJumpIfFalse, OpJumpIfTrue, OpEnterTry:
		ops = append(ops, fmt.Sprintf("L%d", in.Target))
	case OpEdge, OpPhi:
		ops = append(ops, fmt.Sprintf("J%d", in.Target))
	case OpYield, OpAwait:
		ops = append(ops, fmt.Sprintf("#%d", in.Field))
	case OpSuspend:
		ops = append(ops, fmt.Sprintf("#%d", in.Field), fmt.Sprintf("L%d", in.Target))
	}
	for _, a := range in.Args {
		ops = append(ops, a.String())
	}
	if len(ops) > 0 {
		sb.WriteByte(' ')
		sb.WriteString(strings.Join(ops, ", "))
	}
	return sb.String()
}

// Dump renders f as text, one instruction per line.
func (f *Function) Dump() string {
	var sb strings.Builder
	name := f.Name
	if name == "" {
		name = "<module>"
	}
	fmt.Fprintf(&sb, "func %s #%d params=%d", name, f.Index, f.Params)
	if f.Generator {
		sb.WriteString(" generator")
	}
	if f.Async {
		sb.WriteString(" async")
	}
	sb.WriteByte('\n')
	for i := range f.Instrs {
		sb.WriteString(f.Format(&f.Instrs[i]))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Dump renders every function of the unit.
func (u *Unit) Dump() string {
	var sb strings.Builder
	for i, l := range u.Layouts {
		fmt.Fprintf(&sb, "layout%d %v\n", i, l.Names)
	}
	for _, f := range u.Funcs {
		sb.WriteString(f.Dump())
	}
	return sb.String()
}

// Count returns how many instructions of f have op.
func (f *Function) Count(op Op) int {
	n := 0
	for i := range f.Instrs {
		if f.Instrs[i].Op == op {
			n++
		}
	}
	return n
}
