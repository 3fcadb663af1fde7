package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	// Ensure every defined opcode has metadata
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", op)
		}
	}
}

func TestOpcodeNamesAreUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, ok := seen[name]; ok {
			t.Errorf("%s used by 0x%02X and 0x%02X", name, prev, op)
		}
		seen[name] = op
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpPop, "POP"},
		{OpConst, "CONST"},
		{OpAdd, "ADD"},
		{OpAddNum, "ADD_NUM"},
		{OpStrictEqNum, "STRICT_EQ_NUM"},
		{OpJump, "JUMP"},
		{OpCallRuntime, "CALL_RUNTIME"},
		{OpSuspend, "SUSPEND"},
		{OpReturn, "RETURN"},
	}

	for _, tt := range tests {
		got := tt.op.String()
		if got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcodeString(t *testing.T) {
	op := Opcode(0xEE) // Not defined
	got := op.String()
	if !strings.HasPrefix(got, "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", got)
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpNop, 0},
		{OpConst, 2},       // u16 index
		{OpLoadLocal, 2},   // u16 slot
		{OpLoadField, 3},   // u8 hops + u16 field
		{OpJump, 4},        // i32 offset
		{OpEnterTry, 4},    // i32 handler offset
		{OpCall, 1},        // u8 argc
		{OpCallRuntime, 3}, // u16 name + u8 argc
		{OpSuspend, 2},     // u16 resume point
	}

	for _, tt := range tests {
		got := tt.op.OperandLen()
		if got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if tt.op.InstructionLen() != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, tt.op.InstructionLen(), tt.want+1)
		}
	}
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		op        Opcode
		operand   int
		pop, push int
	}{
		{OpAdd, 0, 2, 1},
		{OpSetIndex, 0, 3, 0},
		{OpNewArray, 4, 4, 1},
		{OpCall, 2, 4, 1},
		{OpNew, 2, 3, 1},
		{OpCallRuntime, 1, 1, 1},
		{OpSuspend, 0, 1, 0},
		{OpCatch, 0, 0, 1},
	}
	for _, tt := range tests {
		pop, push := tt.op.StackEffect(tt.operand)
		if pop != tt.pop || push != tt.push {
			t.Errorf("%s(%d) effect = %d/%d, want %d/%d", tt.op, tt.operand, pop, push, tt.pop, tt.push)
		}
	}
}

func TestVariableArityOnlyWhereExpected(t *testing.T) {
	variable := map[Opcode]bool{OpNewArray: true, OpCall: true, OpNew: true, OpCallRuntime: true}
	for _, op := range AllOpcodes() {
		if (GetOpcodeInfo(op).StackPop < 0) != variable[op] {
			t.Errorf("%s: variable arity = %v", op, GetOpcodeInfo(op).StackPop < 0)
		}
	}
}

func TestNumericRangeMirrorsGeneric(t *testing.T) {
	for op := OpAdd; op <= OpStrictNe; op++ {
		num := op + (OpAddNum - OpAdd)
		if num.String() != op.String()+"_NUM" {
			t.Errorf("%s pairs with %s", op, num)
		}
		if !num.IsNumeric() || op.IsNumeric() {
			t.Errorf("IsNumeric wrong for %s/%s", op, num)
		}
	}
}

func TestIsJump(t *testing.T) {
	for _, op := range []Opcode{OpJump, OpJumpTrue, OpJumpFalse, OpEnterTry} {
		if !op.IsJump() {
			t.Errorf("%s should be a jump", op)
		}
	}
	for _, op := range []Opcode{OpExitTry, OpReturn, OpCall} {
		if op.IsJump() {
			t.Errorf("%s should not be a jump", op)
		}
	}
}
