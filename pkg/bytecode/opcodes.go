package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop Opcode = 0x00 // No operation
	OpPop Opcode = 0x01 // Pop top of stack

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst     Opcode = 0x10 // Push constant from pool: OpConst <index:u16>
	OpUndefined Opcode = 0x11 // Push undefined
	OpNull      Opcode = 0x12 // Push null
	OpTrue      Opcode = 0x13 // Push true
	OpFalse     Opcode = 0x14 // Push false
	OpHole      Opcode = 0x15 // Push the uninitialized-binding marker

	// ========================================================================
	// Frame slots and scope objects (0x20-0x2F)
	// ========================================================================

	OpLoadLocal         Opcode = 0x20 // Push slot: OpLoadLocal <slot:u16>
	OpStoreLocal        Opcode = 0x21 // Pop into slot: OpStoreLocal <slot:u16>
	OpLoadField         Opcode = 0x22 // Push scope field: <hops:u8> <field:u16>
	OpStoreField        Opcode = 0x23 // Pop into scope field: <hops:u8> <field:u16>
	OpLoadFieldChecked  Opcode = 0x24 // As OpLoadField, throwing on a hole
	OpStoreFieldChecked Opcode = 0x25 // As OpStoreField, throwing on a hole
	OpLoadGlobal        Opcode = 0x26 // Push global: <name:u16>
	OpStoreGlobal       Opcode = 0x27 // Pop into global: <name:u16>
	OpLoadThis          Opcode = 0x28 // Push this
	OpLoadCallee        Opcode = 0x29 // Push the running closure
	OpLoadRest          Opcode = 0x2A // Push array of arguments from <index:u16> on
	OpPushScope         Opcode = 0x2B // Enter a new scope object: <layout:u16>
	OpPopScope          Opcode = 0x2C // Leave the current scope object
	OpCloneScope        Opcode = 0x2D // Replace the current scope object by a copy

	// ========================================================================
	// Objects (0x30-0x3F)
	// ========================================================================

	OpNewObject    Opcode = 0x30 // Push {}
	OpNewArray     Opcode = 0x31 // Pop count values, push array: <count:u16>
	OpInitProp     Opcode = 0x32 // obj value -> ; define own property <name:u16>
	OpGetMember    Opcode = 0x33 // obj -> obj[name]: <name:u16>
	OpGetLength    Opcode = 0x34 // array or string -> length
	OpSetMember    Opcode = 0x35 // obj value -> ; obj[name] = value: <name:u16>
	OpGetIndex     Opcode = 0x36 // obj key -> obj[key]
	OpGetIndexFast Opcode = 0x37 // array index -> element
	OpSetIndex     Opcode = 0x38 // obj key value -> ; obj[key] = value
	OpClosure      Opcode = 0x39 // Push closure over the current scope: <func:u16>

	// ========================================================================
	// Binary operators (0x40-0x53), generic over any values
	// ========================================================================

	OpAdd      Opcode = 0x40
	OpSub      Opcode = 0x41
	OpMul      Opcode = 0x42
	OpDiv      Opcode = 0x43
	OpMod      Opcode = 0x44
	OpPow      Opcode = 0x45
	OpBitAnd   Opcode = 0x46
	OpBitOr    Opcode = 0x47
	OpBitXor   Opcode = 0x48
	OpShl      Opcode = 0x49
	OpShr      Opcode = 0x4A
	OpUShr     Opcode = 0x4B
	OpLt       Opcode = 0x4C
	OpLe       Opcode = 0x4D
	OpGt       Opcode = 0x4E
	OpGe       Opcode = 0x4F
	OpEq       Opcode = 0x50
	OpNe       Opcode = 0x51
	OpStrictEq Opcode = 0x52
	OpStrictNe Opcode = 0x53

	// ========================================================================
	// Numeric binary operators (0x60-0x73), operands are unboxed numbers
	// ========================================================================

	OpAddNum      Opcode = 0x60
	OpSubNum      Opcode = 0x61
	OpMulNum      Opcode = 0x62
	OpDivNum      Opcode = 0x63
	OpModNum      Opcode = 0x64
	OpPowNum      Opcode = 0x65
	OpBitAndNum   Opcode = 0x66
	OpBitOrNum    Opcode = 0x67
	OpBitXorNum   Opcode = 0x68
	OpShlNum      Opcode = 0x69
	OpShrNum      Opcode = 0x6A
	OpUShrNum     Opcode = 0x6B
	OpLtNum       Opcode = 0x6C
	OpLeNum       Opcode = 0x6D
	OpGtNum       Opcode = 0x6E
	OpGeNum       Opcode = 0x6F
	OpEqNum       Opcode = 0x70
	OpNeNum       Opcode = 0x71
	OpStrictEqNum Opcode = 0x72
	OpStrictNeNum Opcode = 0x73

	// ========================================================================
	// Unary operators and coercions (0x78-0x7F)
	// ========================================================================

	OpNeg       Opcode = 0x78 // -x on any value
	OpBitNot    Opcode = 0x79 // ~x on any value
	OpNot       Opcode = 0x7A // !x on any value
	OpNegNum    Opcode = 0x7B // -x on a number
	OpBitNotNum Opcode = 0x7C // ~x on a number
	OpNotBool   Opcode = 0x7D // !x on a boolean
	OpToNumber  Opcode = 0x7E
	OpToBoolean Opcode = 0x7F

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i32>
	OpJumpTrue  Opcode = 0x81 // Pop, jump if true: OpJumpTrue <offset:i32>
	OpJumpFalse Opcode = 0x82 // Pop, jump if false: OpJumpFalse <offset:i32>
	OpEnterTry  Opcode = 0x83 // Push handler: OpEnterTry <offset:i32>
	OpExitTry   Opcode = 0x84 // Pop handler
	OpCatch     Opcode = 0x85 // Push the exception being handled
	OpThrow     Opcode = 0x86 // Pop and throw

	// ========================================================================
	// Calls (0x90-0x9F)
	// ========================================================================

	OpCall        Opcode = 0x90 // callee this args... -> result: OpCall <argc:u8>
	OpNew         Opcode = 0x91 // callee args... -> object: OpNew <argc:u8>
	OpCallRuntime Opcode = 0x92 // args... -> result: <name:u16> <argc:u8>

	// ========================================================================
	// Suspension (0xA0-0xAF)
	// ========================================================================

	OpSuspend      Opcode = 0xA0 // Pop value and suspend at resume point: <point:u16>
	OpResumeSwitch Opcode = 0xA1 // Jump to the resume offset of the saved state
	OpResumeMode   Opcode = 0xA2 // Push the resume mode
	OpResumeValue  Opcode = 0xA3 // Push the resume value

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn Opcode = 0xF0 // Return top of stack
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop: {"NOP", 0, 0, 0},
	OpPop: {"POP", 1, 0, 0},

	// Constants
	OpConst:     {"CONST", 0, 1, 2},
	OpUndefined: {"UNDEFINED", 0, 1, 0},
	OpNull:      {"NULL", 0, 1, 0},
	OpTrue:      {"TRUE", 0, 1, 0},
	OpFalse:     {"FALSE", 0, 1, 0},
	OpHole:      {"HOLE", 0, 1, 0},

	// Frame slots and scopes
	OpLoadLocal:         {"LOAD_LOCAL", 0, 1, 2},
	OpStoreLocal:        {"STORE_LOCAL", 1, 0, 2},
	OpLoadField:         {"LOAD_FIELD", 0, 1, 3},
	OpStoreField:        {"STORE_FIELD", 1, 0, 3},
	OpLoadFieldChecked:  {"LOAD_FIELD_CHECKED", 0, 1, 3},
	OpStoreFieldChecked: {"STORE_FIELD_CHECKED", 1, 0, 3},
	OpLoadGlobal:        {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal:       {"STORE_GLOBAL", 1, 0, 2},
	OpLoadThis:          {"LOAD_THIS", 0, 1, 0},
	OpLoadCallee:        {"LOAD_CALLEE", 0, 1, 0},
	OpLoadRest:          {"LOAD_REST", 0, 1, 2},
	OpPushScope:         {"PUSH_SCOPE", 0, 0, 2},
	OpPopScope:          {"POP_SCOPE", 0, 0, 0},
	OpCloneScope:        {"CLONE_SCOPE", 0, 0, 0},

	// Objects
	OpNewObject:    {"NEW_OBJECT", 0, 1, 0},
	OpNewArray:     {"NEW_ARRAY", -1, 1, 2}, // Pops count values
	OpInitProp:     {"INIT_PROP", 2, 0, 2},
	OpGetMember:    {"GET_MEMBER", 1, 1, 2},
	OpGetLength:    {"GET_LENGTH", 1, 1, 0},
	OpSetMember:    {"SET_MEMBER", 2, 0, 2},
	OpGetIndex:     {"GET_INDEX", 2, 1, 0},
	OpGetIndexFast: {"GET_INDEX_FAST", 2, 1, 0},
	OpSetIndex:     {"SET_INDEX", 3, 0, 0},
	OpClosure:      {"CLOSURE", 0, 1, 2},

	// Generic binary
	OpAdd:      {"ADD", 2, 1, 0},
	OpSub:      {"SUB", 2, 1, 0},
	OpMul:      {"MUL", 2, 1, 0},
	OpDiv:      {"DIV", 2, 1, 0},
	OpMod:      {"MOD", 2, 1, 0},
	OpPow:      {"POW", 2, 1, 0},
	OpBitAnd:   {"BIT_AND", 2, 1, 0},
	OpBitOr:    {"BIT_OR", 2, 1, 0},
	OpBitXor:   {"BIT_XOR", 2, 1, 0},
	OpShl:      {"SHL", 2, 1, 0},
	OpShr:      {"SHR", 2, 1, 0},
	OpUShr:     {"USHR", 2, 1, 0},
	OpLt:       {"LT", 2, 1, 0},
	OpLe:       {"LE", 2, 1, 0},
	OpGt:       {"GT", 2, 1, 0},
	OpGe:       {"GE", 2, 1, 0},
	OpEq:       {"EQ", 2, 1, 0},
	OpNe:       {"NE", 2, 1, 0},
	OpStrictEq: {"STRICT_EQ", 2, 1, 0},
	OpStrictNe: {"STRICT_NE", 2, 1, 0},

	// Numeric binary
	OpAddNum:      {"ADD_NUM", 2, 1, 0},
	OpSubNum:      {"SUB_NUM", 2, 1, 0},
	OpMulNum:      {"MUL_NUM", 2, 1, 0},
	OpDivNum:      {"DIV_NUM", 2, 1, 0},
	OpModNum:      {"MOD_NUM", 2, 1, 0},
	OpPowNum:      {"POW_NUM", 2, 1, 0},
	OpBitAndNum:   {"BIT_AND_NUM", 2, 1, 0},
	OpBitOrNum:    {"BIT_OR_NUM", 2, 1, 0},
	OpBitXorNum:   {"BIT_XOR_NUM", 2, 1, 0},
	OpShlNum:      {"SHL_NUM", 2, 1, 0},
	OpShrNum:      {"SHR_NUM", 2, 1, 0},
	OpUShrNum:     {"USHR_NUM", 2, 1, 0},
	OpLtNum:       {"LT_NUM", 2, 1, 0},
	OpLeNum:       {"LE_NUM", 2, 1, 0},
	OpGtNum:       {"GT_NUM", 2, 1, 0},
	OpGeNum:       {"GE_NUM", 2, 1, 0},
	OpEqNum:       {"EQ_NUM", 2, 1, 0},
	OpNeNum:       {"NE_NUM", 2, 1, 0},
	OpStrictEqNum: {"STRICT_EQ_NUM", 2, 1, 0},
	OpStrictNeNum: {"STRICT_NE_NUM", 2, 1, 0},

	// Unary and coercions
	OpNeg:       {"NEG", 1, 1, 0},
	OpBitNot:    {"BIT_NOT", 1, 1, 0},
	OpNot:       {"NOT", 1, 1, 0},
	OpNegNum:    {"NEG_NUM", 1, 1, 0},
	OpBitNotNum: {"BIT_NOT_NUM", 1, 1, 0},
	OpNotBool:   {"NOT_BOOL", 1, 1, 0},
	OpToNumber:  {"TO_NUMBER", 1, 1, 0},
	OpToBoolean: {"TO_BOOLEAN", 1, 1, 0},

	// Control flow
	OpJump:      {"JUMP", 0, 0, 4},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 4},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 4},
	OpEnterTry:  {"ENTER_TRY", 0, 0, 4},
	OpExitTry:   {"EXIT_TRY", 0, 0, 0},
	OpCatch:     {"CATCH", 0, 1, 0},
	OpThrow:     {"THROW", 1, 0, 0},

	// Calls
	OpCall:        {"CALL", -1, 1, 1},         // Pops callee + this + argc args
	OpNew:         {"NEW", -1, 1, 1},          // Pops callee + argc args
	OpCallRuntime: {"CALL_RUNTIME", -1, 1, 3}, // name:u16 + argc:u8

	// Suspension
	OpSuspend:      {"SUSPEND", 1, 0, 2},
	OpResumeSwitch: {"RESUME_SWITCH", 0, 0, 0},
	OpResumeMode:   {"RESUME_MODE", 0, 1, 0},
	OpResumeValue:  {"RESUME_VALUE", 0, 1, 0},

	// Return
	OpReturn: {"RETURN", 1, 0, 0},
}

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op)), StackPop: 0, StackPush: 0, OperandLen: 0}
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// StackEffect returns how many values an instruction pops and pushes.
// Variable-arity opcodes take their count from operand.
func (op Opcode) StackEffect(operand int) (pop, push int) {
	info := GetOpcodeInfo(op)
	switch op {
	case OpNewArray, OpCallRuntime:
		return operand, info.StackPush
	case OpCall:
		return operand + 2, info.StackPush
	case OpNew:
		return operand + 1, info.StackPush
	}
	return info.StackPop, info.StackPush
}

// IsJump returns true if this opcode carries a jump offset.
func (op Opcode) IsJump() bool {
	return op >= OpJump && op <= OpEnterTry
}

// IsNumeric returns true if this opcode requires unboxed number operands.
func (op Opcode) IsNumeric() bool {
	return (op >= OpAddNum && op <= OpStrictNeNum) || op == OpNegNum || op == OpBitNotNum
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
