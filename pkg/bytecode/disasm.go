package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the chunk.
func (c *Chunk) Disassemble() string {
	return c.DisassembleWithName("")
}

// DisassembleWithName returns a human-readable bytecode listing with a name header.
func (c *Chunk) DisassembleWithName(name string) string {
	var sb strings.Builder

	// Header
	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}
	sb.WriteString(fmt.Sprintf("; Kiln Bytecode v%d\n", c.Version))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", c.Flags))
	for _, f := range []struct {
		flag ChunkFlags
		name string
	}{
		{ChunkFlagDebug, "DEBUG"},
		{ChunkFlagGenerator, "GENERATOR"},
		{ChunkFlagAsync, "ASYNC"},
		{ChunkFlagArrow, "ARROW"},
		{ChunkFlagDefaults, "DEFAULTS"},
		{ChunkFlagRest, "REST"},
	} {
		if c.Flags&f.flag != 0 {
			sb.WriteString(" [" + f.name + "]")
		}
	}
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("; Params: %d  Locals: %d  MaxStack: %d\n", c.ParamCount, c.LocalCount, c.MaxStack))
	sb.WriteString("\n")

	// Constants
	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range c.Constants {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, displayConst(k)))
		}
		sb.WriteString("\n")
	}

	// Resume table
	if len(c.Resume) > 0 {
		sb.WriteString("; Resume:\n")
		for i, r := range c.Resume {
			kind := "yield"
			if r.Await {
				kind = "await"
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s -> %04X", i+1, kind, r.Offset))
			if len(r.Pending) > 0 {
				sb.WriteString(fmt.Sprintf(" pending=%v", r.Pending))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)

		// Add source location if available
		if c.Flags&ChunkFlagDebug != 0 {
			if srcLine, srcCol := c.GetSourceLocation(uint32(offset)); srcLine > 0 {
				sb.WriteString(fmt.Sprintf("%04X  %-30s ; line %d:%d\n", offset, line, srcLine, srcCol))
			} else {
				sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
			}
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		}

		offset += instrLen
	}

	return sb.String()
}

func displayConst(k Constant) string {
	if k.Kind != ConstString {
		return k.String()
	}
	// Truncate long strings for readability
	display := k.Str
	if len(display) > 40 {
		display = display[:37] + "..."
	}
	return fmt.Sprintf("%q", display)
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	if offset >= len(c.Code) {
		return "<end of code>", 0
	}

	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	n := op.InstructionLen()
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConst:
		idx := c.ReadU16(offset + 1)
		if int(idx) < len(c.Constants) {
			return fmt.Sprintf("CONST %d ; %s", idx, displayConst(c.Constants[idx])), n
		}
		return fmt.Sprintf("CONST %d", idx), n

	case OpLoadLocal, OpStoreLocal:
		slot := c.ReadU16(offset + 1)
		if varName := c.getVarName(int(slot)); varName != "" {
			return fmt.Sprintf("%s %d ; %s", info.Name, slot, varName), n
		}
		return fmt.Sprintf("%s %d", info.Name, slot), n

	case OpLoadField, OpStoreField, OpLoadFieldChecked, OpStoreFieldChecked:
		hops := c.Code[offset+1]
		field := c.ReadU16(offset + 2)
		return fmt.Sprintf("%s hops=%d field=%d", info.Name, hops, field), n

	case OpLoadGlobal, OpStoreGlobal, OpInitProp, OpGetMember, OpSetMember:
		idx := c.ReadU16(offset + 1)
		return fmt.Sprintf("%s %d ; %s", info.Name, idx, c.NameAt(idx)), n

	case OpJump, OpJumpTrue, OpJumpFalse, OpEnterTry:
		return fmt.Sprintf("%s -> %04X", info.Name, c.JumpTarget(offset)), n

	case OpCall, OpNew:
		return fmt.Sprintf("%s argc=%d", info.Name, c.Code[offset+1]), n

	case OpCallRuntime:
		idx := c.ReadU16(offset + 1)
		return fmt.Sprintf("CALL_RUNTIME %d (%s) argc=%d", idx, c.NameAt(idx), c.Code[offset+3]), n

	case OpClosure:
		return fmt.Sprintf("CLOSURE #%d", c.ReadU16(offset+1)), n

	case OpNewArray, OpLoadRest, OpPushScope, OpSuspend:
		return fmt.Sprintf("%s %d", info.Name, c.ReadU16(offset+1)), n

	// Default: use info from table
	default:
		if info.OperandLen == 0 {
			return info.Name, n
		}

		// Format operands generically
		operands := make([]string, 0, info.OperandLen)
		for i := 0; i < info.OperandLen; i++ {
			operands = append(operands, fmt.Sprintf("0x%02X", c.Code[offset+1+i]))
		}
		return fmt.Sprintf("%s %s", info.Name, strings.Join(operands, " ")), n
	}
}

// DisassembleInstruction returns a human-readable representation of a single instruction.
func (c *Chunk) DisassembleInstruction(offset int) string {
	line, _ := c.disassembleInstruction(offset)
	return line
}

// getVarName returns the variable name for a local slot if available.
func (c *Chunk) getVarName(slot int) string {
	if slot < len(c.VarNames) {
		return c.VarNames[slot]
	}
	return ""
}

// DisassembleToLines returns the disassembly as a slice of lines.
func (c *Chunk) DisassembleToLines() []string {
	var lines []string
	offset := 0
	for offset < len(c.Code) {
		line, instrLen := c.disassembleInstruction(offset)
		lines = append(lines, fmt.Sprintf("%04X  %s", offset, line))
		offset += instrLen
	}
	return lines
}

// InstructionCount returns the number of instructions in the chunk.
// Note: This iterates through all code, so it's O(n).
func (c *Chunk) InstructionCount() int {
	count := 0
	offset := 0
	for offset < len(c.Code) {
		op := Opcode(c.Code[offset])
		offset += op.InstructionLen()
		count++
	}
	return count
}
