package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BytecodeVersion is the current bytecode format version.
// Increment when making incompatible changes to the format.
const BytecodeVersion uint16 = 1

// Magic bytes for module files: "KBC1" (Kiln ByteCode)
var BytecodeMagic = []byte{'K', 'B', 'C', '1'}

// ChunkFlags contains compilation flags for a chunk.
type ChunkFlags uint16

const (
	// ChunkFlagDebug indicates debug information is present.
	ChunkFlagDebug ChunkFlags = 1 << 0

	// ChunkFlagGenerator marks a generator function body.
	ChunkFlagGenerator ChunkFlags = 1 << 1

	// ChunkFlagAsync marks an async function body.
	ChunkFlagAsync ChunkFlags = 1 << 2

	// ChunkFlagArrow marks an arrow function: this is lexical.
	ChunkFlagArrow ChunkFlags = 1 << 3

	// ChunkFlagDefaults indicates parameter default initializers.
	ChunkFlagDefaults ChunkFlags = 1 << 4

	// ChunkFlagRest indicates a rest parameter.
	ChunkFlagRest ChunkFlags = 1 << 5
)

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstNumber ConstKind = iota
	ConstString
)

// Constant is a constant pool entry.
type Constant struct {
	Kind ConstKind `cbor:"1,keyasint"`
	Num  float64   `cbor:"2,keyasint"`
	Str  string    `cbor:"3,keyasint,omitempty"`
}

// NumberConst returns a numeric constant.
func NumberConst(v float64) Constant { return Constant{Kind: ConstNumber, Num: v} }

// StringConst returns a string constant.
func StringConst(s string) Constant { return Constant{Kind: ConstString, Str: s} }

func (k Constant) same(o Constant) bool {
	if k.Kind != o.Kind {
		return false
	}
	if k.Kind == ConstNumber {
		// Bit equality keeps NaN, -0 and 0 apart.
		return math.Float64bits(k.Num) == math.Float64bits(o.Num)
	}
	return k.Str == o.Str
}

func (k Constant) String() string {
	if k.Kind == ConstString {
		return fmt.Sprintf("%q", k.Str)
	}
	return fmt.Sprint(k.Num)
}

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	BytecodeOffset uint32 `cbor:"1,keyasint"` // Offset in code section
	Line           uint32 `cbor:"2,keyasint"` // Source line number (1-based)
	Column         uint16 `cbor:"3,keyasint"` // Source column number (1-based)
}

// ResumeEntry is one row of a chunk's resume table. Resume point k (1-based)
// is Resume[k-1].
type ResumeEntry struct {
	Offset  uint32 `cbor:"1,keyasint"`           // code offset execution resumes at
	Await   bool   `cbor:"2,keyasint,omitempty"` // await rather than yield
	Pending []int  `cbor:"3,keyasint,omitempty"` // finally regions pending, innermost first
}

// Chunk represents compiled bytecode for one function.
// It is the fundamental unit of bytecode that can be serialized and executed.
type Chunk struct {
	// Header
	Version uint16     `cbor:"1,keyasint"`
	Flags   ChunkFlags `cbor:"2,keyasint"`
	Name    string     `cbor:"3,keyasint,omitempty"`

	// Code section
	Code []byte `cbor:"4,keyasint"`

	// Constant pool - numbers and strings referenced by operands
	Constants []Constant `cbor:"5,keyasint,omitempty"`

	// Parameters occupy the first ParamCount local slots
	ParamCount int `cbor:"6,keyasint"`

	// Frame shape
	LocalCount int `cbor:"7,keyasint"`
	MaxStack   int `cbor:"8,keyasint"`

	// Resume table for generator and async bodies
	Resume []ResumeEntry `cbor:"9,keyasint,omitempty"`

	// Debug information (optional, present if ChunkFlagDebug is set)
	SourceMap []SourceLocation `cbor:"10,keyasint,omitempty"` // Bytecode offset -> source location
	VarNames  []string         `cbor:"11,keyasint,omitempty"` // Slot names for debugging
}

// NewChunk creates a new empty chunk with the current version.
func NewChunk() *Chunk {
	return &Chunk{
		Version:   BytecodeVersion,
		Code:      make([]byte, 0, 64),
		Constants: make([]Constant, 0, 8),
	}
}

// Is reports whether every flag in f is set.
func (c *Chunk) Is(f ChunkFlags) bool { return c.Flags&f == f }

// AddConstant adds a constant to the pool and returns its index.
// If the constant already exists, returns the existing index.
func (c *Chunk) AddConstant(value Constant) uint16 {
	for i, k := range c.Constants {
		if k.same(value) {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, value)
	return idx
}

// GetConstant returns the constant at the given index.
// Panics if the index is out of bounds.
func (c *Chunk) GetConstant(index uint16) Constant {
	return c.Constants[index]
}

// NameAt returns the string constant at index, or "" for a number.
func (c *Chunk) NameAt(index uint16) string {
	if int(index) >= len(c.Constants) {
		return ""
	}
	return c.Constants[index].Str
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitU16 appends an opcode with a single u16 operand.
func (c *Chunk) EmitU16(op Opcode, v uint16) int {
	return c.EmitWithOperand(op, byte(v>>8), byte(v))
}

// EmitConstant emits an OpConst instruction for the given value.
// Adds the constant to the pool if not already present.
func (c *Chunk) EmitConstant(value Constant) int {
	return c.EmitU16(OpConst, c.AddConstant(value))
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF, 0xFF, 0xFF) // Placeholder
	return offset + 1                                          // Return offset of the placeholder bytes
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) {
	c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump to go to a specific offset. Offsets are
// relative to the end of the jump instruction.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) {
	jumpFrom := placeholderOffset + 4
	delta := int32(target - jumpFrom)
	binary.BigEndian.PutUint32(c.Code[placeholderOffset:], uint32(delta))
}

// JumpTarget decodes the absolute target of the jump instruction at offset.
func (c *Chunk) JumpTarget(offset int) int {
	delta := int32(binary.BigEndian.Uint32(c.Code[offset+1:]))
	return offset + 5 + int(delta)
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// CodeLen returns the length of the code section.
func (c *Chunk) CodeLen() int {
	return len(c.Code)
}

// ConstantCount returns the number of constants in the pool.
func (c *Chunk) ConstantCount() int {
	return len(c.Constants)
}

// AddSourceLocation adds a debug source location mapping. Consecutive
// offsets on the same line and column are merged.
func (c *Chunk) AddSourceLocation(bytecodeOffset uint32, line uint32, column uint16) {
	c.Flags |= ChunkFlagDebug
	if n := len(c.SourceMap); n > 0 {
		last := c.SourceMap[n-1]
		if last.Line == line && last.Column == column {
			return
		}
	}
	c.SourceMap = append(c.SourceMap, SourceLocation{
		BytecodeOffset: bytecodeOffset,
		Line:           line,
		Column:         column,
	})
}

// GetSourceLocation returns the source location for a bytecode offset.
// Returns line 0, column 0 if no mapping exists.
func (c *Chunk) GetSourceLocation(offset uint32) (line uint32, column uint16) {
	// Find the nearest mapping at or before the offset
	for i := len(c.SourceMap) - 1; i >= 0; i-- {
		if c.SourceMap[i].BytecodeOffset <= offset {
			return c.SourceMap[i].Line, c.SourceMap[i].Column
		}
	}
	return 0, 0
}

// ReadU16 reads a big-endian uint16 operand at offset.
func (c *Chunk) ReadU16(offset int) uint16 {
	return binary.BigEndian.Uint16(c.Code[offset:])
}
