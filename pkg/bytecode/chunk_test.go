package bytecode

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestNewChunk(t *testing.T) {
	c := NewChunk()

	if c.Version != BytecodeVersion {
		t.Errorf("Version = %d, want %d", c.Version, BytecodeVersion)
	}
	if c.Code == nil {
		t.Error("Code is nil")
	}
	if c.Constants == nil {
		t.Error("Constants is nil")
	}
}

func TestChunkAddConstant(t *testing.T) {
	c := NewChunk()

	idx0 := c.AddConstant(StringConst("hello"))
	idx1 := c.AddConstant(NumberConst(1))
	idx2 := c.AddConstant(StringConst("hello"))
	idx3 := c.AddConstant(StringConst("1"))

	if idx0 != 0 || idx1 != 1 {
		t.Errorf("indexes = %d, %d, want 0, 1", idx0, idx1)
	}
	if idx2 != 0 {
		t.Errorf("Duplicate constant index = %d, want 0", idx2)
	}
	if idx3 != 2 {
		t.Errorf("string \"1\" and number 1 must not share an entry, got %d", idx3)
	}
	if c.ConstantCount() != 3 {
		t.Errorf("ConstantCount() = %d, want 3", c.ConstantCount())
	}
	if got := c.GetConstant(1); got.Kind != ConstNumber || got.Num != 1 {
		t.Errorf("GetConstant(1) = %+v", got)
	}
	if c.NameAt(0) != "hello" {
		t.Errorf("NameAt(0) = %q", c.NameAt(0))
	}
}

func TestChunkNumericConstantsByBits(t *testing.T) {
	c := NewChunk()
	zero := c.AddConstant(NumberConst(0))
	negZero := c.AddConstant(NumberConst(math.Copysign(0, -1)))
	nan1 := c.AddConstant(NumberConst(math.NaN()))
	nan2 := c.AddConstant(NumberConst(math.NaN()))

	if zero == negZero {
		t.Error("0 and -0 must stay distinct")
	}
	if nan1 != nan2 {
		t.Error("NaN constants should be shared")
	}
}

func TestChunkEmit(t *testing.T) {
	c := NewChunk()

	if off := c.Emit(OpNop); off != 0 {
		t.Errorf("Emit offset = %d, want 0", off)
	}
	if off := c.EmitU16(OpLoadLocal, 0x0102); off != 1 {
		t.Errorf("EmitU16 offset = %d, want 1", off)
	}
	c.EmitConstant(StringConst("x"))

	want := []byte{byte(OpNop), byte(OpLoadLocal), 0x01, 0x02, byte(OpConst), 0x00, 0x00}
	if diff := cmp.Diff(want, c.Code); diff != "" {
		t.Errorf("code mismatch (-want +got):\n%s", diff)
	}
	if c.ReadU16(2) != 0x0102 {
		t.Errorf("ReadU16 = %#x", c.ReadU16(2))
	}
}

func TestChunkJumpPatching(t *testing.T) {
	c := NewChunk()

	// Forward jump
	fwd := c.EmitJump(OpJumpFalse)
	c.Emit(OpNop)
	c.Emit(OpNop)
	c.PatchJump(fwd)
	if got := c.JumpTarget(fwd - 1); got != 7 {
		t.Errorf("forward target = %d, want 7", got)
	}

	// Backward jump
	back := c.EmitJump(OpJump)
	c.PatchJumpTo(back, 0)
	if got := c.JumpTarget(back - 1); got != 0 {
		t.Errorf("backward target = %d, want 0", got)
	}
}

func TestChunkSourceLocations(t *testing.T) {
	c := NewChunk()
	c.AddSourceLocation(0, 1, 1)
	c.AddSourceLocation(3, 1, 1) // merged
	c.AddSourceLocation(5, 2, 4)

	if c.Flags&ChunkFlagDebug == 0 {
		t.Error("debug flag not set")
	}
	if len(c.SourceMap) != 2 {
		t.Errorf("SourceMap length = %d, want 2", len(c.SourceMap))
	}
	tests := []struct {
		offset uint32
		line   uint32
		col    uint16
	}{
		{0, 1, 1},
		{4, 1, 1},
		{5, 2, 4},
		{99, 2, 4},
	}
	for _, tt := range tests {
		line, col := c.GetSourceLocation(tt.offset)
		if line != tt.line || col != tt.col {
			t.Errorf("GetSourceLocation(%d) = %d:%d, want %d:%d", tt.offset, line, col, tt.line, tt.col)
		}
	}
}

func TestModuleRoundTrip(t *testing.T) {
	m := NewModule("test")
	body := NewChunk()
	body.EmitConstant(NumberConst(42))
	body.Emit(OpReturn)
	body.MaxStack = 1
	gen := NewChunk()
	gen.Name = "g"
	gen.Flags = ChunkFlagGenerator
	gen.Emit(OpResumeSwitch)
	gen.Resume = []ResumeEntry{{Offset: 3, Pending: []int{2, 1}}}
	m.Chunks = []*Chunk{body, gen}
	m.ScopeLayouts = []ScopeLayout{{Names: []string{"x", "y"}, TDZ: []bool{true, false}}}
	m.Exports = []Export{{Name: "x", Hint: "number", Decl: "let"}}

	data, err := m.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	got, err := Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(m, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	again, err := got.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	if string(again) != string(data) {
		t.Error("serialization is not deterministic")
	}
}

func TestDeserializeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"short", []byte("KB")},
		{"magic", []byte("TTBC\xa0")},
		{"body", append(append([]byte(nil), BytecodeMagic...), 0xff)},
	}
	for _, tt := range tests {
		if _, err := Deserialize(tt.data); err == nil {
			t.Errorf("%s: expected an error", tt.name)
		}
	}
}
