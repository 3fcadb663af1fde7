package bytecode

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// cborEncMode uses canonical mode for deterministic encoding, so equal
// modules serialize to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ScopeLayout is the field layout of a scope object. TDZ fields start out
// holding the uninitialized-binding marker.
type ScopeLayout struct {
	Names []string `cbor:"1,keyasint"`
	TDZ   []bool   `cbor:"2,keyasint,omitempty"`
}

// Export is a top-level declaration exposed to hosts, with the static type
// hint the compiler inferred for it.
type Export struct {
	Name string `cbor:"1,keyasint"`
	Hint string `cbor:"2,keyasint"`
	Decl string `cbor:"3,keyasint"`
}

// Module is a compiled compilation unit. Chunks[0] is the module body and
// OpClosure operands index Chunks.
type Module struct {
	Version      uint16        `cbor:"1,keyasint"`
	Name         string        `cbor:"2,keyasint"`
	Chunks       []*Chunk      `cbor:"3,keyasint"`
	ScopeLayouts []ScopeLayout `cbor:"4,keyasint,omitempty"`
	Exports      []Export      `cbor:"5,keyasint,omitempty"`
}

// NewModule creates an empty module with the current version.
func NewModule(name string) *Module {
	return &Module{Version: BytecodeVersion, Name: name}
}

// Serialize encodes the module as the magic bytes followed by its CBOR
// encoding.
func (m *Module) Serialize() ([]byte, error) {
	body, err := cborEncMode.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("bytecode: marshal module: %w", err)
	}
	return append(append([]byte(nil), BytecodeMagic...), body...), nil
}

// Deserialize decodes a module produced by Serialize.
func Deserialize(data []byte) (*Module, error) {
	if len(data) < len(BytecodeMagic) {
		return nil, fmt.Errorf("bytecode too short: need at least %d bytes, got %d", len(BytecodeMagic), len(data))
	}
	if !bytes.Equal(data[:len(BytecodeMagic)], BytecodeMagic) {
		return nil, fmt.Errorf("invalid bytecode magic: expected %q, got %q", BytecodeMagic, data[:len(BytecodeMagic)])
	}
	var m Module
	if err := cbor.Unmarshal(data[len(BytecodeMagic):], &m); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal module: %w", err)
	}
	if m.Version > BytecodeVersion {
		return nil, fmt.Errorf("bytecode version %d is newer than supported version %d", m.Version, BytecodeVersion)
	}
	for i, c := range m.Chunks {
		if c == nil {
			return nil, fmt.Errorf("bytecode: chunk %d missing", i)
		}
	}
	return &m, nil
}

// Disassemble lists every chunk of the module.
func (m *Module) Disassemble() string {
	var buf bytes.Buffer
	for i, c := range m.Chunks {
		name := c.Name
		if name == "" {
			name = "<module>"
		}
		fmt.Fprintf(&buf, "%s", c.DisassembleWithName(fmt.Sprintf("#%d %s", i, name)))
		if i < len(m.Chunks)-1 {
			buf.WriteByte('\n')
		}
	}
	return buf.String()
}
