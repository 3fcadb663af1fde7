package hash

import (
	"encoding/binary"
	"math"

	"github.com/chazu/kiln/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Deterministic binary serialization of compiled modules.
//
// Encoding conventions:
//   - First byte: HashVersion (0x01)
//   - Integers: big-endian fixed-width (int64=8B, uint16=2B)
//   - Floats: IEEE 754 big-endian 8B, so NaN payloads and -0 are kept
//   - Strings and byte slices: uint32 big-endian length + bytes
//   - Booleans: single byte (0/1)
//   - Lists: uint32 count, then the elements inline
// ---------------------------------------------------------------------------

// Serialize produces a deterministic byte serialization of m. Debug
// sections are included only when debug is set.
func Serialize(m *bytecode.Module, debug bool) []byte {
	s := newSerializer()
	s.writeByte(TagModule)
	s.writeUint16(m.Version)
	s.writeString(m.Name)

	s.writeUint32(uint32(len(m.Chunks)))
	for _, c := range m.Chunks {
		s.serializeChunk(c, debug)
	}

	s.writeUint32(uint32(len(m.ScopeLayouts)))
	for _, l := range m.ScopeLayouts {
		s.writeByte(TagLayout)
		s.writeUint32(uint32(len(l.Names)))
		for i, n := range l.Names {
			s.writeString(n)
			s.writeBool(i < len(l.TDZ) && l.TDZ[i])
		}
	}

	s.writeUint32(uint32(len(m.Exports)))
	for _, e := range m.Exports {
		s.writeByte(TagExport)
		s.writeString(e.Name)
		s.writeString(e.Hint)
		s.writeString(e.Decl)
	}
	return s.buf
}

type serializer struct {
	buf []byte
}

func newSerializer() *serializer {
	s := &serializer{buf: make([]byte, 0, 256)}
	s.writeByte(HashVersion)
	return s
}

func (s *serializer) writeByte(b byte) {
	s.buf = append(s.buf, b)
}

func (s *serializer) writeBool(v bool) {
	if v {
		s.writeByte(1)
	} else {
		s.writeByte(0)
	}
}

func (s *serializer) writeUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeFloat64(v float64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	s.buf = append(s.buf, b[:]...)
}

func (s *serializer) writeString(v string) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeBytes(v []byte) {
	s.writeUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
}

func (s *serializer) writeInt(v int) {
	s.writeInt64(int64(v))
}

func (s *serializer) serializeChunk(c *bytecode.Chunk, debug bool) {
	s.writeByte(TagChunk)
	if c == nil {
		// A missing chunk only occurs in failed compilations; keep the
		// position so later chunks do not shift.
		s.writeUint32(0)
		return
	}
	s.writeUint32(1)
	s.writeUint16(c.Version)
	flags := c.Flags
	if !debug {
		flags &^= bytecode.ChunkFlagDebug
	}
	s.writeUint16(uint16(flags))
	s.writeString(c.Name)
	s.writeBytes(c.Code)

	s.writeUint32(uint32(len(c.Constants)))
	for _, k := range c.Constants {
		switch k.Kind {
		case bytecode.ConstNumber:
			s.writeByte(TagNumberConst)
			s.writeFloat64(k.Num)
		default:
			s.writeByte(TagStringConst)
			s.writeString(k.Str)
		}
	}

	s.writeInt(c.ParamCount)
	s.writeInt(c.LocalCount)
	s.writeInt(c.MaxStack)

	s.writeUint32(uint32(len(c.Resume)))
	for _, r := range c.Resume {
		s.writeByte(TagResume)
		s.writeUint32(r.Offset)
		s.writeBool(r.Await)
		s.writeUint32(uint32(len(r.Pending)))
		for _, p := range r.Pending {
			s.writeInt(p)
		}
	}

	if !debug {
		return
	}
	s.writeByte(TagDebug)
	s.writeUint32(uint32(len(c.SourceMap)))
	for _, loc := range c.SourceMap {
		s.writeUint32(loc.BytecodeOffset)
		s.writeUint32(loc.Line)
		s.writeUint16(loc.Column)
	}
	s.writeUint32(uint32(len(c.VarNames)))
	for _, n := range c.VarNames {
		s.writeString(n)
	}
}
