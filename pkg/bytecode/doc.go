// Package bytecode defines the stack bytecode that kiln compiles JavaScript
// functions to, and its on-disk module format.
//
// The bytecode format is designed for:
//   - Compact representation (one opcode byte plus fixed-width operands)
//   - Exact stack accounting (every opcode declares its pops and pushes)
//   - Easy serialization (modules are canonical CBOR behind a magic header)
//
// # Architecture Overview
//
//   - Opcodes: stack instructions covering constants, frame slots, scope
//     objects, member access, generic and numeric operators, calls, protected
//     regions and suspension
//
//   - Chunk: the code of one function with its constant pool, frame shape
//     (parameter count, local count, maximum stack depth), resume table and
//     optional source map
//
//   - Module: every chunk of a compilation unit plus the scope-object layouts
//     and the exported top-level names
//
// # Frames and suspension
//
// A frame holds LocalCount slots, parameters first, and an evaluation stack
// of at most MaxStack values. Protected regions push and pop handlers that
// live in the frame. Generator and async chunks suspend with an empty
// evaluation stack, so the frame slots and handler stack are the whole state
// that survives a suspension; OpResumeSwitch sends a resumed frame to the
// offset recorded in the resume table.
package bytecode
