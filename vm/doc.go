// Package vm implements the kiln reference virtual machine.
//
// This package contains:
//   - The JavaScript value model and prototype-based objects
//   - Scope objects for captured bindings
//   - The bytecode interpreter, one Go call per JavaScript frame
//   - Generator objects with next/throw/return
//   - Promises, async functions and the microtask queue
//   - The runtime operations called by CALL_RUNTIME and a small built-in
//     library (console, Math, Object, Array, String, errors, RegExp)
//
// The VM exists to execute compiled code in tests and from the command
// line. It is not a complete JavaScript runtime.
package vm
