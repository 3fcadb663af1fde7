package vm

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/kiln/pkg/bytecode"
)

var log = commonlog.GetLogger("kiln.vm")

// DefaultMaxDepth bounds nested calls.
const DefaultMaxDepth = 2000

// Options configures a VM.
type Options struct {
	// Stdout receives console.log output. Defaults to os.Stdout.
	Stdout io.Writer
	// MaxDepth bounds nested calls; exceeding it raises a RangeError.
	MaxDepth int
}

// VM executes compiled modules. A VM is not safe for concurrent use; run
// one VM per goroutine.
type VM struct {
	opts Options
	out  io.Writer

	globals map[string]Value
	prog    *program

	ObjectPrototype    *Object
	FunctionPrototype  *Object
	ArrayPrototype     *Object
	StringPrototype    *Object
	NumberPrototype    *Object
	BooleanPrototype   *Object
	PromisePrototype   *Object
	RegExpPrototype    *Object
	GeneratorPrototype *Object
	IteratorPrototype  *Object
	errorProtos        map[string]*Object

	microtasks  []func() error
	depth       int
	interrupted atomic.Bool
}

// New creates a VM with the built-in globals installed.
func New(opts Options) *VM {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	vm := &VM{
		opts:        opts,
		out:         opts.Stdout,
		globals:     make(map[string]Value),
		errorProtos: make(map[string]*Object),
	}
	vm.installBuiltins()
	return vm
}

// Global returns the value of a global variable.
func (vm *VM) Global(name string) (Value, bool) {
	v, ok := vm.globals[name]
	return v, ok
}

// SetGlobal defines or replaces a global variable.
func (vm *VM) SetGlobal(name string, v Value) { vm.globals[name] = v }

// GlobalNames lists the defined globals in sorted order.
func (vm *VM) GlobalNames() []string {
	names := make([]string, 0, len(vm.globals))
	for n := range vm.globals {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// SetStdout redirects console output.
func (vm *VM) SetStdout(w io.Writer) { vm.out = w }

// Interrupt stops the running program at the next instruction with
// ErrInterrupted. It is safe to call from another goroutine. Pending
// microtasks are discarded.
func (vm *VM) Interrupt() { vm.interrupted.Store(true) }

// ClearInterrupt makes the VM usable again after an Interrupt.
func (vm *VM) ClearInterrupt() { vm.interrupted.Store(false) }

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// runtimeFunc implements a CALL_RUNTIME target.
type runtimeFunc func(vm *VM, args []Value) (Value, error)

// program is a loaded module: constants converted to values and runtime
// operations resolved once per chunk.
type program struct {
	module  *bytecode.Module
	consts  [][]Value
	runtime [][]runtimeFunc // by constant index
	indexOf map[*bytecode.Chunk]int
}

// Load prepares m for execution. Every runtime operation the module calls
// must be known to the VM.
func (vm *VM) Load(m *bytecode.Module) error {
	if m == nil || len(m.Chunks) == 0 {
		return fmt.Errorf("vm: module has no chunks")
	}
	if m.Version != bytecode.BytecodeVersion {
		return fmt.Errorf("vm: module version %d, want %d", m.Version, bytecode.BytecodeVersion)
	}
	p := &program{
		module:  m,
		consts:  make([][]Value, len(m.Chunks)),
		runtime: make([][]runtimeFunc, len(m.Chunks)),
		indexOf: make(map[*bytecode.Chunk]int, len(m.Chunks)),
	}
	for i, c := range m.Chunks {
		p.indexOf[c] = i
		vals := make([]Value, len(c.Constants))
		for j, k := range c.Constants {
			if k.Kind == bytecode.ConstNumber {
				vals[j] = k.Num
			} else {
				vals[j] = k.Str
			}
		}
		p.consts[i] = vals
		rts := make([]runtimeFunc, len(c.Constants))
		for off := 0; off < len(c.Code); {
			op := bytecode.Opcode(c.Code[off])
			if op == bytecode.OpCallRuntime {
				idx := c.ReadU16(off + 1)
				name := c.NameAt(idx)
				fn, ok := runtimeTable[name]
				if !ok {
					return fmt.Errorf("vm: %s: unknown runtime operation %q", displayName(c.Name), name)
				}
				rts[idx] = fn
			}
			n := op.InstructionLen()
			if n <= 0 {
				return fmt.Errorf("vm: %s: unknown opcode 0x%02X at %04X", displayName(c.Name), byte(op), off)
			}
			off += n
		}
		p.runtime[i] = rts
	}
	vm.prog = p
	log.Debugf("loaded module %q: %d chunks", m.Name, len(m.Chunks))
	return nil
}

// Run executes the body of the loaded module and then drains the
// microtask queue. It returns the completion value of the body.
func (vm *VM) Run() (Value, error) {
	if vm.prog == nil {
		return nil, fmt.Errorf("vm: no module loaded")
	}
	main := vm.closure(vm.prog, 0, nil)
	v, err := vm.Call(main, Undefined, nil)
	if err != nil {
		return nil, err
	}
	if err := vm.Drain(); err != nil {
		return nil, err
	}
	return v, nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// closure creates a function object for chunk idx over env.
func (vm *VM) closure(p *program, idx int, env *Scope) *Object {
	c := p.module.Chunks[idx]
	o := newObject(vm.FunctionPrototype)
	o.class = ClassFunction
	o.fn = &function{name: c.Name, prog: p, chunk: c, env: env}
	o.DefineData("name", c.Name, false)
	o.DefineData("length", float64(c.ParamCount), false)
	switch {
	case c.Is(bytecode.ChunkFlagGenerator):
		o.DefineData("prototype", newObject(vm.GeneratorPrototype), false)
	case !c.Is(bytecode.ChunkFlagArrow) && !c.Is(bytecode.ChunkFlagAsync) && idx != 0:
		proto := vm.NewObject()
		proto.DefineData("constructor", o, false)
		o.DefineData("prototype", proto, false)
	}
	return o
}

// Call invokes fn with the given this and arguments.
func (vm *VM) Call(fn Value, this Value, args []Value) (Value, error) {
	o, ok := fn.(*Object)
	if !ok || o.fn == nil {
		return nil, vm.typeError("%s is not a function", ToDisplay(fn))
	}
	if vm.depth >= vm.opts.MaxDepth {
		return nil, vm.throwError("RangeError", ErrStackOverflow, "Maximum call stack size exceeded")
	}
	vm.depth++
	defer func() { vm.depth-- }()

	f := o.fn
	if f.native != nil {
		return f.native(vm, this, args)
	}
	fr := vm.newFrame(o, this, args)
	switch {
	case f.chunk.Is(bytecode.ChunkFlagGenerator):
		return vm.newGenerator(fr), nil
	case f.chunk.Is(bytecode.ChunkFlagAsync):
		p, err := vm.startAsync(fr)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	v, _, err := vm.run(fr)
	return v, err
}

// Construct implements new: it creates the receiver from the prototype of
// ctor and runs ctor on it. An object returned by ctor replaces the
// receiver.
func (vm *VM) Construct(ctor Value, args []Value) (Value, error) {
	c, ok := ctor.(*Object)
	if !ok || c.fn == nil {
		return nil, vm.typeError("%s is not a constructor", ToDisplay(ctor))
	}
	if ch := c.fn.chunk; ch != nil && (ch.Is(bytecode.ChunkFlagArrow) || ch.Is(bytecode.ChunkFlagGenerator) || ch.Is(bytecode.ChunkFlagAsync)) {
		return nil, vm.typeError("%s is not a constructor", displayName(c.fn.name))
	}
	if ctorFn, ok := c.internal.(NativeFunc); ok {
		return ctorFn(vm, Undefined, args)
	}
	pv, err := vm.GetMember(c, "prototype")
	if err != nil {
		return nil, err
	}
	proto, ok := pv.(*Object)
	if !ok {
		proto = vm.ObjectPrototype
	}
	this := newObject(proto)
	r, err := vm.Call(c, this, args)
	if err != nil {
		return nil, err
	}
	if ro, ok := r.(*Object); ok {
		return ro, nil
	}
	return this, nil
}
