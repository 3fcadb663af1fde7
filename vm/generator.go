package vm

// ---------------------------------------------------------------------------
// Generators
// ---------------------------------------------------------------------------

type genState uint8

const (
	genStart genState = iota
	genSuspended
	genRunning
	genDone
)

// generator drives a suspended generator frame. Each resume re-enters the
// frame's code at offset zero, where RESUME_SWITCH dispatches to the saved
// resume point.
type generator struct {
	fr    *frame
	state genState
}

func (vm *VM) newGenerator(fr *frame) *Object {
	proto := vm.GeneratorPrototype
	if pv, ok := fr.callee.props["prototype"]; ok {
		if p, ok := pv.value.(*Object); ok {
			proto = p
		}
	}
	o := newObject(proto)
	o.class = ClassGenerator
	o.internal = &generator{fr: fr}
	return o
}

// resume runs g with the given resume mode and value. It reports the
// yielded or returned value and whether the generator finished.
func (vm *VM) resume(g *generator, mode int, v Value) (Value, bool, error) {
	switch g.state {
	case genRunning:
		return nil, true, vm.throwError("TypeError", ErrAlreadyRunning, "Generator is already running")
	case genDone:
		switch mode {
		case modeThrow:
			return nil, true, &Exception{Value: v}
		case modeReturn:
			return v, true, nil
		}
		return Undefined, true, nil
	case genStart:
		switch mode {
		case modeThrow:
			g.state = genDone
			return nil, true, &Exception{Value: v}
		case modeReturn:
			g.state = genDone
			return v, true, nil
		}
	}
	g.fr.mode = mode
	g.fr.sent = v
	g.state = genRunning
	r, suspended, err := vm.run(g.fr)
	if err != nil {
		g.state = genDone
		return nil, true, err
	}
	if suspended {
		g.state = genSuspended
		return r, false, nil
	}
	g.state = genDone
	return r, true, nil
}

func (vm *VM) iterResult(v Value, done bool) *Object {
	o := vm.NewObject()
	o.DefineData("value", v, true)
	o.DefineData("done", done, true)
	return o
}

func (vm *VM) generatorMethod(mode int) NativeFunc {
	return func(vm *VM, this Value, args []Value) (Value, error) {
		o, ok := this.(*Object)
		var g *generator
		if ok {
			g, _ = o.internal.(*generator)
		}
		if g == nil {
			return nil, vm.typeError("next method called on incompatible receiver %s", ToDisplay(this))
		}
		v, done, err := vm.resume(g, mode, arg(args, 0))
		if err != nil {
			return nil, err
		}
		return vm.iterResult(v, done), nil
	}
}

func (vm *VM) installGenerators() {
	vm.IteratorPrototype = vm.NewObject()
	vm.method(vm.IteratorPrototype, "next", 0, func(vm *VM, this Value, args []Value) (Value, error) {
		it, err := vm.iteratorArg(this)
		if err != nil {
			return nil, err
		}
		v, done, err := it.next()
		if err != nil {
			return nil, err
		}
		return vm.iterResult(v, done), nil
	})

	vm.GeneratorPrototype = newObject(vm.IteratorPrototype)
	vm.method(vm.GeneratorPrototype, "next", 1, vm.generatorMethod(modeNext))
	vm.method(vm.GeneratorPrototype, "return", 1, vm.generatorMethod(modeReturn))
	vm.method(vm.GeneratorPrototype, "throw", 1, vm.generatorMethod(modeThrow))
}
