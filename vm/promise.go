package vm

// ---------------------------------------------------------------------------
// Promises and the microtask queue
// ---------------------------------------------------------------------------

type promiseState uint8

const (
	pending promiseState = iota
	fulfilled
	rejected
)

// reaction is one pending then-callback. Script callbacks are Values; the
// VM's own continuations (await) use the Go hooks.
type reaction struct {
	onFulfilled, onRejected Value
	goFulfilled, goRejected func(Value) error
	derived                 *Object
}

type promise struct {
	state     promiseState
	value     Value
	reactions []reaction
	handled   bool
}

func (vm *VM) enqueue(job func() error) { vm.microtasks = append(vm.microtasks, job) }

// Drain runs queued microtasks until the queue is empty. Jobs queued while
// draining run in the same call.
func (vm *VM) Drain() error {
	for len(vm.microtasks) > 0 {
		job := vm.microtasks[0]
		vm.microtasks = vm.microtasks[1:]
		if err := job(); err != nil {
			vm.microtasks = nil
			return err
		}
	}
	return nil
}

// NewPromise creates a pending promise.
func (vm *VM) NewPromise() *Object {
	o := newObject(vm.PromisePrototype)
	o.class = ClassPromise
	o.internal = &promise{value: Undefined}
	return o
}

func promiseOf(v Value) *promise {
	if o, ok := v.(*Object); ok {
		if p, ok := o.internal.(*promise); ok {
			return p
		}
	}
	return nil
}

// PromiseState reports the state and value of a promise object: "pending",
// "fulfilled" or "rejected".
func PromiseState(v Value) (string, Value, bool) {
	p := promiseOf(v)
	if p == nil {
		return "", nil, false
	}
	return [...]string{"pending", "fulfilled", "rejected"}[p.state], p.value, true
}

func (vm *VM) settle(o *Object, state promiseState, v Value) {
	p := o.internal.(*promise)
	if p.state != pending {
		return
	}
	p.state, p.value = state, v
	rs := p.reactions
	p.reactions = nil
	for _, r := range rs {
		vm.schedule(p, r)
	}
	if state == rejected && !p.handled {
		log.Debugf("promise rejected with no handler: %s", ToDisplay(v))
	}
}

// resolvePromise resolves o with v, adopting the state of a thenable.
func (vm *VM) resolvePromise(o *Object, v Value) error {
	if v == Value(o) {
		vm.settle(o, rejected, vm.NewError("TypeError", "Chaining cycle detected for promise"))
		return nil
	}
	vo, ok := v.(*Object)
	if !ok {
		vm.settle(o, fulfilled, v)
		return nil
	}
	if p := promiseOf(vo); p != nil {
		vm.then(vo, reaction{
			goFulfilled: func(x Value) error { return vm.resolvePromise(o, x) },
			goRejected:  func(x Value) error { vm.settle(o, rejected, x); return nil },
		})
		return nil
	}
	then, err := vm.GetMember(vo, "then")
	if err != nil {
		if ex, ok := thrown(err); ok {
			vm.settle(o, rejected, ex)
			return nil
		}
		return err
	}
	if !IsCallable(then) {
		vm.settle(o, fulfilled, v)
		return nil
	}
	resolve, reject := vm.resolvingFunctions(o)
	vm.enqueue(func() error {
		_, err := vm.Call(then, vo, []Value{resolve, reject})
		if err != nil {
			if ex, ok := thrown(err); ok {
				vm.settle(o, rejected, ex)
				return nil
			}
			return err
		}
		return nil
	})
	return nil
}

// resolvingFunctions returns the resolve and reject callbacks handed to
// executors and thenables. Only the first call has an effect.
func (vm *VM) resolvingFunctions(o *Object) (resolve, reject *Object) {
	done := false
	resolve = vm.NewNative("resolve", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		if done {
			return Undefined, nil
		}
		done = true
		return Undefined, vm.resolvePromise(o, arg(args, 0))
	})
	reject = vm.NewNative("reject", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		if done {
			return Undefined, nil
		}
		done = true
		vm.settle(o, rejected, arg(args, 0))
		return Undefined, nil
	})
	return resolve, reject
}

// then registers r on the promise o.
func (vm *VM) then(o *Object, r reaction) {
	p := o.internal.(*promise)
	p.handled = true
	if p.state == pending {
		p.reactions = append(p.reactions, r)
		return
	}
	vm.schedule(p, r)
}

func (vm *VM) schedule(p *promise, r reaction) {
	state, v := p.state, p.value
	vm.enqueue(func() error {
		if state == fulfilled && r.goFulfilled != nil {
			return r.goFulfilled(v)
		}
		if state == rejected && r.goRejected != nil {
			return r.goRejected(v)
		}
		handler := r.onFulfilled
		if state == rejected {
			handler = r.onRejected
		}
		if !IsCallable(handler) {
			if r.derived != nil {
				if state == fulfilled {
					return vm.resolvePromise(r.derived, v)
				}
				vm.settle(r.derived, rejected, v)
			}
			return nil
		}
		res, err := vm.Call(handler, Undefined, []Value{v})
		if err != nil {
			ex, ok := thrown(err)
			if !ok {
				return err
			}
			if r.derived != nil {
				vm.settle(r.derived, rejected, ex)
			}
			return nil
		}
		if r.derived != nil {
			return vm.resolvePromise(r.derived, res)
		}
		return nil
	})
}

// promiseResolve implements Promise.resolve.
func (vm *VM) promiseResolve(v Value) (*Object, error) {
	if o, ok := v.(*Object); ok && promiseOf(o) != nil {
		return o, nil
	}
	p := vm.NewPromise()
	if err := vm.resolvePromise(p, v); err != nil {
		return nil, err
	}
	return p, nil
}

// ---------------------------------------------------------------------------
// Async functions
// ---------------------------------------------------------------------------

// startAsync runs an async frame up to its first await and returns the
// promise of its completion. The frame continues from microtasks as the
// awaited promises settle.
func (vm *VM) startAsync(fr *frame) (*Object, error) {
	result := vm.NewPromise()
	var step func(mode int, v Value) error
	step = func(mode int, v Value) error {
		fr.mode, fr.sent = mode, v
		r, suspended, err := vm.run(fr)
		if err != nil {
			ex, ok := thrown(err)
			if !ok {
				return err
			}
			vm.settle(result, rejected, ex)
			return nil
		}
		if !suspended {
			return vm.resolvePromise(result, r)
		}
		awaited, err := vm.promiseResolve(r)
		if err != nil {
			return err
		}
		vm.then(awaited, reaction{
			goFulfilled: func(x Value) error { return step(modeNext, x) },
			goRejected:  func(x Value) error { return step(modeThrow, x) },
		})
		return nil
	}
	if err := step(modeNext, Undefined); err != nil {
		return nil, err
	}
	return result, nil
}

// ---------------------------------------------------------------------------
// Promise built-ins
// ---------------------------------------------------------------------------

func (vm *VM) installPromise() {
	vm.PromisePrototype = vm.NewObject()
	ctor := vm.constructor("Promise", 1, vm.PromisePrototype, func(vm *VM, this Value, args []Value) (Value, error) {
		exec := arg(args, 0)
		if !IsCallable(exec) {
			return nil, vm.typeError("Promise resolver %s is not a function", ToDisplay(exec))
		}
		p := vm.NewPromise()
		resolve, reject := vm.resolvingFunctions(p)
		if _, err := vm.Call(exec, Undefined, []Value{resolve, reject}); err != nil {
			ex, ok := thrown(err)
			if !ok {
				return nil, err
			}
			if _, err := vm.Call(reject, Undefined, []Value{ex}); err != nil {
				return nil, err
			}
		}
		return p, nil
	})
	vm.method(ctor, "resolve", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		return objectResult(vm.promiseResolve(arg(args, 0)))
	})
	vm.method(ctor, "reject", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		p := vm.NewPromise()
		vm.settle(p, rejected, arg(args, 0))
		return p, nil
	})
	vm.method(ctor, "all", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		items, err := vm.iterate(arg(args, 0))
		if err != nil {
			return nil, err
		}
		result := vm.NewPromise()
		values := make([]Value, len(items))
		remaining := len(items)
		if remaining == 0 {
			vm.settle(result, fulfilled, vm.NewArray(values))
		}
		for i, item := range items {
			p, err := vm.promiseResolve(item)
			if err != nil {
				return nil, err
			}
			vm.then(p, reaction{
				goFulfilled: func(x Value) error {
					values[i] = x
					if remaining--; remaining == 0 {
						vm.settle(result, fulfilled, vm.NewArray(values))
					}
					return nil
				},
				goRejected: func(x Value) error { vm.settle(result, rejected, x); return nil },
			})
		}
		return result, nil
	})

	vm.method(vm.PromisePrototype, "then", 2, func(vm *VM, this Value, args []Value) (Value, error) {
		o, ok := this.(*Object)
		if !ok || promiseOf(o) == nil {
			return nil, vm.typeError("Promise.prototype.then called on incompatible receiver")
		}
		derived := vm.NewPromise()
		vm.then(o, reaction{onFulfilled: arg(args, 0), onRejected: arg(args, 1), derived: derived})
		return derived, nil
	})
	vm.method(vm.PromisePrototype, "catch", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		then, err := vm.GetMember(this, "then")
		if err != nil {
			return nil, err
		}
		return vm.Call(then, this, []Value{Undefined, arg(args, 0)})
	})
	vm.method(vm.PromisePrototype, "finally", 1, func(vm *VM, this Value, args []Value) (Value, error) {
		o, ok := this.(*Object)
		if !ok || promiseOf(o) == nil {
			return nil, vm.typeError("Promise.prototype.finally called on incompatible receiver")
		}
		fn := arg(args, 0)
		derived := vm.NewPromise()
		run := func(settle func() error) error {
			if IsCallable(fn) {
				if _, err := vm.Call(fn, Undefined, nil); err != nil {
					ex, ok := thrown(err)
					if !ok {
						return err
					}
					vm.settle(derived, rejected, ex)
					return nil
				}
			}
			return settle()
		}
		vm.then(o, reaction{
			goFulfilled: func(x Value) error {
				return run(func() error { return vm.resolvePromise(derived, x) })
			},
			goRejected: func(x Value) error {
				return run(func() error { vm.settle(derived, rejected, x); return nil })
			},
		})
		return derived, nil
	})
}
