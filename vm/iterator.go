package vm

// iterator is the internal state behind iter.open. The generated loop calls
// iter.step until it returns false, reading each element with iter.value.
type iterator struct {
	next  func() (Value, bool, error) // value, done
	close func() error
	cur   Value
	done  bool
}

func (vm *VM) openIterator(v Value) (*iterator, error) {
	switch x := v.(type) {
	case string:
		runes := []rune(x)
		i := 0
		return &iterator{next: func() (Value, bool, error) {
			if i >= len(runes) {
				return Undefined, true, nil
			}
			i++
			return string(runes[i-1]), false, nil
		}}, nil
	case *Object:
		if x.class == ClassArray {
			i := 0
			return &iterator{next: func() (Value, bool, error) {
				if i >= len(x.elems) {
					return Undefined, true, nil
				}
				i++
				return x.elems[i-1], false, nil
			}}, nil
		}
		if g, ok := x.internal.(*generator); ok {
			return &iterator{
				next: func() (Value, bool, error) { return vm.resume(g, modeNext, Undefined) },
				close: func() error {
					_, _, err := vm.resume(g, modeReturn, Undefined)
					return err
				},
			}, nil
		}
		if it, ok := x.internal.(*iterator); ok {
			return it, nil
		}
		next, err := vm.GetMember(x, "next")
		if err != nil {
			return nil, err
		}
		if IsCallable(next) {
			return vm.protocolIterator(x, next), nil
		}
	}
	return nil, vm.typeError("%s is not iterable", ToDisplay(v))
}

// protocolIterator drives a script object implementing next and,
// optionally, return.
func (vm *VM) protocolIterator(o *Object, next Value) *iterator {
	return &iterator{
		next: func() (Value, bool, error) {
			r, err := vm.Call(next, o, nil)
			if err != nil {
				return nil, true, err
			}
			ro, ok := r.(*Object)
			if !ok {
				return nil, true, vm.typeError("Iterator result %s is not an object", ToDisplay(r))
			}
			done, err := vm.GetMember(ro, "done")
			if err != nil {
				return nil, true, err
			}
			val, err := vm.GetMember(ro, "value")
			if err != nil {
				return nil, true, err
			}
			return val, ToBoolean(done), nil
		},
		close: func() error {
			ret, err := vm.GetMember(o, "return")
			if err != nil || !IsCallable(ret) {
				return err
			}
			_, err = vm.Call(ret, o, nil)
			return err
		},
	}
}

// iterate drains an iterable into a slice.
func (vm *VM) iterate(v Value) ([]Value, error) {
	if o, ok := v.(*Object); ok && o.class == ClassArray {
		return append([]Value(nil), o.elems...), nil
	}
	it, err := vm.openIterator(v)
	if err != nil {
		return nil, err
	}
	var out []Value
	for {
		val, done, err := it.next()
		if err != nil {
			return nil, err
		}
		if done {
			return out, nil
		}
		out = append(out, val)
	}
}

func (vm *VM) iteratorArg(v Value) (*iterator, error) {
	if o, ok := v.(*Object); ok {
		if it, ok := o.internal.(*iterator); ok {
			return it, nil
		}
	}
	return nil, vm.typeError("%s is not an iterator", ToDisplay(v))
}

func rtIterOpen(vm *VM, args []Value) (Value, error) {
	it, err := vm.openIterator(arg(args, 0))
	if err != nil {
		return nil, err
	}
	o := newObject(vm.IteratorPrototype)
	o.class = ClassIterator
	o.internal = it
	return o, nil
}

func rtIterStep(vm *VM, args []Value) (Value, error) {
	it, err := vm.iteratorArg(arg(args, 0))
	if err != nil {
		return nil, err
	}
	if it.done {
		return false, nil
	}
	v, done, err := it.next()
	if err != nil {
		it.done = true
		return nil, err
	}
	if done {
		it.done = true
		it.cur = Undefined
		return false, nil
	}
	it.cur = v
	return true, nil
}

func rtIterValue(vm *VM, args []Value) (Value, error) {
	it, err := vm.iteratorArg(arg(args, 0))
	if err != nil {
		return nil, err
	}
	if it.cur == nil {
		return Undefined, nil
	}
	return it.cur, nil
}

// rtIterClose ends an iteration early, letting the source run its cleanup.
func rtIterClose(vm *VM, args []Value) (Value, error) {
	it, err := vm.iteratorArg(arg(args, 0))
	if err != nil {
		return nil, err
	}
	if it.done {
		return Undefined, nil
	}
	it.done = true
	if it.close != nil {
		if err := it.close(); err != nil {
			return nil, err
		}
	}
	return Undefined, nil
}
