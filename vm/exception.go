package vm

import (
	"errors"
	"fmt"
)

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// Exception is a thrown JavaScript value travelling up the Go call stack.
// Handlers installed by ENTER_TRY catch it; otherwise it escapes to the
// host as an error.
type Exception struct {
	Value Value
	// Cause is the Go error the exception was raised for, if any.
	Cause error
}

func (e *Exception) Error() string {
	if o, ok := e.Value.(*Object); ok && o.class == ClassError {
		name, _ := o.lookupString("name")
		msg, _ := o.lookupString("message")
		if msg == "" {
			return "Uncaught " + name
		}
		return fmt.Sprintf("Uncaught %s: %s", name, msg)
	}
	return "Uncaught " + ToDisplay(e.Value)
}

func (e *Exception) Unwrap() error { return e.Cause }

// AsException extracts a thrown value from an error chain.
func AsException(err error) (*Exception, bool) {
	var ex *Exception
	if errors.As(err, &ex) {
		return ex, true
	}
	return nil, false
}

// Sentinel errors
var (
	// ErrAlreadyRunning is the cause of the TypeError raised when a running
	// generator is resumed.
	ErrAlreadyRunning = errors.New("generator is already running")
	// ErrStackOverflow is the cause of the RangeError raised when the call
	// depth limit is reached.
	ErrStackOverflow = errors.New("maximum call stack size exceeded")
	// ErrInterrupted is returned when Interrupt stops a running program.
	// It is not catchable by script code.
	ErrInterrupted = errors.New("vm: interrupted")
)

func (o *Object) lookupString(key string) (string, bool) {
	p := o.lookup(key)
	if p == nil || p.isAccessor() {
		return "", false
	}
	s, ok := p.value.(string)
	return s, ok
}

// NewError creates an error object of the named constructor (Error,
// TypeError, RangeError, ReferenceError, SyntaxError).
func (vm *VM) NewError(kind, msg string) *Object {
	proto := vm.errorProtos[kind]
	if proto == nil {
		proto = vm.errorProtos["Error"]
	}
	o := newObject(proto)
	o.class = ClassError
	o.DefineData("message", msg, false)
	return o
}

func (vm *VM) throwError(kind string, cause error, format string, args ...any) *Exception {
	return &Exception{Value: vm.NewError(kind, fmt.Sprintf(format, args...)), Cause: cause}
}

func (vm *VM) typeError(format string, args ...any) error {
	return vm.throwError("TypeError", nil, format, args...)
}

func (vm *VM) rangeError(format string, args ...any) error {
	return vm.throwError("RangeError", nil, format, args...)
}

func (vm *VM) referenceError(format string, args ...any) error {
	return vm.throwError("ReferenceError", nil, format, args...)
}

// thrown converts an error raised inside the VM into the JavaScript value
// a catch clause receives. Internal errors are not catchable.
func thrown(err error) (Value, bool) {
	if ex, ok := AsException(err); ok {
		return ex.Value, true
	}
	return nil, false
}
