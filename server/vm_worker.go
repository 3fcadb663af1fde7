package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/kiln/vm"
)

// vmRequest represents a unit of work to be executed on the VM goroutine.
type vmRequest struct {
	ctx  context.Context
	fn   func(*vm.VM) (any, error)
	done chan vmResult
}

// vmResult holds the return value from a VM operation.
type vmResult struct {
	value any
	err   error
}

// VMWorker serializes all access to one VM through a single goroutine.
// The interpreter is single-threaded; handlers must go through the worker
// to avoid data races.
type VMWorker struct {
	vm       *vm.VM
	requests chan vmRequest
	quit     chan struct{}
}

// NewVMWorker creates a VMWorker and starts the processing goroutine.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:       v,
		requests: make(chan vmRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes VM requests sequentially on a dedicated goroutine.
func (w *VMWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.ctx, req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the VM, recovering from panics. The running
// program is interrupted when ctx ends.
func (w *VMWorker) execute(ctx context.Context, fn func(*vm.VM) (any, error)) (result vmResult) {
	if err := ctx.Err(); err != nil {
		return vmResult{err: err}
	}
	stop := context.AfterFunc(ctx, w.vm.Interrupt)
	defer func() {
		stop()
		w.vm.ClearInterrupt()
		if r := recover(); r != nil {
			log.Errorf("vm worker: panic: %v", r)
			result.err = fmt.Errorf("vm panic: %v", r)
		}
		if errors.Is(result.err, vm.ErrInterrupted) && ctx.Err() != nil {
			result.err = fmt.Errorf("%w: %w", ctx.Err(), result.err)
		}
	}()
	result.value, result.err = fn(w.vm)
	return result
}

// Do submits a function for execution on the VM goroutine and blocks
// until it completes. When ctx ends while the function runs, the program
// is interrupted and the error wraps both ctx.Err() and vm.ErrInterrupted.
func (w *VMWorker) Do(ctx context.Context, fn func(*vm.VM) (any, error)) (any, error) {
	req := vmRequest{
		ctx:  ctx,
		fn:   fn,
		done: make(chan vmResult, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.quit:
		return nil, errWorkerStopped
	}
	select {
	case r := <-req.done:
		return r.value, r.err
	case <-w.quit:
		return nil, errWorkerStopped
	}
}

var errWorkerStopped = errors.New("vm worker stopped")

// Stop shuts down the worker goroutine.
func (w *VMWorker) Stop() {
	close(w.quit)
}
