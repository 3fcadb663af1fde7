package lower

import (
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/types"
)

// Completion kinds stored in a finally region's kind local. Codes from
// firstJumpCode on name the break and continue jumps routed through it.
const (
	completeNormal = 0
	completeThrow  = 1
	completeReturn = 2
	firstJumpCode  = 3
)

type blockKind uint8

const (
	bkScope   blockKind = iota // scope object to pop
	bkTry                      // protected region
	bkFinally                  // finally region
	bkIter                     // open iterator to close
	bkLoop                     // break and continue target
)

// block is an entry of the builder's stack of constructs that an abrupt
// completion must unwind.
type block struct {
	kind    blockKind
	handler int      // bkTry
	fin     *finally // bkFinally
	iter    lir.Temp // bkIter
	loop    *loop    // bkLoop
}

// loop is a break/continue target: a loop, a switch or a labeled statement.
type loop struct {
	labels []string
	brk    int
	cont   int // -1 when continue does not apply
	plain  bool // labeled non-loop statement: unlabeled break skips it
}

// finally is an open try/finally region.
type finally struct {
	id    int
	label int
	kind  int // local holding the completion kind
	val   int // local holding the pending value
	jumps []routedJump
}

type routedJump struct {
	code   int
	target int // block stack index of the target loop
	cont   bool
}

func (b *builder) push(e block) { b.blocks = append(b.blocks, e) }

func (b *builder) pop() { b.blocks = b.blocks[:len(b.blocks)-1] }

// findLoop returns the block index of the jump target for a break or
// continue with the given label ("" for none), or -1.
func (b *builder) findLoop(label string, cont bool) int {
	for i := len(b.blocks) - 1; i >= 0; i-- {
		e := b.blocks[i]
		if e.kind != bkLoop {
			continue
		}
		if label == "" {
			if e.loop.plain || (cont && e.loop.cont < 0) {
				continue
			}
			return i
		}
		for _, l := range e.loop.labels {
			if l == label {
				if cont && e.loop.cont < 0 {
					return -1
				}
				return i
			}
		}
	}
	return -1
}

// jumpOut emits a break or continue to the loop at block index target,
// unwinding every construct above it.
func (b *builder) jumpOut(stack []block, target int, cont bool) {
	for i := len(stack) - 1; i > target; i-- {
		e := stack[i]
		switch e.kind {
		case bkScope:
			b.effect(lir.Instr{Op: lir.OpPopScope})
		case bkTry:
			b.effect(lir.Instr{Op: lir.OpExitTry})
		case bkIter:
			b.runtime(types.RtIterClose, e.iter)
		case bkFinally:
			code := e.fin.route(target, cont)
			b.storeLocal(e.fin.kind, b.number(float64(code)))
			b.jump(lir.OpJump, e.fin.label)
			return
		}
	}
	l := stack[target].loop
	if cont {
		b.jump(lir.OpJump, l.cont)
	} else {
		b.jump(lir.OpJump, l.brk)
	}
}

func (fin *finally) route(target int, cont bool) int {
	for _, j := range fin.jumps {
		if j.target == target && j.cont == cont {
			return j.code
		}
	}
	code := firstJumpCode + len(fin.jumps)
	fin.jumps = append(fin.jumps, routedJump{code: code, target: target, cont: cont})
	return code
}

// routeReturn returns v from the function, running the pending finally
// regions on the way out.
func (b *builder) routeReturn(v lir.Temp) {
	b.returnThrough(b.blocks, v)
}

func (b *builder) returnThrough(stack []block, v lir.Temp) {
	for i := len(stack) - 1; i >= 0; i-- {
		e := stack[i]
		switch e.kind {
		case bkScope:
			b.effect(lir.Instr{Op: lir.OpPopScope})
		case bkTry:
			b.effect(lir.Instr{Op: lir.OpExitTry})
		case bkIter:
			b.runtime(types.RtIterClose, e.iter)
		case bkFinally:
			b.storeLocal(e.fin.val, v)
			b.storeLocal(e.fin.kind, b.number(completeReturn))
			b.jump(lir.OpJump, e.fin.label)
			return
		}
	}
	b.effect(lir.Instr{Op: lir.OpReturn, Args: []lir.Temp{v}})
}

func (b *builder) storeLocal(l int, v lir.Temp) {
	b.effect(lir.Instr{Op: lir.OpStoreLocal, Local: l, Args: []lir.Temp{v}})
	b.cache[l] = v
}

// ---------------------------------------------------------------------------
// try/catch/finally
// ---------------------------------------------------------------------------

// tryFinally emits body under a finally region whose block is fin. A normal
// or abrupt completion of body records its kind, runs fin, then resumes the
// completion. An exception thrown by fin replaces whatever was pending.
func (b *builder) tryFinally(body, fin func()) {
	b.finallys++
	r := &finally{
		id:    b.finallys,
		label: b.f.NewLabel(),
		kind:  b.f.AddLocal(lir.Local{Name: "%completion", Kind: types.Number, Param: -1}),
		val:   b.f.AddLocal(lir.Local{Name: "%pending", Kind: types.Boxed, Param: -1}),
	}
	handler := b.f.NewLabel()

	b.push(block{kind: bkFinally, fin: r})
	depth := len(b.blocks) - 1
	b.jump(lir.OpEnterTry, handler)
	b.push(block{kind: bkTry, handler: handler})
	body()
	b.pop()
	b.effect(lir.Instr{Op: lir.OpExitTry})
	b.storeLocal(r.kind, b.number(completeNormal))
	b.jump(lir.OpJump, r.label)

	b.label(handler)
	exc := b.value(types.Boxed, lir.Instr{Op: lir.OpCatch})
	b.storeLocal(r.val, exc)
	b.storeLocal(r.kind, b.number(completeThrow))

	b.label(r.label)
	b.pop()
	fin()

	// Every jump routed through this region was registered while building
	// body.
	outer := b.blocks[:depth:depth]
	next := b.f.NewLabel()
	kind := b.load(r.kind, types.Number)
	b.jump(lir.OpJumpIfTrue, next, b.strictEqNumber(kind, completeNormal))

	notThrow := b.f.NewLabel()
	b.jump(lir.OpJumpIfFalse, notThrow, b.strictEqNumber(kind, completeThrow))
	b.effect(lir.Instr{Op: lir.OpThrow, Args: []lir.Temp{b.load(r.val, types.Boxed)}})
	b.label(notThrow)

	kind = b.load(r.kind, types.Number)
	notReturn := b.f.NewLabel()
	b.jump(lir.OpJumpIfFalse, notReturn, b.strictEqNumber(kind, completeReturn))
	b.returnThrough(outer, b.load(r.val, types.Boxed))
	b.label(notReturn)

	for _, j := range r.jumps {
		kind = b.load(r.kind, types.Number)
		skip := b.f.NewLabel()
		b.jump(lir.OpJumpIfFalse, skip, b.strictEqNumber(kind, float64(j.code)))
		b.jumpOut(outer, j.target, j.cont)
		b.label(skip)
	}
	b.label(next)
}

// tryCatch emits body protected by a handler that passes the exception to
// handle.
func (b *builder) tryCatch(body func(), handle func(exc lir.Temp)) {
	handler := b.f.NewLabel()
	after := b.f.NewLabel()
	b.jump(lir.OpEnterTry, handler)
	b.push(block{kind: bkTry, handler: handler})
	body()
	b.pop()
	b.effect(lir.Instr{Op: lir.OpExitTry})
	b.jump(lir.OpJump, after)

	b.label(handler)
	exc := b.value(types.Boxed, lir.Instr{Op: lir.OpCatch})
	handle(exc)
	b.label(after)
}

// ---------------------------------------------------------------------------
// Suspension
// ---------------------------------------------------------------------------

// suspend emits a yield or await of v and returns the resumed value.
func (b *builder) suspend(op lir.Op, v lir.Temp) lir.Temp {
	f := b.f
	rp := lir.ResumePoint{Await: op == lir.OpAwait, Return: -1}
	if op == lir.OpYield {
		rp.Return = f.NewLabel()
		for i := len(b.blocks) - 1; i >= 0; i-- {
			switch e := b.blocks[i]; e.kind {
			case bkFinally:
				rp.Pending = append(rp.Pending, e.fin.id)
			case bkTry:
				rp.Handlers = append(rp.Handlers, e.handler)
			}
		}
		stack := append([]block(nil), b.blocks...)
		sc := b.scope
		ret := rp.Return
		b.deferred = append(b.deferred, func() {
			saved := b.scope
			b.scope = sc
			b.label(ret)
			rv := b.value(types.Boxed, lir.Instr{Op: lir.OpResumeValue})
			b.returnThrough(stack, rv)
			b.scope = saved
		})
	}
	f.Resume = append(f.Resume, rp)
	return b.value(types.Boxed, lir.Instr{Op: op, Field: len(f.Resume), Args: []lir.Temp{v}})
}
