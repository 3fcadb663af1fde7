// Package opt holds the LIR optimization passes. Passes run in a fixed
// order; each one can be switched off, is idempotent, and is followed by
// structural validation of its output.
package opt

import (
	"fmt"
	"time"

	"github.com/chazu/kiln/compiler/lir"
)

// Config selects the passes to run.
type Config struct {
	Joins       bool // join materialization
	LoopCarried bool // loop-carried repair
	CoercionCSE bool // coercion common-subexpression elimination
}

// DefaultConfig enables every pass.
func DefaultConfig() Config {
	return Config{Joins: true, LoopCarried: true, CoercionCSE: true}
}

// Pass is one optimization pass.
type Pass struct {
	Name  string
	Stage lir.Stage // validation stage of the pass output
	Run   func(*lir.Function) (*lir.Function, error)
}

// Passes returns the enabled passes in pipeline order.
func Passes(cfg Config) []Pass {
	var ps []Pass
	if cfg.Joins {
		ps = append(ps, Pass{"joins", lir.StageJoined, infallible(MaterializeJoins)})
	}
	if cfg.LoopCarried {
		ps = append(ps, Pass{"loop-carried", lir.StageJoined, RepairLoopCarried})
	}
	if cfg.CoercionCSE {
		ps = append(ps, Pass{"coercion-cse", lir.StageJoined, infallible(EliminateCoercions)})
	}
	return ps
}

func infallible(fn func(*lir.Function) *lir.Function) func(*lir.Function) (*lir.Function, error) {
	return func(f *lir.Function) (*lir.Function, error) { return fn(f), nil }
}

// Stat records one pass execution.
type Stat struct {
	Pass     string
	Before   int // instruction count
	After    int
	Duration time.Duration
}

// Run applies the passes enabled by cfg to f. With joins disabled the
// output is validated at the built stage, so later stages reject it.
func Run(f *lir.Function, cfg Config) (*lir.Function, []Stat, error) {
	var stats []Stat
	for _, p := range Passes(cfg) {
		start := time.Now()
		before := len(f.Instrs)
		g, err := p.Run(f)
		if err != nil {
			return nil, stats, fmt.Errorf("%s: %w", p.Name, err)
		}
		stage := p.Stage
		if !cfg.Joins {
			stage = lir.StageBuilt
		}
		if err := lir.Validate(g, stage); err != nil {
			return nil, stats, fmt.Errorf("%s: %w", p.Name, err)
		}
		stats = append(stats, Stat{Pass: p.Name, Before: before, After: len(g.Instrs), Duration: time.Since(start)})
		f = g
	}
	return f, stats, nil
}
