// Package compiler drives the kiln pipeline: parse, scope analysis, LIR
// construction, optimization, generator lowering, allocation and bytecode
// emission.
//
// Functions are compiled independently. A function that fails at any stage
// contributes its diagnostics and no chunk; its siblings still compile, so
// one run reports every error in the unit.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/kiln/compiler/alloc"
	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/emit"
	"github.com/chazu/kiln/compiler/frontend"
	"github.com/chazu/kiln/compiler/gen"
	"github.com/chazu/kiln/compiler/lir"
	"github.com/chazu/kiln/compiler/lower"
	"github.com/chazu/kiln/compiler/opt"
	"github.com/chazu/kiln/compiler/scope"
	"github.com/chazu/kiln/compiler/types"
	"github.com/chazu/kiln/pkg/bytecode"
)

var log = commonlog.GetLogger("kiln.compiler")

// Options configures a compilation.
type Options struct {
	// Name is the unit name recorded in the module.
	Name string
	// Passes selects the optimization passes.
	Passes opt.Config
	// MaxStack and MaxLocals are the target capacity limits; 0 means
	// unbounded.
	MaxStack  int
	MaxLocals int
	// Stackify keeps single-use temps on the evaluation stack.
	Stackify bool
	// Debug records source maps and slot names.
	Debug bool
	// Jobs bounds CompileAll parallelism; 0 means one job per unit.
	Jobs int
}

// DefaultOptions enables every pass and stackify, with the limits of the
// reference VM.
func DefaultOptions() Options {
	return Options{
		Passes:    opt.DefaultConfig(),
		MaxStack:  1024,
		MaxLocals: 65535,
		Stackify:  true,
	}
}

// Fingerprint identifies the options that affect generated code.
func (o Options) Fingerprint() string {
	return fmt.Sprintf("joins=%t loop=%t cse=%t stack=%d locals=%d stackify=%t debug=%t",
		o.Passes.Joins, o.Passes.LoopCarried, o.Passes.CoercionCSE,
		o.MaxStack, o.MaxLocals, o.Stackify, o.Debug)
}

// Result is the output of one compilation.
type Result struct {
	// Module is nil when any function failed.
	Module      *bytecode.Module
	Diagnostics diag.List
	Metrics     *Metrics
}

// Compile compiles src. The returned error is the joined diagnostics when
// any function failed; the Result is returned either way.
func Compile(src string, opts Options) (*Result, error) {
	name := opts.Name
	if name == "" {
		name = "<input>"
	}
	start := time.Now()
	s, err := frontend.Parse(name, src)
	if err != nil {
		var diags diag.List
		if !errors.As(err, &diags) {
			return nil, err
		}
		r := &Result{Diagnostics: diags, Metrics: &Metrics{}}
		r.Metrics.record("parse", "", 0, 0, time.Since(start))
		return r, diags.Err()
	}
	m := &Metrics{}
	m.record("parse", "", 0, 0, time.Since(start))
	return compileSource(s, opts, m)
}

// CompileSource compiles an already parsed unit.
func CompileSource(s *frontend.Source, opts Options) (*Result, error) {
	return compileSource(s, opts, &Metrics{})
}

func compileSource(s *frontend.Source, opts Options, m *Metrics) (*Result, error) {
	if opts.Name == "" {
		opts.Name = s.Name
	}
	start := time.Now()
	an := scope.Analyze(s.Program)
	m.record("scope", "", 0, len(an.Functions), time.Since(start))

	start = time.Now()
	u, diags := lower.Build(an, opts.Name)
	m.record("build", "", 0, countInstrs(u), time.Since(start))
	diags = append(append(diag.List(nil), an.Diags...), diags...)

	mod := bytecode.NewModule(opts.Name)
	mod.Chunks = make([]*bytecode.Chunk, len(u.Funcs))
	for _, l := range u.Layouts {
		mod.ScopeLayouts = append(mod.ScopeLayouts, bytecode.ScopeLayout{Names: l.Names, TDZ: l.TDZ})
	}
	for _, e := range u.Exports {
		mod.Exports = append(mod.Exports, bytecode.Export{Name: e.Name, Hint: Hint(e.Kind), Decl: e.Decl})
	}

	for i, f := range u.Funcs {
		if f == nil {
			continue
		}
		c, err := compileFunction(f, opts, m)
		if err != nil {
			diags.Add(toDiag(err, f, s))
			continue
		}
		mod.Chunks[i] = c
	}

	diags.Sort()
	r := &Result{Diagnostics: diags, Metrics: m}
	if diags.HasErrors() {
		log.Noticef("%s: %d diagnostics", opts.Name, len(diags))
		return r, diags.Err()
	}
	r.Module = mod
	log.Debugf("%s: %d functions in %s", opts.Name, len(mod.Chunks), m.Total())
	return r, nil
}

// compileFunction runs the per-function stages after construction.
func compileFunction(f *lir.Function, opts Options, m *Metrics) (*bytecode.Chunk, error) {
	name := f.Name
	if err := lir.Validate(f, lir.StageBuilt); err != nil {
		return nil, err
	}
	f, stats, err := opt.Run(f, opts.Passes)
	for _, st := range stats {
		m.record(st.Pass, name, st.Before, st.After, st.Duration)
	}
	if err != nil {
		return nil, err
	}

	start, before := time.Now(), len(f.Instrs)
	g, sm, err := gen.Lower(f)
	if err != nil {
		return nil, err
	}
	m.record("generator", name, before, len(g.Instrs), time.Since(start))

	start = time.Now()
	a, err := alloc.Allocate(g, alloc.Config{MaxLocals: opts.MaxLocals, Stackify: opts.Stackify})
	if err != nil {
		return nil, err
	}
	m.record("alloc", name, len(g.Instrs), a.Slots(), time.Since(start))

	start = time.Now()
	c, err := emit.Function(g, a, sm, emit.Config{MaxStack: opts.MaxStack, Debug: opts.Debug})
	if err != nil {
		return nil, err
	}
	m.record("emit", name, len(g.Instrs), len(c.Code), time.Since(start))
	log.Debugf("compiled %s: %d slots, max stack %d, %d bytes", displayName(name), c.LocalCount, c.MaxStack, len(c.Code))
	return c, nil
}

// toDiag turns a stage error into a diagnostic of the failing function.
func toDiag(err error, f *lir.Function, s *frontend.Source) *diag.Diagnostic {
	pos := diag.Pos{File: s.Name, Line: f.Pos.Line, Column: f.Pos.Col}
	if d, ok := diag.As(err); ok {
		if d.Pos.File == "" {
			d.Pos.File = s.Name
		}
		if d.Function == "" {
			d.Function = f.Name
		}
		return d
	}
	var ie *lir.InvariantError
	if errors.As(err, &ie) {
		log.Errorf("internal error: %s", ie)
	}
	d := diag.New(diag.PassInvariant, pos, "internal compiler error: %s", err)
	d.Function = f.Name
	return d
}

// Hint is the static type hint exported for a binding kind.
func Hint(k types.Kind) string {
	switch k.Settle() {
	case types.Number:
		return "number"
	case types.Boolean:
		return "boolean"
	}
	return "any"
}

func countInstrs(u *lir.Unit) int {
	n := 0
	for _, f := range u.Funcs {
		if f != nil {
			n += len(f.Instrs)
		}
	}
	return n
}

func displayName(name string) string {
	if name == "" {
		return "<module>"
	}
	return name
}

// Input is one unit for CompileAll.
type Input struct {
	Name string
	Text string
}

// CompileAll compiles independent units in parallel. Results are in input
// order; a unit with diagnostics still has its Result. The returned error
// joins the failures of every unit.
func CompileAll(ctx context.Context, inputs []Input, opts Options) ([]*Result, error) {
	results := make([]*Result, len(inputs))
	errs := make([]error, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	if opts.Jobs > 0 {
		g.SetLimit(opts.Jobs)
	}
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o := opts
			o.Name = in.Name
			r, err := Compile(in.Text, o)
			results[i] = r
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", in.Name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, errors.Join(errs...)
}
