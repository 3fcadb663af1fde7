package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/hash"
	"github.com/chazu/kiln/vm"
)

// CompileService implements kiln.v1.CompileService.
type CompileService struct {
	srv *Server
}

// Compile compiles one unit and returns its artifact, or its diagnostics
// when a function failed.
func (s *CompileService) Compile(
	ctx context.Context,
	req *connect.Request[CompileRequest],
) (*connect.Response[CompileResponse], error) {
	msg := req.Msg
	if msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	opts := s.srv.compilerOptions(msg.Name, msg.Passes)
	opts.Debug = opts.Debug || msg.Debug

	res, entry, err := s.srv.opts.Cache.Compile(msg.Source, opts)
	if res == nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp := &CompileResponse{Diagnostics: wireDiagnostics(res.Diagnostics)}
	if err != nil {
		log.Debugf("compile %s: %d diagnostics", opts.Name, len(res.Diagnostics))
		return connect.NewResponse(resp), nil
	}

	m := res.Module
	artifact, err := m.Serialize()
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	resp.OK = true
	resp.Artifact = artifact
	if entry != nil {
		resp.BuildID = entry.BuildID.String()
		resp.Cached = entry.Hit
		resp.ContentHash = entry.Content.String()
	} else {
		resp.BuildID = uuid.NewString()
		resp.ContentHash = hash.Module(m).String()
	}
	for _, e := range m.Exports {
		resp.Exports = append(resp.Exports, Export{Name: e.Name, Hint: e.Hint, Decl: e.Decl})
	}
	if msg.Disassemble {
		resp.Disassembly = m.Disassemble()
	}
	log.Debugf("compile %s: build %s cached=%t", opts.Name, resp.BuildID, resp.Cached)
	return connect.NewResponse(resp), nil
}

// Run compiles a unit and runs it in a fresh VM.
func (s *CompileService) Run(
	ctx context.Context,
	req *connect.Request[RunRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	if msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	ctx, cancel := context.WithTimeout(ctx, s.srv.opts.RunTimeout)
	defer cancel()
	if err := s.srv.runs.Acquire(ctx, 1); err != nil {
		return nil, connect.NewError(connect.CodeResourceExhausted, err)
	}
	defer s.srv.runs.Release(1)

	machine := vm.New(vm.Options{MaxDepth: s.srv.opts.MaxDepth})
	stop := context.AfterFunc(ctx, machine.Interrupt)
	defer stop()

	resp, err := s.srv.execute(ctx, machine, msg.Name, msg.Source)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(resp), nil
}

// execute compiles src and runs it on machine, which the caller owns.
// Script failures are reported in the response; the error is reserved for
// timeouts and server faults.
func (s *Server) execute(ctx context.Context, machine *vm.VM, name, src string) (*RunResponse, error) {
	opts := s.compilerOptions(name, nil)
	res, _, err := s.opts.Cache.Compile(src, opts)
	if res == nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	if err != nil {
		return &RunResponse{Diagnostics: wireDiagnostics(res.Diagnostics), Error: err.Error()}, nil
	}

	out := &limitedBuffer{max: s.opts.MaxOutput}
	machine.SetStdout(out)
	defer machine.SetStdout(io.Discard)

	resp := &RunResponse{}
	if err := machine.Load(res.Module); err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	result, err := machine.Run()
	resp.Output = out.String()
	switch {
	case err == nil:
		resp.OK = true
		if result != vm.Undefined {
			resp.Result = vm.Inspect(result)
		}
	case errors.Is(err, vm.ErrInterrupted):
		code := connect.CodeDeadlineExceeded
		if errors.Is(ctx.Err(), context.Canceled) {
			code = connect.CodeCanceled
		}
		return nil, connect.NewError(code, fmt.Errorf("run %s: %w", opts.Name, err))
	default:
		if _, ok := vm.AsException(err); !ok {
			log.Warningf("run %s: %s", opts.Name, err)
		}
		resp.Error = err.Error()
	}
	return resp, nil
}

// compilerOptions applies a request's overrides to the server defaults.
func (s *Server) compilerOptions(name string, p *PassSelection) compiler.Options {
	opts := s.opts.Compiler
	if name == "" {
		name = "<request>"
	}
	opts.Name = name
	if p != nil {
		if p.Joins != nil {
			opts.Passes.Joins = *p.Joins
		}
		if p.LoopCarried != nil {
			opts.Passes.LoopCarried = *p.LoopCarried
		}
		if p.CoercionCSE != nil {
			opts.Passes.CoercionCSE = *p.CoercionCSE
		}
	}
	return opts
}

func wireDiagnostics(ds diag.List) []Diagnostic {
	out := make([]Diagnostic, 0, len(ds))
	for _, d := range ds {
		out = append(out, Diagnostic{
			Kind:     string(d.Kind),
			Severity: d.Severity.String(),
			File:     d.Pos.File,
			Line:     d.Pos.Line,
			Column:   d.Pos.Column,
			Function: d.Function,
			Message:  d.Message,
		})
	}
	return out
}

// limitedBuffer keeps the first max bytes written and drops the rest.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if room := b.max - b.buf.Len(); room < len(p) {
		b.truncated = true
		if room > 0 {
			b.buf.Write(p[:room])
		}
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) String() string {
	if b.truncated {
		return b.buf.String() + "\n[output truncated]\n"
	}
	return b.buf.String()
}
