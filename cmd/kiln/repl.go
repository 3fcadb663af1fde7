package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dop251/goja/ast"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/frontend"
	"github.com/chazu/kiln/vm"
)

// replSession compiles and runs REPL inputs on one VM. Every input is its
// own module, so only implicit globals carry over between inputs.
type replSession struct {
	machine *vm.VM
	opts    compiler.Options
	stdout  io.Writer
	stderr  io.Writer
	disasm  bool
	count   int
}

// repl runs the read-eval-print loop until EOF or :quit.
func repl(machine *vm.VM, opts compiler.Options, stdin io.Reader, stdout, stderr io.Writer) error {
	cfg := &readline.Config{
		Prompt:          ">> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		Stdin:           io.NopCloser(stdin),
		Stdout:          stdout,
		Stderr:          stderr,
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem(":help"),
			readline.PcItem(":disasm"),
			readline.PcItem(":globals"),
			readline.PcItem(":quit"),
		),
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, ".kiln_history")
	}
	rl, err := readline.NewEx(cfg)
	if err != nil {
		return err
	}
	defer rl.Close()

	interrupted := make(chan os.Signal, 1)
	signal.Notify(interrupted, os.Interrupt)
	defer signal.Stop(interrupted)
	go func() {
		for range interrupted {
			machine.Interrupt()
		}
	}()

	s := &replSession{machine: machine, opts: opts, stdout: stdout, stderr: stderr}
	fmt.Fprintln(stdout, "kiln REPL (type :help for commands)")

	var buf strings.Builder
	for {
		if buf.Len() == 0 {
			rl.SetPrompt(">> ")
		} else {
			rl.SetPrompt(".. ")
		}
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			buf.Reset()
			continue
		}
		if err != nil {
			break
		}

		if buf.Len() == 0 {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if strings.HasPrefix(trimmed, ":") {
				if !s.command(trimmed) {
					break
				}
				continue
			}
		}
		if buf.Len() > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(line)
		if s.eval(buf.String()) {
			buf.Reset()
		}
	}
	fmt.Fprintln(stdout)
	return nil
}

// command handles a REPL meta-command. It returns false to end the loop.
func (s *replSession) command(cmd string) bool {
	switch cmd {
	case ":help", ":h", ":?":
		fmt.Fprintln(s.stdout, "REPL Commands:")
		fmt.Fprintln(s.stdout, "  :help, :h, :?   Show this help")
		fmt.Fprintln(s.stdout, "  :disasm         Toggle printing the bytecode of each input")
		fmt.Fprintln(s.stdout, "  :globals        List the global names")
		fmt.Fprintln(s.stdout, "  :quit, :q       Exit")
	case ":disasm":
		s.disasm = !s.disasm
		fmt.Fprintf(s.stdout, "disassembly %s\n", map[bool]string{true: "on", false: "off"}[s.disasm])
	case ":globals":
		fmt.Fprintln(s.stdout, strings.Join(s.machine.GlobalNames(), " "))
	case ":quit", ":q":
		return false
	default:
		fmt.Fprintf(s.stdout, "Unknown command: %s (type :help for commands)\n", cmd)
	}
	return true
}

// eval compiles and runs one input. It returns false when the input is
// incomplete and the caller should read another line.
func (s *replSession) eval(src string) bool {
	s.count++
	name := fmt.Sprintf("<repl:%d>", s.count)

	parsed, err := frontend.Parse(name, src)
	if err != nil {
		if incomplete(err) {
			s.count--
			return false
		}
		s.report(err)
		return true
	}
	// A lone expression is stored in _ so its value can be printed.
	expr := soleExpr(parsed.Program)
	if expr != nil {
		src = "_ = (" + src[int(expr.Idx0())-1:int(expr.Idx1())-1] + ");"
	}

	opts := s.opts
	opts.Name = name
	res, err := compiler.Compile(src, opts)
	if err != nil {
		s.report(err)
		return true
	}
	if s.disasm {
		fmt.Fprint(s.stdout, res.Module.Disassemble())
	}

	s.machine.ClearInterrupt()
	if err := s.machine.Load(res.Module); err != nil {
		s.report(err)
		return true
	}
	if _, err := s.machine.Run(); err != nil {
		s.report(err)
		return true
	}
	if expr != nil {
		if v, ok := s.machine.Global("_"); ok && v != vm.Undefined {
			fmt.Fprintln(s.stdout, vm.Inspect(v))
		}
	}
	return true
}

func (s *replSession) report(err error) {
	var diags diag.List
	if errors.As(err, &diags) {
		for _, d := range diags {
			fmt.Fprintln(s.stderr, d.Error())
		}
		return
	}
	if errors.Is(err, vm.ErrInterrupted) {
		fmt.Fprintln(s.stderr, "interrupted")
		return
	}
	fmt.Fprintln(s.stderr, err)
}

// incomplete reports whether a parse failed only because the input ended
// early, as with an unclosed brace.
func incomplete(err error) bool {
	var diags diag.List
	if !errors.As(err, &diags) {
		return false
	}
	for _, d := range diags {
		if strings.Contains(d.Message, "Unexpected end of input") {
			return true
		}
	}
	return false
}

func soleExpr(prog *ast.Program) ast.Expression {
	if len(prog.Body) != 1 {
		return nil
	}
	if stmt, ok := prog.Body[0].(*ast.ExpressionStatement); ok {
		return stmt.Expression
	}
	return nil
}
