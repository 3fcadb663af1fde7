package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/pkg/bytecode"
	"github.com/chazu/kiln/vm"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, strings.NewReader(""), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunFlag(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, "lib/a.js", `greeting = "hi";`)
	writeFile(t, "lib/b.js", `console.log(greeting, 1 + 2);`)

	code, stdout, stderr := runCLI(t, "-run", "lib")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if stdout != "hi 3\n" {
		t.Errorf("stdout = %q", stdout)
	}
}

func TestRunFlag_Exception(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "boom.js", `throw new RangeError("nope")`)

	code, _, stderr := runCLI(t, "-run", "boom.js")
	if code != 1 || !strings.Contains(stderr, "Uncaught RangeError: nope") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}

func TestCompileErrorsPrinted(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "bad.js", "function f() { with (o) {} }\n")

	code, _, stderr := runCLI(t, "bad.js")
	if code != 1 {
		t.Errorf("exit %d", code)
	}
	if !strings.Contains(stderr, "bad.js:1") || !strings.Contains(stderr, "with") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestDisasmAndOutput(t *testing.T) {
	t.Chdir(t.TempDir())
	writeFile(t, "sq.js", `function sq(x) { return x * x } result = sq(4);`)

	code, stdout, stderr := runCLI(t, "-disasm", "-o", "sq.kbc", "sq.js")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	if !strings.Contains(stdout, "sq") {
		t.Errorf("disassembly does not mention sq:\n%s", stdout)
	}
	data, err := os.ReadFile("sq.kbc")
	if err != nil {
		t.Fatal(err)
	}
	m, err := bytecode.Deserialize(data)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	machine := vm.New(vm.Options{})
	if err := machine.Load(m); err != nil {
		t.Fatal(err)
	}
	if _, err := machine.Run(); err != nil {
		t.Fatal(err)
	}
	if got, _ := machine.Global("result"); got != 16.0 {
		t.Errorf("result = %v, want 16", got)
	}
}

func TestManifestBuild(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	writeFile(t, "kiln.toml", `
[project]
name = "app"

[source]
dirs = ["src"]
entry = "src/main.js"

[build]
cache = ".kiln/cache.db"
`)
	writeFile(t, "src/main.js", `console.log("main")`)
	writeFile(t, "src/util.js", `util = 1;`)
	if err := os.MkdirAll(".kiln", 0o755); err != nil {
		t.Fatal(err)
	}

	code, _, stderr := runCLI(t)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, stderr)
	}
	for _, name := range []string{"main.kbc", "util.kbc"} {
		if _, err := os.Stat(filepath.Join(dir, "app.kbc", name)); err != nil {
			t.Errorf("artifact %s: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, ".kiln", "cache.db")); err != nil {
		t.Errorf("cache database: %v", err)
	}

	// A second build is served from the cache and prints the same output.
	code, stdout, stderr := runCLI(t, "-run")
	if code != 0 || stdout != "main\n" {
		t.Errorf("second build: exit %d, stdout %q, stderr %q", code, stdout, stderr)
	}
}

func TestNoInputs(t *testing.T) {
	t.Chdir(t.TempDir())
	code, _, stderr := runCLI(t)
	if code != 2 || !strings.Contains(stderr, "no input files") {
		t.Errorf("exit %d, stderr %q", code, stderr)
	}
}

func TestVerbosityFlag(t *testing.T) {
	c, err := parseFlags([]string{"-v", "-v", "x.js"}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if c.verbose != 2 || len(c.paths) != 1 {
		t.Errorf("verbose = %d, paths = %v", c.verbose, c.paths)
	}
}

func TestSourceFilesRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.js"), "1")
	writeFile(t, filepath.Join(dir, "sub", "b.mjs"), "2")
	writeFile(t, filepath.Join(dir, "sub", "notes.txt"), "")
	writeFile(t, filepath.Join(dir, ".hidden", "c.js"), "3")

	flat, err := sourceFiles(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(flat) != 1 {
		t.Errorf("flat = %v", flat)
	}
	deep, err := sourceFiles(dir + "/...")
	if err != nil {
		t.Fatal(err)
	}
	if len(deep) != 2 {
		t.Errorf("recursive = %v", deep)
	}
}

func TestREPLSession(t *testing.T) {
	var out, errOut bytes.Buffer
	s := &replSession{
		machine: vm.New(vm.Options{Stdout: &out}),
		opts:    compiler.DefaultOptions(),
		stdout:  &out,
		stderr:  &errOut,
	}

	steps := []struct {
		input    string
		complete bool
	}{
		{"x = 20", true},
		{"function twice(n) {", false},
		{"function twice(n) {\n  return n * 2\n}\nf = twice;", true},
		{"f(x) + 2;", true},
		{`console.log("hi")`, true},
	}
	for _, step := range steps {
		if got := s.eval(step.input); got != step.complete {
			t.Errorf("eval(%q) = %t, want %t", step.input, got, step.complete)
		}
	}
	if errOut.Len() > 0 {
		t.Errorf("stderr = %q", errOut.String())
	}
	if want := "20\n42\nhi\n"; out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}

	out.Reset()
	s.eval("with (o) {}")
	if !strings.Contains(errOut.String(), "with") {
		t.Errorf("compile error not reported: %q", errOut.String())
	}
}

func TestREPLCommands(t *testing.T) {
	var out bytes.Buffer
	s := &replSession{machine: vm.New(vm.Options{}), opts: compiler.DefaultOptions(), stdout: &out, stderr: &out}
	if !s.command(":disasm") || !s.disasm {
		t.Error(":disasm should turn disassembly on")
	}
	s.command(":globals")
	if !strings.Contains(out.String(), "console") {
		t.Errorf(":globals output = %q", out.String())
	}
	if s.command(":quit") {
		t.Error(":quit should end the loop")
	}
}
