// kiln compiles JavaScript into kiln bytecode, runs it on the reference VM
// and serves the compiler over Connect and LSP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/kiln/cache"
	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/manifest"
	"github.com/chazu/kiln/pkg/bytecode"
	"github.com/chazu/kiln/server"
	"github.com/chazu/kiln/vm"
)

var log = commonlog.GetLogger("kiln")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// verbosity counts repeated -v flags.
type verbosity int

func (v *verbosity) String() string { return strconv.Itoa(int(*v)) }

func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid verbosity %q", s)
	}
	*v = verbosity(n)
	return nil
}

func (v *verbosity) IsBoolFlag() bool { return true }

// cli holds the parsed command line.
type cli struct {
	verbose     verbosity
	disasm      bool
	run         bool
	output      string
	lsp         bool
	serve       bool
	port        int
	interactive bool
	cachePath   string
	noCache     bool
	paths       []string
}

func parseFlags(args []string, stderr io.Writer) (*cli, error) {
	c := &cli{}
	fs := flag.NewFlagSet("kiln", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Var(&c.verbose, "v", "Verbose output (repeat for debug logging)")
	fs.BoolVar(&c.disasm, "disasm", false, "Print the disassembly of every compiled module")
	fs.BoolVar(&c.run, "run", false, "Run the compiled modules in order on one VM")
	fs.StringVar(&c.output, "o", "", "Write the artifact to this file (a directory for several inputs)")
	fs.BoolVar(&c.lsp, "lsp", false, "Start the language server on stdio")
	fs.BoolVar(&c.serve, "serve", false, "Start the compile service (Connect over HTTP)")
	fs.IntVar(&c.port, "port", 4567, "Compile service port (used with -serve)")
	fs.BoolVar(&c.interactive, "i", false, "Start the interactive REPL")
	fs.StringVar(&c.cachePath, "cache", "", "Compile cache database (overrides [build] cache)")
	fs.BoolVar(&c.noCache, "no-cache", false, "Disable the compile cache")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: kiln [options] [paths...]\n\n")
		fmt.Fprintf(stderr, "Compiles .js files from the given paths, or the sources of the kiln.toml project.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  kiln -run main.js             # Compile and run\n")
		fmt.Fprintf(stderr, "  kiln -disasm ./src/...        # Compile recursively, print bytecode\n")
		fmt.Fprintf(stderr, "  kiln -o app.kbc app.js        # Write the artifact\n")
		fmt.Fprintf(stderr, "  kiln -i                       # Start REPL\n")
		fmt.Fprintf(stderr, "  kiln -serve -port 8080        # Serve kiln.v1.CompileService\n")
		fmt.Fprintf(stderr, "  kiln -lsp                     # Language server on stdio\n")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	c.paths = fs.Args()
	return c, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	commonlog.Configure(int(c.verbose), nil)

	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(stderr, "Error loading manifest: %v\n", err)
		return 1
	}
	opts := compiler.DefaultOptions()
	if m != nil {
		opts = m.CompilerOptions()
		log.Infof("project %s (%s)", m.Project.Name, m.Dir)
	}

	if c.lsp {
		if err := server.NewLSP(opts).Run(); err != nil {
			fmt.Fprintf(stderr, "LSP error: %v\n", err)
			return 1
		}
		return 0
	}

	store, err := openCache(c, m)
	if err != nil {
		fmt.Fprintf(stderr, "Error opening cache: %v\n", err)
		return 1
	}
	if store != nil {
		defer store.Close()
	}

	if c.serve {
		sopts := server.DefaultOptions()
		sopts.Compiler = opts
		sopts.Cache = store
		srv := server.New(sopts)
		defer srv.Stop()
		if err := srv.ListenAndServe(fmt.Sprintf(":%d", c.port)); err != nil {
			fmt.Fprintf(stderr, "Server error: %v\n", err)
			return 1
		}
		return 0
	}

	var inputs []compiler.Input
	switch {
	case len(c.paths) > 0:
		inputs, err = inputsFromPaths(c.paths)
	case m != nil && !c.interactive:
		inputs, err = m.Inputs()
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(inputs) == 0 && !c.interactive {
		msg := "no input files"
		if m == nil {
			msg += " and no " + manifest.FileName + " found"
		}
		fmt.Fprintf(stderr, "Error: %s (try kiln -h)\n", msg)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	modules, ok := build(ctx, store, inputs, opts, stderr)
	if !ok {
		return 1
	}
	if int(c.verbose) > 0 && len(modules) > 0 {
		fmt.Fprintf(stderr, "Compiled %d modules\n", len(modules))
	}

	if c.disasm {
		for _, mod := range modules {
			fmt.Fprint(stdout, mod.Disassemble())
		}
	}

	out := c.output
	if out == "" && m != nil && len(c.paths) == 0 && !c.run && !c.disasm && !c.interactive {
		out = m.OutputPath()
	}
	if out != "" {
		if err := writeArtifacts(out, modules); err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	machine := vm.New(vm.Options{Stdout: stdout})
	if c.run {
		if err := runModules(ctx, machine, modules); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
	}

	if c.interactive {
		if err := repl(machine, opts, stdin, stdout, stderr); err != nil {
			fmt.Fprintf(stderr, "REPL error: %v\n", err)
			return 1
		}
	}
	return 0
}

// openCache opens the compile cache named by -cache or the manifest. It
// returns nil when caching is off.
func openCache(c *cli, m *manifest.Manifest) (*cache.Cache, error) {
	if c.noCache {
		return nil, nil
	}
	path := c.cachePath
	if path == "" && m != nil {
		path = m.CachePath()
	}
	if path == "" {
		return nil, nil
	}
	log.Debugf("cache %s", path)
	return cache.Open(path)
}

// inputsFromPaths collects .js and .mjs files. A path ending in /...
// is walked recursively; a plain directory contributes its own files only.
func inputsFromPaths(paths []string) ([]compiler.Input, error) {
	var inputs []compiler.Input
	for _, p := range paths {
		files, err := sourceFiles(p)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			data, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			inputs = append(inputs, compiler.Input{Name: filepath.ToSlash(f), Text: string(data)})
		}
	}
	return inputs, nil
}

func sourceFiles(path string) ([]string, error) {
	recursive := false
	if strings.HasSuffix(path, "/...") {
		recursive = true
		path = strings.TrimSuffix(path, "/...")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot access %q: %w", path, err)
	}
	if !info.IsDir() {
		if !isSource(path) {
			return nil, fmt.Errorf("%q is not a .js file", path)
		}
		return []string{path}, nil
	}

	var files []string
	if recursive {
		err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() && p != path && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !d.IsDir() && isSource(p) {
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %q: %w", path, err)
		}
		return files, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	for _, e := range entries {
		if !e.IsDir() && isSource(e.Name()) {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	return files, nil
}

func isSource(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".js" || ext == ".mjs"
}

// build compiles every input, printing diagnostics to stderr. It reports
// false when any input failed.
func build(ctx context.Context, store *cache.Cache, inputs []compiler.Input, opts compiler.Options, stderr io.Writer) ([]*bytecode.Module, bool) {
	results, err := compileInputs(ctx, store, inputs, opts)
	var modules []*bytecode.Module
	for _, res := range results {
		if res == nil {
			continue
		}
		for _, d := range res.Diagnostics {
			fmt.Fprintln(stderr, d.Error())
		}
		if res.Module != nil {
			modules = append(modules, res.Module)
			log.Debugf("%s\n%s", res.Module.Name, res.Metrics)
		}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(stderr, "interrupted")
		}
		log.Noticef("build failed: %d of %d inputs compiled", len(modules), len(inputs))
		return nil, false
	}
	return modules, true
}

// compileInputs compiles in parallel when there is no cache. With a cache
// the inputs go through it one at a time, since the database serializes
// writes anyway.
func compileInputs(ctx context.Context, store *cache.Cache, inputs []compiler.Input, opts compiler.Options) ([]*compiler.Result, error) {
	if store == nil {
		return compiler.CompileAll(ctx, inputs, opts)
	}
	results := make([]*compiler.Result, len(inputs))
	var errs []error
	for i, in := range inputs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		o := opts
		o.Name = in.Name
		res, entry, err := store.Compile(in.Text, o)
		results[i] = res
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", in.Name, err))
			continue
		}
		if entry != nil && entry.Hit {
			log.Infof("%s: cached (%s)", in.Name, entry.Content.Short())
		}
	}
	return results, errors.Join(errs...)
}

// writeArtifacts writes one module to out, or several into the directory
// out as <source name>.kbc.
func writeArtifacts(out string, modules []*bytecode.Module) error {
	if len(modules) == 1 {
		return writeArtifact(out, modules[0])
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, mod := range modules {
		name := strings.TrimSuffix(filepath.Base(mod.Name), filepath.Ext(mod.Name)) + ".kbc"
		if err := writeArtifact(filepath.Join(out, name), mod); err != nil {
			return err
		}
	}
	return nil
}

func writeArtifact(path string, mod *bytecode.Module) error {
	data, err := mod.Serialize()
	if err != nil {
		return fmt.Errorf("serialize %s: %w", mod.Name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	log.Infof("wrote %s (%d bytes)", path, len(data))
	return nil
}

// runModules loads and runs each module on machine in order. Globals one
// module assigns are visible to the next.
func runModules(ctx context.Context, machine *vm.VM, modules []*bytecode.Module) error {
	stop := context.AfterFunc(ctx, machine.Interrupt)
	defer stop()
	for _, mod := range modules {
		if err := machine.Load(mod); err != nil {
			return fmt.Errorf("load %s: %w", mod.Name, err)
		}
		if _, err := machine.Run(); err != nil {
			return fmt.Errorf("%s: %w", mod.Name, err)
		}
	}
	return nil
}
