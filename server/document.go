package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dop251/goja/ast"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/compiler/frontend"
	"github.com/chazu/kiln/compiler/scope"
)

// document is an open editor buffer with the results of compiling it.
type document struct {
	name  string
	text  string
	src   *frontend.Source // nil on a syntax error
	an    *scope.Analysis
	diags diag.List
	res   *compiler.Result
}

// analyzeDocument parses, analyzes and compiles text.
func analyzeDocument(name, text string, opts compiler.Options) *document {
	d := &document{name: name, text: text}
	src, err := frontend.Parse(name, text)
	if err != nil {
		if !errors.As(err, &d.diags) {
			d.diags.Addf(diag.Syntax, diag.Pos{File: name}, "%s", err)
		}
		return d
	}
	d.src = src
	d.an = scope.Analyze(src.Program)

	opts.Name = name
	res, _ := compiler.CompileSource(src, opts)
	d.res = res
	if res != nil {
		d.diags = res.Diagnostics
	}
	return d
}

// identAt returns the identifier covering the 1-based line and column.
func (d *document) identAt(line, col int) *ast.Identifier {
	if d.an == nil {
		return nil
	}
	for id := range d.an.Refs {
		p := d.src.Position(id.Idx)
		if p.Line == line && col >= p.Column && col < p.Column+len(id.Name) {
			return id
		}
	}
	return nil
}

// bindingAt returns the binding named at a position.
func (d *document) bindingAt(line, col int) *scope.Binding {
	if id := d.identAt(line, col); id != nil {
		return d.an.Refs[id]
	}
	return nil
}

// references lists the positions of every identifier naming b, sorted.
func (d *document) references(b *scope.Binding) []diag.Pos {
	var out []diag.Pos
	for id, rb := range d.an.Refs {
		if rb == b {
			out = append(out, d.src.Position(id.Idx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		return out[i].Column < out[j].Column
	})
	return out
}

// bindings lists the user bindings of the document.
func (d *document) bindings() []*scope.Binding {
	if d.an == nil {
		return nil
	}
	var out []*scope.Binding
	for _, b := range d.an.Bindings {
		if !b.IsInternal() {
			out = append(out, b)
		}
	}
	return out
}

// describe renders hover text for b.
func describe(b *scope.Binding) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "```js\n%s %s\n```\n\n", b.Decl, b.Name)
	fmt.Fprintf(&sb, "type hint: `%s`  \nstorage: %s", b.Hint.Settle(), b.Storage)
	var notes []string
	if b.Captured {
		notes = append(notes, "captured by a closure")
	}
	if b.PerIteration {
		notes = append(notes, "fresh binding per loop iteration")
	}
	if b.TDZ {
		notes = append(notes, "temporal dead zone")
	}
	if len(notes) > 0 {
		sb.WriteString("  \n")
		sb.WriteString(strings.Join(notes, ", "))
	}
	return sb.String()
}
