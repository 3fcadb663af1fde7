// Package frontend adapts the goja JavaScript parser to the compiler. The AST
// it returns is the input contract of every later stage; no stage re-parses.
package frontend

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chazu/kiln/compiler/diag"
	"github.com/dop251/goja/ast"
	"github.com/dop251/goja/file"
	"github.com/dop251/goja/parser"
)

// Source is a parsed compilation unit.
type Source struct {
	Name    string
	Text    string
	Program *ast.Program
}

// Parse parses src as a script. Syntax errors are returned as a diag.List
// with one entry per parser error.
func Parse(name, src string) (*Source, error) {
	prog, err := parser.ParseFile(nil, name, src, 0)
	if err != nil {
		var list parser.ErrorList
		if errors.As(err, &list) {
			var diags diag.List
			for _, e := range list {
				diags.Add(&diag.Diagnostic{
					Kind:    kindOf(e.Message),
					Pos:     diag.Pos{File: e.Position.Filename, Line: e.Position.Line, Column: e.Position.Column},
					Message: e.Message,
				})
			}
			return nil, diags
		}
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &Source{Name: name, Text: src, Program: prog}, nil
}

// kindOf classifies parser messages that name a binding error.
func kindOf(msg string) diag.Kind {
	switch {
	case strings.HasPrefix(msg, "Invalid destructuring"):
		return diag.InvalidDestructure
	case strings.HasPrefix(msg, "Undefined label"):
		return diag.UndefinedLabel
	case strings.HasPrefix(msg, "Illegal break"), strings.HasPrefix(msg, "Illegal continue"):
		return diag.IllegalBreak
	}
	return diag.Syntax
}

// ParseFile reads and parses a file from disk.
func ParseFile(path string) (*Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return Parse(path, string(data))
}

// Position resolves a node index to a diagnostic position.
func (s *Source) Position(idx file.Idx) diag.Pos {
	return PositionIn(s.Program.File, idx)
}

// PositionIn resolves idx within f. A nil file or zero index yields the
// unknown position.
func PositionIn(f *file.File, idx file.Idx) diag.Pos {
	if f == nil || idx == 0 {
		return diag.Pos{}
	}
	p := f.Position(int(idx) - f.Base())
	return diag.Pos{File: p.Filename, Line: p.Line, Column: p.Column}
}
