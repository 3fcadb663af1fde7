// Package diag defines the diagnostics produced by the kiln compiler.
//
// Every diagnostic carries a stable Kind tag, the offending source position
// and a human-readable message. Diagnostics are plain values: the pipeline
// collects them per function and reports them together at the end of a
// compilation run.
package diag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind is the stable tag of a diagnostic.
type Kind string

const (
	// Binding errors (scope analysis).
	Redeclaration      Kind = "redeclaration"
	ConstAssignment    Kind = "const-assignment"
	InvalidDestructure Kind = "invalid-destructuring-target"
	UndefinedLabel     Kind = "undefined-label"
	IllegalBreak       Kind = "illegal-break"
	UnsupportedSyntax  Kind = "unsupported-syntax"
	Syntax             Kind = "syntax"

	// Internal compiler defects.
	PassInvariant Kind = "pass-invariant"

	// Target capacity.
	StackDepthExceeded Kind = "stack-depth-exceeded"
	SlotCountExceeded  Kind = "slot-count-exceeded"
)

// Severity of a diagnostic.
type Severity int

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Pos is a source position. Line and Column are 1-based; the zero value means
// "unknown".
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	if p.Line == 0 {
		if p.File == "" {
			return "-"
		}
		return p.File
	}
	if p.File == "" {
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// IsValid reports whether the position refers to a source line.
func (p Pos) IsValid() bool { return p.Line > 0 }

// Diagnostic is a single compile error or warning.
type Diagnostic struct {
	Kind     Kind
	Severity Severity
	Pos      Pos
	Function string // enclosing function, "" for the module body
	Message  string
}

// Error implements the error interface.
func (d *Diagnostic) Error() string {
	var sb strings.Builder
	sb.WriteString(d.Pos.String())
	sb.WriteString(": ")
	sb.WriteString(d.Severity.String())
	sb.WriteString(" [")
	sb.WriteString(string(d.Kind))
	sb.WriteString("] ")
	if d.Function != "" {
		sb.WriteString("in ")
		sb.WriteString(d.Function)
		sb.WriteString(": ")
	}
	sb.WriteString(d.Message)
	return sb.String()
}

// IsCapacity reports whether the diagnostic is a target-capacity error.
func (d *Diagnostic) IsCapacity() bool {
	return d.Kind == StackDepthExceeded || d.Kind == SlotCountExceeded
}

// New creates an error diagnostic.
func New(kind Kind, pos Pos, format string, args ...any) *Diagnostic {
	return &Diagnostic{Kind: kind, Pos: pos, Message: fmt.Sprintf(format, args...)}
}

// As extracts a Diagnostic from an error chain.
func As(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}

// List is an ordered collection of diagnostics.
type List []*Diagnostic

// Add appends a diagnostic.
func (l *List) Add(d *Diagnostic) {
	*l = append(*l, d)
}

// Addf appends a new error diagnostic.
func (l *List) Addf(kind Kind, pos Pos, format string, args ...any) {
	l.Add(New(kind, pos, format, args...))
}

// HasErrors reports whether the list contains at least one error.
func (l List) HasErrors() bool {
	for _, d := range l {
		if d.Severity == Error {
			return true
		}
	}
	return false
}

// Filter returns the diagnostics of the given kind.
func (l List) Filter(kind Kind) List {
	var out List
	for _, d := range l {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// Sort orders diagnostics by position, keeping insertion order for ties.
func (l List) Sort() {
	sort.SliceStable(l, func(i, j int) bool {
		a, b := l[i].Pos, l[j].Pos
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		return a.Column < b.Column
	})
}

// Err returns the list as a single error, or nil when it holds no errors.
func (l List) Err() error {
	if !l.HasErrors() {
		return nil
	}
	errs := make([]error, 0, len(l))
	for _, d := range l {
		if d.Severity == Error {
			errs = append(errs, d)
		}
	}
	return errors.Join(errs...)
}

func (l List) Error() string {
	lines := make([]string, len(l))
	for i, d := range l {
		lines[i] = d.Error()
	}
	return strings.Join(lines, "\n")
}
