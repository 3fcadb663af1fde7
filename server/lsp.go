package server

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/compiler/diag"
	"github.com/chazu/kiln/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "kiln-lsp"

// LspServer compiles open documents on every change and publishes their
// diagnostics. Hover, definition, references and completion come from the
// scope analysis of the last version of each document.
type LspServer struct {
	opts    compiler.Options
	globals []string

	mu   sync.Mutex
	docs map[string]*document // URI → last analysis

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server compiling with opts.
func NewLSP(opts compiler.Options) *LspServer {
	s := &LspServer{
		opts:    opts,
		globals: vm.New(vm.Options{}).GlobalNames(),
		docs:    make(map[string]*document),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "kiln LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := s.update(params.TextDocument.URI, params.TextDocument.Text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, doc)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.update(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, doc)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// update compiles the new text of a document and stores the result.
func (s *LspServer) update(uri protocol.DocumentUri, text string) *document {
	doc := analyzeDocument(documentName(uri), text, s.opts)
	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()
	return doc
}

func (s *LspServer) document(uri protocol.DocumentUri) *document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(doc, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	line, col := fromPosition(params.Position)
	if b := doc.bindingAt(line, col); b != nil {
		return &protocol.Hover{
			Contents: protocol.MarkupContent{
				Kind:  protocol.MarkupKindMarkdown,
				Value: describe(b),
			},
		}, nil
	}

	word := extractWord(doc.text, params.Position)
	i := sort.SearchStrings(s.globals, word)
	if word == "" || i == len(s.globals) || s.globals[i] != word {
		return nil, nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: "```js\n" + word + "\n```\n\nbuilt-in global",
		},
	}, nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	b := doc.bindingAt(fromPosition(params.Position))
	if b == nil || !b.Pos.IsValid() {
		return nil, nil
	}
	return []protocol.Location{location(params.TextDocument.URI, b.Pos, len(b.Name))}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	doc := s.document(params.TextDocument.URI)
	if doc == nil {
		return nil, nil
	}
	b := doc.bindingAt(fromPosition(params.Position))
	if b == nil {
		return nil, nil
	}

	var locations []protocol.Location
	for _, p := range doc.references(b) {
		if !params.Context.IncludeDeclaration && p == b.Pos {
			continue
		}
		locations = append(locations, location(params.TextDocument.URI, p, len(b.Name)))
	}
	return locations, nil
}

func (s *LspServer) complete(doc *document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)
	seen := map[string]bool{}

	// Document bindings
	for _, b := range doc.bindings() {
		if seen[b.Name] || !strings.HasPrefix(strings.ToLower(b.Name), lowerPrefix) {
			continue
		}
		seen[b.Name] = true
		kind := protocol.CompletionItemKindVariable
		switch b.Decl.String() {
		case "function":
			kind = protocol.CompletionItemKindFunction
		case "class":
			kind = protocol.CompletionItemKindClass
		case "const":
			kind = protocol.CompletionItemKindConstant
		}
		detail := b.Decl.String() + " " + b.Hint.Settle().String()
		name := b.Name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}

	// Built-in globals
	for _, g := range s.globals {
		if seen[g] || !strings.HasPrefix(strings.ToLower(g), lowerPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindVariable
		detail := "global"
		name := g
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, doc *document) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: toProtocol(doc.diags),
	})
}

// toProtocol converts compile diagnostics to LSP diagnostics.
func toProtocol(ds diag.List) []protocol.Diagnostic {
	out := []protocol.Diagnostic{}
	source := lspName
	for _, d := range ds {
		severity := protocol.DiagnosticSeverityError
		if d.Severity == diag.Warning {
			severity = protocol.DiagnosticSeverityWarning
		}
		msg := d.Message
		if d.Function != "" {
			msg = "in " + d.Function + ": " + msg
		}
		code := protocol.IntegerOrString{Value: string(d.Kind)}
		start := toPosition(d.Pos)
		out = append(out, protocol.Diagnostic{
			Range:    protocol.Range{Start: start, End: start},
			Severity: &severity,
			Code:     &code,
			Source:   &source,
			Message:  msg,
		})
	}
	return out
}

// --- Position helpers ---

// fromPosition converts a 0-based LSP position to 1-based line and column.
func fromPosition(p protocol.Position) (int, int) {
	return int(p.Line) + 1, int(p.Character) + 1
}

func toPosition(p diag.Pos) protocol.Position {
	if !p.IsValid() {
		return protocol.Position{}
	}
	col := p.Column - 1
	if col < 0 {
		col = 0
	}
	return protocol.Position{Line: protocol.UInteger(p.Line - 1), Character: protocol.UInteger(col)}
}

func location(uri protocol.DocumentUri, p diag.Pos, n int) protocol.Location {
	start := toPosition(p)
	end := start
	end.Character += protocol.UInteger(n)
	return protocol.Location{URI: uri, Range: protocol.Range{Start: start, End: end}}
}

// documentName is the unit name used in diagnostics for a document URI.
func documentName(uri protocol.DocumentUri) string {
	s := string(uri)
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}

	if start == col {
		return ""
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}

	if start == end {
		return ""
	}

	return line[start:end]
}

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '$'
}

func boolPtr(b bool) *bool {
	return &b
}
