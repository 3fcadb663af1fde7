package server

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/kiln/cache"
	"github.com/chazu/kiln/pkg/bytecode"
)

func newTestServer(t *testing.T, opts Options) (
	*Server,
	*connect.Client[CompileRequest, CompileResponse],
	*connect.Client[RunRequest, RunResponse],
	string,
) {
	t.Helper()
	srv := New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
	})
	compile, run := NewCompileClients(ts.Client(), ts.URL)
	return srv, compile, run, ts.URL
}

func TestCompile(t *testing.T) {
	_, compile, _, _ := newTestServer(t, DefaultOptions())

	resp, err := compile.CallUnary(context.Background(), connect.NewRequest(&CompileRequest{
		Name:        "add.js",
		Source:      `const limit = 3; function add(a, b) { return a + b }`,
		Disassemble: true,
	}))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	msg := resp.Msg
	if !msg.OK {
		t.Fatalf("OK = false, diagnostics %v", msg.Diagnostics)
	}
	if msg.BuildID == "" || msg.ContentHash == "" {
		t.Errorf("missing build id or content hash: %+v", msg)
	}
	m, err := bytecode.Deserialize(msg.Artifact)
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if m.Name != "add.js" {
		t.Errorf("module name = %q", m.Name)
	}
	if !strings.Contains(msg.Disassembly, "add") {
		t.Errorf("disassembly does not mention add:\n%s", msg.Disassembly)
	}
	found := false
	for _, e := range msg.Exports {
		if e.Name == "limit" && e.Hint == "number" && e.Decl == "const" {
			found = true
		}
	}
	if !found {
		t.Errorf("exports = %+v, want limit as a number const", msg.Exports)
	}
}

func TestCompile_Diagnostics(t *testing.T) {
	_, compile, _, _ := newTestServer(t, DefaultOptions())

	resp, err := compile.CallUnary(context.Background(), connect.NewRequest(&CompileRequest{
		Name:   "bad.js",
		Source: "function ok() {}\nfunction bad() { with (o) {} }\n",
	}))
	if err != nil {
		t.Fatalf("a failed compilation should not be an RPC error: %v", err)
	}
	msg := resp.Msg
	if msg.OK || len(msg.Artifact) != 0 {
		t.Fatal("expected no artifact")
	}
	if len(msg.Diagnostics) != 1 {
		t.Fatalf("diagnostics = %+v", msg.Diagnostics)
	}
	d := msg.Diagnostics[0]
	if d.Kind != "unsupported-syntax" || d.Severity != "error" || d.Function != "bad" || d.Line != 2 || d.File != "bad.js" {
		t.Errorf("diagnostic = %+v", d)
	}
}

func TestCompile_EmptySource(t *testing.T) {
	_, compile, _, _ := newTestServer(t, DefaultOptions())

	_, err := compile.CallUnary(context.Background(), connect.NewRequest(&CompileRequest{Name: "x.js"}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestCompile_Cached(t *testing.T) {
	c, err := cache.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	opts := DefaultOptions()
	opts.Cache = c
	_, compile, _, _ := newTestServer(t, opts)

	req := &CompileRequest{Name: "c.js", Source: `result = [1, 2].map(x => x * 2);`}
	first, err := compile.CallUnary(context.Background(), connect.NewRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	second, err := compile.CallUnary(context.Background(), connect.NewRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	if first.Msg.Cached || !second.Msg.Cached {
		t.Errorf("cached = %t then %t, want false then true", first.Msg.Cached, second.Msg.Cached)
	}
	if first.Msg.BuildID != second.Msg.BuildID {
		t.Errorf("build ids differ: %s and %s", first.Msg.BuildID, second.Msg.BuildID)
	}
	if first.Msg.ContentHash != second.Msg.ContentHash {
		t.Error("content hash changed between compile and cache hit")
	}

	off := false
	req.Passes = &PassSelection{CoercionCSE: &off}
	third, err := compile.CallUnary(context.Background(), connect.NewRequest(req))
	if err != nil {
		t.Fatal(err)
	}
	if third.Msg.Cached {
		t.Error("a different pass selection must not hit the cache")
	}
}

func TestCompile_DisabledJoins(t *testing.T) {
	_, compile, _, _ := newTestServer(t, DefaultOptions())

	off := false
	resp, err := compile.CallUnary(context.Background(), connect.NewRequest(&CompileRequest{
		Source: `function tern(x) { return x > 2 ? x : 0 }`,
		Passes: &PassSelection{Joins: &off},
	}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.OK {
		t.Fatal("compiling without join materialization should fail")
	}
	if got := resp.Msg.Diagnostics[0].Kind; got != "pass-invariant" {
		t.Errorf("kind = %q", got)
	}
}

func TestRun(t *testing.T) {
	_, _, run, _ := newTestServer(t, DefaultOptions())

	resp, err := run.CallUnary(context.Background(), connect.NewRequest(&RunRequest{
		Name:   "hello.js",
		Source: `function greet(n) { return "hello " + n } console.log(greet("kiln"));`,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Msg.OK || resp.Msg.Output != "hello kiln\n" {
		t.Errorf("response = %+v", resp.Msg)
	}
}

func TestRun_Exception(t *testing.T) {
	_, _, run, _ := newTestServer(t, DefaultOptions())

	resp, err := run.CallUnary(context.Background(), connect.NewRequest(&RunRequest{
		Source: `console.log("before"); throw new TypeError("bad value")`,
	}))
	if err != nil {
		t.Fatal(err)
	}
	msg := resp.Msg
	if msg.OK {
		t.Fatal("OK should be false")
	}
	if msg.Output != "before\n" || msg.Error != "Uncaught TypeError: bad value" {
		t.Errorf("response = %+v", msg)
	}
}

func TestRun_CompileError(t *testing.T) {
	_, _, run, _ := newTestServer(t, DefaultOptions())

	resp, err := run.CallUnary(context.Background(), connect.NewRequest(&RunRequest{Source: `let = ;`}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.OK || len(resp.Msg.Diagnostics) == 0 || resp.Msg.Diagnostics[0].Kind != "syntax" {
		t.Errorf("response = %+v", resp.Msg)
	}
}

func TestRun_Timeout(t *testing.T) {
	opts := DefaultOptions()
	opts.RunTimeout = 50 * time.Millisecond
	_, _, run, _ := newTestServer(t, opts)

	_, err := run.CallUnary(context.Background(), connect.NewRequest(&RunRequest{Source: `while (true) {}`}))
	if connect.CodeOf(err) != connect.CodeDeadlineExceeded {
		t.Errorf("err = %v, want deadline_exceeded", err)
	}
}

func TestRun_OutputLimit(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxOutput = 8
	_, _, run, _ := newTestServer(t, opts)

	resp, err := run.CallUnary(context.Background(), connect.NewRequest(&RunRequest{
		Source: `for (let i = 0; i < 10; i++) console.log("line", i)`,
	}))
	if err != nil {
		t.Fatal(err)
	}
	if want := "line 0\nl\n[output truncated]\n"; resp.Msg.Output != want {
		t.Errorf("output = %q, want %q", resp.Msg.Output, want)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	yes := true
	in := &CompileRequest{Name: "a.js", Source: "1", Passes: &PassSelection{Joins: &yes}, Debug: true}
	data, err := Codec.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out CompileRequest
	if err := Codec.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out.Name != "a.js" || out.Passes == nil || out.Passes.Joins == nil || !*out.Passes.Joins || out.Passes.CoercionCSE != nil {
		t.Errorf("roundtrip = %+v", out)
	}
	if Codec.Name() != "cbor" {
		t.Errorf("codec name = %q", Codec.Name())
	}
}
