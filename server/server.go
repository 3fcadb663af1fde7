// Package server exposes the compiler over the network: a Connect service
// (Connect, gRPC and gRPC-Web protocols, CBOR messages) for compiling and
// running units, and a language server publishing compile diagnostics.
package server

import (
	"net/http"
	"runtime"
	"time"

	"connectrpc.com/connect"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/semaphore"

	"github.com/chazu/kiln/cache"
	"github.com/chazu/kiln/compiler"
	"github.com/chazu/kiln/vm"
)

var log = commonlog.GetLogger("kiln.server")

// Options configures a Server.
type Options struct {
	// Compiler is the base configuration; requests may override passes.
	Compiler compiler.Options
	// Cache is optional.
	Cache *cache.Cache
	// RunTimeout bounds one Run or Evaluate call.
	RunTimeout time.Duration
	// MaxRuns bounds concurrent one-shot runs.
	MaxRuns int
	// MaxOutput bounds the console output returned per run, in bytes.
	MaxOutput int
	// SessionTTL is how long an idle session is kept.
	SessionTTL time.Duration
	// MaxDepth is the call depth limit of every VM.
	MaxDepth int
}

// DefaultOptions returns the settings used by kiln -serve.
func DefaultOptions() Options {
	return Options{
		Compiler:   compiler.DefaultOptions(),
		RunTimeout: 5 * time.Second,
		MaxRuns:    runtime.NumCPU(),
		MaxOutput:  1 << 20,
		SessionTTL: 30 * time.Minute,
		MaxDepth:   vm.DefaultMaxDepth,
	}
}

// Server serves the compile and session services.
type Server struct {
	opts     Options
	sessions *SessionStore
	runs     *semaphore.Weighted
	mux      *http.ServeMux

	stopSweeper func()
}

// New creates a Server. Zero fields of opts take their defaults.
func New(opts Options) *Server {
	def := DefaultOptions()
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = def.RunTimeout
	}
	if opts.MaxRuns <= 0 {
		opts.MaxRuns = def.MaxRuns
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = def.MaxOutput
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = def.SessionTTL
	}

	s := &Server{
		opts: opts,
		runs: semaphore.NewWeighted(int64(opts.MaxRuns)),
		mux:  http.NewServeMux(),
	}
	s.sessions = NewSessionStore(func() *vm.VM {
		return vm.New(vm.Options{MaxDepth: opts.MaxDepth})
	})

	compileSvc := &CompileService{srv: s}
	sessionSvc := &SessionService{srv: s}
	codec := connect.WithCodec(Codec)

	s.mux.Handle(CompileProcedure, connect.NewUnaryHandler(CompileProcedure, compileSvc.Compile, codec))
	s.mux.Handle(RunProcedure, connect.NewUnaryHandler(RunProcedure, compileSvc.Run, codec))
	s.mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, sessionSvc.CreateSession, codec))
	s.mux.Handle(DestroySessionProcedure, connect.NewUnaryHandler(DestroySessionProcedure, sessionSvc.DestroySession, codec))
	s.mux.Handle(EvaluateProcedure, connect.NewUnaryHandler(EvaluateProcedure, sessionSvc.Evaluate, codec))

	// Sweep every 5 minutes
	s.stopSweeper = s.sessions.StartSweeper(5*time.Minute, opts.SessionTTL)
	return s
}

// Handler returns the HTTP handler serving every procedure.
func (s *Server) Handler() http.Handler { return s.mux }

// Sessions returns the session store.
func (s *Server) Sessions() *SessionStore { return s.sessions }

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *Server) ListenAndServe(addr string) error {
	log.Noticef("listening on %s", addr)
	log.Infof("  Connect: http://%s%s (application/cbor)", addr, CompileProcedure)
	return http.ListenAndServe(addr, s.mux)
}

// Stop shuts down the sweeper and every session.
func (s *Server) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
	}
	s.sessions.DestroyAll()
}

// NewCompileClients returns clients for the compile service at baseURL.
func NewCompileClients(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) (
	compile *connect.Client[CompileRequest, CompileResponse],
	run *connect.Client[RunRequest, RunResponse],
) {
	opts = append([]connect.ClientOption{connect.WithCodec(Codec)}, opts...)
	compile = connect.NewClient[CompileRequest, CompileResponse](httpClient, baseURL+CompileProcedure, opts...)
	run = connect.NewClient[RunRequest, RunResponse](httpClient, baseURL+RunProcedure, opts...)
	return compile, run
}
