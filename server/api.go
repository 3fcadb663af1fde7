package server

// Service and procedure names. Handlers are mounted under the service
// path, so a Connect client posts to <base>/kiln.v1.CompileService/Compile.
const (
	CompileServiceName = "kiln.v1.CompileService"
	SessionServiceName = "kiln.v1.SessionService"

	CompileProcedure        = "/" + CompileServiceName + "/Compile"
	RunProcedure            = "/" + CompileServiceName + "/Run"
	CreateSessionProcedure  = "/" + SessionServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + SessionServiceName + "/DestroySession"
	EvaluateProcedure       = "/" + SessionServiceName + "/Evaluate"
)

// PassSelection overrides the server's pass configuration. Nil fields keep
// the server default.
type PassSelection struct {
	Joins       *bool `cbor:"1,keyasint,omitempty"`
	LoopCarried *bool `cbor:"2,keyasint,omitempty"`
	CoercionCSE *bool `cbor:"3,keyasint,omitempty"`
}

// CompileRequest compiles one unit.
type CompileRequest struct {
	Name   string         `cbor:"1,keyasint"`
	Source string         `cbor:"2,keyasint"`
	Passes *PassSelection `cbor:"3,keyasint,omitempty"`
	Debug  bool           `cbor:"4,keyasint,omitempty"`
	// Disassemble adds a listing of every chunk to the response.
	Disassemble bool `cbor:"5,keyasint,omitempty"`
}

// Diagnostic is a compile diagnostic on the wire.
type Diagnostic struct {
	Kind     string `cbor:"1,keyasint"`
	Severity string `cbor:"2,keyasint"`
	File     string `cbor:"3,keyasint,omitempty"`
	Line     int    `cbor:"4,keyasint,omitempty"`
	Column   int    `cbor:"5,keyasint,omitempty"`
	Function string `cbor:"6,keyasint,omitempty"`
	Message  string `cbor:"7,keyasint"`
}

// Export is an exported top-level binding with its static type hint.
type Export struct {
	Name string `cbor:"1,keyasint"`
	Hint string `cbor:"2,keyasint"`
	Decl string `cbor:"3,keyasint"`
}

// CompileResponse carries the artifact or the diagnostics of a failed
// compilation. A failed compilation is a successful RPC.
type CompileResponse struct {
	OK          bool         `cbor:"1,keyasint"`
	BuildID     string       `cbor:"2,keyasint,omitempty"`
	Cached      bool         `cbor:"3,keyasint,omitempty"`
	ContentHash string       `cbor:"4,keyasint,omitempty"`
	Artifact    []byte       `cbor:"5,keyasint,omitempty"`
	Diagnostics []Diagnostic `cbor:"6,keyasint,omitempty"`
	Exports     []Export     `cbor:"7,keyasint,omitempty"`
	Disassembly string       `cbor:"8,keyasint,omitempty"`
}

// RunRequest compiles and runs a unit in a fresh VM.
type RunRequest struct {
	Name   string `cbor:"1,keyasint"`
	Source string `cbor:"2,keyasint"`
}

// RunResponse is the outcome of running a unit. Compile failures and
// uncaught exceptions are reported in the response, not as RPC errors.
type RunResponse struct {
	OK          bool         `cbor:"1,keyasint"`
	Output      string       `cbor:"2,keyasint"`
	Result      string       `cbor:"3,keyasint,omitempty"`
	Error       string       `cbor:"4,keyasint,omitempty"`
	Diagnostics []Diagnostic `cbor:"5,keyasint,omitempty"`
}

// CreateSessionRequest opens a session with its own persistent VM.
type CreateSessionRequest struct {
	Name string `cbor:"1,keyasint,omitempty"`
}

type CreateSessionResponse struct {
	SessionID string `cbor:"1,keyasint"`
}

type DestroySessionRequest struct {
	SessionID string `cbor:"1,keyasint"`
}

type DestroySessionResponse struct{}

// EvaluateRequest runs source in a session. Globals assigned by earlier
// evaluations stay visible.
type EvaluateRequest struct {
	SessionID string `cbor:"1,keyasint"`
	Source    string `cbor:"2,keyasint"`
}
