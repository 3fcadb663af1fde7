package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"

	"github.com/chazu/kiln/vm"
)

// SessionService implements kiln.v1.SessionService.
type SessionService struct {
	srv *Server
}

// CreateSession creates a new workspace session.
func (s *SessionService) CreateSession(
	ctx context.Context,
	req *connect.Request[CreateSessionRequest],
) (*connect.Response[CreateSessionResponse], error) {
	session := s.srv.sessions.Create(req.Msg.Name)
	return connect.NewResponse(&CreateSessionResponse{SessionID: session.ID}), nil
}

// DestroySession destroys a session and stops its VM.
func (s *SessionService) DestroySession(
	ctx context.Context,
	req *connect.Request[DestroySessionRequest],
) (*connect.Response[DestroySessionResponse], error) {
	if req.Msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	if !s.srv.sessions.Destroy(req.Msg.SessionID) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", req.Msg.SessionID))
	}
	return connect.NewResponse(&DestroySessionResponse{}), nil
}

// Evaluate compiles source and runs it on the session's VM.
func (s *SessionService) Evaluate(
	ctx context.Context,
	req *connect.Request[EvaluateRequest],
) (*connect.Response[RunResponse], error) {
	msg := req.Msg
	if msg.SessionID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session_id is required"))
	}
	if msg.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	session, ok := s.srv.sessions.Get(msg.SessionID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", msg.SessionID))
	}

	ctx, cancel := context.WithTimeout(ctx, s.srv.opts.RunTimeout)
	defer cancel()
	result, err := session.worker.Do(ctx, func(v *vm.VM) (any, error) {
		return s.srv.execute(ctx, v, session.Name, msg.Source)
	})
	if err != nil {
		var ce *connect.Error
		switch {
		case errors.As(err, &ce):
			return nil, ce
		case errors.Is(err, context.DeadlineExceeded):
			return nil, connect.NewError(connect.CodeDeadlineExceeded, err)
		case errors.Is(err, context.Canceled):
			return nil, connect.NewError(connect.CodeCanceled, err)
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(result.(*RunResponse)), nil
}
