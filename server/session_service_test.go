package server

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/chazu/kiln/vm"
)

func sessionClients(baseURL string) (
	create *connect.Client[CreateSessionRequest, CreateSessionResponse],
	destroy *connect.Client[DestroySessionRequest, DestroySessionResponse],
	eval *connect.Client[EvaluateRequest, RunResponse],
) {
	codec := connect.WithCodec(Codec)
	create = connect.NewClient[CreateSessionRequest, CreateSessionResponse](http.DefaultClient, baseURL+CreateSessionProcedure, codec)
	destroy = connect.NewClient[DestroySessionRequest, DestroySessionResponse](http.DefaultClient, baseURL+DestroySessionProcedure, codec)
	eval = connect.NewClient[EvaluateRequest, RunResponse](http.DefaultClient, baseURL+EvaluateProcedure, codec)
	return create, destroy, eval
}

func TestSessionLifecycle(t *testing.T) {
	srv, _, _, url := newTestServer(t, DefaultOptions())
	create, destroy, eval := sessionClients(url)
	ctx := context.Background()

	created, err := create.CallUnary(ctx, connect.NewRequest(&CreateSessionRequest{Name: "repl"}))
	if err != nil {
		t.Fatal(err)
	}
	id := created.Msg.SessionID
	if srv.Sessions().Len() != 1 {
		t.Fatalf("sessions = %d", srv.Sessions().Len())
	}

	if _, err := eval.CallUnary(ctx, connect.NewRequest(&EvaluateRequest{SessionID: id, Source: `counter = 41`})); err != nil {
		t.Fatal(err)
	}
	resp, err := eval.CallUnary(ctx, connect.NewRequest(&EvaluateRequest{SessionID: id, Source: `counter++; console.log(counter)`}))
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Msg.OK || resp.Msg.Output != "42\n" {
		t.Errorf("second evaluation = %+v", resp.Msg)
	}

	if _, err := destroy.CallUnary(ctx, connect.NewRequest(&DestroySessionRequest{SessionID: id})); err != nil {
		t.Fatal(err)
	}
	_, err = eval.CallUnary(ctx, connect.NewRequest(&EvaluateRequest{SessionID: id, Source: `1`}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("evaluate after destroy: %v", err)
	}
	_, err = destroy.CallUnary(ctx, connect.NewRequest(&DestroySessionRequest{SessionID: id}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("second destroy: %v", err)
	}
}

func TestEvaluate_Timeout(t *testing.T) {
	opts := DefaultOptions()
	opts.RunTimeout = 50 * time.Millisecond
	_, _, _, url := newTestServer(t, opts)
	create, _, eval := sessionClients(url)
	ctx := context.Background()

	created, err := create.CallUnary(ctx, connect.NewRequest(&CreateSessionRequest{}))
	if err != nil {
		t.Fatal(err)
	}
	id := created.Msg.SessionID
	_, err = eval.CallUnary(ctx, connect.NewRequest(&EvaluateRequest{SessionID: id, Source: `for (;;) {}`}))
	if connect.CodeOf(err) != connect.CodeDeadlineExceeded {
		t.Fatalf("err = %v, want deadline_exceeded", err)
	}

	// The session survives the interrupted run.
	resp, err := eval.CallUnary(ctx, connect.NewRequest(&EvaluateRequest{SessionID: id, Source: `console.log("still here")`}))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Msg.Output != "still here\n" {
		t.Errorf("output = %q", resp.Msg.Output)
	}
}

func TestEvaluate_MissingFields(t *testing.T) {
	_, _, _, url := newTestServer(t, DefaultOptions())
	_, _, eval := sessionClients(url)

	_, err := eval.CallUnary(context.Background(), connect.NewRequest(&EvaluateRequest{Source: `1`}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("err = %v, want invalid_argument", err)
	}
}

func TestSessionStore_Sweep(t *testing.T) {
	store := NewSessionStore(func() *vm.VM { return vm.New(vm.Options{}) })
	defer store.DestroyAll()

	old := store.Create("old")
	old.mu.Lock()
	old.lastUsed = time.Now().Add(-time.Hour)
	old.mu.Unlock()
	fresh := store.Create("fresh")

	if n := store.Sweep(time.Minute); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if _, ok := store.Get(old.ID); ok {
		t.Error("idle session was not removed")
	}
	if _, ok := store.Get(fresh.ID); !ok {
		t.Error("fresh session was removed")
	}
}

func TestVMWorker_RecoversPanic(t *testing.T) {
	w := NewVMWorker(vm.New(vm.Options{}))
	defer w.Stop()

	_, err := w.Do(context.Background(), func(*vm.VM) (any, error) {
		panic("boom")
	})
	if err == nil || err.Error() != "vm panic: boom" {
		t.Errorf("err = %v", err)
	}
	got, err := w.Do(context.Background(), func(v *vm.VM) (any, error) {
		v.SetGlobal("x", 1.0)
		x, _ := v.Global("x")
		return x, nil
	})
	if err != nil || got != 1.0 {
		t.Errorf("after panic: %v, %v", got, err)
	}
}

func TestVMWorker_Stopped(t *testing.T) {
	w := NewVMWorker(vm.New(vm.Options{}))
	w.Stop()
	_, err := w.Do(context.Background(), func(*vm.VM) (any, error) { return nil, nil })
	if !errors.Is(err, errWorkerStopped) {
		t.Errorf("err = %v, want errWorkerStopped", err)
	}
}
