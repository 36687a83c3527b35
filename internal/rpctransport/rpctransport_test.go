package rpctransport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type echoReq struct{ Text string }
type echoResp struct{ Text string }

func startTestServer(t *testing.T, router *Router) (*Server, context.CancelFunc) {
	t.Helper()
	srv, err := Listen("127.0.0.1:0", nil, router, testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = srv.Serve(ctx) }()
	return srv, cancel
}

func TestRouterDispatchesByMethodName(t *testing.T) {
	router := NewRouter()
	router.Register("Echo", func(_ context.Context, payload []byte) ([]byte, error) {
		var req echoReq
		if err := Decode(payload, &req); err != nil {
			return nil, err
		}
		return Encode(echoResp{Text: req.Text})
	})

	srv, cancel := startTestServer(t, router)
	defer cancel()
	defer func() { _ = srv.Close() }()

	client, err := Dial(srv.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	var resp echoResp
	if err := client.Call("Echo", echoReq{Text: "hello"}, &resp); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Text != "hello" {
		t.Fatalf("got %q, want %q", resp.Text, "hello")
	}
}

func TestUnknownMethodReturnsValidationError(t *testing.T) {
	router := NewRouter()
	srv, cancel := startTestServer(t, router)
	defer cancel()
	defer func() { _ = srv.Close() }()

	client, err := Dial(srv.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	var resp echoResp
	err = client.Call("NoSuchMethod", echoReq{}, &resp)
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected KindValidation, got %v", err)
	}
}

func TestHandlerErrorPreservesKindAndIdentifier(t *testing.T) {
	router := NewRouter()
	router.Register("Boom", func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, apperr.NewWithID(apperr.KindServerNotFound, "no such server", "vm-1")
	})

	srv, cancel := startTestServer(t, router)
	defer cancel()
	defer func() { _ = srv.Close() }()

	client, err := Dial(srv.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	err = client.Call("Boom", echoReq{}, nil)
	if !apperr.Is(err, apperr.KindServerNotFound) {
		t.Fatalf("expected KindServerNotFound, got %v", err)
	}
	ae, ok := err.(*apperr.Error)
	if !ok || ae.Identifier != "vm-1" {
		t.Fatalf("expected identifier vm-1, got %#v", err)
	}
}

func TestMultipleSequentialCallsOnSameConnection(t *testing.T) {
	router := NewRouter()
	calls := 0
	router.Register("Count", func(_ context.Context, _ []byte) ([]byte, error) {
		calls++
		return Encode(echoResp{Text: "ok"})
	})

	srv, cancel := startTestServer(t, router)
	defer cancel()
	defer func() { _ = srv.Close() }()

	client, err := Dial(srv.Addr().String(), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer func() { _ = client.Close() }()

	for i := 0; i < 3; i++ {
		var resp echoResp
		if err := client.Call("Count", echoReq{}, &resp); err != nil {
			t.Fatalf("Call %d: %v", i, err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	router := NewRouter()
	srv, err := Listen("127.0.0.1:0", nil, router, testLogger())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error after cancel: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not stop after context cancellation")
	}
}
