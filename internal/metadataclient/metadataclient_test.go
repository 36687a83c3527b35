package metadataclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return New(Config{Host: u.Hostname(), Port: port}, "write-token", false)
}

func TestIsAvailableTrueOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if !c.IsAvailable(context.Background()) {
		t.Error("expected true")
	}
}

func TestSetDataSendsAuthTokenAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != "write-token" {
			t.Errorf("missing X-Auth-Token")
		}
		if r.URL.Path != "/metadata/10.0.0.5" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["token"] != "abc" {
			t.Errorf("body = %v", body)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.SetData(context.Background(), "10.0.0.5", map[string]any{"token": "abc"}); err != nil {
		t.Fatalf("SetData: %v", err)
	}
}

func TestRemoveDataSendsDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q", r.Method)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.RemoveData(context.Background(), "10.0.0.5"); err != nil {
		t.Fatalf("RemoveData: %v", err)
	}
}

func TestSetDataPropagatesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.SetData(context.Background(), "10.0.0.5", map[string]any{}); err == nil {
		t.Fatal("expected error")
	}
}
