package bibigrid

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing test server URL: %v", err)
	}
	port, _ := strconv.Atoi(u.Port())
	return New(Config{Host: u.Hostname(), Port: port}, true)
}

func TestIsAvailableReturnsTrueOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bibigrid/requirements" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(UbuntuRequirements{})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if !c.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to be true")
	}
}

func TestIsAvailableReturnsFalseOnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if c.IsAvailable(context.Background()) {
		t.Error("expected IsAvailable to be false")
	}
}

func TestGetSupportedUbuntuVersionsParsesNestedShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"cloud_node_requirements":{"os_distro":{"ubuntu":{"os_versions":["20.04","22.04"]}}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	versions, err := c.GetSupportedUbuntuVersions(context.Background())
	if err != nil {
		t.Fatalf("GetSupportedUbuntuVersions: %v", err)
	}
	if len(versions) != 2 || versions[0] != "20.04" || versions[1] != "22.04" {
		t.Errorf("versions = %v", versions)
	}
}

func TestCreateClusterListWrapsRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		var body []CreateClusterRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request body: %v", err)
		}
		if len(body) != 1 {
			t.Fatalf("body = %v, want exactly one list-wrapped entry", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"cluster_id": "cl-1"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	id, err := c.CreateCluster(context.Background(), CreateClusterRequest{SubNetwork: "sub-1"})
	if err != nil {
		t.Fatalf("CreateCluster: %v", err)
	}
	if id != "cl-1" {
		t.Errorf("id = %q", id)
	}
}

func TestGetClusterStateNotFoundMapsToClusterNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.GetClusterState(context.Background(), "missing")
	if !apperr.Is(err, apperr.KindClusterNotFound) {
		t.Fatalf("expected KindClusterNotFound, got %v", err)
	}
}

func TestTerminateClusterSendsDelete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %q, want DELETE", r.Method)
		}
		if r.URL.Path != "/bibigrid/terminate/cl-9" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	if err := c.TerminateCluster(context.Background(), "cl-9"); err != nil {
		t.Fatalf("TerminateCluster: %v", err)
	}
}
