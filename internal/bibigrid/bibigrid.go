// Package bibigrid is the HTTP client for Bibigrid, the cluster provisioner
// (spec.md §6's "Cluster" operation group). It is a thin collaborator: the
// core forwards StartCluster/TerminateCluster/etc. verbatim and relies on
// this client only for the request/response shapes spec.md documents.
package bibigrid

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deNBI/simplevm-portal/internal/apperr"
)

// newTransport builds an http.RoundTripper honoring the `production` flag's
// outbound-TLS-verification policy; nil (the stdlib default transport) when
// verification should stay enabled.
func newTransport(insecureSkipVerify bool) http.RoundTripper {
	if !insecureSkipVerify {
		return nil
	}
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
}

// Config is the bibigrid section of the service's YAML configuration
// (spec.md §6). When Activated is false the subsystem is inert and callers
// should not construct a Client.
type Config struct {
	Activated             bool
	Host                  string
	Port                  int
	HTTPS                 bool
	Modes                 []string
	SubNetwork            string
	UseMasterWithPublicIP bool
	LocalDNSLookup        bool
	AnsibleGalaxyRoles    []string
}

func (c Config) baseURL() string {
	scheme := "http"
	if c.HTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Client calls the Bibigrid HTTP API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client. Callers must check cfg.Activated before using it.
// insecureSkipVerify mirrors the `production` YAML flag (spec.md §6:
// "TLS verification of outbound HTTP") — true only in non-production
// deployments talking to a self-signed Bibigrid endpoint.
func New(cfg Config, insecureSkipVerify bool) *Client {
	return &Client{
		baseURL:    cfg.baseURL(),
		httpClient: &http.Client{Timeout: 30 * time.Second, Transport: newTransport(insecureSkipVerify)},
	}
}

// UbuntuRequirements is the subset of GET /bibigrid/requirements this core
// relies on (spec.md §6).
type UbuntuRequirements struct {
	CloudNodeRequirements struct {
		OSDistro struct {
			Ubuntu struct {
				OSVersions []string `json:"os_versions"`
			} `json:"ubuntu"`
		} `json:"os_distro"`
	} `json:"cloud_node_requirements"`
}

// IsAvailable reports whether Bibigrid is reachable: a 200 from
// /bibigrid/requirements means available.
func (c *Client) IsAvailable(ctx context.Context) bool {
	_, err := c.getRequirements(ctx)
	return err == nil
}

// GetSupportedUbuntuVersions returns the ubuntu os_versions Bibigrid's node
// requirements advertise.
func (c *Client) GetSupportedUbuntuVersions(ctx context.Context) ([]string, error) {
	reqs, err := c.getRequirements(ctx)
	if err != nil {
		return nil, err
	}
	return reqs.CloudNodeRequirements.OSDistro.Ubuntu.OSVersions, nil
}

func (c *Client) getRequirements(ctx context.Context) (*UbuntuRequirements, error) {
	var out UbuntuRequirements
	if err := c.doJSON(ctx, http.MethodGet, "/bibigrid/requirements", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// State is the response shape of GET /bibigrid/state/{id}.
type State struct {
	ClusterID string `json:"cluster_id"`
	State     string `json:"state"`
}

// GetClusterState fetches a cluster's provisioning state.
func (c *Client) GetClusterState(ctx context.Context, clusterID string) (State, error) {
	var out State
	err := c.doJSON(ctx, http.MethodGet, "/bibigrid/state/"+clusterID, nil, &out)
	return out, err
}

// Info is the response shape of GET /bibigrid/info/{id}.
type Info struct {
	ClusterID string            `json:"cluster_id"`
	Workers   []string          `json:"workers"`
	Master    string            `json:"master"`
	Meta      map[string]string `json:"meta"`
}

// GetClusterInfo fetches cluster topology details.
func (c *Client) GetClusterInfo(ctx context.Context, clusterID string) (Info, error) {
	var out Info
	err := c.doJSON(ctx, http.MethodGet, "/bibigrid/info/"+clusterID, nil, &out)
	return out, err
}

// GetClusterLog fetches the raw provisioning log for a cluster.
func (c *Client) GetClusterLog(ctx context.Context, clusterID string) (string, error) {
	var out struct {
		Log string `json:"log"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/bibigrid/log/"+clusterID, nil, &out)
	return out.Log, err
}

// CreateClusterRequest is the single cluster configuration entry Bibigrid
// expects, list-wrapped by Create per spec.md §9's "newest variant" decision.
type CreateClusterRequest struct {
	SubNetwork            string   `json:"subnet"`
	UseMasterWithPublicIP bool     `json:"useMasterWithPublicIp"`
	Modes                 []string `json:"mode"`
	LocalDNSLookup        bool     `json:"localDnsLookup,omitempty"`
	AnsibleGalaxyRoles    []string `json:"ansibleGalaxyRoles,omitempty"`
	SSHUser               string   `json:"sshUser"`
	Master                map[string]any `json:"master"`
	WorkerInstances       []map[string]any `json:"workerInstances"`
}

// CreateCluster issues POST /bibigrid/create with a list-wrapped config,
// per spec.md §9: divergent older variants that sent GET-with-body are not
// preserved here.
func (c *Client) CreateCluster(ctx context.Context, cfg CreateClusterRequest) (string, error) {
	var out struct {
		ClusterID string `json:"cluster_id"`
	}
	err := c.doJSON(ctx, http.MethodPost, "/bibigrid/create", []CreateClusterRequest{cfg}, &out)
	return out.ClusterID, err
}

// TerminateCluster issues DELETE /bibigrid/terminate/{id}.
func (c *Client) TerminateCluster(ctx context.Context, clusterID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/bibigrid/terminate/"+clusterID, nil, nil)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDefault, "marshalling bibigrid request")
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "building bibigrid request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := doWithRetry(ctx, c.httpClient, req)
	if err != nil {
		return apperr.Wrap(err, apperr.KindBackendNotFound, "calling bibigrid")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.NewWithID(apperr.KindClusterNotFound, "cluster not found", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Wrapf(nil, apperr.KindDefault, "bibigrid returned HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "decoding bibigrid response")
	}
	return nil
}

// doWithRetry resends req up to three extra times on transport failures or a
// 5xx response, backing off exponentially; 4xx responses are returned as-is.
func doWithRetry(ctx context.Context, httpClient *http.Client, req *http.Request) (*http.Response, error) {
	var resp *http.Response
	op := func() (*http.Response, error) {
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			req.Body = body
		}
		r, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 {
			_ = r.Body.Close()
			return nil, fmt.Errorf("bibigrid returned HTTP %d", r.StatusCode)
		}
		return r, nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	err := backoff.Retry(func() error {
		r, err := op()
		if err != nil {
			return err
		}
		resp = r
		return nil
	}, policy)
	return resp, err
}
