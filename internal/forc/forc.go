// Package forc is the HTTP client for Forc, the research-environment
// template catalog and deployer (spec.md §6's Forc outbound contract). It
// backs internal/templatecatalog's version-probe step and the playbook
// operations that deploy/remove Forc-backed backends.
package forc

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
// outbound-TLS-verification policy (spec.md §6); nil (the stdlib default
// transport) when verification should stay enabled.
func newTransport(insecureSkipVerify bool) http.RoundTripper {
	if !insecureSkipVerify {
		return nil
	}
	return &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
}

// Config is the forc section of the service's YAML configuration.
type Config struct {
	Activated             bool
	BackendURL            string
	AccessURL             string
	GithubPlaybooksRepo    string
	UpdateTemplatesSchedule string
}

// Client calls the Forc HTTP API. Every request carries X-Auth-Token, per
// spec.md §6.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a Client against cfg.BackendURL, authenticating with apiKey
// (FORC_API_KEY). insecureSkipVerify mirrors the `production` YAML flag.
func New(cfg Config, apiKey string, insecureSkipVerify bool) *Client {
	return &Client{
		baseURL:    cfg.BackendURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second, Transport: newTransport(insecureSkipVerify)},
	}
}

// TemplateSummary is one entry of GET /templates.
type TemplateSummary struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

// ListTemplates fetches the full Forc template catalog.
func (c *Client) ListTemplates(ctx context.Context) ([]TemplateSummary, error) {
	var out []TemplateSummary
	err := c.doJSON(ctx, http.MethodGet, "/templates", nil, &out)
	return out, err
}

// HasTemplateVersion reports whether Forc serves templateName at version,
// implementing internal/templatecatalog.ForcProbe.
func (c *Client) HasTemplateVersion(ctx context.Context, templateName, version string) bool {
	var out map[string]any
	err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/templates/%s/%s", templateName, version), nil, &out)
	return err == nil
}

// Backend is a deployed Forc research-environment instance.
type Backend struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	TemplateName string `json:"template_name"`
	AccessURL    string `json:"access_url"`
}

// CreateBackendRequest is the body of POST /backends.
type CreateBackendRequest struct {
	Owner        string `json:"owner"`
	TemplateName string `json:"template_name"`
	Version      string `json:"version"`
	CloudSite    string `json:"cloud_site"`
}

// CreateBackend deploys a new Forc-backed research environment.
func (c *Client) CreateBackend(ctx context.Context, req CreateBackendRequest) (Backend, error) {
	var out Backend
	err := c.doJSON(ctx, http.MethodPost, "/backends", req, &out)
	return out, err
}

// GetBackends lists all deployed backends.
func (c *Client) GetBackends(ctx context.Context) ([]Backend, error) {
	var out []Backend
	err := c.doJSON(ctx, http.MethodGet, "/backends", nil, &out)
	return out, err
}

// GetBackend fetches a single backend by id.
func (c *Client) GetBackend(ctx context.Context, id string) (Backend, error) {
	var out Backend
	err := c.doJSON(ctx, http.MethodGet, "/backends/"+id, nil, &out)
	return out, err
}

// GetBackendsByOwner lists backends owned by owner.
func (c *Client) GetBackendsByOwner(ctx context.Context, owner string) ([]Backend, error) {
	var out []Backend
	err := c.doJSON(ctx, http.MethodGet, "/backends/byOwner/"+owner, nil, &out)
	return out, err
}

// GetBackendsByTemplate lists backends of a given template.
func (c *Client) GetBackendsByTemplate(ctx context.Context, templateName string) ([]Backend, error) {
	var out []Backend
	err := c.doJSON(ctx, http.MethodGet, "/backends/byTemplate/"+templateName, nil, &out)
	return out, err
}

// DeleteBackend removes a deployed backend.
func (c *Client) DeleteBackend(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/backends/"+id, nil, nil)
}

type userRequest struct {
	User string `json:"user"`
}

// AddUser grants user access to backendID.
func (c *Client) AddUser(ctx context.Context, backendID, user string) error {
	return c.doJSON(ctx, http.MethodPost, "/users/"+backendID, userRequest{User: user}, nil)
}

// RemoveUser revokes user's access to backendID.
func (c *Client) RemoveUser(ctx context.Context, backendID, user string) error {
	return c.doJSON(ctx, http.MethodDelete, "/users/"+backendID, userRequest{User: user}, nil)
}

// GetUsers lists the users with access to backendID.
func (c *Client) GetUsers(ctx context.Context, backendID string) ([]string, error) {
	var out []string
	err := c.doJSON(ctx, http.MethodGet, "/users/"+backendID, nil, &out)
	return out, err
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return apperr.Wrap(err, apperr.KindDefault, "marshalling forc request")
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "building forc request")
	}
	req.Header.Set("X-Auth-Token", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := doWithRetry(ctx, c.httpClient, req)
	if err != nil {
		return apperr.Wrap(err, apperr.KindBackendNotFound, "calling forc")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return apperr.NewWithID(apperr.KindTemplateNotFound, "not found", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Wrapf(nil, apperr.KindDefault, "forc returned HTTP %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "decoding forc response")
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
			return nil, fmt.Errorf("forc returned HTTP %d", r.StatusCode)
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
