// Package metadataclient is the HTTP client for the metadata sidecar
// (spec.md §6's Metadata outbound contract). The sidecar is the service a
// freshly booted VM polls for per-instance metadata; this core is
// responsible only for registering and clearing that data as VMs come and
// go, and for a liveness check used by IsMetadataServerAvailable.
package metadataclient

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

// Config is the metadata_server section of the service's YAML configuration.
type Config struct {
	Activated bool
	Host      string
	Port      int
	UseHTTPS  bool
}

func (c Config) baseURL() string {
	scheme := "http"
	if c.UseHTTPS {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}

// Client calls the metadata sidecar's HTTP API. Every write carries
// X-Auth-Token (METADATA_WRITE_TOKEN), per spec.md §6.
type Client struct {
	baseURL    string
	writeToken string
	httpClient *http.Client
}

// New builds a Client. Callers must check cfg.Activated before using it.
// insecureSkipVerify mirrors the `production` YAML flag.
func New(cfg Config, writeToken string, insecureSkipVerify bool) *Client {
	return &Client{
		baseURL:    cfg.baseURL(),
		writeToken: writeToken,
		httpClient: &http.Client{Timeout: 10 * time.Second, Transport: newTransport(insecureSkipVerify)},
	}
}

// IsAvailable reports whether the sidecar answers GET /health with 200.
func (c *Client) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// SetData registers meta under ip, so a VM booting with that fixed IP can
// poll it back from the sidecar.
func (c *Client) SetData(ctx context.Context, ip string, meta map[string]any) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "marshalling metadata payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/metadata/"+ip, bytes.NewReader(body))
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "building metadata request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", c.writeToken)

	resp, err := doWithRetry(ctx, c.httpClient, req)
	if err != nil {
		return apperr.Wrap(err, apperr.KindBackendNotFound, "calling metadata sidecar")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Wrapf(nil, apperr.KindDefault, "metadata sidecar returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// RemoveData clears any metadata registered under ip, e.g. on DeleteServer.
func (c *Client) RemoveData(ctx context.Context, ip string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/metadata/"+ip, nil)
	if err != nil {
		return apperr.Wrap(err, apperr.KindDefault, "building metadata request")
	}
	req.Header.Set("X-Auth-Token", c.writeToken)

	resp, err := doWithRetry(ctx, c.httpClient, req)
	if err != nil {
		return apperr.Wrap(err, apperr.KindBackendNotFound, "calling metadata sidecar")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Wrapf(nil, apperr.KindDefault, "metadata sidecar returned HTTP %d", resp.StatusCode)
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
			return nil, fmt.Errorf("metadata sidecar returned HTTP %d", r.StatusCode)
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
