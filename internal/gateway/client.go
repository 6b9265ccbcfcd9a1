// Package gateway defines the RPC boundaries between the supervisor and the
// collaborator daemons (shutter hardware, environment aggregator, mount).
// All hardware I/O flows through these interfaces; the HTTP implementations
// talk JSON to the daemons and every failure is returned as an explicit
// error for the calling state machine to map to an outcome.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRequestTimeout = 10 * time.Second

// httpClient is the shared JSON-over-HTTP plumbing for daemon clients.
type httpClient struct {
	base    string
	client  *http.Client
	timeout time.Duration
}

func newHTTPClient(base string, timeout time.Duration) *httpClient {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &httpClient{
		base:    strings.TrimRight(base, "/"),
		client:  &http.Client{},
		timeout: timeout,
	}
}

// get issues a GET and decodes the JSON response body into out.
func (c *httpClient) get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out, c.timeout)
}

// post issues a POST with no body and decodes any JSON response into out
// (out may be nil). timeout overrides the client default when positive,
// for commands that legitimately take a long time (shutter movement).
func (c *httpClient) post(ctx context.Context, path string, out any, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.timeout
	}
	return c.do(ctx, http.MethodPost, path, out, timeout)
}

func (c *httpClient) do(ctx context.Context, method, path string, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("building request %s %s: %w", method, path, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: daemon returned %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decoding response: %w", method, path, err)
	}
	return nil
}
