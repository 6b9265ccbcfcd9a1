package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// commandResult mirrors the daemon's command response body.
type commandResult struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}

// apiClient talks to a running opsd daemon.
type apiClient struct {
	base   string
	client *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		base:   strings.TrimRight(apiAddr, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) get(path string, out any) error {
	resp, err := c.client.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("contacting daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// command POSTs to a command endpoint and decodes the result body.
func (c *apiClient) command(path string, body any) (commandResult, error) {
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return commandResult{}, fmt.Errorf("encoding request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}

	resp, err := c.client.Post(c.base+path, "application/json", payload)
	if err != nil {
		return commandResult{}, fmt.Errorf("contacting daemon: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return commandResult{}, fmt.Errorf("daemon returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var result commandResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return commandResult{}, fmt.Errorf("decoding response: %w", err)
	}
	return result, nil
}

// finish reports a command result and exits with the result code, so shell
// scripts and the night scheduler can branch on the same numeric outcomes
// the API returns.
func finish(result commandResult) {
	if result.Code == 0 {
		fmt.Println(result.Message)
		os.Exit(0)
	}

	fmt.Fprintln(os.Stderr, result.Message)
	for _, msg := range result.Errors {
		fmt.Fprintln(os.Stderr, "  "+msg)
	}
	os.Exit(result.Code)
}

// fatal reports a transport failure, distinct from any command result code.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
