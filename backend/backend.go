// Package backend issues the outbound GET to a chosen backend instance
// (spec component C7). One http.Client with a pooled transport is
// shared across the process; no per-request connection is opened.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultTimeout is used when Client is built with New and no explicit
// timeout is supplied.
const DefaultTimeout = 10 * time.Second

// Client performs the backend data fetch.
type Client struct {
	http *http.Client
}

// New builds a Client with the given timeout and a pooled transport. A
// timeout of 0 uses DefaultTimeout.
func New(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Get issues GET <url>/data and returns the response's status code and
// decoded JSON body. A transport-level failure (connection refused,
// timeout) is returned as an error — the caller (the gateway pipeline)
// is responsible for mapping that to a 500 and recording it, per
// spec.md §4.6's failure semantics.
func (c *Client) Get(ctx context.Context, url string) (int, json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"/data", nil)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("backend: read body from %s: %w", url, err)
	}

	return resp.StatusCode, json.RawMessage(body), nil
}
