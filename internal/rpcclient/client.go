// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package rpcclient is cmd/slurmctl's HTTP client for internal/rpc,
// composing pkg/auth, pkg/pool, and pkg/retry around a base URL.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/slurmctld/core/pkg/auth"
	"github.com/slurmctld/core/pkg/pool"
	"github.com/slurmctld/core/pkg/retry"
)

// Error is the decoded shape of a failed RPC call, mirroring
// internal/rpc's errorBody so the CLI can map Kind to exit codes
// without importing the daemon's internal packages.
type Error struct {
	Status    int    `json:"-"`
	Kind      string `json:"kind"`
	Subclass  string `json:"subclass,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"request_id,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Client talks to a single controller's RPC surface.
type Client struct {
	baseURL string
	pool    *pool.HTTPClientPool
	auth    auth.Provider
	policy  retry.Policy
}

// New constructs a Client. auth may be auth.NewNoAuth() when the
// controller requires no credential.
func New(baseURL string, authProvider auth.Provider) *Client {
	return &Client{
		baseURL: baseURL,
		pool:    pool.NewHTTPClientPool(pool.DefaultPoolConfig(), nil),
		auth:    authProvider,
		policy:  retry.NewControllerRPCPolicy(),
	}
}

// do issues a request with path, method, and an optional JSON body, and
// decodes a successful response into out (which may be nil to discard
// the body). It retries per c.policy on transient failures.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rpcclient: encoding request: %w", err)
		}
		bodyBytes = b
	}

	httpClient := c.pool.GetClient(c.baseURL)

	var lastErr error
	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("rpcclient: building request: %w", err)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.auth != nil {
			if err := c.auth.Authenticate(ctx, req); err != nil {
				return fmt.Errorf("rpcclient: authenticating request: %w", err)
			}
		}

		resp, err := httpClient.Do(req)
		if err == nil && resp.StatusCode < 300 {
			defer resp.Body.Close()
			if out != nil {
				if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil && decErr != io.EOF {
					return fmt.Errorf("rpcclient: decoding response: %w", decErr)
				}
			}
			return nil
		}

		var rpcErr *Error
		if err == nil {
			rpcErr = decodeError(resp)
			resp.Body.Close()
		}

		// A decoded rpcErr carries the controller's own retryable
		// verdict; prefer it over
		// the status-code guess c.policy.ShouldRetry makes when the
		// kind maps to a known-retryable one, so a nodes_busy rejection
		// retries even if some future controller build reuses a status
		// code the policy doesn't recognize.
		retryable := c.policy.ShouldRetry(ctx, resp, err, attempt)
		if rpcErr != nil && retry.RetryableCtlErrKinds[rpcErr.Kind] {
			retryable = true
		}

		if !retryable || attempt >= c.policy.MaxRetries() {
			if rpcErr != nil {
				return rpcErr
			}
			if err != nil {
				lastErr = err
				break
			}
			return fmt.Errorf("rpcclient: unexpected status from %s %s", method, path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.policy.WaitTime(attempt)):
		}
		lastErr = rpcErr
	}
	return fmt.Errorf("rpcclient: %s %s failed: %w", method, path, lastErr)
}

func decodeError(resp *http.Response) *Error {
	var e Error
	_ = json.NewDecoder(resp.Body).Decode(&e)
	e.Status = resp.StatusCode
	if e.Message == "" {
		e.Message = resp.Status
	}
	return &e
}
