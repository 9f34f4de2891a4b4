// Package rpc is a minimal JSON-RPC 2.0 client over HTTP. It carries no
// protocol semantics: methods and params are opaque to it.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rpcfleet/rpcfleet/internal/core"
)

const (
	// DefaultProbeMethod is a cheap liveness method most JSON-RPC ledgers expose.
	DefaultProbeMethod = "getHealth"

	maxErrorBody    = 512
	maxResponseBody = 64 << 20
)

// StatusError is a non-2xx HTTP response from an endpoint.
type StatusError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
	if text := http.StatusText(e.StatusCode); text != "" {
		msg += " " + text
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// HTTPStatus exposes the status code to error classification.
func (e *StatusError) HTTPStatus() int {
	return e.StatusCode
}

// RetryAfterHint exposes the Retry-After delay to the router.
func (e *StatusError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// RPCError is a JSON-RPC error object returned inside a 2xx response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// Client issues JSON-RPC calls against any endpoint it is handed.
type Client struct {
	HTTP        *http.Client
	UserAgent   string
	ProbeMethod string

	nextID atomic.Uint64
}

// NewClient returns a client using httpClient, or a default client when nil.
func NewClient(httpClient *http.Client, userAgent string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{HTTP: httpClient, UserAgent: userAgent, ProbeMethod: DefaultProbeMethod}
}

// Call invokes method on ep and returns the raw result.
func (c *Client) Call(ctx context.Context, ep core.Endpoint, method string, params any) (json.RawMessage, error) {
	if c == nil || c.HTTP == nil {
		return nil, errors.New("rpc client is not configured")
	}
	if strings.TrimSpace(method) == "" {
		return nil, errors.New("rpc method is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := c.nextID.Add(1)
	body, err := json.Marshal(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, ep.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{
			URL:        ep.URL,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp),
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read rpc response: %w", err)
	}

	var out response
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode rpc response from %s: %w", ep.URL, err)
	}
	if out.Error != nil {
		return nil, out.Error
	}
	if len(out.Result) == 0 {
		return json.RawMessage("null"), nil
	}
	return out.Result, nil
}

// Probe calls the configured liveness method and discards the result. It
// satisfies pool.ProbeFunc.
func (c *Client) Probe(ctx context.Context, ep core.Endpoint) error {
	method := c.ProbeMethod
	if method == "" {
		method = DefaultProbeMethod
	}
	_, err := c.Call(ctx, ep, method, nil)
	return err
}

func retryAfter(resp *http.Response) time.Duration {
	value := resp.Header.Get("Retry-After")
	if value == "" {
		return 0
	}
	if seconds, err := time.ParseDuration(value + "s"); err == nil {
		return seconds
	}
	if parsed, err := http.ParseTime(value); err == nil {
		return time.Until(parsed)
	}
	return 0
}
