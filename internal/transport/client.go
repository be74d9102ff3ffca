// Package transport opens HTTP event streams for stream sessions.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openclaude/jobstream/internal/stream"
)

// maxErrorBody caps how much of a rejected response is read.
const maxErrorBody = 64 * 1024

// APIError is a non-2xx response received before streaming started.
type APIError struct {
	// StatusCode is the HTTP status.
	StatusCode int
	// Body is the trimmed response body.
	Body string
	// Detail is the server's error detail, when the body carried one.
	Detail string
}

func (e *APIError) Error() string {
	message := e.Detail
	if message == "" {
		message = e.Body
	}
	if message == "" {
		message = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("request rejected: status %d: %s", e.StatusCode, message)
}

// Is makes rejections match stream.ErrTransportRejected.
func (e *APIError) Is(target error) bool {
	return target == stream.ErrTransportRejected
}

// Client opens event streams from a job/agent backend.
type Client struct {
	// baseURL is the backend root.
	baseURL string
	// apiKey is sent as a bearer token, if provided.
	apiKey string
	// idleTimeout aborts a stream after this long without data; zero disables it.
	idleTimeout time.Duration
	// httpClient executes requests. It has no overall timeout since streams are long-lived.
	httpClient *http.Client
}

// NewClient constructs a client. headerTimeout bounds the wait for response
// headers; idleTimeout bounds the gap between reads once streaming.
func NewClient(baseURL string, apiKey string, headerTimeout time.Duration, idleTimeout time.Duration) *Client {
	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	httpTransport.ResponseHeaderTimeout = headerTimeout
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		idleTimeout: idleTimeout,
		httpClient:  &http.Client{Transport: httpTransport},
	}
}

// Request describes a stream request.
type Request struct {
	// Method defaults to GET, or POST when Body is set.
	Method string
	// Path is joined to the base URL unless it is absolute.
	Path string
	// Body is JSON-encoded when non-nil.
	Body any
}

// Opener binds a request to the client for use by a stream session.
func (c *Client) Opener(req Request) stream.Opener {
	return func(ctx context.Context) (io.ReadCloser, error) {
		return c.Open(ctx, req)
	}
}

// Open sends the request and returns the decoded event stream. Cancelling
// ctx aborts the request, including an in-flight read.
func (c *Client) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	var body io.Reader
	method := req.Method
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("marshal stream request: %w", err)
		}
		body = bytes.NewReader(payload)
		if method == "" {
			method = http.MethodPost
		}
	}
	if method == "" {
		method = http.MethodGet
	}

	requestCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(requestCtx, method, c.resolve(req.Path), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("send stream request: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer cancel()
		defer resp.Body.Close()
		raw, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if readErr != nil {
			return nil, fmt.Errorf("read stream error body: %w", readErr)
		}
		trimmed := strings.TrimSpace(string(raw))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: trimmed, Detail: errorDetail(raw)}
	}

	return newStreamBody(resp.Body, cancel, c.idleTimeout), nil
}

// resolve joins a request path to the base URL.
func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if path == "" {
		return c.baseURL
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// errorDetail extracts a message from common JSON error bodies.
func errorDetail(raw []byte) string {
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return ""
	}
	for _, key := range []string{"detail", "error", "message"} {
		value, ok := parsed[key]
		if !ok {
			continue
		}
		var text string
		if err := json.Unmarshal(value, &text); err == nil {
			return text
		}
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(value, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		return string(value)
	}
	return ""
}

// IsRejected reports whether err is an HTTP rejection and returns it.
func IsRejected(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
