package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/model"
)

// maxResponseBytes caps how much of a collaborator response we read.
const maxResponseBytes = 10 << 20

// Response is the outcome of a collaborator HTTP call.
type Response struct {
	StatusCode int
	Body       any
	Headers    map[string]string
}

// Client is an HTTP client for one collaborator service with a dedicated
// connection pool and circuit breaker.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *CircuitBreaker
}

// NewClient builds a client from a service configuration section.
func NewClient(cfg config.ServiceConfig) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	cb := cfg.CircuitBreaker
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		breaker: NewCircuitBreaker(cb.FailureThreshold, cb.SuccessThreshold, cb.Timeout),
	}
}

// DoJSON performs a single JSON request against the service. Connection
// errors and timeouts come back as typed envelope errors; HTTP status is
// reported in the Response and left to the caller to judge.
func (c *Client) DoJSON(ctx context.Context, method, path string, headers map[string]string, body any) (Response, error) {
	if err := c.breaker.Allow(); err != nil {
		return Response{}, model.NewBackendUnavailableError()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return Response{}, fmt.Errorf("collab: marshal body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return Response{}, fmt.Errorf("collab: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(sanitizeHeader(k), sanitizeHeader(v))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		if isConnectionError(err) {
			return Response{}, model.NewBackendUnavailableError()
		}
		if ctx.Err() != nil {
			return Response{}, model.NewBackendTimeoutError()
		}
		return Response{}, fmt.Errorf("collab: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.breaker.RecordFailure()
		return Response{}, fmt.Errorf("collab: read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		// 4xx is the caller's problem, not an infrastructure failure;
		// a reply of any kind proves the backend is up, so it still
		// counts toward closing a half-open breaker.
		c.breaker.RecordSuccess()
	}

	out := Response{
		StatusCode: resp.StatusCode,
		Headers:    extractResponseHeaders(resp),
	}
	if len(respBody) > 0 {
		var parsed any
		if err := json.Unmarshal(respBody, &parsed); err == nil {
			out.Body = parsed
		}
	}
	return out, nil
}

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return s
}

func extractResponseHeaders(resp *http.Response) map[string]string {
	headers := make(map[string]string)
	for _, key := range []string{
		"Content-Type", "X-Correlation-Id", "X-Trace-Id",
		"X-Request-Id", "Retry-After",
	} {
		if v := resp.Header.Get(key); v != "" {
			headers[key] = v
		}
	}
	return headers
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	return false
}
