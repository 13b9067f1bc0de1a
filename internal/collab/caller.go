package collab

import (
	"context"
	"fmt"

	"github.com/licensahq/stageact/internal/config"
	"github.com/licensahq/stageact/model"
)

// CallResult is the outcome of a generic service call.
type CallResult struct {
	StatusCode int
	Body       any
}

// Caller performs generic HTTP calls against configured services on
// behalf of api_call actions.
type Caller interface {
	Call(ctx context.Context, service, method, endpoint string, headers map[string]string, body map[string]any) (CallResult, error)
	// Knows reports whether the named service is configured. Used at
	// template validation time.
	Knows(service string) bool
}

// HTTPCaller routes calls to per-service clients, each with its own
// circuit breaker.
type HTTPCaller struct {
	clients map[string]*Client
}

// NewHTTPCaller builds one client per configured service.
func NewHTTPCaller(services map[string]config.ServiceConfig) *HTTPCaller {
	clients := make(map[string]*Client, len(services))
	for id, svc := range services {
		clients[id] = NewClient(svc)
	}
	return &HTTPCaller{clients: clients}
}

// Knows reports whether the named service is configured.
func (c *HTTPCaller) Knows(service string) bool {
	_, ok := c.clients[service]
	return ok
}

// Call performs one request against a configured service. An unknown
// service is a configuration error; transport failures and non-2xx
// statuses are call failures.
func (c *HTTPCaller) Call(ctx context.Context, service, method, endpoint string, headers map[string]string, body map[string]any) (CallResult, error) {
	client, ok := c.clients[service]
	if !ok {
		return CallResult{}, model.NewConfigurationError(
			fmt.Sprintf("service %q is not configured", service))
	}

	var payload any
	if len(body) > 0 {
		payload = body
	}
	resp, err := client.DoJSON(ctx, method, endpoint, headers, payload)
	if err != nil {
		return CallResult{}, err
	}
	if resp.StatusCode >= 300 {
		return CallResult{StatusCode: resp.StatusCode, Body: resp.Body},
			model.NewActionFailedError("api_call",
				fmt.Sprintf("%s %s returned status %d", method, endpoint, resp.StatusCode))
	}
	return CallResult{StatusCode: resp.StatusCode, Body: resp.Body}, nil
}
