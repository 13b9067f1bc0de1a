package integration

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// MockBackend is a configurable HTTP test server simulating one of the
// engine's collaborators (mail queue, payments, documents, or an
// api_call target). It records every received request for later
// assertion and can be switched into a failure mode.
type MockBackend struct {
	t      *testing.T
	name   string
	server *httptest.Server

	mu        sync.Mutex
	received  []*RecordedRequest
	failWith  int
	delay     time.Duration
	responses map[string]any
}

// RecordedRequest captures the details of a request received by the mock
// backend.
type RecordedRequest struct {
	Method     string
	Path       string
	Headers    http.Header
	Body       map[string]any
	ReceivedAt time.Time
}

// newMockBackend starts a mock backend. responses maps "METHOD /path" to
// the JSON body returned for that route; unmatched requests get 404.
func newMockBackend(t *testing.T, name string, responses map[string]any) *MockBackend {
	t.Helper()

	mb := &MockBackend{t: t, name: name, responses: responses}
	mb.server = httptest.NewServer(http.HandlerFunc(mb.handle))
	t.Cleanup(mb.server.Close)
	return mb
}

func (mb *MockBackend) handle(w http.ResponseWriter, r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	if len(raw) > 0 {
		json.Unmarshal(raw, &body)
	}

	mb.mu.Lock()
	mb.received = append(mb.received, &RecordedRequest{
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		Body:       body,
		ReceivedAt: time.Now(),
	})
	failWith := mb.failWith
	delay := mb.delay
	response, ok := mb.responses[r.Method+" "+r.URL.Path]
	mb.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	w.Header().Set("Content-Type", "application/json")
	if failWith != 0 {
		w.WriteHeader(failWith)
		json.NewEncoder(w).Encode(map[string]string{"error": "induced failure"})
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "no route"})
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// URL returns the backend's base URL.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// FailWith makes every subsequent request return the given status.
func (mb *MockBackend) FailWith(status int) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.failWith = status
}

// Recover clears the failure mode.
func (mb *MockBackend) Recover() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.failWith = 0
}

// Delay makes every subsequent request sleep before responding.
func (mb *MockBackend) Delay(d time.Duration) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.delay = d
}

// Received returns a snapshot of all recorded requests.
func (mb *MockBackend) Received() []*RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	out := make([]*RecordedRequest, len(mb.received))
	copy(out, mb.received)
	return out
}

// RequestCount returns the number of requests received so far.
func (mb *MockBackend) RequestCount() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.received)
}

// Reset clears recorded requests and failure modes.
func (mb *MockBackend) Reset() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.received = nil
	mb.failWith = 0
	mb.delay = 0
}
