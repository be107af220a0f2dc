package api

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"sync"
	"time"
)

// InMemoryTransport is a lightweight simulation of the Tempo backend for unit
// tests. Responses, failures and delays are configured per endpoint.
// It is safe for concurrent use.
type InMemoryTransport struct {
	mu         sync.Mutex
	responses  map[string][]byte
	handlers   map[string]func(Request) ([]byte, error)
	failures   map[string]error
	queued     map[string][]error
	delays     map[string]time.Duration
	requestLog []RequestLogEntry
}

// RequestLogEntry records a request made to the transport.
type RequestLogEntry struct {
	Method   string
	Endpoint string
	Params   map[string]string
	Token    string
	Body     []byte
}

// NewInMemoryTransport creates a new in-memory transport for testing.
func NewInMemoryTransport() *InMemoryTransport {
	t := &InMemoryTransport{}
	t.Reset()
	return t
}

// Respond makes endpoint return v encoded as JSON.
func (t *InMemoryTransport) Respond(endpoint string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("InMemoryTransport.Respond(%s): %v", endpoint, err))
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses[endpoint] = data
}

// Handle installs a dynamic handler for endpoint. It takes precedence over Respond.
func (t *InMemoryTransport) Handle(endpoint string, fn func(Request) ([]byte, error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[endpoint] = fn
}

// Fail makes every call to endpoint return err until Reset.
func (t *InMemoryTransport) Fail(endpoint string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failures[endpoint] = err
}

// FailNext makes the next n calls to endpoint return err.
func (t *InMemoryTransport) FailNext(endpoint string, err error, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 0; i < n; i++ {
		t.queued[endpoint] = append(t.queued[endpoint], err)
	}
}

// Delay makes calls to endpoint block for d (or until the context is done).
func (t *InMemoryTransport) Delay(endpoint string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.delays[endpoint] = d
}

// RequestsMade returns the number of requests made to this transport.
func (t *InMemoryTransport) RequestsMade() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requestLog)
}

// RequestsTo returns the number of requests made to endpoint.
func (t *InMemoryTransport) RequestsTo(endpoint string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.requestLog {
		if r.Endpoint == endpoint {
			n++
		}
	}
	return n
}

// Requests returns a copy of the request log.
func (t *InMemoryTransport) Requests() []RequestLogEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RequestLogEntry(nil), t.requestLog...)
}

// Reset clears all configuration and recorded requests.
func (t *InMemoryTransport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.responses = make(map[string][]byte)
	t.handlers = make(map[string]func(Request) ([]byte, error))
	t.failures = make(map[string]error)
	t.queued = make(map[string][]error)
	t.delays = make(map[string]time.Duration)
	t.requestLog = nil
}

// Request simulates a backend call.
func (t *InMemoryTransport) Request(ctx context.Context, r Request) ([]byte, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	entry := RequestLogEntry{
		Method:   method,
		Endpoint: r.Endpoint,
		Params:   maps.Clone(r.Params),
		Token:    r.Token,
	}
	if r.Body != nil {
		entry.Body, _ = json.Marshal(r.Body)
	}

	t.mu.Lock()
	// Track the call for assertions in unit tests
	t.requestLog = append(t.requestLog, entry)
	delay := t.delays[r.Endpoint]
	var queuedErr error
	if q := t.queued[r.Endpoint]; len(q) > 0 {
		queuedErr = q[0]
		t.queued[r.Endpoint] = q[1:]
	}
	failErr := t.failures[r.Endpoint]
	handler := t.handlers[r.Endpoint]
	response, hasResponse := t.responses[r.Endpoint]
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch {
	case queuedErr != nil:
		return nil, queuedErr
	case failErr != nil:
		return nil, failErr
	case handler != nil:
		return handler(r)
	case hasResponse:
		return response, nil
	}
	return nil, &APIError{StatusCode: http.StatusNotFound, Message: "no fixture for " + r.Endpoint}
}
