package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(srv.URL, time.Second, false)
	c.backOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	return c
}

func TestClientSendsBearerAndQuery(t *testing.T) {
	var gotAuth, gotPath, gotDate, gotRequestID string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotDate = r.URL.Query().Get("date")
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Write([]byte(`{"date":"2024-05-01","summary":"ok"}`))
	})

	body, err := c.Request(context.Background(), Request{
		Endpoint: EndpointDailyBriefing,
		Params:   map[string]string{"date": "2024-05-01"},
		Token:    "tok",
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("expected bearer header, got %q", gotAuth)
	}
	if gotPath != "/v1/briefing/daily" {
		t.Errorf("expected versioned path, got %q", gotPath)
	}
	if gotDate != "2024-05-01" {
		t.Errorf("expected date param, got %q", gotDate)
	}
	if gotRequestID == "" {
		t.Error("expected a request id header")
	}

	var out DailyBriefing
	if err := json.Unmarshal(body, &out); err != nil || out.Summary != "ok" {
		t.Errorf("unexpected body %s (err=%v)", body, err)
	}
}

func TestClientEncodesBody(t *testing.T) {
	var got SignInRequest
	var contentType string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		contentType = r.Header.Get("Content-Type")
		data, _ := io.ReadAll(r.Body)
		json.Unmarshal(data, &got)
		w.Write([]byte(`{}`))
	})

	_, err := c.Request(context.Background(), Request{
		Method:   http.MethodPost,
		Endpoint: EndpointSignIn,
		Body:     SignInRequest{Provider: "apple", IDToken: "id"},
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if contentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", contentType)
	}
	if got.Provider != "apple" || got.IDToken != "id" {
		t.Errorf("unexpected body %+v", got)
	}
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{}`))
	})

	if _, err := c.Request(context.Background(), Request{Endpoint: "me"}); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Request(context.Background(), Request{Endpoint: "me"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502 APIError, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	})

	if _, err := c.Request(context.Background(), Request{Endpoint: "me"}); err != nil {
		t.Fatalf("expected success after 429, got %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("expected 2 attempts, got %d", calls.Load())
	}
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})

	_, err := c.Request(context.Background(), Request{Method: http.MethodPost, Endpoint: EndpointRefresh})
	if calls.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", calls.Load())
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "invalid_grant" || apiErr.Message != "refresh token revoked" {
		t.Errorf("unexpected error fields %+v", apiErr)
	}
	if !IsInvalidGrant(err) {
		t.Error("expected IsInvalidGrant")
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		unauthorized bool
		invalidGrant bool
	}{
		{"401", &APIError{StatusCode: 401}, true, true},
		{"400", &APIError{StatusCode: 400}, false, true},
		{"invalid_grant code on 403", &APIError{StatusCode: 403, Code: "invalid_grant"}, false, true},
		{"503", &APIError{StatusCode: 503}, false, false},
		{"network", errors.New("connection reset"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsUnauthorized(tt.err); got != tt.unauthorized {
				t.Errorf("IsUnauthorized = %v, want %v", got, tt.unauthorized)
			}
			if got := IsInvalidGrant(tt.err); got != tt.invalidGrant {
				t.Errorf("IsInvalidGrant = %v, want %v", got, tt.invalidGrant)
			}
		})
	}
}
