package api

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"
)

type fakeTokens struct {
	token     string
	refreshed string
	refreshes int
	err       error
}

func (f *fakeTokens) AccessToken(context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeTokens) Refresh(context.Context) (string, error) {
	f.refreshes++
	if f.err != nil {
		return "", f.err
	}
	f.token = f.refreshed
	return f.refreshed, nil
}

func TestAuthorizedCallAttachesToken(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Respond(EndpointProfile, Profile{ID: "u1", Email: "a@b.c"})

	a := NewTempoAPI(transport, false)
	a.SetTokenSource(&fakeTokens{token: "t1"})

	p, err := a.Profile(context.Background())
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if p.ID != "u1" {
		t.Errorf("unexpected profile %+v", p)
	}
	if reqs := transport.Requests(); len(reqs) != 1 || reqs[0].Token != "t1" {
		t.Errorf("expected one request with token t1, got %+v", reqs)
	}
}

func TestUnauthorizedTriggersRefreshAndSingleRetry(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Respond(EndpointDailyBriefing, DailyBriefing{Date: "2024-05-01", Summary: "busy day"})
	transport.FailNext(EndpointDailyBriefing, &APIError{StatusCode: http.StatusUnauthorized}, 1)

	tokens := &fakeTokens{token: "old", refreshed: "new"}
	a := NewTempoAPI(transport, false)
	a.SetTokenSource(tokens)

	b, err := a.DailyBriefing(context.Background(), time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("briefing: %v", err)
	}
	if b.Summary != "busy day" {
		t.Errorf("unexpected briefing %+v", b)
	}
	if tokens.refreshes != 1 {
		t.Errorf("expected one refresh, got %d", tokens.refreshes)
	}
	reqs := transport.Requests()
	if len(reqs) != 2 || reqs[0].Token != "old" || reqs[1].Token != "new" {
		t.Errorf("expected retry with refreshed token, got %+v", reqs)
	}
	if reqs[0].Params["date"] != "2024-05-01" {
		t.Errorf("expected date param, got %v", reqs[0].Params)
	}
}

func TestRepeatedUnauthorizedIsReturned(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Fail(EndpointProfile, &APIError{StatusCode: http.StatusUnauthorized})

	tokens := &fakeTokens{token: "old", refreshed: "new"}
	a := NewTempoAPI(transport, false)
	a.SetTokenSource(tokens)

	_, err := a.Profile(context.Background())
	if !IsUnauthorized(err) {
		t.Fatalf("expected 401 after single retry, got %v", err)
	}
	if transport.RequestsMade() != 2 {
		t.Errorf("expected exactly 2 requests, got %d", transport.RequestsMade())
	}
}

func TestRefreshFailureIsReturned(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.FailNext(EndpointProfile, &APIError{StatusCode: http.StatusUnauthorized}, 1)
	refreshErr := errors.New("session expired")

	a := NewTempoAPI(transport, false)
	a.SetTokenSource(&fakeTokens{token: "old", err: refreshErr})

	if _, err := a.Profile(context.Background()); !errors.Is(err, refreshErr) {
		t.Fatalf("expected refresh error, got %v", err)
	}
	if transport.RequestsMade() != 1 {
		t.Errorf("expected no retry after failed refresh, got %d requests", transport.RequestsMade())
	}
}

func TestAuthorizedCallWithoutTokenSource(t *testing.T) {
	a := NewTempoAPI(NewInMemoryTransport(), false)
	if _, err := a.LifeInsights(context.Background()); !errors.Is(err, ErrNoTokenSource) {
		t.Fatalf("expected ErrNoTokenSource, got %v", err)
	}
}

func TestSignInIsUnauthenticated(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Respond(EndpointSignIn, TokenResponse{AccessToken: "a", RefreshToken: "r", ExpiresIn: 3600})

	a := NewTempoAPI(transport, false)
	resp, err := a.SignIn(context.Background(), SignInRequest{Provider: "apple", IDToken: "id"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if resp.AccessToken != "a" || resp.ExpiresIn != 3600 {
		t.Errorf("unexpected response %+v", resp)
	}
	reqs := transport.Requests()
	if reqs[0].Method != http.MethodPost || reqs[0].Token != "" {
		t.Errorf("expected unauthenticated POST, got %+v", reqs[0])
	}
}

func TestEventsDecodes(t *testing.T) {
	transport := NewInMemoryTransport()
	start := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	transport.Respond(EndpointEvents, EventsResponse{Events: []Event{
		{ID: "e1", Title: "Standup", Start: start, End: start.Add(15 * time.Minute)},
	}})

	a := NewTempoAPI(transport, false)
	a.SetTokenSource(&fakeTokens{token: "t"})

	events, err := a.Events(context.Background(), start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 1 || events[0].Duration() != 15*time.Minute {
		t.Errorf("unexpected events %+v", events)
	}
}

func TestInMemoryTransportDelayRespectsContext(t *testing.T) {
	transport := NewInMemoryTransport()
	transport.Respond("slow", map[string]string{})
	transport.Delay("slow", time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := transport.Request(ctx, Request{Endpoint: "slow"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestInMemoryTransportMissingFixture(t *testing.T) {
	_, err := NewInMemoryTransport().Request(context.Background(), Request{Endpoint: "nope"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}
