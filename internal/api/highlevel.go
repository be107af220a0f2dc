package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/core"
)

// Backend endpoints, relative to the versioned base URL.
const (
	EndpointSignIn            = "auth/signin"
	EndpointRefresh           = "auth/refresh"
	EndpointProfile           = "me"
	EndpointEvents            = "calendar/events"
	EndpointHealthMetrics     = "health/metrics"
	EndpointHealthSummary     = "health/summary"
	EndpointDailyBriefing     = "briefing/daily"
	EndpointHealthInsights    = "insights/health"
	EndpointWeeklyInsights    = "insights/weekly"
	EndpointLifeInsights      = "insights/life"
	EndpointCapacityAnalysis  = "insights/capacity"
	EndpointAvailableWeeks    = "insights/weeks"
	EndpointDailySummary      = "summary/daily"
	EndpointChat              = "chat"
	EndpointNotificationPrefs = "notifications/preferences"
	EndpointEngagement        = "notifications/engagement"
)

// ErrNoTokenSource is returned by authorized calls when no TokenSource is set.
var ErrNoTokenSource = errors.New("api: no token source configured")

// TokenSource supplies bearer tokens for authorized calls.
type TokenSource interface {
	// AccessToken returns a usable access token, refreshing it if needed.
	AccessToken(ctx context.Context) (string, error)

	// Refresh forces a refresh and returns the new access token.
	Refresh(ctx context.Context) (string, error)
}

// TempoAPI provides a typed convenience layer over the Tempo REST API.
type TempoAPI struct {
	transport Transport
	tokens    TokenSource
	verbose   bool
}

// NewTempoAPI creates a new high-level API client.
func NewTempoAPI(transport Transport, verbose bool) *TempoAPI {
	if transport == nil {
		transport = NewClient("", 0, verbose)
	}
	return &TempoAPI{transport: transport, verbose: verbose}
}

// SetTokenSource installs the source of bearer tokens for authorized calls.
func (a *TempoAPI) SetTokenSource(ts TokenSource) {
	a.tokens = ts
}

func (a *TempoAPI) log(msg string) {
	core.Eprint(fmt.Sprintf("[API] %s", msg), a.verbose)
}

// call performs an unauthenticated request and decodes the response into out.
func (a *TempoAPI) call(ctx context.Context, req Request, out any) error {
	body, err := a.transport.Request(ctx, req)
	if err != nil {
		return err
	}
	return decode(req.Endpoint, body, out)
}

// authorized attaches the bearer token. A 401 triggers one refresh and one retry.
func (a *TempoAPI) authorized(ctx context.Context, req Request, out any) error {
	if a.tokens == nil {
		return ErrNoTokenSource
	}
	token, err := a.tokens.AccessToken(ctx)
	if err != nil {
		return err
	}
	req.Token = token

	body, err := a.transport.Request(ctx, req)
	if IsUnauthorized(err) {
		a.log(fmt.Sprintf("%s returned 401; refreshing token and retrying once", req.Endpoint))
		token, err = a.tokens.Refresh(ctx)
		if err != nil {
			return err
		}
		req.Token = token
		body, err = a.transport.Request(ctx, req)
	}
	if err != nil {
		return err
	}
	return decode(req.Endpoint, body, out)
}

func decode(endpoint string, body []byte, out any) error {
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", endpoint, err)
	}
	return nil
}

func dateParam(t time.Time) string {
	return t.Format(core.APIDateFmt)
}

// SignIn exchanges a provider identity token for a session.
func (a *TempoAPI) SignIn(ctx context.Context, in SignInRequest) (*TokenResponse, error) {
	var out TokenResponse
	if err := a.call(ctx, Request{Method: http.MethodPost, Endpoint: EndpointSignIn, Body: in}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Refresh exchanges a refresh token for a new access token.
func (a *TempoAPI) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var out TokenResponse
	req := Request{Method: http.MethodPost, Endpoint: EndpointRefresh, Body: RefreshRequest{RefreshToken: refreshToken}}
	if err := a.call(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Profile returns the signed-in user.
func (a *TempoAPI) Profile(ctx context.Context) (*Profile, error) {
	var out Profile
	if err := a.authorized(ctx, Request{Endpoint: EndpointProfile}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Events returns calendar events overlapping [start, end).
func (a *TempoAPI) Events(ctx context.Context, start, end time.Time) ([]Event, error) {
	var out EventsResponse
	req := Request{Endpoint: EndpointEvents, Params: map[string]string{
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// SubmitHealthMetrics uploads collected health metrics.
func (a *TempoAPI) SubmitHealthMetrics(ctx context.Context, metrics []HealthMetrics) error {
	req := Request{Method: http.MethodPost, Endpoint: EndpointHealthMetrics, Body: HealthSubmission{Metrics: metrics}}
	return a.authorized(ctx, req, nil)
}

// DailyBriefing returns the briefing for date.
func (a *TempoAPI) DailyBriefing(ctx context.Context, date time.Time) (*DailyBriefing, error) {
	var out DailyBriefing
	req := Request{Endpoint: EndpointDailyBriefing, Params: map[string]string{"date": dateParam(date)}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthSummary returns the health summary for date.
func (a *TempoAPI) HealthSummary(ctx context.Context, date time.Time) (*HealthSummary, error) {
	var out HealthSummary
	req := Request{Endpoint: EndpointHealthSummary, Params: map[string]string{"date": dateParam(date)}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HealthInsights returns insights for [start, end].
func (a *TempoAPI) HealthInsights(ctx context.Context, start, end time.Time) (*HealthInsights, error) {
	var out HealthInsights
	req := Request{Endpoint: EndpointHealthInsights, Params: map[string]string{
		"start": dateParam(start),
		"end":   dateParam(end),
	}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WeeklyInsights returns the review of the week starting weekStart.
func (a *TempoAPI) WeeklyInsights(ctx context.Context, weekStart time.Time) (*WeeklyInsights, error) {
	var out WeeklyInsights
	req := Request{Endpoint: EndpointWeeklyInsights, Params: map[string]string{"week_start": dateParam(weekStart)}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LifeInsights returns long-horizon insights.
func (a *TempoAPI) LifeInsights(ctx context.Context) (*LifeInsights, error) {
	var out LifeInsights
	if err := a.authorized(ctx, Request{Endpoint: EndpointLifeInsights}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CapacityAnalysis returns scheduled load for [start, end].
func (a *TempoAPI) CapacityAnalysis(ctx context.Context, start, end time.Time) (*CapacityAnalysis, error) {
	var out CapacityAnalysis
	req := Request{Endpoint: EndpointCapacityAnalysis, Params: map[string]string{
		"start": dateParam(start),
		"end":   dateParam(end),
	}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AvailableWeeks lists weeks with enough data for a weekly review.
func (a *TempoAPI) AvailableWeeks(ctx context.Context) ([]AvailableWeek, error) {
	var out AvailableWeeksResponse
	if err := a.authorized(ctx, Request{Endpoint: EndpointAvailableWeeks}, &out); err != nil {
		return nil, err
	}
	return out.Weeks, nil
}

// DailySummary returns the AI summary of date.
func (a *TempoAPI) DailySummary(ctx context.Context, date time.Time) (*DailySummary, error) {
	var out DailySummary
	req := Request{Endpoint: EndpointDailySummary, Params: map[string]string{"date": dateParam(date)}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat sends the conversation so far and returns the assistant's reply.
func (a *TempoAPI) Chat(ctx context.Context, messages []ChatMessage) (*ChatMessage, error) {
	var out ChatResponse
	req := Request{Method: http.MethodPost, Endpoint: EndpointChat, Body: ChatRequest{Messages: messages}}
	if err := a.authorized(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out.Reply, nil
}

// NotificationPreferences returns the server-side notification settings.
func (a *TempoAPI) NotificationPreferences(ctx context.Context) (*NotificationPreferences, error) {
	var out NotificationPreferences
	if err := a.authorized(ctx, Request{Endpoint: EndpointNotificationPrefs}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateNotificationPreferences replaces the server-side notification settings.
func (a *TempoAPI) UpdateNotificationPreferences(ctx context.Context, prefs NotificationPreferences) error {
	req := Request{Method: http.MethodPut, Endpoint: EndpointNotificationPrefs, Body: prefs}
	return a.authorized(ctx, req, nil)
}

// TrackEngagement records an interaction with a notification.
func (a *TempoAPI) TrackEngagement(ctx context.Context, ev EngagementEvent) error {
	req := Request{Method: http.MethodPost, Endpoint: EndpointEngagement, Body: ev}
	return a.authorized(ctx, req, nil)
}
