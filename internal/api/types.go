// Package api provides the HTTP client and types for the Tempo backend.
package api

import (
	"context"
	"time"
)

// Request describes one backend call.
type Request struct {
	Method   string            // defaults to GET
	Endpoint string            // path relative to the versioned base URL
	Params   map[string]string // query parameters
	Body     any               // JSON-encoded when non-nil
	Token    string            // bearer token; empty for unauthenticated calls
}

// Transport is the interface for making API requests.
// It returns the raw JSON response body.
type Transport interface {
	Request(ctx context.Context, req Request) ([]byte, error)
}

// SignInRequest exchanges a provider identity token for a session.
type SignInRequest struct {
	Provider string `json:"provider"`
	IDToken  string `json:"id_token"`
	DeviceID string `json:"device_id,omitempty"`
}

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// TokenResponse is returned by sign-in and refresh.
// ExpiresIn and RefreshExpiresIn are seconds from now; zero means unknown.
type TokenResponse struct {
	AccessToken      string   `json:"access_token"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	TokenType        string   `json:"token_type,omitempty"`
	ExpiresIn        int64    `json:"expires_in,omitempty"`
	RefreshExpiresIn int64    `json:"refresh_expires_in,omitempty"`
	User             *Profile `json:"user,omitempty"`
}

// Profile is the signed-in user.
type Profile struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Timezone string `json:"timezone,omitempty"`
}

// Event is a calendar event.
type Event struct {
	ID             string      `json:"id"`
	Title          string      `json:"title"`
	Start          time.Time   `json:"start"`
	End            time.Time   `json:"end"`
	AllDay         bool        `json:"all_day,omitempty"`
	Location       string      `json:"location,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	CalendarID     string      `json:"calendar_id,omitempty"`
	RecurrenceRule string      `json:"recurrence_rule,omitempty"` // RFC 5545 RRULE value
	ExDates        []time.Time `json:"exdates,omitempty"`
	RecurrenceID   string      `json:"recurrence_id,omitempty"` // series ID for expanded occurrences
}

// Duration returns End - Start, or zero when End is unset.
func (e Event) Duration() time.Duration {
	if e.End.IsZero() || e.End.Before(e.Start) {
		return 0
	}
	return e.End.Sub(e.Start)
}

// EventsResponse wraps the events list.
type EventsResponse struct {
	Events []Event `json:"events"`
}

// HealthMetrics is one day of collected health data.
type HealthMetrics struct {
	Date             string   `json:"date"`
	Steps            int      `json:"steps,omitempty"`
	ActiveEnergyKcal float64  `json:"active_energy_kcal,omitempty"`
	SleepHours       float64  `json:"sleep_hours,omitempty"`
	RestingHeartRate float64  `json:"resting_heart_rate,omitempty"`
	HRVMilliseconds  float64  `json:"hrv_ms,omitempty"`
	EnergyScore      *float64 `json:"energy_score,omitempty"`
}

// HealthSubmission is the body of a metrics upload.
type HealthSubmission struct {
	Metrics []HealthMetrics `json:"metrics"`
}

// Insight is a single AI-generated observation.
type Insight struct {
	ID       string `json:"id,omitempty"`
	Title    string `json:"title"`
	Body     string `json:"body"`
	Category string `json:"category,omitempty"`
}

// DailyBriefing is the morning briefing for one day.
type DailyBriefing struct {
	Date        string    `json:"date"`
	Summary     string    `json:"summary"`
	Highlights  []string  `json:"highlights,omitempty"`
	EnergyScore *float64  `json:"energy_score,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// HealthSummary summarizes one day of health metrics.
type HealthSummary struct {
	Date    string             `json:"date"`
	Summary string             `json:"summary"`
	Metrics map[string]float64 `json:"metrics,omitempty"`
}

// HealthInsights are insights over a date range.
type HealthInsights struct {
	Start    string    `json:"start"`
	End      string    `json:"end"`
	Insights []Insight `json:"insights"`
}

// WeeklyInsights review one week.
type WeeklyInsights struct {
	WeekStart string    `json:"week_start"`
	Summary   string    `json:"summary"`
	Insights  []Insight `json:"insights"`
}

// LifeInsights are long-horizon insights.
type LifeInsights struct {
	Insights    []Insight `json:"insights"`
	GeneratedAt time.Time `json:"generated_at"`
}

// DayCapacity is the scheduled load for one day.
type DayCapacity struct {
	Date           string  `json:"date"`
	ScheduledHours float64 `json:"scheduled_hours"`
	CapacityHours  float64 `json:"capacity_hours"`
	Utilization    float64 `json:"utilization"`
}

// CapacityAnalysis covers a date range.
type CapacityAnalysis struct {
	Start string        `json:"start"`
	End   string        `json:"end"`
	Days  []DayCapacity `json:"days"`
}

// AvailableWeek is a week with enough data for a weekly review.
type AvailableWeek struct {
	WeekStart string `json:"week_start"`
	WeekEnd   string `json:"week_end"`
}

// AvailableWeeksResponse wraps the available weeks list.
type AvailableWeeksResponse struct {
	Weeks []AvailableWeek `json:"weeks"`
}

// DailySummary is an AI-generated summary of one day.
type DailySummary struct {
	Date        string    `json:"date"`
	Summary     string    `json:"summary"`
	Highlights  []string  `json:"highlights,omitempty"`
	EventCount  int       `json:"event_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

// ChatMessage is one turn of an assistant conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of a chat call.
type ChatRequest struct {
	Messages []ChatMessage `json:"messages"`
}

// ChatResponse is the assistant's reply.
type ChatResponse struct {
	Reply ChatMessage `json:"reply"`
}

// NotificationPreferences controls server-side notification scheduling.
type NotificationPreferences struct {
	DailyBriefingEnabled   bool   `json:"daily_briefing_enabled"`
	DailyBriefingTime      string `json:"daily_briefing_time"`
	WeeklyReviewEnabled    bool   `json:"weekly_review_enabled"`
	HealthRemindersEnabled bool   `json:"health_reminders_enabled"`
	Timezone               string `json:"timezone,omitempty"`
}

// EngagementEvent records an interaction with a notification.
type EngagementEvent struct {
	NotificationID string    `json:"notification_id"`
	Action         string    `json:"action"`
	OccurredAt     time.Time `json:"occurred_at"`
}
