package cache

import (
	"time"

	"github.com/colthorp/tempo-cli-go/internal/core"
)

// Cache key prefixes. Keys are derived deterministically from the feature and
// its date parameters, e.g. "daily_briefing_2024-05-01".
const (
	PrefixDailyBriefing    = "daily_briefing_"
	PrefixHealthSummary    = "health_summary_"
	PrefixHealthInsights   = "health_insights_"
	PrefixWeeklyInsights   = "weekly_insights_"
	PrefixLifeInsights     = "life_insights_"
	PrefixCapacityAnalysis = "capacity_analysis_"
	PrefixAvailableWeeks   = "available_weeks_"

	// PrefixHealth matches every health-derived key.
	PrefixHealth = "health_"
)

// KeyEvents is the fixed key of the event cache.
const KeyEvents = "calendar_events"

// KeyNotificationPreferences holds the last preferences fetched from the backend.
const KeyNotificationPreferences = "notification_preferences"

func day(t time.Time) string {
	return t.Format(core.APIDateFmt)
}

// KeyDailyBriefing returns the key for date's briefing.
func KeyDailyBriefing(date time.Time) string {
	return PrefixDailyBriefing + day(date)
}

// KeyHealthSummary returns the key for date's health summary.
func KeyHealthSummary(date time.Time) string {
	return PrefixHealthSummary + day(date)
}

// KeyHealthInsights returns the key for insights over [start, end].
func KeyHealthInsights(start, end time.Time) string {
	return PrefixHealthInsights + day(start) + "_" + day(end)
}

// KeyWeeklyInsights returns the key for the week starting weekStart.
func KeyWeeklyInsights(weekStart time.Time) string {
	return PrefixWeeklyInsights + day(weekStart)
}

// KeyLifeInsights returns the key for life insights as of date.
func KeyLifeInsights(date time.Time) string {
	return PrefixLifeInsights + day(date)
}

// KeyCapacityAnalysis returns the key for capacity over [start, end].
func KeyCapacityAnalysis(start, end time.Time) string {
	return PrefixCapacityAnalysis + day(start) + "_" + day(end)
}

// KeyAvailableWeeks returns the key for the available-weeks list as of date.
func KeyAvailableWeeks(date time.Time) string {
	return PrefixAvailableWeeks + day(date)
}
