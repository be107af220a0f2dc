// Package core provides shared constants and helpers for the Tempo client.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// API configuration
const (
	APIBaseURL      = "https://api.tempo.app"
	APIVersion      = "v1"
	DefaultTZ       = "America/Detroit"
	KeychainService = "com.tempo.app"
)

// Date formats
const (
	APIDateFmt = "2006-01-02"
)

// Token store
const (
	TokenReadAttempts = 5                      // Bounded retry for transient keychain failures
	TokenReadInterval = 200 * time.Millisecond // Fixed backoff between read attempts
	AccessTokenBuffer = 60 * time.Second       // Refresh this long before the access token expires
)

// Cache windows
const (
	EventCacheWindow = 15 * time.Minute
	SummaryTTL       = time.Hour
)

// Prefetch TTLs per feature
const (
	TTLDailyBriefing    = 30 * time.Minute
	TTLHealthSummary    = 30 * time.Minute
	TTLHealthInsights   = time.Hour
	TTLWeeklyInsights   = time.Hour
	TTLLifeInsights     = time.Hour
	TTLCapacityAnalysis = time.Hour
	TTLAvailableWeeks   = time.Hour
	TTLPreferences      = 24 * time.Hour
)

// Prefetch rate limiting
const PrefetchMinInterval = 5 * time.Minute

// Background sync defaults
const (
	DefaultDaysToFetch     = 14
	DefaultSyncSchedule    = "*/15 * * * *"
	DefaultPrefsDebounce   = 1 * time.Second
	DefaultHealthDebounce  = 2 * time.Second
	DefaultRequestTimeout  = 30 * time.Second
	DefaultMaxHTTPAttempts = 3
)

// DataRoot returns the default directory for client state.
func DataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".tempo")
}

// CacheRoot returns the default cache directory path.
func CacheRoot() string {
	return filepath.Join(DataRoot(), "cache")
}

// Version is the current CLI version.
const Version = "0.3.0"
