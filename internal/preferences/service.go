// Package preferences keeps notification preferences in local settings and
// mirrors them to the backend.
package preferences

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/debounce"
	"github.com/colthorp/tempo-cli-go/internal/settings"
)

// Backend reads and writes the server copy of the preferences.
type Backend interface {
	NotificationPreferences(ctx context.Context) (*api.NotificationPreferences, error)
	UpdateNotificationPreferences(ctx context.Context, prefs api.NotificationPreferences) error
}

// Service applies changes locally right away and pushes the latest snapshot
// after a quiet period.
type Service struct {
	backend   Backend
	settings  *settings.Store
	store     *cache.Store
	debouncer *debounce.Debouncer
	timezone  string
	timeout   time.Duration
	verbose   bool

	mu      sync.Mutex
	lastErr error
	pushes  int
}

// NewService creates a preferences service.
func NewService(backend Backend, st *settings.Store, store *cache.Store, timezone string, delay time.Duration, verbose bool) *Service {
	if delay <= 0 {
		delay = core.DefaultPrefsDebounce
	}
	return &Service{
		backend:   backend,
		settings:  st,
		store:     store,
		debouncer: debounce.New(delay),
		timezone:  timezone,
		timeout:   core.DefaultRequestTimeout,
		verbose:   verbose,
	}
}

func (s *Service) log(msg string) {
	core.Eprint(fmt.Sprintf("[Prefs] %s", msg), s.verbose)
}

// Current returns the preferences derived from local settings. Individual
// toggles are off while the master notification switch is off.
func (s *Service) Current() api.NotificationPreferences {
	return fromSettings(s.settings.Get(), s.timezone)
}

func fromSettings(st settings.Settings, tz string) api.NotificationPreferences {
	on := st.NotificationsEnabled
	return api.NotificationPreferences{
		DailyBriefingEnabled:   on && st.DailyBriefingEnabled,
		DailyBriefingTime:      st.DailyBriefingTime,
		WeeklyReviewEnabled:    on && st.WeeklyReviewEnabled,
		HealthRemindersEnabled: on && st.HealthRemindersEnabled,
		Timezone:               tz,
	}
}

// Update applies fn to the local settings, persists them and schedules a
// push. Only the state after the last Update in a burst is sent.
func (s *Service) Update(ctx context.Context, fn func(*settings.Settings)) error {
	if err := s.settings.Update(fn); err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	s.debouncer.Trigger(func() {
		ctx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()
		if err := s.Push(ctx); err != nil {
			s.log(fmt.Sprintf("Push failed: %v", err))
		}
	})
	return nil
}

// Push sends the current local preferences to the backend.
func (s *Service) Push(ctx context.Context) error {
	prefs := s.Current()
	err := s.backend.UpdateNotificationPreferences(ctx, prefs)

	s.mu.Lock()
	s.lastErr = err
	if err == nil {
		s.pushes++
	}
	s.mu.Unlock()

	if err != nil {
		return fmt.Errorf("push preferences: %w", err)
	}
	if err := s.store.Set(cache.KeyNotificationPreferences, prefs, core.TTLPreferences); err != nil {
		s.log(fmt.Sprintf("Failed to cache preferences: %v", err))
	}
	s.log("Pushed notification preferences")
	return nil
}

// Pull fetches the server copy and stores it locally. Pending local changes
// win: Pull is a no-op while a push is scheduled.
func (s *Service) Pull(ctx context.Context) (api.NotificationPreferences, error) {
	if s.debouncer.Pending() {
		s.log("Local changes pending, skipping pull")
		return s.Current(), nil
	}

	remote, err := s.backend.NotificationPreferences(ctx)
	if err != nil {
		return s.Current(), fmt.Errorf("fetch preferences: %w", err)
	}

	if err := s.settings.Update(func(st *settings.Settings) {
		st.DailyBriefingEnabled = remote.DailyBriefingEnabled
		st.WeeklyReviewEnabled = remote.WeeklyReviewEnabled
		st.HealthRemindersEnabled = remote.HealthRemindersEnabled
		if remote.DailyBriefingTime != "" {
			st.DailyBriefingTime = remote.DailyBriefingTime
		}
	}); err != nil {
		return s.Current(), fmt.Errorf("save preferences: %w", err)
	}
	if err := s.store.Set(cache.KeyNotificationPreferences, remote, core.TTLPreferences); err != nil {
		s.log(fmt.Sprintf("Failed to cache preferences: %v", err))
	}
	return s.Current(), nil
}

// Flush pushes pending changes now.
func (s *Service) Flush() bool {
	return s.debouncer.Flush()
}

// Stop drops the pending push. Local settings are kept.
func (s *Service) Stop() bool {
	return s.debouncer.Stop()
}

// Pending reports whether a push is scheduled.
func (s *Service) Pending() bool {
	return s.debouncer.Pending()
}

// LastError returns the result of the most recent push.
func (s *Service) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}
