package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/debounce"
)

// EventSource fetches events from the backend.
type EventSource interface {
	Events(ctx context.Context, start, end time.Time) ([]api.Event, error)
}

// Syncer refreshes the event cache from the backend. Overlapping syncs are
// dropped, not queued.
type Syncer struct {
	source    EventSource
	events    *cache.EventCache
	store     *cache.Store
	summaries *cache.SummaryCache
	loc       *time.Location
	verbose   bool
	now       func() time.Time

	guard debounce.Guard

	mu       sync.Mutex
	lastErr  error
	lastSync time.Time
}

// NewSyncer creates a calendar syncer.
func NewSyncer(source EventSource, events *cache.EventCache, store *cache.Store, summaries *cache.SummaryCache, loc *time.Location, verbose bool) *Syncer {
	if loc == nil {
		loc = time.Local
	}
	return &Syncer{
		source:    source,
		events:    events,
		store:     store,
		summaries: summaries,
		loc:       loc,
		verbose:   verbose,
		now:       time.Now,
	}
}

func (s *Syncer) log(msg string) {
	core.Eprint(fmt.Sprintf("[Calendar] %s", msg), s.verbose)
}

// Window returns [start of today, start of today + days) in the syncer's location.
func (s *Syncer) Window(days int) (time.Time, time.Time) {
	now := s.now().In(s.loc)
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	return start, start.AddDate(0, 0, days)
}

// Sync fetches events for the next days days, expands recurrences, saves them
// to the event cache and invalidates data derived from the calendar. ran is
// false when another sync was already in flight.
func (s *Syncer) Sync(ctx context.Context, days int) (ran bool, err error) {
	if days <= 0 {
		days = core.DefaultDaysToFetch
	}
	return s.guard.TryRun(func() error {
		start, end := s.Window(days)
		s.log(fmt.Sprintf("Syncing events %s to %s", core.FormatDate(start), core.FormatDate(end)))

		fetched, err := s.source.Events(ctx, start, end)
		if err != nil {
			err = fmt.Errorf("fetch events: %w", err)
			s.setResult(err)
			return err
		}

		expanded := Expand(fetched, start, end, s.verbose)
		s.events.SaveEvents(expanded, days)

		// Summaries and today's briefing were generated from the old calendar.
		s.summaries.InvalidateAll()
		if err := s.store.Invalidate(cache.KeyDailyBriefing(start)); err != nil {
			s.log(fmt.Sprintf("Failed to invalidate briefing: %v", err))
		}

		s.setResult(nil)
		s.log(fmt.Sprintf("Synced %d events (%d after expansion)", len(fetched), len(expanded)))
		return nil
	})
}

func (s *Syncer) setResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err == nil {
		s.lastSync = s.now()
	}
}

// Events returns cached events when fresh, otherwise syncs first. With
// refresh set the cache is bypassed. If the sync fails, stale cached events
// are returned along with the error.
func (s *Syncer) Events(ctx context.Context, days int, refresh bool) ([]api.Event, error) {
	if !refresh && s.events.IsCacheValid() {
		if events, ok := s.events.LoadEvents(); ok {
			s.log("Serving events from cache")
			return events, nil
		}
	}

	_, err := s.Sync(ctx, days)
	s.events.Wait()
	events, _ := s.events.LoadEvents()
	return events, err
}

// LastError returns the error of the most recent sync, or nil.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastSync returns when the last successful sync finished.
func (s *Syncer) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// Syncing reports whether a sync is in flight.
func (s *Syncer) Syncing() bool {
	return s.guard.Running()
}
