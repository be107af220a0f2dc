// Package health uploads collected health metrics to the backend.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/debounce"
)

// Submitter uploads metrics.
type Submitter interface {
	SubmitHealthMetrics(ctx context.Context, metrics []api.HealthMetrics) error
}

// Syncer debounces metric uploads. Each Submit replaces the pending upload;
// an upload arriving while another is in flight is dropped.
type Syncer struct {
	backend   Submitter
	store     *cache.Store
	summaries *cache.SummaryCache
	debouncer *debounce.Debouncer
	timeout   time.Duration
	verbose   bool

	guard debounce.Guard

	mu            sync.Mutex
	lastErr       error
	lastSubmitted time.Time
}

// NewSyncer creates a health syncer that waits delay after the last Submit.
func NewSyncer(backend Submitter, store *cache.Store, summaries *cache.SummaryCache, delay time.Duration, verbose bool) *Syncer {
	if delay <= 0 {
		delay = core.DefaultHealthDebounce
	}
	return &Syncer{
		backend:   backend,
		store:     store,
		summaries: summaries,
		debouncer: debounce.New(delay),
		timeout:   core.DefaultRequestTimeout,
		verbose:   verbose,
	}
}

func (s *Syncer) log(msg string) {
	core.Eprint(fmt.Sprintf("[Health] %s", msg), s.verbose)
}

// Submit schedules an upload of metrics, replacing any pending one.
func (s *Syncer) Submit(ctx context.Context, metrics []api.HealthMetrics) {
	snapshot := append([]api.HealthMetrics(nil), metrics...)
	detached := context.WithoutCancel(ctx)
	s.debouncer.Trigger(func() {
		ctx, cancel := context.WithTimeout(detached, s.timeout)
		defer cancel()
		if _, err := s.SubmitNow(ctx, snapshot); err != nil {
			s.log(fmt.Sprintf("Upload failed: %v", err))
		}
	})
}

// SubmitNow uploads metrics immediately. ran is false when another upload
// was in flight. On success, summaries and health caches are invalidated.
func (s *Syncer) SubmitNow(ctx context.Context, metrics []api.HealthMetrics) (ran bool, err error) {
	return s.guard.TryRun(func() error {
		if err := s.backend.SubmitHealthMetrics(ctx, metrics); err != nil {
			err = fmt.Errorf("submit health metrics: %w", err)
			s.setResult(err)
			return err
		}

		s.summaries.InvalidateAll()
		s.store.InvalidatePrefix(cache.PrefixHealth)
		s.setResult(nil)
		s.log(fmt.Sprintf("Uploaded %d days of metrics", len(metrics)))
		return nil
	})
}

// Flush runs the pending upload now, if any.
func (s *Syncer) Flush() bool {
	return s.debouncer.Flush()
}

// Pending reports whether an upload is waiting for the debounce delay.
func (s *Syncer) Pending() bool {
	return s.debouncer.Pending()
}

func (s *Syncer) setResult(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
	if err == nil {
		s.lastSubmitted = time.Now()
	}
}

// LastError returns the error of the most recent upload, or nil.
func (s *Syncer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// LastSubmitted returns when the last successful upload finished.
func (s *Syncer) LastSubmitted() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSubmitted
}

// LoadMetrics reads a JSON file holding either a list of daily metrics or a
// {"metrics": [...]} object.
func LoadMetrics(path string) ([]api.HealthMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list []api.HealthMetrics
	if err := json.Unmarshal(data, &list); err == nil {
		return validate(list)
	}
	var wrapped api.HealthSubmission
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return validate(wrapped.Metrics)
}

func validate(metrics []api.HealthMetrics) ([]api.HealthMetrics, error) {
	if len(metrics) == 0 {
		return nil, fmt.Errorf("no metrics found")
	}
	for i, m := range metrics {
		if _, err := core.ParseDate(m.Date); err != nil {
			return nil, fmt.Errorf("metrics[%d]: %w", i, err)
		}
	}
	return metrics, nil
}
