// Package prefetch warms the insight caches after sign-in or when the app
// comes to the foreground.
package prefetch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/core"
)

// ErrDiscarded marks a task whose result arrived after Invalidate.
var ErrDiscarded = errors.New("prefetch: result discarded after sign-out")

// Backend is the subset of the API the orchestrator fetches from.
type Backend interface {
	DailyBriefing(ctx context.Context, date time.Time) (*api.DailyBriefing, error)
	HealthSummary(ctx context.Context, date time.Time) (*api.HealthSummary, error)
	HealthInsights(ctx context.Context, start, end time.Time) (*api.HealthInsights, error)
	WeeklyInsights(ctx context.Context, weekStart time.Time) (*api.WeeklyInsights, error)
	LifeInsights(ctx context.Context) (*api.LifeInsights, error)
	CapacityAnalysis(ctx context.Context, start, end time.Time) (*api.CapacityAnalysis, error)
	AvailableWeeks(ctx context.Context) ([]api.AvailableWeek, error)
}

// State is the orchestrator's run state.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Task names.
const (
	TaskDailyBriefing    = "daily_briefing"
	TaskHealthSummary    = "health_summary"
	TaskHealthInsights   = "health_insights"
	TaskWeeklyInsights   = "weekly_insights"
	TaskLifeInsights     = "life_insights"
	TaskCapacityAnalysis = "capacity_analysis"
	TaskAvailableWeeks   = "available_weeks"
)

type task struct {
	name  string
	key   string
	ttl   time.Duration
	fetch func(ctx context.Context) (any, error)
}

// Result summarizes one fan-out.
type Result struct {
	RunID   string
	Fetched []string
	Skipped []string
	Failed  map[string]error
}

// Orchestrator runs the prefetch fan-out at most once at a time and no more
// often than minInterval, unless forced.
type Orchestrator struct {
	backend     Backend
	store       *cache.Store
	loc         *time.Location
	minInterval time.Duration
	verbose     bool
	now         func() time.Time

	mu         sync.Mutex
	running    bool
	lastRunAt  time.Time
	lastResult *Result

	// writeMu orders cache writes against Invalidate.
	writeMu    sync.RWMutex
	generation uint64
}

// NewOrchestrator creates an orchestrator writing to store.
func NewOrchestrator(backend Backend, store *cache.Store, loc *time.Location, minInterval time.Duration, verbose bool) *Orchestrator {
	if loc == nil {
		loc = time.Local
	}
	if minInterval <= 0 {
		minInterval = core.PrefetchMinInterval
	}
	return &Orchestrator{
		backend:     backend,
		store:       store,
		loc:         loc,
		minInterval: minInterval,
		verbose:     verbose,
		now:         time.Now,
	}
}

func (o *Orchestrator) log(msg string) {
	core.Eprint(fmt.Sprintf("[Prefetch] %s", msg), o.verbose)
}

// PrefetchAllInsights fetches every stale insight cache concurrently. It
// returns false without doing anything when a run is in progress or the last
// run finished less than minInterval ago.
func (o *Orchestrator) PrefetchAllInsights(ctx context.Context) bool {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		o.log("Already running, skipping")
		return false
	}
	now := o.now()
	if !o.lastRunAt.IsZero() && now.Sub(o.lastRunAt) < o.minInterval {
		o.mu.Unlock()
		o.log(fmt.Sprintf("Last run %s ago, skipping", now.Sub(o.lastRunAt).Round(time.Second)))
		return false
	}
	o.running = true
	o.mu.Unlock()

	result := o.run(ctx, now)

	o.mu.Lock()
	o.running = false
	o.lastRunAt = o.now()
	o.lastResult = result
	o.mu.Unlock()
	return true
}

// ForcePrefetch clears the rate limit and runs PrefetchAllInsights. A run
// already in progress still wins.
func (o *Orchestrator) ForcePrefetch(ctx context.Context) bool {
	o.mu.Lock()
	o.lastRunAt = time.Time{}
	o.mu.Unlock()
	return o.PrefetchAllInsights(ctx)
}

// Invalidate makes any fan-out in flight drop its remaining results. Once it
// returns, no write from an earlier run reaches the cache.
func (o *Orchestrator) Invalidate() {
	o.writeMu.Lock()
	o.generation++
	o.writeMu.Unlock()
	o.log("Invalidated in-flight results")
}

// State reports whether a fan-out is in progress.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running {
		return Running
	}
	return Idle
}

// LastRunAt returns when the last fan-out completed.
func (o *Orchestrator) LastRunAt() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastRunAt
}

// LastResult returns the summary of the last completed fan-out, or nil.
func (o *Orchestrator) LastResult() *Result {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastResult
}

// LastErrors returns the per-task failures of the last fan-out.
func (o *Orchestrator) LastErrors() map[string]error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastResult == nil {
		return nil
	}
	out := make(map[string]error, len(o.lastResult.Failed))
	for k, v := range o.lastResult.Failed {
		out[k] = v
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, now time.Time) *Result {
	result := &Result{RunID: ulid.Make().String(), Failed: map[string]error{}}
	tasks := o.tasks(now)
	o.writeMu.RLock()
	gen := o.generation
	o.writeMu.RUnlock()
	o.log(fmt.Sprintf("Run %s: %d tasks", result.RunID, len(tasks)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tasks {
		g.Go(func() error {
			fetched, err := o.runTask(gctx, t, gen)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed[t.name] = err
			case fetched:
				result.Fetched = append(result.Fetched, t.name)
			default:
				result.Skipped = append(result.Skipped, t.name)
			}
			return nil
		})
	}
	g.Wait()

	sort.Strings(result.Fetched)
	sort.Strings(result.Skipped)
	o.log(fmt.Sprintf("Run %s done: %d fetched, %d fresh, %d failed",
		result.RunID, len(result.Fetched), len(result.Skipped), len(result.Failed)))
	return result
}

func (o *Orchestrator) runTask(ctx context.Context, t task, gen uint64) (bool, error) {
	if o.store.IsValid(t.key) {
		return false, nil
	}

	v, err := t.fetch(ctx)
	if err != nil {
		o.log(fmt.Sprintf("%s failed: %v", t.name, err))
		return false, err
	}

	o.writeMu.RLock()
	defer o.writeMu.RUnlock()
	if o.generation != gen {
		o.log(fmt.Sprintf("%s dropped: session ended during the run", t.name))
		return false, ErrDiscarded
	}
	if err := o.store.Set(t.key, v, t.ttl); err != nil {
		o.log(fmt.Sprintf("%s cache write failed: %v", t.name, err))
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) tasks(now time.Time) []task {
	today := core.DateOnly(now.In(o.loc))
	weekAgo := today.AddDate(0, 0, -6)
	weekAhead := today.AddDate(0, 0, 6)
	monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))

	return []task{
		{TaskDailyBriefing, cache.KeyDailyBriefing(today), core.TTLDailyBriefing, func(ctx context.Context) (any, error) {
			return o.backend.DailyBriefing(ctx, today)
		}},
		{TaskHealthSummary, cache.KeyHealthSummary(today), core.TTLHealthSummary, func(ctx context.Context) (any, error) {
			return o.backend.HealthSummary(ctx, today)
		}},
		{TaskHealthInsights, cache.KeyHealthInsights(weekAgo, today), core.TTLHealthInsights, func(ctx context.Context) (any, error) {
			return o.backend.HealthInsights(ctx, weekAgo, today)
		}},
		{TaskWeeklyInsights, cache.KeyWeeklyInsights(monday), core.TTLWeeklyInsights, func(ctx context.Context) (any, error) {
			return o.backend.WeeklyInsights(ctx, monday)
		}},
		{TaskLifeInsights, cache.KeyLifeInsights(today), core.TTLLifeInsights, func(ctx context.Context) (any, error) {
			return o.backend.LifeInsights(ctx)
		}},
		{TaskCapacityAnalysis, cache.KeyCapacityAnalysis(today, weekAhead), core.TTLCapacityAnalysis, func(ctx context.Context) (any, error) {
			return o.backend.CapacityAnalysis(ctx, today, weekAhead)
		}},
		{TaskAvailableWeeks, cache.KeyAvailableWeeks(today), core.TTLAvailableWeeks, func(ctx context.Context) (any, error) {
			return o.backend.AvailableWeeks(ctx)
		}},
	}
}

// Keys returns the cache keys the fan-out would populate at now.
func (o *Orchestrator) Keys(now time.Time) map[string]string {
	out := map[string]string{}
	for _, t := range o.tasks(now) {
		out[t.name] = t.key
	}
	return out
}
