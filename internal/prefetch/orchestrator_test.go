package prefetch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/cache"
)

type fakeBackend struct {
	mu      sync.Mutex
	calls   map[string]int
	fail    map[string]bool
	block   chan struct{}
	entered chan struct{}
	once    sync.Once
	onHit   func(name string)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeBackend) hit(name string) error {
	f.mu.Lock()
	f.calls[name]++
	failing := f.fail[name]
	onHit := f.onHit
	f.mu.Unlock()

	if onHit != nil {
		onHit(name)
	}
	if f.block != nil {
		f.once.Do(func() { close(f.entered) })
		<-f.block
	}
	if failing {
		return errors.New("network unreachable")
	}
	return nil
}

func (f *fakeBackend) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeBackend) DailyBriefing(context.Context, time.Time) (*api.DailyBriefing, error) {
	if err := f.hit(TaskDailyBriefing); err != nil {
		return nil, err
	}
	return &api.DailyBriefing{Summary: "Busy morning"}, nil
}

func (f *fakeBackend) HealthSummary(context.Context, time.Time) (*api.HealthSummary, error) {
	if err := f.hit(TaskHealthSummary); err != nil {
		return nil, err
	}
	return &api.HealthSummary{}, nil
}

func (f *fakeBackend) HealthInsights(context.Context, time.Time, time.Time) (*api.HealthInsights, error) {
	if err := f.hit(TaskHealthInsights); err != nil {
		return nil, err
	}
	return &api.HealthInsights{}, nil
}

func (f *fakeBackend) WeeklyInsights(context.Context, time.Time) (*api.WeeklyInsights, error) {
	if err := f.hit(TaskWeeklyInsights); err != nil {
		return nil, err
	}
	return &api.WeeklyInsights{}, nil
}

func (f *fakeBackend) LifeInsights(context.Context) (*api.LifeInsights, error) {
	if err := f.hit(TaskLifeInsights); err != nil {
		return nil, err
	}
	return &api.LifeInsights{}, nil
}

func (f *fakeBackend) CapacityAnalysis(context.Context, time.Time, time.Time) (*api.CapacityAnalysis, error) {
	if err := f.hit(TaskCapacityAnalysis); err != nil {
		return nil, err
	}
	return &api.CapacityAnalysis{}, nil
}

func (f *fakeBackend) AvailableWeeks(context.Context) ([]api.AvailableWeek, error) {
	if err := f.hit(TaskAvailableWeeks); err != nil {
		return nil, err
	}
	return []api.AvailableWeek{}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestOrchestrator(backend Backend) (*Orchestrator, *cache.Store, *clock) {
	store := cache.NewStore(cache.NewMemoryBackend(), false)
	o := NewOrchestrator(backend, store, time.UTC, 5*time.Minute, false)
	c := &clock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	o.now = c.now
	return o, store, c
}

func TestRateLimit(t *testing.T) {
	backend := newFakeBackend()
	o, store, clk := newTestOrchestrator(backend)
	ctx := context.Background()

	if !o.PrefetchAllInsights(ctx) {
		t.Fatal("expected first call to run")
	}
	clk.advance(time.Second)
	if o.PrefetchAllInsights(ctx) {
		t.Fatal("expected second call within a second to be skipped")
	}
	if backend.total() != 7 {
		t.Fatalf("expected one fan-out of 7 calls, got %d", backend.total())
	}

	// Empty the caches so a second fan-out is observable.
	store.Clear()
	clk.advance(5*time.Minute + time.Second)
	if !o.PrefetchAllInsights(ctx) {
		t.Fatal("expected call after the interval to run")
	}
	if backend.total() != 14 {
		t.Errorf("expected a second fan-out, got %d calls", backend.total())
	}

	store.Clear()
	if !o.ForcePrefetch(ctx) {
		t.Fatal("expected forced prefetch to run")
	}
	if backend.total() != 21 {
		t.Errorf("expected forced fan-out, got %d calls", backend.total())
	}
}

func TestFreshCachesSkipNetwork(t *testing.T) {
	backend := newFakeBackend()
	o, _, clk := newTestOrchestrator(backend)
	ctx := context.Background()

	o.PrefetchAllInsights(ctx)
	clk.advance(10 * time.Minute)
	if !o.ForcePrefetch(ctx) {
		t.Fatal("expected run")
	}
	if backend.total() != 7 {
		t.Errorf("expected fresh caches to skip network, got %d calls", backend.total())
	}
	if res := o.LastResult(); len(res.Skipped) != 7 {
		t.Errorf("expected 7 skipped tasks, got %+v", res)
	}
}

func TestPartialFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.fail[TaskHealthSummary] = true
	backend.fail[TaskLifeInsights] = true
	o, store, clk := newTestOrchestrator(backend)

	if !o.PrefetchAllInsights(context.Background()) {
		t.Fatal("expected run")
	}
	if o.State() != Idle {
		t.Errorf("expected idle after run, got %s", o.State())
	}

	errs := o.LastErrors()
	if len(errs) != 2 || errs[TaskHealthSummary] == nil || errs[TaskLifeInsights] == nil {
		t.Errorf("unexpected errors %v", errs)
	}

	populated := 0
	for name, key := range o.Keys(clk.now()) {
		ok := store.IsValid(key)
		if ok {
			populated++
		}
		if failed := backend.fail[name]; failed == ok {
			t.Errorf("%s: cached=%v failed=%v", name, ok, failed)
		}
	}
	if populated != 5 {
		t.Errorf("expected 5 populated caches, got %d", populated)
	}
	if o.LastRunAt().IsZero() {
		t.Error("expected lastRunAt set after a partially failed run")
	}
}

func TestInvalidateDropsInFlightResults(t *testing.T) {
	backend := newFakeBackend()
	o, store, clk := newTestOrchestrator(backend)
	backend.onHit = func(name string) {
		if name == TaskLifeInsights {
			o.Invalidate()
			store.Clear()
		}
	}

	if !o.PrefetchAllInsights(context.Background()) {
		t.Fatal("expected run")
	}
	if !errors.Is(o.LastErrors()[TaskLifeInsights], ErrDiscarded) {
		t.Errorf("expected life insights discarded, got %v", o.LastErrors())
	}
	if store.IsValid(o.Keys(clk.now())[TaskLifeInsights]) {
		t.Error("expected no cache write after invalidation")
	}

	// Later runs write normally.
	backend.onHit = nil
	if !o.ForcePrefetch(context.Background()) {
		t.Fatal("expected forced run")
	}
	for name, key := range o.Keys(clk.now()) {
		if !store.IsValid(key) {
			t.Errorf("%s: expected cache populated after a clean run", name)
		}
	}
}

func TestOverlapGuard(t *testing.T) {
	backend := newFakeBackend()
	backend.block = make(chan struct{})
	backend.entered = make(chan struct{})
	o, _, _ := newTestOrchestrator(backend)
	ctx := context.Background()

	var first atomic.Bool
	done := make(chan struct{})
	go func() {
		first.Store(o.PrefetchAllInsights(ctx))
		close(done)
	}()

	<-backend.entered
	if o.State() != Running {
		t.Errorf("expected running, got %s", o.State())
	}
	if o.ForcePrefetch(ctx) {
		t.Error("expected forced call to respect the overlap guard")
	}

	close(backend.block)
	<-done
	if !first.Load() {
		t.Error("expected first call to run")
	}
	if backend.total() != 7 {
		t.Errorf("expected a single fan-out, got %d calls", backend.total())
	}
}

type staticTokens struct{}

func (staticTokens) AccessToken(context.Context) (string, error) { return "tok", nil }
func (staticTokens) Refresh(context.Context) (string, error)     { return "tok", nil }

func TestWithTempoAPI(t *testing.T) {
	transport := api.NewInMemoryTransport()
	transport.Respond(api.EndpointDailyBriefing, api.DailyBriefing{Summary: "Three meetings"})
	transport.Respond(api.EndpointHealthSummary, api.HealthSummary{})
	transport.Respond(api.EndpointHealthInsights, api.HealthInsights{})
	transport.Respond(api.EndpointWeeklyInsights, api.WeeklyInsights{})
	transport.Respond(api.EndpointLifeInsights, api.LifeInsights{})
	transport.Handle(api.EndpointCapacityAnalysis, func(r api.Request) ([]byte, error) {
		if r.Params["start"] != "2024-05-01" || r.Params["end"] != "2024-05-07" {
			t.Errorf("unexpected capacity window %v", r.Params)
		}
		return []byte(`{"days":[]}`), nil
	})
	transport.Fail(api.EndpointAvailableWeeks, &api.APIError{StatusCode: 503, Message: "unavailable"})

	client := api.NewTempoAPI(transport, false)
	client.SetTokenSource(staticTokens{})
	o, store, clk := newTestOrchestrator(client)

	o.PrefetchAllInsights(context.Background())

	var briefing api.DailyBriefing
	if !store.GetFresh(o.Keys(clk.now())[TaskDailyBriefing], &briefing) {
		t.Fatal("expected briefing cached")
	}
	if briefing.Summary != "Three meetings" {
		t.Errorf("unexpected briefing %+v", briefing)
	}
	if errs := o.LastErrors(); len(errs) != 1 || errs[TaskAvailableWeeks] == nil {
		t.Errorf("unexpected errors %v", errs)
	}
	for _, r := range transport.Requests() {
		if r.Token != "tok" {
			t.Errorf("expected bearer on %s", r.Endpoint)
		}
	}
}
