package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/cache"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	calls [][]api.HealthMetrics
	err   error
}

func (f *fakeSubmitter) SubmitHealthMetrics(_ context.Context, m []api.HealthMetrics) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, m)
	return f.err
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestSyncer(t *testing.T, delay time.Duration) (*Syncer, *fakeSubmitter, *cache.Store, *cache.SummaryCache) {
	t.Helper()
	sub := &fakeSubmitter{}
	store := cache.NewStore(cache.NewMemoryBackend(), false)
	summaries := cache.NewSummaryCache(false)
	return NewSyncer(sub, store, summaries, delay, false), sub, store, summaries
}

func TestSubmitIsDebounced(t *testing.T) {
	s, sub, _, _ := newTestSyncer(t, 30*time.Millisecond)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		s.Submit(ctx, []api.HealthMetrics{{Date: "2024-05-01", Steps: i * 1000}})
	}

	deadline := time.Now().Add(2 * time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(50 * time.Millisecond)

	if sub.count() != 1 {
		t.Fatalf("expected one upload, got %d", sub.count())
	}
	if got := sub.calls[0][0].Steps; got != 3000 {
		t.Errorf("expected last submission to win, got %d steps", got)
	}
}

func TestFlushUploadsImmediately(t *testing.T) {
	s, sub, _, _ := newTestSyncer(t, time.Hour)

	s.Submit(context.Background(), []api.HealthMetrics{{Date: "2024-05-01"}})
	if !s.Pending() {
		t.Fatal("expected a pending upload")
	}
	s.Flush()
	if sub.count() != 1 {
		t.Errorf("expected upload on flush, got %d", sub.count())
	}
}

func TestSubmitNowInvalidatesDerivedCaches(t *testing.T) {
	s, _, store, summaries := newTestSyncer(t, time.Hour)
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	summaries.Put(cache.DateKey(day), api.DailySummary{})
	store.Set(cache.KeyHealthSummary(day), api.HealthSummary{}, time.Hour)
	store.Set(cache.KeyHealthInsights(day, day.AddDate(0, 0, 6)), api.HealthInsights{}, time.Hour)
	store.Set(cache.KeyWeeklyInsights(day), api.WeeklyInsights{}, time.Hour)

	ran, err := s.SubmitNow(context.Background(), []api.HealthMetrics{{Date: "2024-05-01"}})
	if !ran || err != nil {
		t.Fatalf("expected upload, ran=%v err=%v", ran, err)
	}
	if summaries.Len() != 0 {
		t.Error("expected summaries invalidated")
	}
	if store.IsValid(cache.KeyHealthSummary(day)) || store.IsValid(cache.KeyHealthInsights(day, day.AddDate(0, 0, 6))) {
		t.Error("expected health caches invalidated")
	}
	if !store.IsValid(cache.KeyWeeklyInsights(day)) {
		t.Error("expected unrelated caches kept")
	}
	if s.LastSubmitted().IsZero() {
		t.Error("expected last submitted recorded")
	}
}

func TestSubmitNowFailureKeepsCaches(t *testing.T) {
	s, sub, store, _ := newTestSyncer(t, time.Hour)
	sub.err = errors.New("offline")
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	store.Set(cache.KeyHealthSummary(day), api.HealthSummary{}, time.Hour)

	if _, err := s.SubmitNow(context.Background(), []api.HealthMetrics{{Date: "2024-05-01"}}); err == nil {
		t.Fatal("expected error")
	}
	if s.LastError() == nil {
		t.Error("expected LastError set")
	}
	if !store.IsValid(cache.KeyHealthSummary(day)) {
		t.Error("expected caches kept after failed upload")
	}
}

func TestLoadMetrics(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"list", `[{"date":"2024-05-01","steps":100},{"date":"2024-05-02"}]`, 2, false},
		{"wrapped", `{"metrics":[{"date":"2024-05-01","sleep_hours":7.5}]}`, 1, false},
		{"empty", `[]`, 0, true},
		{"bad date", `[{"date":"May 1"}]`, 0, true},
		{"garbage", `nope`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".json")
			os.WriteFile(path, []byte(tt.content), 0o644)

			got, err := LoadMetrics(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d metrics, got %d", tt.want, len(got))
			}
		})
	}
}
