package app

import (
	"context"
	"testing"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/auth"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/config"
	"github.com/colthorp/tempo-cli-go/internal/keychain"
	"github.com/colthorp/tempo-cli-go/internal/settings"
)

type harness struct {
	app       *App
	transport *api.InMemoryTransport
	keychain  *keychain.MemoryStore
	backend   *cache.MemoryBackend
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Timezone = "UTC"

	h := &harness{
		transport: api.NewInMemoryTransport(),
		keychain:  keychain.NewMemoryStore(),
		backend:   cache.NewMemoryBackend(),
	}
	a, err := NewWith(cfg, Deps{Keychain: h.keychain, Transport: h.transport, CacheBackend: h.backend})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	h.app = a

	now := time.Now().UTC()
	h.transport.Respond(api.EndpointSignIn, api.TokenResponse{AccessToken: "access", RefreshToken: "refresh", ExpiresIn: 3600})
	h.transport.Respond(api.EndpointEvents, api.EventsResponse{Events: []api.Event{
		{ID: "e1", Title: "Standup", Start: now.Add(time.Hour), End: now.Add(90 * time.Minute)},
	}})
	h.transport.Respond(api.EndpointDailyBriefing, api.DailyBriefing{Summary: "Light day"})
	h.transport.Respond(api.EndpointHealthSummary, api.HealthSummary{})
	h.transport.Respond(api.EndpointHealthInsights, api.HealthInsights{})
	h.transport.Respond(api.EndpointWeeklyInsights, api.WeeklyInsights{})
	h.transport.Respond(api.EndpointLifeInsights, api.LifeInsights{})
	h.transport.Respond(api.EndpointCapacityAnalysis, api.CapacityAnalysis{})
	h.transport.Respond(api.EndpointAvailableWeeks, api.AvailableWeeksResponse{})
	return h
}

func TestSignInWarmsCaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.app.Auth.SignIn(ctx, "apple", "id-token"); err != nil {
		t.Fatalf("sign in: %v", err)
	}
	h.app.Wait()

	if !h.app.Events.HasCache() {
		t.Error("expected events cached after sign-in")
	}
	for name, key := range h.app.Prefetch.Keys(time.Now()) {
		if !h.app.Cache.IsValid(key) {
			t.Errorf("expected %s cached", name)
		}
	}
	if h.app.Settings.Get().DeviceID == "" {
		t.Error("expected device id recorded")
	}
}

func TestSignOutClearsCaches(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.app.Auth.SignIn(ctx, "apple", "id-token")
	h.app.Wait()
	h.app.Summaries.Put(cache.DateKey(time.Now()), api.DailySummary{Summary: "x"})

	if err := h.app.Auth.SignOut(ctx); err != nil {
		t.Fatalf("sign out: %v", err)
	}
	if h.backend.Len() != 0 {
		t.Errorf("expected disk cache cleared, %d entries left", h.backend.Len())
	}
	if h.app.Summaries.Len() != 0 {
		t.Error("expected summaries cleared")
	}
	if h.keychain.Len() != 0 {
		t.Error("expected tokens cleared")
	}
}

func TestForegroundRequiresSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if h.app.Foreground(ctx) {
		t.Fatal("expected no prefetch while signed out")
	}
	if h.transport.RequestsMade() != 0 {
		t.Errorf("expected no requests, got %d", h.transport.RequestsMade())
	}
	if err := h.app.Background(ctx); err != auth.ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestForegroundIsRateLimitedAfterSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.app.Auth.SignIn(ctx, "apple", "id-token")
	h.app.Wait()

	if h.app.Foreground(ctx) {
		t.Error("expected foreground prefetch within the interval to be skipped")
	}
}

func TestCloseFlushesPendingPreferences(t *testing.T) {
	h := newHarness(t)
	h.transport.Respond(api.EndpointNotificationPrefs, struct{}{})

	h.app.Auth.SignIn(context.Background(), "apple", "id-token")
	h.app.Wait()
	h.app.Preferences.Update(context.Background(), func(s *settings.Settings) { s.WeeklyReviewEnabled = false })

	h.app.Close()
	if h.transport.RequestsTo(api.EndpointNotificationPrefs) != 1 {
		t.Errorf("expected preferences pushed on close, got %d", h.transport.RequestsTo(api.EndpointNotificationPrefs))
	}
}
