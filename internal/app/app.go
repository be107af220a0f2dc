// Package app wires the client services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/auth"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/calendar"
	"github.com/colthorp/tempo-cli-go/internal/config"
	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/health"
	"github.com/colthorp/tempo-cli-go/internal/keychain"
	"github.com/colthorp/tempo-cli-go/internal/preferences"
	"github.com/colthorp/tempo-cli-go/internal/prefetch"
	"github.com/colthorp/tempo-cli-go/internal/settings"
	"github.com/colthorp/tempo-cli-go/internal/token"
)

// Deps replaces the platform-facing pieces. Nil fields get the real
// implementation derived from the config.
type Deps struct {
	Keychain     keychain.SecureStore
	Transport    api.Transport
	CacheBackend cache.Backend
}

// App holds every service of one client instance.
type App struct {
	Config      *config.Config
	Location    *time.Location
	Settings    *settings.Store
	Tokens      *token.Store
	API         *api.TempoAPI
	Auth        *auth.Controller
	Cache       *cache.Store
	Events      *cache.EventCache
	Summaries   *cache.SummaryCache
	Prefetch    *prefetch.Orchestrator
	Calendar    *calendar.Syncer
	Health      *health.Syncer
	Preferences *preferences.Service

	closer io.Closer
	bg     sync.WaitGroup
}

// New builds an App backed by the SQLite keychain, the HTTP client and the
// filesystem cache.
func New(cfg *config.Config) (*App, error) {
	return NewWith(cfg, Deps{})
}

// NewWith builds an App, substituting any non-nil deps.
func NewWith(cfg *config.Config, deps Deps) (*App, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	cfg.Normalize()
	verbose := cfg.Verbose

	a := &App{Config: cfg, Location: cfg.Location()}

	kc := deps.Keychain
	if kc == nil {
		db, err := keychain.NewSQLiteStore(cfg.KeychainPath())
		if err != nil {
			return nil, err
		}
		kc = db
		a.closer = db
	}

	st, err := settings.Open(cfg.SettingsPath())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Settings = st

	transport := deps.Transport
	if transport == nil {
		transport = api.NewClient(cfg.APIURL(), cfg.RequestTimeout, verbose)
	}
	backend := deps.CacheBackend
	if backend == nil {
		backend = cache.NewFilesystemBackend(cfg.CacheDir())
	}

	a.Tokens = token.NewStore(kc, cfg.KeychainService, st, verbose)
	a.API = api.NewTempoAPI(transport, verbose)
	a.Auth = auth.NewController(a.Tokens, a.API, st, verbose)
	a.API.SetTokenSource(a.Auth)

	a.Cache = cache.NewStore(backend, verbose)
	a.Events = cache.NewEventCache(a.Cache, verbose)
	a.Summaries = cache.NewSummaryCache(verbose)

	a.Prefetch = prefetch.NewOrchestrator(a.API, a.Cache, a.Location, cfg.PrefetchMinInterval, verbose)
	a.Calendar = calendar.NewSyncer(a.API, a.Events, a.Cache, a.Summaries, a.Location, verbose)
	a.Health = health.NewSyncer(a.API, a.Cache, a.Summaries, cfg.HealthDebounce, verbose)
	a.Preferences = preferences.NewService(a.API, st, a.Cache, a.Location.String(), cfg.PrefsDebounce, verbose)

	a.Auth.OnSignIn(a.afterSignIn)
	a.Auth.OnSignOut(a.afterSignOut)
	return a, nil
}

func (a *App) log(msg string) {
	core.Eprint(fmt.Sprintf("[App] %s", msg), a.Config.Verbose)
}

// afterSignIn warms caches in the background so sign-in returns promptly.
func (a *App) afterSignIn(ctx context.Context) {
	detached := context.WithoutCancel(ctx)
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		// Calendar first: a sync invalidates today's briefing.
		if _, err := a.Calendar.Sync(detached, a.Config.DaysToFetch); err != nil {
			a.log(fmt.Sprintf("Initial calendar sync failed: %v", err))
		}
		a.Prefetch.ForcePrefetch(detached)
	}()
}

func (a *App) afterSignOut(context.Context) {
	a.Prefetch.Invalidate()
	a.Summaries.InvalidateAll()
	if err := a.Events.Clear(); err != nil {
		a.log(fmt.Sprintf("Failed to clear event cache: %v", err))
	}
	if err := a.Cache.Clear(); err != nil {
		a.log(fmt.Sprintf("Failed to clear cache: %v", err))
	}
}

// Foreground restores the session and, when signed in, runs the prefetch
// fan-out. It reports whether the fan-out ran.
func (a *App) Foreground(ctx context.Context) bool {
	if a.Auth.Restore(ctx) != auth.SignedIn {
		return false
	}
	return a.Prefetch.PrefetchAllInsights(ctx)
}

// Background runs one sync tick: calendar sync plus a rate-limited prefetch.
func (a *App) Background(ctx context.Context) error {
	if !a.Auth.IsSignedIn() && a.Auth.Restore(ctx) != auth.SignedIn {
		return auth.ErrNotAuthenticated
	}
	_, err := a.Calendar.Sync(ctx, a.Config.DaysToFetch)
	a.Prefetch.PrefetchAllInsights(ctx)
	return err
}

// Wait blocks until background work started by sign-in has finished.
func (a *App) Wait() {
	a.bg.Wait()
	a.Events.Wait()
}

// Close flushes debounced work, waits for background writes and releases
// the keychain.
func (a *App) Close() error {
	if a.Preferences != nil {
		a.Preferences.Flush()
	}
	if a.Health != nil {
		a.Health.Flush()
	}
	a.bg.Wait()
	if a.Events != nil {
		a.Events.Wait()
	}

	var errs []error
	if a.closer != nil {
		errs = append(errs, a.closer.Close())
		a.closer = nil
	}
	return errors.Join(errs...)
}
