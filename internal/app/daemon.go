package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/colthorp/tempo-cli-go/internal/core"
)

// NewScheduler returns a cron scheduler in the app's time zone that skips a
// tick while the previous one is still running.
func (a *App) NewScheduler() *cron.Cron {
	return cron.New(
		cron.WithLocation(a.Location),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
}

// Schedule registers the background jobs on c: a sync tick on the
// configured schedule and, when enabled, a forced prefetch at the daily
// briefing time.
func (a *App) Schedule(ctx context.Context, c *cron.Cron) error {
	if _, err := c.AddFunc(a.Config.SyncSchedule, func() {
		if err := a.Background(ctx); err != nil {
			a.log(fmt.Sprintf("Background sync failed: %v", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule sync %q: %w", a.Config.SyncSchedule, err)
	}

	prefs := a.Preferences.Current()
	if !prefs.DailyBriefingEnabled {
		return nil
	}
	hour, minute, err := core.ParseClock(prefs.DailyBriefingTime)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := c.AddFunc(spec, func() {
		if a.Auth.IsSignedIn() {
			a.Prefetch.ForcePrefetch(ctx)
		}
	}); err != nil {
		return fmt.Errorf("schedule briefing %q: %w", spec, err)
	}
	return nil
}

// RunDaemon runs one sync immediately, then the scheduled jobs until ctx is
// cancelled.
func (a *App) RunDaemon(ctx context.Context) error {
	c := a.NewScheduler()
	if err := a.Schedule(ctx, c); err != nil {
		return err
	}

	if err := a.Background(ctx); err != nil {
		a.log(fmt.Sprintf("Initial sync failed: %v", err))
	}

	c.Start()
	core.Eprint(fmt.Sprintf("Daemon started (%d jobs, sync %q)", len(c.Entries()), a.Config.SyncSchedule), a.Config.Verbose)
	<-ctx.Done()

	stopped := c.Stop()
	select {
	case <-stopped.Done():
	case <-time.After(a.Config.RequestTimeout):
		a.log("Timed out waiting for running jobs")
	}
	return nil
}
