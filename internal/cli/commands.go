package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/app"
	"github.com/colthorp/tempo-cli-go/internal/cache"
	"github.com/colthorp/tempo-cli-go/internal/calendar"
	"github.com/colthorp/tempo-cli-go/internal/core"
	"github.com/colthorp/tempo-cli-go/internal/output"
	"github.com/colthorp/tempo-cli-go/internal/prefetch"
)

func init() {
	rootCmd.AddCommand(signinCmd)
	rootCmd.AddCommand(signoutCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(prefetchCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(briefingCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(trackCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(mcpCmd)

	cacheCmd.AddCommand(cacheClearCmd)

	signinCmd.Flags().String("provider", "apple", "Identity provider (apple, google)")
	signinCmd.Flags().String("id-token", "", "Identity token issued by the provider")
	signinCmd.MarkFlagRequired("id-token")

	prefetchCmd.Flags().Bool("force", false, "Ignore the minimum interval between runs")

	eventsCmd.Flags().Bool("refresh", false, "Bypass the event cache")
	eventsCmd.Flags().Int("days", 0, "Days ahead to sync (default from config)")
	eventsCmd.Flags().String("period", "", "Only show events in a period (today, this-week, ...)")
	eventsCmd.Flags().String("ics", "", "Also export the events to an ICS file")

	insightsCmd.Flags().String("week", "", "Week for weekly insights (N or YYYY-WNN)")
}

var signinCmd = &cobra.Command{
	Use:   "signin",
	Short: "Sign in with a provider identity token",
	RunE:  handleSignIn,
}

var signoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out and clear local data",
	RunE:  handleSignOut,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and cache state",
	RunE:  handleStatus,
}

var prefetchCmd = &cobra.Command{
	Use:   "prefetch",
	Short: "Warm the insight caches",
	RunE:  handlePrefetch,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List upcoming calendar events",
	RunE:  handleEvents,
}

var briefingCmd = &cobra.Command{
	Use:   "briefing [date_spec]",
	Short: "Show the daily briefing (e.g. today, d-1, 7/15)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  handleBriefing,
}

var summaryCmd = &cobra.Command{
	Use:   "summary [date_spec]",
	Short: "Show the AI summary of a day",
	Args:  cobra.MaximumNArgs(1),
	RunE:  handleSummary,
}

var insightsCmd = &cobra.Command{
	Use:       "insights [kind]",
	Short:     "Show insights: health, weekly, life, capacity or weeks",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"health", "weekly", "life", "capacity", "weeks"},
	RunE:      handleInsights,
}

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Ask the assistant a question",
	Args:  cobra.MinimumNArgs(1),
	RunE:  handleChat,
}

var trackCmd = &cobra.Command{
	Use:   "track [notification_id] [action]",
	Short: "Record an interaction with a notification",
	Args:  cobra.ExactArgs(2),
	RunE:  handleTrack,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the local cache",
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all cached data",
	RunE:  handleCacheClear,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server over the cached data",
	RunE:  handleMCP,
}

func handleSignIn(cmd *cobra.Command, args []string) error {
	provider, _ := cmd.Flags().GetString("provider")
	idToken, _ := cmd.Flags().GetString("id-token")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	progress(fmt.Sprintf("Signing in with %s…", provider))
	if err := a.Auth.SignIn(cmd.Context(), provider, idToken); err != nil {
		return err
	}
	progress("Signed in. Warming caches…")
	a.Wait()
	printPrefetchResult(a.Prefetch.LastResult())
	return nil
}

func handleSignOut(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Auth.SignOut(cmd.Context()); err != nil {
		return err
	}
	progress("Signed out.")
	return nil
}

func handleStatus(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	st := a.Settings.Get()
	status := map[string]any{
		"session":      a.Auth.State().String(),
		"device_id":    st.DeviceID,
		"data_dir":     a.Config.DataDir,
		"settings":     a.Settings.Path(),
		"timezone":     a.Location.String(),
		"cache_keys":   len(a.Cache.Keys()),
		"event_cache":  a.Events.Metadata(),
		"events_fresh": a.Events.IsCacheValid(),
	}
	if last := a.Calendar.LastSync(); !last.IsZero() {
		status["last_sync"] = last.Format(time.RFC3339)
	}
	if st.LastSignIn != nil {
		status["last_sign_in"] = st.LastSignIn.Format(time.RFC3339)
	}

	fresh := map[string]bool{}
	for name, key := range a.Prefetch.Keys(time.Now()) {
		fresh[name] = a.Cache.IsValid(key)
	}
	status["insights_fresh"] = fresh

	if a.Auth.IsSignedIn() && !forceCache {
		if p, err := a.API.Profile(cmd.Context()); err == nil {
			status["user"] = p
		} else {
			status["profile_error"] = err.Error()
		}
	}

	output.PrintJSON(os.Stdout, status)
	return nil
}

func handlePrefetch(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.Auth.IsSignedIn() {
		return fmt.Errorf("not signed in; run `tempo signin` first")
	}

	var ran bool
	if force {
		ran = a.Prefetch.ForcePrefetch(cmd.Context())
	} else {
		ran = a.Prefetch.PrefetchAllInsights(cmd.Context())
	}
	if !ran {
		progress(fmt.Sprintf("Skipped: last run at %s", a.Prefetch.LastRunAt().Format(time.Kitchen)))
		return nil
	}
	printPrefetchResult(a.Prefetch.LastResult())
	return nil
}

func printPrefetchResult(res *prefetch.Result) {
	if res == nil {
		return
	}
	progress(fmt.Sprintf("Prefetch %s: %d fetched, %d fresh, %d failed",
		res.RunID, len(res.Fetched), len(res.Skipped), len(res.Failed)))
	for name, err := range res.Failed {
		progress(fmt.Sprintf("  %s: %v", name, err))
	}
}

func handleEvents(cmd *cobra.Command, args []string) error {
	refresh, _ := cmd.Flags().GetBool("refresh")
	days, _ := cmd.Flags().GetInt("days")
	period, _ := cmd.Flags().GetString("period")
	icsPath, _ := cmd.Flags().GetString("ics")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if days <= 0 {
		days = a.Config.DaysToFetch
	}

	var events []api.Event
	if forceCache {
		cached, ok := a.Events.LoadEvents()
		if !ok {
			return fmt.Errorf("no cached events")
		}
		events = cached
	} else {
		events, err = a.Calendar.Events(cmd.Context(), days, refresh)
		if err != nil {
			if len(events) == 0 {
				return err
			}
			core.Eprint(fmt.Sprintf("Sync failed, showing cached events: %v", err), true)
		}
	}

	if period != "" {
		start, end, err := core.GetTimeRange(period, a.Location)
		if err != nil {
			return err
		}
		events = filterEvents(events, start, end)
	}

	if icsPath != "" {
		if err := writeICS(icsPath, events); err != nil {
			return err
		}
		progress(fmt.Sprintf("Wrote %d events to %s", len(events), icsPath))
	}

	if raw {
		output.PrintJSON(os.Stdout, events)
	} else {
		output.PrintEvents(os.Stdout, events, a.Location)
	}
	return nil
}

func filterEvents(events []api.Event, start, end time.Time) []api.Event {
	out := make([]api.Event, 0, len(events))
	for _, e := range events {
		if core.Overlaps(e.Start, e.End, start, end) {
			out = append(out, e)
		}
	}
	return out
}

func writeICS(path string, events []api.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := calendar.ExportICS(f, events, time.Now()); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func handleBriefing(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	date, err := dateArg(args, a)
	if err != nil {
		return err
	}

	b, err := cachedOrFetch(cmd.Context(), a, cache.KeyDailyBriefing(date), core.TTLDailyBriefing,
		func(ctx context.Context) (*api.DailyBriefing, error) {
			return a.API.DailyBriefing(ctx, date)
		})
	if err != nil {
		return err
	}

	if raw {
		output.PrintJSON(os.Stdout, b)
	} else {
		output.PrintBriefing(os.Stdout, b)
	}
	return nil
}

func handleSummary(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	date, err := dateArg(args, a)
	if err != nil {
		return err
	}

	s, err := dailySummary(cmd.Context(), a, date)
	if err != nil {
		return err
	}

	if raw {
		output.PrintJSON(os.Stdout, s)
	} else {
		output.PrintSummary(os.Stdout, &s)
	}
	return nil
}

// dailySummary serves from the in-memory summary cache, fetching on a miss.
func dailySummary(ctx context.Context, a *app.App, date time.Time) (api.DailySummary, error) {
	key := cache.DateKey(date)
	if s, ok := a.Summaries.Get(key); ok {
		return s, nil
	}
	if forceCache {
		return api.DailySummary{}, fmt.Errorf("no cached summary for %s", key)
	}
	s, err := a.API.DailySummary(ctx, date)
	if err != nil {
		return api.DailySummary{}, err
	}
	a.Summaries.Put(key, *s)
	return *s, nil
}

func handleInsights(cmd *cobra.Command, args []string) error {
	weekSpec, _ := cmd.Flags().GetString("week")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	v, markdown, err := loadInsights(cmd.Context(), a, args[0], weekSpec)
	if err != nil {
		return err
	}
	if raw {
		output.PrintJSON(os.Stdout, v)
	} else {
		markdown(os.Stdout)
	}
	return nil
}

// loadInsights returns the insights of one kind along with a markdown renderer.
func loadInsights(ctx context.Context, a *app.App, kind, weekSpec string) (any, func(io.Writer), error) {
	today := core.DateOnly(time.Now().In(a.Location))

	switch strings.ToLower(kind) {
	case "health":
		start := today.AddDate(0, 0, -6)
		v, err := cachedOrFetch(ctx, a, cache.KeyHealthInsights(start, today), core.TTLHealthInsights,
			func(ctx context.Context) (*api.HealthInsights, error) { return a.API.HealthInsights(ctx, start, today) })
		if err != nil {
			return nil, nil, err
		}
		return v, func(w io.Writer) { output.PrintInsights(w, "Health insights", "", v.Insights) }, nil

	case "weekly":
		monday := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		if weekSpec != "" {
			var err error
			if monday, _, err = core.ParseWeekSpec(weekSpec); err != nil {
				return nil, nil, err
			}
		}
		v, err := cachedOrFetch(ctx, a, cache.KeyWeeklyInsights(monday), core.TTLWeeklyInsights,
			func(ctx context.Context) (*api.WeeklyInsights, error) { return a.API.WeeklyInsights(ctx, monday) })
		if err != nil {
			return nil, nil, err
		}
		title := fmt.Sprintf("Week of %s", core.FormatDate(monday))
		return v, func(w io.Writer) { output.PrintInsights(w, title, v.Summary, v.Insights) }, nil

	case "life":
		v, err := cachedOrFetch(ctx, a, cache.KeyLifeInsights(today), core.TTLLifeInsights,
			func(ctx context.Context) (*api.LifeInsights, error) { return a.API.LifeInsights(ctx) })
		if err != nil {
			return nil, nil, err
		}
		return v, func(w io.Writer) { output.PrintInsights(w, "Life insights", "", v.Insights) }, nil

	case "capacity":
		end := today.AddDate(0, 0, 6)
		v, err := cachedOrFetch(ctx, a, cache.KeyCapacityAnalysis(today, end), core.TTLCapacityAnalysis,
			func(ctx context.Context) (*api.CapacityAnalysis, error) { return a.API.CapacityAnalysis(ctx, today, end) })
		if err != nil {
			return nil, nil, err
		}
		return v, func(w io.Writer) { output.PrintCapacity(w, v) }, nil

	case "weeks":
		v, err := cachedOrFetch(ctx, a, cache.KeyAvailableWeeks(today), core.TTLAvailableWeeks,
			func(ctx context.Context) ([]api.AvailableWeek, error) { return a.API.AvailableWeeks(ctx) })
		if err != nil {
			return nil, nil, err
		}
		return v, func(w io.Writer) { output.PrintWeeks(w, v) }, nil
	}
	return nil, nil, fmt.Errorf("unknown insights kind %q (want health, weekly, life, capacity or weeks)", kind)
}

func handleChat(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	reply, err := a.API.Chat(cmd.Context(), []api.ChatMessage{{Role: "user", Content: strings.Join(args, " ")}})
	if err != nil {
		return err
	}
	if raw {
		output.PrintJSON(os.Stdout, reply)
	} else {
		fmt.Println(reply.Content)
	}
	return nil
}

func handleTrack(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.API.TrackEngagement(cmd.Context(), api.EngagementEvent{
		NotificationID: args[0],
		Action:         args[1],
		OccurredAt:     time.Now().UTC(),
	})
}

func handleCacheClear(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	a.Summaries.InvalidateAll()
	if err := a.Events.Clear(); err != nil {
		return err
	}
	if err := a.Cache.Clear(); err != nil {
		return err
	}
	progress("Cache cleared.")
	return nil
}

func handleMCP(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	return newMCPServer(a, os.Stdout).Serve(cmd.Context(), os.Stdin)
}

func dateArg(args []string, a *app.App) (time.Time, error) {
	spec := "today"
	if len(args) > 0 {
		spec = args[0]
	}
	d, err := core.ParseDateSpec(spec, a.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date specification '%s'", spec)
	}
	return d, nil
}

// cachedOrFetch returns the fresh cached value for key, fetching and caching
// it on a miss. A failed fetch falls back to a stale entry. With --force-cache
// only the cache is consulted.
func cachedOrFetch[T any](ctx context.Context, a *app.App, key string, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	var v T
	if a.Cache.GetFresh(key, &v) {
		return v, nil
	}

	var stale T
	_, haveStale := a.Cache.GetJSON(key, &stale)
	if forceCache {
		if haveStale {
			return stale, nil
		}
		return v, fmt.Errorf("no cached data for %s", key)
	}

	v, err := fetch(ctx)
	if err != nil {
		if haveStale {
			core.Eprint(fmt.Sprintf("Fetch failed, showing cached data: %v", err), true)
			return stale, nil
		}
		return v, err
	}
	if err := a.Cache.Set(key, v, ttl); err != nil {
		core.Eprint(fmt.Sprintf("Failed to cache %s: %v", key, err), verbose)
	}
	return v, nil
}
