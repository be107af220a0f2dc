// Package output renders client data as markdown or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/colthorp/tempo-cli-go/internal/api"
)

// PrintJSON prints a single item as formatted JSON.
func PrintJSON(w io.Writer, item any) {
	data, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		return
	}
	fmt.Fprintln(w, string(data))
}

// PrintEvents writes events grouped by day.
func PrintEvents(w io.Writer, events []api.Event, loc *time.Location) {
	if len(events) == 0 {
		fmt.Fprintln(w, "_No events._")
		return
	}

	var day string
	for _, e := range events {
		start := e.Start.In(loc)
		if d := start.Format("Monday, January 2"); d != day {
			if day != "" {
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "## %s\n\n", d)
			day = d
		}

		when := "all day"
		if !e.AllDay {
			when = start.Format("15:04")
			if !e.End.IsZero() {
				when += "–" + e.End.In(loc).Format("15:04")
			}
		}
		line := fmt.Sprintf("- **%s** %s", when, e.Title)
		if e.Location != "" {
			line += fmt.Sprintf(" _(%s)_", e.Location)
		}
		if e.RecurrenceID != "" {
			line += " ↻"
		}
		fmt.Fprintln(w, line)
	}
}

// PrintBriefing writes a daily briefing.
func PrintBriefing(w io.Writer, b *api.DailyBriefing) {
	fmt.Fprintf(w, "# Briefing for %s\n\n", b.Date)
	if b.EnergyScore != nil {
		fmt.Fprintf(w, "Energy: %.0f/100\n\n", *b.EnergyScore)
	}
	fmt.Fprintln(w, b.Summary)
	printBullets(w, b.Highlights)
}

// PrintSummary writes a daily summary.
func PrintSummary(w io.Writer, s *api.DailySummary) {
	fmt.Fprintf(w, "# %s (%d events)\n\n", s.Date, s.EventCount)
	fmt.Fprintln(w, s.Summary)
	printBullets(w, s.Highlights)
}

// PrintInsights writes a titled list of insights.
func PrintInsights(w io.Writer, title, summary string, insights []api.Insight) {
	fmt.Fprintf(w, "# %s\n", title)
	if summary != "" {
		fmt.Fprintf(w, "\n%s\n", summary)
	}
	for _, in := range insights {
		fmt.Fprintf(w, "\n## %s\n\n%s\n", in.Title, in.Body)
	}
}

// PrintCapacity writes a per-day utilization table.
func PrintCapacity(w io.Writer, c *api.CapacityAnalysis) {
	fmt.Fprintf(w, "# Capacity %s to %s\n\n", c.Start, c.End)
	fmt.Fprintln(w, "| Date | Scheduled | Capacity | Load |")
	fmt.Fprintln(w, "|---|---|---|---|")
	for _, d := range c.Days {
		fmt.Fprintf(w, "| %s | %.1fh | %.1fh | %.0f%% |\n", d.Date, d.ScheduledHours, d.CapacityHours, d.Utilization*100)
	}
}

// PrintWeeks writes the weeks available for review.
func PrintWeeks(w io.Writer, weeks []api.AvailableWeek) {
	if len(weeks) == 0 {
		fmt.Fprintln(w, "_No weeks available._")
		return
	}
	for _, wk := range weeks {
		fmt.Fprintf(w, "- %s – %s\n", wk.WeekStart, wk.WeekEnd)
	}
}

// PrintHealth writes a health summary with its metrics sorted by name.
func PrintHealth(w io.Writer, h *api.HealthSummary) {
	fmt.Fprintf(w, "# Health %s\n\n%s\n", h.Date, h.Summary)
	if len(h.Metrics) == 0 {
		return
	}
	names := make([]string, 0, len(h.Metrics))
	for k := range h.Metrics {
		names = append(names, k)
	}
	sort.Strings(names)
	fmt.Fprintln(w)
	for _, k := range names {
		fmt.Fprintf(w, "- %s: %g\n", strings.ReplaceAll(k, "_", " "), h.Metrics[k])
	}
}

func printBullets(w io.Writer, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintln(w)
	for _, it := range items {
		fmt.Fprintf(w, "- %s\n", it)
	}
}
