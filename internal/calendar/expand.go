// Package calendar syncs calendar events into the event cache, expands
// recurring events and exports them as iCalendar.
package calendar

import (
	"fmt"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/core"
)

// MaxOccurrencesPerEvent caps how many occurrences one series may expand to.
const MaxOccurrencesPerEvent = 500

// Expand returns the events overlapping [rangeStart, rangeEnd] with every
// recurring event replaced by its individual occurrences. The result is sorted
// by start time. A series whose rule cannot be parsed is kept as a single event.
func Expand(events []api.Event, rangeStart, rangeEnd time.Time, verbose bool) []api.Event {
	out := make([]api.Event, 0, len(events))
	for _, ev := range events {
		if ev.RecurrenceRule == "" {
			if core.Overlaps(ev.Start, ev.End, rangeStart, rangeEnd) {
				out = append(out, ev)
			}
			continue
		}

		occs, err := expandSeries(ev, rangeStart, rangeEnd)
		if err != nil {
			core.Eprint(fmt.Sprintf("[Calendar] Failed to parse RRULE for %s (%q): %v", ev.ID, ev.RecurrenceRule, err), verbose)
			if core.Overlaps(ev.Start, ev.End, rangeStart, rangeEnd) {
				out = append(out, ev)
			}
			continue
		}
		out = append(out, occs...)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

func expandSeries(ev api.Event, rangeStart, rangeEnd time.Time) ([]api.Event, error) {
	r, err := rrule.StrToRRule(ev.RecurrenceRule)
	if err != nil {
		return nil, err
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// Widen the lower bound so occurrences already in progress are included.
	dur := ev.Duration()
	after := rangeStart.Add(-dur).In(ev.Start.Location())
	before := rangeEnd.In(ev.Start.Location())

	starts := set.Between(after, before, true)
	if len(starts) > MaxOccurrencesPerEvent {
		starts = starts[:MaxOccurrencesPerEvent]
	}

	out := make([]api.Event, 0, len(starts))
	for _, start := range starts {
		end := start.Add(dur)
		if ev.AllDay {
			start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, start.Location())
			end = start.AddDate(0, 0, 1)
		}
		if !core.Overlaps(start, end, rangeStart, rangeEnd) {
			continue
		}

		occ := ev
		occ.ID = fmt.Sprintf("%s_%s", ev.ID, start.UTC().Format("20060102T150405Z"))
		occ.Start = start
		occ.End = end
		occ.RecurrenceRule = ""
		occ.ExDates = nil
		occ.RecurrenceID = ev.ID
		out = append(out, occ)
	}
	return out, nil
}
