package calendar

import (
	"io"
	"strings"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/colthorp/tempo-cli-go/internal/api"
	"github.com/colthorp/tempo-cli-go/internal/core"
)

// ExportICS writes events as an iCalendar feed. Expanded occurrences are
// written individually; unexpanded series keep their RRULE.
func ExportICS(w io.Writer, events []api.Event, stamp time.Time) error {
	cal := ics.NewCalendarFor("Tempo")
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//Tempo//tempo-cli " + core.Version + "//EN")
	cal.SetXWRCalName("Tempo")

	for _, ev := range events {
		vev := cal.AddEvent(ev.ID + "@tempo.app")
		vev.SetDtStampTime(stamp.UTC())
		vev.SetSummary(ev.Title)
		if ev.Notes != "" {
			vev.SetDescription(ev.Notes)
		}
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}

		end := ev.End
		if end.IsZero() || end.Before(ev.Start) {
			end = ev.Start
		}
		if ev.AllDay {
			vev.SetAllDayStartAt(ev.Start)
			vev.SetAllDayEndAt(end)
		} else {
			vev.SetStartAt(ev.Start)
			vev.SetEndAt(end)
		}

		if ev.RecurrenceRule != "" {
			vev.AddRrule(strings.TrimPrefix(ev.RecurrenceRule, "RRULE:"))
		}
	}

	return cal.SerializeTo(w)
}
