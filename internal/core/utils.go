package core

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Eprint writes msg to stderr when verbose is true.
func Eprint(msg string, verbose bool) {
	if verbose {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// ProgressPrint writes msg to stderr unless quiet is true.
func ProgressPrint(msg string, quiet bool) {
	if !quiet {
		fmt.Fprintln(os.Stderr, msg)
	}
}

// Critical always writes msg to stderr, regardless of verbosity.
func Critical(msg string) {
	fmt.Fprintf(os.Stderr, "CRITICAL %s %s\n", time.Now().Format(time.RFC3339), msg)
}

// GetTZ returns a *time.Location for the given timezone name.
// Falls back to UTC if the timezone is not found.
func GetTZ(name string) *time.Location {
	if name == "" {
		name = DefaultTZ
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Timezone '%s' not found; falling back to UTC.\n", name)
		return time.UTC
	}
	return loc
}

// ParseDate parses a YYYY-MM-DD string into a time.Time (date only, at midnight UTC).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(APIDateFmt, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date '%s' (expected YYYY-MM-DD)", s)
	}
	return t, nil
}

// ParseDateSpec returns a concrete date for flexible spec strings.
// Supports:
// 1. Exact YYYY-MM-DD
// 2. today / yesterday / tomorrow
// 3. M/D or MM/DD (most recent past occurrence)
// 4. Relative forms like d-7 (days), w-2 (weeks), m-3 (months), y-1 (years)
func ParseDateSpec(spec string, loc *time.Location) (time.Time, error) {
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	if t, err := time.Parse(APIDateFmt, spec); err == nil {
		return t, nil
	}

	switch strings.ToLower(strings.TrimSpace(spec)) {
	case "", "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	}

	mdRegex := regexp.MustCompile(`^(\d{1,2})/(\d{1,2})$`)
	if matches := mdRegex.FindStringSubmatch(spec); matches != nil {
		month, _ := strconv.Atoi(matches[1])
		day, _ := strconv.Atoi(matches[2])
		target := time.Date(now.Year(), time.Month(month), day, 0, 0, 0, 0, loc)
		if target.After(today) {
			target = time.Date(now.Year()-1, time.Month(month), day, 0, 0, 0, 0, loc)
		}
		return target, nil
	}

	relRegex := regexp.MustCompile(`^([dwmy])-(\d+)$`)
	if matches := relRegex.FindStringSubmatch(strings.ToLower(spec)); matches != nil {
		num, _ := strconv.Atoi(matches[2])
		switch matches[1] {
		case "d":
			return today.AddDate(0, 0, -num), nil
		case "w":
			return today.AddDate(0, 0, -num*7), nil
		case "m":
			return today.AddDate(0, -num, 0), nil
		case "y":
			return today.AddDate(-num, 0, 0), nil
		}
	}

	return time.Time{}, fmt.Errorf("invalid date specification: '%s'", spec)
}

// ParseWeekSpec converts a week spec (N or YYYY-WNN) into (start_date, end_date).
func ParseWeekSpec(spec string) (time.Time, time.Time, error) {
	currentYear := time.Now().Year()

	weekNumRegex := regexp.MustCompile(`^\d{1,2}$`)
	if weekNumRegex.MatchString(spec) {
		weekNum, _ := strconv.Atoi(spec)
		if weekNum < 1 || weekNum > 53 {
			return time.Time{}, time.Time{}, fmt.Errorf("week number out of range (1-53)")
		}
		start, end := WeekDates(currentYear, weekNum)
		return start, end, nil
	}

	isoWeekRegex := regexp.MustCompile(`^(\d{4})-W(\d{2})$`)
	if matches := isoWeekRegex.FindStringSubmatch(spec); matches != nil {
		year, _ := strconv.Atoi(matches[1])
		weekNum, _ := strconv.Atoi(matches[2])
		if weekNum < 1 || weekNum > 53 {
			return time.Time{}, time.Time{}, fmt.Errorf("week number out of range (1-53) in ISO format")
		}
		start, end := WeekDates(year, weekNum)
		return start, end, nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("invalid week specification format: '%s'", spec)
}

// WeekDates returns the start (Monday) and end (Sunday) dates for a given ISO week.
func WeekDates(year, week int) (time.Time, time.Time) {
	// January 4th is always in ISO week 1
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	weekday := int(jan4.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	mondayWeek1 := jan4.AddDate(0, 0, -(weekday - 1))
	startDate := mondayWeek1.AddDate(0, 0, (week-1)*7)
	return startDate, startDate.AddDate(0, 0, 6)
}

// GetTimeRange returns (start, end) datetimes representing a period.
// Supported periods: today, yesterday, this-week, last-week, this-month,
// last-month, last-30-days.
func GetTimeRange(period string, loc *time.Location) (time.Time, time.Time, error) {
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	endOfDay := func(t time.Time) time.Time {
		return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999999, loc)
	}
	mondayOf := func(t time.Time) time.Time {
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		return t.AddDate(0, 0, -(weekday - 1))
	}

	switch period {
	case "today":
		return today, endOfDay(today), nil
	case "yesterday":
		d := today.AddDate(0, 0, -1)
		return d, endOfDay(d), nil
	case "this-week":
		start := mondayOf(today)
		return start, endOfDay(start.AddDate(0, 0, 6)), nil
	case "last-week":
		start := mondayOf(today).AddDate(0, 0, -7)
		return start, endOfDay(start.AddDate(0, 0, 6)), nil
	case "this-month":
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
		return first, endOfDay(first.AddDate(0, 1, -1)), nil
	case "last-month":
		first := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, loc)
		return first, endOfDay(first.AddDate(0, 1, -1)), nil
	case "last-30-days":
		return today.AddDate(0, 0, -29), endOfDay(today), nil
	}

	return time.Time{}, time.Time{}, fmt.Errorf("unknown period: %s", period)
}

// Overlaps returns true when [start, end] overlaps with the [rangeStart, rangeEnd] interval.
// A zero end is treated as an instant at start.
func Overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	if start.IsZero() {
		return false
	}
	if end.IsZero() || end.Before(start) {
		end = start
	}
	return !start.After(rangeEnd) && !end.Before(rangeStart)
}

// DateOnly returns a time.Time with only the date portion (midnight UTC).
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDate formats a time.Time as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(APIDateFmt)
}

// ParseClock parses a 24-hour HH:MM time of day.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time '%s' (expected HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}
