package core

import (
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{"2024-07-15", "2024-07-15", false},
		{"2023-01-01", "2023-01-01", false},
		{"invalid", "", true},
		{"07/15/2024", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Format(APIDateFmt) != tt.want {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.input, got.Format(APIDateFmt), tt.want)
			}
		})
	}
}

func TestParseDateSpec(t *testing.T) {
	loc := time.UTC
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"exact date", "2024-07-15", "2024-07-15", false},
		{"today", "today", today.Format(APIDateFmt), false},
		{"yesterday", "yesterday", today.AddDate(0, 0, -1).Format(APIDateFmt), false},
		{"relative d-1", "d-1", today.AddDate(0, 0, -1).Format(APIDateFmt), false},
		{"relative d-7", "d-7", today.AddDate(0, 0, -7).Format(APIDateFmt), false},
		{"relative w-1", "w-1", today.AddDate(0, 0, -7).Format(APIDateFmt), false},
		{"relative m-1", "m-1", today.AddDate(0, -1, 0).Format(APIDateFmt), false},
		{"relative y-1", "y-1", today.AddDate(-1, 0, 0).Format(APIDateFmt), false},
		{"invalid", "invalid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDateSpec(tt.input, loc)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDateSpec(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr && got.Format(APIDateFmt) != tt.want {
				t.Errorf("ParseDateSpec(%q) = %v, want %v", tt.input, got.Format(APIDateFmt), tt.want)
			}
		})
	}
}

func TestParseWeekSpec(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantStart string
		wantEnd   string
		wantErr   bool
	}{
		{"ISO week format", "2024-W01", "2024-01-01", "2024-01-07", false},
		{"ISO week format W28", "2024-W28", "2024-07-08", "2024-07-14", false},
		{"invalid format", "invalid", "", "", true},
		{"week out of range", "2024-W54", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := ParseWeekSpec(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseWeekSpec(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
				return
			}
			if !tt.wantErr {
				if start.Format(APIDateFmt) != tt.wantStart {
					t.Errorf("ParseWeekSpec(%q) start = %v, want %v", tt.input, start.Format(APIDateFmt), tt.wantStart)
				}
				if end.Format(APIDateFmt) != tt.wantEnd {
					t.Errorf("ParseWeekSpec(%q) end = %v, want %v", tt.input, end.Format(APIDateFmt), tt.wantEnd)
				}
			}
		})
	}
}

func TestGetTimeRange(t *testing.T) {
	loc := time.UTC

	tests := []struct {
		name    string
		period  string
		wantErr bool
	}{
		{"today", "today", false},
		{"yesterday", "yesterday", false},
		{"this-week", "this-week", false},
		{"last-week", "last-week", false},
		{"this-month", "this-month", false},
		{"last-month", "last-month", false},
		{"last-30-days", "last-30-days", false},
		{"invalid", "invalid-period", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, end, err := GetTimeRange(tt.period, loc)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetTimeRange(%q) error = %v, wantErr %v", tt.period, err, tt.wantErr)
				return
			}
			if !tt.wantErr && start.After(end) {
				t.Errorf("GetTimeRange(%q) start %v is after end %v", tt.period, start, end)
			}
		})
	}
}

func TestOverlaps(t *testing.T) {
	loc := time.UTC
	rangeStart := time.Date(2024, 7, 15, 10, 0, 0, 0, loc)
	rangeEnd := time.Date(2024, 7, 15, 12, 0, 0, 0, loc)
	at := func(h, m int) time.Time { return time.Date(2024, 7, 15, h, m, 0, 0, loc) }

	tests := []struct {
		name       string
		start, end time.Time
		want       bool
	}{
		{"overlaps", at(11, 0), at(11, 30), true},
		{"spans range", at(9, 0), at(13, 0), true},
		{"before range", at(8, 0), at(9, 0), false},
		{"after range", at(14, 0), at(15, 0), false},
		{"instant inside", at(10, 30), time.Time{}, true},
		{"no start time", time.Time{}, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Overlaps(tt.start, tt.end, rangeStart, rangeEnd); got != tt.want {
				t.Errorf("Overlaps() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetTZ(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"America/New_York", "America/New_York"},
		{"UTC", "UTC"},
		{"", DefaultTZ},
		{"Not/AZone", "UTC"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if loc := GetTZ(tt.name); loc.String() != tt.want {
				t.Errorf("GetTZ(%q) = %v, want %v", tt.name, loc.String(), tt.want)
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	tests := []struct {
		input   string
		hour    int
		minute  int
		wantErr bool
	}{
		{"07:30", 7, 30, false},
		{"23:05", 23, 5, false},
		{"", 0, 0, true},
		{"24:00", 0, 0, true},
		{"7pm", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			h, m, err := ParseClock(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseClock(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && (h != tt.hour || m != tt.minute) {
				t.Errorf("ParseClock(%q) = %d:%d, want %d:%d", tt.input, h, m, tt.hour, tt.minute)
			}
		})
	}
}
