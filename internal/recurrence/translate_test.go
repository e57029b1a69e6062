package recurrence

import (
	"errors"
	"slices"
	"testing"
	"time"

	"familyhub/backend/internal/domain"
)

func TestParse(t *testing.T) {
	until := time.Date(2026, 6, 30, 23, 59, 59, 0, time.UTC)
	untilDate := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		expr      string
		pattern   domain.RecurrencePattern
		interval  int
		days      []int16
		until     *time.Time
		count     int
		wantCount bool
	}{
		{name: "daily", expr: "FREQ=DAILY", pattern: domain.RecurrenceDaily, interval: 1},
		{name: "prefixed weekly", expr: "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=WE,MO", pattern: domain.RecurrenceWeekly, interval: 2, days: []int16{1, 3}},
		{name: "ordinal byday", expr: "FREQ=MONTHLY;BYDAY=-1FR", pattern: domain.RecurrenceMonthly, interval: 1, days: []int16{5}},
		{name: "until datetime", expr: "FREQ=YEARLY;UNTIL=20260630T235959Z", pattern: domain.RecurrenceYearly, interval: 1, until: &until},
		{name: "until date", expr: "FREQ=DAILY;UNTIL=20260630", pattern: domain.RecurrenceDaily, interval: 1, until: &untilDate},
		{name: "count", expr: "FREQ=DAILY;COUNT=10", pattern: domain.RecurrenceDaily, interval: 1, count: 10, wantCount: true},
		{name: "both bounds kept", expr: "FREQ=DAILY;COUNT=3;UNTIL=20260630", pattern: domain.RecurrenceDaily, interval: 1, until: &untilDate, count: 3, wantCount: true},
		{name: "lowercase and unknown keys", expr: "freq=weekly;wkst=SU;byday=su", pattern: domain.RecurrenceWeekly, interval: 1, days: []int16{7}},
		{name: "multi-line with exdate", expr: "EXDATE;TZID=UTC:20260105T090000\nRRULE:FREQ=WEEKLY;BYDAY=MO", pattern: domain.RecurrenceWeekly, interval: 1, days: []int16{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.expr)
			if err != nil {
				t.Fatalf("Parse error: %v", err)
			}
			if got.Pattern != tt.pattern {
				t.Fatalf("pattern = %q, want %q", got.Pattern, tt.pattern)
			}
			if got.Interval != tt.interval {
				t.Fatalf("interval = %d, want %d", got.Interval, tt.interval)
			}
			if !slices.Equal(got.Days, tt.days) {
				t.Fatalf("days = %v, want %v", got.Days, tt.days)
			}
			if (got.Until == nil) != (tt.until == nil) || (got.Until != nil && !got.Until.Equal(*tt.until)) {
				t.Fatalf("until = %v, want %v", got.Until, tt.until)
			}
			if (got.Count != nil) != tt.wantCount || (got.Count != nil && *got.Count != tt.count) {
				t.Fatalf("count = %v, want %d", got.Count, tt.count)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	for _, expr := range []string{
		"",
		"garbage",
		"FREQ=HOURLY",
		"INTERVAL=2",
		"FREQ=DAILY;INTERVAL=0",
		"FREQ=DAILY;INTERVAL=x",
		"FREQ=WEEKLY;BYDAY=XX",
		"FREQ=DAILY;COUNT=-1",
		"FREQ=DAILY;UNTIL=tomorrow",
		"FREQ=DAILY;BROKEN",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Parse(expr)
			var mErr *MalformedRecurrenceError
			if !errors.As(err, &mErr) {
				t.Fatalf("Parse(%q) error = %v, want *MalformedRecurrenceError", expr, err)
			}
		})
	}
}

func TestTranslate_DegradesToNone(t *testing.T) {
	got := Translate("FREQ=SECONDLY")
	if got.IsRecurring() {
		t.Fatalf("Translate = %+v, want non-recurring", got)
	}
	if got.Pattern != domain.RecurrenceNone {
		t.Fatalf("pattern = %q, want %q", got.Pattern, domain.RecurrenceNone)
	}
}

func TestFormat_RoundTripsThroughParse(t *testing.T) {
	count := 4
	r := domain.Recurrence{Pattern: domain.RecurrenceWeekly, Interval: 3, Days: []int16{2, 4}, Count: &count}

	s := Format(r)
	if s != "FREQ=WEEKLY;INTERVAL=3;BYDAY=TU,TH;COUNT=4" {
		t.Fatalf("Format = %q", s)
	}
	got, err := Parse(s)
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if !got.Equal(r) {
		t.Fatalf("Parse(Format(r)) = %+v, want %+v", got, r)
	}
	if Format(domain.NoRecurrence()) != "" {
		t.Fatalf("Format(none) should be empty")
	}
}
