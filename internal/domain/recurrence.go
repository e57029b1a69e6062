package domain

import (
	"slices"
	"time"
)

type RecurrencePattern string

const (
	RecurrenceNone    RecurrencePattern = "none"
	RecurrenceDaily   RecurrencePattern = "daily"
	RecurrenceWeekly  RecurrencePattern = "weekly"
	RecurrenceMonthly RecurrencePattern = "monthly"
	RecurrenceYearly  RecurrencePattern = "yearly"
)

func (p RecurrencePattern) IsValid() bool {
	switch p {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly, RecurrenceYearly:
		return true
	}
	return false
}

// Recurrence is the internal repetition rule stored on events. Days use ISO
// weekday numbering (1 = Monday .. 7 = Sunday). Until and Count may both be
// set; expansion stops at whichever bound is reached first.
type Recurrence struct {
	Pattern  RecurrencePattern
	Interval int
	Days     []int16
	Until    *time.Time
	Count    *int
}

func NoRecurrence() Recurrence {
	return Recurrence{Pattern: RecurrenceNone, Interval: 1}
}

func (r Recurrence) IsRecurring() bool {
	return r.Pattern != "" && r.Pattern != RecurrenceNone
}

func (r Recurrence) Equal(o Recurrence) bool {
	if r.Pattern != o.Pattern || r.Interval != o.Interval {
		return false
	}
	if !slices.Equal(r.Days, o.Days) {
		return false
	}
	if !timePtrEqual(r.Until, o.Until) {
		return false
	}
	switch {
	case r.Count == nil && o.Count == nil:
	case r.Count == nil || o.Count == nil:
		return false
	case *r.Count != *o.Count:
		return false
	}
	return true
}

// ISOWeekday converts a time.Weekday (Sunday = 0) into 1 = Monday .. 7 = Sunday.
func ISOWeekday(d time.Weekday) int16 {
	if d == time.Sunday {
		return 7
	}
	return int16(d)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
