package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Event is a family calendar entry. Events imported from an external calendar
// carry their provenance in the Source* fields; the triple
// (family_id, source_calendar_id, source_event_id) is unique.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	FamilyID     uuid.UUID  `bun:"family_id,notnull,type:uuid"`
	ConnectionID *uuid.UUID `bun:"connection_id,type:uuid"`
	Title        string     `bun:"title,notnull"`
	Description  string     `bun:"description"`
	Location     string     `bun:"location"`

	IsAllDay  bool       `bun:"is_all_day,notnull"`
	StartDate *time.Time `bun:"start_date,type:date"`
	EndDate   *time.Time `bun:"end_date,type:date"`
	StartTime *time.Time `bun:"start_time"`
	EndTime   *time.Time `bun:"end_time"`

	SourceProvider   ProviderKind `bun:"source_provider,nullzero"`
	SourceCalendarID string       `bun:"source_calendar_id,nullzero"`
	SourceEventID    string       `bun:"source_event_id,nullzero"`

	RecurrencePattern  RecurrencePattern `bun:"recurrence_pattern,notnull"`
	RecurrenceInterval int               `bun:"recurrence_interval,notnull"`
	RecurrenceDays     []int16           `bun:"recurrence_days,array"`
	RecurrenceUntil    *time.Time        `bun:"recurrence_until"`
	RecurrenceCount    *int              `bun:"recurrence_count"`

	Reminders   []int32  `bun:"reminders,array"`
	Color       string   `bun:"color"`
	AssigneeIDs []string `bun:"assignee_ids,array"`
	IsCancelled bool     `bun:"is_cancelled,notnull"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (e *Event) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = now
		}
		if e.UpdatedAt.IsZero() {
			e.UpdatedAt = now
		}
		if e.RecurrencePattern == "" {
			e.RecurrencePattern = RecurrenceNone
		}
		if e.RecurrenceInterval <= 0 {
			e.RecurrenceInterval = 1
		}
	case *bun.UpdateQuery:
		e.UpdatedAt = now
	}
	return nil
}

// SetAllDay switches the event to date-only timing. The end date is
// exclusive; an end on or before the start becomes start + 1 day.
func (e *Event) SetAllDay(start, end time.Time) {
	sd := DateOf(start)
	ed := DateOf(end)
	if !ed.After(sd) {
		ed = sd.AddDate(0, 0, 1)
	}
	e.IsAllDay = true
	e.StartDate = &sd
	e.EndDate = &ed
	e.StartTime = nil
	e.EndTime = nil
}

func (e *Event) SetTimed(start, end time.Time) {
	st := start.UTC()
	et := end.UTC()
	if et.Before(st) {
		et = st
	}
	e.IsAllDay = false
	e.StartTime = &st
	e.EndTime = &et
	e.StartDate = nil
	e.EndDate = nil
}

func (e Event) Recurrence() Recurrence {
	return Recurrence{
		Pattern:  e.RecurrencePattern,
		Interval: e.RecurrenceInterval,
		Days:     e.RecurrenceDays,
		Until:    e.RecurrenceUntil,
		Count:    e.RecurrenceCount,
	}
}

func (e *Event) SetRecurrence(r Recurrence) {
	if r.Pattern == "" {
		r.Pattern = RecurrenceNone
	}
	if r.Interval <= 0 {
		r.Interval = 1
	}
	e.RecurrencePattern = r.Pattern
	e.RecurrenceInterval = r.Interval
	e.RecurrenceDays = r.Days
	e.RecurrenceUntil = r.Until
	e.RecurrenceCount = r.Count
}

// Bounds returns the event's span as UTC instants, using midnight UTC for
// all-day dates.
func (e Event) Bounds() (time.Time, time.Time) {
	if e.IsAllDay {
		var s, en time.Time
		if e.StartDate != nil {
			s = *e.StartDate
		}
		if e.EndDate != nil {
			en = *e.EndDate
		}
		return s, en
	}
	var s, en time.Time
	if e.StartTime != nil {
		s = *e.StartTime
	}
	if e.EndTime != nil {
		en = *e.EndTime
	}
	return s, en
}

// DateOf truncates t to its calendar date at midnight UTC.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
