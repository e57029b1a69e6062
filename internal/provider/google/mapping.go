package google

import (
	"errors"
	"strings"
	"time"

	calendar "google.golang.org/api/calendar/v3"

	"familyhub/backend/internal/domain"
)

// Google's fixed event colour palette, keyed by colorId.
var eventColors = map[string]string{
	"1":  "#7986cb",
	"2":  "#33b679",
	"3":  "#8e24aa",
	"4":  "#e67c73",
	"5":  "#f6bf26",
	"6":  "#f4511e",
	"7":  "#039be5",
	"8":  "#616161",
	"9":  "#3f51b5",
	"10": "#0b8043",
	"11": "#d50000",
}

func toExternalEvent(e *calendar.Event) (domain.ExternalEvent, error) {
	if e.Start == nil {
		return domain.ExternalEvent{}, errors.New("event has no start")
	}

	out := domain.ExternalEvent{
		ExternalID:    e.Id,
		Title:         e.Summary,
		Description:   e.Description,
		Location:      e.Location,
		IsCancelled:   e.Status == "cancelled",
		RawRecurrence: strings.Join(e.Recurrence, "\n"),
		Color:         eventColors[e.ColorId],
	}

	if e.Start.Date != "" {
		start, err := time.Parse(time.DateOnly, e.Start.Date)
		if err != nil {
			return domain.ExternalEvent{}, err
		}
		out.IsAllDay = true
		out.Start = start
		out.End = start.AddDate(0, 0, 1)
		if e.End != nil && e.End.Date != "" {
			if end, err := time.Parse(time.DateOnly, e.End.Date); err == nil {
				out.End = end
			}
		}
	} else {
		start, err := time.Parse(time.RFC3339, e.Start.DateTime)
		if err != nil {
			return domain.ExternalEvent{}, err
		}
		out.Start = start.UTC()
		out.End = out.Start
		if e.End != nil && e.End.DateTime != "" {
			if end, err := time.Parse(time.RFC3339, e.End.DateTime); err == nil {
				out.End = end.UTC()
			}
		}
	}

	for _, att := range e.Attendees {
		if att.Self && att.ResponseStatus == "declined" {
			out.IsDeclined = true
			break
		}
	}

	if e.Reminders != nil && !e.Reminders.UseDefault {
		for _, o := range e.Reminders.Overrides {
			out.Reminders = append(out.Reminders, int32(o.Minutes))
		}
	}

	return out, nil
}
