package outlook

import (
	"fmt"
	"strings"
	"time"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/recurrence"
)

type graphError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type calendarPage struct {
	Value []struct {
		ID                string `json:"id"`
		Name              string `json:"name"`
		IsDefaultCalendar bool   `json:"isDefaultCalendar"`
	} `json:"value"`
	NextLink string `json:"@odata.nextLink"`
}

type deltaPage struct {
	Value     []graphEvent `json:"value"`
	NextLink  string       `json:"@odata.nextLink"`
	DeltaLink string       `json:"@odata.deltaLink"`
}

type dateTimeTimeZone struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type graphEvent struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	Location    *struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	Start          *dateTimeTimeZone `json:"start"`
	End            *dateTimeTimeZone `json:"end"`
	IsAllDay       bool              `json:"isAllDay"`
	IsCancelled    bool              `json:"isCancelled"`
	ResponseStatus *struct {
		Response string `json:"response"`
	} `json:"responseStatus"`
	IsReminderOn               bool             `json:"isReminderOn"`
	ReminderMinutesBeforeStart int              `json:"reminderMinutesBeforeStart"`
	Recurrence                 *graphRecurrence `json:"recurrence"`
	Removed                    *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

type graphRecurrence struct {
	Pattern struct {
		Type       string   `json:"type"`
		Interval   int      `json:"interval"`
		DaysOfWeek []string `json:"daysOfWeek"`
	} `json:"pattern"`
	Range struct {
		Type                string `json:"type"`
		EndDate             string `json:"endDate"`
		NumberOfOccurrences int    `json:"numberOfOccurrences"`
	} `json:"range"`
}

var graphWeekdays = map[string]int16{
	"monday":    1,
	"tuesday":   2,
	"wednesday": 3,
	"thursday":  4,
	"friday":    5,
	"saturday":  6,
	"sunday":    7,
}

// Graph sends fractional seconds with seven digits and no offset.
const graphDateTime = "2006-01-02T15:04:05.9999999"

func (g graphEvent) toExternalEvent() (domain.ExternalEvent, error) {
	if g.Start == nil || g.End == nil {
		return domain.ExternalEvent{}, fmt.Errorf("event %s has no start or end", g.ID)
	}
	start, err := parseGraphTime(*g.Start)
	if err != nil {
		return domain.ExternalEvent{}, err
	}
	end, err := parseGraphTime(*g.End)
	if err != nil {
		return domain.ExternalEvent{}, err
	}

	out := domain.ExternalEvent{
		ExternalID:  g.ID,
		Title:       g.Subject,
		Description: g.BodyPreview,
		IsAllDay:    g.IsAllDay,
		IsCancelled: g.IsCancelled,
	}
	if g.Location != nil {
		out.Location = g.Location.DisplayName
	}
	if g.IsAllDay {
		out.Start = domain.DateOf(start)
		out.End = domain.DateOf(end)
	} else {
		out.Start = start.UTC()
		out.End = end.UTC()
	}
	if g.ResponseStatus != nil && strings.EqualFold(g.ResponseStatus.Response, "declined") {
		out.IsDeclined = true
	}
	if g.IsReminderOn {
		out.Reminders = []int32{int32(g.ReminderMinutesBeforeStart)}
	}
	if g.Recurrence != nil {
		if rule, ok := g.Recurrence.toRecurrence(); ok {
			out.RawRecurrence = "RRULE:" + recurrence.Format(rule)
		}
	}
	return out, nil
}

func parseGraphTime(v dateTimeTimeZone) (time.Time, error) {
	loc := time.UTC
	if v.TimeZone != "" && !strings.EqualFold(v.TimeZone, "UTC") {
		if l, err := time.LoadLocation(v.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation(graphDateTime, v.DateTime, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse graph time %q: %w", v.DateTime, err)
	}
	return t, nil
}

// toRecurrence expresses Graph's structured pattern as the internal rule.
// Relative monthly/yearly patterns keep only their weekdays.
func (r graphRecurrence) toRecurrence() (domain.Recurrence, bool) {
	out := domain.Recurrence{Interval: r.Pattern.Interval}
	if out.Interval < 1 {
		out.Interval = 1
	}
	switch r.Pattern.Type {
	case "daily":
		out.Pattern = domain.RecurrenceDaily
	case "weekly":
		out.Pattern = domain.RecurrenceWeekly
	case "absoluteMonthly", "relativeMonthly":
		out.Pattern = domain.RecurrenceMonthly
	case "absoluteYearly", "relativeYearly":
		out.Pattern = domain.RecurrenceYearly
	default:
		return domain.Recurrence{}, false
	}
	for _, d := range r.Pattern.DaysOfWeek {
		if n, ok := graphWeekdays[strings.ToLower(d)]; ok {
			out.Days = append(out.Days, n)
		}
	}
	switch r.Range.Type {
	case "endDate":
		if t, err := time.Parse(time.DateOnly, r.Range.EndDate); err == nil {
			// Graph's end date is inclusive.
			until := t.AddDate(0, 0, 1).Add(-time.Second)
			out.Until = &until
		}
	case "numbered":
		if r.Range.NumberOfOccurrences > 0 {
			n := r.Range.NumberOfOccurrences
			out.Count = &n
		}
	}
	return out, true
}
