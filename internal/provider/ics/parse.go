package ics

import (
	"errors"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"familyhub/backend/internal/domain"
	"familyhub/backend/internal/recurrence"
)

// toExternalEvent maps one VEVENT. ok is false for events without a UID,
// which cannot be reconciled.
// toExternalEvent maps one VEVENT. Events without a UID are reported as not
// ok; on error the returned event still carries the external id.
func toExternalEvent(ev *ical.VEvent) (domain.ExternalEvent, bool, error) {
	uid := propValue(ev, ical.ComponentPropertyUniqueId)
	if uid == "" {
		return domain.ExternalEvent{}, false, nil
	}
	externalID := uid
	if rid := propValue(ev, ical.ComponentPropertyRecurrenceId); rid != "" {
		externalID = uid + "/" + rid
	}

	out := domain.ExternalEvent{
		ExternalID:  externalID,
		Title:       propValue(ev, ical.ComponentPropertySummary),
		Description: propValue(ev, ical.ComponentPropertyDescription),
		Location:    propValue(ev, ical.ComponentPropertyLocation),
		Color:       propValue(ev, ical.ComponentPropertyColor),
		IsCancelled: strings.EqualFold(propValue(ev, ical.ComponentPropertyStatus), string(ical.ObjectStatusCancelled)),
	}
	if rule := propValue(ev, ical.ComponentPropertyRrule); rule != "" {
		out.RawRecurrence = "RRULE:" + rule
	}

	if isAllDay(ev) {
		start, err := ev.GetAllDayStartAt()
		if err != nil {
			return domain.ExternalEvent{ExternalID: externalID}, false, err
		}
		out.IsAllDay = true
		out.Start = domain.DateOf(start)
		if end, err := ev.GetAllDayEndAt(); err == nil {
			out.End = domain.DateOf(end)
		} else {
			out.End = out.Start.AddDate(0, 0, 1)
		}
	} else {
		start, err := ev.GetStartAt()
		if err != nil {
			return domain.ExternalEvent{ExternalID: externalID}, false, err
		}
		out.Start = start.UTC()
		if end, err := ev.GetEndAt(); err == nil {
			out.End = end.UTC()
		} else if d, ok := parseDuration(propValue(ev, ical.ComponentPropertyDuration)); ok {
			out.End = out.Start.Add(d)
		} else {
			out.End = out.Start
		}
	}

	for _, alarm := range ev.Alarms() {
		if m, ok := reminderMinutes(alarm); ok {
			out.Reminders = append(out.Reminders, m)
		}
	}

	return out, true, nil
}

func propValue(ev *ical.VEvent, p ical.ComponentProperty) string {
	prop := ev.GetProperty(p)
	if prop == nil {
		return ""
	}
	return strings.TrimSpace(prop.Value)
}

func isAllDay(ev *ical.VEvent) bool {
	prop := ev.GetProperty(ical.ComponentPropertyDtStart)
	if prop == nil {
		return false
	}
	if v, ok := prop.ICalParameters["VALUE"]; ok && len(v) > 0 && strings.EqualFold(v[0], "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

func inWindow(ev domain.ExternalEvent, start, end time.Time) bool {
	if start.IsZero() && end.IsZero() {
		return true
	}
	rule := recurrence.Translate(ev.RawRecurrence)
	ok, err := recurrence.OccursBetween(rule, ev.Start, ev.End, start, end)
	if err != nil {
		return false
	}
	return ok
}

// reminderMinutes reads a relative TRIGGER such as "-PT15M". Absolute
// triggers and triggers after the start are ignored.
func reminderMinutes(alarm *ical.VAlarm) (int32, bool) {
	prop := alarm.GetProperty(ical.ComponentPropertyTrigger)
	if prop == nil {
		return 0, false
	}
	if v, ok := prop.ICalParameters["VALUE"]; ok && len(v) > 0 && strings.EqualFold(v[0], "DATE-TIME") {
		return 0, false
	}
	if r, ok := prop.ICalParameters["RELATED"]; ok && len(r) > 0 && strings.EqualFold(r[0], "END") {
		return 0, false
	}
	raw := strings.TrimSpace(prop.Value)
	if !strings.HasPrefix(raw, "-") {
		if d, ok := parseDuration(raw); ok && d == 0 {
			return 0, true
		}
		return 0, false
	}
	d, ok := parseDuration(raw[1:])
	if !ok {
		return 0, false
	}
	return int32(d / time.Minute), true
}

var errBadDuration = errors.New("bad duration")

// parseDuration reads an RFC 5545 dur-value without sign, e.g. "P1D",
// "PT1H30M" or "P2W".
func parseDuration(s string) (time.Duration, bool) {
	s = strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(s)), "+")
	if !strings.HasPrefix(s, "P") {
		return 0, false
	}
	d, err := durationFields(s[1:])
	if err != nil {
		return 0, false
	}
	return d, true
}

func durationFields(s string) (time.Duration, error) {
	if s == "" {
		return 0, errBadDuration
	}
	var total time.Duration
	inTime := false
	parsed := false
	num := ""
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			inTime = true
			continue
		}
		if num == "" {
			return 0, errBadDuration
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			return 0, err
		}
		num = ""
		parsed = true
		switch {
		case r == 'W' && !inTime:
			total += time.Duration(n) * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += time.Duration(n) * 24 * time.Hour
		case r == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, errBadDuration
		}
	}
	if num != "" || !parsed {
		return 0, errBadDuration
	}
	return total, nil
}
