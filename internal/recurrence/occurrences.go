package recurrence

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	"familyhub/backend/internal/domain"
)

// Occurrence expansion is capped so an unbounded daily rule over a long
// window cannot run away.
const maxOccurrences = 5000

var isoWeekdays = map[int16]rrule.Weekday{
	1: rrule.MO,
	2: rrule.TU,
	3: rrule.WE,
	4: rrule.TH,
	5: rrule.FR,
	6: rrule.SA,
	7: rrule.SU,
}

func toRRule(r domain.Recurrence, dtstart time.Time) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart:  dtstart.UTC(),
		Interval: r.Interval,
	}
	switch r.Pattern {
	case domain.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case domain.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
	case domain.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
	case domain.RecurrenceYearly:
		opt.Freq = rrule.YEARLY
	default:
		return nil, errors.New("rule does not repeat")
	}
	if opt.Interval < 1 {
		opt.Interval = 1
	}
	for _, d := range r.Days {
		if wd, ok := isoWeekdays[d]; ok {
			opt.Byweekday = append(opt.Byweekday, wd)
		}
	}
	if r.Until != nil {
		opt.Until = r.Until.UTC()
	}
	if r.Count != nil {
		opt.Count = *r.Count
	}
	return rrule.NewRRule(opt)
}

// Between returns the start times of occurrences of r anchored at dtstart
// that fall within [from, to]. A non-recurring rule yields dtstart when it is
// inside the range.
func Between(r domain.Recurrence, dtstart, from, to time.Time) ([]time.Time, error) {
	if !r.IsRecurring() {
		if dtstart.Before(from) || dtstart.After(to) {
			return nil, nil
		}
		return []time.Time{dtstart}, nil
	}
	rule, err := toRRule(r, dtstart)
	if err != nil {
		return nil, err
	}
	occs := rule.Between(from, to, true)
	if len(occs) > maxOccurrences {
		occs = occs[:maxOccurrences]
	}
	return occs, nil
}

// OccursBetween reports whether any occurrence of an event spanning
// [start, end) overlaps [from, to).
func OccursBetween(r domain.Recurrence, start, end, from, to time.Time) (bool, error) {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	if !r.IsRecurring() {
		return overlaps(start, start.Add(d), from, to), nil
	}
	occs, err := Between(r, start, from.Add(-d), to)
	if err != nil {
		return false, err
	}
	for _, o := range occs {
		if overlaps(o, o.Add(d), from, to) {
			return true, nil
		}
	}
	return false, nil
}

func overlaps(start, end, from, to time.Time) bool {
	if end.Equal(start) {
		return !start.Before(from) && start.Before(to)
	}
	return start.Before(to) && end.After(from)
}
