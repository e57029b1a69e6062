// Package recurrence converts provider recurrence expressions (RFC 5545 RRULE
// text) into the internal domain.Recurrence and evaluates occurrences.
package recurrence

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"familyhub/backend/internal/domain"
)

type MalformedRecurrenceError struct {
	Expr   string
	Reason string
}

func (e *MalformedRecurrenceError) Error() string {
	return fmt.Sprintf("malformed recurrence %q: %s", e.Expr, e.Reason)
}

func malformed(expr, format string, args ...any) error {
	return &MalformedRecurrenceError{Expr: expr, Reason: fmt.Sprintf(format, args...)}
}

var weekdayCodes = map[string]int16{
	"MO": 1,
	"TU": 2,
	"WE": 3,
	"TH": 4,
	"FR": 5,
	"SA": 6,
	"SU": 7,
}

var untilLayouts = []string{
	"20060102T150405Z",
	"20060102T150405",
	"20060102",
}

// Translate never fails: anything Parse rejects becomes a non-recurring rule.
func Translate(expr string) domain.Recurrence {
	r, err := Parse(expr)
	if err != nil {
		return domain.NoRecurrence()
	}
	return r
}

// Parse reads a single RRULE. The input may carry an "RRULE:" prefix or be a
// newline separated list of recurrence lines, in which case the first RRULE
// line is used and EXDATE/RDATE lines are skipped.
func Parse(expr string) (domain.Recurrence, error) {
	line, ok := ruleLine(expr)
	if !ok {
		return domain.Recurrence{}, malformed(expr, "no rule")
	}

	out := domain.Recurrence{Interval: 1}
	for _, part := range strings.Split(line, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			return domain.Recurrence{}, malformed(expr, "expected key=value, got %q", part)
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "FREQ":
			p, err := parseFreq(expr, value)
			if err != nil {
				return domain.Recurrence{}, err
			}
			out.Pattern = p
		case "INTERVAL":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return domain.Recurrence{}, malformed(expr, "invalid INTERVAL %q", value)
			}
			out.Interval = n
		case "BYDAY":
			days, err := parseByDay(expr, value)
			if err != nil {
				return domain.Recurrence{}, err
			}
			out.Days = days
		case "UNTIL":
			u, err := parseUntil(value)
			if err != nil {
				return domain.Recurrence{}, malformed(expr, "invalid UNTIL %q", value)
			}
			out.Until = &u
		case "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return domain.Recurrence{}, malformed(expr, "invalid COUNT %q", value)
			}
			out.Count = &n
		}
	}

	if out.Pattern == "" {
		return domain.Recurrence{}, malformed(expr, "missing FREQ")
	}
	return out, nil
}

func ruleLine(expr string) (string, bool) {
	for _, line := range strings.FieldsFunc(expr, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "RRULE:"):
			return line[len("RRULE:"):], true
		case strings.HasPrefix(upper, "EXDATE"), strings.HasPrefix(upper, "RDATE"), strings.HasPrefix(upper, "EXRULE"):
			continue
		case strings.Contains(line, "="):
			return line, true
		}
	}
	return "", false
}

func parseFreq(expr, value string) (domain.RecurrencePattern, error) {
	switch strings.ToUpper(value) {
	case "DAILY":
		return domain.RecurrenceDaily, nil
	case "WEEKLY":
		return domain.RecurrenceWeekly, nil
	case "MONTHLY":
		return domain.RecurrenceMonthly, nil
	case "YEARLY":
		return domain.RecurrenceYearly, nil
	}
	return "", malformed(expr, "unsupported FREQ %q", value)
}

// parseByDay drops ordinal prefixes such as "2MO" or "-1FR"; the internal
// rule only records which weekdays repeat.
func parseByDay(expr, value string) ([]int16, error) {
	var days []int16
	for _, tok := range strings.Split(value, ",") {
		tok = strings.ToUpper(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		code := strings.TrimLeft(tok, "+-0123456789")
		d, ok := weekdayCodes[code]
		if !ok {
			return nil, malformed(expr, "invalid BYDAY %q", tok)
		}
		if !slices.Contains(days, d) {
			days = append(days, d)
		}
	}
	slices.Sort(days)
	return days, nil
}

func parseUntil(value string) (time.Time, error) {
	var lastErr error
	for _, layout := range untilLayouts {
		t, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// Format renders r as an RRULE value without the "RRULE:" prefix. A
// non-recurring rule renders as "".
func Format(r domain.Recurrence) string {
	if !r.IsRecurring() {
		return ""
	}
	parts := []string{"FREQ=" + strings.ToUpper(string(r.Pattern))}
	if r.Interval > 1 {
		parts = append(parts, "INTERVAL="+strconv.Itoa(r.Interval))
	}
	if len(r.Days) > 0 {
		codes := make([]string, 0, len(r.Days))
		for _, d := range r.Days {
			for code, n := range weekdayCodes {
				if n == d {
					codes = append(codes, code)
					break
				}
			}
		}
		parts = append(parts, "BYDAY="+strings.Join(codes, ","))
	}
	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}
	if r.Count != nil {
		parts = append(parts, "COUNT="+strconv.Itoa(*r.Count))
	}
	return strings.Join(parts, ";")
}
