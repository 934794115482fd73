package record

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultExportCron fires at minute 0 of hours 0 and 12 UTC.
const DefaultExportCron = "0 0,12 * * *"

// Schedule is a parsed 5-field cron expression
// ("minute hour day-of-month month day-of-week") evaluated in UTC.
type Schedule struct {
	expr       string
	minute     field
	hour       field
	dayOfMonth field
	month      field
	dayOfWeek  field
}

type field struct {
	any    bool
	values map[int]struct{}
}

func (f field) matches(v int) bool {
	if f.any {
		return true
	}
	_, ok := f.values[v]
	return ok
}

// ParseSchedule parses expr. Each field accepts "*", a value, a range "a-b",
// a step "*/n" or "a-b/n", and comma-separated lists of those.
func ParseSchedule(expr string) (Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return Schedule{}, fmt.Errorf("record: cron %q: want 5 fields, got %d", expr, len(parts))
	}
	bounds := [5][2]int{{0, 59}, {0, 23}, {1, 31}, {1, 12}, {0, 6}}
	names := [5]string{"minute", "hour", "day-of-month", "month", "day-of-week"}

	var fields [5]field
	for i, p := range parts {
		f, err := parseField(p, bounds[i][0], bounds[i][1])
		if err != nil {
			return Schedule{}, fmt.Errorf("record: cron %q: %s field: %w", expr, names[i], err)
		}
		fields[i] = f
	}
	return Schedule{
		expr:       expr,
		minute:     fields[0],
		hour:       fields[1],
		dayOfMonth: fields[2],
		month:      fields[3],
		dayOfWeek:  fields[4],
	}, nil
}

func parseField(s string, lo, hi int) (field, error) {
	if s == "*" {
		return field{any: true}, nil
	}
	f := field{values: make(map[int]struct{})}
	for _, term := range strings.Split(s, ",") {
		term = strings.TrimSpace(term)
		step := 1
		if rng, st, ok := strings.Cut(term, "/"); ok {
			n, err := strconv.Atoi(st)
			if err != nil || n <= 0 {
				return field{}, fmt.Errorf("invalid step %q", st)
			}
			step, term = n, rng
		}

		from, to := lo, hi
		switch {
		case term == "*":
		case strings.Contains(term, "-"):
			a, b, _ := strings.Cut(term, "-")
			var err error
			if from, err = strconv.Atoi(a); err != nil {
				return field{}, fmt.Errorf("invalid value %q", a)
			}
			if to, err = strconv.Atoi(b); err != nil {
				return field{}, fmt.Errorf("invalid value %q", b)
			}
		default:
			v, err := strconv.Atoi(term)
			if err != nil {
				return field{}, fmt.Errorf("invalid value %q", term)
			}
			from, to = v, v
		}
		if from < lo || to > hi || from > to {
			return field{}, fmt.Errorf("%q out of range %d-%d", term, lo, hi)
		}
		for v := from; v <= to; v += step {
			f.values[v] = struct{}{}
		}
	}
	return f, nil
}

// String returns the expression the schedule was parsed from.
func (s Schedule) String() string { return s.expr }

// Matches reports whether the minute containing t is a scheduled minute.
func (s Schedule) Matches(t time.Time) bool {
	t = t.UTC()
	return s.minute.matches(t.Minute()) &&
		s.hour.matches(t.Hour()) &&
		s.dayOfMonth.matches(t.Day()) &&
		s.month.matches(int(t.Month())) &&
		s.dayOfWeek.matches(int(t.Weekday()))
}

// Next returns the first scheduled minute strictly after t, searching up to
// one year ahead.
func (s Schedule) Next(t time.Time) (time.Time, bool) {
	candidate := t.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := candidate.Add(366 * 24 * time.Hour)
	for candidate.Before(limit) {
		if s.Matches(candidate) {
			return candidate, true
		}
		candidate = candidate.Add(time.Minute)
	}
	return time.Time{}, false
}
