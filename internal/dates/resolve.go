// Package dates resolves free-form due-date expressions to absolute calendar dates.
package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	Time    time.Time
	HasTime bool
}

var (
	inRe      = regexp.MustCompile(`^in (\d+) (day|days|week|weeks|month|months)$`)
	clockRe   = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
	digitOnly = regexp.MustCompile(`^\d+$`)
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Resolve turns expr into an absolute date relative to now.
//
// Relative words ("today", "tomorrow", weekday names, "next week", "next month",
// "in 3 days") are resolved against now's calendar day. A bare weekday means the
// next occurrence on or after today; "next <weekday>" is strictly after today.
// A trailing clock ("tomorrow 14:30", "fri 3pm") attaches a time. Anything else is
// handed to dateparse for absolute formats such as ISO dates.
func Resolve(expr string, now time.Time) (Resolved, error) {
	raw := strings.TrimSpace(expr)
	lower := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	if lower == "" {
		return Resolved{}, fmt.Errorf("dates: empty expression")
	}

	if day, ok := relativeDay(lower, now); ok {
		return Resolved{Time: day}, nil
	}

	// "<relative> <clock>"
	if i := strings.LastIndex(lower, " "); i > 0 {
		if day, ok := relativeDay(lower[:i], now); ok {
			if h, m, ok := parseClock(lower[i+1:]); ok {
				return Resolved{
					Time:    time.Date(day.Year(), day.Month(), day.Day(), h, m, 0, 0, now.Location()),
					HasTime: true,
				}, nil
			}
		}
	}

	if digitOnly.MatchString(lower) && len(lower) < 8 {
		return Resolved{}, fmt.Errorf("dates: cannot resolve %q", raw)
	}
	t, err := dateparse.ParseIn(raw, now.Location())
	if err != nil {
		return Resolved{}, fmt.Errorf("dates: cannot resolve %q: %w", raw, err)
	}
	hasTime := t.Hour() != 0 || t.Minute() != 0 || t.Second() != 0 || strings.Contains(raw, ":")
	if !hasTime {
		t = startOfDay(t)
	}
	return Resolved{Time: t, HasTime: hasTime}, nil
}

func relativeDay(s string, now time.Time) (time.Time, bool) {
	today := startOfDay(now)
	switch s {
	case "today", "tonight", "now":
		return today, true
	case "tomorrow", "tmrw", "tmr":
		return today.AddDate(0, 0, 1), true
	case "yesterday":
		return today.AddDate(0, 0, -1), true
	case "next week":
		return nextWeekday(today, time.Monday, true), true
	case "next month":
		return time.Date(today.Year(), today.Month()+1, 1, 0, 0, 0, 0, today.Location()), true
	case "next year":
		return time.Date(today.Year()+1, time.January, 1, 0, 0, 0, 0, today.Location()), true
	}
	if wd, ok := weekdays[s]; ok {
		return nextWeekday(today, wd, false), true
	}
	if rest, ok := strings.CutPrefix(s, "next "); ok {
		if wd, ok := weekdays[rest]; ok {
			return nextWeekday(today, wd, true), true
		}
	}
	if rest, ok := strings.CutPrefix(s, "this "); ok {
		if wd, ok := weekdays[rest]; ok {
			return nextWeekday(today, wd, false), true
		}
	}
	if m := inRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		switch strings.TrimSuffix(m[2], "s") {
		case "day":
			return today.AddDate(0, 0, n), true
		case "week":
			return today.AddDate(0, 0, 7*n), true
		case "month":
			return today.AddDate(0, n, 0), true
		}
	}
	return time.Time{}, false
}

func nextWeekday(today time.Time, wd time.Weekday, strict bool) time.Time {
	ahead := (int(wd) - int(today.Weekday()) + 7) % 7
	if ahead == 0 && strict {
		ahead = 7
	}
	return today.AddDate(0, 0, ahead)
}

func parseClock(s string) (int, int, bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, 0, false
	}
	// A bare number is a day-of-month, not a clock.
	if m[2] == "" && m[3] == "" {
		return 0, 0, false
	}
	h, _ := strconv.Atoi(m[1])
	min := 0
	if m[2] != "" {
		min, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "am":
		if h == 12 {
			h = 0
		}
	case "pm":
		if h < 12 {
			h += 12
		}
	}
	if h > 23 || min > 59 {
		return 0, 0, false
	}
	return h, min, true
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
