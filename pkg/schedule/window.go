// Package schedule turns a booking's calendar date, free-text start time and
// duration into concrete instants. Every "has it started yet" decision in
// the sessions service goes through ComputeWindow.
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// CoordinationLead is how long before the session start live location
// exchange opens.
const CoordinationLead = 10 * time.Minute

const DateLayout = "2006-01-02"

type Window struct {
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	CoordinationOpensAt time.Time `json:"coordination_opens_at"`
}

// Started reports start <= now.
func (w Window) Started(now time.Time) bool {
	return !now.Before(w.Start)
}

// Ended reports end <= now.
func (w Window) Ended(now time.Time) bool {
	return !now.Before(w.End)
}

// InSession reports start <= now < end.
func (w Window) InSession(now time.Time) bool {
	return w.Started(now) && !w.Ended(now)
}

// CoordinationOpen reports coordinationOpensAt <= now < end.
func (w Window) CoordinationOpen(now time.Time) bool {
	return !now.Before(w.CoordinationOpensAt) && now.Before(w.End)
}

// accepts "14:00", "9:05", "14:00:00", "2:00 PM", "2:00pm", "2:00 p.m."
var clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2}))?\s*(?:([AaPp])\.?\s*[Mm]\.?)?$`)

// ParseClock extracts hour and minute from a loosely formatted time of day.
// Without an AM/PM marker the value is read as 24-hour time.
func ParseClock(s string) (hour, minute int, ok bool) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if minute > 59 {
		return 0, 0, false
	}
	if m[3] != "" {
		if sec, _ := strconv.Atoi(m[3]); sec > 59 {
			return 0, 0, false
		}
	}

	switch strings.ToUpper(m[4]) {
	case "":
		if hour > 23 {
			return 0, 0, false
		}
	case "A":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "P":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	}
	return hour, minute, true
}

// NormalizeClock rewrites a parseable time of day as "HH:MM".
func NormalizeClock(s string) (string, bool) {
	h, m, ok := ParseClock(s)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", h, m), true
}

// ParseDate reads a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// ComputeWindow is pure: the same inputs always give the same window. Only
// the year, month and day of date are used; the wall clock is placed in loc.
// ok is false when the clock string cannot be parsed or the duration is not
// positive.
func ComputeWindow(date time.Time, clock string, durationHours float64, loc *time.Location) (Window, bool) {
	h, m, ok := ParseClock(clock)
	if !ok || durationHours <= 0 {
		return Window{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	y, mo, d := date.Date()
	start := time.Date(y, mo, d, h, m, 0, 0, loc)
	end := start.Add(time.Duration(durationHours * float64(time.Hour)))
	return Window{
		Start:               start,
		End:                 end,
		CoordinationOpensAt: start.Add(-CoordinationLead),
	}, true
}
