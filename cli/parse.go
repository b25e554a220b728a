// ABOUTME: Date and time parsing for command line flags
// ABOUTME: Accepts YYYY-MM-DD, RFC3339, relative day names and an optional HH:MM suffix
package cli

import (
	"fmt"
	"strings"
	"time"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// parseDay parses a calendar day relative to now.
// Supports: YYYY-MM-DD, "today", "tomorrow", "yesterday", weekday names
func parseDay(s string, now time.Time) (time.Time, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	switch s {
	case "today":
		return today, nil
	case "tomorrow":
		return today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	}

	// "next friday" and "friday" both mean the coming one.
	if wd, ok := weekdays[strings.TrimPrefix(s, "next ")]; ok {
		daysUntil := int(wd - today.Weekday())
		if daysUntil <= 0 {
			daysUntil += 7
		}
		return today.AddDate(0, 0, daysUntil), nil
	}

	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s (use YYYY-MM-DD, 'today', 'tomorrow', or weekday names)", s)
}

// parseWhen parses a point in time. It reports dateOnly when no time of day
// was given, which makes the event all-day.
func parseWhen(s string, now time.Time) (t time.Time, dateOnly bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty time")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04", s, now.Location()); err == nil {
		return t, false, nil
	}

	day, clock := s, ""
	if i := strings.LastIndex(s, " "); i > 0 {
		if _, err := time.Parse("15:04", s[i+1:]); err == nil {
			day, clock = s[:i], s[i+1:]
		}
	}

	d, err := parseDay(day, now)
	if err != nil {
		return time.Time{}, false, err
	}
	if clock == "" {
		return d, true, nil
	}
	hm, _ := time.Parse("15:04", clock)
	return d.Add(time.Duration(hm.Hour())*time.Hour + time.Duration(hm.Minute())*time.Minute), false, nil
}
