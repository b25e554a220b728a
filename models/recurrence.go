// ABOUTME: Mapping between recurrence tags and RFC 5545 recurrence lines
// ABOUTME: Uses rrule-go to validate custom rules; expansion is left to the remote calendar
package models

import (
	"fmt"
	"strings"

	"github.com/teambition/rrule-go"
)

const rrulePrefix = "RRULE:"

var tagFrequencies = map[Recurrence]rrule.Frequency{
	RecurrenceDaily:   rrule.DAILY,
	RecurrenceWeekly:  rrule.WEEKLY,
	RecurrenceMonthly: rrule.MONTHLY,
	RecurrenceYearly:  rrule.YEARLY,
}

var frequencyNames = map[rrule.Frequency]string{
	rrule.DAILY:   "DAILY",
	rrule.WEEKLY:  "WEEKLY",
	rrule.MONTHLY: "MONTHLY",
	rrule.YEARLY:  "YEARLY",
}

// ValidateRule checks every RRULE line of a custom rule. Other lines (EXDATE,
// RDATE) are carried through untouched.
func ValidateRule(rule string) error {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return fmt.Errorf("custom recurrence requires a rule")
	}
	found := false
	for _, line := range splitLines(rule) {
		body, ok := cutRRule(line)
		if !ok {
			continue
		}
		found = true
		if _, err := rrule.StrToROption(body); err != nil {
			return fmt.Errorf("invalid recurrence rule %q: %w", line, err)
		}
	}
	if !found {
		return fmt.Errorf("custom recurrence %q has no RRULE line", rule)
	}
	return nil
}

// RecurrenceLines returns the recurrence lines sent to the remote calendar.
func (e *CalendarEvent) RecurrenceLines() []string {
	switch e.Recurrence {
	case "", RecurrenceNone:
		return nil
	case RecurrenceCustom:
		var lines []string
		for _, line := range splitLines(e.RecurrenceRule) {
			if strings.HasPrefix(strings.ToUpper(line), "FREQ=") {
				line = rrulePrefix + line
			}
			lines = append(lines, line)
		}
		return lines
	}
	freq, ok := tagFrequencies[e.Recurrence]
	if !ok {
		return nil
	}
	return []string{rrulePrefix + "FREQ=" + frequencyNames[freq]}
}

// ParseRecurrenceLines maps remote recurrence lines back to a tag. Anything
// richer than a bare FREQ becomes a custom rule holding the original lines.
func ParseRecurrenceLines(lines []string) (Recurrence, string) {
	if len(lines) == 0 {
		return RecurrenceNone, ""
	}
	raw := strings.Join(lines, "\n")
	if len(lines) != 1 {
		return RecurrenceCustom, raw
	}
	body, ok := cutRRule(lines[0])
	if !ok {
		return RecurrenceCustom, raw
	}
	opt, err := rrule.StrToROption(body)
	if err != nil {
		return RecurrenceCustom, raw
	}
	for tag, freq := range tagFrequencies {
		if opt.Freq == freq && strings.EqualFold(body, "FREQ="+frequencyNames[freq]) {
			return tag, ""
		}
	}
	return RecurrenceCustom, raw
}

func cutRRule(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if len(line) >= len(rrulePrefix) && strings.EqualFold(line[:len(rrulePrefix)], rrulePrefix) {
		return line[len(rrulePrefix):], true
	}
	if strings.HasPrefix(strings.ToUpper(line), "FREQ=") {
		return line, true
	}
	return "", false
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
