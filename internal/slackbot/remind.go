package slackbot

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// errUnparseableReminder signals that the leading tokens of a /dona-remind
// invocation did not look like a time.
var errUnparseableReminder = errors.New("could not parse reminder time")

// defaultReminderHour is used for "mañana" without an explicit time.
const defaultReminderHour = 9

var clockRe = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(am|pm)?$`)
var compactDelayRe = regexp.MustCompile(`^(\d+)(m|min|h)$`)

// ParseReminder splits "/dona-remind [when] [message]" text into a concrete
// time and the message. Supported forms:
//
//	in 10m ...   /  en 2h ...
//	en 30 minutos ...  /  in 2 hours ...
//	15:30 ...  /  10am ...        (today, or tomorrow when already past)
//	mañana ...  /  tomorrow 10am ...   (9:00 when no time given)
func ParseReminder(text string, now time.Time) (time.Time, string, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return time.Time{}, "", errUnparseableReminder
	}

	switch strings.ToLower(fields[0]) {
	case "in", "en":
		return parseRelativeReminder(fields, now)
	case "mañana", "manana", "tomorrow":
		return parseTomorrowReminder(fields, now)
	}

	// A leading clock time needs a colon or am/pm suffix; a bare number
	// could just as well start the message.
	if hour, minute, ok := parseClock(fields[0], false); ok {
		if len(fields) < 2 {
			return time.Time{}, "", errUnparseableReminder
		}
		when := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
		if !when.After(now) {
			when = when.AddDate(0, 0, 1)
		}
		return when, strings.Join(fields[1:], " "), nil
	}

	return time.Time{}, "", errUnparseableReminder
}

func parseRelativeReminder(fields []string, now time.Time) (time.Time, string, error) {
	if len(fields) >= 3 {
		if m := compactDelayRe.FindStringSubmatch(strings.ToLower(fields[1])); m != nil {
			n, _ := strconv.Atoi(m[1])
			unit := time.Minute
			if m[2] == "h" {
				unit = time.Hour
			}
			return now.Add(time.Duration(n) * unit), strings.Join(fields[2:], " "), nil
		}
	}
	if len(fields) >= 4 {
		n, err := strconv.Atoi(fields[1])
		if err == nil && n > 0 {
			if unit, ok := delayUnit(fields[2]); ok {
				return now.Add(time.Duration(n) * unit), strings.Join(fields[3:], " "), nil
			}
		}
	}
	return time.Time{}, "", errUnparseableReminder
}

func parseTomorrowReminder(fields []string, now time.Time) (time.Time, string, error) {
	if len(fields) < 2 {
		return time.Time{}, "", errUnparseableReminder
	}
	day := now.AddDate(0, 0, 1)

	if hour, minute, ok := parseClock(fields[1], true); ok {
		if len(fields) < 3 {
			return time.Time{}, "", errUnparseableReminder
		}
		when := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, now.Location())
		return when, strings.Join(fields[2:], " "), nil
	}

	when := time.Date(day.Year(), day.Month(), day.Day(), defaultReminderHour, 0, 0, 0, now.Location())
	return when, strings.Join(fields[1:], " "), nil
}

func delayUnit(tok string) (time.Duration, bool) {
	switch strings.ToLower(tok) {
	case "minuto", "minutos", "minute", "minutes", "min":
		return time.Minute, true
	case "hora", "horas", "hour", "hours":
		return time.Hour, true
	}
	return 0, false
}

// parseClock reads "15:30", "10am", "10:30pm" and, when bareHourOK, a plain
// "10". Returns a 24h hour and minute.
func parseClock(tok string, bareHourOK bool) (int, int, bool) {
	m := clockRe.FindStringSubmatch(strings.ToLower(tok))
	if m == nil {
		return 0, 0, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	suffix := m[3]

	if suffix == "" && m[2] == "" && !bareHourOK {
		return 0, 0, false
	}
	if minute > 59 {
		return 0, 0, false
	}
	switch suffix {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}

// formatReminderTime renders when a reminder will fire, relative to now.
func formatReminderTime(when, now time.Time) string {
	clock := when.Format("15:04")
	switch {
	case when.Year() == now.Year() && when.YearDay() == now.YearDay():
		return "hoy a las " + clock
	case isTomorrow(when, now):
		return "mañana a las " + clock
	default:
		return fmt.Sprintf("el %s a las %s", when.Format("02-01-2006"), clock)
	}
}

func isTomorrow(when, now time.Time) bool {
	next := now.AddDate(0, 0, 1)
	return when.Year() == next.Year() && when.YearDay() == next.YearDay()
}
