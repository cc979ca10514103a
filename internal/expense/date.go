package expense

import (
	"fmt"
	"strings"
	"time"
)

// dateLayouts are the accepted absolute formats, tried in order. Slash
// dates are read month first, dotted and dashed dates day first.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"01/02/2006",
	"1/2/2006",
	"02.01.2006",
	"2.1.2006",
	"02-01-2006",
	"2 Jan 2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"January 2 2006",
	"Mon, 2 Jan 2006",
	"Monday, January 2, 2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// civilDate returns midnight UTC of t's calendar date in t's own location
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// resolveDate turns an absolute or relative date into a calendar date.
// Relative terms are anchored on receivedAt; a weekday name means its most
// recent occurrence strictly before the day the message was received.
func resolveDate(raw string, receivedAt time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("no date")
	}
	anchor := civilDate(receivedAt)

	phrase := strings.ToLower(strings.Join(strings.Fields(strings.TrimSuffix(raw, ".")), " "))
	switch phrase {
	case "today", "now", "tonight", "this morning", "this afternoon", "this evening":
		return anchor, nil
	case "yesterday", "last night":
		return anchor.AddDate(0, 0, -1), nil
	case "day before yesterday", "the day before yesterday":
		return anchor.AddDate(0, 0, -2), nil
	}

	phrase = strings.TrimPrefix(phrase, "last ")
	phrase = strings.TrimPrefix(phrase, "on ")
	if wd, ok := weekdays[phrase]; ok {
		back := (int(anchor.Weekday()) - int(wd) + 7) % 7
		if back == 0 {
			back = 7
		}
		return anchor.AddDate(0, 0, -back), nil
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return civilDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}
