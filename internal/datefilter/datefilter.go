// Package datefilter builds the backend's createTime filter expressions
// from either a relative day-window or an explicit calendar-day range.
//
// Grounded on original_source's utils/datetime.py: the same trailing-zero
// trim, quoting, and strict-inequality rules, reworked into Go's time
// package instead of strftime/rstrip string surgery.
package datefilter

import (
	"fmt"
	"time"

	"github.com/rakunlabs/chatgate/internal/chatmodel"
	"github.com/rakunlabs/chatgate/internal/errs"
)

const dayLayout = "2006-01-02"

// Window is one of the two equivalent DateWindow representations from
// spec.md §3: either (DaysWindow, Offset) or explicit (StartDate, EndDate).
type Window struct {
	DaysWindow int
	Offset     int

	StartDate string // YYYY-MM-DD
	EndDate   string // YYYY-MM-DD, optional
}

// Relative builds a Window from a day count and an offset in days from now.
func Relative(daysWindow, offset int) Window {
	return Window{DaysWindow: daysWindow, Offset: offset}
}

// Absolute builds a Window from explicit calendar days.
func Absolute(start, end string) Window {
	return Window{StartDate: start, EndDate: end}
}

// Build renders w into the backend's filter grammar:
//
//	createTime > "{startRFC}" AND createTime < "{endRFC}"
//
// or, when only a start bound exists, the open-ended
//
//	createTime > "{startRFC}"
//
// Returns "" when w has no bounds at all (days_window == 0 and no start
// date), matching create_date_filter's "not start_date → None" behavior.
func Build(w Window, now time.Time) (string, error) {
	if w.DaysWindow > 0 {
		end := dayStart(now.AddDate(0, 0, -w.Offset))
		start := dayStart(end.AddDate(0, 0, -w.DaysWindow))
		endOfEnd := dayEnd(end)
		return filterString(start, &endOfEnd), nil
	}

	if w.StartDate == "" {
		return "", nil
	}

	start, err := parseDay(w.StartDate, dayStart)
	if err != nil {
		return "", errs.Wrap(errs.KindInvalidDate, fmt.Sprintf("start_date %q", w.StartDate), err)
	}

	if w.EndDate == "" {
		return filterString(start, nil), nil
	}

	end, err := parseDay(w.EndDate, dayEnd)
	if err != nil {
		return "", errs.Wrap(errs.KindInvalidDate, fmt.Sprintf("end_date %q", w.EndDate), err)
	}
	if end.Before(start) {
		return "", errs.New(errs.KindInvalidDate, fmt.Sprintf("end_date %q before start_date %q", w.EndDate, w.StartDate))
	}

	return filterString(start, &end), nil
}

func parseDay(s string, boundary func(time.Time) time.Time) (time.Time, error) {
	t, err := time.ParseInLocation(dayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be in YYYY-MM-DD format: %w", s, err)
	}
	return boundary(t), nil
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func dayEnd(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 999999000, time.UTC)
}

func filterString(start time.Time, end *time.Time) string {
	startStr := chatmodel.FormatRFC3339(start)
	if end == nil {
		return fmt.Sprintf(`createTime > %q`, startStr)
	}
	endStr := chatmodel.FormatRFC3339(*end)
	return fmt.Sprintf(`createTime > %q AND createTime < %q`, startStr, endStr)
}

// And AND-combines two non-empty filter expressions, returning whichever
// side is non-empty when the other is blank.
func And(a, b string) string {
	switch {
	case a == "" && b == "":
		return ""
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " AND " + b
	}
}
