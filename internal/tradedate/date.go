// Package tradedate handles YYYYMMDD date strings and the trading calendar.
package tradedate

import (
	"fmt"
	"strings"
	"time"
)

// Layout is the storage format of every date in the system
const Layout = "20060102"

const dashedLayout = "2006-01-02"

// Parse accepts YYYYMMDD or YYYY-MM-DD
func Parse(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	layout := Layout
	if strings.Contains(s, "-") {
		layout = dashedLayout
	}
	t, err := time.ParseInLocation(layout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// Format renders t as YYYYMMDD
func Format(t time.Time) string {
	return t.Format(Layout)
}

// Normalize converts an accepted date string to YYYYMMDD. Empty stays empty.
func Normalize(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t), nil
}

// Today returns the calendar date of now as YYYYMMDD
func Today(now time.Time) string {
	return Format(now)
}

// AddDays shifts a date by n calendar days
func AddDays(s string, n int) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return Format(t.AddDate(0, 0, n)), nil
}

// Range returns every calendar day in [start, end]
func Range(start, end string) ([]string, error) {
	return collect(start, end, func(time.Time) bool { return true })
}

// Weekdays returns Monday to Friday dates in [start, end]
func Weekdays(start, end string) ([]string, error) {
	return collect(start, end, func(t time.Time) bool {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	})
}

func collect(start, end string, keep func(time.Time) bool) ([]string, error) {
	s, err := Parse(start)
	if err != nil {
		return nil, err
	}
	e, err := Parse(end)
	if err != nil {
		return nil, err
	}

	var dates []string
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		if keep(d) {
			dates = append(dates, Format(d))
		}
	}
	return dates, nil
}
