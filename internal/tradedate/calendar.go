package tradedate

import (
	"errors"
	"sort"
)

// ErrCalendarRange is returned when an offset runs past the loaded calendar
var ErrCalendarRange = errors.New("date offset outside trading calendar")

// Calendar is an ordered set of open trading days
type Calendar struct {
	days []string
}

// NewCalendar builds a calendar from open days in any order
func NewCalendar(days []string) *Calendar {
	seen := make(map[string]bool, len(days))
	sorted := make([]string, 0, len(days))
	for _, d := range days {
		if d != "" && !seen[d] {
			seen[d] = true
			sorted = append(sorted, d)
		}
	}
	sort.Strings(sorted)
	return &Calendar{days: sorted}
}

// IsLoaded reports whether the calendar holds any trading days
func (c *Calendar) IsLoaded() bool {
	return c != nil && len(c.days) > 0
}

// Len returns the number of trading days
func (c *Calendar) Len() int {
	if c == nil {
		return 0
	}
	return len(c.days)
}

// IsTradingDay reports whether date is an open day
func (c *Calendar) IsTradingDay(date string) bool {
	if !c.IsLoaded() {
		return false
	}
	i := sort.SearchStrings(c.days, date)
	return i < len(c.days) && c.days[i] == date
}

// Between returns the trading days in [start, end]
func (c *Calendar) Between(start, end string) []string {
	if !c.IsLoaded() || start > end {
		return nil
	}
	lo := sort.SearchStrings(c.days, start)
	hi := sort.Search(len(c.days), func(i int) bool { return c.days[i] > end })
	return append([]string(nil), c.days[lo:hi]...)
}

// Offset moves n trading days from date. A negative n counts open days strictly
// before date, a positive n counts open days strictly after it.
func (c *Calendar) Offset(date string, n int) (string, error) {
	if !c.IsLoaded() {
		return "", ErrCalendarRange
	}
	if n == 0 {
		return date, nil
	}

	var idx int
	if n < 0 {
		// index of the first open day >= date, stepping back |n|
		idx = sort.SearchStrings(c.days, date) + n
	} else {
		// index of the last open day <= date, stepping forward n
		idx = sort.Search(len(c.days), func(i int) bool { return c.days[i] > date }) - 1 + n
	}

	if idx < 0 || idx >= len(c.days) {
		return "", ErrCalendarRange
	}
	return c.days[idx], nil
}

// OffsetOrApprox offsets by trading days, falling back to int(|n|*1.5) calendar
// days when the calendar is empty or too short. exact reports which one was used.
func (c *Calendar) OffsetOrApprox(date string, n int) (result string, exact bool, err error) {
	if d, offErr := c.Offset(date, n); offErr == nil {
		return d, true, nil
	}

	approx := int(float64(abs(n)) * 1.5)
	if n < 0 {
		approx = -approx
	}
	d, err := AddDays(date, approx)
	return d, false, err
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
