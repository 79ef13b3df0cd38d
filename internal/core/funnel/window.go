package funnel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Interval units shared by the conversion window and the trends entrance period.
const (
	UnitSecond = "second"
	UnitMinute = "minute"
	UnitHour   = "hour"
	UnitDay    = "day"
	UnitWeek   = "week"
	UnitMonth  = "month"
)

// WindowSpec is the maximum elapsed time allowed between entering the funnel
// and completing any subsequent step. It applies uniformly between every pair
// of adjacent steps.
type WindowSpec struct {
	Value int    `json:"value"`
	Unit  string `json:"unit"`
}

// ParseWindow parses a window string like "14 day" or "24 hours".
// A trailing "s" on the unit is accepted.
func ParseWindow(s string) (WindowSpec, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) != 2 {
		return WindowSpec{}, fmt.Errorf("invalid window %q: expected \"<value> <unit>\"", s)
	}
	value, err := strconv.Atoi(fields[0])
	if err != nil {
		return WindowSpec{}, fmt.Errorf("invalid window value %q: %w", fields[0], err)
	}
	w := WindowSpec{Value: value, Unit: strings.TrimSuffix(fields[1], "s")}
	if err := w.validate(); err != nil {
		return WindowSpec{}, err
	}
	return w, nil
}

func (w WindowSpec) validate() error {
	if w.Value <= 0 {
		return fmt.Errorf("window value must be positive, got %d", w.Value)
	}
	switch w.Unit {
	case UnitSecond, UnitMinute, UnitHour, UnitDay, UnitWeek, UnitMonth:
		return nil
	default:
		return fmt.Errorf("unsupported window unit %q", w.Unit)
	}
}

// Duration returns the window as a fixed duration.
// A month is fixed to 30 days for window arithmetic; calendar months only
// matter for entrance-period truncation, not for conversion deadlines.
func (w WindowSpec) Duration() time.Duration {
	switch w.Unit {
	case UnitSecond:
		return time.Duration(w.Value) * time.Second
	case UnitMinute:
		return time.Duration(w.Value) * time.Minute
	case UnitHour:
		return time.Duration(w.Value) * time.Hour
	case UnitDay:
		return time.Duration(w.Value) * 24 * time.Hour
	case UnitWeek:
		return time.Duration(w.Value) * 7 * 24 * time.Hour
	case UnitMonth:
		return time.Duration(w.Value) * 30 * 24 * time.Hour
	default:
		return 0
	}
}

func (w WindowSpec) String() string {
	return fmt.Sprintf("%d %s", w.Value, w.Unit)
}

// TruncatePeriod truncates a timestamp to the start of its entrance period.
// All truncation happens in UTC. Weeks start on Monday; months are calendar
// months.
func TruncatePeriod(t time.Time, unit string) time.Time {
	t = t.UTC()
	switch unit {
	case UnitHour:
		return t.Truncate(time.Hour)
	case UnitDay:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case UnitWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case UnitMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}

// NextPeriod advances a period start by one interval unit.
func NextPeriod(t time.Time, unit string) time.Time {
	switch unit {
	case UnitHour:
		return t.Add(time.Hour)
	case UnitDay:
		return t.AddDate(0, 0, 1)
	case UnitWeek:
		return t.AddDate(0, 0, 7)
	case UnitMonth:
		return t.AddDate(0, 1, 0)
	default:
		return t
	}
}
