package calendar

import (
	"fmt"
	"time"
)

// KeyLayout is the canonical date key format.
const KeyLayout = "2006-01-02"

// InvalidDateError is returned for malformed date keys or arithmetic input.
type InvalidDateError struct {
	Value  string
	Reason string
}

func (e *InvalidDateError) Error() string {
	return fmt.Sprintf("invalid date %q: %s", e.Value, e.Reason)
}

// Clock is the source of the current instant.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// FixedClock always reports the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// Region is the deployment's single configured timezone.
type Region struct {
	loc   *time.Location
	clock Clock
}

// NewRegion loads the IANA zone name. A nil clock uses the system clock.
func NewRegion(name string, clock Clock) (*Region, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load region %q: %w", name, err)
	}
	return NewRegionIn(loc, clock), nil
}

func NewRegionIn(loc *time.Location, clock Clock) *Region {
	if clock == nil {
		clock = systemClock{}
	}
	return &Region{loc: loc, clock: clock}
}

func (r *Region) Location() *time.Location { return r.loc }

// Today returns the current date key in the region, not in UTC or the
// server's local zone.
func (r *Region) Today() string {
	return r.KeyOf(r.clock.Now())
}

// KeyOf converts an instant to the region's date key.
func (r *Region) KeyOf(t time.Time) string {
	return t.In(r.loc).Format(KeyLayout)
}

// At returns the instant of a wall-clock time ("HH:MM", may be empty for
// midnight) on the given date in the region.
func (r *Region) At(key, clock string) (time.Time, error) {
	d, err := ParseKey(key)
	if err != nil {
		return time.Time{}, err
	}
	hour, min := 0, 0
	if clock != "" {
		t, err := time.Parse("15:04", clock)
		if err != nil {
			return time.Time{}, &InvalidDateError{Value: clock, Reason: "time must be HH:MM"}
		}
		hour, min = t.Hour(), t.Minute()
	}
	return time.Date(d.Year(), d.Month(), d.Day(), hour, min, 0, 0, r.loc), nil
}

const secondsPerDay = 24 * 60 * 60

// ParseKey parses a date key into a UTC midnight. Civil dates live on UTC
// midnights so DST transitions never shift a day.
func ParseKey(key string) (time.Time, error) {
	t, err := time.Parse(KeyLayout, key)
	if err != nil {
		return time.Time{}, &InvalidDateError{Value: key, Reason: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func FormatKey(t time.Time) string {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Format(KeyLayout)
}

func ValidKey(key string) bool {
	_, err := ParseKey(key)
	return err == nil
}

func AddDays(key string, n int) (string, error) {
	t, err := ParseKey(key)
	if err != nil {
		return "", err
	}
	return FormatKey(t.AddDate(0, 0, n)), nil
}

func Weekday(key string) (time.Weekday, error) {
	t, err := ParseKey(key)
	if err != nil {
		return 0, err
	}
	return t.Weekday(), nil
}

// Compare orders two valid keys. Keys are zero-padded so string order is
// calendar order.
func Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Within reports whether key falls in [start, end] inclusive.
func Within(key, start, end string) bool {
	return key >= start && key <= end
}

// DaysBetween counts whole days from one key to another. Keys sit on UTC
// midnights, so the Unix difference is an exact multiple of a day.
func DaysBetween(from, to string) (int, error) {
	a, err := ParseKey(from)
	if err != nil {
		return 0, err
	}
	b, err := ParseKey(to)
	if err != nil {
		return 0, err
	}
	return int((b.Unix() - a.Unix()) / secondsPerDay), nil
}

// NthWeekday returns the n-th (1-based) given weekday of a month. ok is false
// when the n-th weekday would fall into the following month.
func NthWeekday(year int, month time.Month, wd time.Weekday, n int) (string, bool) {
	if n < 1 {
		return "", false
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	offset := (int(wd) - int(first.Weekday()) + 7) % 7
	d := first.AddDate(0, 0, offset+(n-1)*7)
	if d.Month() != month {
		return "", false
	}
	return FormatKey(d), true
}

// OrdinalInMonth returns which occurrence of its weekday the date is within
// its month (1 for days 1-7, 2 for 8-14, ...).
func OrdinalInMonth(key string) (int, error) {
	t, err := ParseKey(key)
	if err != nil {
		return 0, err
	}
	return (t.Day()-1)/7 + 1, nil
}
