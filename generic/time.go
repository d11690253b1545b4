package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// TIME POINT - Calendar date used for effective dating
// =============================================================================

// DateLayout is the wire and storage format for every effective date.
const DateLayout = "2006-01-02"

// TimePoint is a calendar date. Effective dating never looks below day
// granularity, so the time-of-day is always midnight UTC.
type TimePoint struct {
	Time time.Time
}

// Constructors
func NewTimePoint(year int, month time.Month, day int) TimePoint {
	return TimePoint{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates an instant to its UTC calendar date.
func DateOf(t time.Time) TimePoint {
	u := t.UTC()
	return NewTimePoint(u.Year(), u.Month(), u.Day())
}

// ParseDate parses a YYYY-MM-DD string. Out-of-range dates such as
// 2025-02-30 are rejected rather than normalized.
func ParseDate(s string) (TimePoint, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return TimePoint{}, &ValidationError{Field: "date", Message: fmt.Sprintf("invalid calendar date %q", s)}
	}
	return DateOf(t), nil
}

// MustParseDate is ParseDate for fixtures and constants.
func MustParseDate(s string) TimePoint {
	tp, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return tp
}

// Comparison
func (tp TimePoint) Before(other TimePoint) bool        { return tp.normalize().Before(other.normalize()) }
func (tp TimePoint) Equal(other TimePoint) bool         { return tp.normalize().Equal(other.normalize()) }
func (tp TimePoint) After(other TimePoint) bool         { return tp.normalize().After(other.normalize()) }
func (tp TimePoint) BeforeOrEqual(other TimePoint) bool { return !tp.After(other) }
func (tp TimePoint) AfterOrEqual(other TimePoint) bool  { return !tp.Before(other) }

// Compare returns -1, 0 or +1 and is suitable for slices.SortFunc.
func (tp TimePoint) Compare(other TimePoint) int {
	return tp.normalize().Compare(other.normalize())
}

func (tp TimePoint) normalize() time.Time {
	return time.Date(tp.Time.Year(), tp.Time.Month(), tp.Time.Day(), 0, 0, 0, 0, time.UTC)
}

// AddMonthsClamped adds n calendar months and clamps the day to the end of
// the target month: Jan 31 + 1 month is Feb 28 (or 29), never Mar 3.
func (tp TimePoint) AddMonthsClamped(n int) TimePoint {
	first := time.Date(tp.Year(), tp.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	last := EndOfMonth(first.Year(), first.Month())
	day := tp.Day()
	if day > last.Day() {
		day = last.Day()
	}
	return NewTimePoint(first.Year(), first.Month(), day)
}

// Properties
func (tp TimePoint) Year() int         { return tp.Time.Year() }
func (tp TimePoint) Month() time.Month { return tp.Time.Month() }
func (tp TimePoint) Day() int          { return tp.Time.Day() }
func (tp TimePoint) IsZero() bool      { return tp.Time.IsZero() }

func (tp TimePoint) String() string {
	if tp.IsZero() {
		return ""
	}
	return tp.Time.Format(DateLayout)
}

// MarshalText keeps dates as YYYY-MM-DD in JSON payloads and DTOs.
func (tp TimePoint) MarshalText() ([]byte, error) {
	return []byte(tp.String()), nil
}

func (tp *TimePoint) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*tp = TimePoint{}
		return nil
	}
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*tp = parsed
	return nil
}

// =============================================================================
// CLOCK - "Today" is an input, never a global
// =============================================================================

// Clock supplies the current instant. Everything that depends on "today"
// (status assignment, future-record checks, processing guards) takes one.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always reports the same instant. Used by tests and replays.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }

// FixedClockOn returns a clock pinned to noon UTC on the given date.
func FixedClockOn(tp TimePoint) FixedClock {
	return FixedClock{At: tp.Time.Add(12 * time.Hour)}
}

// Today returns the clock's current calendar date.
func Today(c Clock) TimePoint {
	if c == nil {
		c = SystemClock{}
	}
	return DateOf(c.Now())
}

// =============================================================================
// TIME UTILITIES
// =============================================================================

func EndOfMonth(year int, month time.Month) TimePoint {
	return DateOf(time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1))
}
