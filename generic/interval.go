package generic

// =============================================================================
// INTERVAL - Half-open validity window of a temporal record
// =============================================================================

// Interval is [Start, End). A nil End means open-ended.
type Interval struct {
	Start TimePoint
	End   *TimePoint
}

// Contains returns true if the date is within [Start, End).
func (i Interval) Contains(t TimePoint) bool {
	if t.Before(i.Start) {
		return false
	}
	return i.End == nil || t.Before(*i.End)
}

// Overlaps returns true if the two intervals share at least one day.
func (i Interval) Overlaps(other Interval) bool {
	// a.Start < b.End && b.Start < a.End, with nil End as +infinity
	if other.End != nil && !i.Start.Before(*other.End) {
		return false
	}
	if i.End != nil && !other.Start.Before(*i.End) {
		return false
	}
	return true
}

// IsOpen returns true if the interval has no end date.
func (i Interval) IsOpen() bool { return i.End == nil }

// String returns a string representation of the interval.
func (i Interval) String() string {
	end := "open"
	if i.End != nil {
		end = i.End.String()
	}
	return "[" + i.Start.String() + ", " + end + ")"
}
