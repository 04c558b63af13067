// Package daterange implements interval arithmetic over half-open time
// ranges. Boundaries are compared at a granularity so that two instants
// falling into the same truncated unit (one second by default) count as equal.
package daterange

import (
	"fmt"
	"time"
)

// DefaultGranularity is the tolerance used when comparing range boundaries.
const DefaultGranularity = time.Second

// Range is the half-open interval [Start, End). Start is never after End.
type Range struct {
	Start time.Time
	End   time.Time
}

// New returns the range [start, end). An end before start yields the empty
// range anchored at start.
func New(start, end time.Time) Range {
	if end.Before(start) {
		end = start
	}
	return Range{Start: start, End: end}
}

// IsEmpty reports whether the range holds no instant.
func (r Range) IsEmpty() bool {
	return !r.Start.Before(r.End)
}

// Duration returns End - Start.
func (r Range) Duration() time.Duration {
	return r.End.Sub(r.Start)
}

// Contains reports whether t lies in [Start, End).
func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

// Overlaps reports whether the two ranges share at least one instant.
// Empty ranges never overlap anything.
func (r Range) Overlaps(other Range) bool {
	if r.IsEmpty() || other.IsEmpty() {
		return false
	}
	return r.Start.Before(other.End) && other.Start.Before(r.End)
}

// Equal reports whether both boundaries match at the default granularity.
func (r Range) Equal(other Range) bool {
	return SameInstant(r.Start, other.Start, DefaultGranularity) &&
		SameInstant(r.End, other.End, DefaultGranularity)
}

// Connected reports whether the ranges overlap or touch end to end at the
// default granularity.
func (r Range) Connected(other Range) bool {
	return r.ConnectedWithin(other, DefaultGranularity)
}

// ConnectedWithin is Connected with an explicit granularity.
func (r Range) ConnectedWithin(other Range, granularity time.Duration) bool {
	return r.Overlaps(other) ||
		SameInstant(r.End, other.Start, granularity) ||
		SameInstant(r.Start, other.End, granularity)
}

// Subtract removes other from r and returns what is left on each side:
// before is the remainder older than other, after the remainder newer than
// it. Either may be nil.
func (r Range) Subtract(other Range) (before, after *Range) {
	return r.SubtractWithin(other, DefaultGranularity)
}

// SubtractWithin is Subtract with an explicit granularity.
func (r Range) SubtractWithin(other Range, granularity time.Duration) (before, after *Range) {
	if r.IsEmpty() {
		return nil, nil
	}
	self := r
	if other.IsEmpty() {
		return &self, nil
	}
	if !r.Overlaps(other) {
		if other.Start.Before(r.Start) {
			return nil, &self
		}
		return &self, nil
	}

	startCovered := !other.Start.After(r.Start) || SameInstant(other.Start, r.Start, granularity)
	endCovered := !other.End.Before(r.End) || SameInstant(other.End, r.End, granularity)

	switch {
	case startCovered && endCovered:
		return nil, nil
	case startCovered:
		return nil, remainder(other.End, r.End, granularity)
	case endCovered:
		return remainder(r.Start, other.Start, granularity), nil
	default:
		return remainder(r.Start, other.Start, granularity), remainder(other.End, r.End, granularity)
	}
}

func remainder(start, end time.Time, granularity time.Duration) *Range {
	if !start.Before(end) || SameInstant(start, end, granularity) {
		return nil
	}
	return &Range{Start: start, End: end}
}

// Clamp restricts r to bounds. ok is false when nothing of r remains.
func (r Range) Clamp(bounds Range) (Range, bool) {
	start := later(r.Start, bounds.Start)
	end := earlier(r.End, bounds.End)
	if !start.Before(end) {
		return Range{}, false
	}
	return Range{Start: start, End: end}, true
}

// Union returns the smallest range covering both r and other.
func (r Range) Union(other Range) Range {
	return Range{Start: earlier(r.Start, other.Start), End: later(r.End, other.End)}
}

// RemoveFromEdge trims the range from the given edge up to date. ok is false
// when the trim would leave an empty or inverted range.
func (r Range) RemoveFromEdge(edge Edge, date time.Time) (Range, bool) {
	switch edge {
	case Oldest:
		if !date.Before(r.End) {
			return Range{}, false
		}
		return Range{Start: later(r.Start, date), End: r.End}, true
	case Newest:
		if !date.After(r.Start) {
			return Range{}, false
		}
		return Range{Start: r.Start, End: earlier(r.End, date)}, true
	default:
		return Range{}, false
	}
}

// Fraction returns the share of whole covered by r's duration. A zero length
// whole yields 0.
func (r Range) Fraction(whole Range) float64 {
	total := whole.Duration()
	if total <= 0 {
		return 0
	}
	return float64(r.Duration()) / float64(total)
}

func (r Range) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start.UTC().Format(time.RFC3339), r.End.UTC().Format(time.RFC3339))
}

// Intersect is the AND of an optional range and a range. It returns nil when
// a is nil or the two are not connected; ranges that only touch intersect in
// an empty range.
func Intersect(a *Range, b Range) *Range {
	if a == nil || !a.Connected(b) {
		return nil
	}
	out := New(later(a.Start, b.Start), earlier(a.End, b.End))
	return &out
}

// MergeSorted inserts r into a sorted list of disjoint ranges and coalesces
// every range connected to it. The input slice is not modified.
func MergeSorted(list []Range, r Range) []Range {
	return MergeSortedWithin(list, r, DefaultGranularity)
}

// MergeSortedWithin is MergeSorted with an explicit granularity.
func MergeSortedWithin(list []Range, r Range, granularity time.Duration) []Range {
	if r.IsEmpty() {
		return append([]Range(nil), list...)
	}

	out := make([]Range, 0, len(list)+1)
	merged := r
	inserted := false
	for _, cur := range list {
		switch {
		case inserted:
			out = append(out, cur)
		case merged.ConnectedWithin(cur, granularity):
			merged = merged.Union(cur)
		case cur.Start.Before(merged.Start):
			out = append(out, cur)
		default:
			out = append(out, merged, cur)
			inserted = true
		}
	}
	if !inserted {
		out = append(out, merged)
	}
	return out
}

// SameInstant reports whether a and b fall into the same unit of the given
// granularity. A non-positive granularity compares exactly.
func SameInstant(a, b time.Time, granularity time.Duration) bool {
	if granularity <= 0 {
		return a.Equal(b)
	}
	return a.Truncate(granularity).Equal(b.Truncate(granularity))
}

func earlier(a, b time.Time) time.Time {
	if b.Before(a) {
		return b
	}
	return a
}

func later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
