package timeline

import (
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
)

// LoadingStatus summarises how much of a gap has been fetched.
type LoadingStatus int

const (
	StatusUnloaded LoadingStatus = iota
	StatusLoading
	StatusPaused
	StatusLoaded
	StatusError
)

func (s LoadingStatus) String() string {
	switch s {
	case StatusUnloaded:
		return "unloaded"
	case StatusLoading:
		return "loading"
	case StatusPaused:
		return "paused"
	case StatusLoaded:
		return "loaded"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ReadStatus records whether the user has gone through a gap's posts.
type ReadStatus int

const (
	ReadUnknown ReadStatus = iota
	Read
)

// Gap is a span of the timeline that is not yet confirmed by every account
// expected to cover it.
type Gap struct {
	ID         uuid.UUID
	Range      daterange.Range
	IsLoading  bool
	Err        error
	ReadStatus ReadStatus

	serviceIDs  []source.AccountID
	loaded      map[source.AccountID][]daterange.Range
	progressive bool
}

// NewGap returns an unloaded gap over r expecting fragments from serviceIDs.
func NewGap(r daterange.Range, serviceIDs []source.AccountID) Gap {
	ids := slices.Clone(serviceIDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return Gap{
		ID:         uuid.New(),
		Range:      r,
		serviceIDs: ids,
		loaded:     make(map[source.AccountID][]daterange.Range),
	}
}

// ServiceIDs returns the accounts that must confirm the gap, sorted.
func (g Gap) ServiceIDs() []source.AccountID {
	return slices.Clone(g.serviceIDs)
}

// Expects reports whether id is one of the gap's accounts.
func (g Gap) Expects(id source.AccountID) bool {
	_, ok := slices.BinarySearch(g.serviceIDs, id)
	return ok
}

// Progressive reports whether loaded edges are revealed while filling.
func (g Gap) Progressive() bool { return g.progressive }

// LoadedRanges returns a copy of the confirmed sub-ranges per account.
func (g Gap) LoadedRanges() map[source.AccountID][]daterange.Range {
	out := make(map[source.AccountID][]daterange.Range, len(g.loaded))
	for id, ranges := range g.loaded {
		out[id] = slices.Clone(ranges)
	}
	return out
}

// Clone returns a deep copy that shares no state with g.
func (g Gap) Clone() Gap {
	c := g
	c.serviceIDs = slices.Clone(g.serviceIDs)
	c.loaded = g.LoadedRanges()
	return c
}

// Fill merges the coverage of a fragment. A fragment from an account the gap
// does not expect is rejected and leaves the gap untouched.
func (g *Gap) Fill(frag source.Fragment) error {
	if !g.Expects(frag.ServiceID) {
		return gapErr("fill", g.ID, ErrAccountNotApplicable)
	}
	g.IsLoading = true

	if covered, ok := frag.Covered.Clamp(g.Range); ok {
		g.loaded[frag.ServiceID] = daterange.MergeSorted(g.loaded[frag.ServiceID], covered)
	}

	if _, ok := g.UnloadedRange(); !ok {
		g.IsLoading = false
		return nil
	}
	if g.progressive {
		if concealed, ok := g.ConcealedRange(); ok && !concealed.Equal(g.Range) {
			g.setRange(concealed)
		}
	}
	return nil
}

// LoadedNewestRange is the span below Range.End confirmed by every account.
// It is empty at Range.End while any account lacks an entry anchored there.
func (g Gap) LoadedNewestRange() daterange.Range {
	empty := daterange.Range{Start: g.Range.End, End: g.Range.End}
	if len(g.serviceIDs) == 0 {
		return empty
	}
	lower := g.Range.Start
	for _, id := range g.serviceIDs {
		ranges := g.loaded[id]
		if len(ranges) == 0 {
			return empty
		}
		last := ranges[len(ranges)-1]
		if !daterange.SameInstant(last.End, g.Range.End, daterange.DefaultGranularity) {
			return empty
		}
		if last.Start.After(lower) {
			lower = last.Start
		}
	}
	return daterange.New(lower, g.Range.End)
}

// LoadedOldestRange is the span above Range.Start confirmed by every account.
// It is empty at Range.Start while any account lacks an entry anchored there.
func (g Gap) LoadedOldestRange() daterange.Range {
	empty := daterange.Range{Start: g.Range.Start, End: g.Range.Start}
	if len(g.serviceIDs) == 0 {
		return empty
	}
	upper := g.Range.End
	for _, id := range g.serviceIDs {
		ranges := g.loaded[id]
		if len(ranges) == 0 {
			return empty
		}
		first := ranges[0]
		if !daterange.SameInstant(first.Start, g.Range.Start, daterange.DefaultGranularity) {
			return empty
		}
		if first.End.Before(upper) {
			upper = first.End
		}
	}
	return daterange.New(g.Range.Start, upper)
}

// UnloadedRange is the middle span still missing from at least one account.
// ok is false once the loaded edges meet.
func (g Gap) UnloadedRange() (daterange.Range, bool) {
	lower := g.LoadedOldestRange().End
	upper := g.LoadedNewestRange().Start
	if !lower.Before(upper) || daterange.SameInstant(lower, upper, daterange.DefaultGranularity) {
		return daterange.Range{}, false
	}
	return daterange.Range{Start: lower, End: upper}, true
}

// MissingRange is the span account id has not yet confirmed between its
// coverage anchored at either edge. ok is false when nothing is left or the
// gap does not expect the account.
func (g Gap) MissingRange(id source.AccountID) (daterange.Range, bool) {
	if !g.Expects(id) {
		return daterange.Range{}, false
	}
	lower, upper := g.Range.Start, g.Range.End
	if ranges := g.loaded[id]; len(ranges) > 0 {
		if daterange.SameInstant(ranges[0].Start, lower, daterange.DefaultGranularity) {
			lower = ranges[0].End
		}
		if last := ranges[len(ranges)-1]; daterange.SameInstant(last.End, upper, daterange.DefaultGranularity) {
			upper = last.Start
		}
	}
	if !lower.Before(upper) || daterange.SameInstant(lower, upper, daterange.DefaultGranularity) {
		return daterange.Range{}, false
	}
	return daterange.Range{Start: lower, End: upper}, true
}

// ConcealedRange is the span whose posts stay hidden behind the gap: the
// whole range, or only the unloaded part when revealing progressively.
func (g Gap) ConcealedRange() (daterange.Range, bool) {
	if g.progressive {
		return g.UnloadedRange()
	}
	return g.Range, !g.Range.IsEmpty()
}

// Conceals reports whether a post dated t is hidden by the gap.
func (g Gap) Conceals(t time.Time) bool {
	r, ok := g.ConcealedRange()
	return ok && r.Contains(t)
}

// LoadingStatus derives the gap's status from its fields.
func (g Gap) LoadingStatus() LoadingStatus {
	if g.Err != nil {
		return StatusError
	}
	if _, ok := g.UnloadedRange(); !ok {
		return StatusLoaded
	}
	if g.IsLoading {
		return StatusLoading
	}
	if g.hasCoverage() {
		return StatusPaused
	}
	return StatusUnloaded
}

func (g Gap) hasCoverage() bool {
	for _, ranges := range g.loaded {
		if len(ranges) > 0 {
			return true
		}
	}
	return false
}

// Progress returns the fraction of the range confirmed from both edges, in
// [0, 1].
func (g Gap) Progress() float64 {
	if _, ok := g.UnloadedRange(); !ok {
		return 1
	}
	p := g.LoadedNewestRange().Fraction(g.Range) + g.LoadedOldestRange().Fraction(g.Range)
	return min(p, 1)
}

// Overlaps reports whether the two gaps share any instant.
func (g Gap) Overlaps(other Gap) bool {
	return g.Range.Overlaps(other.Range)
}

// Subtract removes r from the gap. A single surviving piece keeps the gap's
// identity. When the gap splits, the older piece keeps it and the newer piece
// becomes a new gap with the same accounts. Coverage overlapping a piece is
// carried into it.
func (g Gap) Subtract(r daterange.Range) (before, after *Gap) {
	b, a := g.Range.Subtract(r)
	if b != nil {
		piece := g.Clone()
		piece.setRange(*b)
		before = &piece
	}
	if a != nil {
		piece := g.Clone()
		piece.setRange(*a)
		if before != nil {
			piece.ID = uuid.New()
			piece.IsLoading = false
			piece.Err = nil
		}
		after = &piece
	}
	return before, after
}

// setRange narrows the gap and clamps every loaded list to the new bounds.
func (g *Gap) setRange(r daterange.Range) {
	g.Range = r
	for id, ranges := range g.loaded {
		var kept []daterange.Range
		for _, lr := range ranges {
			if c, ok := lr.Clamp(r); ok {
				kept = append(kept, c)
			}
		}
		if len(kept) == 0 {
			delete(g.loaded, id)
			continue
		}
		g.loaded[id] = kept
	}
}

// GapState is the persistable form of a gap.
type GapState struct {
	ID         uuid.UUID
	Range      daterange.Range
	ServiceIDs []source.AccountID
	Loaded     map[source.AccountID][]daterange.Range
	ReadStatus ReadStatus
}

// State captures the gap for storage. Loading and error flags are runtime
// only and are not part of it.
func (g Gap) State() GapState {
	return GapState{
		ID:         g.ID,
		Range:      g.Range,
		ServiceIDs: g.ServiceIDs(),
		Loaded:     g.LoadedRanges(),
		ReadStatus: g.ReadStatus,
	}
}

// RestoreGap rebuilds a gap from a stored state, re-coalescing and clamping
// its coverage to the range.
func RestoreGap(s GapState, progressive bool) Gap {
	g := NewGap(s.Range, s.ServiceIDs)
	g.ID = s.ID
	g.ReadStatus = s.ReadStatus
	g.progressive = progressive
	for _, id := range slices.Sorted(maps.Keys(s.Loaded)) {
		if !g.Expects(id) {
			continue
		}
		for _, lr := range s.Loaded[id] {
			if c, ok := lr.Clamp(g.Range); ok {
				g.loaded[id] = daterange.MergeSorted(g.loaded[id], c)
			}
		}
	}
	return g
}
