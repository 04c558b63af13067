package timeline

import (
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
)

// gapList keeps gaps sorted oldest first with an ID to position index that
// is rebuilt on every mutation.
type gapList struct {
	gaps  []Gap
	index map[uuid.UUID]int
}

// insert adds a gap over r. Every existing gap overlapping r is cut back to
// what lies outside it, so a fresher request always supersedes stale gaps.
func (l *gapList) insert(r daterange.Range, serviceIDs []source.AccountID, progressive bool) uuid.UUID {
	g := NewGap(r, serviceIDs)
	g.progressive = progressive

	adjusted := make([]Gap, 0, len(l.gaps)+2)
	for _, old := range l.gaps {
		if !old.Overlaps(g) {
			adjusted = append(adjusted, old)
			continue
		}
		before, after := old.Subtract(r)
		if before != nil {
			adjusted = append(adjusted, *before)
		}
		if after != nil {
			adjusted = append(adjusted, *after)
		}
	}
	l.gaps = append(adjusted, g)
	l.sort()
	return g.ID
}

func (l *gapList) indexOf(id uuid.UUID) int {
	if i, ok := l.index[id]; ok {
		return i
	}
	return -1
}

func (l *gapList) get(id uuid.UUID) (*Gap, bool) {
	i := l.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return &l.gaps[i], true
}

func (l *gapList) remove(id uuid.UUID) bool {
	i := l.indexOf(id)
	if i < 0 {
		return false
	}
	l.gaps = slices.Delete(l.gaps, i, i+1)
	l.reindex()
	return true
}

func (l *gapList) replace(gaps []Gap) {
	l.gaps = gaps
	l.sort()
}

// sort orders gaps by (Start, End, ID) ascending.
func (l *gapList) sort() {
	slices.SortFunc(l.gaps, func(a, b Gap) int {
		if c := a.Range.Start.Compare(b.Range.Start); c != 0 {
			return c
		}
		if c := a.Range.End.Compare(b.Range.End); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	l.reindex()
}

func (l *gapList) reindex() {
	l.index = make(map[uuid.UUID]int, len(l.gaps))
	for i, g := range l.gaps {
		l.index[g.ID] = i
	}
}
