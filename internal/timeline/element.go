package timeline

import (
	"cmp"
	"strings"
	"time"

	"github.com/ppiankov/threadline/internal/source"
)

// Element is one entry of the merged display sequence: exactly one of Post
// and Gap is set.
type Element struct {
	Post *source.Post
	Gap  *Gap
}

// IsGap reports whether the element is a gap.
func (e Element) IsGap() bool { return e.Gap != nil }

// Date is the representative date used for ordering: the post date or the
// gap's newest bound.
func (e Element) Date() time.Time {
	if e.Gap != nil {
		return e.Gap.Range.End
	}
	return e.Post.Date
}

// ID identifies the element across recomputations.
func (e Element) ID() string {
	if e.Gap != nil {
		return "gap:" + e.Gap.ID.String()
	}
	return "post:" + e.Post.Key()
}

// compareElements is the total order of the display sequence: newest date
// first; at equal dates posts before gaps, since a gap excludes its upper
// bound; posts then by key, gaps by newer start then ID.
func compareElements(a, b Element) int {
	if c := b.Date().Compare(a.Date()); c != 0 {
		return c
	}
	switch {
	case !a.IsGap() && b.IsGap():
		return -1
	case a.IsGap() && !b.IsGap():
		return 1
	case !a.IsGap():
		return cmp.Compare(a.Post.Key(), b.Post.Key())
	}
	if c := b.Gap.Range.Start.Compare(a.Gap.Range.Start); c != 0 {
		return c
	}
	return strings.Compare(a.Gap.ID.String(), b.Gap.ID.String())
}
