// Package timeline merges posts from several accounts into one ordered
// sequence and keeps the books on which spans every account has confirmed.
//
// A Timeline is not safe for concurrent use. Callers serialize every call
// through a single owner, see package feed.
package timeline

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
)

// DefaultMaxPosts is the retention cap applied when none is configured.
const DefaultMaxPosts = 500

// Option configures a Timeline.
type Option func(*Timeline)

// WithMaxPosts caps the number of posts kept. The oldest are evicted first.
func WithMaxPosts(n int) Option {
	return func(t *Timeline) {
		if n > 0 {
			t.maxPosts = n
		}
	}
}

// WithProgressiveReveal makes new gaps reveal their loaded edges while
// they fill instead of hiding everything until fully loaded.
func WithProgressiveReveal(on bool) Option {
	return func(t *Timeline) { t.progressive = on }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Timeline) { t.now = now }
}

// Timeline holds deduplicated posts, the gaps between confirmed spans and
// the derived display elements.
type Timeline struct {
	serviceIDs []source.AccountID
	posts      []source.Post // newest first
	gaps       gapList
	span       *daterange.Range
	elements   []Element

	maxPosts    int
	progressive bool
	now         func() time.Time
}

// New returns an empty timeline for the given accounts.
func New(serviceIDs []source.AccountID, opts ...Option) *Timeline {
	t := &Timeline{
		maxPosts: DefaultMaxPosts,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.SetServiceIDs(serviceIDs)
	t.gaps.reindex()
	t.updateElements()
	return t
}

// SetServiceIDs changes the accounts expected by gaps created from now on.
// Existing gaps keep their own set.
func (t *Timeline) SetServiceIDs(ids []source.AccountID) {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	t.serviceIDs = slices.Compact(ids)
}

// ServiceIDs returns the active accounts.
func (t *Timeline) ServiceIDs() []source.AccountID {
	return slices.Clone(t.serviceIDs)
}

// Range returns the overall span the timeline has asked for.
func (t *Timeline) Range() (daterange.Range, bool) {
	if t.span == nil {
		return daterange.Range{}, false
	}
	return *t.span, true
}

// AddGapForNewest adds a gap from the newest known boundary up to now. An
// empty timeline starts maxInterval before now.
func (t *Timeline) AddGapForNewest(maxInterval time.Duration) (uuid.UUID, error) {
	now := t.now()
	lower := now.Add(-absDuration(maxInterval))
	if t.span != nil {
		lower = t.span.End
	}
	return t.AddGap(daterange.New(lower, now))
}

// AddGapForOldest adds a gap of length interval below the oldest known
// boundary, or below now for an empty timeline.
func (t *Timeline) AddGapForOldest(interval time.Duration) (uuid.UUID, error) {
	upper := t.now()
	if t.span != nil {
		upper = t.span.Start
	}
	return t.AddGap(daterange.New(upper.Add(-absDuration(interval)), upper))
}

// AddGap inserts a gap over r, cutting back any gap it overlaps, and extends
// the tracked range.
func (t *Timeline) AddGap(r daterange.Range) (uuid.UUID, error) {
	if r.IsEmpty() || daterange.SameInstant(r.Start, r.End, daterange.DefaultGranularity) {
		return uuid.Nil, ErrEmptyRange
	}
	if t.span == nil {
		t.span = &r
	} else {
		u := t.span.Union(r)
		t.span = &u
	}
	id := t.gaps.insert(r, t.serviceIDs, t.progressive)
	t.updateElements()
	return id, nil
}

// Update applies a fragment: its posts are merged and its coverage is filled
// into the gap it names. Validation happens first, so a rejected fragment
// changes nothing.
func (t *Timeline) Update(frag source.Fragment) error {
	g, ok := t.gaps.get(frag.GapID)
	if !ok {
		return gapErr("update", frag.GapID, ErrGapNotFound)
	}
	if !g.Expects(frag.ServiceID) {
		return gapErr("update", frag.GapID, ErrAccountNotApplicable)
	}

	t.mergePosts(frag.Posts)
	if err := g.Fill(frag); err != nil {
		return err
	}
	t.resortIfMoved()
	t.updateElements()
	return nil
}

// RemoveGap discards a fully loaded gap.
func (t *Timeline) RemoveGap(id uuid.UUID) error {
	g, ok := t.gaps.get(id)
	if !ok {
		return gapErr("remove", id, ErrGapNotFound)
	}
	if g.LoadingStatus() != StatusLoaded {
		return gapErr("remove", id, ErrUnresolvedGap)
	}
	t.gaps.remove(id)
	t.updateElements()
	return nil
}

// Reveal trims the gap from edge up to date. A nil date, or one that would
// leave nothing of the gap, removes it under the same rules as RemoveGap. A
// trim that would uncover any of the unloaded span is refused.
func (t *Timeline) Reveal(id uuid.UUID, edge daterange.Edge, date *time.Time) error {
	g, ok := t.gaps.get(id)
	if !ok {
		return gapErr("reveal", id, ErrGapNotFound)
	}
	if date == nil {
		return t.RemoveGap(id)
	}
	narrowed, ok := g.Range.RemoveFromEdge(edge, *date)
	if !ok || daterange.SameInstant(narrowed.Start, narrowed.End, daterange.DefaultGranularity) {
		return t.RemoveGap(id)
	}
	if unloaded, ok := g.UnloadedRange(); ok && revealsUnloaded(edge, *date, unloaded) {
		return gapErr("reveal", id, ErrUnresolvedGap)
	}
	g.setRange(narrowed)
	t.gaps.sort()
	t.updateElements()
	return nil
}

// revealsUnloaded reports whether trimming from edge up to date uncovers part
// of unloaded.
func revealsUnloaded(edge daterange.Edge, date time.Time, unloaded daterange.Range) bool {
	switch edge {
	case daterange.Newest:
		return date.Before(unloaded.End) && !daterange.SameInstant(date, unloaded.End, daterange.DefaultGranularity)
	case daterange.Oldest:
		return date.After(unloaded.Start) && !daterange.SameInstant(date, unloaded.Start, daterange.DefaultGranularity)
	default:
		return true
	}
}

// SetLoading flips the loading flag of a gap.
func (t *Timeline) SetLoading(id uuid.UUID, loading bool) error {
	g, ok := t.gaps.get(id)
	if !ok {
		return gapErr("set loading", id, ErrGapNotFound)
	}
	g.IsLoading = loading
	t.updateElements()
	return nil
}

// SetError records a fetch failure on a gap; nil clears it.
func (t *Timeline) SetError(id uuid.UUID, err error) error {
	g, ok := t.gaps.get(id)
	if !ok {
		return gapErr("set error", id, ErrGapNotFound)
	}
	g.Err = err
	t.updateElements()
	return nil
}

// MarkRead flags a gap as read.
func (t *Timeline) MarkRead(id uuid.UUID) error {
	g, ok := t.gaps.get(id)
	if !ok {
		return gapErr("mark read", id, ErrGapNotFound)
	}
	g.ReadStatus = Read
	t.updateElements()
	return nil
}

// ReplacePost swaps in a new version of a held post. It reports false when
// no post has that key.
func (t *Timeline) ReplacePost(p source.Post) bool {
	i := slices.IndexFunc(t.posts, func(q source.Post) bool { return q.Key() == p.Key() })
	if i < 0 {
		return false
	}
	t.posts[i] = p
	slices.SortStableFunc(t.posts, source.Compare)
	t.updateElements()
	return true
}

// Post looks a post up by key.
func (t *Timeline) Post(key string) (source.Post, bool) {
	for _, p := range t.posts {
		if p.Key() == key {
			return p, true
		}
	}
	return source.Post{}, false
}

// Gap returns a copy of the gap with the given ID.
func (t *Timeline) Gap(id uuid.UUID) (Gap, bool) {
	g, ok := t.gaps.get(id)
	if !ok {
		return Gap{}, false
	}
	return g.Clone(), true
}

// Gaps returns copies of every gap, oldest first.
func (t *Timeline) Gaps() []Gap {
	out := make([]Gap, len(t.gaps.gaps))
	for i, g := range t.gaps.gaps {
		out[i] = g.Clone()
	}
	return out
}

// Posts returns the held posts, newest first.
func (t *Timeline) Posts() []source.Post {
	return slices.Clone(t.posts)
}

// Elements returns the display sequence, newest first.
func (t *Timeline) Elements() []Element {
	return slices.Clone(t.elements)
}

// Restore replaces the timeline state with previously stored posts, gaps
// and tracked range. A nil span is derived from the gaps.
func (t *Timeline) Restore(posts []source.Post, gaps []GapState, span *daterange.Range) {
	t.posts = nil
	t.mergePosts(posts)

	t.span = nil
	if span != nil {
		s := *span
		t.span = &s
	}
	restored := make([]Gap, 0, len(gaps))
	for _, s := range gaps {
		g := RestoreGap(s, t.progressive)
		restored = append(restored, g)
		t.extendSpan(g.Range)
	}
	t.gaps.replace(restored)
	t.updateElements()
}

func (t *Timeline) extendSpan(r daterange.Range) {
	if t.span == nil {
		t.span = &r
		return
	}
	u := t.span.Union(r)
	t.span = &u
}

// mergePosts adds posts, replacing held copies with the same key, and evicts
// the oldest beyond the retention cap.
func (t *Timeline) mergePosts(posts []source.Post) {
	if len(posts) == 0 {
		return
	}
	byKey := make(map[string]int, len(t.posts))
	for i, p := range t.posts {
		byKey[p.Key()] = i
	}
	for _, p := range posts {
		if i, ok := byKey[p.Key()]; ok {
			t.posts[i] = p
			continue
		}
		byKey[p.Key()] = len(t.posts)
		t.posts = append(t.posts, p)
	}
	slices.SortStableFunc(t.posts, source.Compare)
	if len(t.posts) > t.maxPosts {
		t.posts = slices.Clip(t.posts[:t.maxPosts])
	}
}

// resortIfMoved keeps gap order after progressive reveal narrowed a range.
func (t *Timeline) resortIfMoved() {
	if t.progressive {
		t.gaps.sort()
	}
}

// updateElements rebuilds the display sequence from posts and gaps. After
// sorting, one pass drops duplicate posts and posts hidden by the gap just
// before them.
func (t *Timeline) updateElements() {
	all := make([]Element, 0, len(t.posts)+len(t.gaps.gaps))
	for i := range t.posts {
		p := t.posts[i]
		all = append(all, Element{Post: &p})
	}
	for i := range t.gaps.gaps {
		g := t.gaps.gaps[i].Clone()
		all = append(all, Element{Gap: &g})
	}
	slices.SortFunc(all, compareElements)

	out := make([]Element, 0, len(all))
	for _, e := range all {
		if len(out) == 0 || e.IsGap() {
			out = append(out, e)
			continue
		}
		prev := out[len(out)-1]
		switch {
		case prev.IsGap():
			if prev.Gap.Conceals(e.Post.Date) {
				continue
			}
		case prev.Post.Key() == e.Post.Key():
			continue
		}
		out = append(out, e)
	}
	t.elements = out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
