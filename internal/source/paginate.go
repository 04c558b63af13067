package source

import (
	"context"
	"iter"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
)

// page is one response of a cursor paginated network API.
type page struct {
	posts []Post // newest to oldest
	next  string // cursor of the next older page, empty when exhausted
}

type pageFunc func(ctx context.Context, cursor string) (page, error)

// paginate turns a cursor API into a fragment stream over r. Each page
// confirms the span from its oldest post up to the lower bound of the page
// before it; the page that reaches past r.Start, and the last page of an
// exhausted stream, confirm everything down to r.Start.
func paginate(ctx context.Context, id AccountID, gapID uuid.UUID, r daterange.Range, first string, maxPages int, fetch pageFunc) iter.Seq2[Fragment, error] {
	return func(yield func(Fragment, error) bool) {
		upper := r.End
		cursor := first
		for range maxPages {
			if err := ctx.Err(); err != nil {
				yield(Fragment{}, err)
				return
			}
			pg, err := fetch(ctx, cursor)
			if err != nil {
				yield(Fragment{}, err)
				return
			}

			exhausted := pg.next == "" || len(pg.posts) == 0
			var oldest time.Time
			if len(pg.posts) > 0 {
				oldest = pg.posts[len(pg.posts)-1].Date
			}

			// Entire page is newer than the requested span.
			if !exhausted && !oldest.Before(r.End) {
				cursor = pg.next
				continue
			}

			lower := oldest
			done := exhausted || !oldest.After(r.Start)
			if done {
				lower = r.Start
			}
			if lower.After(upper) {
				lower = upper
			}

			frag := Fragment{
				ServiceID: id,
				GapID:     gapID,
				Posts:     within(pg.posts, r),
				Covered:   daterange.New(lower, upper),
			}
			if !yield(frag, nil) || done {
				return
			}
			upper = lower
			cursor = pg.next
		}
	}
}

// within keeps the posts dated inside r.
func within(posts []Post, r daterange.Range) []Post {
	var out []Post
	for _, p := range posts {
		if r.Contains(p.Date) {
			out = append(out, p)
		}
	}
	return out
}
