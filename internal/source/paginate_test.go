package source

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func minute(n int) time.Time { return base.Add(time.Duration(n) * time.Minute) }

func postAt(id string, n int) Post {
	return Post{Source: PlatformMastodon, Identifier: id, Date: minute(n)}
}

// pages serves canned pages keyed by cursor and records every request.
type pages struct {
	byCursor map[string]page
	calls    []string
}

func (p *pages) fetch(_ context.Context, cursor string) (page, error) {
	p.calls = append(p.calls, cursor)
	pg, ok := p.byCursor[cursor]
	if !ok {
		return page{}, errors.New("unexpected cursor " + cursor)
	}
	return pg, nil
}

func collect(t *testing.T, seq iter.Seq2[Fragment, error]) ([]Fragment, error) {
	t.Helper()
	var out []Fragment
	for f, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, f)
	}
	return out, nil
}

func TestPaginate_CoverageChainsDownToStart(t *testing.T) {
	r := daterange.New(minute(0), minute(100))
	src := &pages{byCursor: map[string]page{
		"":   {posts: []Post{postAt("a", 90), postAt("b", 80)}, next: "p2"},
		"p2": {posts: []Post{postAt("c", 60), postAt("d", 50)}, next: "p3"},
		"p3": {posts: []Post{postAt("e", 40), postAt("f", -10)}, next: "p4"},
	}}

	gapID := uuid.New()
	frags, err := collect(t, paginate(context.Background(), "acct", gapID, r, "", 10, src.fetch))
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	want := []daterange.Range{
		daterange.New(minute(80), minute(100)),
		daterange.New(minute(50), minute(80)),
		daterange.New(minute(0), minute(50)),
	}
	if len(frags) != len(want) {
		t.Fatalf("got %d fragments, want %d", len(frags), len(want))
	}
	for i, f := range frags {
		if f.Covered != want[i] {
			t.Errorf("fragment %d covered = %v, want %v", i, f.Covered, want[i])
		}
		if f.ServiceID != "acct" || f.GapID != gapID {
			t.Errorf("fragment %d identity = %s/%s", i, f.ServiceID, f.GapID)
		}
	}
	if got := len(frags[2].Posts); got != 1 {
		t.Errorf("last fragment has %d posts, want 1 (post before start dropped)", got)
	}
	if len(src.calls) != 3 {
		t.Errorf("made %d requests, want 3", len(src.calls))
	}
}

func TestPaginate_ExhaustedStreamCoversWholeRange(t *testing.T) {
	r := daterange.New(minute(0), minute(100))
	src := &pages{byCursor: map[string]page{
		"": {posts: []Post{postAt("a", 70)}},
	}}

	frags, err := collect(t, paginate(context.Background(), "acct", uuid.New(), r, "", 10, src.fetch))
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(frags) != 1 || frags[0].Covered != r {
		t.Fatalf("fragments = %+v, want one covering %v", frags, r)
	}
}

func TestPaginate_EmptyPageStillConfirmsSpan(t *testing.T) {
	r := daterange.New(minute(0), minute(30))
	src := &pages{byCursor: map[string]page{"": {}}}

	frags, err := collect(t, paginate(context.Background(), "acct", uuid.New(), r, "", 10, src.fetch))
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if len(frags[0].Posts) != 0 || frags[0].Covered != r {
		t.Errorf("fragment = %+v, want empty posts covering %v", frags[0], r)
	}
}

func TestPaginate_SkipsPagesNewerThanRange(t *testing.T) {
	r := daterange.New(minute(0), minute(100))
	src := &pages{byCursor: map[string]page{
		"":   {posts: []Post{postAt("x", 150), postAt("y", 120)}, next: "p2"},
		"p2": {posts: []Post{postAt("z", 110), postAt("a", 90)}},
	}}

	frags, err := collect(t, paginate(context.Background(), "acct", uuid.New(), r, "", 10, src.fetch))
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(frags) != 1 {
		t.Fatalf("got %d fragments, want 1", len(frags))
	}
	if len(frags[0].Posts) != 1 || frags[0].Posts[0].Identifier != "a" {
		t.Errorf("posts = %+v, want only a", frags[0].Posts)
	}
}

func TestPaginate_ErrorEndsStream(t *testing.T) {
	r := daterange.New(minute(0), minute(100))
	src := &pages{byCursor: map[string]page{
		"": {posts: []Post{postAt("a", 90)}, next: "missing"},
	}}

	frags, err := collect(t, paginate(context.Background(), "acct", uuid.New(), r, "", 10, src.fetch))
	if err == nil {
		t.Fatal("expected error")
	}
	if len(frags) != 1 {
		t.Errorf("got %d fragments before the error, want 1", len(frags))
	}
}

func TestPaginate_StopsWhenConsumerBreaks(t *testing.T) {
	r := daterange.New(minute(0), minute(100))
	src := &pages{byCursor: map[string]page{
		"":   {posts: []Post{postAt("a", 90)}, next: "p2"},
		"p2": {posts: []Post{postAt("b", 50)}, next: "p3"},
	}}

	for range paginate(context.Background(), "acct", uuid.New(), r, "", 10, src.fetch) {
		break
	}
	if len(src.calls) != 1 {
		t.Errorf("made %d requests, want 1", len(src.calls))
	}
}

func TestPaginate_MaxPages(t *testing.T) {
	r := daterange.New(minute(0), minute(100))
	src := &pages{byCursor: map[string]page{
		"":   {posts: []Post{postAt("a", 90)}, next: "p2"},
		"p2": {posts: []Post{postAt("b", 80)}, next: "p3"},
	}}

	frags, err := collect(t, paginate(context.Background(), "acct", uuid.New(), r, "", 2, src.fetch))
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	if frags[1].Covered.Start != minute(80) {
		t.Errorf("coverage stops at %v, want %v", frags[1].Covered.Start, minute(80))
	}
}

func TestPaginate_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &pages{byCursor: map[string]page{"": {}}}
	_, err := collect(t, paginate(ctx, "acct", uuid.New(), daterange.New(minute(0), minute(10)), "", 10, src.fetch))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(src.calls) != 0 {
		t.Errorf("made %d requests after cancel, want 0", len(src.calls))
	}
}
