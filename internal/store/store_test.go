package store

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "threadline.db")
	st, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = st.Close()
	})
	return st, path
}

func testPost(id string, postedAt time.Time) source.Post {
	return source.Post{
		Source:     source.PlatformMastodon,
		Identifier: id,
		Channel:    "mastodon.social",
		Date:       postedAt,
		Author:     source.Author{Name: "Gopher", Handle: "@gopher@mastodon.social"},
		Content:    "post " + id,
		URL:        "https://mastodon.social/@gopher/" + id,
		Cursor:     id,
	}
}

func TestOpenAndMigrate(t *testing.T) {
	st, path := openTestStore(t)

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}

	var version string
	if err := st.db.QueryRow("SELECT value FROM metadata WHERE key = 'schema_version'").Scan(&version); err != nil {
		t.Fatalf("read schema version: %v", err)
	}
	if version != "1" {
		t.Fatalf("unexpected schema version: %s", version)
	}
}

func TestOpen_NewerSchemaRejected(t *testing.T) {
	st, path := openTestStore(t)
	if _, err := st.db.Exec("UPDATE metadata SET value = '99' WHERE key = 'schema_version'"); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_ = st.Close()

	if _, err := Open(path); err == nil {
		t.Fatal("expected error for newer schema version")
	}
}

func TestOpen_EmptyPath(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSavePostsUpsert(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	postedAt := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	fetchedAt := postedAt.Add(2 * time.Minute)

	p := testPost("1", postedAt)
	n, err := st.SavePosts(ctx, []source.Post{p}, fetchedAt)
	if err != nil {
		t.Fatalf("save posts: %v", err)
	}
	if n != 1 {
		t.Fatalf("written = %d, want 1", n)
	}

	p.Content = "edited"
	p.Status = source.Status{Liked: true, LikeCount: 4}
	if _, err := st.SavePosts(ctx, []source.Post{p}, fetchedAt.Add(5*time.Minute)); err != nil {
		t.Fatalf("upsert post: %v", err)
	}

	var count int
	if err := st.db.QueryRow("SELECT COUNT(*) FROM posts").Scan(&count); err != nil {
		t.Fatalf("count posts: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 post, got %d", count)
	}

	posts, err := st.LoadPosts(ctx, 0)
	if err != nil {
		t.Fatalf("load posts: %v", err)
	}
	if posts[0].Content != "edited" {
		t.Errorf("content = %q, want edited", posts[0].Content)
	}
	if !posts[0].Status.Liked || posts[0].Status.LikeCount != 4 {
		t.Errorf("status = %+v, want liked with 4", posts[0].Status)
	}
}

func TestSavePosts_Validation(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		post source.Post
	}{
		{"missing source", source.Post{Identifier: "1", Date: now}},
		{"missing identifier", source.Post{Source: source.PlatformRSS, Date: now}},
		{"missing date", source.Post{Source: source.PlatformRSS, Identifier: "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := st.SavePosts(ctx, []source.Post{tt.post}, now); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if _, err := st.SavePosts(ctx, []source.Post{testPost("ok", now)}, time.Time{}); err == nil {
		t.Fatal("expected error for zero fetched_at")
	}

	posts, err := st.LoadPosts(ctx, 0)
	if err != nil {
		t.Fatalf("load posts: %v", err)
	}
	if len(posts) != 0 {
		t.Errorf("rejected batch left %d posts", len(posts))
	}
}

func TestLoadPosts_RoundTripAndOrder(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)
	full := testPost("full", base.Add(2*time.Hour+500*time.Millisecond))
	full.RepostedBy = &source.Author{Name: "Booster", Handle: "@boost@example.org"}
	full.Attachments = []source.Attachment{
		{Kind: source.AttachmentImages, Images: []source.Image{{URL: "https://img/1.png", Description: "cat"}}},
		{Kind: source.AttachmentLink, Link: &source.Link{URL: "https://go.dev", Title: "Go"}},
	}
	plain := testPost("plain", base.Add(2*time.Hour))
	plain.URL = ""
	older := testPost("older", base)

	if _, err := st.SavePosts(ctx, []source.Post{older, full, plain}, base.Add(3*time.Hour)); err != nil {
		t.Fatalf("save posts: %v", err)
	}

	posts, err := st.LoadPosts(ctx, 0)
	if err != nil {
		t.Fatalf("load posts: %v", err)
	}
	var ids []string
	for _, p := range posts {
		ids = append(ids, p.Identifier)
	}
	if want := []string{"full", "plain", "older"}; !reflect.DeepEqual(ids, want) {
		t.Fatalf("order = %v, want %v", ids, want)
	}

	got := posts[0]
	if !got.Date.Equal(full.Date) {
		t.Errorf("date = %v, want %v", got.Date, full.Date)
	}
	got.Date = full.Date
	if !reflect.DeepEqual(got, full) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, full)
	}
	if posts[1].URL != "" || posts[1].RepostedBy != nil || posts[1].Attachments != nil {
		t.Errorf("unexpected optional fields: %+v", posts[1])
	}

	limited, err := st.LoadPosts(ctx, 2)
	if err != nil {
		t.Fatalf("load limited: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("limited = %d, want 2", len(limited))
	}
}

func TestSaveAndLoadGaps(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 2, 16, 8, 0, 0, 0, time.UTC)
	at := func(m int) time.Time { return base.Add(time.Duration(m) * time.Minute) }

	newer := timeline.GapState{
		ID:         uuid.New(),
		Range:      daterange.New(at(30), at(60)),
		ServiceIDs: []source.AccountID{"home", "golang"},
		Loaded: map[source.AccountID][]daterange.Range{
			"home": {daterange.New(at(45), at(60))},
		},
		ReadStatus: timeline.Read,
	}
	older := timeline.GapState{
		ID:         uuid.New(),
		Range:      daterange.New(at(0), at(10)),
		ServiceIDs: []source.AccountID{"home"},
		Loaded:     map[source.AccountID][]daterange.Range{},
	}
	span := daterange.New(at(0), at(60))

	if err := st.SaveGaps(ctx, []timeline.GapState{newer, older}, &span); err != nil {
		t.Fatalf("save gaps: %v", err)
	}

	gaps, gotSpan, err := st.LoadGaps(ctx)
	if err != nil {
		t.Fatalf("load gaps: %v", err)
	}
	if len(gaps) != 2 {
		t.Fatalf("gaps = %d, want 2", len(gaps))
	}
	if gaps[0].ID != older.ID || gaps[1].ID != newer.ID {
		t.Errorf("gaps not ordered oldest first")
	}
	if gotSpan == nil || !gotSpan.Equal(span) {
		t.Errorf("span = %v, want %v", gotSpan, span)
	}

	g := gaps[1]
	if !g.Range.Equal(newer.Range) {
		t.Errorf("range = %v, want %v", g.Range, newer.Range)
	}
	if !reflect.DeepEqual(g.ServiceIDs, newer.ServiceIDs) {
		t.Errorf("service ids = %v, want %v", g.ServiceIDs, newer.ServiceIDs)
	}
	if g.ReadStatus != timeline.Read {
		t.Errorf("read status = %v, want read", g.ReadStatus)
	}
	home := g.Loaded["home"]
	if len(home) != 1 || !home[0].Equal(newer.Loaded["home"][0]) {
		t.Errorf("loaded = %v, want %v", home, newer.Loaded["home"])
	}

	restored := timeline.RestoreGap(g, false)
	if restored.LoadingStatus() != timeline.StatusPaused {
		t.Errorf("restored status = %v, want paused", restored.LoadingStatus())
	}
}

func TestSaveGaps_ReplacesAndClearsSpan(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	span := daterange.New(now.Add(-time.Hour), now)
	first := timeline.GapState{ID: uuid.New(), Range: span, ServiceIDs: []source.AccountID{"a"}}
	if err := st.SaveGaps(ctx, []timeline.GapState{first}, &span); err != nil {
		t.Fatalf("save gaps: %v", err)
	}

	if err := st.SaveGaps(ctx, nil, nil); err != nil {
		t.Fatalf("save empty: %v", err)
	}

	gaps, gotSpan, err := st.LoadGaps(ctx)
	if err != nil {
		t.Fatalf("load gaps: %v", err)
	}
	if len(gaps) != 0 {
		t.Errorf("gaps = %d, want 0", len(gaps))
	}
	if gotSpan != nil {
		t.Errorf("span = %v, want nil", gotSpan)
	}
}

func TestPruneOld(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	old := now.AddDate(0, 0, -60) // 60 days ago
	recent := now.Add(-1 * time.Hour)

	if _, err := st.SavePosts(ctx, []source.Post{testPost("old1", old), testPost("new1", recent)}, now); err != nil {
		t.Fatalf("save posts: %v", err)
	}
	oldRange := daterange.New(old.Add(-time.Hour), old)
	loadedOld := timeline.GapState{
		ID:         uuid.New(),
		Range:      oldRange,
		ServiceIDs: []source.AccountID{"a"},
		Loaded:     map[source.AccountID][]daterange.Range{"a": {oldRange}},
	}
	recentGap := timeline.GapState{ID: uuid.New(), Range: daterange.New(recent, now), ServiceIDs: []source.AccountID{"a"}}
	if err := st.SaveGaps(ctx, []timeline.GapState{loadedOld, recentGap}, nil); err != nil {
		t.Fatalf("save gaps: %v", err)
	}

	pruned, err := st.PruneOld(ctx, 30, now)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	gaps, _, err := st.LoadGaps(ctx)
	if err != nil {
		t.Fatalf("load gaps: %v", err)
	}
	if len(gaps) != 1 || gaps[0].ID != recentGap.ID {
		t.Errorf("gaps = %+v, want only the recent gap", gaps)
	}
}

func TestPruneOld_KeepsUnresolvedGaps(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	unloaded := daterange.New(now.AddDate(0, 0, -31), now.AddDate(0, 0, -30))
	paused := daterange.New(now.AddDate(0, 0, -21), now.AddDate(0, 0, -20))
	gaps := []timeline.GapState{
		{ID: uuid.New(), Range: unloaded, ServiceIDs: []source.AccountID{"a"}},
		{
			ID:         uuid.New(),
			Range:      paused,
			ServiceIDs: []source.AccountID{"a", "b"},
			Loaded:     map[source.AccountID][]daterange.Range{"a": {paused}},
		},
	}
	span := daterange.New(now.AddDate(0, 0, -40), now)
	if err := st.SaveGaps(ctx, gaps, &span); err != nil {
		t.Fatalf("save gaps: %v", err)
	}

	if _, err := st.PruneOld(ctx, 7, now); err != nil {
		t.Fatalf("prune: %v", err)
	}

	got, gotSpan, err := st.LoadGaps(ctx)
	if err != nil {
		t.Fatalf("load gaps: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("gaps = %d, want 2", len(got))
	}
	for _, g := range got {
		if status := timeline.RestoreGap(g, false).LoadingStatus(); status == timeline.StatusLoaded {
			t.Errorf("gap %s restored as %s", g.ID, status)
		}
	}
	want := daterange.New(unloaded.Start, now)
	if gotSpan == nil || !gotSpan.Start.Equal(want.Start) || !gotSpan.End.Equal(want.End) {
		t.Errorf("span = %v, want %v", gotSpan, want)
	}
}

func TestPruneOld_TrimsSpanToCutoff(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	span := daterange.New(now.AddDate(0, 0, -40), now)
	if err := st.SaveGaps(ctx, nil, &span); err != nil {
		t.Fatalf("save gaps: %v", err)
	}

	if _, err := st.PruneOld(ctx, 7, now); err != nil {
		t.Fatalf("prune: %v", err)
	}

	_, gotSpan, err := st.LoadGaps(ctx)
	if err != nil {
		t.Fatalf("load gaps: %v", err)
	}
	cutoff := now.AddDate(0, 0, -7)
	if gotSpan == nil || !gotSpan.Start.Equal(cutoff) || !gotSpan.End.Equal(now) {
		t.Errorf("span = %v, want [%s, %s)", gotSpan, cutoff, now)
	}
}

func TestPruneOld_ClearsSpanOlderThanCutoff(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)
	span := daterange.New(now.AddDate(0, 0, -40), now.AddDate(0, 0, -30))
	if err := st.SaveGaps(ctx, nil, &span); err != nil {
		t.Fatalf("save gaps: %v", err)
	}

	if _, err := st.PruneOld(ctx, 7, now); err != nil {
		t.Fatalf("prune: %v", err)
	}

	_, gotSpan, err := st.LoadGaps(ctx)
	if err != nil {
		t.Fatalf("load gaps: %v", err)
	}
	if gotSpan != nil {
		t.Errorf("span = %v, want nil", gotSpan)
	}
}

func TestPruneOld_ZeroDays(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	pruned, err := st.PruneOld(ctx, 0, time.Now())
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 0 {
		t.Errorf("pruned = %d, want 0", pruned)
	}
}

func TestGetSourceStats(t *testing.T) {
	st, _ := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	liked := testPost("liked", now.Add(-time.Hour))
	liked.Status.Liked = true
	boosted := testPost("boosted", now.Add(-2*time.Hour))
	boosted.RepostedBy = &source.Author{Name: "b"}
	rss := source.Post{Source: source.PlatformRSS, Identifier: "r1", Channel: "Go Blog", Date: now.Add(-30 * time.Minute)}
	stale := testPost("stale", now.AddDate(0, 0, -10))

	if _, err := st.SavePosts(ctx, []source.Post{liked, boosted, rss, stale}, now); err != nil {
		t.Fatalf("save posts: %v", err)
	}

	stats, err := st.GetSourceStats(ctx, now.AddDate(0, 0, -7))
	if err != nil {
		t.Fatalf("source stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("stats = %d, want 2", len(stats))
	}

	m := stats[0]
	if m.Source != "mastodon" || m.Channel != "mastodon.social" {
		t.Errorf("first = %s/%s, want mastodon/mastodon.social", m.Source, m.Channel)
	}
	if m.Total != 2 || m.Liked != 1 || m.Reposts != 1 {
		t.Errorf("mastodon stats = %+v", m)
	}
	if !m.LastSeen.Equal(liked.Date) {
		t.Errorf("last seen = %v, want %v", m.LastSeen, liked.Date)
	}
	if stats[1].Source != "rss" || stats[1].Total != 1 {
		t.Errorf("rss stats = %+v", stats[1])
	}
}

func TestNilStore(t *testing.T) {
	var st *Store
	if err := st.Close(); err != nil {
		t.Errorf("close nil store: %v", err)
	}
	if _, err := st.LoadPosts(context.Background(), 0); err == nil {
		t.Error("expected error from nil store")
	}
}
