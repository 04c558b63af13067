package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
)

const homeTimelineJSON = `[
  {"id":"300","created_at":"%s","url":"https://m.test/@ann/300","content":"<p>Hello &amp; welcome</p><p>second</p>",
   "account":{"acct":"ann","display_name":"Ann","avatar_static":"https://m.test/ann.png"},
   "favourites_count":3,"reblogs_count":1,"favourited":true,
   "media_attachments":[{"type":"image","url":"https://m.test/i.png","preview_url":"https://m.test/i_s.png","description":"a cat"},
                        {"type":"video","url":"https://m.test/v.mp4"}]},
  {"id":"200","created_at":"%s","uri":"https://other.test/s/1","content":"",
   "account":{"acct":"bob","display_name":"Bob"},
   "reblog":{"id":"99","created_at":"%s","url":"https://other.test/@cy/99","content":"<p>boosted</p>",
             "account":{"acct":"cy@other.test","display_name":"","username":"cy"},
             "card":{"url":"https://blog.test/post","title":"A post","image":"https://blog.test/img.png"}}}
]`

func newMastodonTest(t *testing.T, handler http.HandlerFunc) (*Mastodon, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	m, err := NewMastodon("home", "m.test", "secret", WithBaseURL(ts.URL))
	if err != nil {
		t.Fatalf("NewMastodon: %v", err)
	}
	return m, ts
}

func TestNewMastodon_Validation(t *testing.T) {
	tests := []struct {
		name            string
		id, host, token string
	}{
		{"no id", "", "m.test", "tok"},
		{"no host", "home", " ", "tok"},
		{"no token", "home", "m.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMastodon(tt.id, tt.host, tt.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMastodon_Timeline(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	r := daterange.New(now.Add(-6*time.Hour), now.Add(-time.Minute))

	var maxIDs []string
	m, _ := newMastodonTest(t, func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("authorization = %q", req.Header.Get("Authorization"))
		}
		if req.URL.Path != "/api/v1/timelines/home" {
			t.Errorf("path = %q", req.URL.Path)
		}
		if req.URL.Query().Get("limit") != "40" {
			t.Errorf("limit = %q", req.URL.Query().Get("limit"))
		}
		maxID := req.URL.Query().Get("max_id")
		maxIDs = append(maxIDs, maxID)
		w.Header().Set("Content-Type", "application/json")
		if maxID == "200" {
			fmt.Fprint(w, `[]`)
			return
		}
		fmt.Fprintf(w, homeTimelineJSON,
			now.Add(-2*time.Hour).Format(time.RFC3339),
			now.Add(-3*time.Hour).Format(time.RFC3339),
			now.Add(-5*time.Hour).Format(time.RFC3339))
	})

	frags, err := collect(t, m.Timeline(context.Background(), r, uuid.New()))
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(frags) != 2 {
		t.Fatalf("got %d fragments, want 2", len(frags))
	}
	if want := strconv.FormatInt(r.End.UnixMilli()<<16, 10); maxIDs[0] != want {
		t.Errorf("first max_id = %q, want %q", maxIDs[0], want)
	}
	if maxIDs[1] != "200" {
		t.Errorf("second max_id = %q, want 200", maxIDs[1])
	}

	posts := frags[0].Posts
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}

	ann := posts[0]
	if ann.Content != "Hello & welcome\n\nsecond" {
		t.Errorf("content = %q", ann.Content)
	}
	if ann.Author.Handle != "@ann@m.test" {
		t.Errorf("handle = %q, want instance qualified", ann.Author.Handle)
	}
	if !ann.Status.Liked || ann.Status.LikeCount != 3 || ann.Status.RepostCount != 1 {
		t.Errorf("status = %+v", ann.Status)
	}
	if len(ann.Attachments) != 1 || len(ann.Attachments[0].Images) != 1 {
		t.Fatalf("attachments = %+v, want one image set with one image", ann.Attachments)
	}

	boost := posts[1]
	if boost.Identifier != "200" || boost.Cursor != "200" {
		t.Errorf("boost identity = %s cursor %s, want wrapper status", boost.Identifier, boost.Cursor)
	}
	if boost.RepostedBy == nil || boost.RepostedBy.Handle != "@bob@m.test" {
		t.Errorf("reposted by = %+v", boost.RepostedBy)
	}
	if boost.Author.Handle != "@cy@other.test" || boost.Author.Name != "cy" {
		t.Errorf("author = %+v", boost.Author)
	}
	if boost.Content != "boosted" {
		t.Errorf("content = %q", boost.Content)
	}
	if len(boost.Attachments) != 1 || boost.Attachments[0].Kind != AttachmentLink {
		t.Errorf("attachments = %+v, want link card", boost.Attachments)
	}
	if frags[1].Covered.Start != r.Start {
		t.Errorf("coverage ends at %v, want %v", frags[1].Covered.Start, r.Start)
	}
}

func TestMastodon_LikePost(t *testing.T) {
	var gotMethod, gotPath string
	m, _ := newMastodonTest(t, func(w http.ResponseWriter, req *http.Request) {
		gotMethod, gotPath = req.Method, req.URL.Path
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})

	if err := m.LikePost(context.Background(), Post{Source: PlatformMastodon, Identifier: "42"}); err != nil {
		t.Fatalf("like: %v", err)
	}
	if gotMethod != http.MethodPost || gotPath != "/api/v1/statuses/42/favourite" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}

	if err := m.LikePost(context.Background(), Post{Source: PlatformReddit, Identifier: "x"}); err == nil {
		t.Error("expected error liking a reddit post")
	}
}

func TestMastodon_Profiles(t *testing.T) {
	m, _ := newMastodonTest(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/v1/accounts/lookup" {
			t.Errorf("path = %q", req.URL.Path)
		}
		if got := req.URL.Query().Get("acct"); got != "ann" {
			t.Errorf("acct = %q, want ann", got)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"acct":"ann","display_name":"Ann","note":"<p>Gopher</p>","url":"https://m.test/@ann","followers_count":7}`)
	})

	profiles, err := m.Profiles(context.Background(), []string{"@ann@m.test"})
	if err != nil {
		t.Fatalf("profiles: %v", err)
	}
	p := profiles[0]
	if p.Handle != "@ann@m.test" || p.Bio != "Gopher" || p.Followers != 7 {
		t.Errorf("profile = %+v", p)
	}
}

func TestMastodon_HTTPErrorNotRetried(t *testing.T) {
	calls := 0
	m, _ := newMastodonTest(t, func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := collect(t, m.Timeline(context.Background(), daterange.New(time.Now().Add(-time.Hour), time.Now()), uuid.New()))
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (401 is not retryable)", calls)
	}
}
