package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
)

const (
	hnChannelName = "Hacker News"
	hnSearchBase  = "https://hn.algolia.com/api/v1"
	hnItemBase    = "https://news.ycombinator.com/item?id="
	hnPageSize    = 100
)

// hnAPIBaseURL is the Firebase API used for user profiles. Tests override it.
var hnAPIBaseURL = "https://hacker-news.firebaseio.com/v0"

// HN reads Hacker News stories above a score threshold through the Algolia
// search API, which supports date bounded queries.
type HN struct {
	id        AccountID
	minPoints int
	baseURL   string
	http      *httpClient
	opts      options
}

// NewHN creates a Hacker News account. minPoints filters stories below the
// threshold.
func NewHN(id AccountID, minPoints int, opts ...Option) (*HN, error) {
	if id == "" {
		return nil, errors.New("hn: account id is required")
	}
	if minPoints < 1 {
		return nil, errors.New("hn: min_points must be at least 1")
	}
	o := buildOptions(hnSearchBase, hnPageSize, opts)
	return &HN{
		id:        id,
		minPoints: minPoints,
		baseURL:   o.baseURL,
		http:      newHTTPClient(o, ""),
		opts:      o,
	}, nil
}

func (h *HN) ID() AccountID      { return h.id }
func (h *HN) Platform() Platform { return PlatformHN }

// Timeline queries stories created inside r, newest first. The cursor is the
// Algolia page number.
func (h *HN) Timeline(ctx context.Context, r daterange.Range, gapID uuid.UUID) iter.Seq2[Fragment, error] {
	fetch := func(ctx context.Context, cursor string) (page, error) {
		return h.fetchPage(ctx, r, cursor)
	}
	return paginate(ctx, h.id, gapID, r, "0", h.opts.maxPages, fetch)
}

func (h *HN) fetchPage(ctx context.Context, r daterange.Range, cursor string) (page, error) {
	n, err := strconv.Atoi(cursor)
	if err != nil {
		return page{}, fmt.Errorf("hn: bad cursor %q: %w", cursor, err)
	}

	filters := []string{
		"created_at_i>=" + strconv.FormatInt(r.Start.Unix(), 10),
		"created_at_i<" + strconv.FormatInt(r.End.Unix(), 10),
		"points>=" + strconv.Itoa(h.minPoints),
	}
	q := url.Values{}
	q.Set("tags", "story")
	q.Set("numericFilters", strings.Join(filters, ","))
	q.Set("hitsPerPage", strconv.Itoa(h.opts.pageSize))
	q.Set("page", strconv.Itoa(n))

	var res hnSearchResult
	if err := h.http.getJSON(ctx, h.baseURL+"/search_by_date?"+q.Encode(), &res); err != nil {
		return page{}, fmt.Errorf("hn: search: %w", err)
	}

	pg := page{posts: postsFromHits(res.Hits)}
	if res.Page+1 < res.NbPages && len(res.Hits) > 0 {
		pg.next = strconv.Itoa(res.Page + 1)
	}
	return pg, nil
}

func postsFromHits(hits []hnHit) []Post {
	posts := make([]Post, 0, len(hits))
	for _, hit := range hits {
		discussion := hnItemBase + hit.ObjectID
		post := Post{
			Source:     PlatformHN,
			Identifier: hit.ObjectID,
			Channel:    hnChannelName,
			Date:       time.Unix(hit.CreatedAtI, 0).UTC(),
			Author:     Author{Name: hit.Author, Handle: hit.Author},
			Content:    hit.Title,
			URL:        discussion,
			Status:     Status{LikeCount: hit.Points},
			Cursor:     hit.ObjectID,
		}
		if hit.URL != "" {
			post.Attachments = []Attachment{{Kind: AttachmentLink, Link: &Link{URL: hit.URL, Title: hit.Title}}}
		}
		posts = append(posts, post)
	}
	return posts
}

// LikePost needs a logged in web session; the public APIs are read only.
func (h *HN) LikePost(context.Context, Post) error {
	return fmt.Errorf("hn: upvote: %w", ErrUnsupported)
}

// Profiles reads users from the Firebase API.
func (h *HN) Profiles(ctx context.Context, handles []string) ([]Profile, error) {
	profiles := make([]Profile, 0, len(handles))
	for _, handle := range handles {
		var u hnUser
		if err := h.http.getJSON(ctx, fmt.Sprintf("%s/user/%s.json", hnAPIBaseURL, url.PathEscape(handle)), &u); err != nil {
			return nil, fmt.Errorf("hn: user %s: %w", handle, err)
		}
		if u.ID == "" {
			return nil, fmt.Errorf("hn: user %s: not found", handle)
		}
		profiles = append(profiles, Profile{
			Handle: u.ID,
			Name:   u.ID,
			Bio:    plainText(u.About),
			URL:    "https://news.ycombinator.com/user?id=" + url.QueryEscape(u.ID),
		})
	}
	return profiles, nil
}

type hnSearchResult struct {
	Hits    []hnHit `json:"hits"`
	Page    int     `json:"page"`
	NbPages int     `json:"nbPages"`
}

type hnHit struct {
	ObjectID   string `json:"objectID"`
	Title      string `json:"title"`
	URL        string `json:"url"`
	Author     string `json:"author"`
	Points     int    `json:"points"`
	CreatedAtI int64  `json:"created_at_i"`
}

type hnUser struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Karma   int    `json:"karma"`
	About   string `json:"about"`
}
