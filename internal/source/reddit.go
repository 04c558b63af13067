package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"iter"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
)

const (
	redditBaseURL   = "https://www.reddit.com"
	redditPageSize  = 100
	redditRateLimit = 1 * time.Second
)

// Reddit reads the newest posts of a public subreddit through the JSON API.
type Reddit struct {
	id        AccountID
	subreddit string
	baseURL   string
	http      *httpClient
	opts      options
}

// NewReddit creates a Reddit account following one subreddit.
func NewReddit(id AccountID, subreddit string, opts ...Option) (*Reddit, error) {
	if id == "" {
		return nil, errors.New("reddit: account id is required")
	}
	subreddit = strings.TrimPrefix(strings.TrimSpace(subreddit), "r/")
	if subreddit == "" {
		return nil, errors.New("reddit: subreddit is required")
	}
	o := buildOptions(redditBaseURL, redditPageSize, append([]Option{WithRateLimit(redditRateLimit)}, opts...))
	return &Reddit{
		id:        id,
		subreddit: subreddit,
		baseURL:   o.baseURL,
		http:      newHTTPClient(o, ""),
		opts:      o,
	}, nil
}

func (rs *Reddit) ID() AccountID      { return rs.id }
func (rs *Reddit) Platform() Platform { return PlatformReddit }

// Timeline pages r/<subreddit>/new with the after cursor. Reddit has no
// date filter, so pages newer than r are skipped by the pager.
func (rs *Reddit) Timeline(ctx context.Context, r daterange.Range, gapID uuid.UUID) iter.Seq2[Fragment, error] {
	return paginate(ctx, rs.id, gapID, r, "", rs.opts.maxPages, rs.fetchPage)
}

func (rs *Reddit) fetchPage(ctx context.Context, after string) (page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(rs.opts.pageSize))
	q.Set("raw_json", "1")
	if after != "" {
		q.Set("after", after)
	}
	u := fmt.Sprintf("%s/r/%s/new.json?%s", rs.baseURL, url.PathEscape(rs.subreddit), q.Encode())

	var listing redditListing
	if err := rs.http.getJSON(ctx, u, &listing); err != nil {
		return page{}, fmt.Errorf("reddit: r/%s: %w", rs.subreddit, err)
	}
	return page{
		posts: postsFromListing(listing, rs.subreddit),
		next:  listing.Data.After,
	}, nil
}

func postsFromListing(listing redditListing, subreddit string) []Post {
	posts := make([]Post, 0, len(listing.Data.Children))
	for _, child := range listing.Data.Children {
		p := child.Data
		text := p.Title
		if strings.TrimSpace(p.Selftext) != "" {
			text = p.Title + "\n\n" + p.Selftext
		}

		post := Post{
			Source:     PlatformReddit,
			Identifier: p.ID,
			Channel:    subreddit,
			Date:       time.Unix(int64(p.CreatedUTC), 0).UTC(),
			Author:     Author{Name: p.Author, Handle: "u/" + p.Author},
			Content:    text,
			URL:        redditBaseURL + p.Permalink,
			Status:     Status{LikeCount: p.Score},
			Cursor:     p.Name,
		}
		if p.URL != "" && !p.IsSelf {
			post.Attachments = []Attachment{{Kind: AttachmentLink, Link: &Link{
				URL:        p.URL,
				Title:      p.Title,
				PreviewURL: redditThumbnail(p.Thumbnail),
			}}}
		}
		posts = append(posts, post)
	}
	return posts
}

// redditThumbnail drops the placeholder values Reddit uses instead of URLs.
func redditThumbnail(s string) string {
	if strings.HasPrefix(s, "http") {
		return html.UnescapeString(s)
	}
	return ""
}

// LikePost needs an OAuth session, which public reads do not have.
func (rs *Reddit) LikePost(context.Context, Post) error {
	return fmt.Errorf("reddit: like: %w", ErrUnsupported)
}

// Profiles reads /user/<name>/about.json per handle.
func (rs *Reddit) Profiles(ctx context.Context, handles []string) ([]Profile, error) {
	profiles := make([]Profile, 0, len(handles))
	for _, h := range handles {
		name := strings.TrimPrefix(strings.TrimPrefix(h, "/"), "u/")
		u := fmt.Sprintf("%s/user/%s/about.json", rs.baseURL, url.PathEscape(name))

		var about redditAbout
		if err := rs.http.getJSON(ctx, u, &about); err != nil {
			return nil, fmt.Errorf("reddit: u/%s: %w", name, err)
		}
		d := about.Data
		profiles = append(profiles, Profile{
			Handle:    "u/" + d.Name,
			Name:      firstNonEmpty(d.Subreddit.Title, d.Name),
			Bio:       d.Subreddit.PublicDescription,
			AvatarURL: html.UnescapeString(d.IconImg),
			URL:       redditBaseURL + "/user/" + d.Name,
			Followers: d.Subreddit.Subscribers,
		})
	}
	return profiles, nil
}

type redditListing struct {
	Data struct {
		After    string        `json:"after"`
		Children []redditChild `json:"children"`
	} `json:"data"`
}

type redditChild struct {
	Data redditPost `json:"data"`
}

type redditPost struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Title      string  `json:"title"`
	Selftext   string  `json:"selftext"`
	Author     string  `json:"author"`
	URL        string  `json:"url"`
	Permalink  string  `json:"permalink"`
	Thumbnail  string  `json:"thumbnail"`
	IsSelf     bool    `json:"is_self"`
	Score      int     `json:"score"`
	CreatedUTC float64 `json:"created_utc"`
}

type redditAbout struct {
	Data struct {
		Name      string `json:"name"`
		IconImg   string `json:"icon_img"`
		Subreddit struct {
			Title             string `json:"title"`
			PublicDescription string `json:"public_description"`
			Subscribers       int    `json:"subscribers"`
		} `json:"subreddit"`
	} `json:"data"`
}
