package source

import (
	"context"
	"errors"
	"fmt"
	"html"
	"iter"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
)

const mastodonPageSize = 40

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	paragraphRe  = regexp.MustCompile(`(?i)</p>\s*<p>|<br\s*/?>`)
	whitespaceRe = regexp.MustCompile(`\s{3,}`)
)

// Mastodon reads the home timeline of one Mastodon account.
type Mastodon struct {
	id   AccountID
	host string
	base string
	http *httpClient
	opts options
}

// NewMastodon creates a Mastodon account. host is the instance domain, token
// a user access token with read and write scopes.
func NewMastodon(id AccountID, host, token string, opts ...Option) (*Mastodon, error) {
	if id == "" {
		return nil, errors.New("mastodon: account id is required")
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, errors.New("mastodon: host is required")
	}
	if token == "" {
		return nil, errors.New("mastodon: access token is required")
	}
	o := buildOptions("https://"+host, mastodonPageSize, opts)
	return &Mastodon{
		id:   id,
		host: host,
		base: o.baseURL,
		http: newHTTPClient(o, token),
		opts: o,
	}, nil
}

func (m *Mastodon) ID() AccountID      { return m.id }
func (m *Mastodon) Platform() Platform { return PlatformMastodon }

// Timeline pages the home timeline backwards from r.End using max_id.
func (m *Mastodon) Timeline(ctx context.Context, r daterange.Range, gapID uuid.UUID) iter.Seq2[Fragment, error] {
	first := ""
	if r.End.Before(time.Now()) {
		first = mastodonIDAt(r.End)
	}
	return paginate(ctx, m.id, gapID, r, first, m.opts.maxPages, m.fetchPage)
}

func (m *Mastodon) fetchPage(ctx context.Context, maxID string) (page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(m.opts.pageSize))
	if maxID != "" {
		q.Set("max_id", maxID)
	}
	u := m.base + "/api/v1/timelines/home?" + q.Encode()

	var statuses []mastodonStatus
	if err := m.http.getJSON(ctx, u, &statuses); err != nil {
		return page{}, fmt.Errorf("mastodon: home timeline: %w", err)
	}

	posts := m.postsFromStatuses(statuses)
	pg := page{posts: posts}
	if len(statuses) > 0 {
		pg.next = statuses[len(statuses)-1].ID
	}
	return pg, nil
}

func (m *Mastodon) postsFromStatuses(statuses []mastodonStatus) []Post {
	posts := make([]Post, 0, len(statuses))
	for _, s := range statuses {
		shown := s
		var reposter *Author
		if s.Reblog != nil {
			shown = *s.Reblog
			a := m.author(s.Account)
			reposter = &a
		}

		posts = append(posts, Post{
			Source:      PlatformMastodon,
			Identifier:  s.ID,
			Channel:     m.host,
			Date:        s.CreatedAt.UTC(),
			Author:      m.author(shown.Account),
			RepostedBy:  reposter,
			Content:     plainText(shown.Content),
			URL:         firstNonEmpty(shown.URL, shown.URI),
			Attachments: mastodonAttachments(shown),
			Status: Status{
				LikeCount:   shown.FavouritesCount,
				Liked:       shown.Favourited,
				RepostCount: shown.ReblogsCount,
				Reposted:    shown.Reblogged,
			},
			Cursor: s.ID,
		})
	}
	return posts
}

func (m *Mastodon) author(a mastodonAccount) Author {
	return Author{
		Name:      firstNonEmpty(a.DisplayName, a.Username),
		Handle:    m.resolveHandle(a.Acct),
		AvatarURL: a.AvatarStatic,
	}
}

// resolveHandle qualifies local accounts with the instance host.
func (m *Mastodon) resolveHandle(acct string) string {
	if strings.Contains(acct, "@") {
		return "@" + acct
	}
	return "@" + acct + "@" + m.host
}

func mastodonAttachments(s mastodonStatus) []Attachment {
	var images []Image
	for _, media := range s.MediaAttachments {
		if media.Type != "image" || media.URL == "" {
			continue
		}
		images = append(images, Image{URL: media.URL, PreviewURL: media.PreviewURL, Description: media.Description})
	}

	var out []Attachment
	if len(images) > 0 {
		out = append(out, Attachment{Kind: AttachmentImages, Images: images})
	}
	if s.Card != nil && s.Card.URL != "" {
		out = append(out, Attachment{Kind: AttachmentLink, Link: &Link{
			URL:         s.Card.URL,
			Title:       s.Card.Title,
			Description: s.Card.Description,
			PreviewURL:  s.Card.Image,
		}})
	}
	return out
}

// LikePost favourites the status. The post must come from this account's
// instance since status IDs are local to an instance.
func (m *Mastodon) LikePost(ctx context.Context, post Post) error {
	if post.Source != PlatformMastodon {
		return fmt.Errorf("mastodon: cannot like %s post", post.Source)
	}
	u := m.base + "/api/v1/statuses/" + url.PathEscape(post.Identifier) + "/favourite"
	if err := m.http.doJSON(ctx, http.MethodPost, u, nil); err != nil {
		return fmt.Errorf("mastodon: favourite %s: %w", post.Identifier, err)
	}
	return nil
}

// Profiles resolves handles with the account lookup endpoint.
func (m *Mastodon) Profiles(ctx context.Context, handles []string) ([]Profile, error) {
	profiles := make([]Profile, 0, len(handles))
	for _, h := range handles {
		acct := strings.TrimPrefix(h, "@")
		acct = strings.TrimSuffix(acct, "@"+m.host)
		u := m.base + "/api/v1/accounts/lookup?acct=" + url.QueryEscape(acct)

		var a mastodonAccount
		if err := m.http.getJSON(ctx, u, &a); err != nil {
			return nil, fmt.Errorf("mastodon: lookup %s: %w", h, err)
		}
		profiles = append(profiles, Profile{
			Handle:    m.resolveHandle(a.Acct),
			Name:      firstNonEmpty(a.DisplayName, a.Username),
			Bio:       plainText(a.Note),
			AvatarURL: a.AvatarStatic,
			URL:       a.URL,
			Followers: a.FollowersCount,
		})
	}
	return profiles, nil
}

// mastodonIDAt builds a status ID that sorts right at t. Mastodon IDs carry
// the creation time in milliseconds above the low 16 bits.
func mastodonIDAt(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli()<<16, 10)
}

// plainText reduces status HTML to text.
func plainText(s string) string {
	s = paragraphRe.ReplaceAllString(s, "\n\n")
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

type mastodonStatus struct {
	ID               string          `json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	URI              string          `json:"uri"`
	URL              string          `json:"url"`
	Content          string          `json:"content"`
	Account          mastodonAccount `json:"account"`
	Reblog           *mastodonStatus `json:"reblog"`
	MediaAttachments []mastodonMedia `json:"media_attachments"`
	Card             *mastodonCard   `json:"card"`
	FavouritesCount  int             `json:"favourites_count"`
	ReblogsCount     int             `json:"reblogs_count"`
	Favourited       bool            `json:"favourited"`
	Reblogged        bool            `json:"reblogged"`
}

type mastodonAccount struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Acct           string `json:"acct"`
	DisplayName    string `json:"display_name"`
	Note           string `json:"note"`
	URL            string `json:"url"`
	AvatarStatic   string `json:"avatar_static"`
	FollowersCount int    `json:"followers_count"`
}

type mastodonMedia struct {
	Type        string `json:"type"`
	URL         string `json:"url"`
	PreviewURL  string `json:"preview_url"`
	Description string `json:"description"`
}

type mastodonCard struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
}
