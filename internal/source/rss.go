package source

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mmcdole/gofeed"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/threadline/internal/daterange"
)

const (
	rssMaxWorkers  = 10
	rssDomainDelay = 3 * time.Second
)

// RSS reads a set of RSS/Atom feeds as one account. Every fetch is a single
// page holding whatever the feeds currently publish.
type RSS struct {
	id    AccountID
	feeds []string
	http  *httpClient
	opts  options
}

// NewRSS creates an RSS/Atom account. At least one feed URL is required.
func NewRSS(id AccountID, feeds []string, opts ...Option) (*RSS, error) {
	if id == "" {
		return nil, errors.New("rss: account id is required")
	}
	if len(feeds) == 0 {
		return nil, errors.New("rss: at least one feed URL is required")
	}
	o := buildOptions("", 0, opts)
	return &RSS{
		id:    id,
		feeds: slices.Clone(feeds),
		http:  newHTTPClient(o, ""),
		opts:  o,
	}, nil
}

func (rs *RSS) ID() AccountID      { return rs.id }
func (rs *RSS) Platform() Platform { return PlatformRSS }

// Timeline fetches every feed once. A feed that fails makes the whole fetch
// fail, since its share of the span stays unconfirmed.
func (rs *RSS) Timeline(ctx context.Context, r daterange.Range, gapID uuid.UUID) iter.Seq2[Fragment, error] {
	fetch := func(ctx context.Context, _ string) (page, error) {
		posts, err := rs.fetchAll(ctx)
		if err != nil {
			return page{}, err
		}
		return page{posts: posts}, nil
	}
	return paginate(ctx, rs.id, gapID, r, "", 1, fetch)
}

// LikePost is not something feeds support.
func (rs *RSS) LikePost(context.Context, Post) error {
	return fmt.Errorf("rss: like: %w", ErrUnsupported)
}

// Profiles is not something feeds support.
func (rs *RSS) Profiles(context.Context, []string) ([]Profile, error) {
	return nil, fmt.Errorf("rss: profiles: %w", ErrUnsupported)
}

func (rs *RSS) fetchAll(ctx context.Context) ([]Post, error) {
	// Group feeds by domain so same-domain requests are serialized.
	domainFeeds := make(map[string][]string)
	var domains []string
	for _, feedURL := range rs.feeds {
		d := feedDomain(feedURL)
		if _, ok := domainFeeds[d]; !ok {
			domains = append(domains, d)
		}
		domainFeeds[d] = append(domainFeeds[d], feedURL)
	}

	var (
		mu    sync.Mutex
		posts []Post
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(rssMaxWorkers)
	for _, d := range domains {
		feeds := domainFeeds[d]
		g.Go(func() error {
			for i, feedURL := range feeds {
				if i > 0 {
					if err := sleepFunc(gctx, rssDomainDelay); err != nil {
						return err
					}
				}
				items, err := rs.fetchFeed(gctx, feedURL)
				if err != nil {
					rs.opts.logger.Warn("rss_feed_failed",
						slog.String("account", rs.id),
						slog.String("feed", feedURL),
						slog.String("error", err.Error()))
					return err
				}
				mu.Lock()
				posts = append(posts, items...)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(posts, Compare)
	return posts, nil
}

// feedDomain extracts the host from a feed URL for rate limiting grouping.
func feedDomain(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return feedURL
	}
	return u.Host
}

func (rs *RSS) fetchFeed(ctx context.Context, feedURL string) ([]Post, error) {
	fp := gofeed.NewParser()
	fp.Client = rs.http.client

	var feed *gofeed.Feed
	err := rs.http.retry(ctx, feedURL, func() error {
		if err := rs.http.limiter.Wait(ctx); err != nil {
			return err
		}
		f, err := fp.ParseURLWithContext(feedURL, ctx)
		if err != nil {
			return err
		}
		feed = f
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("rss: fetch %s: %w", feedURL, err)
	}
	return postsFromFeed(feed, feedURL), nil
}

func postsFromFeed(feed *gofeed.Feed, feedURL string) []Post {
	var posts []Post
	for _, item := range feed.Items {
		postedAt := itemPublishedTime(item)
		if postedAt.IsZero() {
			continue
		}

		posts = append(posts, Post{
			Source:      PlatformRSS,
			Identifier:  itemID(item),
			Channel:     feedLabel(feed, feedURL),
			Date:        postedAt.UTC(),
			Author:      itemAuthor(feed, item, feedURL),
			Content:     itemText(item),
			URL:         item.Link,
			Attachments: itemAttachments(item),
		})
	}
	return posts
}

func itemPublishedTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return *item.PublishedParsed
	}
	if item.UpdatedParsed != nil {
		return *item.UpdatedParsed
	}
	return time.Time{}
}

func feedLabel(feed *gofeed.Feed, feedURL string) string {
	if feed.Title != "" {
		return feed.Title
	}
	return feedURL
}

func itemID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	return item.Link
}

func itemAuthor(feed *gofeed.Feed, item *gofeed.Item, feedURL string) Author {
	a := Author{Name: feedLabel(feed, feedURL), Handle: feedDomain(feedURL)}
	if item.Author != nil && item.Author.Name != "" {
		a.Name = item.Author.Name
	}
	if feed.Image != nil {
		a.AvatarURL = feed.Image.URL
	}
	return a
}

func itemText(item *gofeed.Item) string {
	raw := item.Content
	if raw == "" {
		raw = item.Description
	}

	text := plainText(raw)

	if item.Title != "" && !strings.Contains(text, item.Title) {
		text = item.Title + "\n\n" + text
	}

	return strings.TrimSpace(text)
}

func itemAttachments(item *gofeed.Item) []Attachment {
	var images []Image
	if item.Image != nil && item.Image.URL != "" {
		images = append(images, Image{URL: item.Image.URL, Description: item.Image.Title})
	}
	for _, enc := range item.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			images = append(images, Image{URL: enc.URL})
		}
	}
	if len(images) == 0 {
		return nil
	}
	return []Attachment{{Kind: AttachmentImages, Images: images}}
}
