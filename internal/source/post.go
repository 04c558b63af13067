// Package source holds the post model shared by every network and the
// adapters that page through each network's timeline.
package source

import (
	"cmp"
	"time"
)

// Platform identifies the network a post came from.
type Platform string

const (
	PlatformMastodon Platform = "mastodon"
	PlatformReddit   Platform = "reddit"
	PlatformHN       Platform = "hn"
	PlatformRSS      Platform = "rss"
)

// Author is the person or feed a post is attributed to.
type Author struct {
	Name      string
	Handle    string
	AvatarURL string
}

// AttachmentKind tells which field of an Attachment is set.
type AttachmentKind string

const (
	AttachmentImages AttachmentKind = "images"
	AttachmentLink   AttachmentKind = "link"
)

// Image is one image attached to a post.
type Image struct {
	URL         string
	PreviewURL  string
	Description string
}

// Link is a link card attached to a post.
type Link struct {
	URL         string
	Title       string
	Description string
	PreviewURL  string
}

// Attachment is either a set of images or a link card.
type Attachment struct {
	Kind   AttachmentKind
	Images []Image
	Link   *Link
}

// Status holds the engagement counters of a post.
type Status struct {
	LikeCount   int
	Liked       bool
	RepostCount int
	Reposted    bool
}

// Post is a single item from a network. Posts are values: an update from a
// later fetch replaces the whole post.
type Post struct {
	Source      Platform
	Identifier  string // network-specific unique ID
	Channel     string // subreddit, feed title or instance
	Date        time.Time
	Author      Author
	RepostedBy  *Author
	Content     string
	URL         string
	Attachments []Attachment
	Status      Status
	Cursor      string // pagination cursor pointing at this post
}

// Key returns the identity of the post across every network.
func (p Post) Key() string {
	return string(p.Source) + "-" + p.Identifier
}

// WithStatus returns a copy of p carrying s.
func (p Post) WithStatus(s Status) Post {
	p.Status = s
	return p
}

// Compare orders posts newest first, ties broken by key.
func Compare(a, b Post) int {
	if c := b.Date.Compare(a.Date); c != 0 {
		return c
	}
	return cmp.Compare(a.Key(), b.Key())
}
