package render

import (
	"encoding/json"
	"io"
	"time"

	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

type jsonTimeline struct {
	Meta     jsonMeta      `json:"meta"`
	Elements []jsonElement `json:"elements"`
	Hidden   int           `json:"hidden,omitempty"`
}

type jsonMeta struct {
	Accounts  int    `json:"accounts"`
	Posts     int    `json:"posts"`
	Gaps      int    `json:"gaps"`
	SpanStart string `json:"span_start,omitempty"`
	SpanEnd   string `json:"span_end,omitempty"`
}

type jsonElement struct {
	Kind string    `json:"kind"`
	ID   string    `json:"id"`
	Post *jsonPost `json:"post,omitempty"`
	Gap  *jsonGap  `json:"gap,omitempty"`
}

type jsonPost struct {
	Key         string `json:"key"`
	Source      string `json:"source"`
	Channel     string `json:"channel,omitempty"`
	Author      string `json:"author"`
	Handle      string `json:"handle,omitempty"`
	RepostedBy  string `json:"reposted_by,omitempty"`
	PostedAt    string `json:"posted_at"`
	Content     string `json:"content"`
	URL         string `json:"url,omitempty"`
	Attachments int    `json:"attachments,omitempty"`
	Likes       int    `json:"likes"`
	Reposts     int    `json:"reposts"`
	Liked       bool   `json:"liked,omitempty"`
	Reposted    bool   `json:"reposted,omitempty"`
}

type jsonGap struct {
	ID          string   `json:"id"`
	Start       string   `json:"start"`
	End         string   `json:"end"`
	Status      string   `json:"status"`
	Progress    float64  `json:"progress"`
	Progressive bool     `json:"progressive,omitempty"`
	Accounts    []string `json:"accounts"`
	Read        bool     `json:"read,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// JSONFormatter renders a timeline as JSON.
type JSONFormatter struct{}

// NewJSON creates a JSON renderer.
func NewJSON() *JSONFormatter {
	return &JSONFormatter{}
}

// Render writes the timeline as a single JSON document to w.
func (f *JSONFormatter) Render(w io.Writer, input Input) error {
	elements, hidden := visible(input)
	posts, gaps := count(input.Elements)

	out := jsonTimeline{
		Meta: jsonMeta{
			Accounts: input.Accounts,
			Posts:    posts,
			Gaps:     gaps,
		},
		Elements: make([]jsonElement, 0, len(elements)),
		Hidden:   hidden,
	}
	if input.Span != nil {
		out.Meta.SpanStart = input.Span.Start.UTC().Format(time.RFC3339)
		out.Meta.SpanEnd = input.Span.End.UTC().Format(time.RFC3339)
	}

	for _, e := range elements {
		je := jsonElement{ID: e.ID()}
		if e.IsGap() {
			je.Kind = "gap"
			je.Gap = toJSONGap(*e.Gap)
		} else {
			je.Kind = "post"
			je.Post = toJSONPost(*e.Post)
		}
		out.Elements = append(out.Elements, je)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func toJSONPost(p source.Post) *jsonPost {
	jp := &jsonPost{
		Key:         p.Key(),
		Source:      string(p.Source),
		Channel:     p.Channel,
		Author:      p.Author.Name,
		Handle:      p.Author.Handle,
		PostedAt:    p.Date.UTC().Format(time.RFC3339),
		Content:     p.Content,
		URL:         p.URL,
		Attachments: len(p.Attachments),
		Likes:       p.Status.LikeCount,
		Reposts:     p.Status.RepostCount,
		Liked:       p.Status.Liked,
		Reposted:    p.Status.Reposted,
	}
	if p.RepostedBy != nil {
		jp.RepostedBy = firstNonEmpty(p.RepostedBy.Handle, p.RepostedBy.Name)
	}
	return jp
}

func toJSONGap(g timeline.Gap) *jsonGap {
	jg := &jsonGap{
		ID:          g.ID.String(),
		Start:       g.Range.Start.UTC().Format(time.RFC3339),
		End:         g.Range.End.UTC().Format(time.RFC3339),
		Status:      g.LoadingStatus().String(),
		Progress:    g.Progress(),
		Progressive: g.Progressive(),
		Accounts:    g.ServiceIDs(),
		Read:        g.ReadStatus == timeline.Read,
	}
	if jg.Accounts == nil {
		jg.Accounts = []string{}
	}
	if g.Err != nil {
		jg.Error = g.Err.Error()
	}
	return jg
}
