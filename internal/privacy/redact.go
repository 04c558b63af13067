package privacy

import (
	"fmt"
	"regexp"

	"github.com/ppiankov/threadline/internal/source"
)

const redactedPlaceholder = "[REDACTED]"

// Compile compiles a list of regex pattern strings into compiled regexps.
// Returns an error if any pattern is invalid.
func Compile(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("compile redact pattern %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Apply replaces all matches of the compiled patterns in text with [REDACTED].
func Apply(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		text = re.ReplaceAllString(text, redactedPlaceholder)
	}
	return text
}

// Redactor scrubs post text before it is cached.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor compiles patterns into a Redactor. A Redactor without patterns
// returns posts unchanged.
func NewRedactor(patterns []string) (*Redactor, error) {
	compiled, err := Compile(patterns)
	if err != nil {
		return nil, err
	}
	return &Redactor{patterns: compiled}, nil
}

// Text redacts a single string. A nil Redactor is a no-op.
func (r *Redactor) Text(text string) string {
	if r == nil || len(r.patterns) == 0 {
		return text
	}
	return Apply(text, r.patterns)
}

// Post returns a copy of p with its content and attachment text redacted.
// Identity, dates and URLs are left alone.
func (r *Redactor) Post(p source.Post) source.Post {
	if r == nil || len(r.patterns) == 0 {
		return p
	}

	p.Content = r.Text(p.Content)
	if len(p.Attachments) == 0 {
		return p
	}

	attachments := make([]source.Attachment, len(p.Attachments))
	for i, a := range p.Attachments {
		if a.Link != nil {
			link := *a.Link
			link.Title = r.Text(link.Title)
			link.Description = r.Text(link.Description)
			a.Link = &link
		}
		if len(a.Images) > 0 {
			images := make([]source.Image, len(a.Images))
			for j, img := range a.Images {
				img.Description = r.Text(img.Description)
				images[j] = img
			}
			a.Images = images
		}
		attachments[i] = a
	}
	p.Attachments = attachments
	return p
}

// Posts redacts every post in ps into a new slice.
func (r *Redactor) Posts(ps []source.Post) []source.Post {
	out := make([]source.Post, len(ps))
	for i, p := range ps {
		out[i] = r.Post(p)
	}
	return out
}
