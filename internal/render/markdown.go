package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

// MarkdownFormatter renders a timeline as Markdown.
type MarkdownFormatter struct{}

// NewMarkdown creates a Markdown renderer.
func NewMarkdown() *MarkdownFormatter {
	return &MarkdownFormatter{}
}

// Render writes the timeline as a Markdown list, gaps as block quotes.
func (f *MarkdownFormatter) Render(w io.Writer, input Input) error {
	elements, hidden := visible(input)
	posts, gaps := count(input.Elements)

	fmt.Fprintf(w, "# threadline\n\n")
	fmt.Fprintf(w, "%s, %s, %s\n\n",
		plural(input.Accounts, "account"), plural(posts, "post"), plural(gaps, "gap"))
	if input.Span != nil {
		fmt.Fprintf(w, "Covering %s to %s\n\n",
			input.Span.Start.Format(dateLayout), input.Span.End.Format(dateLayout))
	}

	if len(elements) == 0 {
		fmt.Fprintln(w, "Timeline is empty.")
		return nil
	}

	for _, e := range elements {
		if e.IsGap() {
			f.writeGap(w, *e.Gap)
			continue
		}
		f.writePost(w, *e.Post)
	}

	if hidden > 0 {
		fmt.Fprintf(w, "\n*%s not shown*\n", plural(hidden, "more element"))
	}
	return nil
}

func (f *MarkdownFormatter) writePost(w io.Writer, p source.Post) {
	fmt.Fprintf(w, "- **%s** (%s, %s)", escape(authorLabel(p.Author.Name, p.Author.Handle)),
		p.Source, p.Date.Format(dateLayout))
	if text := excerpt(p.Content, excerptLength); text != "" {
		fmt.Fprintf(w, ": %s", escape(text))
	}
	if p.URL != "" {
		fmt.Fprintf(w, " [link](%s)", p.URL)
	}
	fmt.Fprintln(w)
	if p.RepostedBy != nil {
		fmt.Fprintf(w, "  - reposted by %s\n", escape(authorLabel(p.RepostedBy.Name, p.RepostedBy.Handle)))
	}
	for _, a := range p.Attachments {
		if a.Kind == source.AttachmentLink && a.Link != nil {
			fmt.Fprintf(w, "  - [%s](%s)\n", escape(firstNonEmpty(a.Link.Title, a.Link.URL)), a.Link.URL)
		}
	}
}

func (f *MarkdownFormatter) writeGap(w io.Writer, g timeline.Gap) {
	fmt.Fprintf(w, "\n> gap `%s`: %s, %s\n", g.ID, span(g.Range), gapSummary(g))
	if g.Err != nil {
		fmt.Fprintf(w, ">\n> error: %s\n", escape(g.Err.Error()))
	}
	fmt.Fprintln(w)
}

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`,
	"*", `\*`,
	"_", `\_`,
	"`", "\\`",
	"[", `\[`,
	"]", `\]`,
)

func escape(s string) string {
	return markdownEscaper.Replace(s)
}
