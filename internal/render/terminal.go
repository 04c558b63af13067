package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

const excerptLength = 280

// TerminalFormatter renders a timeline for terminal output.
type TerminalFormatter struct {
	color bool
}

// NewTerminal creates a terminal renderer. Set color=true for ANSI colors.
func NewTerminal(color bool) *TerminalFormatter {
	return &TerminalFormatter{color: color}
}

// Render writes the elements newest first, gaps inline as separators.
func (f *TerminalFormatter) Render(w io.Writer, input Input) error {
	elements, hidden := visible(input)
	posts, gaps := count(input.Elements)

	header := fmt.Sprintf("threadline: %s, %s, %s",
		plural(input.Accounts, "account"), plural(posts, "post"), plural(gaps, "gap"))
	fmt.Fprintln(w, f.bold(header))
	if input.Span != nil {
		fmt.Fprintln(w, f.dim(fmt.Sprintf("covering %s to %s",
			input.Span.Start.Format(dateLayout), input.Span.End.Format(dateLayout))))
	}
	fmt.Fprintln(w)

	if len(elements) == 0 {
		fmt.Fprintln(w, "Timeline is empty. Run `threadline pull` to fetch posts.")
		return nil
	}

	for _, e := range elements {
		if e.IsGap() {
			f.writeGap(w, *e.Gap)
			continue
		}
		f.writePost(w, *e.Post, input)
	}

	if hidden > 0 {
		fmt.Fprintln(w, f.dim(fmt.Sprintf("... %s not shown", plural(hidden, "more element"))))
	}
	return nil
}

func (f *TerminalFormatter) writePost(w io.Writer, p source.Post, input Input) {
	meta := string(p.Source)
	if p.Channel != "" {
		meta += "/" + p.Channel
	}
	fmt.Fprintf(w, "  %s %s\n",
		f.bold(authorLabel(p.Author.Name, p.Author.Handle)),
		f.dim(meta+" · "+ago(p.Date, input.Now)),
	)
	if p.RepostedBy != nil {
		fmt.Fprintf(w, "    %s\n", f.dim("reposted by "+authorLabel(p.RepostedBy.Name, p.RepostedBy.Handle)))
	}
	if text := excerpt(p.Content, excerptLength); text != "" {
		fmt.Fprintf(w, "    %s\n", text)
	}
	for _, a := range p.Attachments {
		switch {
		case a.Kind == source.AttachmentLink && a.Link != nil:
			fmt.Fprintf(w, "    %s\n", f.dim("[link] "+firstNonEmpty(a.Link.Title, a.Link.URL)))
		case a.Kind == source.AttachmentImages && len(a.Images) > 0:
			fmt.Fprintf(w, "    %s\n", f.dim(fmt.Sprintf("[%s]", plural(len(a.Images), "image"))))
		}
	}
	if p.URL != "" {
		fmt.Fprintf(w, "    %s\n", f.dim(p.URL))
	}
	if counters := statusLine(p.Status); counters != "" {
		fmt.Fprintf(w, "    %s\n", f.dim(counters))
	}
	fmt.Fprintf(w, "    %s\n", f.dim(p.Key()))
	fmt.Fprintln(w)
}

func (f *TerminalFormatter) writeGap(w io.Writer, g timeline.Gap) {
	line := fmt.Sprintf("--- gap %s (%s, %s) ---", g.ID, span(g.Range), gapSummary(g))
	switch g.LoadingStatus() {
	case timeline.StatusError:
		fmt.Fprintln(w, f.red(line))
		fmt.Fprintf(w, "    %s\n", f.red(g.Err.Error()))
	case timeline.StatusLoading:
		fmt.Fprintln(w, f.yellow(line))
	default:
		fmt.Fprintln(w, f.cyan(line))
	}
	fmt.Fprintln(w)
}

func statusLine(s source.Status) string {
	var parts []string
	if s.LikeCount > 0 || s.Liked {
		like := plural(s.LikeCount, "like")
		if s.Liked {
			like += " (you)"
		}
		parts = append(parts, like)
	}
	if s.RepostCount > 0 || s.Reposted {
		repost := plural(s.RepostCount, "repost")
		if s.Reposted {
			repost += " (you)"
		}
		parts = append(parts, repost)
	}
	return strings.Join(parts, " · ")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ANSI helpers, no-op when color=false.

func (f *TerminalFormatter) wrap(code, s string) string {
	if !f.color {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

func (f *TerminalFormatter) bold(s string) string   { return f.wrap("1", s) }
func (f *TerminalFormatter) dim(s string) string    { return f.wrap("2", s) }
func (f *TerminalFormatter) red(s string) string    { return f.wrap("31", s) }
func (f *TerminalFormatter) yellow(s string) string { return f.wrap("33", s) }
func (f *TerminalFormatter) cyan(s string) string   { return f.wrap("36", s) }
