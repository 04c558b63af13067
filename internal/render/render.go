package render

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/timeline"
)

// Input is what a renderer draws: the merged display sequence plus context
// for the header.
type Input struct {
	Elements []timeline.Element
	Accounts int
	Span     *daterange.Range
	Now      time.Time
	Limit    int // 0 shows every element
}

// Renderer writes a formatted timeline to w.
type Renderer interface {
	Render(w io.Writer, input Input) error
}

// Formats accepted by New.
const (
	FormatTerminal = "terminal"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// New returns the renderer for format. color only affects terminal output.
func New(format string, color bool) (Renderer, error) {
	switch format {
	case FormatTerminal, "":
		return NewTerminal(color), nil
	case FormatJSON:
		return NewJSON(), nil
	case FormatMarkdown, "md":
		return NewMarkdown(), nil
	default:
		return nil, fmt.Errorf("unknown format %q (want terminal, json or markdown)", format)
	}
}

// visible applies the limit and reports how many elements were cut.
func visible(in Input) ([]timeline.Element, int) {
	if in.Limit <= 0 || len(in.Elements) <= in.Limit {
		return in.Elements, 0
	}
	return in.Elements[:in.Limit], len(in.Elements) - in.Limit
}

func count(elements []timeline.Element) (posts, gaps int) {
	for _, e := range elements {
		if e.IsGap() {
			gaps++
		} else {
			posts++
		}
	}
	return posts, gaps
}

func plural(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return humanize.Comma(int64(n)) + " " + word + "s"
}

// ago formats t relative to now, e.g. "5 minutes ago".
func ago(t, now time.Time) string {
	if now.IsZero() {
		now = time.Now()
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

// span formats the length of r, e.g. "2 hours".
func span(r daterange.Range) string {
	return strings.TrimSpace(humanize.RelTime(r.Start, r.End, "", ""))
}

// gapSummary describes how far a gap has been fetched.
func gapSummary(g timeline.Gap) string {
	status := g.LoadingStatus()
	parts := []string{status.String()}
	if p := g.Progress(); p > 0 && status != timeline.StatusLoaded {
		parts = append(parts, fmt.Sprintf("%.0f%%", p*100))
	}
	if missing, ok := g.UnloadedRange(); ok {
		parts = append(parts, span(missing)+" missing")
	}
	return strings.Join(parts, ", ")
}

func authorLabel(name, handle string) string {
	switch {
	case handle == "":
		return name
	case name == "" || name == handle:
		return "@" + handle
	default:
		return name + " (@" + handle + ")"
	}
}

// excerpt collapses whitespace and truncates s to max runes.
func excerpt(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:max-1])) + "…"
}

const dateLayout = "2006-01-02 15:04 MST"
