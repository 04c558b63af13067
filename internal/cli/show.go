package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/render"
	"github.com/ppiankov/threadline/internal/timeline"
)

var (
	showFormat string
	showLimit  int
	noColor    bool
	gapsFormat string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the cached timeline with its gaps",
	RunE:  showAction,
}

var gapsCmd = &cobra.Command{
	Use:   "gaps",
	Short: "List gaps with their loading status",
	RunE:  gapsAction,
}

var readCmd = &cobra.Command{
	Use:   "read <gap-id>",
	Short: "Mark a gap as read",
	Args:  cobra.ExactArgs(1),
	RunE:  readAction,
}

func init() {
	showCmd.Flags().StringVar(&showFormat, "format", render.FormatTerminal, "output format: terminal, json, markdown")
	showCmd.Flags().IntVar(&showLimit, "limit", 50, "maximum elements to print (0 for all)")
	showCmd.Flags().BoolVar(&noColor, "no-color", false, "disable ANSI colors")
	gapsCmd.Flags().StringVar(&gapsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(showCmd, gapsCmd, readCmd)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func showAction(cmd *cobra.Command, _ []string) error {
	r, err := render.New(showFormat, !noColor && isTerminal(os.Stdout))
	if err != nil {
		return err
	}

	s, err := openSession(commandContext(cmd), sessionOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	snap := s.feed.Snapshot()
	in := render.Input{
		Elements: snap.Elements,
		Accounts: len(s.cfg.Accounts),
		Now:      nowFunc(),
		Limit:    showLimit,
	}
	if snap.HasRange {
		span := snap.Range
		in.Span = &span
	}
	return r.Render(os.Stdout, in)
}

func gapsAction(cmd *cobra.Command, _ []string) error {
	s, err := openSession(commandContext(cmd), sessionOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	gaps := s.feed.Snapshot().Gaps
	switch gapsFormat {
	case "json":
		return printGapsJSON(os.Stdout, gaps)
	case "terminal", "":
		printGaps(os.Stdout, gaps, nowFunc())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", gapsFormat)
	}
}

func readAction(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(ctx, sessionOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	id, err := s.resolveGapID(args[0])
	if err != nil {
		return err
	}
	if err := s.feed.MarkRead(ctx, id); err != nil {
		return err
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	fmt.Printf("Marked gap %s as read.\n", id)
	return nil
}

// printGaps lists gaps newest first.
func printGaps(w io.Writer, gaps []timeline.Gap, now time.Time) {
	if len(gaps) == 0 {
		fmt.Fprintln(w, "No gaps. The cached timeline is complete.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNEWEST\tOLDEST\tSTATUS\tLOADED\tACCOUNTS")
	for i := len(gaps) - 1; i >= 0; i-- {
		g := gaps[i]
		status := g.LoadingStatus().String()
		if g.ReadStatus == timeline.Read {
			status += " (read)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.0f%%\t%d\n",
			g.ID,
			relative(g.Range.End, now),
			relative(g.Range.Start, now),
			status,
			g.Progress()*100,
			len(g.ServiceIDs()),
		)
	}
	_ = tw.Flush()

	for i := len(gaps) - 1; i >= 0; i-- {
		if g := gaps[i]; g.Err != nil {
			fmt.Fprintf(w, "\n%s: %v", g.ID, g.Err)
		}
	}
	fmt.Fprintln(w)
}

type jsonGap struct {
	ID          string                 `json:"id"`
	Start       string                 `json:"start"`
	End         string                 `json:"end"`
	Status      string                 `json:"status"`
	Progress    float64                `json:"progress"`
	Progressive bool                   `json:"progressive"`
	Read        bool                   `json:"read"`
	Accounts    []string               `json:"accounts"`
	Missing     *jsonRange             `json:"missing,omitempty"`
	Loaded      map[string][]jsonRange `json:"loaded"`
	Error       string                 `json:"error,omitempty"`
}

type jsonRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func toJSONRange(r daterange.Range) jsonRange {
	return jsonRange{
		Start: r.Start.UTC().Format(time.RFC3339),
		End:   r.End.UTC().Format(time.RFC3339),
	}
}

func printGapsJSON(w io.Writer, gaps []timeline.Gap) error {
	out := make([]jsonGap, 0, len(gaps))
	for i := len(gaps) - 1; i >= 0; i-- {
		g := gaps[i]
		jg := jsonGap{
			ID:          g.ID.String(),
			Start:       g.Range.Start.UTC().Format(time.RFC3339),
			End:         g.Range.End.UTC().Format(time.RFC3339),
			Status:      g.LoadingStatus().String(),
			Progress:    g.Progress(),
			Progressive: g.Progressive(),
			Read:        g.ReadStatus == timeline.Read,
			Accounts:    g.ServiceIDs(),
			Loaded:      make(map[string][]jsonRange),
		}
		if jg.Accounts == nil {
			jg.Accounts = []string{}
		}
		if missing, ok := g.UnloadedRange(); ok {
			m := toJSONRange(missing)
			jg.Missing = &m
		}
		for account, ranges := range g.LoadedRanges() {
			for _, r := range ranges {
				jg.Loaded[account] = append(jg.Loaded[account], toJSONRange(r))
			}
		}
		if g.Err != nil {
			jg.Error = g.Err.Error()
		}
		out = append(out, jg)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{"gaps": out})
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func relative(t, now time.Time) string {
	return humanize.RelTime(t, now, "ago", "from now")
}
