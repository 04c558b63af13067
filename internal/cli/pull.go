package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/feed"
	"github.com/ppiankov/threadline/internal/timeline"
)

var (
	pullAll     bool
	pullTimeout time.Duration
	olderWindow time.Duration
)

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Fetch posts newer than the cached timeline from every account",
	RunE:  pullAction,
}

var olderCmd = &cobra.Command{
	Use:   "older",
	Short: "Extend the timeline into the past and fetch that span",
	RunE:  olderAction,
}

func init() {
	pullCmd.Flags().BoolVar(&pullAll, "all", false, "also fill every unfinished gap")
	pullCmd.Flags().DurationVar(&pullTimeout, "timeout", 5*time.Minute, "give up waiting for fetches after this long")
	olderCmd.Flags().DurationVar(&olderWindow, "window", 0, "span to add below the oldest post (default timeline.older_window)")
	olderCmd.Flags().DurationVar(&pullTimeout, "timeout", 5*time.Minute, "give up waiting for fetches after this long")
	rootCmd.AddCommand(pullCmd, olderCmd)
}

// pullResult summarises one fetch round for printing.
type pullResult struct {
	newPosts int
	accounts int
	gaps     []timeline.Gap // unfinished gaps touched by the round
}

func pullAction(cmd *cobra.Command, _ []string) error {
	return fetchRound(commandContext(cmd), pullStart)
}

// pullStart refreshes the newest window and, with --all, fills every other
// unfinished gap.
func pullStart(ctx context.Context, s *session) ([]uuid.UUID, error) {
	id, err := s.feed.Refresh(ctx, s.cfg.Timeline.RefreshWindow.Duration)
	var ids []uuid.UUID
	switch {
	case errors.Is(err, timeline.ErrEmptyRange):
		fmt.Println("Timeline is up to date.")
	case err != nil:
		return nil, fmt.Errorf("refresh: %w", err)
	default:
		ids = append(ids, id)
	}

	if pullAll {
		filled, err := fillUnfinished(ctx, s.feed, ids)
		if err != nil {
			return nil, err
		}
		ids = append(ids, filled...)
	}
	return ids, nil
}

func olderAction(cmd *cobra.Command, _ []string) error {
	return fetchRound(commandContext(cmd), func(ctx context.Context, s *session) ([]uuid.UUID, error) {
		window := olderWindow
		if window <= 0 {
			window = s.cfg.Timeline.OlderWindow.Duration
		}
		id, err := s.feed.LoadOlder(ctx, window)
		if err != nil {
			return nil, fmt.Errorf("load older: %w", err)
		}
		return []uuid.UUID{id}, nil
	})
}

// fillUnfinished starts a fill for every gap that is not loaded yet, skipping
// those in started.
func fillUnfinished(ctx context.Context, f *feed.Feed, started []uuid.UUID) ([]uuid.UUID, error) {
	skip := make(map[uuid.UUID]bool, len(started))
	for _, id := range started {
		skip[id] = true
	}
	var ids []uuid.UUID
	for _, g := range f.Snapshot().Gaps {
		if skip[g.ID] || g.LoadingStatus() == timeline.StatusLoaded {
			continue
		}
		err := f.Fill(ctx, g.ID)
		if errors.Is(err, timeline.ErrGapAlreadyFilling) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fill gap %s: %w", g.ID, err)
		}
		ids = append(ids, g.ID)
	}
	return ids, nil
}

// fetchRound opens an online session and runs one fetch on it.
func fetchRound(ctx context.Context, start startFunc) error {
	s, err := openSession(ctx, sessionOptions{online: true})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()
	return s.fetch(ctx, start)
}

// startFunc kicks off fills and returns the IDs of the gaps it started.
type startFunc func(context.Context, *session) ([]uuid.UUID, error)

// fetch lets start kick off fills, waits for them, saves and prints what
// changed.
func (s *session) fetch(ctx context.Context, start startFunc) error {
	before := make(map[string]bool)
	for _, p := range s.feed.Snapshot().Posts {
		before[p.Key()] = true
	}

	ids, err := start(ctx, s)
	if err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, pullTimeout)
	defer cancel()
	if err := s.feed.WaitIdle(waitCtx); err != nil {
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("wait for fetch: %w", err)
		}
		fmt.Printf("warning: fetch still running after %s, saving partial results\n", pullTimeout)
		for _, id := range ids {
			_ = s.feed.Cancel(ctx, id)
		}
	}

	if err := s.save(ctx); err != nil {
		return err
	}

	snap := s.feed.Snapshot()
	res := pullResult{accounts: len(s.feed.Accounts())}
	for _, p := range snap.Posts {
		if !before[p.Key()] {
			res.newPosts++
		}
	}
	for _, id := range ids {
		if g, ok := snap.Gap(id); ok && g.LoadingStatus() != timeline.StatusLoaded {
			res.gaps = append(res.gaps, g)
		}
	}
	printPullResult(res)
	return nil
}

func printPullResult(res pullResult) {
	fmt.Printf("Pulled %d new posts from %d accounts", res.newPosts, res.accounts)
	if len(res.gaps) > 0 {
		fmt.Printf(" (%d gaps left unfinished)", len(res.gaps))
	}
	fmt.Println()

	for _, g := range res.gaps {
		fmt.Printf("  gap %s: %s, %.0f%% loaded\n", g.ID, g.LoadingStatus(), g.Progress()*100)
		if g.Err != nil {
			fmt.Printf("warning: %v\n", g.Err)
		}
	}
}
