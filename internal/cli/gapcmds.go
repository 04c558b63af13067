package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/daterange"
)

var (
	revealEdge   string
	revealTo     string
	revealAnchor string
)

var fillCmd = &cobra.Command{
	Use:   "fill <gap-id>",
	Short: "Fetch the missing span of a gap from every account",
	Args:  cobra.ExactArgs(1),
	RunE:  fillAction,
}

var revealCmd = &cobra.Command{
	Use:   "reveal <gap-id>",
	Short: "Shrink a loaded gap from one edge, or remove it",
	Long:  "reveal trims the gap from --edge up to --to, showing the posts it hid. Without --to the gap is removed, which is only allowed once it is fully loaded.",
	Args:  cobra.ExactArgs(1),
	RunE:  revealAction,
}

var removeCmd = &cobra.Command{
	Use:   "remove <gap-id>",
	Short: "Remove a fully loaded gap",
	Args:  cobra.ExactArgs(1),
	RunE:  removeAction,
}

func init() {
	fillCmd.Flags().DurationVar(&pullTimeout, "timeout", 5*time.Minute, "give up waiting for fetches after this long")
	revealCmd.Flags().StringVar(&revealEdge, "edge", "newest", "edge to reveal from: newest or oldest")
	revealCmd.Flags().StringVar(&revealTo, "to", "", "reveal up to this RFC3339 time instead of removing the gap")
	revealCmd.Flags().StringVar(&revealAnchor, "anchor", "newest", "side of the view to keep in place: newest or oldest")
	rootCmd.AddCommand(fillCmd, revealCmd, removeCmd)
}

func fillAction(cmd *cobra.Command, args []string) error {
	return fetchRound(commandContext(cmd), func(ctx context.Context, s *session) ([]uuid.UUID, error) {
		id, err := s.resolveGapID(args[0])
		if err != nil {
			return nil, err
		}
		if err := s.feed.Fill(ctx, id); err != nil {
			return nil, err
		}
		return []uuid.UUID{id}, nil
	})
}

func revealAction(cmd *cobra.Command, args []string) error {
	edge, err := daterange.ParseEdge(revealEdge)
	if err != nil {
		return fmt.Errorf("parse --edge: %w", err)
	}
	anchor, err := daterange.ParseEdge(revealAnchor)
	if err != nil {
		return fmt.Errorf("parse --anchor: %w", err)
	}
	var to *time.Time
	if revealTo != "" {
		t, err := time.Parse(time.RFC3339, revealTo)
		if err != nil {
			return fmt.Errorf("parse --to: %w", err)
		}
		to = &t
	}

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
	target, err := s.feed.Reveal(ctx, id, edge, to, anchor)
	if err != nil {
		return err
	}
	if err := s.save(ctx); err != nil {
		return err
	}

	if _, still := s.feed.Snapshot().Gap(id); still {
		fmt.Printf("Revealed gap %s from the %s edge.\n", id, edge)
	} else {
		fmt.Printf("Removed gap %s.\n", id)
	}
	if target != "" {
		fmt.Printf("Keep position at %s\n", target)
	}
	return nil
}

func removeAction(cmd *cobra.Command, args []string) error {
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
	if err := s.feed.RemoveGap(ctx, id); err != nil {
		return err
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	fmt.Printf("Removed gap %s.\n", id)
	return nil
}
