package cli

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var likeCmd = &cobra.Command{
	Use:   "like <post-key>",
	Short: "Like a cached post on the network it came from",
	Long:  "like takes the key printed under each post by `threadline show`, e.g. mastodon-109876543210.",
	Args:  cobra.ExactArgs(1),
	RunE:  likeAction,
}

var profileCmd = &cobra.Command{
	Use:   "profile <account> <handle>",
	Short: "Look up an author profile through one account",
	Args:  cobra.ExactArgs(2),
	RunE:  profileAction,
}

func init() {
	rootCmd.AddCommand(likeCmd, profileCmd)
}

func likeAction(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(ctx, sessionOptions{online: true})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	key := strings.TrimPrefix(args[0], "post:")
	p, err := s.feed.LikePost(ctx, key)
	if err != nil {
		return err
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	fmt.Printf("Liked %s (%s likes).\n", p.Key(), humanize.Comma(int64(p.Status.LikeCount)))
	return nil
}

func profileAction(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	s, err := openSession(ctx, sessionOptions{online: true})
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	p, err := s.feed.Profile(ctx, args[0], strings.TrimPrefix(args[1], "@"))
	if err != nil {
		return err
	}

	name := p.Name
	if name == "" {
		name = p.Handle
	}
	fmt.Printf("%s (@%s)\n", name, p.Handle)
	if p.Bio != "" {
		fmt.Printf("  %s\n", p.Bio)
	}
	fmt.Printf("  followers: %s\n", humanize.Comma(int64(p.Followers)))
	if p.URL != "" {
		fmt.Printf("  %s\n", p.URL)
	}
	return nil
}
