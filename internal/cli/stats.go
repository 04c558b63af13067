package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/config"
	"github.com/ppiankov/threadline/internal/store"
)

var (
	statsSince  string
	statsFormat string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cached post counts per source and channel",
	RunE:  statsAction,
}

func init() {
	statsCmd.Flags().StringVar(&statsSince, "since", "30d", "time window (e.g. 7d, 48h)")
	statsCmd.Flags().StringVar(&statsFormat, "format", "terminal", "output format: terminal, json")
	rootCmd.AddCommand(statsCmd)
}

const staleDays = 7

func statsAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	sinceDur, err := parseDuration(statsSince)
	if err != nil {
		return fmt.Errorf("parse --since: %w", err)
	}
	ctx := commandContext(cmd)

	stats, err := db.GetSourceStats(ctx, nowFunc().Add(-sinceDur))
	if err != nil {
		return fmt.Errorf("get stats: %w", err)
	}
	_, gaps, err := db.Counts(ctx)
	if err != nil {
		return fmt.Errorf("count: %w", err)
	}

	if len(stats) == 0 {
		if statsFormat == "json" {
			fmt.Fprintf(os.Stdout, "{\"channels\":[],\"totals\":{\"gaps\":%d}}\n", gaps)
			return nil
		}
		fmt.Fprintln(os.Stdout, "No posts found. Run 'threadline pull' first.")
		return nil
	}

	switch statsFormat {
	case "json":
		return printStatsJSON(os.Stdout, stats, gaps)
	case "terminal", "":
		printStats(os.Stdout, stats, gaps, sinceDur, nowFunc())
		return nil
	default:
		return fmt.Errorf("unknown format %q (want terminal or json)", statsFormat)
	}
}

type jsonStatsOutput struct {
	Channels []jsonChannelStats `json:"channels"`
	Totals   jsonTotals         `json:"totals"`
}

type jsonChannelStats struct {
	Source   string `json:"source"`
	Channel  string `json:"channel"`
	Total    int    `json:"total"`
	Liked    int    `json:"liked"`
	Reposts  int    `json:"reposts"`
	LastSeen string `json:"last_seen"`
}

type jsonTotals struct {
	Posts   int `json:"posts"`
	Liked   int `json:"liked"`
	Reposts int `json:"reposts"`
	Gaps    int `json:"gaps"`
}

func printStatsJSON(w io.Writer, stats []store.SourceStats, gaps int) error {
	channels := make([]jsonChannelStats, 0, len(stats))
	totals := jsonTotals{Gaps: gaps}

	for _, cs := range stats {
		channels = append(channels, jsonChannelStats{
			Source:   cs.Source,
			Channel:  cs.Channel,
			Total:    cs.Total,
			Liked:    cs.Liked,
			Reposts:  cs.Reposts,
			LastSeen: cs.LastSeen.UTC().Format(time.RFC3339),
		})
		totals.Posts += cs.Total
		totals.Liked += cs.Liked
		totals.Reposts += cs.Reposts
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(jsonStatsOutput{Channels: channels, Totals: totals})
}

func printStats(w io.Writer, stats []store.SourceStats, gaps int, since time.Duration, now time.Time) {
	totalPosts := 0
	totalLiked := 0
	for _, cs := range stats {
		totalPosts += cs.Total
		totalLiked += cs.Liked
	}

	fmt.Fprintf(w, "threadline stats: %s, %d posts from %d channels, %d open gaps\n\n",
		formatStatsDuration(since), totalPosts, len(stats), gaps)

	sorted := make([]store.SourceStats, len(stats))
	copy(sorted, stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Total > sorted[j].Total
	})

	fmt.Fprintln(w, "--- Posts by Channel ---")
	fmt.Fprintln(w)

	maxChan := 7 // minimum "Channel"
	for _, cs := range sorted {
		if n := len(channelLabel(cs)); n > maxChan {
			maxChan = n
		}
	}
	if maxChan > 40 {
		maxChan = 40
	}

	fmt.Fprintf(w, "  %-*s  %5s  %5s  %7s  %s\n", maxChan, "Channel", "Posts", "Liked", "Reposts", "Last post")
	for _, cs := range sorted {
		name := channelLabel(cs)
		if len(name) > maxChan {
			name = name[:maxChan-1] + "…"
		}
		fmt.Fprintf(w, "  %-*s  %5d  %5d  %7d  %s\n",
			maxChan, name, cs.Total, cs.Liked, cs.Reposts, relative(cs.LastSeen, now))
	}
	fmt.Fprintln(w)

	if totalLiked > 0 {
		fmt.Fprintf(w, "  Liked: %d of %d posts (%.1f%%)\n\n", totalLiked, totalPosts, pct(totalLiked, totalPosts))
	}

	staleThreshold := now.AddDate(0, 0, -staleDays)
	var stale []store.SourceStats
	for _, cs := range stats {
		if cs.LastSeen.Before(staleThreshold) {
			stale = append(stale, cs)
		}
	}
	if len(stale) > 0 {
		fmt.Fprintf(w, "--- Stale Channels (no posts in %d+ days) ---\n\n", staleDays)
		for _, cs := range stale {
			daysAgo := int(now.Sub(cs.LastSeen).Hours() / 24)
			fmt.Fprintf(w, "  %s: last post %d days ago\n", channelLabel(cs), daysAgo)
		}
		fmt.Fprintln(w)
	}
}

func channelLabel(cs store.SourceStats) string {
	if cs.Channel == "" {
		return cs.Source
	}
	return cs.Source + "/" + cs.Channel
}

func pct(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// parseDuration handles both Go durations and "Nd" day notation.
func parseDuration(s string) (time.Duration, error) {
	if len(s) > 1 && s[len(s)-1] == 'd' {
		var days int
		if _, err := fmt.Sscanf(s, "%dd", &days); err == nil && days > 0 {
			return time.Duration(days) * 24 * time.Hour, nil
		}
	}
	return time.ParseDuration(s)
}

func formatStatsDuration(d time.Duration) string {
	hours := int(d.Hours())
	if hours >= 24 && hours%24 == 0 {
		return fmt.Sprintf("%d days", hours/24)
	}
	return fmt.Sprintf("%dh", hours)
}
