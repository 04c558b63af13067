package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/config"
	"github.com/ppiankov/threadline/internal/privacy"
	"github.com/ppiankov/threadline/internal/store"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check config, accounts and the local cache",
	RunE:  doctorAction,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func doctorAction(cmd *cobra.Command, _ []string) error {
	ok := true

	// Config dir
	if info, err := os.Stat(configDir); err != nil || !info.IsDir() {
		printCheck(false, "config directory %s", configDir)
		ok = false
	} else {
		printCheck(true, "config directory %s", configDir)
	}

	// Config file
	cfg, err := config.Load(configDir)
	if err != nil {
		printCheck(false, "config.yaml: %v", err)
		return fmt.Errorf("some checks failed")
	}
	printCheck(true, "config.yaml (%s)", accountSummary(cfg.Accounts))

	// Accounts
	logger := slog.New(slog.DiscardHandler)
	for _, ac := range cfg.Accounts {
		if _, err := buildAccount(ac, logger); err != nil {
			printCheck(false, "account %s (%s): %v", ac.ID, ac.Type, err)
			ok = false
			continue
		}
		printCheck(true, "account %s (%s)", ac.ID, ac.Type)
	}

	// Redaction patterns
	if cfg.Privacy.Redact.Enabled {
		if _, err := privacy.NewRedactor(cfg.Privacy.Redact.Patterns); err != nil {
			printCheck(false, "redact patterns: %v", err)
			ok = false
		} else {
			printCheck(true, "redact patterns (%d)", len(cfg.Privacy.Redact.Patterns))
		}
	}

	// Database
	ctx := commandContext(cmd)
	db, err := openStore(cfg)
	if err != nil {
		printCheck(false, "database: %v", err)
		ok = false
	} else {
		defer func() { _ = db.Close() }()
		posts, gaps, err := db.Counts(ctx)
		if err != nil {
			printCheck(false, "database %s: %v", cfg.Storage.Path, err)
			ok = false
		} else {
			printCheck(true, "database %s (%d posts, %d gaps)", cfg.Storage.Path, posts, gaps)
			checkFeedHealth(ctx, db)
		}
	}

	if !ok {
		return fmt.Errorf("some checks failed")
	}
	fmt.Println("\nAll checks passed.")
	return nil
}

// accountSummary renders account counts per type, e.g. "2 mastodon, 1 rss".
func accountSummary(accounts []config.AccountConfig) string {
	counts := make(map[string]int)
	for _, a := range accounts {
		counts[a.Type]++
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Strings(types)

	parts := make([]string, 0, len(types))
	for _, t := range types {
		parts = append(parts, fmt.Sprintf("%d %s", counts[t], t))
	}
	return strings.Join(parts, ", ")
}

func checkFeedHealth(ctx context.Context, db *store.Store) {
	now := nowFunc()
	stats, err := db.GetSourceStats(ctx, now.AddDate(0, 0, -30))
	if err != nil || len(stats) == 0 {
		return
	}

	staleThreshold := now.AddDate(0, 0, -staleDays)
	printed := false
	for _, cs := range stats {
		if !cs.LastSeen.Before(staleThreshold) {
			continue
		}
		if !printed {
			fmt.Println()
			printed = true
		}
		daysAgo := int(now.Sub(cs.LastSeen).Hours() / 24)
		printInfo("stale: %s, last post %d days ago", channelLabel(cs), daysAgo)
	}
}

func printCheck(pass bool, format string, args ...any) {
	mark := "FAIL"
	if pass {
		mark = " OK "
	}
	fmt.Printf("[%s] %s\n", mark, fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...any) {
	fmt.Printf("[INFO] %s\n", fmt.Sprintf(format, args...))
}
