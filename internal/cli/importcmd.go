package cli

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/threadline/internal/config"
)

// defaultImportAccount is the ID of the rss account created when the config
// has none.
const defaultImportAccount = "feeds"

var (
	importDryRun  bool
	importAccount string
)

var importCmd = &cobra.Command{
	Use:   "import <file.opml>",
	Short: "Import RSS feeds from an OPML file into an rss account",
	Args:  cobra.ExactArgs(1),
	RunE:  importAction,
}

func init() {
	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "show what would be added without modifying config")
	importCmd.Flags().StringVar(&importAccount, "account", "", "rss account to add feeds to (default: first rss account)")
	rootCmd.AddCommand(importCmd)
}

type opml struct {
	Body opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	XMLURL   string        `xml:"xmlUrl,attr"`
	Text     string        `xml:"text,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

func importAction(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read OPML: %w", err)
	}

	var doc opml
	if err := xml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse OPML: %w", err)
	}

	feedURLs := extractFeedURLs(doc.Body.Outlines)
	if len(feedURLs) == 0 {
		fmt.Println("No feed URLs found in OPML file.")
		return nil
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	target, err := importTarget(cfg, importAccount)
	if err != nil {
		return err
	}

	existing := make(map[string]bool)
	if ac, ok := cfg.Account(target); ok {
		for _, f := range ac.Feeds {
			existing[f] = true
		}
	}

	var newFeeds []string
	skipped := 0
	for _, u := range feedURLs {
		if existing[u] {
			skipped++
			continue
		}
		existing[u] = true
		newFeeds = append(newFeeds, u)
	}

	if len(newFeeds) == 0 {
		fmt.Printf("All %d feeds already present, nothing to add.\n", skipped)
		return nil
	}

	if importDryRun {
		fmt.Printf("Would add %d feeds to account %s (skipping %d duplicates):\n", len(newFeeds), target, skipped)
		for _, f := range newFeeds {
			fmt.Printf("  + %s\n", f)
		}
		return nil
	}

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	if err := mergeFeeds(configPath, target, newFeeds); err != nil {
		return fmt.Errorf("merge feeds: %w", err)
	}

	fmt.Printf("Added %d feeds to account %s, skipped %d duplicates.\n", len(newFeeds), target, skipped)
	return nil
}

// importTarget picks the rss account feeds are merged into. An unknown name
// becomes a new account.
func importTarget(cfg *config.Config, name string) (string, error) {
	if name != "" {
		if ac, ok := cfg.Account(name); ok && ac.Type != config.TypeRSS {
			return "", fmt.Errorf("account %s is %s, not rss", name, ac.Type)
		}
		return name, nil
	}
	for _, ac := range cfg.Accounts {
		if ac.Type == config.TypeRSS {
			return ac.ID, nil
		}
	}
	if _, taken := cfg.Account(defaultImportAccount); taken {
		return "", fmt.Errorf("no rss account configured and %q is taken, pass --account", defaultImportAccount)
	}
	return defaultImportAccount, nil
}

func extractFeedURLs(outlines []opmlOutline) []string {
	var urls []string
	for _, o := range outlines {
		u := strings.TrimSpace(o.XMLURL)
		if u != "" && (strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")) {
			urls = append(urls, u)
		}
		// Folders nest outlines.
		urls = append(urls, extractFeedURLs(o.Outlines)...)
	}
	return urls
}

// mergeFeeds reads config.yaml as a yaml.Node tree, appends newFeeds to the
// feeds of the named account, creating the account when missing, and writes
// the tree back.
func mergeFeeds(configPath, account string, newFeeds []string) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config YAML: %w", err)
	}

	accounts := findAccountsNode(&doc)
	if accounts == nil {
		return fmt.Errorf("could not find accounts in config.yaml")
	}

	feeds := findAccountFeeds(accounts, account)
	if feeds == nil {
		feeds = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		accounts.Content = append(accounts.Content, &yaml.Node{
			Kind: yaml.MappingNode,
			Tag:  "!!map",
			Content: []*yaml.Node{
				scalar("id"), scalar(account),
				scalar("type"), scalar(config.TypeRSS),
				scalar("feeds"), feeds,
			},
		})
	}

	// A flow sequence would put every feed on one line.
	feeds.Style = 0
	for _, f := range newFeeds {
		feeds.Content = append(feeds.Content, &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   "!!str",
			Value: f,
			Style: yaml.DoubleQuotedStyle,
		})
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(configPath, out, 0o644)
}

// findAccountsNode returns the sequence node at the top-level accounts key.
func findAccountsNode(doc *yaml.Node) *yaml.Node {
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return findAccountsNode(doc.Content[0])
	}
	node := findMapValue(doc, "accounts")
	if node == nil || node.Kind != yaml.SequenceNode {
		return nil
	}
	return node
}

// findAccountFeeds returns the feeds sequence of the account with the given
// id, adding an empty one if the account has none. Nil means no such account.
func findAccountFeeds(accounts *yaml.Node, id string) *yaml.Node {
	for _, acc := range accounts.Content {
		idNode := findMapValue(acc, "id")
		if idNode == nil || idNode.Value != id {
			continue
		}
		if feeds := findMapValue(acc, "feeds"); feeds != nil && feeds.Kind == yaml.SequenceNode {
			return feeds
		}
		feeds := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		acc.Content = append(acc.Content, scalar("feeds"), feeds)
		return feeds
	}
	return nil
}

func findMapValue(mapping *yaml.Node, key string) *yaml.Node {
	if mapping == nil || mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func scalar(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}
