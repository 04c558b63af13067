package cli

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/threadline/internal/config"
)

func TestExtractFeedURLs(t *testing.T) {
	outlines := []opmlOutline{
		{XMLURL: "https://krebsonsecurity.com/feed/", Text: "Krebs"},
		{XMLURL: "https://www.cisa.gov/cybersecurity-advisories/all.xml", Text: "CISA"},
		{XMLURL: "", Text: "Empty"},
		{XMLURL: "ftp://invalid.com/feed", Text: "Invalid scheme"},
	}

	urls := extractFeedURLs(outlines)
	if len(urls) != 2 {
		t.Fatalf("expected 2 URLs, got %d: %v", len(urls), urls)
	}
	if urls[0] != "https://krebsonsecurity.com/feed/" {
		t.Errorf("urls[0] = %q", urls[0])
	}
}

func TestExtractFeedURLs_Nested(t *testing.T) {
	outlines := []opmlOutline{
		{
			Text: "Go",
			Outlines: []opmlOutline{
				{XMLURL: "https://go.dev/blog/feed.atom"},
				{XMLURL: "https://research.swtch.com/feed.atom"},
			},
		},
		{
			Text: "Ops",
			Outlines: []opmlOutline{
				{XMLURL: "https://kubernetes.io/feed.xml"},
			},
		},
	}

	urls := extractFeedURLs(outlines)
	if len(urls) != 3 {
		t.Fatalf("expected 3 URLs from nested outlines, got %d: %v", len(urls), urls)
	}
}

func TestExtractFeedURLs_Empty(t *testing.T) {
	urls := extractFeedURLs(nil)
	if len(urls) != 0 {
		t.Errorf("expected 0 URLs, got %d", len(urls))
	}
}

func TestFindAccountFeeds(t *testing.T) {
	yamlContent := `accounts:
  - id: hn
    type: hn
  - id: blogs
    type: rss
    feeds:
      - "https://example.com/feed"
`
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(yamlContent), &doc); err != nil {
		t.Fatal(err)
	}

	accounts := findAccountsNode(&doc)
	if accounts == nil {
		t.Fatal("accounts node not found")
	}
	node := findAccountFeeds(accounts, "blogs")
	if node == nil {
		t.Fatal("feeds node not found")
	}
	if node.Kind != yaml.SequenceNode {
		t.Errorf("expected sequence node, got %d", node.Kind)
	}
	if len(node.Content) != 1 {
		t.Errorf("expected 1 feed, got %d", len(node.Content))
	}

	if findAccountFeeds(accounts, "missing") != nil {
		t.Error("expected nil for unknown account")
	}
}

func TestFindAccountsNode_Missing(t *testing.T) {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte("storage:\n  path: x.db\n"), &doc); err != nil {
		t.Fatal(err)
	}
	if findAccountsNode(&doc) != nil {
		t.Error("expected nil for config without accounts")
	}
}

func TestMergeFeeds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.DefaultConfigFile)
	content := `accounts:
  - id: blogs
    type: rss
    feeds: ["https://example.com/feed"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := mergeFeeds(path, "blogs", []string{"https://go.dev/blog/feed.atom"}); err != nil {
		t.Fatalf("merge existing account: %v", err)
	}
	if err := mergeFeeds(path, "more", []string{"https://kubernetes.io/feed.xml"}); err != nil {
		t.Fatalf("merge new account: %v", err)
	}

	cfg, err := config.Load(dir)
	if err != nil {
		t.Fatalf("load merged config: %v", err)
	}
	blogs, ok := cfg.Account("blogs")
	if !ok || len(blogs.Feeds) != 2 || blogs.Feeds[1] != "https://go.dev/blog/feed.atom" {
		t.Errorf("blogs feeds = %v", blogs.Feeds)
	}
	more, ok := cfg.Account("more")
	if !ok || more.Type != config.TypeRSS || len(more.Feeds) != 1 {
		t.Errorf("new account = %+v", more)
	}
}

func TestImportAction(t *testing.T) {
	env := setupCLI(t)
	oldDryRun, oldAccount := importDryRun, importAccount
	t.Cleanup(func() { importDryRun, importAccount = oldDryRun, oldAccount })
	importDryRun, importAccount = false, ""

	opmlPath := filepath.Join(env.dir, "feeds.opml")
	opmlContent := `<?xml version="1.0"?>
<opml version="2.0"><body>
  <outline text="Go">
    <outline xmlUrl="https://example.com/feed.xml" text="Example"/>
    <outline xmlUrl="https://go.dev/blog/feed.atom" text="Go Blog"/>
  </outline>
</body></opml>`
	if err := os.WriteFile(opmlPath, []byte(opmlContent), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := captureStdout(t, func() error { return importAction(env.cmd, []string{opmlPath}) })
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	requireContains(t, out, "Added 1 feeds to account blogs, skipped 1 duplicates.")

	cfg, err := config.Load(env.dir)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	blogs, _ := cfg.Account("blogs")
	if len(blogs.Feeds) != 2 {
		t.Errorf("feeds after import = %v", blogs.Feeds)
	}

	out, err = captureStdout(t, func() error { return importAction(env.cmd, []string{opmlPath}) })
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	requireContains(t, out, "All 2 feeds already present")
}

func TestImportTarget(t *testing.T) {
	cfg := &config.Config{Accounts: []config.AccountConfig{
		{ID: "hn", Type: config.TypeHN},
		{ID: "blogs", Type: config.TypeRSS},
	}}

	if got, err := importTarget(cfg, ""); err != nil || got != "blogs" {
		t.Errorf("default target = %q, %v; want blogs", got, err)
	}
	if got, err := importTarget(cfg, "new"); err != nil || got != "new" {
		t.Errorf("new target = %q, %v; want new", got, err)
	}
	if _, err := importTarget(cfg, "hn"); err == nil {
		t.Error("expected error for non-rss account")
	}

	cfg.Accounts = cfg.Accounts[:1]
	if got, err := importTarget(cfg, ""); err != nil || got != defaultImportAccount {
		t.Errorf("fallback target = %q, %v; want %s", got, err, defaultImportAccount)
	}
}
