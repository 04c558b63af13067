package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/threadline/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config directory with example files",
	RunE:  initAction,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func initAction(_ *cobra.Command, _ []string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	created := 0

	configPath := filepath.Join(configDir, config.DefaultConfigFile)
	wrote, err := writeIfNotExists(configPath, []byte(exampleConfig), 0o644)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	envPath := filepath.Join(configDir, config.DefaultEnvFile)
	wrote, err = writeIfNotExists(envPath, []byte(exampleEnv), 0o600)
	if err != nil {
		return err
	}
	if wrote {
		created++
	}

	if created == 0 {
		fmt.Printf("Config directory %s already initialized.\n", configDir)
	} else {
		fmt.Printf("Initialized %s with %d config files.\n", configDir, created)
	}
	return nil
}

// writeIfNotExists writes data to path if the file does not exist.
// Returns true if the file was created.
func writeIfNotExists(path string, data []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("  exists: %s\n", path)
		return false, nil
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("  created: %s\n", path)
	return true, nil
}

const exampleConfig = `# threadline configuration

accounts:
  - id: hn
    type: hn
    min_points: 50
  # - id: home
  #   type: mastodon        # mastodon | reddit | hn | rss
  #   host: mastodon.social
  #   token_env: MASTODON_TOKEN
  #   rate_limit: 1s
  # - id: golang
  #   type: reddit
  #   subreddit: golang
  # - id: blogs
  #   type: rss
  #   feeds:
  #     - "https://go.dev/blog/feed.atom"

timeline:
  max_posts: 500
  refresh_window: 4h
  older_window: 12h
  progressive_reveal: false
  fetch_strategy: concurrent   # concurrent | sequential

storage:
  path: ~/.local/share/threadline/threadline.db
  retain_days: 30

privacy:
  redact:
    enabled: false
    patterns: []

log:
  level: info
  format: text

metrics:
  addr: ""   # e.g. ":9090" to serve /metrics during "threadline run"
`

const exampleEnv = `# Secrets for threadline accounts. Variables already set in the
# environment take precedence over this file.
# MASTODON_TOKEN=
`
