package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile    = "config.yaml"
	DefaultEnvFile       = ".env"
	DefaultStoragePath   = "~/.local/share/threadline/threadline.db"
	DefaultRetainDays    = 30
	DefaultMaxPosts      = 500
	DefaultRefreshWindow = 4 * time.Hour
	DefaultOlderWindow   = 12 * time.Hour
	DefaultFetchStrategy = "concurrent"
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "text"
)

// Account types.
const (
	TypeMastodon = "mastodon"
	TypeReddit   = "reddit"
	TypeHN       = "hn"
	TypeRSS      = "rss"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

type Config struct {
	Accounts []AccountConfig `yaml:"accounts"`
	Timeline TimelineConfig  `yaml:"timeline"`
	Storage  StorageConfig   `yaml:"storage"`
	Privacy  PrivacyConfig   `yaml:"privacy"`
	Log      LogConfig       `yaml:"log"`
	Metrics  MetricsConfig   `yaml:"metrics"`
}

// AccountConfig describes one connected account. Which fields apply depends
// on Type.
type AccountConfig struct {
	ID        string   `yaml:"id"`
	Type      string   `yaml:"type"`
	Host      string   `yaml:"host"`
	TokenEnv  string   `yaml:"token_env"`
	Subreddit string   `yaml:"subreddit"`
	MinPoints int      `yaml:"min_points"`
	Feeds     []string `yaml:"feeds"`
	BaseURL   string   `yaml:"base_url"`
	RateLimit Duration `yaml:"rate_limit"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type TimelineConfig struct {
	MaxPosts          int      `yaml:"max_posts"`
	RefreshWindow     Duration `yaml:"refresh_window"`
	OlderWindow       Duration `yaml:"older_window"`
	ProgressiveReveal bool     `yaml:"progressive_reveal"`
	FetchStrategy     string   `yaml:"fetch_strategy"`
}

type StorageConfig struct {
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Account returns the account with the given ID.
func (c *Config) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// Load reads config.yaml from dir, loads dir/.env into the process
// environment, applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := loadEnvFile(filepath.Join(dir, DefaultEnvFile)); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Variables already set in the environment win over the file.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", filepath.Base(path), err)
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.RetainDays == 0 {
		cfg.Storage.RetainDays = DefaultRetainDays
	}
	if cfg.Timeline.MaxPosts == 0 {
		cfg.Timeline.MaxPosts = DefaultMaxPosts
	}
	if cfg.Timeline.RefreshWindow.Duration == 0 {
		cfg.Timeline.RefreshWindow.Duration = DefaultRefreshWindow
	}
	if cfg.Timeline.OlderWindow.Duration == 0 {
		cfg.Timeline.OlderWindow.Duration = DefaultOlderWindow
	}
	if cfg.Timeline.FetchStrategy == "" {
		cfg.Timeline.FetchStrategy = DefaultFetchStrategy
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	for i := range cfg.Accounts {
		if cfg.Accounts[i].TokenEnv != "" {
			cfg.Accounts[i].Token = os.Getenv(cfg.Accounts[i].TokenEnv)
		}
	}
}

func validate(cfg *Config) error {
	if len(cfg.Accounts) == 0 {
		return errors.New("accounts: at least one account must be configured")
	}

	seen := make(map[string]bool, len(cfg.Accounts))
	for i, a := range cfg.Accounts {
		if strings.TrimSpace(a.ID) == "" {
			return fmt.Errorf("accounts[%d]: id is required", i)
		}
		if seen[a.ID] {
			return fmt.Errorf("accounts[%d]: duplicate id %q", i, a.ID)
		}
		seen[a.ID] = true

		if err := validateAccount(a); err != nil {
			return fmt.Errorf("accounts[%d] (%s): %w", i, a.ID, err)
		}
	}

	if cfg.Timeline.MaxPosts < 0 {
		return fmt.Errorf("timeline.max_posts: must not be negative, got %d", cfg.Timeline.MaxPosts)
	}
	if cfg.Timeline.RefreshWindow.Duration < 0 {
		return errors.New("timeline.refresh_window: must be positive")
	}
	if cfg.Timeline.OlderWindow.Duration < 0 {
		return errors.New("timeline.older_window: must be positive")
	}
	switch cfg.Timeline.FetchStrategy {
	case "concurrent", "sequential":
	default:
		return fmt.Errorf("timeline.fetch_strategy: unknown strategy %q (want concurrent or sequential)", cfg.Timeline.FetchStrategy)
	}

	if cfg.Storage.RetainDays < 0 {
		return fmt.Errorf("storage.retain_days: must not be negative, got %d", cfg.Storage.RetainDays)
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q (want text or json)", cfg.Log.Format)
	}

	return nil
}

func validateAccount(a AccountConfig) error {
	if a.RateLimit.Duration < 0 {
		return errors.New("rate_limit: must not be negative")
	}
	switch a.Type {
	case TypeMastodon:
		if a.Host == "" {
			return errors.New("mastodon: host is required")
		}
		if a.TokenEnv == "" {
			return errors.New("mastodon: token_env is required")
		}
	case TypeReddit:
		if a.Subreddit == "" {
			return errors.New("reddit: subreddit is required")
		}
	case TypeHN:
		if a.MinPoints < 0 {
			return fmt.Errorf("hn: min_points must not be negative, got %d", a.MinPoints)
		}
	case TypeRSS:
		if len(a.Feeds) == 0 {
			return errors.New("rss: at least one feed is required")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown type %q (want mastodon, reddit, hn or rss)", a.Type)
	}
	return nil
}

// ExpandHome replaces a leading "~/" in path with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
