package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/config"
	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/feed"
	"github.com/ppiankov/threadline/internal/privacy"
	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/store"
	"github.com/ppiankov/threadline/internal/timeline"
)

// newAccounts builds the network adapters for the configured accounts.
// Tests replace it with fakes.
var newAccounts = buildAccounts

// nowFunc is the clock of every timeline the CLI creates.
var nowFunc = time.Now

// session is one command's view of the cached timeline: config, store and a
// running feed restored from the store.
type session struct {
	cfg      *config.Config
	db       *store.Store
	logger   *slog.Logger
	redactor *privacy.Redactor
	feed     *feed.Feed

	cancel context.CancelFunc
	done   chan error
}

type sessionOptions struct {
	online   bool
	feedOpts []feed.Option
}

// openSession loads config, opens the store and starts a feed over the
// restored timeline. Offline sessions connect no accounts, so they can
// rearrange gaps but never fetch.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Log, os.Stderr)

	db, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, db: db, logger: logger}
	if err := s.start(ctx, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) start(ctx context.Context, opts sessionOptions) error {
	if s.cfg.Privacy.Redact.Enabled {
		r, err := privacy.NewRedactor(s.cfg.Privacy.Redact.Patterns)
		if err != nil {
			return fmt.Errorf("compile redact patterns: %w", err)
		}
		s.redactor = r
	}

	var accounts []source.Account
	if opts.online {
		var err error
		if accounts, err = newAccounts(s.cfg, s.logger); err != nil {
			return err
		}
	}

	tl, err := s.restore(ctx)
	if err != nil {
		return err
	}

	strategy, err := feed.ParseStrategy(s.cfg.Timeline.FetchStrategy)
	if err != nil {
		return err
	}
	feedOpts := append([]feed.Option{
		feed.WithLogger(s.logger),
		feed.WithStrategy(strategy),
	}, opts.feedOpts...)

	f, err := feed.New(tl, accounts, feedOpts...)
	if err != nil {
		return err
	}
	s.feed = f

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan error, 1)
	go func() { s.done <- f.Run(runCtx) }()
	return nil
}

func (s *session) restore(ctx context.Context) (*timeline.Timeline, error) {
	ids := make([]source.AccountID, 0, len(s.cfg.Accounts))
	for _, a := range s.cfg.Accounts {
		ids = append(ids, a.ID)
	}
	tl := timeline.New(ids,
		timeline.WithMaxPosts(s.cfg.Timeline.MaxPosts),
		timeline.WithProgressiveReveal(s.cfg.Timeline.ProgressiveReveal),
		timeline.WithClock(nowFunc),
	)

	posts, err := s.db.LoadPosts(ctx, s.cfg.Timeline.MaxPosts)
	if err != nil {
		return nil, fmt.Errorf("load posts: %w", err)
	}
	gaps, span, err := s.db.LoadGaps(ctx)
	if err != nil {
		return nil, fmt.Errorf("load gaps: %w", err)
	}
	tl.Restore(posts, gaps, span)

	s.logger.Debug("timeline_restored",
		slog.Int("posts", len(posts)),
		slog.Int("gaps", len(gaps)))
	return tl, nil
}

// save writes the current snapshot back: posts (redacted when configured),
// the gap list and the tracked range. Old rows are pruned afterwards.
func (s *session) save(ctx context.Context) error {
	snap := s.feed.Snapshot()

	posts := s.redactor.Posts(snap.Posts)
	if _, err := s.db.SavePosts(ctx, posts, nowFunc()); err != nil {
		return fmt.Errorf("save posts: %w", err)
	}

	states := make([]timeline.GapState, 0, len(snap.Gaps))
	for _, g := range snap.Gaps {
		states = append(states, g.State())
	}
	var span *daterange.Range
	if snap.HasRange {
		r := snap.Range
		span = &r
	}
	if err := s.db.SaveGaps(ctx, states, span); err != nil {
		return fmt.Errorf("save gaps: %w", err)
	}

	pruned, err := s.db.PruneOld(ctx, s.cfg.Storage.RetainDays, nowFunc())
	if err != nil {
		return fmt.Errorf("prune old: %w", err)
	}
	s.logger.Debug("timeline_saved",
		slog.Int("posts", len(posts)),
		slog.Int("gaps", len(states)),
		slog.Int64("pruned", pruned))
	return nil
}

// Close stops the feed and closes the store.
func (s *session) Close() error {
	var runErr error
	if s.cancel != nil {
		s.cancel()
		runErr = <-s.done
	}
	return errors.Join(runErr, s.db.Close())
}

// resolveGapID accepts a full gap ID or an unambiguous prefix of one.
func (s *session) resolveGapID(arg string) (uuid.UUID, error) {
	if id, err := uuid.Parse(arg); err == nil {
		return id, nil
	}
	arg = strings.ToLower(strings.TrimPrefix(arg, "gap:"))
	if arg == "" {
		return uuid.Nil, errors.New("gap id is required")
	}

	var matches []uuid.UUID
	for _, g := range s.feed.Snapshot().Gaps {
		if strings.HasPrefix(g.ID.String(), arg) {
			matches = append(matches, g.ID)
		}
	}
	switch len(matches) {
	case 0:
		return uuid.Nil, fmt.Errorf("%w: %s", timeline.ErrGapNotFound, arg)
	case 1:
		return matches[0], nil
	default:
		return uuid.Nil, fmt.Errorf("gap id %q is ambiguous (%d matches)", arg, len(matches))
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	path, err := config.ExpandHome(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return db, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func buildAccounts(cfg *config.Config, logger *slog.Logger) ([]source.Account, error) {
	accounts := make([]source.Account, 0, len(cfg.Accounts))
	for _, ac := range cfg.Accounts {
		acc, err := buildAccount(ac, logger)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", ac.ID, err)
		}
		accounts = append(accounts, acc)
	}
	return accounts, nil
}

func buildAccount(ac config.AccountConfig, logger *slog.Logger) (source.Account, error) {
	opts := []source.Option{
		source.WithLogger(logger.With(slog.String("account", ac.ID))),
		source.WithUserAgent("threadline/" + Version),
	}
	if ac.BaseURL != "" {
		opts = append(opts, source.WithBaseURL(ac.BaseURL))
	}
	if ac.RateLimit.Duration > 0 {
		opts = append(opts, source.WithRateLimit(ac.RateLimit.Duration))
	}

	switch ac.Type {
	case config.TypeMastodon:
		if ac.Token == "" {
			return nil, fmt.Errorf("token env %s is empty", ac.TokenEnv)
		}
		return source.NewMastodon(ac.ID, ac.Host, ac.Token, opts...)
	case config.TypeReddit:
		return source.NewReddit(ac.ID, ac.Subreddit, opts...)
	case config.TypeHN:
		return source.NewHN(ac.ID, ac.MinPoints, opts...)
	case config.TypeRSS:
		return source.NewRSS(ac.ID, ac.Feeds, opts...)
	default:
		return nil, fmt.Errorf("unknown account type %q", ac.Type)
	}
}
