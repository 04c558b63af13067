// Package feed drives a timeline: it owns the timeline on a single loop
// goroutine, runs per-gap fill tasks against the configured accounts and
// publishes immutable snapshots for readers.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

const (
	opsBuffer          = 64
	defaultProfileSize = 256
)

var (
	// ErrClosed is returned by commands once Run has returned.
	ErrClosed = errors.New("feed: not running")
	// ErrPostNotFound means no held post has the requested key.
	ErrPostNotFound = errors.New("post not found")
	// ErrUnknownAccount means an account ID is not configured.
	ErrUnknownAccount = errors.New("unknown account")
	// ErrProfileNotFound means the network returned no profile for a handle.
	ErrProfileNotFound = errors.New("profile not found")
)

// Strategy selects how the accounts of one gap are fetched.
type Strategy int

const (
	// FetchConcurrent streams every account at once.
	FetchConcurrent Strategy = iota
	// FetchSequential streams accounts one after another.
	FetchSequential
)

// ParseStrategy converts "concurrent" or "sequential".
func ParseStrategy(s string) (Strategy, error) {
	switch s {
	case "", "concurrent":
		return FetchConcurrent, nil
	case "sequential":
		return FetchSequential, nil
	default:
		return 0, fmt.Errorf("unknown fetch strategy %q", s)
	}
}

func (s Strategy) String() string {
	if s == FetchSequential {
		return "sequential"
	}
	return "concurrent"
}

// AccountStatus is the loading phase of one account.
type AccountStatus int

const (
	AccountIdle AccountStatus = iota
	AccountLoading
	AccountFailed
)

// AccountState is reported through WithAccountState. Oldest is the lowest
// date confirmed by the latest fragment while loading.
type AccountState struct {
	Status AccountStatus
	GapID  uuid.UUID
	Oldest time.Time
	Err    error
}

// Snapshot is an immutable view of the timeline at one point of the loop.
type Snapshot struct {
	Version  uint64
	Elements []timeline.Element
	Posts    []source.Post
	Gaps     []timeline.Gap
	Range    daterange.Range
	HasRange bool
}

// Gap returns the gap with the given ID from the snapshot.
func (s *Snapshot) Gap(id uuid.UUID) (timeline.Gap, bool) {
	for _, g := range s.Gaps {
		if g.ID == id {
			return g, true
		}
	}
	return timeline.Gap{}, false
}

// Option configures a Feed.
type Option func(*Feed)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Feed) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithStrategy picks the per-gap fetch strategy.
func WithStrategy(s Strategy) Option {
	return func(f *Feed) { f.strategy = s }
}

// WithRegisterer registers the feed metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(f *Feed) { f.registerer = reg }
}

// WithOnChange is called on the loop goroutine after every published
// snapshot. It must not block or call back into the Feed.
func WithOnChange(fn func(*Snapshot)) Option {
	return func(f *Feed) { f.onChange = fn }
}

// WithAccountState is called on the loop goroutine whenever an account
// starts, advances, fails or finishes a fill. It must not call back into the
// Feed.
func WithAccountState(fn func(source.AccountID, AccountState)) Option {
	return func(f *Feed) { f.onAccount = fn }
}

// WithProfileCacheSize bounds the profile cache.
func WithProfileCacheSize(n int) Option {
	return func(f *Feed) {
		if n > 0 {
			f.profileSize = n
		}
	}
}

// Feed serializes every timeline mutation through Run. Commands may be called
// from any goroutine.
type Feed struct {
	accounts map[source.AccountID]source.Account
	order    []source.AccountID
	ops      chan func()
	done     chan struct{}
	started  atomic.Bool
	snapshot atomic.Pointer[Snapshot]
	profiles *lru.Cache[string, source.Profile]

	strategy    Strategy
	logger      *slog.Logger
	registerer  prometheus.Registerer
	metrics     *metrics
	onChange    func(*Snapshot)
	onAccount   func(source.AccountID, AccountState)
	profileSize int

	// owned by the loop
	tl      *timeline.Timeline
	runCtx  context.Context
	tasks   map[uuid.UUID]*task
	token   uint64
	version uint64
	active  int
	waiters []chan struct{}
	owners  map[string]source.AccountID
}

// New wraps tl. The timeline must not be touched directly afterwards. Its
// active accounts are set to the IDs of accounts.
func New(tl *timeline.Timeline, accounts []source.Account, opts ...Option) (*Feed, error) {
	if tl == nil {
		return nil, errors.New("feed: timeline is required")
	}
	f := &Feed{
		accounts:    make(map[source.AccountID]source.Account, len(accounts)),
		ops:         make(chan func(), opsBuffer),
		done:        make(chan struct{}),
		logger:      slog.Default(),
		profileSize: defaultProfileSize,
		tl:          tl,
		tasks:       make(map[uuid.UUID]*task),
		owners:      make(map[string]source.AccountID),
	}
	for _, opt := range opts {
		opt(f)
	}
	for _, a := range accounts {
		if _, dup := f.accounts[a.ID()]; dup {
			return nil, fmt.Errorf("feed: duplicate account %q", a.ID())
		}
		f.accounts[a.ID()] = a
		f.order = append(f.order, a.ID())
	}

	cache, err := lru.New[string, source.Profile](f.profileSize)
	if err != nil {
		return nil, fmt.Errorf("feed: profile cache: %w", err)
	}
	f.profiles = cache
	f.metrics = newMetrics(f.registerer)
	f.runCtx = context.Background()

	tl.SetServiceIDs(f.order)
	f.publish()
	return f, nil
}

// Run executes commands until ctx is done. Running fills are cancelled on
// return. Run may be called once.
func (f *Feed) Run(ctx context.Context) error {
	if !f.started.CompareAndSwap(false, true) {
		return errors.New("feed: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	f.runCtx = runCtx
	defer func() {
		cancel()
		close(f.done)
	}()

	f.logger.Info("feed_started",
		slog.Int("accounts", len(f.order)),
		slog.String("strategy", f.strategy.String()))
	for {
		select {
		case <-ctx.Done():
			for _, t := range f.tasks {
				t.cancel()
			}
			f.logger.Info("feed_stopped", slog.Int("running_fills", len(f.tasks)))
			return nil
		case op := <-f.ops:
			op()
		}
	}
}

// Elements returns the latest published display sequence.
func (f *Feed) Elements() []timeline.Element {
	return f.snapshot.Load().Elements
}

// Snapshot returns the latest published snapshot. It must not be modified.
func (f *Feed) Snapshot() *Snapshot {
	return f.snapshot.Load()
}

// Accounts returns the configured account IDs in configuration order.
func (f *Feed) Accounts() []source.AccountID {
	return append([]source.AccountID(nil), f.order...)
}

// do runs fn on the loop and waits for its result.
func (f *Feed) do(ctx context.Context, fn func() error) error {
	res := make(chan error, 1)
	op := func() { res <- fn() }
	select {
	case f.ops <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return ErrClosed
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return ErrClosed
	}
}

// post queues fn without waiting for it. It reports false once the loop is
// gone.
func (f *Feed) post(fn func()) bool {
	select {
	case f.ops <- fn:
		return true
	case <-f.done:
		return false
	}
}

// publish stores a fresh snapshot. Loop only.
func (f *Feed) publish() {
	f.version++
	s := &Snapshot{
		Version:  f.version,
		Elements: f.tl.Elements(),
		Posts:    f.tl.Posts(),
		Gaps:     f.tl.Gaps(),
	}
	s.Range, s.HasRange = f.tl.Range()
	f.snapshot.Store(s)

	f.metrics.gaps.Set(float64(len(s.Gaps)))
	f.metrics.posts.Set(float64(len(s.Posts)))
	if f.onChange != nil {
		f.onChange(s)
	}
}

func (f *Feed) reportAccount(id source.AccountID, st AccountState) {
	if f.onAccount != nil {
		f.onAccount(id, st)
	}
}
