package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

// errStale marks a fragment from a task that is no longer current.
var errStale = errors.New("stale fill task")

// task is one running fill of a gap. The token tells a cancelled task apart
// from a newer fill of the same gap.
type task struct {
	gapID  uuid.UUID
	token  uint64
	ctx    context.Context
	cancel context.CancelFunc
}

type job struct {
	account source.Account
	r       daterange.Range
}

// Fill starts fetching every account of the gap in the background. It fails
// with ErrGapAlreadyFilling while a fill of the same gap runs.
func (f *Feed) Fill(ctx context.Context, id uuid.UUID) error {
	return f.do(ctx, func() error { return f.startFill(id) })
}

// Cancel stops the running fill of a gap. Coverage merged so far is kept.
func (f *Feed) Cancel(ctx context.Context, id uuid.UUID) error {
	return f.do(ctx, func() error {
		t, running := f.tasks[id]
		if running {
			t.cancel()
			delete(f.tasks, id)
		}
		if err := f.tl.SetLoading(id, false); err != nil {
			return err
		}
		f.logger.Info("fill_cancelled",
			slog.String("gap_id", id.String()),
			slog.Bool("was_running", running))
		f.publish()
		return nil
	})
}

// WaitIdle blocks until no fill task is running.
func (f *Feed) WaitIdle(ctx context.Context) error {
	idle := make(chan struct{})
	err := f.do(ctx, func() error {
		if f.active == 0 {
			close(idle)
		} else {
			f.waiters = append(f.waiters, idle)
		}
		return nil
	})
	if err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return ErrClosed
	}
}

// startFill runs on the loop.
func (f *Feed) startFill(id uuid.UUID) error {
	g, ok := f.tl.Gap(id)
	if !ok {
		return &timeline.GapError{Op: "fill", ID: id, Err: timeline.ErrGapNotFound}
	}
	if _, running := f.tasks[id]; running {
		return &timeline.GapError{Op: "fill", ID: id, Err: timeline.ErrGapAlreadyFilling}
	}

	jobs, missing := f.jobsFor(g)
	ctx, cancel := context.WithCancel(f.runCtx)
	f.token++
	t := &task{gapID: id, token: f.token, ctx: ctx, cancel: cancel}
	f.tasks[id] = t
	f.active++
	f.metrics.fillsStarted.Inc()

	_ = f.tl.SetError(id, nil)
	_ = f.tl.SetLoading(id, true)
	if len(missing) > 0 {
		_ = f.tl.SetError(id, fmt.Errorf("%w: %s", ErrUnknownAccount, strings.Join(missing, ", ")))
	}
	f.logger.Info("fill_started",
		slog.String("gap_id", id.String()),
		slog.String("range", g.Range.String()),
		slog.Int("accounts", len(jobs)))
	f.publish()

	go f.runTask(t, jobs)
	return nil
}

// jobsFor lists what each account still has to fetch for g. Accounts the gap
// expects but the feed does not know are returned separately.
func (f *Feed) jobsFor(g timeline.Gap) (jobs []job, missing []string) {
	for _, id := range g.ServiceIDs() {
		acc, ok := f.accounts[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		r, ok := g.MissingRange(id)
		if !ok {
			continue
		}
		jobs = append(jobs, job{account: acc, r: r})
	}
	return jobs, missing
}

func (f *Feed) runTask(t *task, jobs []job) {
	var err error
	switch f.strategy {
	case FetchSequential:
		for _, j := range jobs {
			if t.ctx.Err() != nil {
				break
			}
			if serr := f.stream(t, j); serr != nil {
				err = errors.Join(err, serr)
			}
		}
	default:
		var g errgroup.Group
		for _, j := range jobs {
			g.Go(func() error { return f.stream(t, j) })
		}
		err = g.Wait()
	}
	f.post(func() { f.finish(t, err) })
}

// stream feeds one account's fragments into the loop, one at a time, so
// fragments land in the order the account produced them.
func (f *Feed) stream(t *task, j job) error {
	id := j.account.ID()
	for frag, err := range j.account.Timeline(t.ctx, j.r, t.gapID) {
		if t.ctx.Err() != nil {
			return nil
		}
		if err != nil {
			f.post(func() { f.fail(t, id, err) })
			return fmt.Errorf("%s: %w", id, err)
		}
		frag.ServiceID = id
		frag.GapID = t.gapID
		err := f.do(t.ctx, func() error { return f.applyFragment(t, frag) })
		switch {
		case err == nil:
		case errors.Is(err, errStale), errors.Is(err, timeline.ErrGapNotFound),
			errors.Is(err, context.Canceled), errors.Is(err, ErrClosed):
			return nil
		default:
			return fmt.Errorf("%s: %w", id, err)
		}
	}
	f.post(func() { f.accountDone(t, id) })
	return nil
}

// applyFragment runs on the loop.
func (f *Feed) applyFragment(t *task, frag source.Fragment) error {
	if f.tasks[t.gapID] != t {
		f.metrics.staleDropped.Inc()
		return errStale
	}
	if err := f.tl.Update(frag); err != nil {
		if errors.Is(err, timeline.ErrGapNotFound) {
			f.logger.Debug("fill_gap_superseded",
				slog.String("gap_id", t.gapID.String()),
				slog.String("account", frag.ServiceID))
		} else {
			f.logger.Warn("fragment_rejected",
				slog.String("gap_id", t.gapID.String()),
				slog.String("account", frag.ServiceID),
				slog.String("error", err.Error()))
		}
		return err
	}
	for _, p := range frag.Posts {
		f.owners[p.Key()] = frag.ServiceID
	}
	f.metrics.fragments.WithLabelValues(frag.ServiceID).Inc()
	f.reportAccount(frag.ServiceID, AccountState{
		Status: AccountLoading,
		GapID:  t.gapID,
		Oldest: frag.Covered.Start,
	})
	f.publish()
	return nil
}

// fail attaches an account failure to the gap. Siblings keep running.
func (f *Feed) fail(t *task, account source.AccountID, err error) {
	if f.tasks[t.gapID] != t {
		return
	}
	wrapped := fmt.Errorf("%s: %w", account, err)
	if g, ok := f.tl.Gap(t.gapID); ok && g.Err != nil {
		wrapped = errors.Join(g.Err, wrapped)
	}
	if serr := f.tl.SetError(t.gapID, wrapped); serr != nil {
		return
	}
	f.metrics.fetchErrors.WithLabelValues(account).Inc()
	f.logger.Warn("fill_account_failed",
		slog.String("gap_id", t.gapID.String()),
		slog.String("account", account),
		slog.String("error", err.Error()))
	f.reportAccount(account, AccountState{Status: AccountFailed, GapID: t.gapID, Err: err})
	f.publish()
}

func (f *Feed) accountDone(t *task, account source.AccountID) {
	if f.tasks[t.gapID] != t {
		return
	}
	f.reportAccount(account, AccountState{Status: AccountIdle, GapID: t.gapID})
}

// finish runs on the loop once every stream of the task returned.
func (f *Feed) finish(t *task, err error) {
	f.active--
	t.cancel()
	if f.tasks[t.gapID] == t {
		delete(f.tasks, t.gapID)
		_ = f.tl.SetLoading(t.gapID, false)
		f.pruneOwners()

		attrs := []any{slog.String("gap_id", t.gapID.String())}
		if g, ok := f.tl.Gap(t.gapID); ok {
			attrs = append(attrs,
				slog.String("status", g.LoadingStatus().String()),
				slog.Float64("progress", g.Progress()))
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		f.logger.Info("fill_done", attrs...)
		f.publish()
	}
	if f.active == 0 {
		for _, w := range f.waiters {
			close(w)
		}
		f.waiters = nil
	}
}

// pruneOwners forgets accounts of posts the timeline no longer holds.
func (f *Feed) pruneOwners() {
	held := make(map[string]struct{}, len(f.owners))
	for _, p := range f.tl.Posts() {
		held[p.Key()] = struct{}{}
	}
	for key := range f.owners {
		if _, ok := held[key]; !ok {
			delete(f.owners, key)
		}
	}
}
