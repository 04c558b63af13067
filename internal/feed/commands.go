package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
	"github.com/ppiankov/threadline/internal/source"
	"github.com/ppiankov/threadline/internal/timeline"
)

// LoadMoreID is the scroll target below the oldest element.
const LoadMoreID = "load-more"

// Refresh adds a gap from the newest known boundary up to now and starts
// filling it.
func (f *Feed) Refresh(ctx context.Context, maxInterval time.Duration) (uuid.UUID, error) {
	var id uuid.UUID
	err := f.do(ctx, func() error {
		var err error
		if id, err = f.tl.AddGapForNewest(maxInterval); err != nil {
			return fmt.Errorf("add newest gap: %w", err)
		}
		return f.startFill(id)
	})
	return id, err
}

// LoadOlder adds a gap of length interval below the oldest known boundary and
// starts filling it.
func (f *Feed) LoadOlder(ctx context.Context, interval time.Duration) (uuid.UUID, error) {
	var id uuid.UUID
	err := f.do(ctx, func() error {
		var err error
		if id, err = f.tl.AddGapForOldest(interval); err != nil {
			return fmt.Errorf("add oldest gap: %w", err)
		}
		return f.startFill(id)
	})
	return id, err
}

// Reveal trims the gap from edge up to to, or removes it when to is nil. It
// returns the ID of the element a view should keep in place: the neighbour
// on the anchor side, or the gap itself when the trim moves away from the
// anchor.
func (f *Feed) Reveal(ctx context.Context, id uuid.UUID, edge daterange.Edge, to *time.Time, anchor daterange.Edge) (string, error) {
	var target string
	err := f.do(ctx, func() error {
		scroll := scrollTarget(f.tl.Elements(), id, edge, to, anchor)
		if err := f.tl.Reveal(id, edge, to); err != nil {
			return err
		}
		target = scroll
		f.logger.Debug("gap_revealed",
			slog.String("gap_id", id.String()),
			slog.String("edge", edge.String()),
			slog.String("anchor", target))
		f.publish()
		return nil
	})
	return target, err
}

func scrollTarget(els []timeline.Element, id uuid.UUID, edge daterange.Edge, to *time.Time, anchor daterange.Edge) string {
	gapID := "gap:" + id.String()
	i := slices.IndexFunc(els, func(e timeline.Element) bool { return e.ID() == gapID })
	if i < 0 {
		return ""
	}
	switch {
	case anchor == daterange.Newest && (to == nil || edge == daterange.Newest):
		if i > 0 {
			return els[i-1].ID()
		}
		return ""
	case anchor == daterange.Oldest && (to == nil || edge == daterange.Oldest):
		if i+1 < len(els) {
			return els[i+1].ID()
		}
		return LoadMoreID
	default:
		return gapID
	}
}

// RemoveGap discards a fully loaded gap.
func (f *Feed) RemoveGap(ctx context.Context, id uuid.UUID) error {
	return f.do(ctx, func() error {
		if err := f.tl.RemoveGap(id); err != nil {
			return err
		}
		f.publish()
		return nil
	})
}

// MarkRead flags a gap as read.
func (f *Feed) MarkRead(ctx context.Context, id uuid.UUID) error {
	return f.do(ctx, func() error {
		if err := f.tl.MarkRead(id); err != nil {
			return err
		}
		f.publish()
		return nil
	})
}

// LikePost likes a held post on the network it came from and returns the
// updated post. Liking a liked post is a no-op.
func (f *Feed) LikePost(ctx context.Context, key string) (source.Post, error) {
	var (
		p   source.Post
		acc source.Account
	)
	err := f.do(ctx, func() error {
		var ok bool
		if p, ok = f.tl.Post(key); !ok {
			return fmt.Errorf("%w: %s", ErrPostNotFound, key)
		}
		if acc = f.accountFor(p); acc == nil {
			return fmt.Errorf("%w for post %s", ErrUnknownAccount, key)
		}
		return nil
	})
	if err != nil {
		return source.Post{}, err
	}
	if p.Status.Liked {
		return p, nil
	}

	if err := acc.LikePost(ctx, p); err != nil {
		return source.Post{}, fmt.Errorf("like %s: %w", key, err)
	}
	st := p.Status
	st.Liked = true
	st.LikeCount++
	liked := p.WithStatus(st)

	err = f.do(ctx, func() error {
		if f.tl.ReplacePost(liked) {
			f.publish()
		}
		return nil
	})
	return liked, err
}

// accountFor finds the account that delivered p, falling back to the first
// account on the same network. Loop only.
func (f *Feed) accountFor(p source.Post) source.Account {
	if id, ok := f.owners[p.Key()]; ok {
		if acc, ok := f.accounts[id]; ok {
			return acc
		}
	}
	for _, id := range f.order {
		if acc := f.accounts[id]; acc.Platform() == p.Source {
			return acc
		}
	}
	return nil
}

// Profile looks a handle up through an account, caching the answer.
func (f *Feed) Profile(ctx context.Context, account source.AccountID, handle string) (source.Profile, error) {
	acc, ok := f.accounts[account]
	if !ok {
		return source.Profile{}, fmt.Errorf("%w: %s", ErrUnknownAccount, account)
	}
	key := account + "/" + handle
	if p, ok := f.profiles.Get(key); ok {
		return p, nil
	}
	profiles, err := acc.Profiles(ctx, []string{handle})
	if err != nil {
		return source.Profile{}, fmt.Errorf("profile %s: %w", handle, err)
	}
	if len(profiles) == 0 {
		return source.Profile{}, fmt.Errorf("%w: %s", ErrProfileNotFound, handle)
	}
	f.profiles.Add(key, profiles[0])
	return profiles[0], nil
}
