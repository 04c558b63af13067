package source

import (
	"context"
	"errors"
	"iter"

	"github.com/google/uuid"

	"github.com/ppiankov/threadline/internal/daterange"
)

// AccountID identifies one connected account.
type AccountID = string

// ErrUnsupported is returned for capabilities a network does not offer.
var ErrUnsupported = errors.New("not supported by this network")

// Fragment is one batch of posts from a single account for a single gap.
type Fragment struct {
	ServiceID AccountID
	GapID     uuid.UUID
	Posts     []Post          // newest to oldest
	Covered   daterange.Range // span the batch actually confirms, may be narrower than requested
}

// Profile describes an author as reported by a network.
type Profile struct {
	Handle    string
	Name      string
	Bio       string
	AvatarURL string
	URL       string
	Followers int
}

// Account is a connected account on some network.
type Account interface {
	// ID returns the account identifier used in gaps and fragments.
	ID() AccountID

	// Platform returns the network the account lives on.
	Platform() Platform

	// Timeline streams fragments covering r from its newest edge backwards.
	// The stream ends after the fragment that reaches r.Start, or with an
	// error.
	Timeline(ctx context.Context, r daterange.Range, gapID uuid.UUID) iter.Seq2[Fragment, error]

	// LikePost marks a post as liked by this account.
	LikePost(ctx context.Context, post Post) error

	// Profiles looks up author profiles by handle.
	Profiles(ctx context.Context, handles []string) ([]Profile, error)
}
