package timeline

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrGapNotFound means no gap carries the requested ID.
	ErrGapNotFound = errors.New("gap not found")
	// ErrGapAlreadyFilling means a fill task is already running for the gap.
	ErrGapAlreadyFilling = errors.New("gap already being filled")
	// ErrAccountNotApplicable means a fragment came from an account the gap
	// does not expect.
	ErrAccountNotApplicable = errors.New("account not applicable to gap")
	// ErrUnresolvedGap means the gap still has unloaded posts and cannot be
	// discarded.
	ErrUnresolvedGap = errors.New("unresolved gap cannot be discarded")
	// ErrEmptyRange means a gap was requested for a span holding no instant.
	ErrEmptyRange = errors.New("empty gap range")
)

// GapError ties a timeline error to the gap it concerns.
type GapError struct {
	Op  string
	ID  uuid.UUID
	Err error
}

func (e *GapError) Error() string {
	return fmt.Sprintf("%s gap %s: %v", e.Op, e.ID, e.Err)
}

func (e *GapError) Unwrap() error { return e.Err }

func gapErr(op string, id uuid.UUID, err error) error {
	return &GapError{Op: op, ID: id, Err: err}
}
