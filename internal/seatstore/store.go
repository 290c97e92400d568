// Package seatstore wraps the conditional-write primitive of each supported
// backend behind one contract.  Every mutation is a single compare-and-set
// scoped to one (movie, seat) key; there is no read-then-write anywhere in
// this package.
package seatstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/iliyamo/seat-coordinator/internal/model"
)

// Status is the three-way answer of a conditional mutation.
type Status int

const (
	// Applied means the write is durable and visible to linearizable reads.
	Applied Status = iota + 1
	// Rejected means the precondition did not hold when evaluated.
	Rejected
	// Indeterminate means the write may or may not have landed.
	Indeterminate
)

func (s Status) String() string {
	switch s {
	case Applied:
		return "applied"
	case Rejected:
		return "rejected"
	case Indeterminate:
		return "indeterminate"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// RejectReason qualifies a Rejected release.
type RejectReason string

const (
	ReasonOccupied RejectReason = "occupied"  // reserve: someone holds the seat
	ReasonNotOwner RejectReason = "not_owner" // release: someone else holds the seat
	ReasonFree     RejectReason = "free"      // release: nobody holds the seat
)

// Result reports the outcome of ConditionalReserve or ConditionalRelease.
//
// On Rejected, Occupant and OccupantToken describe the holder observed when
// the precondition was evaluated.  Occupant may be empty on a rejected
// reserve when the backend could not report it; callers must then read the
// seat instead of guessing.  Cause carries the fault behind an
// Indeterminate result and is nil otherwise.
type Result struct {
	Status        Status
	Reason        RejectReason
	Occupant      string
	OccupantToken string
	Cause         error
}

// Store is the storage adapter contract.  Transient faults (timeouts,
// dropped connections, inconclusive quorum) are reported as Indeterminate
// and never as an error; a non-nil error is fatal for the operation.
type Store interface {
	// ConditionalReserve sets the occupant to userID iff the seat is free.
	ConditionalReserve(ctx context.Context, movie, seat, userID, token string) (Result, error)
	// ConditionalRelease frees the seat iff userID is the occupant.
	ConditionalRelease(ctx context.Context, movie, seat, userID string) (Result, error)
	// LinearizableRead returns the committed state of one seat.  A transient
	// failure is returned wrapped in ErrIndeterminate.
	LinearizableRead(ctx context.Context, movie, seat string) (model.SeatState, error)
	// ListSeats returns every seat record of a movie ordered by label.
	ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	// ErrIndeterminate wraps transient read failures.
	ErrIndeterminate = errors.New("seatstore: indeterminate")
	// ErrSchema reports a missing table, keyspace or column.
	ErrSchema = errors.New("seatstore: schema mismatch")
)

func applied() Result { return Result{Status: Applied} }

func occupied(user, token string) Result {
	return Result{Status: Rejected, Reason: ReasonOccupied, Occupant: user, OccupantToken: token}
}

func notOwner(user string) Result {
	return Result{Status: Rejected, Reason: ReasonNotOwner, Occupant: user}
}

func released() Result { return Result{Status: Rejected, Reason: ReasonFree} }

func indeterminate(cause error) Result { return Result{Status: Indeterminate, Cause: cause} }

func seatKey(movie, seat string) string { return movie + "\x00" + seat }
