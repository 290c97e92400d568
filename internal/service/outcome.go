package service

import "fmt"

// Reason qualifies a failed outcome.
type Reason string

const (
	ReasonNone     Reason = ""
	ReasonInvalid  Reason = "invalid"  // rejected before any store call
	ReasonTimeout  Reason = "timeout"  // attempts exhausted; safe to retry
	ReasonCanceled Reason = "canceled" // caller gave up; safe to retry
	ReasonStore    Reason = "store"    // fatal store failure
)

// ReservationStatus is the definitive answer of Reserve.
type ReservationStatus int

const (
	Confirmed ReservationStatus = iota + 1
	AlreadyTaken
	ReservationFailed
)

func (s ReservationStatus) String() string {
	switch s {
	case Confirmed:
		return "confirmed"
	case AlreadyTaken:
		return "already_taken"
	case ReservationFailed:
		return "failed"
	}
	return fmt.Sprintf("reservation_status(%d)", int(s))
}

// ReservationOutcome is returned by Reserve.
//
// On Confirmed, Occupant is the requester.  Replayed is set when the seat
// was already held by the requester, so this call did not change it; an
// earlier attempt of the same intent, or another intent of the same user,
// placed the hold.  Token is the idempotency token of the holding intent
// when the store reports it; after a timeout it is the token to replay.
// On AlreadyTaken, Occupant is the other user.
// Reconciled is set when the answer came from a reconciliation read.
type ReservationOutcome struct {
	Status     ReservationStatus
	MovieName  string
	Seat       string
	UserID     string
	Occupant   string
	Token      string
	Replayed   bool
	Reconciled bool
	Attempts   int
	Reason     Reason
	err        error
}

// Err returns nil unless Status is ReservationFailed.
func (o ReservationOutcome) Err() error { return o.err }

// Retryable reports whether replaying the same intent may succeed.
func (o ReservationOutcome) Retryable() bool {
	return o.Status == ReservationFailed && (o.Reason == ReasonTimeout || o.Reason == ReasonCanceled)
}

// CancelStatus is the definitive answer of Cancel.
type CancelStatus int

const (
	Released CancelStatus = iota + 1
	NotOwner
	NotFound
	CancelFailed
)

func (s CancelStatus) String() string {
	switch s {
	case Released:
		return "released"
	case NotOwner:
		return "not_owner"
	case NotFound:
		return "not_found"
	case CancelFailed:
		return "failed"
	}
	return fmt.Sprintf("cancel_status(%d)", int(s))
}

// CancelOutcome is returned by Cancel.  On NotOwner, Occupant is the
// user holding the seat.  NotFound means the seat was free.
type CancelOutcome struct {
	Status     CancelStatus
	MovieName  string
	Seat       string
	UserID     string
	Occupant   string
	Reconciled bool
	Attempts   int
	Reason     Reason
	err        error
}

// Err returns nil unless Status is CancelFailed.
func (o CancelOutcome) Err() error { return o.err }

// Retryable reports whether repeating the cancel may succeed.
func (o CancelOutcome) Retryable() bool {
	return o.Status == CancelFailed && (o.Reason == ReasonTimeout || o.Reason == ReasonCanceled)
}

// TransferStatus is the answer of Transfer.
type TransferStatus int

const (
	Transferred TransferStatus = iota + 1
	// TransferNotHeld: the sender did not hold the seat; nothing changed.
	TransferNotHeld
	// TransferLost: the sender's hold was released but a third party
	// claimed the seat before the recipient.
	TransferLost
	TransferFailed
)

func (s TransferStatus) String() string {
	switch s {
	case Transferred:
		return "transferred"
	case TransferNotHeld:
		return "not_held"
	case TransferLost:
		return "lost"
	case TransferFailed:
		return "failed"
	}
	return fmt.Sprintf("transfer_status(%d)", int(s))
}

// TransferOutcome carries both steps of a transfer.  Reserve is zero when
// the cancel step did not release the seat.
type TransferOutcome struct {
	Status  TransferStatus
	Cancel  CancelOutcome
	Reserve ReservationOutcome
	err     error
}

func (o TransferOutcome) Err() error { return o.err }

// MoveStatus is the answer of Move.
type MoveStatus int

const (
	MoveCompleted MoveStatus = iota + 1
	// MoveTargetUnavailable: the new seat is held by someone else; the old
	// seat is untouched.
	MoveTargetUnavailable
	// MoveRolledBack: the old seat could not be released, so the new claim
	// was released again.
	MoveRolledBack
	MoveFailed
)

func (s MoveStatus) String() string {
	switch s {
	case MoveCompleted:
		return "completed"
	case MoveTargetUnavailable:
		return "target_unavailable"
	case MoveRolledBack:
		return "rolled_back"
	case MoveFailed:
		return "failed"
	}
	return fmt.Sprintf("move_status(%d)", int(s))
}

// MoveOutcome carries the steps of a seat change.  Rollback is set only
// when the new claim had to be released.
type MoveOutcome struct {
	Status   MoveStatus
	Reserve  ReservationOutcome
	Release  CancelOutcome
	Rollback *CancelOutcome
	err      error
}

func (o MoveOutcome) Err() error { return o.err }
