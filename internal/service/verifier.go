package service

import (
	"context"
	"errors"
	"time"

	"github.com/iliyamo/seat-coordinator/internal/logger"
	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
)

// Verdict classifies a reconciliation read relative to the expected user.
type Verdict int

const (
	VerdictFree    Verdict = iota + 1 // nobody holds the seat
	VerdictOurs                       // the expected user holds the seat
	VerdictOther                      // another user holds the seat
	VerdictUnknown                    // the read itself was indeterminate
)

func (v Verdict) String() string {
	switch v {
	case VerdictFree:
		return "free"
	case VerdictOurs:
		return "ours"
	case VerdictOther:
		return "other"
	case VerdictUnknown:
		return "unknown"
	}
	return "verdict(?)"
}

// Reconciliation is the authoritative state of a seat after an
// indeterminate mutation.
type Reconciliation struct {
	Verdict Verdict
	State   model.SeatState
}

// Verifier resolves indeterminate outcomes with a linearizable read.  It
// never decides a reservation on its own: a free verdict only tells the
// coordinator that retrying the conditional write is safe.
type Verifier struct {
	store   seatstore.Store
	timeout time.Duration
	log     logger.Logger
}

// NewVerifier returns a verifier reading from store with a per-read
// timeout.
func NewVerifier(store seatstore.Store, timeout time.Duration, log logger.Logger) *Verifier {
	return &Verifier{store: store, timeout: timeout, log: logger.OrDiscard(log)}
}

// Reconcile reads the seat and compares its occupant to expectedUser.  A
// transient read failure yields VerdictUnknown and a nil error; the error
// is only set for fatal failures.
func (v *Verifier) Reconcile(ctx context.Context, movie, seat, expectedUser string) (Reconciliation, error) {
	rctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	st, err := v.store.LinearizableRead(rctx, movie, seat)
	if err != nil {
		if errors.Is(err, seatstore.ErrIndeterminate) || seatstore.IsTransient(err) {
			v.log.Warnf("reconcile %s/%s: read indeterminate: %v", movie, seat, err)
			return Reconciliation{Verdict: VerdictUnknown}, nil
		}
		return Reconciliation{}, err
	}

	rec := Reconciliation{State: st}
	switch {
	case st.Free():
		rec.Verdict = VerdictFree
	case st.OccupiedBy(expectedUser):
		rec.Verdict = VerdictOurs
	default:
		rec.Verdict = VerdictOther
	}
	v.log.Debugf("reconcile %s/%s for %s: %s", movie, seat, expectedUser, rec.Verdict)
	return rec, nil
}
