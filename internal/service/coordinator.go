// Package service implements the reservation coordinator: the reserve,
// cancel, transfer and move protocols on top of a seatstore.Store.  All
// decisions go through the store's conditional write; the verifier's
// reads only settle outcomes the store could not report.
package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-coordinator/internal/logger"
	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/queue"
	"github.com/iliyamo/seat-coordinator/internal/repository"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
)

// Catalog is the read side of the movie and user collaborator.
type Catalog interface {
	GetMovie(ctx context.Context, name string) (model.Movie, error)
	GetUser(ctx context.Context, id string) (model.User, error)
}

// Options configures a Coordinator.  Zero values pick defaults.
type Options struct {
	Retry       RetryPolicy
	CallTimeout time.Duration // per store round-trip, default 2s
	Events      EventPublisher
	Logger      logger.Logger
	NewToken    func() string    // idempotency tokens for transfers, default uuid
	Now         func() time.Time // event timestamps
}

// Coordinator holds no per-seat state; concurrent calls from any number
// of goroutines or processes coordinate only through the store.
type Coordinator struct {
	store       seatstore.Store
	catalog     Catalog
	verifier    *Verifier
	policy      RetryPolicy
	callTimeout time.Duration
	events      EventPublisher
	log         logger.Logger
	newToken    func() string
	now         func() time.Time
}

// NewCoordinator wires a coordinator.  A nil catalog skips the existence
// checks of movies and users but keeps the format checks.
func NewCoordinator(store seatstore.Store, catalog Catalog, opts Options) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("coordinator: nil seat store")
	}
	policy := opts.Retry
	if policy.MaxAttempts == 0 {
		def := DefaultRetryPolicy()
		def.Jitter, def.Sleep = policy.Jitter, policy.Sleep
		policy = def
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("coordinator: %w", err)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 2 * time.Second
	}
	if opts.NewToken == nil {
		opts.NewToken = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	log := logger.OrDiscard(opts.Logger)
	return &Coordinator{
		store:       store,
		catalog:     catalog,
		verifier:    NewVerifier(store, opts.CallTimeout, log),
		policy:      policy,
		callTimeout: opts.CallTimeout,
		events:      opts.Events,
		log:         log,
		newToken:    opts.NewToken,
		now:         opts.Now,
	}, nil
}

// MaxLatency is the enforced upper bound of a single Reserve or Cancel.
func (c *Coordinator) MaxLatency() time.Duration { return c.policy.MaxLatency(c.callTimeout) }

// Verifier returns the reconciliation helper bound to the same store.
func (c *Coordinator) Verifier() *Verifier { return c.verifier }

// Store returns the underlying seat store.
func (c *Coordinator) Store() seatstore.Store { return c.store }

// Reserve claims a seat for the intent's user.  An empty idempotency
// token is replaced by a fresh one, which makes the call a new intent.
func (c *Coordinator) Reserve(ctx context.Context, in model.ReservationIntent) ReservationOutcome {
	out := ReservationOutcome{MovieName: in.MovieName, Seat: in.SeatLabel, UserID: in.UserID}
	in, err := c.validateIntent(ctx, in)
	if err != nil {
		out.Status = ReservationFailed
		out.Reason, out.err = c.failure(ctx, err)
		c.log.Infof("reserve %s/%s for %s rejected: %v", out.MovieName, out.Seat, out.UserID, out.err)
		return out
	}
	out.MovieName, out.Seat, out.UserID = in.MovieName, in.SeatLabel, in.UserID

	opCtx, cancel := context.WithTimeout(ctx, c.MaxLatency())
	defer cancel()
	out = c.reserve(opCtx, ctx, in, out)

	switch out.Status {
	case Confirmed:
		c.log.Infof("reserve %s/%s: confirmed for %s (attempts=%d replayed=%t reconciled=%t)",
			out.MovieName, out.Seat, out.UserID, out.Attempts, out.Replayed, out.Reconciled)
		if !out.Replayed {
			c.publish(ctx, queue.SeatEvent{
				Type: queue.SeatReserved, MovieName: out.MovieName, Seat: out.Seat,
				UserID: out.UserID, Token: out.Token, Reconciled: out.Reconciled,
			})
		}
	case AlreadyTaken:
		c.log.Infof("reserve %s/%s: taken by %s, requested by %s", out.MovieName, out.Seat, out.Occupant, out.UserID)
	default:
		c.log.Errorf("reserve %s/%s for %s failed after %d attempts: %v",
			out.MovieName, out.Seat, out.UserID, out.Attempts, out.err)
	}
	return out
}

func (c *Coordinator) reserve(ctx, parent context.Context, in model.ReservationIntent, out ReservationOutcome) ReservationOutcome {
	var last error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.policy.wait(ctx, attempt-1); err != nil {
				last = err
				break
			}
		}
		out.Attempts = attempt

		res, err := c.callReserve(ctx, in)
		if err != nil {
			return failReservation(out, ReasonStore, fmt.Errorf("%w: %w", ErrStore, err))
		}
		c.log.Debugf("reserve %s/%s for %s: attempt %d %s", in.MovieName, in.SeatLabel, in.UserID, attempt, res.Status)

		switch res.Status {
		case seatstore.Applied:
			return confirm(out, in.IdempotencyToken, false)
		case seatstore.Rejected:
			switch res.Occupant {
			case in.UserID:
				// Never a conflict with oneself.
				return confirm(out, res.OccupantToken, true)
			case "":
				// Holder unknown; settle it with a read below.
			default:
				return taken(out, res.Occupant)
			}
		case seatstore.Indeterminate:
			last = res.Cause
			c.log.Warnf("reserve %s/%s for %s: attempt %d indeterminate: %v",
				in.MovieName, in.SeatLabel, in.UserID, attempt, res.Cause)
		}

		rec, err := c.verifier.Reconcile(ctx, in.MovieName, in.SeatLabel, in.UserID)
		if err != nil {
			return failReservation(out, ReasonStore, fmt.Errorf("%w: %w", ErrStore, err))
		}
		switch rec.Verdict {
		case VerdictOurs:
			out.Reconciled = true
			return confirm(out, rec.State.Token, rec.State.Token != in.IdempotencyToken)
		case VerdictOther:
			out.Reconciled = true
			return taken(out, rec.State.UserID)
		}
		// Free or unreadable: the write did not land or we cannot tell.
		// Repeating the conditional write is safe either way.
	}
	// Echo the token so the caller can replay this exact intent.
	out.Token = in.IdempotencyToken
	reason, err := c.failure(parent, exhaustedErr(out.Attempts, last))
	return failReservation(out, reason, err)
}

func (c *Coordinator) callReserve(ctx context.Context, in model.ReservationIntent) (seatstore.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.store.ConditionalReserve(cctx, in.MovieName, in.SeatLabel, in.UserID, in.IdempotencyToken)
}

func confirm(out ReservationOutcome, token string, replayed bool) ReservationOutcome {
	out.Status = Confirmed
	out.Occupant = out.UserID
	out.Token = token
	out.Replayed = replayed
	return out
}

func taken(out ReservationOutcome, occupant string) ReservationOutcome {
	out.Status = AlreadyTaken
	out.Occupant = occupant
	return out
}

func failReservation(out ReservationOutcome, reason Reason, err error) ReservationOutcome {
	out.Status = ReservationFailed
	out.Reason = reason
	out.err = err
	return out
}

// Cancel releases a seat held by userID.  After an indeterminate release
// the outcome is judged by its postcondition: if a read shows the seat is
// no longer held by userID, the cancel is reported Released.
func (c *Coordinator) Cancel(ctx context.Context, movie, seat, userID string) CancelOutcome {
	out := CancelOutcome{MovieName: movie, Seat: seat, UserID: userID}
	movie, seat, userID, err := c.validateTarget(ctx, movie, seat, userID, "user_id")
	if err != nil {
		out.Status = CancelFailed
		out.Reason, out.err = c.failure(ctx, err)
		c.log.Infof("cancel %s/%s for %s rejected: %v", out.MovieName, out.Seat, out.UserID, out.err)
		return out
	}
	out.MovieName, out.Seat, out.UserID = movie, seat, userID

	opCtx, cancel := context.WithTimeout(ctx, c.MaxLatency())
	defer cancel()
	out = c.cancel(opCtx, ctx, out)

	switch out.Status {
	case Released:
		c.log.Infof("cancel %s/%s: released by %s (attempts=%d reconciled=%t)",
			out.MovieName, out.Seat, out.UserID, out.Attempts, out.Reconciled)
		c.publish(ctx, queue.SeatEvent{
			Type: queue.SeatReleased, MovieName: out.MovieName, Seat: out.Seat,
			UserID: out.UserID, Reconciled: out.Reconciled,
		})
	case NotOwner:
		c.log.Infof("cancel %s/%s: %s is not the owner (held by %s)", out.MovieName, out.Seat, out.UserID, out.Occupant)
	case NotFound:
		c.log.Infof("cancel %s/%s: seat is free", out.MovieName, out.Seat)
	default:
		c.log.Errorf("cancel %s/%s for %s failed after %d attempts: %v",
			out.MovieName, out.Seat, out.UserID, out.Attempts, out.err)
	}
	return out
}

func (c *Coordinator) cancel(ctx, parent context.Context, out CancelOutcome) CancelOutcome {
	var last error
	// Set once an attempt may have landed without us seeing it.
	uncertain := false
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.policy.wait(ctx, attempt-1); err != nil {
				last = err
				break
			}
		}
		out.Attempts = attempt

		res, err := c.callRelease(ctx, out.MovieName, out.Seat, out.UserID)
		if err != nil {
			return failCancel(out, ReasonStore, fmt.Errorf("%w: %w", ErrStore, err))
		}
		c.log.Debugf("cancel %s/%s for %s: attempt %d %s", out.MovieName, out.Seat, out.UserID, attempt, res.Status)

		switch res.Status {
		case seatstore.Applied:
			out.Status = Released
			return out
		case seatstore.Rejected:
			if uncertain {
				// An earlier attempt released the seat; what we see now
				// is its aftermath, not a fresh refusal.
				out.Status = Released
				out.Reconciled = true
				return out
			}
			if res.Reason == seatstore.ReasonNotOwner {
				out.Status = NotOwner
				out.Occupant = res.Occupant
				return out
			}
			out.Status = NotFound
			return out
		}
		last = res.Cause
		uncertain = true
		c.log.Warnf("cancel %s/%s for %s: attempt %d indeterminate: %v",
			out.MovieName, out.Seat, out.UserID, attempt, res.Cause)

		rec, err := c.verifier.Reconcile(ctx, out.MovieName, out.Seat, out.UserID)
		if err != nil {
			return failCancel(out, ReasonStore, fmt.Errorf("%w: %w", ErrStore, err))
		}
		if rec.Verdict == VerdictFree || rec.Verdict == VerdictOther {
			out.Status = Released
			out.Reconciled = true
			return out
		}
		// Still ours or unreadable: the release did not land or we cannot
		// tell; the conditional release is safe to repeat.
	}
	reason, err := c.failure(parent, exhaustedErr(out.Attempts, last))
	return failCancel(out, reason, err)
}

func (c *Coordinator) callRelease(ctx context.Context, movie, seat, userID string) (seatstore.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.store.ConditionalRelease(cctx, movie, seat, userID)
}

func failCancel(out CancelOutcome, reason Reason, err error) CancelOutcome {
	out.Status = CancelFailed
	out.Reason = reason
	out.err = err
	return out
}

// Transfer hands a seat from one user to another as a cancel followed by
// a reserve under a fresh token.  The two steps are not atomic: a third
// party may claim the seat in between, reported as TransferLost.
func (c *Coordinator) Transfer(ctx context.Context, movie, seat, fromUser, toUser string) TransferOutcome {
	// Check the recipient first so a bad id does not cost the sender the seat.
	to, err := c.checkUser(ctx, toUser, "to_user")
	if err == nil {
		var from string
		if from, err = canonicalUser(fromUser, "from_user"); err == nil && from == to {
			err = &ValidationError{Field: "to_user", Reason: "same as from_user"}
		}
	}
	if err != nil {
		reason, ferr := c.failure(ctx, err)
		return TransferOutcome{
			Status: TransferFailed,
			Cancel: CancelOutcome{Status: CancelFailed, MovieName: movie, Seat: seat, UserID: fromUser, Reason: reason, err: ferr},
			err:    ferr,
		}
	}

	co := c.Cancel(ctx, movie, seat, fromUser)
	switch co.Status {
	case Released:
	case NotOwner, NotFound:
		return TransferOutcome{Status: TransferNotHeld, Cancel: co}
	default:
		return TransferOutcome{Status: TransferFailed, Cancel: co, err: co.Err()}
	}

	ro := c.Reserve(ctx, model.ReservationIntent{
		MovieName: co.MovieName, SeatLabel: co.Seat, UserID: to, IdempotencyToken: c.newToken(),
	})
	out := TransferOutcome{Cancel: co, Reserve: ro}
	switch ro.Status {
	case Confirmed:
		out.Status = Transferred
	case AlreadyTaken:
		out.Status = TransferLost
		c.log.Warnf("transfer %s/%s: released by %s but claimed by %s before %s",
			co.MovieName, co.Seat, co.UserID, ro.Occupant, to)
	default:
		out.Status = TransferFailed
		out.err = ro.Err()
	}
	return out
}

// Move changes userID's seat from fromSeat to toSeat.  The new seat is
// claimed first and the old one released second; when the old seat turns
// out not to be held by userID the new claim is released again.  token
// identifies the move so that a retried move finishes the earlier one
// instead of undoing it.
func (c *Coordinator) Move(ctx context.Context, movie, fromSeat, toSeat, userID, token string) MoveOutcome {
	from, err := NormalizeSeat(fromSeat)
	if err == nil {
		var to string
		if to, err = NormalizeSeat(toSeat); err == nil && to == from {
			// Same seat: nothing to change once the request is valid.
			if _, _, _, err = c.validateTarget(ctx, movie, from, userID, "user_id"); err == nil {
				return MoveOutcome{Status: MoveCompleted}
			}
		}
	}
	if err != nil {
		reason, ferr := c.failure(ctx, err)
		return MoveOutcome{
			Status:  MoveFailed,
			Reserve: ReservationOutcome{Status: ReservationFailed, MovieName: movie, Seat: toSeat, UserID: userID, Reason: reason, err: ferr},
			err:     ferr,
		}
	}
	if token == "" {
		token = c.newToken()
	}

	ro := c.Reserve(ctx, model.ReservationIntent{
		MovieName: movie, SeatLabel: toSeat, UserID: userID, IdempotencyToken: token,
	})
	out := MoveOutcome{Reserve: ro}
	switch ro.Status {
	case AlreadyTaken:
		out.Status = MoveTargetUnavailable
		return out
	case ReservationFailed:
		out.Status = MoveFailed
		out.err = ro.Err()
		return out
	}

	co := c.Cancel(ctx, ro.MovieName, from, ro.UserID)
	out.Release = co
	switch {
	case co.Status == Released:
		out.Status = MoveCompleted
	case co.Status == CancelFailed:
		// The old seat may or may not be free; keep the new claim so the
		// user is never left without a seat.  Retrying with the same token
		// completes the move.
		out.Status = MoveFailed
		out.err = fmt.Errorf("release %s: %w", from, co.Err())
	case ro.Replayed && ro.Token == token:
		// An earlier attempt of this move claimed the target and already
		// released the old seat.
		out.Status = MoveCompleted
	case ro.Replayed:
		// The user held the target before this move; nothing to undo.
		out.Status = MoveRolledBack
	default:
		rb := c.Cancel(ctx, ro.MovieName, ro.Seat, ro.UserID)
		out.Rollback = &rb
		if rb.Status == Released || rb.Status == NotFound {
			out.Status = MoveRolledBack
		} else {
			out.Status = MoveFailed
			out.err = fmt.Errorf("rollback %s: %s", ro.Seat, rb.Status)
			if rb.Err() != nil {
				out.err = fmt.Errorf("rollback %s: %w", ro.Seat, rb.Err())
			}
		}
		c.log.Warnf("move %s %s->%s for %s: old seat %s, new claim %s",
			ro.MovieName, from, ro.Seat, ro.UserID, co.Status, rb.Status)
	}
	return out
}

// ListSeats returns every recorded seat of a movie.  Free seats that were
// never reserved have no record and are not listed.
func (c *Coordinator) ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error) {
	movie, err := c.checkMovie(ctx, movie)
	if err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	return c.store.ListSeats(lctx, movie)
}

// seatLabelRE accepts one or two row letters followed by a seat number
// from 1 to 999, e.g. A1 or AB120.
var seatLabelRE = regexp.MustCompile(`^[A-Z]{1,2}[1-9][0-9]{0,2}$`)

// NormalizeSeat upper-cases and trims a seat label and checks its format.
func NormalizeSeat(label string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(label))
	if !seatLabelRE.MatchString(s) {
		return "", &ValidationError{Field: "seat", Reason: fmt.Sprintf("%q is not a seat label such as A1", label)}
	}
	return s, nil
}

const maxTokenLen = 64

func (c *Coordinator) validateIntent(ctx context.Context, in model.ReservationIntent) (model.ReservationIntent, error) {
	movie, seat, user, err := c.validateTarget(ctx, in.MovieName, in.SeatLabel, in.UserID, "user_id")
	if err != nil {
		return in, err
	}
	token := strings.TrimSpace(in.IdempotencyToken)
	if token == "" {
		token = c.newToken()
	}
	if len(token) > maxTokenLen {
		return in, &ValidationError{Field: "idempotency_token", Reason: fmt.Sprintf("longer than %d bytes", maxTokenLen)}
	}
	return model.ReservationIntent{MovieName: movie, SeatLabel: seat, UserID: user, IdempotencyToken: token}, nil
}

func (c *Coordinator) validateTarget(ctx context.Context, movie, seat, userID, userField string) (string, string, string, error) {
	seat, err := NormalizeSeat(seat)
	if err != nil {
		return "", "", "", err
	}
	movie, err = c.checkMovie(ctx, movie)
	if err != nil {
		return "", "", "", err
	}
	userID, err = c.checkUser(ctx, userID, userField)
	if err != nil {
		return "", "", "", err
	}
	return movie, seat, userID, nil
}

func (c *Coordinator) checkMovie(ctx context.Context, name string) (string, error) {
	name, err := repository.NormalizeMovieName(name)
	if err != nil {
		return "", &ValidationError{Field: "movie", Reason: strings.TrimPrefix(err.Error(), repository.ErrInvalidInput.Error()+": ")}
	}
	if c.catalog == nil {
		return name, nil
	}
	lctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if _, err := c.catalog.GetMovie(lctx, name); err != nil {
		if errors.Is(err, repository.ErrMovieNotFound) {
			return "", &ValidationError{Field: "movie", Reason: fmt.Sprintf("no movie named %q", name), NotFound: true}
		}
		return "", fmt.Errorf("lookup movie %q: %w", name, err)
	}
	return name, nil
}

func (c *Coordinator) checkUser(ctx context.Context, id, field string) (string, error) {
	id, err := canonicalUser(id, field)
	if err != nil {
		return "", err
	}
	if c.catalog == nil {
		return id, nil
	}
	lctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()
	if _, err := c.catalog.GetUser(lctx, id); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return "", &ValidationError{Field: field, Reason: fmt.Sprintf("no user with id %s", id), NotFound: true}
		}
		return "", fmt.Errorf("lookup user %s: %w", id, err)
	}
	return id, nil
}

// canonicalUser parses a uuid and returns its lower-case form.
func canonicalUser(id, field string) (string, error) {
	u, err := uuid.Parse(strings.TrimSpace(id))
	if err != nil {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a uuid", id)}
	}
	return u.String(), nil
}

// failure maps an error that ends an operation onto a Reason.
func (c *Coordinator) failure(parent context.Context, err error) (Reason, error) {
	switch {
	case IsValidation(err):
		return ReasonInvalid, err
	case parent.Err() != nil:
		return ReasonCanceled, fmt.Errorf("%w: %w", ErrCanceled, parent.Err())
	case errors.Is(err, ErrTimeout):
		return ReasonTimeout, err
	case seatstore.IsTransient(err):
		return ReasonTimeout, fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return ReasonStore, fmt.Errorf("%w: %w", ErrStore, err)
}

func exhaustedErr(attempts int, last error) error {
	if last == nil {
		return fmt.Errorf("%w after %d attempts", ErrTimeout, attempts)
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrTimeout, attempts, last)
}
