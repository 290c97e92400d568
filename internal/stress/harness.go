// Package stress drives concurrent clients against the coordinator and
// checks the outcome against the store.  Its three scenarios are the
// acceptance test of the coordinator: same request rapid fire,
// randomized reserve and cancel traffic, and a race for every seat.
package stress

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/iliyamo/seat-coordinator/internal/logger"
	"github.com/iliyamo/seat-coordinator/internal/repository"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
	"github.com/iliyamo/seat-coordinator/internal/service"
)

// Scenario names a workload.
type Scenario string

const (
	SameRequest   Scenario = "same-request"
	Randomized    Scenario = "randomized"
	FullOccupancy Scenario = "full-occupancy"
)

// ParseScenario accepts a scenario name.
func ParseScenario(s string) (Scenario, error) {
	switch sc := Scenario(strings.ToLower(strings.TrimSpace(s))); sc {
	case SameRequest, Randomized, FullOccupancy:
		return sc, nil
	}
	return "", fmt.Errorf("unknown scenario %q (want %s, %s or %s)", s, SameRequest, Randomized, FullOccupancy)
}

// Config shapes a run.
type Config struct {
	Movie    string
	Seats    []string // labels under contention
	Users    []string // one user id per client; generated when empty
	Clients  int      // concurrent clients, default len(Users) or 10
	Requests int      // requests per client for same-request and randomized
	Rate     float64  // requests per second across all clients; 0 is unlimited
	Inflight int      // max clients running at once; 0 means all
	Seed     uint64
}

// Report summarizes a run.  Violations lists every broken invariant;
// Unacknowledged lists seats held in the store with no confirmed
// outcome, which only happens after Failed outcomes and is not a
// violation.
type Report struct {
	Scenario       Scenario
	Requests       int
	Confirmed      int
	Replayed       int
	Taken          int
	Released       int
	Failed         int
	Elapsed        time.Duration
	Violations     []string
	Unacknowledged []string
}

// OK reports whether no invariant was violated.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// RPS is the observed request rate.
func (r Report) RPS() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Requests) / r.Elapsed.Seconds()
}

func (r Report) String() string {
	return fmt.Sprintf("%s: requests=%d confirmed=%d replayed=%d taken=%d released=%d failed=%d elapsed=%s rps=%.1f violations=%d",
		r.Scenario, r.Requests, r.Confirmed, r.Replayed, r.Taken, r.Released, r.Failed,
		r.Elapsed.Round(time.Millisecond), r.RPS(), len(r.Violations))
}

// ErrViolation is returned by Run when the report has violations.
var ErrViolation = errors.New("stress: invariant violated")

// Harness runs scenarios against a coordinator.  The oracle store is used
// for the final reads; with a fault-injecting store in the coordinator,
// pass the wrapped store so the verdict itself is not faulted.
type Harness struct {
	coord  *service.Coordinator
	oracle seatstore.Store
	log    logger.Logger
}

func New(coord *service.Coordinator, oracle seatstore.Store, log logger.Logger) *Harness {
	if oracle == nil {
		oracle = coord.Store()
	}
	return &Harness{coord: coord, oracle: oracle, log: logger.OrDiscard(log)}
}

// Run executes one scenario and returns its report.  The error wraps
// ErrViolation when the oracle found a broken invariant.
func (h *Harness) Run(ctx context.Context, sc Scenario, cfg Config) (Report, error) {
	cfg, err := cfg.withDefaults(sc)
	if err != nil {
		return Report{Scenario: sc}, err
	}
	var rep Report
	switch sc {
	case SameRequest:
		rep, err = h.sameRequest(ctx, cfg)
	case Randomized:
		rep, err = h.randomized(ctx, cfg)
	case FullOccupancy:
		rep, err = h.fullOccupancy(ctx, cfg)
	default:
		return Report{Scenario: sc}, fmt.Errorf("unknown scenario %q", sc)
	}
	rep.Scenario = sc
	if err != nil {
		return rep, err
	}
	h.log.Infof("stress %s", rep)
	if !rep.OK() {
		for _, v := range rep.Violations {
			h.log.Errorf("stress %s: %s", sc, v)
		}
		return rep, fmt.Errorf("%w: %d violations", ErrViolation, len(rep.Violations))
	}
	return rep, nil
}

func (c Config) withDefaults(sc Scenario) (Config, error) {
	movie, err := repository.NormalizeMovieName(c.Movie)
	if err != nil {
		return c, fmt.Errorf("stress: %w", err)
	}
	c.Movie = movie
	seen := make(map[string]bool, len(c.Seats))
	seats := make([]string, 0, len(c.Seats))
	for _, label := range c.Seats {
		seat, err := service.NormalizeSeat(label)
		if err != nil {
			return c, fmt.Errorf("stress: %w", err)
		}
		if !seen[seat] {
			seen[seat] = true
			seats = append(seats, seat)
		}
	}
	if len(seats) == 0 {
		return c, errors.New("stress: at least one seat is required")
	}
	c.Seats = seats
	if c.Clients <= 0 {
		c.Clients = len(c.Users)
	}
	if c.Clients <= 0 {
		c.Clients = 10
	}
	// Same-request clients all replay one user's intent.
	users := c.Clients
	if sc == SameRequest {
		users = 1
	}
	if len(c.Users) == 0 {
		for i := 0; i < users; i++ {
			c.Users = append(c.Users, uuid.NewString())
		}
	}
	if len(c.Users) < users {
		return c, fmt.Errorf("stress: %d clients but only %d users", c.Clients, len(c.Users))
	}
	if c.Requests <= 0 {
		c.Requests = 20
	}
	if c.Inflight <= 0 {
		c.Inflight = c.Clients
	}
	return c, nil
}

// pacer throttles requests across all clients when a rate is set.
type pacer struct{ lim *rate.Limiter }

func newPacer(rps float64, burst int) pacer {
	if rps <= 0 {
		return pacer{}
	}
	if burst < 1 {
		burst = 1
	}
	return pacer{lim: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (p pacer) wait(ctx context.Context) error {
	if p.lim == nil {
		return ctx.Err()
	}
	return p.lim.Wait(ctx)
}

// tally accumulates outcome counts from concurrent clients.
type tally struct {
	mu  sync.Mutex
	rep Report
}

func (t *tally) reservation(o service.ReservationOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rep.Requests++
	switch o.Status {
	case service.Confirmed:
		t.rep.Confirmed++
		if o.Replayed {
			t.rep.Replayed++
		}
	case service.AlreadyTaken:
		t.rep.Taken++
	default:
		t.rep.Failed++
	}
}

func (t *tally) cancel(o service.CancelOutcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rep.Requests++
	switch o.Status {
	case service.Released:
		t.rep.Released++
	case service.CancelFailed:
		t.rep.Failed++
	}
}

func (t *tally) violation(format string, args ...interface{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rep.Violations = append(t.rep.Violations, fmt.Sprintf(format, args...))
}

func (t *tally) report(elapsed time.Duration) Report {
	t.mu.Lock()
	defer t.mu.Unlock()
	rep := t.rep
	rep.Elapsed = elapsed
	sort.Strings(rep.Violations)
	sort.Strings(rep.Unacknowledged)
	return rep
}
