package stress

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/service"
)

// intentKey is one logical reservation: the same user and token.
type intentKey struct{ user, token string }

// finalState reads every contended seat through the oracle store.
func (h *Harness) finalState(ctx context.Context, cfg Config) (map[string]model.SeatRecord, error) {
	recs, err := h.oracle.ListSeats(ctx, cfg.Movie)
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.SeatRecord, len(recs))
	for _, r := range recs {
		out[r.Label] = r
	}
	return out, nil
}

// sameRequest fires one intent from every client at once.  All of them
// describe the same logical reservation, so none may see AlreadyTaken
// and at most one token may ever be confirmed.
func (h *Harness) sameRequest(ctx context.Context, cfg Config) (Report, error) {
	in := model.ReservationIntent{
		MovieName:        cfg.Movie,
		SeatLabel:        cfg.Seats[0],
		UserID:           cfg.Users[0],
		IdempotencyToken: uuid.NewString(),
	}
	var (
		t       tally
		mu      sync.Mutex
		tokens  = map[string]bool{}
		confirm int
	)
	p := newPacer(cfg.Rate, cfg.Clients)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Inflight)
	for i := 0; i < cfg.Clients; i++ {
		g.Go(func() error {
			for n := 0; n < cfg.Requests; n++ {
				if err := p.wait(gctx); err != nil {
					return err
				}
				out := h.coord.Reserve(gctx, in)
				t.reservation(out)
				switch out.Status {
				case service.Confirmed:
					mu.Lock()
					tokens[out.Token] = true
					confirm++
					mu.Unlock()
				case service.AlreadyTaken:
					t.violation("seat %s: identical intent saw AlreadyTaken (occupant %s)", in.SeatLabel, out.Occupant)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return t.report(time.Since(start)), err
	}
	elapsed := time.Since(start)

	final, err := h.finalState(ctx, cfg)
	if err != nil {
		return t.report(elapsed), err
	}
	rec := final[in.SeatLabel]
	if len(tokens) > 1 {
		t.violation("seat %s: %d distinct tokens confirmed", in.SeatLabel, len(tokens))
	}
	if confirm > 0 && rec.UserID != in.UserID {
		t.violation("seat %s: confirmed for %s but held by %q", in.SeatLabel, in.UserID, rec.UserID)
	}
	if confirm == 0 && !rec.Free() {
		t.mu.Lock()
		t.rep.Unacknowledged = append(t.rep.Unacknowledged, in.SeatLabel)
		t.mu.Unlock()
	}
	return t.report(elapsed), nil
}

// holdings is one randomized client's view of its own seats.  Certain
// seats were confirmed and not released since; uncertain seats had a
// failed outcome and may or may not be held.
type holdings struct {
	certain   map[string]bool
	uncertain map[string]bool
}

// randomized lets every client reserve and cancel random seats under its
// own user.  A seat is only ever cancelled by a client that holds it or
// might hold it, so any confirmed holding must survive until the client
// releases it.
func (h *Harness) randomized(ctx context.Context, cfg Config) (Report, error) {
	var t tally
	views := make([]holdings, cfg.Clients)
	p := newPacer(cfg.Rate, cfg.Clients)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Inflight)
	for i := 0; i < cfg.Clients; i++ {
		views[i] = holdings{certain: map[string]bool{}, uncertain: map[string]bool{}}
		view := &views[i]
		user := cfg.Users[i]
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
		g.Go(func() error {
			for n := 0; n < cfg.Requests; n++ {
				if err := p.wait(gctx); err != nil {
					return err
				}
				seat := cfg.Seats[rng.IntN(len(cfg.Seats))]
				if view.certain[seat] || view.uncertain[seat] {
					h.randomCancel(gctx, &t, view, cfg.Movie, seat, user)
					continue
				}
				h.randomReserve(gctx, &t, view, cfg.Movie, seat, user)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return t.report(time.Since(start)), err
	}
	elapsed := time.Since(start)

	final, err := h.finalState(ctx, cfg)
	if err != nil {
		return t.report(elapsed), err
	}
	for _, seat := range cfg.Seats {
		occupant := final[seat].UserID
		holders := 0
		claimed := false
		for i, v := range views {
			if v.certain[seat] {
				holders++
				if cfg.Users[i] != occupant {
					t.violation("seat %s: %s holds a confirmed reservation but the store says %q", seat, cfg.Users[i], occupant)
				}
			}
			if cfg.Users[i] == occupant && (v.certain[seat] || v.uncertain[seat]) {
				claimed = true
			}
		}
		if holders > 1 {
			t.violation("seat %s: %d clients hold a confirmed reservation", seat, holders)
		}
		if occupant != "" && !claimed {
			t.violation("seat %s: held by %s with no outstanding claim", seat, occupant)
		}
		if occupant != "" && holders == 0 && claimed {
			t.mu.Lock()
			t.rep.Unacknowledged = append(t.rep.Unacknowledged, seat)
			t.mu.Unlock()
		}
	}
	return t.report(elapsed), nil
}

func (h *Harness) randomReserve(ctx context.Context, t *tally, v *holdings, movie, seat, user string) {
	out := h.coord.Reserve(ctx, model.ReservationIntent{MovieName: movie, SeatLabel: seat, UserID: user})
	t.reservation(out)
	switch out.Status {
	case service.Confirmed:
		v.certain[seat] = true
		delete(v.uncertain, seat)
	case service.AlreadyTaken:
		if out.Occupant == user {
			t.violation("seat %s: %s told the seat is taken by itself", seat, user)
		}
		delete(v.uncertain, seat)
	default:
		v.uncertain[seat] = true
	}
}

func (h *Harness) randomCancel(ctx context.Context, t *tally, v *holdings, movie, seat, user string) {
	certain := v.certain[seat]
	out := h.coord.Cancel(ctx, movie, seat, user)
	t.cancel(out)
	switch out.Status {
	case service.Released:
		delete(v.certain, seat)
		delete(v.uncertain, seat)
	case service.NotOwner, service.NotFound:
		if certain {
			t.violation("seat %s: confirmed holder %s lost the seat (%s)", seat, user, out.Status)
		}
		delete(v.certain, seat)
		delete(v.uncertain, seat)
	default:
		delete(v.certain, seat)
		v.uncertain[seat] = true
	}
}

// fullOccupancy has every client race for every seat in its own random
// order, each attempt a new intent.  Each seat must end with at most one
// confirmed intent, and that intent's user must be the occupant.
func (h *Harness) fullOccupancy(ctx context.Context, cfg Config) (Report, error) {
	var (
		t         tally
		mu        sync.Mutex
		confirmed = make(map[string]map[intentKey]bool, len(cfg.Seats))
	)
	for _, seat := range cfg.Seats {
		confirmed[seat] = map[intentKey]bool{}
	}
	p := newPacer(cfg.Rate, cfg.Clients)
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Inflight)
	for i := 0; i < cfg.Clients; i++ {
		user := cfg.Users[i]
		order := append([]string(nil), cfg.Seats...)
		rng := rand.New(rand.NewPCG(cfg.Seed, uint64(i)+1))
		rng.Shuffle(len(order), func(a, b int) { order[a], order[b] = order[b], order[a] })
		g.Go(func() error {
			for _, seat := range order {
				if err := p.wait(gctx); err != nil {
					return err
				}
				out := h.coord.Reserve(gctx, model.ReservationIntent{
					MovieName: cfg.Movie, SeatLabel: seat, UserID: user, IdempotencyToken: uuid.NewString(),
				})
				t.reservation(out)
				if out.Status == service.Confirmed {
					mu.Lock()
					confirmed[seat][intentKey{user: out.UserID, token: out.Token}] = true
					mu.Unlock()
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return t.report(time.Since(start)), err
	}
	elapsed := time.Since(start)

	final, err := h.finalState(ctx, cfg)
	if err != nil {
		return t.report(elapsed), err
	}
	total := 0
	for _, seat := range cfg.Seats {
		intents := confirmed[seat]
		rec := final[seat]
		switch {
		case len(intents) > 1:
			t.violation("seat %s: %d intents confirmed", seat, len(intents))
		case len(intents) == 1:
			for k := range intents {
				if k.user != rec.UserID {
					t.violation("seat %s: confirmed for %s but held by %q", seat, k.user, rec.UserID)
				}
			}
		case !rec.Free():
			t.mu.Lock()
			t.rep.Unacknowledged = append(t.rep.Unacknowledged, seat)
			t.mu.Unlock()
		}
		total += len(intents)
	}
	rep := t.report(elapsed)
	if rep.Failed == 0 && total != len(cfg.Seats) {
		t.violation("%d seats confirmed, want %d", total, len(cfg.Seats))
		rep = t.report(elapsed)
	}
	return rep, nil
}
