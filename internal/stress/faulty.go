package stress

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
)

// ErrInjected is the cause attached to injected faults.
var ErrInjected = errors.New("injected fault")

// Faults sets the probability of each injected failure, in [0, 1].
type Faults struct {
	// LostRequest: the mutation is dropped before reaching the store and
	// reported Indeterminate.
	LostRequest float64
	// LostReply: the mutation is applied but its answer is lost and
	// reported Indeterminate.
	LostReply float64
	// ReadFailure: a linearizable read fails with ErrIndeterminate.
	ReadFailure float64
}

// FaultStats counts the faults injected so far.
type FaultStats struct {
	LostRequests int
	LostReplies  int
	ReadFailures int
}

// FaultyStore wraps a Store and injects the timeouts a replicated store
// produces under partition.  A seeded generator makes runs repeatable
// for a given interleaving.
type FaultyStore struct {
	inner  seatstore.Store
	faults Faults

	mu    sync.Mutex
	rng   *rand.Rand
	stats FaultStats
}

func NewFaultyStore(inner seatstore.Store, faults Faults, seed uint64) *FaultyStore {
	return &FaultyStore{inner: inner, faults: faults, rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// Stats returns a snapshot of the injected fault counts.
func (f *FaultyStore) Stats() FaultStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

type fault int

const (
	noFault fault = iota
	lostRequest
	lostReply
)

func (f *FaultyStore) pickWrite() fault {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := f.rng.Float64()
	switch {
	case r < f.faults.LostRequest:
		f.stats.LostRequests++
		return lostRequest
	case r < f.faults.LostRequest+f.faults.LostReply:
		f.stats.LostReplies++
		return lostReply
	}
	return noFault
}

func (f *FaultyStore) pickRead() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rng.Float64() < f.faults.ReadFailure {
		f.stats.ReadFailures++
		return true
	}
	return false
}

func (f *FaultyStore) ConditionalReserve(ctx context.Context, movie, seat, userID, token string) (seatstore.Result, error) {
	return f.mutate(func() (seatstore.Result, error) {
		return f.inner.ConditionalReserve(ctx, movie, seat, userID, token)
	})
}

func (f *FaultyStore) ConditionalRelease(ctx context.Context, movie, seat, userID string) (seatstore.Result, error) {
	return f.mutate(func() (seatstore.Result, error) {
		return f.inner.ConditionalRelease(ctx, movie, seat, userID)
	})
}

func (f *FaultyStore) mutate(call func() (seatstore.Result, error)) (seatstore.Result, error) {
	switch f.pickWrite() {
	case lostRequest:
		return seatstore.Result{Status: seatstore.Indeterminate, Cause: ErrInjected}, nil
	case lostReply:
		if _, err := call(); err != nil {
			return seatstore.Result{}, err
		}
		return seatstore.Result{Status: seatstore.Indeterminate, Cause: ErrInjected}, nil
	}
	return call()
}

func (f *FaultyStore) LinearizableRead(ctx context.Context, movie, seat string) (model.SeatState, error) {
	if f.pickRead() {
		return model.SeatState{}, errors.Join(seatstore.ErrIndeterminate, ErrInjected)
	}
	return f.inner.LinearizableRead(ctx, movie, seat)
}

func (f *FaultyStore) ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error) {
	return f.inner.ListSeats(ctx, movie)
}

func (f *FaultyStore) Ping(ctx context.Context) error { return f.inner.Ping(ctx) }

func (f *FaultyStore) Close() error { return f.inner.Close() }
