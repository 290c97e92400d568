package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-coordinator/internal/model"
	"github.com/iliyamo/seat-coordinator/internal/queue"
	"github.com/iliyamo/seat-coordinator/internal/repository"
	"github.com/iliyamo/seat-coordinator/internal/seatstore"
)

const (
	alice = "0f8fad5b-d9cb-469f-a165-70867728950e"
	bob   = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	carol = "3d813cbb-47fb-4e5c-8a8f-3a1c2f9c9c6b"
)

// instantPolicy retries without sleeping.
func instantPolicy(attempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2,
		Jitter: NoJitter,
		Sleep:  func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func newMemoryCoordinator(t *testing.T, events EventPublisher) (*Coordinator, *seatstore.MemoryStore) {
	t.Helper()
	store := seatstore.NewMemoryStore()
	c, err := NewCoordinator(store, nil, Options{Retry: instantPolicy(3), CallTimeout: time.Second, Events: events})
	require.NoError(t, err)
	return c, store
}

func intent(seat, user, token string) model.ReservationIntent {
	return intentFor("Alien", seat, user, token)
}

func intentFor(movie, seat, user, token string) model.ReservationIntent {
	return model.ReservationIntent{MovieName: movie, SeatLabel: seat, UserID: user, IdempotencyToken: token}
}

// catalogWith returns a memory catalog holding one movie and the given
// users, and the ids assigned to them.
func catalogWith(t *testing.T, movie string, usernames ...string) (*repository.MemoryCatalog, []string) {
	t.Helper()
	cat := repository.NewMemoryCatalog()
	_, err := cat.CreateMovie(context.Background(), movie, time.Now())
	require.NoError(t, err)
	ids := make([]string, 0, len(usernames))
	for _, u := range usernames {
		usr, err := cat.CreateUser(context.Background(), u)
		require.NoError(t, err)
		ids = append(ids, usr.ID)
	}
	return cat, ids
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []queue.SeatEvent
}

func (r *recorder) Publish(_ context.Context, ev queue.SeatEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// mockStore scripts store answers.
type mockStore struct{ mock.Mock }

func (m *mockStore) ConditionalReserve(ctx context.Context, movie, seat, userID, token string) (seatstore.Result, error) {
	args := m.Called(movie, seat, userID, token)
	return args.Get(0).(seatstore.Result), args.Error(1)
}

func (m *mockStore) ConditionalRelease(ctx context.Context, movie, seat, userID string) (seatstore.Result, error) {
	args := m.Called(movie, seat, userID)
	return args.Get(0).(seatstore.Result), args.Error(1)
}

func (m *mockStore) LinearizableRead(ctx context.Context, movie, seat string) (model.SeatState, error) {
	args := m.Called(movie, seat)
	return args.Get(0).(model.SeatState), args.Error(1)
}

func (m *mockStore) ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error) {
	args := m.Called(movie)
	return args.Get(0).([]model.SeatRecord), args.Error(1)
}

func (m *mockStore) Ping(context.Context) error { return nil }
func (m *mockStore) Close() error               { return nil }

func held(user, token string) model.SeatState {
	return model.SeatState{SeatRecord: model.SeatRecord{MovieName: "Alien", Label: "A1", UserID: user, Token: token}, Exists: true}
}

func free() model.SeatState {
	return model.SeatState{SeatRecord: model.SeatRecord{MovieName: "Alien", Label: "A1"}, Exists: true}
}

var (
	appliedRes = seatstore.Result{Status: seatstore.Applied}
	timeoutRes = seatstore.Result{Status: seatstore.Indeterminate, Cause: context.DeadlineExceeded}
)

func model0() model.SeatState { return model.SeatState{} }
