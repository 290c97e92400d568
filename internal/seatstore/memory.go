package seatstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/seat-coordinator/internal/model"
)

// MemoryStore keeps seat records in process memory.  A single mutex makes
// every operation linearizable, which is all the contract asks for; it is
// the default backend for tests, the stress command and local runs.
type MemoryStore struct {
	mu    sync.RWMutex
	seats map[string]*model.SeatRecord
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seats: make(map[string]*model.SeatRecord),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for timestamps.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) ConditionalReserve(ctx context.Context, movie, seat, userID, token string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return indeterminate(err), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now()
	k := seatKey(movie, seat)
	rec, ok := s.seats[k]
	if !ok {
		s.seats[k] = &model.SeatRecord{
			MovieName: movie, Label: seat, UserID: userID, Token: token,
			CreatedAt: ts, UpdatedAt: ts,
		}
		return applied(), nil
	}
	if !rec.Free() {
		return occupied(rec.UserID, rec.Token), nil
	}
	rec.UserID, rec.Token, rec.UpdatedAt = userID, token, ts
	return applied(), nil
}

func (s *MemoryStore) ConditionalRelease(ctx context.Context, movie, seat, userID string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return indeterminate(err), nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.seats[seatKey(movie, seat)]
	switch {
	case !ok || rec.Free():
		return released(), nil
	case rec.UserID != userID:
		return notOwner(rec.UserID), nil
	}
	rec.UserID, rec.Token, rec.UpdatedAt = "", "", s.now()
	return applied(), nil
}

func (s *MemoryStore) LinearizableRead(ctx context.Context, movie, seat string) (model.SeatState, error) {
	if err := ctx.Err(); err != nil {
		return model.SeatState{}, readErr("memory read", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.seats[seatKey(movie, seat)]
	if !ok {
		return model.SeatState{SeatRecord: model.SeatRecord{MovieName: movie, Label: seat}}, nil
	}
	return model.SeatState{SeatRecord: *rec, Exists: true}, nil
}

func (s *MemoryStore) ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]model.SeatRecord, 0)
	for _, rec := range s.seats {
		if rec.MovieName == movie {
			out = append(out, *rec)
		}
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (s *MemoryStore) Close() error { return nil }

func sortRecords(recs []model.SeatRecord) {
	sort.Slice(recs, func(i, j int) bool { return model.LessLabel(recs[i].Label, recs[j].Label) })
}
