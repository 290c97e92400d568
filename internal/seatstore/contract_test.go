package seatstore

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract exercises the behaviour every backend shares.
func runContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("reserve free seat", func(t *testing.T) {
		s := newStore(t)
		res, err := s.ConditionalReserve(ctx, "Alien", "A1", "u1", "t1")
		require.NoError(t, err)
		assert.Equal(t, Applied, res.Status)

		st, err := s.LinearizableRead(ctx, "Alien", "A1")
		require.NoError(t, err)
		assert.True(t, st.Exists)
		assert.Equal(t, "u1", st.UserID)
		assert.Equal(t, "t1", st.Token)
		assert.False(t, st.CreatedAt.IsZero())
	})

	t.Run("reserve held seat reports occupant", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConditionalReserve(ctx, "Alien", "A1", "u1", "t1")
		require.NoError(t, err)

		res, err := s.ConditionalReserve(ctx, "Alien", "A1", "u2", "t2")
		require.NoError(t, err)
		assert.Equal(t, Rejected, res.Status)
		assert.Equal(t, ReasonOccupied, res.Reason)
		assert.Equal(t, "u1", res.Occupant)
		assert.Equal(t, "t1", res.OccupantToken)
	})

	t.Run("release by owner then re-reserve", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConditionalReserve(ctx, "Alien", "A1", "u1", "t1")
		require.NoError(t, err)
		before, err := s.LinearizableRead(ctx, "Alien", "A1")
		require.NoError(t, err)

		res, err := s.ConditionalRelease(ctx, "Alien", "A1", "u1")
		require.NoError(t, err)
		assert.Equal(t, Applied, res.Status)

		st, err := s.LinearizableRead(ctx, "Alien", "A1")
		require.NoError(t, err)
		assert.True(t, st.Exists, "records are never deleted")
		assert.True(t, st.Free())

		res, err = s.ConditionalReserve(ctx, "Alien", "A1", "u2", "t2")
		require.NoError(t, err)
		assert.Equal(t, Applied, res.Status)
		st, err = s.LinearizableRead(ctx, "Alien", "A1")
		require.NoError(t, err)
		assert.Equal(t, "u2", st.UserID)
		assert.True(t, st.CreatedAt.Equal(before.CreatedAt), "creation time survives a cancel")
	})

	t.Run("release by stranger", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConditionalReserve(ctx, "Alien", "A1", "u1", "t1")
		require.NoError(t, err)

		res, err := s.ConditionalRelease(ctx, "Alien", "A1", "u2")
		require.NoError(t, err)
		assert.Equal(t, Rejected, res.Status)
		assert.Equal(t, ReasonNotOwner, res.Reason)
		assert.Equal(t, "u1", res.Occupant)
	})

	t.Run("release free seat", func(t *testing.T) {
		s := newStore(t)
		res, err := s.ConditionalRelease(ctx, "Alien", "B7", "u1")
		require.NoError(t, err)
		assert.Equal(t, Rejected, res.Status)
		assert.Equal(t, ReasonFree, res.Reason)

		st, err := s.LinearizableRead(ctx, "Alien", "B7")
		require.NoError(t, err)
		assert.False(t, st.Exists)
	})

	t.Run("list is ordered and scoped to the movie", func(t *testing.T) {
		s := newStore(t)
		for _, seat := range []string{"A10", "B1", "A2"} {
			_, err := s.ConditionalReserve(ctx, "Alien", seat, "u1", "t-"+seat)
			require.NoError(t, err)
		}
		_, err := s.ConditionalReserve(ctx, "Heat", "A1", "u1", "t")
		require.NoError(t, err)

		recs, err := s.ListSeats(ctx, "Alien")
		require.NoError(t, err)
		var labels []string
		for _, r := range recs {
			labels = append(labels, r.Label)
		}
		assert.Equal(t, []string{"A2", "A10", "B1"}, labels)
	})

	t.Run("concurrent reserves apply once", func(t *testing.T) {
		s := newStore(t)
		const n = 32
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			applied int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := s.ConditionalReserve(ctx, "Alien", "C3", string(rune('a'+i%26))+"-user", "tok")
				if err == nil && res.Status == Applied {
					mu.Lock()
					applied++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, applied)
	})
}

func TestMemoryStoreContract(t *testing.T) {
	runContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreCanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := s.ConditionalReserve(ctx, "Alien", "A1", "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, res.Status)
	assert.ErrorIs(t, res.Cause, context.Canceled)

	_, err = s.LinearizableRead(ctx, "Alien", "A1")
	assert.ErrorIs(t, err, ErrIndeterminate)
}
