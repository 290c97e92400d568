package seatstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-coordinator/internal/database"
)

var readCols = []string{"user_id", "token", "created_at", "updated_at"}

func newSQLMockStore(t *testing.T, d database.Dialect) (*SQLStore, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLStore(db, d), mock
}

func TestSQLReserveApplied(t *testing.T) {
	s, mock := newSQLMockStore(t, database.MySQL)
	mock.ExpectExec(`INSERT INTO reservations .* ON DUPLICATE KEY UPDATE`).
		WithArgs("Alien", "A1", "u1", "t1", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	res, err := s.ConditionalReserve(context.Background(), "Alien", "A1", "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, Applied, res.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLReserveRejectedReadsOccupant(t *testing.T) {
	s, mock := newSQLMockStore(t, database.Postgres)
	now := time.Now().UTC()
	mock.ExpectExec(`ON CONFLICT \(movie_name, seat\) DO UPDATE .* WHERE reservations.user_id IS NULL`).
		WithArgs("Alien", "A1", "u2", "t2", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT user_id, token, created_at, updated_at FROM reservations`).
		WithArgs("Alien", "A1").
		WillReturnRows(sqlmock.NewRows(readCols).AddRow("u1", "t1", now, now))

	res, err := s.ConditionalReserve(context.Background(), "Alien", "A1", "u2", "t2")
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Status)
	assert.Equal(t, "u1", res.Occupant)
	assert.Equal(t, "t1", res.OccupantToken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLReserveRejectedUnreadableOccupant(t *testing.T) {
	s, mock := newSQLMockStore(t, database.MySQL)
	mock.ExpectExec(`INSERT INTO reservations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT user_id`).WillReturnError(context.DeadlineExceeded)

	res, err := s.ConditionalReserve(context.Background(), "Alien", "A1", "u2", "t2")
	require.NoError(t, err)
	assert.Equal(t, Rejected, res.Status)
	assert.Empty(t, res.Occupant, "unknown occupant must not be guessed")
}

func TestSQLReserveTimeoutIsIndeterminate(t *testing.T) {
	s, mock := newSQLMockStore(t, database.MySQL)
	mock.ExpectExec(`INSERT INTO reservations`).WillReturnError(context.DeadlineExceeded)

	res, err := s.ConditionalReserve(context.Background(), "Alien", "A1", "u1", "t1")
	require.NoError(t, err)
	assert.Equal(t, Indeterminate, res.Status)
}

func TestSQLMissingTableIsSchemaError(t *testing.T) {
	s, mock := newSQLMockStore(t, database.MySQL)
	mock.ExpectExec(`INSERT INTO reservations`).
		WillReturnError(&mysql.MySQLError{Number: 1146, Message: "Table 'x.reservations' doesn't exist"})

	_, err := s.ConditionalReserve(context.Background(), "Alien", "A1", "u1", "t1")
	assert.ErrorIs(t, err, ErrSchema)

	ps, pmock := newSQLMockStore(t, database.Postgres)
	pmock.ExpectQuery(`SELECT user_id`).WillReturnError(&pq.Error{Code: "42P01"})
	_, err = ps.LinearizableRead(context.Background(), "Alien", "A1")
	assert.ErrorIs(t, err, ErrSchema)
}

func TestSQLRelease(t *testing.T) {
	t.Run("owner", func(t *testing.T) {
		s, mock := newSQLMockStore(t, database.Postgres)
		mock.ExpectExec(`UPDATE reservations SET user_id = NULL`).
			WithArgs(sqlmock.AnyArg(), "Alien", "A1", "u1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		res, err := s.ConditionalRelease(context.Background(), "Alien", "A1", "u1")
		require.NoError(t, err)
		assert.Equal(t, Applied, res.Status)
	})

	t.Run("stranger", func(t *testing.T) {
		s, mock := newSQLMockStore(t, database.MySQL)
		now := time.Now()
		mock.ExpectExec(`UPDATE reservations`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT user_id`).
			WillReturnRows(sqlmock.NewRows(readCols).AddRow("u1", "t1", now, now))

		res, err := s.ConditionalRelease(context.Background(), "Alien", "A1", "u2")
		require.NoError(t, err)
		assert.Equal(t, ReasonNotOwner, res.Reason)
		assert.Equal(t, "u1", res.Occupant)
	})

	t.Run("free", func(t *testing.T) {
		s, mock := newSQLMockStore(t, database.MySQL)
		now := time.Now()
		mock.ExpectExec(`UPDATE reservations`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(`SELECT user_id`).
			WillReturnRows(sqlmock.NewRows(readCols).AddRow(nil, nil, now, now))

		res, err := s.ConditionalRelease(context.Background(), "Alien", "A1", "u2")
		require.NoError(t, err)
		assert.Equal(t, ReasonFree, res.Reason)
	})
}

func TestSQLReadMissingRow(t *testing.T) {
	s, mock := newSQLMockStore(t, database.MySQL)
	mock.ExpectQuery(`SELECT user_id`).WillReturnRows(sqlmock.NewRows(readCols))

	st, err := s.LinearizableRead(context.Background(), "Alien", "A1")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.True(t, st.Free())
}

func TestSQLListSeats(t *testing.T) {
	s, mock := newSQLMockStore(t, database.Postgres)
	now := time.Now()
	mock.ExpectQuery(`SELECT seat, user_id, token, created_at, updated_at FROM reservations`).
		WithArgs("Alien").
		WillReturnRows(sqlmock.NewRows([]string{"seat", "user_id", "token", "created_at", "updated_at"}).
			AddRow("B1", nil, nil, now, now).
			AddRow("A10", "u1", "t1", now, now).
			AddRow("A9", "u2", "t2", now, now))

	recs, err := s.ListSeats(context.Background(), "Alien")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "A9", recs[0].Label)
	assert.Equal(t, "A10", recs[1].Label)
	assert.True(t, recs[2].Free())
}

func TestPostgresQueriesAreRebound(t *testing.T) {
	s := NewSQLStore(nil, database.Postgres)
	assert.Contains(t, s.reserveQ, "$6")
	assert.NotContains(t, s.releaseQ, "?")
}
