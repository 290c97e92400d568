package seatstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/seat-coordinator/internal/database"
	"github.com/iliyamo/seat-coordinator/internal/model"
)

// The MySQL upsert only overwrites a row whose user_id is NULL.  MySQL
// evaluates the assignments left to right, so user_id must come last or
// the earlier IF()s would see the new value.  RowsAffected is 1 for an
// insert, 2 for a claimed free row and 0 when the row was left alone.
const mysqlReserve = `INSERT INTO reservations (movie_name, seat, user_id, token, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	token      = IF(user_id IS NULL, VALUES(token), token),
	updated_at = IF(user_id IS NULL, VALUES(updated_at), updated_at),
	user_id    = IF(user_id IS NULL, VALUES(user_id), user_id)`

// ON CONFLICT ... WHERE leaves RowsAffected at 0 when the seat is held.
const postgresReserve = `INSERT INTO reservations (movie_name, seat, user_id, token, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (movie_name, seat) DO UPDATE
SET user_id = EXCLUDED.user_id, token = EXCLUDED.token, updated_at = EXCLUDED.updated_at
WHERE reservations.user_id IS NULL`

const (
	sqlRelease = `UPDATE reservations SET user_id = NULL, token = NULL, updated_at = ?
WHERE movie_name = ? AND seat = ? AND user_id = ?`
	sqlRead = `SELECT user_id, token, created_at, updated_at FROM reservations
WHERE movie_name = ? AND seat = ?`
	sqlList = `SELECT seat, user_id, token, created_at, updated_at FROM reservations
WHERE movie_name = ?`
)

// SQLStore implements Store on MySQL or Postgres.  Reads go to the same
// primary that takes the writes, which is what makes them linearizable;
// pointing the DSN at a replica breaks the guarantee.
type SQLStore struct {
	db      *sql.DB
	dialect database.Dialect
	now     func() time.Time

	reserveQ, releaseQ, readQ, listQ string
}

// NewSQLStore wraps an open database handle.  The caller keeps ownership
// of db; Close does not close it.
func NewSQLStore(db *sql.DB, d database.Dialect) *SQLStore {
	reserve := mysqlReserve
	if d == database.Postgres {
		reserve = postgresReserve
	}
	return &SQLStore{
		db:       db,
		dialect:  d,
		now:      func() time.Time { return time.Now().UTC() },
		reserveQ: d.Rebind(reserve),
		releaseQ: d.Rebind(sqlRelease),
		readQ:    d.Rebind(sqlRead),
		listQ:    d.Rebind(sqlList),
	}
}

func (s *SQLStore) ConditionalReserve(ctx context.Context, movie, seat, userID, token string) (Result, error) {
	ts := s.now()
	res, err := s.db.ExecContext(ctx, s.reserveQ, movie, seat, userID, nullable(token), ts, ts)
	if err != nil {
		return classify("sql reserve", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("sql reserve rows", err)
	}
	if n > 0 {
		return applied(), nil
	}
	// The seat was held.  Report the holder when a read succeeds; an empty
	// occupant sends the caller down the reconciliation path.
	st, err := s.LinearizableRead(ctx, movie, seat)
	if err != nil || st.Free() {
		return occupied("", ""), nil
	}
	return occupied(st.UserID, st.Token), nil
}

func (s *SQLStore) ConditionalRelease(ctx context.Context, movie, seat, userID string) (Result, error) {
	res, err := s.db.ExecContext(ctx, s.releaseQ, s.now(), movie, seat, userID)
	if err != nil {
		return classify("sql release", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("sql release rows", err)
	}
	if n > 0 {
		return applied(), nil
	}
	st, err := s.LinearizableRead(ctx, movie, seat)
	if err != nil {
		if errors.Is(err, ErrIndeterminate) {
			return indeterminate(err), nil
		}
		return Result{}, err
	}
	if st.Free() {
		return released(), nil
	}
	if st.UserID == userID {
		// Only possible if the row changed between the two statements.
		return indeterminate(errors.New("sql release: row changed during evaluation")), nil
	}
	return notOwner(st.UserID), nil
}

func (s *SQLStore) LinearizableRead(ctx context.Context, movie, seat string) (model.SeatState, error) {
	st := model.SeatState{SeatRecord: model.SeatRecord{MovieName: movie, Label: seat}}
	var user, token sql.NullString
	err := s.db.QueryRowContext(ctx, s.readQ, movie, seat).
		Scan(&user, &token, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return model.SeatState{}, readErr("sql read", err)
	}
	st.Exists = true
	st.UserID, st.Token = user.String, token.String
	return st, nil
}

func (s *SQLStore) ListSeats(ctx context.Context, movie string) ([]model.SeatRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.listQ, movie)
	if err != nil {
		return nil, readErr("sql list", err)
	}
	defer rows.Close()
	out := make([]model.SeatRecord, 0)
	for rows.Next() {
		r := model.SeatRecord{MovieName: movie}
		var user, token sql.NullString
		if err := rows.Scan(&r.Label, &user, &token, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, readErr("sql list scan", err)
		}
		r.UserID, r.Token = user.String, token.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, readErr("sql list", err)
	}
	sortRecords(out)
	return out, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) Close() error { return nil }

func nullable(s string) sql.NullString { return sql.NullString{String: s, Valid: s != ""} }
