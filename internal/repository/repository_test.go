package repository

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

func newMock(t *testing.T, d database.Dialect) (*SQLCatalog, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLCatalog(db, d), mock
}

func TestCreateMovieDuplicate(t *testing.T) {
	c, mock := newMock(t, database.MySQL)
	show := time.Date(2026, 11, 1, 20, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO movies`).
		WithArgs("Alien", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO movies`).
		WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

	m, err := c.CreateMovie(context.Background(), "  Alien ", show)
	require.NoError(t, err)
	assert.Equal(t, "Alien", m.Name)

	_, err = c.CreateMovie(context.Background(), "Alien", show)
	assert.ErrorIs(t, err, ErrMovieExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMovieNotFound(t *testing.T) {
	c, mock := newMock(t, database.Postgres)
	mock.ExpectQuery(`SELECT name, show_date, created_at, updated_at FROM movies WHERE name = \$1`).
		WithArgs("Nope").
		WillReturnRows(sqlmock.NewRows([]string{"name", "show_date", "created_at", "updated_at"}))

	_, err := c.GetMovie(context.Background(), "Nope")
	assert.ErrorIs(t, err, ErrMovieNotFound)
}

func TestUpdateShowDateMissing(t *testing.T) {
	c, mock := newMock(t, database.MySQL)
	mock.ExpectExec(`UPDATE movies SET show_date`).WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := c.UpdateShowDate(context.Background(), "Nope", time.Now())
	assert.ErrorIs(t, err, ErrMovieNotFound)
}

func TestCreateUserTakenOnPostgres(t *testing.T) {
	c, mock := newMock(t, database.Postgres)
	mock.ExpectExec(`INSERT INTO users \(id, username, created_at, updated_at\) VALUES \(\$1, \$2, \$3, \$4\)`).
		WithArgs(sqlmock.AnyArg(), "alice", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := c.CreateUser(context.Background(), " Alice ")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestGetUserRejectsNonUUID(t *testing.T) {
	c, mock := newMock(t, database.MySQL)

	_, err := c.GetUser(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet(), "no query is issued")
}

func TestListUsers(t *testing.T) {
	c, mock := newMock(t, database.MySQL)
	now := time.Now()
	mock.ExpectQuery(`SELECT id, username, created_at, updated_at FROM users ORDER BY username`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "created_at", "updated_at"}).
			AddRow("0f8fad5b-d9cb-469f-a165-70867728950e", "alice", now, now).
			AddRow("7c9e6679-7425-40de-944b-e07fc1f90ae7", "bob", now, now))

	users, err := c.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "bob", users[1].Username)
}

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()

	_, err := c.CreateMovie(ctx, "", time.Now())
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = c.CreateMovie(ctx, "Heat", time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = c.CreateMovie(ctx, "Alien", time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	_, err = c.CreateMovie(ctx, "Alien", time.Now())
	assert.ErrorIs(t, err, ErrMovieExists)

	movies, err := c.ListMovies(ctx)
	require.NoError(t, err)
	require.Len(t, movies, 2)
	assert.Equal(t, "Alien", movies[0].Name)

	alice, err := c.CreateUser(ctx, "Alice")
	require.NoError(t, err)
	_, err = c.CreateUser(ctx, "alice")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	got, err := c.GetUserByUsername(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	bob, err := c.CreateUser(ctx, "bob")
	require.NoError(t, err)
	_, err = c.RenameUser(ctx, bob.ID, "alice")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	renamed, err := c.RenameUser(ctx, alice.ID, "alicia")
	require.NoError(t, err)
	assert.Equal(t, "alicia", renamed.Username)
	_, err = c.GetUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, ErrUserNotFound)

	_, err = c.GetUser(ctx, "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestParseShowDate(t *testing.T) {
	d, err := ParseShowDate("2026-11-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseShowDate("2026-11-02T20:30:00+01:00")
	require.NoError(t, err)
	assert.Equal(t, 19, d.Hour())

	_, err = ParseShowDate("next tuesday")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
