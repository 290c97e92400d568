package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/iliyamo/seat-coordinator/internal/model"
)

// Catalog is the movie and user collaborator used by the HTTP handlers
// and the CLI.  SQLCatalog and MemoryCatalog implement it.
type Catalog interface {
	CreateMovie(ctx context.Context, name string, showDate time.Time) (model.Movie, error)
	GetMovie(ctx context.Context, name string) (model.Movie, error)
	ListMovies(ctx context.Context) ([]model.Movie, error)
	UpdateShowDate(ctx context.Context, name string, showDate time.Time) (model.Movie, error)

	CreateUser(ctx context.Context, username string) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	RenameUser(ctx context.Context, id, username string) (model.User, error)
}

// ErrInvalidInput wraps argument errors such as an empty username.
var ErrInvalidInput = errors.New("invalid input")

// MaxMovieName bounds movie names; it matches the column width.
const MaxMovieName = 200

// NormalizeMovieName trims name and checks its length.
func NormalizeMovieName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: movie name is empty", ErrInvalidInput)
	}
	if len(name) > MaxMovieName {
		return "", fmt.Errorf("%w: movie name longer than %d bytes", ErrInvalidInput, MaxMovieName)
	}
	return name, nil
}

// NormalizeUsername trims and lower-cases username.
func NormalizeUsername(username string) (string, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" {
		return "", fmt.Errorf("%w: username is empty", ErrInvalidInput)
	}
	if len(username) > 100 {
		return "", fmt.Errorf("%w: username longer than 100 bytes", ErrInvalidInput)
	}
	return username, nil
}

// isDuplicate reports a unique constraint violation on either dialect.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1062
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		return pe.Code == "23505"
	}
	return false
}

// ParseShowDate accepts RFC 3339 timestamps and bare dates (2006-01-02).
func ParseShowDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: show date is empty", ErrInvalidInput)
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: show date %q is not RFC 3339 or YYYY-MM-DD", ErrInvalidInput, s)
}
