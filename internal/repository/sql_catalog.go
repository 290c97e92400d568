package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/seat-coordinator/internal/database"
	"github.com/iliyamo/seat-coordinator/internal/model"
)

// SQLCatalog joins MovieRepo and UserRepo into a Catalog.
type SQLCatalog struct {
	Movies *MovieRepo
	Users  *UserRepo
}

func NewSQLCatalog(db *sql.DB, d database.Dialect) *SQLCatalog {
	return &SQLCatalog{Movies: NewMovieRepo(db, d), Users: NewUserRepo(db, d)}
}

func (c *SQLCatalog) CreateMovie(ctx context.Context, name string, showDate time.Time) (model.Movie, error) {
	return c.Movies.Create(ctx, name, showDate)
}

func (c *SQLCatalog) GetMovie(ctx context.Context, name string) (model.Movie, error) {
	return c.Movies.Get(ctx, name)
}

func (c *SQLCatalog) ListMovies(ctx context.Context) ([]model.Movie, error) {
	return c.Movies.List(ctx)
}

func (c *SQLCatalog) UpdateShowDate(ctx context.Context, name string, showDate time.Time) (model.Movie, error) {
	return c.Movies.UpdateShowDate(ctx, name, showDate)
}

func (c *SQLCatalog) CreateUser(ctx context.Context, username string) (model.User, error) {
	return c.Users.Create(ctx, username)
}

func (c *SQLCatalog) GetUser(ctx context.Context, id string) (model.User, error) {
	return c.Users.GetByID(ctx, id)
}

func (c *SQLCatalog) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	return c.Users.GetByUsername(ctx, username)
}

func (c *SQLCatalog) ListUsers(ctx context.Context) ([]model.User, error) {
	return c.Users.List(ctx)
}

func (c *SQLCatalog) RenameUser(ctx context.Context, id, username string) (model.User, error) {
	return c.Users.Rename(ctx, id, username)
}
