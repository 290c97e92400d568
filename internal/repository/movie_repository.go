package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/seat-coordinator/internal/database"
	"github.com/iliyamo/seat-coordinator/internal/model"
)

// MovieRepo manages persistence for movies.
type MovieRepo struct {
	db *sql.DB
	d  database.Dialect
}

func NewMovieRepo(db *sql.DB, d database.Dialect) *MovieRepo { return &MovieRepo{db: db, d: d} }

// Create inserts a movie.  A duplicate name yields ErrMovieExists.
func (r *MovieRepo) Create(ctx context.Context, name string, showDate time.Time) (model.Movie, error) {
	name, err := NormalizeMovieName(name)
	if err != nil {
		return model.Movie{}, err
	}
	now := time.Now().UTC()
	m := model.Movie{Name: name, ShowDate: showDate.UTC(), CreatedAt: now, UpdatedAt: now}
	_, err = r.db.ExecContext(ctx,
		r.d.Rebind("INSERT INTO movies (name, show_date, created_at, updated_at) VALUES (?, ?, ?, ?)"),
		m.Name, m.ShowDate, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return model.Movie{}, ErrMovieExists
		}
		return model.Movie{}, err
	}
	return m, nil
}

// Get fetches a movie by name.
func (r *MovieRepo) Get(ctx context.Context, name string) (model.Movie, error) {
	var m model.Movie
	err := r.db.QueryRowContext(ctx,
		r.d.Rebind("SELECT name, show_date, created_at, updated_at FROM movies WHERE name = ?"),
		name).Scan(&m.Name, &m.ShowDate, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Movie{}, ErrMovieNotFound
	}
	return m, err
}

// List returns all movies ordered by show date.
func (r *MovieRepo) List(ctx context.Context) ([]model.Movie, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, show_date, created_at, updated_at FROM movies ORDER BY show_date, name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Movie, 0)
	for rows.Next() {
		var m model.Movie
		if err := rows.Scan(&m.Name, &m.ShowDate, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// UpdateShowDate moves a screening to a new date.
func (r *MovieRepo) UpdateShowDate(ctx context.Context, name string, showDate time.Time) (model.Movie, error) {
	res, err := r.db.ExecContext(ctx,
		r.d.Rebind("UPDATE movies SET show_date = ?, updated_at = ? WHERE name = ?"),
		showDate.UTC(), time.Now().UTC(), name)
	if err != nil {
		return model.Movie{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.Movie{}, ErrMovieNotFound
	}
	return r.Get(ctx, name)
}
