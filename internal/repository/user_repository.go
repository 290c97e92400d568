package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/seat-coordinator/internal/database"
	"github.com/iliyamo/seat-coordinator/internal/model"
)

// UserRepo manages persistence for users.
type UserRepo struct {
	db *sql.DB
	d  database.Dialect
}

func NewUserRepo(db *sql.DB, d database.Dialect) *UserRepo { return &UserRepo{db: db, d: d} }

const userCols = "id, username, created_at, updated_at"

// Create inserts a user with a fresh uuid.  Usernames are normalized to
// lower case; a duplicate yields ErrUsernameTaken.
func (r *UserRepo) Create(ctx context.Context, username string) (model.User, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return model.User{}, err
	}
	now := time.Now().UTC()
	u := model.User{ID: uuid.NewString(), Username: username, CreatedAt: now, UpdatedAt: now}
	_, err = r.db.ExecContext(ctx,
		r.d.Rebind("INSERT INTO users ("+userCols+") VALUES (?, ?, ?, ?)"),
		u.ID, u.Username, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrUsernameTaken
		}
		return model.User{}, err
	}
	return u, nil
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id string) (model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.User{}, ErrUserNotFound
	}
	return r.getOne(ctx, "SELECT "+userCols+" FROM users WHERE id = ?", id)
}

// GetByUsername fetches a user by normalized username.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (model.User, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return model.User{}, ErrUserNotFound
	}
	return r.getOne(ctx, "SELECT "+userCols+" FROM users WHERE username = ?", username)
}

func (r *UserRepo) getOne(ctx context.Context, q string, arg string) (model.User, error) {
	var u model.User
	err := r.db.QueryRowContext(ctx, r.d.Rebind(q), arg).
		Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrUserNotFound
	}
	return u, err
}

// List returns all users ordered by username.
func (r *UserRepo) List(ctx context.Context) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+userCols+" FROM users ORDER BY username")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.User, 0)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Rename changes a username, keeping it unique.
func (r *UserRepo) Rename(ctx context.Context, id, username string) (model.User, error) {
	username, err := NormalizeUsername(username)
	if err != nil {
		return model.User{}, err
	}
	res, err := r.db.ExecContext(ctx,
		r.d.Rebind("UPDATE users SET username = ?, updated_at = ? WHERE id = ?"),
		username, time.Now().UTC(), id)
	if err != nil {
		if isDuplicate(err) {
			return model.User{}, ErrUsernameTaken
		}
		return model.User{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.User{}, ErrUserNotFound
	}
	return r.GetByID(ctx, id)
}
