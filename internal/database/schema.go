package database

import (
	"context"
	"database/sql"
	"fmt"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS movies (
		name       VARCHAR(200) NOT NULL PRIMARY KEY,
		show_date  DATETIME     NOT NULL,
		created_at DATETIME(6)  NOT NULL,
		updated_at DATETIME(6)  NOT NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS users (
		id         CHAR(36)     NOT NULL PRIMARY KEY,
		username   VARCHAR(100) NOT NULL,
		created_at DATETIME(6)  NOT NULL,
		updated_at DATETIME(6)  NOT NULL,
		UNIQUE KEY ux_users_username (username)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
	`CREATE TABLE IF NOT EXISTS reservations (
		movie_name VARCHAR(200) NOT NULL,
		seat       VARCHAR(8)   NOT NULL,
		user_id    CHAR(36)     NULL,
		token      VARCHAR(64)  NULL,
		created_at DATETIME(6)  NOT NULL,
		updated_at DATETIME(6)  NOT NULL,
		PRIMARY KEY (movie_name, seat),
		INDEX ix_reservations_user (user_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS movies (
		name       VARCHAR(200) PRIMARY KEY,
		show_date  TIMESTAMPTZ  NOT NULL,
		created_at TIMESTAMPTZ  NOT NULL,
		updated_at TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		id         UUID         PRIMARY KEY,
		username   VARCHAR(100) NOT NULL UNIQUE,
		created_at TIMESTAMPTZ  NOT NULL,
		updated_at TIMESTAMPTZ  NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reservations (
		movie_name VARCHAR(200) NOT NULL,
		seat       VARCHAR(8)   NOT NULL,
		user_id    UUID         NULL,
		token      VARCHAR(64)  NULL,
		created_at TIMESTAMPTZ  NOT NULL,
		updated_at TIMESTAMPTZ  NOT NULL,
		PRIMARY KEY (movie_name, seat)
	)`,
	`CREATE INDEX IF NOT EXISTS ix_reservations_user ON reservations (user_id)`,
}

// Migrate creates the movies, users and reservations tables when they do
// not exist yet.  It never alters or drops existing tables.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	stmts := mysqlSchema
	if d == Postgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", d, err)
		}
	}
	return nil
}
