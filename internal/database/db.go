package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"github.com/iliyamo/seat-coordinator/internal/logger"
)

// Config carries the connection parameters shared by both dialects.
type Config struct {
	User     string
	Pass     string
	Host     string
	Port     string
	Name     string
	Retries  int           // connection attempts before giving up
	RetryGap time.Duration // pause between attempts
}

// DSN renders the driver specific connection string.
func (d Dialect) DSN(cfg Config) string {
	switch d {
	case Postgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Pass),
			Host:     cfg.Host + ":" + cfg.Port,
			Path:     "/" + cfg.Name,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	default:
		auth := cfg.User
		if cfg.Pass != "" {
			auth = fmt.Sprintf("%s:%s", cfg.User, cfg.Pass)
		}
		// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
		return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
			auth, cfg.Host, cfg.Port, cfg.Name)
	}
}

// Open connects to the database and verifies the connection, retrying
// while the server is still starting up.
func Open(ctx context.Context, d Dialect, cfg Config, log logger.Logger) (*sql.DB, error) {
	retries := cfg.Retries
	if retries < 1 {
		retries = 1
	}
	gap := cfg.RetryGap
	if gap <= 0 {
		gap = 2 * time.Second
	}

	var lastErr error
	for i := 1; i <= retries; i++ {
		log.Infof("connecting to %s at %s:%s (attempt %d/%d)", d, cfg.Host, cfg.Port, i, retries)
		db, err := open(ctx, d, cfg)
		if err == nil {
			return db, nil
		}
		lastErr = err
		if i == retries {
			break
		}
		log.Warnf("%s not ready: %v; retrying in %s", d, err, gap)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(gap):
		}
	}
	return nil, fmt.Errorf("connect %s: %w", d, lastErr)
}

func open(ctx context.Context, d Dialect, cfg Config) (*sql.DB, error) {
	db, err := sql.Open(d.DriverName(), d.DSN(cfg))
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
