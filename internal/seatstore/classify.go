package seatstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/go-sql-driver/mysql"
	"github.com/gocql/gocql"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

// Redis replies that mean "not now" rather than "never".
var redisTransientPrefixes = []string{"LOADING", "READONLY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "BUSY"}

// IsTransient reports whether err is a fault after which a write may or may
// not have been applied, or a read may succeed when retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIndeterminate) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, mysql.ErrInvalidConn) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	for _, p := range redisTransientPrefixes {
		if redis.HasErrorPrefix(err, p) {
			return true
		}
	}
	return isCassandraTransient(err)
}

func isCassandraTransient(err error) bool {
	var (
		wt *gocql.RequestErrWriteTimeout
		rt *gocql.RequestErrReadTimeout
		un *gocql.RequestErrUnavailable
	)
	switch {
	case errors.As(err, &wt), errors.As(err, &rt), errors.As(err, &un):
		return true
	case errors.Is(err, gocql.ErrTimeoutNoResponse),
		errors.Is(err, gocql.ErrNoConnections),
		errors.Is(err, gocql.ErrConnectionClosed):
		return true
	}
	var re gocql.RequestError
	if errors.As(err, &re) {
		switch re.Code() {
		case gocql.ErrCodeOverloaded, gocql.ErrCodeBootstrapping, gocql.ErrCodeTruncate:
			return true
		}
	}
	return false
}

// isSchemaError reports a missing table or column.
func isSchemaError(err error) bool {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return me.Number == 1146 || me.Number == 1054 || me.Number == 1049
	}
	var pe *pq.Error
	if errors.As(err, &pe) {
		switch pe.Code {
		case "42P01", "42703", "3D000":
			return true
		}
	}
	var re gocql.RequestError
	if errors.As(err, &re) {
		return re.Code() == gocql.ErrCodeInvalid
	}
	return false
}

// classify maps a failed mutation onto the adapter contract.
func classify(op string, err error) (Result, error) {
	if IsTransient(err) {
		return indeterminate(err), nil
	}
	return Result{}, wrapFatal(op, err)
}

// readErr maps a failed read onto the adapter contract.
func readErr(op string, err error) error {
	if IsTransient(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrIndeterminate, err)
	}
	return wrapFatal(op, err)
}

func wrapFatal(op string, err error) error {
	if isSchemaError(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrSchema, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
