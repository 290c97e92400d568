package seatstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", fmt.Errorf("exec: %w", context.DeadlineExceeded), true},
		{"bad conn", driver.ErrBadConn, true},
		{"mysql invalid conn", mysql.ErrInvalidConn, true},
		{"cas write timeout", &gocql.RequestErrWriteTimeout{WriteType: "CAS"}, true},
		{"unavailable", &gocql.RequestErrUnavailable{}, true},
		{"no connections", gocql.ErrNoConnections, true},
		{"duplicate key", &mysql.MySQLError{Number: 1062}, false},
		{"plain", errors.New("syntax error"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestClassify(t *testing.T) {
	res, err := classify("op", context.DeadlineExceeded)
	assert.NoError(t, err)
	assert.Equal(t, Indeterminate, res.Status)

	_, err = classify("op", &mysql.MySQLError{Number: 1054})
	assert.ErrorIs(t, err, ErrSchema)

	_, err = classify("op", errors.New("boom"))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrSchema)
}
