package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	t.Setenv("SEAT_STORE", "memory")
	t.Setenv("CATALOG_STORE", "memory")
	t.Setenv("EVENTS_BACKEND", "none")
	var out, errOut bytes.Buffer
	code := run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestUnknownCommand(t *testing.T) {
	code, _, stderr := runCLI(t, "book")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, `unknown command "book"`)
	assert.Contains(t, stderr, "usage: seatctl")
}

func TestReserveMissingFlags(t *testing.T) {
	code, _, stderr := runCLI(t, "reserve", "-movie", "Alien")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, "missing -seat, -user")
}

func TestReserveUnknownMovie(t *testing.T) {
	code, _, stderr := runCLI(t, "reserve", "-movie", "Alien", "-seat", "A1", "-user", "0f8fad5b-d9cb-469f-a165-70867728950e")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, `no movie named "Alien"`)
}

func TestUserAdd(t *testing.T) {
	code, stdout, _ := runCLI(t, "user", "add", "-name", "Alice")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "\talice")
}

func TestMovieAddRejectsBadDate(t *testing.T) {
	code, _, stderr := runCLI(t, "movie", "add", "-name", "Alien", "-date", "tomorrow")
	assert.Equal(t, exitFatal, code)
	assert.Contains(t, stderr, "show date")
}

func TestStressFullOccupancy(t *testing.T) {
	code, stdout, stderr := runCLI(t, "stress", "-scenario", "full-occupancy", "-seats", "8", "-clients", "3", "-seed", "1")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "full-occupancy: requests=24 confirmed=8")
	assert.NotContains(t, stdout, "VIOLATION")
}

func TestStressWithFaults(t *testing.T) {
	code, stdout, stderr := runCLI(t, "stress", "-scenario", "randomized", "-seats", "4", "-clients", "4",
		"-requests", "15", "-seed", "2", "-lost-request", "0.2", "-lost-reply", "0.2")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, "faults: lost requests=")
}

func TestSeatLabels(t *testing.T) {
	labels := seatLabels(45)
	require.Len(t, labels, 45)
	assert.Equal(t, "A1", labels[0])
	assert.Equal(t, "A20", labels[19])
	assert.Equal(t, "B1", labels[20])
	assert.Equal(t, "C5", labels[44])

	assert.Equal(t, "AA1", seatLabels(26*20 + 1)[26*20])
}

func TestExitErrorCodes(t *testing.T) {
	var xe *exitError
	err := conflict("taken")
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, exitConflict, xe.code)

	err = retryable("timeout")
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, exitRetryable, xe.code)
}
