// Package repository holds the movie and user catalog.  The catalog is
// reference data for the reservation coordinator; seat records live in
// seatstore.  The sentinel values below let handlers and the CLI tell
// "not there" from "already there" from a real failure.
package repository

import "errors"

// ErrMovieNotFound is returned when no movie has the requested name.
// Handlers translate it into an HTTP 404 response.
var ErrMovieNotFound = errors.New("movie not found")

// ErrUserNotFound is returned when no user has the requested id or
// username.  Handlers translate it into an HTTP 404 response.
var ErrUserNotFound = errors.New("user not found")

// ErrMovieExists is returned by CreateMovie for a duplicate name.
var ErrMovieExists = errors.New("movie already exists")

// ErrUsernameTaken is returned by CreateUser for a duplicate username.
var ErrUsernameTaken = errors.New("username already taken")
