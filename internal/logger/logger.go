// Package logger builds the leveled loggers shared by the server, the CLI
// and the core packages.  It wraps the gommon logger that echo uses so a
// single instance can be handed to echo and to our own components.
package logger

import (
	"io"
	"strings"

	"github.com/labstack/gommon/log"
)

// Logger is the subset of logging methods the core packages depend on.
// *log.Logger from gommon and echo.Logger both satisfy it.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

const header = `${time_rfc3339} ${level} ${prefix} ${short_file}:${line}`

// New returns a logger writing to out (stdout when nil) at the given level.
func New(prefix, level string, out io.Writer) *log.Logger {
	l := log.New(prefix)
	l.SetHeader(header)
	l.SetLevel(ParseLevel(level))
	if out != nil {
		l.SetOutput(out)
	}
	return l
}

// Discard returns a logger that drops everything.  Tests and library
// callers that pass no logger get this one.
func Discard() *log.Logger {
	l := log.New("-")
	l.SetOutput(io.Discard)
	l.SetLevel(log.OFF)
	return l
}

// ParseLevel maps a configuration string onto a gommon level.  Unknown
// values fall back to INFO.
func ParseLevel(s string) log.Lvl {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG
	case "warn", "warning":
		return log.WARN
	case "error":
		return log.ERROR
	case "off", "none":
		return log.OFF
	}
	return log.INFO
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}
