// Package queue carries seat events over a message broker.  Events are
// facts about committed seat changes; consumers log or notify from them
// and never feed them back into reservation decisions.
package queue

import (
	"fmt"
	"time"
)

// Event types.
const (
	SeatReserved = "seat.reserved"
	SeatReleased = "seat.released"
)

// SeatEvent is published after a reservation is confirmed or a seat is
// released.  Delivery is at-most-once from the coordinator's point of
// view; Token lets consumers drop duplicates of the same intent.
type SeatEvent struct {
	Type       string    `json:"type"`
	MovieName  string    `json:"movie_name"`
	Seat       string    `json:"seat"`
	UserID     string    `json:"user_id"`
	Token      string    `json:"token,omitempty"`
	Reconciled bool      `json:"reconciled,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// FormatLine renders the single-line, human-friendly log form written by
// the consumer.
func FormatLine(ev SeatEvent) string {
	verb := "Seat reserved"
	if ev.Type == SeatReleased {
		verb = "Seat released"
	}
	line := fmt.Sprintf("[%s] %s | movie=%q | seat=%s | user_id=%s",
		ev.OccurredAt.UTC().Format(time.RFC3339), verb, ev.MovieName, ev.Seat, ev.UserID)
	if ev.Token != "" {
		line += " | token=" + ev.Token
	}
	if ev.Reconciled {
		line += " | reconciled=true"
	}
	return line + "\n"
}
