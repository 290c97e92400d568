package model

import "time"

// SeatRecord is the persisted state of one (movie, seat) pair.  A
// record is created by the first successful reservation and is never
// physically deleted; cancelling clears UserID and bumps UpdatedAt.
//
// Fields:
//
//	MovieName – partition key.
//	Label     – clustering key, e.g. "A1".
//	UserID    – occupying user; empty when the seat is free.
//	Token     – idempotency token of the intent that placed UserID.
//	CreatedAt – first reservation of this seat.
//	UpdatedAt – last reserve or cancel.
type SeatRecord struct {
	MovieName string    `json:"movie_name"`        // reservations.movie_name
	Label     string    `json:"seat"`              // reservations.seat
	UserID    string    `json:"user_id,omitempty"` // reservations.user_id (nullable)
	Token     string    `json:"token,omitempty"`   // reservations.token (nullable)
	CreatedAt time.Time `json:"created_at"`        // reservations.created_at
	UpdatedAt time.Time `json:"updated_at"`        // reservations.updated_at
}

// Free reports whether nobody occupies the seat.
func (r SeatRecord) Free() bool { return r.UserID == "" }

// SeatState is the result of a linearizable point read.  Exists is
// false when no record has ever been written for the seat, which is
// equivalent to free.
type SeatState struct {
	SeatRecord
	Exists bool `json:"exists"`
}

// OccupiedBy reports whether userID currently holds the seat.
func (s SeatState) OccupiedBy(userID string) bool {
	return userID != "" && s.UserID == userID
}

// LessLabel orders seat labels by row letters, then by numeric seat
// number, so "A2" sorts before "A10".
func LessLabel(a, b string) bool {
	ra, na := splitLabel(a)
	rb, nb := splitLabel(b)
	if len(ra) != len(rb) {
		return len(ra) < len(rb)
	}
	if ra != rb {
		return ra < rb
	}
	if na != nb {
		return na < nb
	}
	return a < b
}

func splitLabel(s string) (string, int) {
	i := 0
	for i < len(s) && (s[i] < '0' || s[i] > '9') {
		i++
	}
	n := 0
	for _, c := range s[i:] {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return s[:i], n
}
