package model

// ReservationIntent is the request to claim one seat.  It is never
// persisted; the caller owns it for the duration of a single reserve
// call.  Replaying the same intent (same user and token) after a
// timeout is always safe.
type ReservationIntent struct {
	MovieName        string `json:"movie_name"`
	SeatLabel        string `json:"seat"`
	UserID           string `json:"user_id"`
	IdempotencyToken string `json:"idempotency_token"`
}
