package model

import "time"

// User represents a person who can occupy seats.  Users are owned by
// the catalog and referenced by seats through a soft reference on ID;
// deleting a user that still occupies seats is not supported.
//
// Fields:
//
//	ID        – uuid primary key.
//	Username  – unique, indexed handle.
//	CreatedAt – timestamp of creation.
//	UpdatedAt – timestamp of last update.
type User struct {
	ID        string    `json:"id"`         // users.id
	Username  string    `json:"username"`   // users.username (secondary index)
	CreatedAt time.Time `json:"created_at"` // users.created_at
	UpdatedAt time.Time `json:"updated_at"` // users.updated_at
}
