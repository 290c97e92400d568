package model

import "time"

// Movie is the reference record that seat reservations are scoped
// under.  Its lifecycle belongs to the catalog; the coordinator only
// reads it to check that a request targets an existing movie.
//
// Fields:
//
//	Name      – primary key, also the partition key of its seats.
//	ShowDate  – when the screening takes place.
//	CreatedAt – timestamp of creation.
//	UpdatedAt – timestamp of last update.
type Movie struct {
	Name      string    `json:"name"`       // movies.name
	ShowDate  time.Time `json:"show_date"`  // movies.show_date
	CreatedAt time.Time `json:"created_at"` // movies.created_at
	UpdatedAt time.Time `json:"updated_at"` // movies.updated_at
}
