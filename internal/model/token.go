package model

import "github.com/oklog/ulid/v2"

// NewToken generates a new ULID string for use as a job token.
func NewToken() string {
	return ulid.Make().String()
}
