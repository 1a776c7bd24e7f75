package xid

import "github.com/google/uuid"

// New returns a random identifier for stored records.
func New() string {
	return uuid.NewString()
}

// Valid reports whether id has the shape of an identifier issued by New.
func Valid(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
