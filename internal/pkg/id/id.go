package id

import (
	"crypto/rand"

	"github.com/oklog/ulid/v2"
)

// New generates a new ULID string. ULIDs sort by creation time, which keeps user and
// session partition keys roughly time-ordered.
func New() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Valid reports whether s is a well-formed ULID. Cookie-held ids are checked with it
// before they are used to build cache keys.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
