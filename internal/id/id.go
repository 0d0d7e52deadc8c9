package id

import (
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a lowercase ULID. ulid.Make is safe for concurrent use and
// monotonic within a millisecond.
func New() string {
	return strings.ToLower(ulid.Make().String())
}

// Valid reports whether s parses as an id issued by New.
func Valid(s string) bool {
	if len(s) != ulid.EncodedSize {
		return false
	}
	_, err := ulid.ParseStrict(s)
	return err == nil
}

// Time returns the millisecond timestamp embedded in an id.
func Time(s string) (time.Time, bool) {
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(u.Time()).UTC(), true
}
