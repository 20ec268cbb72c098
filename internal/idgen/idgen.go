// Package idgen generates the time-ordered identifiers the broker uses as
// the canonical per-topic ordering for messages.
package idgen

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Generator produces UUIDv7 identifiers that are strictly increasing for
// calls issued by the same process, even when the underlying clock does not
// advance between two calls in the same millisecond. uuid.NewV7 is already
// monotonic within a millisecond tick per the RFC 9562 guidance the
// google/uuid implementation follows; the mutex here only serializes access
// so concurrent callers never observe two reads of the same tick racing.
type Generator struct {
	mu sync.Mutex
}

// New returns a Generator ready for concurrent use.
func New() *Generator {
	return &Generator{}
}

// Next returns the next identifier in the sequence, as its canonical string
// form.
func (g *Generator) Next() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Time extracts the creation timestamp encoded in a UUIDv7 string. Used by
// tests and diagnostics that want to confirm ordering without a round trip
// through storage.
func Time(id string) (time.Time, error) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	sec, nsec := parsed.Time().UnixTime()
	return time.Unix(sec, nsec).UTC(), nil
}
