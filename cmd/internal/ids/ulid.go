// Package ids provides the ID primitives (ULID) used across the broker.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps notification history
// and log output naturally ordered by creation time.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// MustULID is NewULID for callers that cannot usefully handle an entropy
// failure (connection ids, notification ids). It falls back to a zero-entropy
// ULID rather than panicking mid-connection.
func MustULID(now time.Time) string {
	id, err := NewULID(now)
	if err != nil {
		return ulid.ULID{}.String()
	}
	return id
}
