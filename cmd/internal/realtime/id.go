package realtime

import (
	"time"

	"chirp/cmd/identity/ids"
)

// NewConnID returns a ULID identifying one websocket subscription.
func NewConnID(now time.Time) string {
	return ids.MustULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) string {
	return ids.MustULID(now)
}
