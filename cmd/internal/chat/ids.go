package chat

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// NewConnID returns a ULID used as websocket connection id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewConnID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewEnvelopeID returns a ULID used as envelope id.
func NewEnvelopeID(now time.Time) (string, error) {
	return NewConnID(now)
}

// NewChatID returns a fresh conversation id derived from the current time:
// unix seconds with microsecond precision, e.g. "1756600000.123456".
// Callers on the same connection never mint two ids in the same microsecond.
func NewChatID(now time.Time) string {
	return strconv.FormatFloat(float64(now.UnixMicro())/1e6, 'f', 6, 64)
}
