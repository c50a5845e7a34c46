package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidID reports a malformed agent identifier string.
var ErrInvalidID = errors.New("agent: invalid id")

// ID identifies one agent: the channel it belongs to and the container or
// session scope within that channel. The canonical encoding is
// "channel/session".
type ID struct {
	Channel string
	Session string
}

// String returns the canonical encoding. String and ParseID round-trip.
func (id ID) String() string {
	return id.Channel + "/" + id.Session
}

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool {
	return id.Channel == "" && id.Session == ""
}

// ParseID decodes a canonical "channel/session" string. Malformed input is
// reported as an error wrapping ErrInvalidID; it never panics.
func ParseID(s string) (ID, error) {
	channel, session, ok := strings.Cut(s, "/")
	if !ok {
		return ID{}, fmt.Errorf("%w: %q missing '/' separator", ErrInvalidID, s)
	}
	if channel == "" || session == "" {
		return ID{}, fmt.Errorf("%w: %q has empty scope", ErrInvalidID, s)
	}
	if strings.Contains(session, "/") {
		return ID{}, fmt.Errorf("%w: %q has more than two scopes", ErrInvalidID, s)
	}
	return ID{Channel: channel, Session: session}, nil
}

// ValidID reports whether s is a well-formed agent id.
func ValidID(s string) bool {
	_, err := ParseID(s)
	return err == nil
}
