package chat

import "github.com/oklog/ulid/v2"

// NewSessionID returns a fresh 26-character ULID. Lexicographic order
// follows creation time.
func NewSessionID() string {
	return ulid.Make().String()
}
