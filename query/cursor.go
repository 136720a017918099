package query

import (
	"encoding/base64"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Cursor is the opaque pagination cursor: the last-seen ordering key and
// the identity of the row it belongs to, as a tiebreaker.
type Cursor struct {
	Key any `msgpack:"k"`
	ID  any `msgpack:"id"`
}

// Encode returns the wire form of the cursor: msgpack, base64url.
func (c *Cursor) Encode() (string, error) {
	b, err := msgpack.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("morph: encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor parses a wire cursor. An empty string decodes to nil.
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("morph: malformed cursor: %w", err)
	}
	var c Cursor
	if err := msgpack.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("morph: malformed cursor: %w", err)
	}
	return &c, nil
}
