package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const tokenVersion = 1

// Cursor is the keyset position a page token resumes after. Listings ordered newest first carry
// the creation time of the last item with its id; listings ordered by a unique key carry the key.
type Cursor struct {
	After     string
	CreatedAt time.Time
}

// AfterKey resumes a listing ordered by a unique key.
func AfterKey(key string) Cursor {
	return Cursor{After: key}
}

// AfterCreated resumes a newest-first listing after the item created at at with id.
func AfterCreated(at time.Time, id string) Cursor {
	return Cursor{After: id, CreatedAt: at.UTC()}
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.After == ""
}

type tokenPayload struct {
	Version int    `json:"v"`
	After   string `json:"a"`
	At      string `json:"t,omitempty"`
}

// Token encodes c as an opaque URL-safe page token. The zero cursor encodes as "".
func (c Cursor) Token() string {
	if c.IsZero() {
		return ""
	}
	payload := tokenPayload{Version: tokenVersion, After: c.After}
	if !c.CreatedAt.IsZero() {
		payload.At = c.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	// Marshalling a struct of strings and an int cannot fail.
	data, _ := json.Marshal(payload)
	return base64.RawURLEncoding.EncodeToString(data)
}

// ParseToken decodes a token produced by Cursor.Token. An empty token is the zero cursor.
func ParseToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var payload tokenPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if payload.Version != tokenVersion || payload.After == "" {
		return Cursor{}, fmt.Errorf("%w: unsupported token", ErrInvalidPageToken)
	}
	cursor := Cursor{After: payload.After}
	if payload.At != "" {
		at, err := time.Parse(time.RFC3339Nano, payload.At)
		if err != nil {
			return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
		}
		cursor.CreatedAt = at.UTC()
	}
	return cursor, nil
}

// RequireCreated rejects cursors that lack the creation time a newest-first listing resumes from.
func (c Cursor) RequireCreated() error {
	if !c.IsZero() && c.CreatedAt.IsZero() {
		return fmt.Errorf("%w: token does not belong to this listing", ErrInvalidPageToken)
	}
	return nil
}
