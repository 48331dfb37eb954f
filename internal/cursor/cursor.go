// Package cursor implements the opaque pagination cursor used by the
// execution-history listing's cursor mode, ported from
// original_source's utils/cursor.py.
package cursor

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"chatstreamd/internal/errs"
)

// Encode packs a createdAt/id pair into an opaque, URL-safe cursor token.
func Encode(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

// Decode reverses Encode, returning errs.InvalidCursorError on any
// malformed input.
func Decode(token string) (time.Time, string, error) {
	decoded, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", &errs.InvalidCursorError{Cursor: token}
	}
	parts := strings.SplitN(string(decoded), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", &errs.InvalidCursorError{Cursor: token}
	}
	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", &errs.InvalidCursorError{Cursor: token}
	}
	if _, err := uuid.Parse(parts[1]); err != nil {
		return time.Time{}, "", &errs.InvalidCursorError{Cursor: token}
	}
	return ts, parts[1], nil
}
