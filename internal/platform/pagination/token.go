package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Cursor locates the next page. Keyed cursors (AfterCreatedAt/AfterID) serve indexed queries;
// Offset serves scans that filter in memory.
type Cursor struct {
	Offset         int       `json:"o,omitempty"`
	AfterCreatedAt time.Time `json:"t,omitempty"`
	AfterID        string    `json:"id,omitempty"`
}

// IsZero reports whether the cursor points at the first page.
func (c Cursor) IsZero() bool {
	return c.Offset == 0 && c.AfterCreatedAt.IsZero() && c.AfterID == ""
}

// EncodeToken serialises the cursor into a URL-safe page token. The zero cursor encodes to "".
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.IsZero() {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses a token produced by EncodeToken. "" decodes to the zero cursor.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var cursor Cursor
	if err := json.Unmarshal(decoded, &cursor); err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if cursor.Offset < 0 {
		return Cursor{}, fmt.Errorf("%w: negative offset", ErrInvalidPageToken)
	}
	return cursor, nil
}

// OffsetPage slices items by the cursor offset and returns the token for the following page.
func OffsetPage[T any](items []T, pageSize int, cursor Cursor) ([]T, string) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	start := cursor.Offset
	if start > len(items) {
		start = len(items)
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	page := items[start:end]

	next := ""
	if end < len(items) {
		next, _ = EncodeToken(Cursor{Offset: end})
	}
	return page, next
}
