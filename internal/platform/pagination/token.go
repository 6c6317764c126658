package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Cursor is the opaque position carried by a page token.
type Cursor struct {
	Offset int  `json:"o"`
	Desc   bool `json:"d,omitempty"`
}

// EncodeToken serialises the cursor into a base64 URL-safe page token.
func EncodeToken(cursor Cursor) (string, error) {
	if cursor.Offset <= 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken parses the page token produced by EncodeToken back into a cursor.
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

// Slice returns the page of items selected by params together with the token of the next page.
// items must already be sorted in the requested direction.
func Slice[T any](items []T, params Params) ([]T, string, error) {
	start := params.Cursor.Offset
	if start >= len(items) {
		return []T{}, "", nil
	}
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	end := start + size
	if end >= len(items) {
		return items[start:], "", nil
	}
	next, err := EncodeToken(Cursor{Offset: end, Desc: params.Desc})
	if err != nil {
		return nil, "", err
	}
	return items[start:end], next, nil
}
