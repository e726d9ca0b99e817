// Package pagination provides cursor-based pagination over lists ordered
// newest first by (time, id).
package pagination

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var (
	ErrInvalidCursor = errors.New("pagination: invalid cursor")
	ErrInvalidLimit  = errors.New("pagination: invalid limit")
)

// Cursor is the key of the last item on the previous page.
type Cursor struct {
	At time.Time
	ID string
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(at time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", at.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{At: time.Unix(0, n).UTC(), ID: id}, nil
}

// ParseLimit reads a ?limit= value. Empty means DefaultLimit; values above
// MaxLimit are clamped.
func ParseLimit(s string) (int, error) {
	if s == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, ErrInvalidLimit
	}
	return min(n, MaxLimit), nil
}

// Page cuts one page out of items, which must already be sorted newest
// first by key. It returns the page and the cursor for the next one, empty
// when there is nothing more.
func Page[T any](items []T, after *Cursor, limit int, key func(T) (time.Time, string)) ([]T, string) {
	start := 0
	if after != nil {
		start = len(items)
		for i, it := range items {
			at, id := key(it)
			if at.Before(after.At) || (at.Equal(after.At) && id < after.ID) {
				start = i
				break
			}
		}
	}
	rest := items[start:]
	if len(rest) <= limit {
		return rest, ""
	}
	page := rest[:limit]
	at, id := key(page[len(page)-1])
	return page, Encode(at, id)
}
