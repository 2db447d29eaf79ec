// Package pagination implements keyset cursors over (created_at DESC, id DESC)
// feeds.
package pagination

import (
	"encoding/base64"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/apperr"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Params struct {
	Cursor string
	Limit  int
}

// Page is the pagination block of the response envelope.
type Page struct {
	NextCursor string `json:"nextCursor,omitempty"`
	HasMore    bool   `json:"hasMore"`
}

// Cursor points at the last item of the previous page.
type Cursor struct {
	At time.Time
	ID string
}

func (p Params) Normalize() Params {
	if p.Limit <= 0 {
		p.Limit = DefaultLimit
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	return p
}

func Encode(c Cursor) string {
	raw := strconv.FormatInt(c.At.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor. An empty string yields ok=false.
func Decode(s string) (c Cursor, ok bool, err error) {
	if s == "" {
		return Cursor{}, false, nil
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return Cursor{}, false, apperr.Validation("malformed cursor")
	}
	ts, id, found := strings.Cut(string(b), "|")
	if !found || id == "" {
		return Cursor{}, false, apperr.Validation("malformed cursor")
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, false, apperr.Validation("malformed cursor")
	}
	return Cursor{At: time.Unix(0, n).UTC(), ID: id}, true, nil
}

// After reports whether an item sorts strictly after c in descending order.
func (c Cursor) After(at time.Time, id string) bool {
	if at.Equal(c.At) {
		return id < c.ID
	}
	return at.Before(c.At)
}

// Slice trims a descending, already-filtered result fetched with limit+1 rows
// and builds the page block.
func Slice[T any](items []T, limit int, key func(T) Cursor) ([]T, Page) {
	if len(items) <= limit {
		return items, Page{}
	}
	items = items[:limit]
	return items, Page{NextCursor: Encode(key(items[len(items)-1])), HasMore: true}
}
