// Package pagination implements the keyset cursor used by the list
// endpoints (chats, messages) to page through a parent's children
// without an offset scan. Adapted from the sync service's stream
// cursor: same base64 envelope, but keyed on the sequential `number`
// this domain already orders by instead of a timestamp+UUID pair.
package pagination

import (
	"encoding/base64"
	"strconv"
)

// DefaultLimit and MaxLimit bound the page size accepted from the
// `limit` query parameter.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// EncodeCursor returns an opaque, base64-encoded cursor for after — the
// last number seen by the caller. Returns "" for after <= 0, so a first
// page has no cursor to send back for "no more pages".
func EncodeCursor(after int64) string {
	if after <= 0 {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.FormatInt(after, 10)))
}

// DecodeCursor parses a cursor string back into the `after` number it
// encodes. Returns 0, false for an empty, malformed, or non-positive
// cursor — callers treat that as "start from the beginning".
func DecodeCursor(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, false
	}
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Limit clamps a client-requested page size to [1, MaxLimit], falling
// back to DefaultLimit for a non-positive or unparseable request.
func Limit(raw string) int {
	if raw == "" {
		return DefaultLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return DefaultLimit
	}
	if n > MaxLimit {
		return MaxLimit
	}
	return n
}
