package repo

import "errors"

// ErrNotFound is returned by point lookups when no row matches.
// Callers translate this to HTTP 404 at the edge; nothing in this
// package panics or relies on sql.ErrNoRows leaking past the boundary.
var ErrNotFound = errors.New("repo: not found")

// ErrDuplicateNumber is returned when an insert violates the unique
// (parent, number) constraint — normally a sign the Counter Store
// handed out a number that was already used.
var ErrDuplicateNumber = errors.New("repo: duplicate (parent, number)")

// ErrDuplicateToken is returned on the vanishingly unlikely collision
// of two generated application tokens.
var ErrDuplicateToken = errors.New("repo: duplicate token")
