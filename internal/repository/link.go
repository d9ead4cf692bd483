package repository

import (
	"context"
	"errors"
	"time"

	"streamlink/internal/model"
)

// Package repository contains the link store abstraction.
// Implementations live in subpackages (memory, postgres, redis) and are interchangeable.

var (
	// ErrNotFound is returned by Lookup when no record holds the token.
	ErrNotFound = errors.New("link not found")
	// ErrDuplicateToken is returned by Insert when the token is already taken.
	ErrDuplicateToken = errors.New("duplicate link token")
)

// DefaultSweepBatch bounds how many records a sweep removes per critical section or statement.
const DefaultSweepBatch = 500

// LinkRepository stores link records keyed by token. There is no update path.
// Implementations must be safe for concurrent use; a Lookup racing SweepExpired
// observes a record either fully present or absent.
type LinkRepository interface {
	// Insert stores a new record, failing with ErrDuplicateToken if the token exists.
	Insert(ctx context.Context, link *model.Link) error

	// Lookup returns the record for token or ErrNotFound.
	// It does not evaluate expiry; that is the caller's policy.
	Lookup(ctx context.Context, token string) (*model.Link, error)

	// Delete removes the record for token. Deleting an absent token is not an error.
	Delete(ctx context.Context, token string) error

	// SweepExpired removes every record created strictly before cutoff and reports how many were removed.
	SweepExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
