// Package storage persists scheduled entries.
//
// Drivers:
//   - "file": a single JSON document, rewritten atomically on every mutation
//   - "sqlite": modernc.org/sqlite, one connection, WAL
//   - "postgres": pgx connection pool
package storage

import (
	"context"
	"errors"
	"time"

	"wasched/internal/schedule"
)

var (
	ErrNotFound = errors.New("storage: entry not found")
	ErrClosed   = errors.New("storage: closed")
)

// Store is the scheduled-entry collection. Every mutation is atomic with
// respect to other mutations on the same store.
type Store interface {
	// Create validates d, assigns a fresh id and persists the entry unsent.
	Create(ctx context.Context, d schedule.Draft) (schedule.Entry, error)
	// Due returns unsent entries with DateTime <= now, oldest first.
	Due(ctx context.Context, now time.Time) ([]schedule.Entry, error)
	// MarkSent flips sent once. It returns false when the entry is missing
	// or was already sent.
	MarkSent(ctx context.Context, id string) (bool, error)
	// ActiveFor returns the owner's unsent entries, oldest first.
	ActiveFor(ctx context.Context, ownerID int64) ([]schedule.Entry, error)
	// Cancel deletes the entry iff it exists, is unsent and belongs to
	// ownerID. It returns false otherwise and changes nothing.
	Cancel(ctx context.Context, id string, ownerID int64) (bool, error)
	// Get loads a single entry; ok is false when it does not exist.
	Get(ctx context.Context, id string) (schedule.Entry, bool, error)
	Close() error
}

// Config selects and configures a driver.
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite; 0 keeps the driver default
}

// Clock is overridable in tests.
type Clock func() time.Time
