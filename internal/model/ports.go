package model

import "context"

// ── Storage Port Interfaces ──
// These interfaces decouple the dispatcher and gateway from the concrete
// SQLite and Redis implementations.

// MaxSearchLimit caps the rows a single search may return.
const MaxSearchLimit = 100

// InstrumentStore persists the instrument reference table.
type InstrumentStore interface {
	// ReplaceAll atomically swaps the stored set for records. Readers see
	// either the previous complete set or the new one.
	ReplaceAll(ctx context.Context, records []Instrument) error

	// Search returns up to limit instruments whose code or name starts with
	// prefix, in storage order. Blank prefixes return nothing. limit is
	// clamped to MaxSearchLimit.
	Search(ctx context.Context, prefix string, limit int) ([]Instrument, error)

	// LookupByExactName resolves a name to its record. Returns ErrNotFound
	// on a miss.
	LookupByExactName(ctx context.Context, name string) (Instrument, error)

	// Close releases underlying resources.
	Close() error
}

// ResultPublisher mirrors successful query results to an external sink.
// Implementations must not block the caller on sink failures.
type ResultPublisher interface {
	Publish(ctx context.Context, queryID string, data []byte)
}
