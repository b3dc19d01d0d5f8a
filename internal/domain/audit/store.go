package audit

import "context"

// Store persists audit records.
// Interface owned by domain per hexagonal architecture.
type Store interface {
	// Append stores records in order.
	Append(ctx context.Context, records ...Record) error

	// Flush forces pending records to storage. Called during shutdown.
	Flush(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// RecentReader serves the most recent records from memory.
type RecentReader interface {
	// Recent returns records matching f, newest first.
	Recent(f Filter) []Record
}
