// Package storage persists records that could not be delivered so they can be
// replayed later.
package storage

import "github.com/developingchet/http-sink/internal/sink"

// Spool is a FIFO queue of undelivered records. Implementations must be safe
// for concurrent use.
type Spool interface {
	// Append enqueues records in order. Appending nothing is a no-op.
	Append(records []sink.Record) error

	// Drain removes up to max of the oldest entries and returns the records
	// among them together with the number of entries removed. Entries that
	// cannot be decoded are dropped, so consumed may exceed len(records).
	// Returns an empty slice when the spool is empty.
	Drain(max int) (records []sink.Record, consumed int, err error)

	// Len returns the number of spooled records.
	Len() int

	// DBPath returns the filesystem path of the database file ("" for in-memory).
	DBPath() string

	Close() error
}
