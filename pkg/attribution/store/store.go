// Package store provides event sources and result sinks for attribution runs.
//
// MemoryStore keeps everything in process and suits tests and embedding.
// SQLiteStore persists raw events and the latest run's output to a SQLite
// file using the pure Go modernc.org/sqlite driver.
package store

import (
	"errors"

	"github.com/randalmurphal/attribution/pkg/attribution"
)

// ErrStoreClosed indicates the store has been closed.
var ErrStoreClosed = errors.New("store closed")

// Store is an event source that also accepts run output.
type Store interface {
	attribution.EventSource
	attribution.ResultSink

	// AppendDecisions adds decisions after any already stored.
	AppendDecisions(decisions ...attribution.Decision) error

	// AppendConversions adds conversions after any already stored.
	AppendConversions(conversions ...attribution.Conversion) error

	// Close releases any resources (connections, files).
	Close() error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)
