// Package dedup provides message-id deduplication for agent inboxes.
//
// Agents mark a message id before processing it, so a duplicate arriving
// mid-handling is suppressed, and release the id if processing fails, so
// a legitimate redelivery can be retried. Backends carry a TTL so the
// processed set does not grow without bound.
package dedup

import "time"

// DefaultTTL is how long a processed message id stays suppressed
const DefaultTTL = time.Hour

// Deduper tracks processed message ids.
// Implementations must be safe for concurrent use.
//
// The interface is designed to support both in-memory and shared backends
// (Redis, database, etc.) for different deployment scenarios.
type Deduper interface {
	// Mark records the id as processed. It returns true if the id was
	// not already present (the caller should process the message) and
	// false for a duplicate (the caller must not process it again).
	Mark(id string) bool

	// Release removes the id so a redelivery can be processed. Called
	// when handling failed after Mark.
	Release(id string)

	// Len returns the number of ids currently suppressed.
	Len() int
}
