package custody

import "context"

// ChainStore is the adapter to an ordered, per-event append-only collection.
// Chains are partitioned by event_id; the store enforces uniqueness on both
// entry_id and entry_hash.
//
// Insert is a conditional write: it must fail with ErrTailConflict when the
// most recent entry for the event no longer matches the inserted entry's
// previous_hash, so that concurrent appends can never produce two entries
// claiming the same parent.
type ChainStore interface {
	// Insert persists a fully-populated entry.
	Insert(ctx context.Context, e *Entry) error

	// FindMostRecent returns the entry with the greatest timestamp for the
	// event, or nil when the event has no entries yet.
	FindMostRecent(ctx context.Context, eventID string) (*Entry, error)

	// FindAllOrdered returns every entry for the event in ascending
	// timestamp order.
	FindAllOrdered(ctx context.Context, eventID string) ([]*Entry, error)
}
