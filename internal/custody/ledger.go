package custody

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxAppendAttempts bounds the optimistic retry loop when a store write
// loses the tail race to another writer.
const maxAppendAttempts = 3

// lockStripes is the size of the per-event mutex pool. Events hashing to the
// same stripe share a lock, which only costs parallelism, never correctness.
const lockStripes = 128

// AppendOption customizes an appended entry.
type AppendOption func(*Entry)

// WithActorType overrides the default AUTOMATED_SYSTEM actor type.
func WithActorType(actorType string) AppendOption {
	return func(e *Entry) { e.ActorType = actorType }
}

// WithActorDetails attaches structured information about the acting party.
func WithActorDetails(details map[string]any) AppendOption {
	return func(e *Entry) { e.ActorDetails = details }
}

// MetricsRecordFunc is an optional callback invoked after each successful append.
type MetricsRecordFunc func(action Action)

// Ledger orchestrates appends and verification against a ChainStore and owns
// the chain invariants: per-event total order by timestamp, genesis linkage,
// and hash continuity.
//
// Appends to one event are linearizable; appends to different events proceed
// in parallel. Two layers enforce this: a per-event mutex stripe inside the
// process, and the store's conditional insert across processes.
type Ledger struct {
	store    ChainStore
	logger   *zap.Logger
	onAppend MetricsRecordFunc
	now      func() time.Time
	stripes  [lockStripes]sync.Mutex
}

// NewLedger creates a Ledger over the given store.
func NewLedger(store ChainStore, logger *zap.Logger) *Ledger {
	return &Ledger{store: store, logger: logger, now: time.Now}
}

// SetMetricsRecord configures the append metrics callback.
func (l *Ledger) SetMetricsRecord(fn MetricsRecordFunc) {
	l.onAppend = fn
}

// SetClock overrides the ledger's time source. For tests.
func (l *Ledger) SetClock(fn func() time.Time) {
	l.now = fn
}

func (l *Ledger) stripe(eventID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(eventID)) //nolint:errcheck
	return &l.stripes[h.Sum32()%lockStripes]
}

// Append creates, hashes, and persists a new custody entry bound to the
// current tail of the event's chain, returning the persisted entry.
//
// The read-modify-write sequence is serialized per event_id; on a tail
// conflict from a concurrent out-of-process writer the whole sequence is
// retried with fresh state up to maxAppendAttempts before surfacing the
// failure. Duplicate entry_hash rejections are surfaced immediately: they
// signal a duplicate append or a digest collision, and retrying the same
// entry would be wrong either way.
func (l *Ledger) Append(ctx context.Context, eventID string, action Action, actor, location string, details map[string]any, opts ...AppendOption) (*Entry, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if eventID == "" {
		return nil, fmt.Errorf("%w: empty event_id", ErrInvalidEntry)
	}
	// details is always an object, never null, in both the canonical form and
	// the stored row.
	if details == nil {
		details = map[string]any{}
	}

	mu := l.stripe(eventID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tail, err := l.store.FindMostRecent(ctx, eventID)
		if err != nil {
			return nil, fmt.Errorf("resolve chain tail for %s: %w", eventID, err)
		}

		prevHash := Genesis
		// Both the canonical form and the timestamptz column carry microsecond
		// precision, so the ordering key must be decided at that resolution.
		// Comparing raw nanoseconds would let two appends land in the same
		// stored microsecond without triggering the bump.
		ts := l.now().UTC().Truncate(time.Microsecond)
		if tail != nil {
			prevHash = tail.EntryHash
			// The chain's ordering key must be strictly increasing. A clock
			// too coarse to separate two appends gets bumped by one
			// microsecond past the tail.
			if !ts.After(tail.Timestamp) {
				ts = tail.Timestamp.Add(time.Microsecond)
			}
		}

		entry := &Entry{
			EntryID:       newEntryID(ts, randSuffix()),
			Timestamp:     ts,
			EventID:       eventID,
			Action:        action,
			Actor:         actor,
			ActorType:     ActorAutomatedSystem,
			Location:      location,
			Details:       details,
			PreviousHash:  prevHash,
			HashAlgorithm: HashAlgorithm,
			Verified:      true,
			CreatedAt:     ts,
		}
		for _, opt := range opts {
			opt(entry)
		}

		entry.EntryHash, err = HashEntry(entry)
		if err != nil {
			return nil, err
		}

		if err := l.store.Insert(ctx, entry); err != nil {
			if errors.Is(err, ErrTailConflict) {
				lastErr = err
				l.logger.Debug("custody append lost tail race, retrying",
					zap.String("event_id", eventID),
					zap.Int("attempt", attempt),
				)
				continue
			}
			return nil, err
		}

		if l.onAppend != nil {
			l.onAppend(action)
		}
		l.logger.Info("custody entry appended",
			zap.String("event_id", eventID),
			zap.String("entry_id", entry.EntryID),
			zap.String("action", string(action)),
			zap.String("actor", actor),
		)
		return entry, nil
	}
	return nil, fmt.Errorf("append to %s: retries exhausted: %w", eventID, lastErr)
}

// Import adopts an externally-produced entry, such as an edge device's own
// custody log shipped alongside the evidence, after recomputing its self-hash.
// The entry is inserted as-is; it typically becomes the genesis link that
// the subsequent cloud TRANSFER entry chains onto.
func (l *Ledger) Import(ctx context.Context, e *Entry) error {
	if e == nil || e.EntryID == "" || e.EventID == "" {
		return fmt.Errorf("%w: missing entry_id or event_id", ErrInvalidEntry)
	}
	if !e.Action.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidAction, e.Action)
	}

	computed, err := HashEntry(e)
	if err != nil {
		return err
	}
	if computed != e.EntryHash {
		return fmt.Errorf("%w: self-hash mismatch for %s", ErrInvalidEntry, e.EntryID)
	}

	mu := l.stripe(e.EventID)
	mu.Lock()
	defer mu.Unlock()

	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := l.store.Insert(ctx, e); err != nil {
		return err
	}
	l.logger.Info("custody entry imported",
		zap.String("event_id", e.EventID),
		zap.String("entry_id", e.EntryID),
		zap.String("actor_type", e.ActorType),
	)
	return nil
}

// GetChain returns the complete custody chain for an event in ascending
// timestamp order.
func (l *Ledger) GetChain(ctx context.Context, eventID string) ([]*Entry, error) {
	return l.store.FindAllOrdered(ctx, eventID)
}

// Verify retrieves the event's full chain and walks it, reporting the first
// point of inconsistency. Read-only and idempotent; a broken chain is an
// expected, actionable outcome carried in the result, never an error.
func (l *Ledger) Verify(ctx context.Context, eventID string) (Result, error) {
	entries, err := l.store.FindAllOrdered(ctx, eventID)
	if err != nil {
		return Result{}, fmt.Errorf("load chain for %s: %w", eventID, err)
	}
	return VerifyEntries(entries), nil
}

func randSuffix() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure means the process has bigger problems; fall
		// back to a time-derived suffix rather than aborting the append.
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xffffffff)
	}
	return hex.EncodeToString(b[:])
}
