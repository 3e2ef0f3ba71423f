package custody

import (
	"errors"
	"time"
)

// Genesis is the sentinel previous_hash of the first entry in an event's chain.
const Genesis = "GENESIS"

// HashAlgorithm tags every entry with the digest function in use. The system
// runs a single algorithm; the field exists for forward migration only.
const HashAlgorithm = "SHA-256"

// Action is one of the closed set of custody action kinds.
type Action string

const (
	ActionEvidenceCollection Action = "EVIDENCE_COLLECTION"
	ActionTransfer           Action = "TRANSFER"
	ActionAccess             Action = "ACCESS"
	ActionVerification       Action = "VERIFICATION"
	ActionModification       Action = "MODIFICATION"
	ActionExport             Action = "EXPORT"
	ActionDeletion           Action = "DELETION"
)

// Valid reports whether a is one of the closed action set.
func (a Action) Valid() bool {
	switch a {
	case ActionEvidenceCollection, ActionTransfer, ActionAccess,
		ActionVerification, ActionModification, ActionExport, ActionDeletion:
		return true
	}
	return false
}

// Actor types recorded in custody entries.
const (
	ActorAutomatedSystem = "AUTOMATED_SYSTEM"
	ActorHumanOperator   = "HUMAN_OPERATOR"
	ActorEdgeDevice      = "EDGE_DEVICE"
)

var (
	// ErrInvalidAction is returned by Append when the action is not one of
	// the closed custody action set.
	ErrInvalidAction = errors.New("custody: invalid action")

	// ErrInvalidEntry is returned by Import when an adopted entry fails its
	// own hash recomputation or is structurally incomplete.
	ErrInvalidEntry = errors.New("custody: invalid entry")

	// ErrDuplicateEntry is returned when the store rejects an entry because
	// its entry_hash or entry_id already exists. Either a duplicate append
	// or a digest collision; never retried with the same entry.
	ErrDuplicateEntry = errors.New("custody: duplicate entry")

	// ErrTailConflict is returned by ChainStore.Insert when the chain tail
	// moved between hash resolution and the write. The ledger retries the
	// whole read-modify-write with fresh state.
	ErrTailConflict = errors.New("custody: chain tail conflict")
)

// Entry is one link in an event's custody chain. Entries are created exactly
// once by Ledger.Append (or adopted via Import), are immutable afterwards,
// and are never deleted by this subsystem.
//
// CreatedAt and Verified are write-time bookkeeping and are excluded from the
// entry digest.
type Entry struct {
	EntryID       string         `json:"entry_id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventID       string         `json:"event_id"`
	Action        Action         `json:"action"`
	Actor         string         `json:"actor"`
	ActorType     string         `json:"actor_type"`
	ActorDetails  map[string]any `json:"actor_details,omitempty"`
	Location      string         `json:"location"`
	Details       map[string]any `json:"details"`
	PreviousHash  string         `json:"previous_hash"`
	EntryHash     string         `json:"entry_hash"`
	HashAlgorithm string         `json:"hash_algorithm"`
	Verified      bool           `json:"verified"`
	CreatedAt     time.Time      `json:"created_at"`
}
