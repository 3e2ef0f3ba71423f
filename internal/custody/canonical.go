package custody

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// canonicalTimeLayout renders timestamps in UTC with fixed microsecond
// precision. Native time representations must never leak into the hashed
// form, or the same logical entry hashed by two runtimes would diverge.
const canonicalTimeLayout = "2006-01-02T15:04:05.000000Z"

// Canonicalize serializes an entry's semantic content into a deterministic
// byte sequence suitable for hashing. The digest itself, the storage
// surrogate key, and the write-time bookkeeping fields (created_at, verified)
// are not part of the attested custody fact and are dropped.
//
// encoding/json emits map keys in lexicographic order at every nesting
// level with no extra whitespace, so two structurally identical entries
// always canonicalize to byte-identical output.
func Canonicalize(e *Entry) ([]byte, error) {
	m := map[string]any{
		"entry_id":       e.EntryID,
		"timestamp":      e.Timestamp.UTC().Format(canonicalTimeLayout),
		"event_id":       e.EventID,
		"action":         string(e.Action),
		"actor":          e.Actor,
		"actor_type":     e.ActorType,
		"location":       e.Location,
		"details":        e.Details,
		"previous_hash":  e.PreviousHash,
		"hash_algorithm": e.HashAlgorithm,
	}
	if e.ActorDetails != nil {
		m["actor_details"] = e.ActorDetails
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("canonicalize entry %s: %w", e.EntryID, err)
	}
	return b, nil
}

// HashEntry computes the canonical SHA-256 digest of an entry, rendered as
// 64 lowercase hex characters. This is an integrity digest, not a MAC:
// anyone can recompute it, and the security property is tamper detection.
func HashEntry(e *Entry) (string, error) {
	b, err := Canonicalize(e)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// newEntryID builds a collision-resistant entry identifier from the entry
// timestamp plus a random suffix.
func newEntryID(ts time.Time, suffix string) string {
	return fmt.Sprintf("custody_%s%06d_%s",
		ts.UTC().Format("20060102150405"), ts.Nanosecond()/1000, suffix)
}
