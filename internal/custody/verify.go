package custody

// Reason classifies why a chain failed verification.
type Reason string

const (
	ReasonNoEntries     Reason = "no_entries"
	ReasonBrokenGenesis Reason = "broken_genesis"
	ReasonBrokenLink    Reason = "broken_link"
	ReasonTamperedEntry Reason = "tampered_entry"
)

// Result describes the outcome of a chain verification walk. When Valid is
// false, Reason, AtIndex, and EntryID locate the first inconsistency;
// Expected and Found carry the mismatched digests where applicable.
type Result struct {
	Valid       bool   `json:"valid"`
	ChainLength int    `json:"chain_length"`
	Reason      Reason `json:"reason,omitempty"`
	AtIndex     int    `json:"at_index,omitempty"`
	EntryID     string `json:"entry_id,omitempty"`
	Expected    string `json:"expected,omitempty"`
	Found       string `json:"found,omitempty"`
}

// VerifyEntries walks a timestamp-ascending chain and checks, at every link,
// genesis anchoring, previous-hash continuity, and the entry's recomputed
// canonical digest against its stored digest.
//
// The walk stops at the first violation: past a break the downstream state is
// no longer trustworthy for attributing further breaks. O(n) digest
// recomputations, no auxiliary structures, no side effects.
func VerifyEntries(entries []*Entry) Result {
	if len(entries) == 0 {
		return Result{Valid: false, ChainLength: 0, Reason: ReasonNoEntries}
	}

	for i, e := range entries {
		if i == 0 {
			if e.PreviousHash != Genesis {
				return Result{
					Valid:       false,
					ChainLength: len(entries),
					Reason:      ReasonBrokenGenesis,
					AtIndex:     0,
					EntryID:     e.EntryID,
					Expected:    Genesis,
					Found:       e.PreviousHash,
				}
			}
		} else if e.PreviousHash != entries[i-1].EntryHash {
			return Result{
				Valid:       false,
				ChainLength: len(entries),
				Reason:      ReasonBrokenLink,
				AtIndex:     i,
				EntryID:     e.EntryID,
				Expected:    entries[i-1].EntryHash,
				Found:       e.PreviousHash,
			}
		}

		computed, err := HashEntry(e)
		if err != nil || computed != e.EntryHash {
			return Result{
				Valid:       false,
				ChainLength: len(entries),
				Reason:      ReasonTamperedEntry,
				AtIndex:     i,
				EntryID:     e.EntryID,
				Expected:    computed,
				Found:       e.EntryHash,
			}
		}
	}

	return Result{Valid: true, ChainLength: len(entries)}
}
