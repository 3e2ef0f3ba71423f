package custody_test

import (
	"testing"

	"github.com/forensicedr/forensicedr/internal/custody"
)

func buildChain(t *testing.T, n int) (*custody.Ledger, *custody.MemoryStore, []*custody.Entry) {
	t.Helper()
	l, store := newTestLedger()
	entries := make([]*custody.Entry, 0, n)
	for i := 0; i < n; i++ {
		action := custody.ActionAccess
		if i == 0 {
			action = custody.ActionEvidenceCollection
		}
		entries = append(entries, mustAppend(t, l, "EVT-V", action))
	}
	return l, store, entries
}

func TestVerify_emptyChain(t *testing.T) {
	l, _ := newTestLedger()

	res, err := l.Verify(ctx, "EVT-MISSING")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason != custody.ReasonNoEntries || res.ChainLength != 0 {
		t.Errorf("empty chain: got %+v", res)
	}
}

func TestVerify_tamperedContent(t *testing.T) {
	l, store, entries := buildChain(t, 4)

	// Mutate a mid-chain field without recomputing the digest.
	store.Tamper("EVT-V", 2, func(e *custody.Entry) {
		e.Actor = "intruder"
	})

	res, err := l.Verify(ctx, "EVT-V")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid {
		t.Fatal("tampered chain reported valid")
	}
	if res.Reason != custody.ReasonTamperedEntry || res.AtIndex != 2 {
		t.Errorf("expected tampered_entry at index 2, got %+v", res)
	}
	if res.EntryID != entries[2].EntryID {
		t.Errorf("tamper attributed to %q, want %q", res.EntryID, entries[2].EntryID)
	}
	if res.Found != entries[2].EntryHash {
		t.Errorf("found digest should be the stored one")
	}
}

func TestVerify_relinkedEntry(t *testing.T) {
	l, store, entries := buildChain(t, 5)

	// Point entry 3 at a non-adjacent ancestor's hash. Its own digest is
	// recomputed so only the linkage breaks.
	store.Tamper("EVT-V", 3, func(e *custody.Entry) {
		e.PreviousHash = entries[0].EntryHash
		h, _ := custody.HashEntry(e)
		e.EntryHash = h
	})

	res, err := l.Verify(ctx, "EVT-V")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason != custody.ReasonBrokenLink || res.AtIndex != 3 {
		t.Errorf("expected broken_link at index 3, got %+v", res)
	}
	if res.Expected != entries[2].EntryHash || res.Found != entries[0].EntryHash {
		t.Errorf("expected/found digests wrong: %+v", res)
	}
}

func TestVerify_brokenGenesis(t *testing.T) {
	l, store, _ := buildChain(t, 2)

	store.Tamper("EVT-V", 0, func(e *custody.Entry) {
		e.PreviousHash = "deadbeef"
		h, _ := custody.HashEntry(e)
		e.EntryHash = h
	})

	res, err := l.Verify(ctx, "EVT-V")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.Reason != custody.ReasonBrokenGenesis || res.AtIndex != 0 {
		t.Errorf("expected broken_genesis at index 0, got %+v", res)
	}
}

func TestVerify_stopsAtFirstViolation(t *testing.T) {
	l, store, _ := buildChain(t, 5)

	// Break entries 1 and 3; only the earliest break may be reported.
	store.Tamper("EVT-V", 1, func(e *custody.Entry) { e.Location = "ELSEWHERE" })
	store.Tamper("EVT-V", 3, func(e *custody.Entry) { e.Location = "ELSEWHERE" })

	res, err := l.Verify(ctx, "EVT-V")
	if err != nil {
		t.Fatal(err)
	}
	if res.Valid || res.AtIndex != 1 {
		t.Errorf("expected first violation at index 1, got %+v", res)
	}
}

func TestVerify_isIdempotentAndReadOnly(t *testing.T) {
	l, _, _ := buildChain(t, 3)

	first, err := l.Verify(ctx, "EVT-V")
	if err != nil {
		t.Fatal(err)
	}
	second, err := l.Verify(ctx, "EVT-V")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("verification not idempotent: %+v vs %+v", first, second)
	}
	if chain, _ := l.GetChain(ctx, "EVT-V"); len(chain) != 3 {
		t.Errorf("verification mutated the chain")
	}
}
