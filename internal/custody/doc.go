// Package custody implements the per-event, append-only custody ledger for
// forensic evidence records.
//
// Each event's entries form a hash chain: every entry stores the SHA-256
// digest of its own canonical form and the digest of its immediate
// predecessor, with the first entry anchored to the GENESIS sentinel. Any
// alteration, reordering, or deletion of a subset of entries is detectable
// by recomputation alone — no external timestamping or signing authority.
//
// Two implementations of the ChainStore adapter are provided:
//   - MemoryStore: in-process, for tests and development.
//   - PostgresStore: durable, for production use.
package custody
