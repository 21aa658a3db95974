// Package store provides the SQLite-backed database each audit owns.
//
// The database holds three things:
//   - Data: every object the audit accepted, keyed by identity
//   - Plugin state: small JSON values plugins persist between calls
//   - Audit metadata: start and stop times
//
// # Invariants
//
// Add is insert-or-merge. The first Add of an identity reports isNew=true;
// later ones merge attributes and links into the stored record and report
// false. The audit relies on this to drop duplicates.
//
// Reads are deterministic: every listing is ordered by insertion sequence.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - One open connection: SQLite has a single writer
package store
