// Package store provides SQLite-backed durable storage for the audited
// key-value store.
//
// The store holds four kinds of records:
//   - Values: content-addressed immutable blobs, deduplicated by digest
//   - Headers: deduplicated (name, value) request header pairs
//   - Entries: the live key -> value association (absence means deleted)
//   - Events: the append-only audit log, each owning one request row
//
// # Units of Work
//
// Every operation runs inside a Scope obtained from Store.Begin (or
// Store.WithScope). A scope wraps one SQL transaction and ends exactly once:
// committed when the operation returns nil, rolled back on error or panic.
// No Scope method is individually transactional.
//
// # Insert If Absent
//
// Values, headers and entries are created with INSERT ... ON CONFLICT so
// that concurrent creators of identical content converge on one row. The
// connection pool is limited to a single connection, which serializes
// scopes; same-key operations therefore never interleave between their
// lookup and their write.
//
// # Append Only
//
// Events, requests and request header associations are guarded by triggers
// that abort any UPDATE or DELETE.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
