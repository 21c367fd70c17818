// Package history reconstructs the per-key view of the audit log.
//
// Reconstruct is a pure function over a snapshot of write events (updates
// and deletes; retrievals never change state and are not part of the view)
// and the set of keys that are active at snapshot time. It never touches
// the database, so it can run on any consistent snapshot.
//
// For every key that was ever written:
//   - Records are ordered most recent first, by request timestamp, with
//     ties broken by insertion order (the later insertion is more recent).
//   - An active key's most recent record is its Current state and the rest
//     form its History.
//   - A key without an entry is deleted: Current is nil and History holds
//     every record, the delete included.
package history
