// Package storage defines persistence interfaces for the game service.
//
// Stores cache what was last read from the ledger (snapshots and tiles) and
// keep the activity journal across restarts. The ledger stays the source of
// truth: nothing read back from a store is applied to a live session.
// Implementations (e.g., SQLite) live in subpackages.
//
// Common error types:
//   - ErrNotFound: requested record is missing
package storage
