// Package store provides durable storage for the outreach ledgers.
//
// Tables:
//   - identities: sending identities and their live quota counters
//   - campaigns: campaign definitions (JSON) keyed by ID
//   - prospects: the prospect ledger, including the claim lease
//   - signals: append-only log of applied external signals
//   - sends: append-only log of delivered steps
//
// # Critical Patterns
//
// Compare-and-set on every prospect write
//   - UPDATE ... WHERE id = ? AND version = ? and version = version + 1
//   - A zero-row update is ErrConflict, never a silent overwrite
//
// Claim = lease + reservation, atomically
//   - ClaimProspect rolls the identity window, reserves one quota slot and
//     sets the lease in a single transaction
//   - Settle consumes or frees that slot in the same transaction that
//     records the outcome, so consumed + reserved never exceeds the quota
//
// At-most-once signals
//   - signals.id is a content hash of the observation; ON CONFLICT DO
//     NOTHING turns a repeated observation into a no-op
//
// # Database Configuration
//
// SQLite (default, mattn/go-sqlite3):
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - one connection, so transactions are serialized
//
// PostgreSQL (lib/pq): the same schema; rows read inside a transaction are
// locked with FOR UPDATE, prospect before identity.
//
// Timestamps are stored as unix milliseconds and returned in UTC.
package store
