// Package store provides SQLite-backed durable storage for recruitflow.
//
// The store implements:
//   - audit.Storage over the audit_events table (the hash chain)
//   - the ATS application ledger over the applications table
//
// # Ordering
//
// seq is the event's 0-based position in the chain and the only ordering
// used by queries (ORDER BY seq ASC). Timestamps are never used for order.
//
// # Append-only
//
// audit_events carries triggers that abort UPDATE and DELETE. Tamper
// detection does not depend on them (verification recomputes every hash),
// but they stop accidental edits through SQL.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait up to 5s for locks
//   - foreign_keys=ON: Enforce referential integrity
//
// # Usage
//
//	s, err := store.Open("recruitflow.db")
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	log, err := audit.Open(ctx, s, secret)
package store
