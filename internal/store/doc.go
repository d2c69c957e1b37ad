// Package store is the embedded SQLite connector.
//
// A Store holds data tables loaded from CSV plus two bookkeeping tables:
//   - query_log: every executed query with its key, row count and error
//   - loaded_tables: the source and row count of each LoadCSV table
//
// Store.Execute satisfies engine.Connector, so a Store can back a
// Coordinator directly or be exposed to remote clients by the server
// package.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Query parameters are recorded as canonical JSON (see ir.MarshalCanonical)
// so that a logged entry hashes to the same request key as the query that
// produced it.
package store
