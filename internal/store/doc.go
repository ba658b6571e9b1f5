// Package store provides SQLite-backed persistence for insight engine state.
//
// A snapshot is written as a whole:
//   - Counters: last memory event id and last finding id, so ids are never
//     reissued after eviction
//   - Events: the memory store contents
//   - Findings: the findings log
//   - Trace links and causal links, in registration order
//   - Trace summaries: the summary cache
//
// SaveSnapshot replaces every table inside one transaction; LoadSnapshot
// reads them back in a deterministic order. Loading into a fresh engine
// reproduces the same query results.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as fixed-width RFC 3339 UTC text so that text order
// is time order.
package store
