// Package memory implements the bounded Event Memory Store.
//
// The store is an append-mostly log of typed events. Every event receives an
// id from a monotonic sequence and a timestamp from the injected clock at
// creation; neither ever changes. Events leave the store in exactly three
// ways:
//
//   - Capacity eviction: when the store exceeds its maximum size, the oldest
//     events by timestamp are dropped so exactly the most recent MaxEvents
//     remain.
//   - Pruning: PruneBefore hard-deletes everything older than a cutoff.
//   - Compression: Compress folds clusters of old same-category events into
//     one synthetic "<category>_summary" event with a fresh id.
//
// # Ordering
//
// Internally events are held sorted by (timestamp, id). Query results are
// returned most-recent-first, except QueryByTrace which is chronological
// because callers use it to reconstruct causal sequences.
//
// # Concurrency
//
// Mutations take the write lock; queries take the read lock and return
// copies of the event structs. Payload byte slices are shared with the store
// and must be treated as read-only.
package memory
