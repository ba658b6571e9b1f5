// Package reasoning implements the Reasoning Engine: batch pattern detection
// over event windows read from the memory store, statistical baselines, trend
// prediction, and real-time streaming analysis over a bounded live queue.
//
// # Batch analysis
//
// Analyze resolves an event window and runs a fixed battery of detectors in
// DetectorOrder. Each detector yields at most one candidate. The finding
// returned is the candidate with the highest severity priority; among equal
// priorities the detector that appears first in DetectorOrder wins. When no
// detector fires, a "System Normal" info finding is produced. Every finding
// is appended to a bounded FIFO log.
//
// # Streaming analysis
//
// When enabled, ProcessEvent pushes each event onto a bounded live queue,
// evaluates event triggers (gated by per-trigger cooldowns), and ticks any
// sliding windows whose slide interval has elapsed. Alerts are appended to an
// alert log and pushed to the configured AlertSinks.
//
// # Concurrency
//
// Batch state (findings, baselines, trend points) and streaming state (queue,
// triggers, windows, alerts) are each guarded by their own lock. Mutating
// calls on the same side run one at a time; queries take read locks.
package reasoning
