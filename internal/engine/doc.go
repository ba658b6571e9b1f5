// Package engine hosts the three insight engines behind one writer.
//
// ARCHITECTURE:
//
// Single-Writer Ingest Loop:
// Producer modules Submit events from any goroutine. Engine.Run drains the
// FIFO queue one request at a time and, for each:
//  1. appends the event to the memory store (id and timestamp assigned here)
//  2. feeds it to streaming analysis, publishing any alerts to the sinks
//  3. links it to its trace when it names a trace and a source module,
//     inferring causal edges against the trace's earlier links
//
// Ingest can also be called directly; it shares the writer lock with Run,
// Analyze, and the maintenance operations, so the three engines never see
// interleaved mutations.
//
// Findings that cite traces are linked back to those traces as reasoning
// entries, so a trace summary reflects what the detectors concluded.
//
// Errors during Run are logged and processing continues. A rejected trace
// link does not roll back the stored event.
package engine
