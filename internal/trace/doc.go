// Package trace implements the Trace Correlation Engine.
//
// Subsystems register links that attach one of their entries (a memory
// event, an audit record, a finding, an insight) to a trace id. Each new
// link is scored against the links already in its trace; pairs whose
// weighted evidence exceeds the causal threshold become directed causal
// edges from the earlier entry to the later one. Causal edges can also be
// asserted directly with RegisterCausalLink.
//
// Summaries are derived per trace and cached until the next link or edge
// for that trace arrives. The principal, tag, and source indices are
// maintained on registration and rebuilt wholesale only by RebuildIndices,
// PruneBefore, and Restore.
package trace
