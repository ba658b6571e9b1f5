// Package harness replays scripted scenarios against the intelligence layer.
//
// A scenario feeds timed events through a host engine, optionally adds trace
// links from other subsystems, runs batch analysis, and asserts on the
// finding, the streaming alerts, and the resulting traces.
//
// # Scenario Format
//
//	name: wallet_drain
//	description: "Three rapid transfers on one trace"
//	start: 2026-03-01T12:00:00Z
//	streaming: false
//	events:
//	  - at: 0s
//	    category: financial
//	    trace: T1
//	    source: wallet
//	    principal: alice
//	    tags: [transfer]
//	    summary: "transfer 100 XRP"
//	links:
//	  - at: 90s
//	    trace: T1
//	    entry: audit-7
//	    type: audit
//	    source: audit
//	causal_links:
//	  - trace: T1
//	    from: mem-1
//	    to: audit-7
//	    relationship: related_to
//	    confidence: 0.4
//	assertions:
//	  - type: finding
//	    title: "Potential Wallet Drain Detected"
//	    severity: critical
//	  - type: causal_link
//	    trace: T1
//	    from: mem-1
//	    to: mem-2
//
// Memory events are linked under entry ids mem-1, mem-2, ... and findings
// under finding-1, finding-2, ...
//
// # Assertion Types
//
//   - finding: the batch finding's title, optionally severity and detector
//   - alert_count: at least min alerts, optionally of one severity
//   - trace_links: exact link count of a trace
//   - causal_link: a trace holds an edge from -> to
//   - trace_severity: the derived severity of a trace summary
//
// # Deterministic Runs
//
// Every scenario runs on a fresh engine driven by a manual clock with
// counting alert ids (alert-1, alert-2, ...), so WriteReport output is stable
// and RunWithGolden can compare it against testdata/golden.
package harness
