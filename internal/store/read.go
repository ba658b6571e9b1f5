package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/insight/internal/engine"
	"github.com/roach88/insight/internal/memory"
	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

// LoadSnapshot reads the stored state. An empty database yields an empty
// snapshot with zero counters.
//
// Events come back in (timestamp, id) order, findings by id, links and
// causal links in the order they were saved, summaries by trace id.
// Returns empty slices (not nil) for empty tables.
func (s *Store) LoadSnapshot(ctx context.Context) (engine.Snapshot, error) {
	var snap engine.Snapshot
	var err error

	if snap.Memory.LastID, err = s.readCounter(ctx, counterMemoryLastID); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Findings.LastID, err = s.readCounter(ctx, counterFindingLastID); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Memory.Events, err = s.readEvents(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Findings.Findings, err = s.readFindings(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Traces.Links, err = s.readLinks(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Traces.CausalLinks, err = s.readCausalLinks(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	if snap.Traces.Summaries, err = s.readSummaries(ctx); err != nil {
		return engine.Snapshot{}, err
	}
	return snap, nil
}

func (s *Store) readCounter(ctx context.Context, name string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return v, nil
}

func (s *Store) readEvents(ctx context.Context) ([]memory.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, category, trace_id, summary, payload
		FROM events
		ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []memory.Event{}
	for rows.Next() {
		var ev memory.Event
		var ts string
		if err := rows.Scan(&ev.ID, &ts, &ev.Category, &ev.TraceID, &ev.Summary, &ev.Payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("scan event %d: %w", ev.ID, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *Store) readFindings(ctx context.Context) ([]reasoning.Finding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, title, description, severity, detector, trace_ids, tags, source_event_ids
		FROM findings
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query findings: %w", err)
	}
	defer rows.Close()

	findings := []reasoning.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate findings: %w", err)
	}
	return findings, nil
}

func scanFinding(rows *sql.Rows) (reasoning.Finding, error) {
	var f reasoning.Finding
	var ts, severity, traceIDs, tags, sources string
	if err := rows.Scan(&f.ID, &ts, &f.Title, &f.Description, &severity, &f.Detector, &traceIDs, &tags, &sources); err != nil {
		return reasoning.Finding{}, fmt.Errorf("scan finding: %w", err)
	}

	var err error
	if f.Timestamp, err = parseTime(ts); err != nil {
		return reasoning.Finding{}, fmt.Errorf("scan finding %d: %w", f.ID, err)
	}
	if f.Severity, err = reasoning.ParseSeverity(severity); err != nil {
		return reasoning.Finding{}, fmt.Errorf("scan finding %d: %w", f.ID, err)
	}
	if f.TraceIDs, err = unmarshalStrings(traceIDs); err != nil {
		return reasoning.Finding{}, fmt.Errorf("scan finding %d: %w", f.ID, err)
	}
	if f.Tags, err = unmarshalStrings(tags); err != nil {
		return reasoning.Finding{}, fmt.Errorf("scan finding %d: %w", f.ID, err)
	}
	if f.SourceEventIDs, err = unmarshalIDs(sources); err != nil {
		return reasoning.Finding{}, fmt.Errorf("scan finding %d: %w", f.ID, err)
	}
	return f, nil
}

func (s *Store) readLinks(ctx context.Context) ([]trace.Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, entry_id, entry_type, timestamp, source, principal, tags, metadata
		FROM trace_links
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query links: %w", err)
	}
	defer rows.Close()

	links := []trace.Link{}
	for rows.Next() {
		var l trace.Link
		var entryType, ts, tags, metadata string
		if err := rows.Scan(&l.TraceID, &l.EntryID, &entryType, &ts, &l.Source, &l.Principal, &tags, &metadata); err != nil {
			return nil, fmt.Errorf("scan link: %w", err)
		}
		l.EntryType = trace.EntryType(entryType)
		if l.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("scan link %s/%s: %w", l.TraceID, l.EntryID, err)
		}
		if l.Tags, err = unmarshalStrings(tags); err != nil {
			return nil, fmt.Errorf("scan link %s/%s: %w", l.TraceID, l.EntryID, err)
		}
		if l.Metadata, err = unmarshalMetadata(metadata); err != nil {
			return nil, fmt.Errorf("scan link %s/%s: %w", l.TraceID, l.EntryID, err)
		}
		links = append(links, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate links: %w", err)
	}
	return links, nil
}

func (s *Store) readCausalLinks(ctx context.Context) ([]trace.CausalLink, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trace_id, from_entry_id, to_entry_id, relationship, confidence, time_gap_ns, description
		FROM causal_links
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query causal links: %w", err)
	}
	defer rows.Close()

	links := []trace.CausalLink{}
	for rows.Next() {
		var c trace.CausalLink
		var rel string
		var gap int64
		if err := rows.Scan(&c.TraceID, &c.FromEntryID, &c.ToEntryID, &rel, &c.Confidence, &gap, &c.Description); err != nil {
			return nil, fmt.Errorf("scan causal link: %w", err)
		}
		c.Relationship = trace.Relationship(rel)
		c.TimeGap = time.Duration(gap)
		links = append(links, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate causal links: %w", err)
	}
	return links, nil
}

func (s *Store) readSummaries(ctx context.Context) ([]trace.Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT summary FROM trace_summaries ORDER BY trace_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	summaries := []trace.Summary{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		var sum trace.Summary
		if err := unmarshalSummary(data, &sum); err != nil {
			return nil, err
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate summaries: %w", err)
	}
	return summaries, nil
}

// Stats counts the rows of each table.
type Stats struct {
	Events        int   `json:"events"`
	Findings      int   `json:"findings"`
	Links         int   `json:"links"`
	CausalLinks   int   `json:"causal_links"`
	Summaries     int   `json:"summaries"`
	MemoryLastID  int64 `json:"memory_last_id"`
	FindingLastID int64 `json:"finding_last_id"`
}

// Stats reports table sizes and id counters without loading rows.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"events", &st.Events},
		{"findings", &st.Findings},
		{"trace_links", &st.Links},
		{"causal_links", &st.CausalLinks},
		{"trace_summaries", &st.Summaries},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}

	var err error
	if st.MemoryLastID, err = s.readCounter(ctx, counterMemoryLastID); err != nil {
		return Stats{}, err
	}
	if st.FindingLastID, err = s.readCounter(ctx, counterFindingLastID); err != nil {
		return Stats{}, err
	}
	return st, nil
}
