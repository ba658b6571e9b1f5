package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/insight/internal/engine"
	"github.com/roach88/insight/internal/memory"
	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/trace"
)

const (
	counterMemoryLastID  = "memory_last_id"
	counterFindingLastID = "finding_last_id"
)

// SaveSnapshot replaces the stored state with snap in one transaction.
// Either every table reflects snap or, on error, none changed.
func (s *Store) SaveSnapshot(ctx context.Context, snap engine.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save snapshot: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, table := range []string{"counters", "events", "findings", "trace_links", "causal_links", "trace_summaries"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("save snapshot: clear %s: %w", table, err)
		}
	}

	if err := writeCounters(ctx, tx, snap); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := writeEvents(ctx, tx, snap.Memory.Events); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := writeFindings(ctx, tx, snap.Findings.Findings); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := writeLinks(ctx, tx, snap.Traces.Links); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := writeCausalLinks(ctx, tx, snap.Traces.CausalLinks); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := writeSummaries(ctx, tx, snap.Traces.Summaries); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save snapshot: commit: %w", err)
	}
	return nil
}

func writeCounters(ctx context.Context, tx *sql.Tx, snap engine.Snapshot) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?), (?, ?)
	`,
		counterMemoryLastID, snap.Memory.LastID,
		counterFindingLastID, snap.Findings.LastID,
	)
	if err != nil {
		return fmt.Errorf("write counters: %w", err)
	}
	return nil
}

func writeEvents(ctx context.Context, tx *sql.Tx, events []memory.Event) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO events (id, timestamp, category, trace_id, summary, payload)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write events: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		var payload any
		if ev.Payload != nil {
			payload = ev.Payload
		}
		if _, err := stmt.ExecContext(ctx,
			ev.ID,
			formatTime(ev.Timestamp),
			ev.Category,
			ev.TraceID,
			ev.Summary,
			payload,
		); err != nil {
			return fmt.Errorf("write event %d: %w", ev.ID, err)
		}
	}
	return nil
}

func writeFindings(ctx context.Context, tx *sql.Tx, findings []reasoning.Finding) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO findings
		(id, timestamp, title, description, severity, detector, trace_ids, tags, source_event_ids)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write findings: %w", err)
	}
	defer stmt.Close()

	for _, f := range findings {
		traceIDs, err := marshalJSON(f.TraceIDs)
		if err != nil {
			return fmt.Errorf("write finding %d: %w", f.ID, err)
		}
		tags, err := marshalJSON(f.Tags)
		if err != nil {
			return fmt.Errorf("write finding %d: %w", f.ID, err)
		}
		sources, err := marshalJSON(f.SourceEventIDs)
		if err != nil {
			return fmt.Errorf("write finding %d: %w", f.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			f.ID,
			formatTime(f.Timestamp),
			f.Title,
			f.Description,
			f.Severity.String(),
			f.Detector,
			traceIDs,
			tags,
			sources,
		); err != nil {
			return fmt.Errorf("write finding %d: %w", f.ID, err)
		}
	}
	return nil
}

func writeLinks(ctx context.Context, tx *sql.Tx, links []trace.Link) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trace_links
		(seq, trace_id, entry_id, entry_type, timestamp, source, principal, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write links: %w", err)
	}
	defer stmt.Close()

	for i, l := range links {
		tags, err := marshalJSON(l.Tags)
		if err != nil {
			return fmt.Errorf("write link %s/%s: %w", l.TraceID, l.EntryID, err)
		}
		metadata, err := marshalJSON(l.Metadata)
		if err != nil {
			return fmt.Errorf("write link %s/%s: %w", l.TraceID, l.EntryID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			i+1,
			l.TraceID,
			l.EntryID,
			string(l.EntryType),
			formatTime(l.Timestamp),
			l.Source,
			l.Principal,
			tags,
			metadata,
		); err != nil {
			return fmt.Errorf("write link %s/%s: %w", l.TraceID, l.EntryID, err)
		}
	}
	return nil
}

func writeCausalLinks(ctx context.Context, tx *sql.Tx, links []trace.CausalLink) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO causal_links
		(seq, trace_id, from_entry_id, to_entry_id, relationship, confidence, time_gap_ns, description)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("write causal links: %w", err)
	}
	defer stmt.Close()

	for i, c := range links {
		if _, err := stmt.ExecContext(ctx,
			i+1,
			c.TraceID,
			c.FromEntryID,
			c.ToEntryID,
			string(c.Relationship),
			c.Confidence,
			int64(c.TimeGap),
			c.Description,
		); err != nil {
			return fmt.Errorf("write causal link %s->%s: %w", c.FromEntryID, c.ToEntryID, err)
		}
	}
	return nil
}

func writeSummaries(ctx context.Context, tx *sql.Tx, summaries []trace.Summary) error {
	for _, sum := range summaries {
		data, err := marshalJSON(sum)
		if err != nil {
			return fmt.Errorf("write summary %s: %w", sum.TraceID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trace_summaries (trace_id, summary) VALUES (?, ?)
		`, sum.TraceID, data); err != nil {
			return fmt.Errorf("write summary %s: %w", sum.TraceID, err)
		}
	}
	return nil
}
