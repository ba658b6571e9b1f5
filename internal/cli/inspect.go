package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/insight/internal/reasoning"
	"github.com/roach88/insight/internal/store"
	"github.com/roach88/insight/internal/trace"
)

// InspectOptions holds flags for the inspect command.
type InspectOptions struct {
	*RootOptions
	Database string
	Recent   int
}

// InspectResult is the restored state of a persisted snapshot.
type InspectResult struct {
	Database string              `json:"database"`
	Stats    store.Stats         `json:"stats"`
	Findings []reasoning.Finding `json:"findings"`
	Traces   []trace.Summary     `json:"traces"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Restore a persisted snapshot and show its contents",
		Long: `Load the snapshot stored in a SQLite database into a fresh host engine
and show its table sizes, the most recent findings, and every trace summary.

Examples:
  insight inspect --db ./insight.db
  insight inspect --db ./insight.db --recent 5 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $INSIGHT_DB_PATH)")
	cmd.Flags().IntVar(&opts.Recent, "recent", 10, "number of recent findings to show")

	return cmd
}

func runInspect(opts *InspectOptions, cmd *cobra.Command) error {
	if opts.Recent < 0 {
		return NewExitError(ExitCommandError, "--recent must not be negative")
	}

	sess, err := newSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	dbPath, err := resolveDatabase(opts.Database, sess)
	if err != nil {
		return err
	}
	// store.Open creates missing files.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", dbPath))
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	host := sess.newEngine()
	if err := host.Restore(snap); err != nil {
		return fmt.Errorf("failed to restore snapshot: %w", err)
	}

	out := InspectResult{
		Database: dbPath,
		Stats:    stats,
		Findings: host.Reasoning().RecentFindings(opts.Recent),
		Traces:   host.Traces().SearchTraces(trace.Query{}),
	}
	if opts.Format == "json" {
		return formatter(opts.RootOptions, cmd).Success(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Database: %s\n", out.Database)
	writeStats(cmd, stats)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Recent findings: %d\n", len(out.Findings))
	for _, f := range out.Findings {
		fmt.Fprintf(w, "  #%d [%s] %s %s", f.ID, f.Timestamp.UTC().Format(time.RFC3339), f.Severity, f.Title)
		if len(f.TraceIDs) > 0 {
			fmt.Fprintf(w, " (%s)", strings.Join(f.TraceIDs, ", "))
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Traces: %d\n", len(out.Traces))
	for _, s := range out.Traces {
		fmt.Fprintf(w, "  %-12s %-8s links=%d causal=%d\n", s.TraceID, s.Severity, s.LinkCount, s.CausalLinkCount)
	}
	return nil
}
