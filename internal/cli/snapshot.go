package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/insight/internal/engine"
	"github.com/roach88/insight/internal/store"
)

// SnapshotOptions holds flags for the snapshot command.
type SnapshotOptions struct {
	*RootOptions
	Database string
}

// SnapshotResult reports what was persisted.
type SnapshotResult struct {
	Scenario string      `json:"scenario"`
	Database string      `json:"database"`
	Stats    store.Stats `json:"stats"`
}

// NewSnapshotCommand creates the snapshot command.
func NewSnapshotCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SnapshotOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "snapshot <scenario>",
		Short: "Replay a scenario and persist the engine state",
		Long: `Replay a scenario and save the memory, findings, and trace state to a
SQLite database. An existing snapshot in the database is replaced.

The database defaults to $INSIGHT_DB_PATH.

Examples:
  insight snapshot ./scenarios/wallet_drain.yaml --db ./insight.db`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $INSIGHT_DB_PATH)")

	return cmd
}

func runSnapshot(opts *SnapshotOptions, path string, cmd *cobra.Command) error {
	sess, err := newSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	dbPath, err := resolveDatabase(opts.Database, sess)
	if err != nil {
		return err
	}

	h, result, err := sess.runScenarioFile(cmd.Context(), path, nil)
	if err != nil {
		return err
	}

	stats, err := saveSnapshot(cmd.Context(), dbPath, h.Engine().Snapshot())
	if err != nil {
		return err
	}
	sess.logger.Info("snapshot saved", "db", dbPath, "events", stats.Events, "links", stats.Links)

	out := SnapshotResult{Scenario: result.Scenario, Database: dbPath, Stats: stats}
	if opts.Format == "json" {
		return formatter(opts.RootOptions, cmd).Success(out)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Saved %s to %s\n", out.Scenario, out.Database)
	writeStats(cmd, stats)
	return nil
}

// resolveDatabase picks the --db flag or INSIGHT_DB_PATH.
func resolveDatabase(flag string, sess *session) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if sess.cfg.DBPath != "" {
		return sess.cfg.DBPath, nil
	}
	return "", NewExitError(ExitCommandError, "no database: pass --db or set INSIGHT_DB_PATH")
}

func saveSnapshot(ctx context.Context, dbPath string, snap engine.Snapshot) (store.Stats, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return store.Stats{}, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if err := st.SaveSnapshot(ctx, snap); err != nil {
		return store.Stats{}, fmt.Errorf("failed to save snapshot: %w", err)
	}
	stats, err := st.Stats(ctx)
	if err != nil {
		return store.Stats{}, fmt.Errorf("failed to read stats: %w", err)
	}
	return stats, nil
}

func writeStats(cmd *cobra.Command, s store.Stats) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "  events:       %d (last id %d)\n", s.Events, s.MemoryLastID)
	fmt.Fprintf(w, "  findings:     %d (last id %d)\n", s.Findings, s.FindingLastID)
	fmt.Fprintf(w, "  links:        %d\n", s.Links)
	fmt.Fprintf(w, "  causal links: %d\n", s.CausalLinks)
	fmt.Fprintf(w, "  summaries:    %d\n", s.Summaries)
}
