package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/insight/internal/harness"
	"github.com/roach88/insight/internal/reasoning"
)

// StreamResult is the streaming outcome of a scenario.
type StreamResult struct {
	Scenario string                    `json:"scenario"`
	Alerts   []reasoning.Alert         `json:"alerts"`
	Status   reasoning.StreamingStatus `json:"status"`
}

// NewStreamCommand creates the stream command.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream <scenario>",
		Short: "Replay a scenario with streaming analysis enabled",
		Long: `Replay a scenario with streaming analysis forced on and report the
alerts raised by triggers and sliding windows, oldest first, followed by
the streaming status.

Streaming settings come from the policy file; without one the stock
triggers and windows are used.

Examples:
  insight stream ./scenarios/error_burst.yaml
  insight stream ./scenarios/error_burst.yaml --policy strict.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runStream(opts *RootOptions, path string, cmd *cobra.Command) error {
	sess, err := newSession(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	h, result, err := sess.runScenarioFile(cmd.Context(), path, func(s *harness.Scenario) {
		s.Streaming = true
	})
	if err != nil {
		return err
	}

	out := StreamResult{
		Scenario: result.Scenario,
		Alerts:   result.Alerts,
		Status:   h.Engine().Reasoning().StreamingStatus(),
	}
	if out.Alerts == nil {
		out.Alerts = []reasoning.Alert{}
	}

	f := formatter(opts, cmd)
	if opts.Format == "json" {
		return f.Success(out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Scenario: %s\n", out.Scenario)
	fmt.Fprintf(w, "Alerts: %d\n", len(out.Alerts))
	for _, a := range out.Alerts {
		fmt.Fprintf(w, "  [%s] %s %s %s: %s\n",
			a.Timestamp.UTC().Format(time.RFC3339), a.ID, a.Severity, a.SourcePattern, a.Message)
	}
	st := out.Status
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Streaming: enabled=%t total=%d active=%d critical=%d queue=%d\n",
		st.Enabled, st.TotalAlerts, st.ActiveAlerts, st.CriticalAlerts, st.QueueDepth)
	return nil
}
