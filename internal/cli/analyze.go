package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/insight/internal/harness"
	"github.com/roach88/insight/internal/metrics"
)

// AnalyzeOptions holds flags for the analyze command.
type AnalyzeOptions struct {
	*RootOptions
	Metrics bool // dump Prometheus metrics to stderr after the run
}

// NewAnalyzeCommand creates the analyze command.
func NewAnalyzeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AnalyzeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "analyze <scenario>",
		Short: "Replay a scenario and run batch analysis",
		Long: `Replay a scenario file through a fresh host engine, run the detectors at
the scenario's analysis offset, and report the finding, alerts, and traces.

Exit codes:
  0 - All assertions passed
  1 - One or more assertions failed
  2 - Command error (invalid scenario, rejected link, etc.)

Examples:
  insight analyze ./scenarios/wallet_drain.yaml
  insight analyze ./scenarios/wallet_drain.yaml --format json
  insight analyze ./scenarios/wallet_drain.yaml --policy strict.cue --metrics`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAnalyze(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Metrics, "metrics", false, "print metrics to stderr after the run")

	return cmd
}

func runAnalyze(opts *AnalyzeOptions, path string, cmd *cobra.Command) error {
	sess, err := newSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	_, result, err := sess.runScenarioFile(cmd.Context(), path, nil)
	if err != nil {
		return err
	}

	if err := writeResult(opts.RootOptions, cmd, result); err != nil {
		return err
	}

	if opts.Metrics {
		if err := metrics.WriteText(cmd.ErrOrStderr(), sess.registry); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	if !result.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed %d assertion(s)", result.Scenario, len(result.Errors)))
	}
	return nil
}

// writeResult prints a scenario result as a text report or a JSON envelope.
func writeResult(opts *RootOptions, cmd *cobra.Command, result *harness.Result) error {
	if opts.Format != "json" {
		return harness.WriteReport(cmd.OutOrStdout(), result)
	}

	response := CLIResponse{Status: "ok", Data: result}
	if !result.Pass {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    "E_ASSERTION_FAILED",
			Message: fmt.Sprintf("%d assertion(s) failed", len(result.Errors)),
			Details: result.Errors,
		}
	}
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}
