package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/insight/internal/trace"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	TraceID     string // show one trace's timeline
	Principal   string
	Source      string
	Tags        []string
	MinSeverity string
}

// TraceTimeline is the output for a single trace.
type TraceTimeline struct {
	Summary  trace.Summary         `json:"summary"`
	Timeline []trace.TimelineEntry `json:"timeline"`
}

// TraceOverview is the output when no trace id is given.
type TraceOverview struct {
	Traces    []trace.Summary `json:"traces"`
	Analytics trace.Analytics `json:"analytics"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario>",
		Short: "Show correlated traces after replaying a scenario",
		Long: `Replay a scenario and show the traces it produced.

With --id, prints the timeline of one trace: each link with its offset from
the first link and the causal edges pointing at it. Without --id, prints a
summary of every trace matching the search flags plus analytics across all
traces.

Examples:
  insight trace ./scenarios/wallet_drain.yaml --id T1
  insight trace ./scenarios/wallet_drain.yaml --principal alice
  insight trace ./scenarios/error_burst.yaml --min-severity warning --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.TraceID, "id", "", "trace id to show as a timeline")
	cmd.Flags().StringVar(&opts.Principal, "principal", "", "only traces with links by this principal")
	cmd.Flags().StringVar(&opts.Source, "source", "", "only traces with links from this module")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "only traces carrying any of these tags")
	cmd.Flags().StringVar(&opts.MinSeverity, "min-severity", "", "only traces at or above this severity (info|warning|critical)")

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	minSeverity, err := parseTraceSeverity(opts.MinSeverity)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --min-severity", err)
	}

	sess, err := newSession(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer sess.Close()

	h, _, err := sess.runScenarioFile(cmd.Context(), path, nil)
	if err != nil {
		return err
	}
	traces := h.Engine().Traces()
	f := formatter(opts.RootOptions, cmd)

	if opts.TraceID != "" {
		if _, ok := traces.Trace(opts.TraceID); !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("trace not found: %s", opts.TraceID))
		}
		out := TraceTimeline{
			Summary:  traces.Summarize(opts.TraceID),
			Timeline: traces.Timeline(opts.TraceID),
		}
		if opts.Format == "json" {
			return f.Success(out)
		}
		writeTimeline(cmd, out)
		return nil
	}

	out := TraceOverview{
		Traces: traces.SearchTraces(trace.Query{
			Principal:   opts.Principal,
			Source:      opts.Source,
			Tags:        opts.Tags,
			MinSeverity: minSeverity,
		}),
		Analytics: traces.Analytics(),
	}
	if opts.Format == "json" {
		return f.Success(out)
	}
	writeOverview(cmd, out)
	return nil
}

func parseTraceSeverity(s string) (trace.Severity, error) {
	switch sev := trace.Severity(strings.ToLower(s)); sev {
	case "", trace.SeverityInfo, trace.SeverityWarning, trace.SeverityCritical:
		return sev, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}

func writeTimeline(cmd *cobra.Command, out TraceTimeline) {
	w := cmd.OutOrStdout()
	s := out.Summary
	fmt.Fprintf(w, "Trace: %s\n", s.TraceID)
	fmt.Fprintf(w, "Severity: %s  Links: %d  Causal links: %d  Confidence: %.2f\n",
		s.Severity, s.LinkCount, s.CausalLinkCount, s.CausalConfidence)
	fmt.Fprintf(w, "Duration: %s\n", s.Duration)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Timeline:")
	for _, e := range out.Timeline {
		l := e.Link
		fmt.Fprintf(w, "  +%-8s %-12s %-10s %s", e.Offset, l.EntryID, l.EntryType, l.Source)
		if l.Principal != "" {
			fmt.Fprintf(w, " (%s)", l.Principal)
		}
		fmt.Fprintln(w)
		for _, c := range e.CausedBy {
			fmt.Fprintf(w, "      <- %s\n", c)
		}
	}
}

func writeOverview(cmd *cobra.Command, out TraceOverview) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Traces: %d\n", len(out.Traces))
	for _, s := range out.Traces {
		fmt.Fprintf(w, "  %-12s %-8s links=%d causal=%d modules=%s\n",
			s.TraceID, s.Severity, s.LinkCount, s.CausalLinkCount, strings.Join(s.Modules, ","))
	}
	a := out.Analytics
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Analytics: %d traces, %d links, %d causal links, avg length %.2f\n",
		a.TraceCount, a.LinkCount, a.CausalLinkCount, a.AverageTraceLength)
	if a.MostActiveModule != "" {
		fmt.Fprintf(w, "Most active module: %s\n", a.MostActiveModule)
	}
	if len(a.ErrorTraces) > 0 {
		fmt.Fprintf(w, "Error traces: %s\n", strings.Join(a.ErrorTraces, ", "))
	}
}
