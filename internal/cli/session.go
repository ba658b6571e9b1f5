package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/roach88/insight/internal/config"
	"github.com/roach88/insight/internal/engine"
	"github.com/roach88/insight/internal/harness"
	"github.com/roach88/insight/internal/metrics"
	"github.com/roach88/insight/internal/notify"
	"github.com/roach88/insight/internal/reasoning"
)

// session is the process wiring shared by every command: configuration,
// policy, logging, metrics, and alert sinks.
type session struct {
	cfg      *config.Config
	policies config.Policies
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	sinks    []reasoning.AlertSink
	redis    *redis.Client
}

// newSession loads configuration from the environment and the policy from
// --policy or INSIGHT_POLICY_FILE. Logs go to errOut.
func newSession(opts *RootOptions, errOut io.Writer) (*session, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	path := opts.Policy
	if path == "" {
		path = cfg.PolicyFile
	}
	policies, err := config.LoadPolicy(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid policy", err)
	}

	level := cfg.Level()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))

	reg := prometheus.NewRegistry()
	s := &session{
		cfg:      cfg,
		policies: policies,
		logger:   logger,
		registry: reg,
		metrics:  metrics.New(reg),
		sinks:    []reasoning.AlertSink{notify.NewLogSink(logger)},
	}

	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		s.sinks = append(s.sinks, notify.NewRedisSink(s.redis,
			notify.WithStream(cfg.RedisStream),
			notify.WithMaxLen(cfg.RedisMaxLen),
		))
		logger.Debug("redis alert sink enabled", "addr", cfg.RedisAddr, "stream", cfg.RedisStream)
	}
	return s, nil
}

// engineOptions are the capacities and instrumentation every host engine
// gets.
func (s *session) engineOptions() []engine.Option {
	return []engine.Option{
		engine.WithLogger(s.logger),
		engine.WithMetrics(s.metrics),
		engine.WithMaxEvents(s.cfg.MaxEvents),
		engine.WithMaxFindings(s.cfg.MaxFindings),
		engine.WithStreamQueueCapacity(s.cfg.StreamQueue),
	}
}

// harnessOptions wires the session into a scenario run.
func (s *session) harnessOptions() []harness.Option {
	return []harness.Option{
		harness.WithPolicies(s.policies),
		harness.WithLogger(s.logger),
		harness.WithAlertSinks(s.sinks...),
		harness.WithEngineOptions(s.engineOptions()...),
	}
}

// newEngine builds a host engine on the system clock.
func (s *session) newEngine() *engine.Engine {
	opts := append(s.engineOptions(),
		engine.WithPolicy(s.policies.Detectors),
		engine.WithTracePolicy(s.policies.Causal),
		engine.WithAlertSinks(s.sinks...),
	)
	return engine.New(opts...)
}

// Close releases the Redis client if one was opened.
func (s *session) Close() error {
	if s.redis == nil {
		return nil
	}
	return s.redis.Close()
}

// runScenarioFile loads a scenario and executes it with the session wiring.
// Load and execution errors are command errors; a failing assertion is not.
func (s *session) runScenarioFile(ctx context.Context, path string, force func(*harness.Scenario)) (*harness.Harness, *harness.Result, error) {
	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if force != nil {
		force(scenario)
	}
	h := harness.New(scenario, s.harnessOptions()...)
	result, err := h.Execute(ctx)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s rejected", scenario.Name), err)
	}
	return h, result, nil
}

// formatter builds the output formatter for cmd.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
