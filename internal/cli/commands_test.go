package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/insight/internal/config"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
)

func scenarioPath(name string) string {
	return filepath.Join(scenariosDir, name+".yaml")
}

// isolateEnv clears settings that would point commands at external state.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("INSIGHT_REDIS_ADDR", "")
	t.Setenv("INSIGHT_DB_PATH", "")
	t.Setenv("INSIGHT_POLICY_FILE", "")
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func decodeData(t *testing.T, stdout string, data any) CLIResponse {
	t.Helper()
	var raw struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
		Error  *CLIError       `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &raw))
	if data != nil {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return CLIResponse{Status: raw.Status, Error: raw.Error}
}

func TestAnalyze_TextMatchesGoldenReport(t *testing.T) {
	isolateEnv(t)
	for _, name := range []string{"wallet_drain", "error_burst", "quiet"} {
		t.Run(name, func(t *testing.T) {
			stdout, _, err := execute(t, "analyze", scenarioPath(name))
			require.NoError(t, err)

			golden, err := os.ReadFile(filepath.Join(goldenDir, name+".golden"))
			require.NoError(t, err)
			assert.Equal(t, string(golden), stdout)
		})
	}
}

func TestAnalyze_JSON(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "analyze", scenarioPath("wallet_drain"), "--format", "json")
	require.NoError(t, err)

	var data struct {
		Pass    bool `json:"pass"`
		Finding struct {
			Title    string `json:"title"`
			Severity string `json:"severity"`
		} `json:"finding"`
		Traces []struct {
			Summary struct {
				TraceID   string `json:"trace_id"`
				LinkCount int    `json:"link_count"`
			} `json:"summary"`
		} `json:"traces"`
	}
	resp := decodeData(t, stdout, &data)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, data.Pass)
	assert.Equal(t, "Potential Wallet Drain Detected", data.Finding.Title)
	assert.Equal(t, "critical", data.Finding.Severity)
	require.Len(t, data.Traces, 1)
	assert.Equal(t, "T1", data.Traces[0].Summary.TraceID)
	assert.Equal(t, 5, data.Traces[0].Summary.LinkCount)
}

func TestAnalyze_PolicyChangesOutcome(t *testing.T) {
	isolateEnv(t)
	policy := writeFile(t, t.TempDir(), "strict.cue", "detectors: drainMinEvents: 4\n")

	stdout, _, err := execute(t, "analyze", scenarioPath("wallet_drain"), "--policy", policy)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, stdout, "pass: false")
	assert.Contains(t, stdout, "finding: System Normal")
}

func TestAnalyze_PolicyFromEnvironment(t *testing.T) {
	isolateEnv(t)
	policy := writeFile(t, t.TempDir(), "strict.cue", "detectors: drainMinEvents: 4\n")
	t.Setenv("INSIGHT_POLICY_FILE", policy)

	stdout, _, err := execute(t, "analyze", scenarioPath("wallet_drain"), "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeData(t, stdout, nil)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_ASSERTION_FAILED", resp.Error.Code)
}

func TestAnalyze_InvalidPolicy(t *testing.T) {
	isolateEnv(t)
	policy := writeFile(t, t.TempDir(), "bad.cue", "detectors: drainMinEvents: 0\n")

	_, _, err := execute(t, "analyze", scenarioPath("wallet_drain"), "--policy", policy)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.True(t, config.IsPolicyError(err))
}

func TestAnalyze_MissingScenario(t *testing.T) {
	isolateEnv(t)
	_, _, err := execute(t, "analyze", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestAnalyze_Metrics(t *testing.T) {
	isolateEnv(t)
	_, stderr, err := execute(t, "analyze", scenarioPath("wallet_drain"), "--metrics")
	require.NoError(t, err)
	assert.Contains(t, stderr, "# TYPE insight_reasoning_findings_total counter")
	assert.Contains(t, stderr, `insight_reasoning_findings_total{severity="critical"} 1`)
	assert.Contains(t, stderr, "insight_memory_events_appended_total 3")
}

func TestStream_ErrorBurst(t *testing.T) {
	isolateEnv(t)
	stdout, stderr, err := execute(t, "stream", scenarioPath("error_burst"))
	require.NoError(t, err)

	assert.Contains(t, stdout, "Scenario: error_burst")
	assert.Contains(t, stdout, "Alerts: 1")
	assert.Contains(t, stdout, "[2026-03-01T12:00:31Z] alert-1 warning error-keyword: trigger error-keyword: 5 errors within 30s")
	assert.Contains(t, stdout, "Streaming: enabled=true total=1 active=1 critical=0")

	// The log sink reports every alert.
	assert.Contains(t, stderr, "alert_id=alert-1")
}

func TestStream_ForcesStreamingOn(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "stream", scenarioPath("quiet"), "--format", "json")
	require.NoError(t, err)

	var data StreamResult
	resp := decodeData(t, stdout, &data)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "quiet", data.Scenario)
	assert.Empty(t, data.Alerts)
	assert.True(t, data.Status.Enabled)
}

func TestStream_PublishesToRedis(t *testing.T) {
	isolateEnv(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	t.Setenv("INSIGHT_REDIS_ADDR", mr.Addr())
	t.Setenv("INSIGHT_REDIS_STREAM", "alerts:cli")

	_, _, err = execute(t, "stream", scenarioPath("error_burst"))
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	msgs, err := client.XRange(context.Background(), "alerts:cli", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "alert-1", msgs[0].Values["id"])
	assert.Equal(t, "error-keyword", msgs[0].Values["source_pattern"])
}

func TestTrace_Timeline(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "trace", scenarioPath("wallet_drain"), "--id", "T1")
	require.NoError(t, err)

	assert.Contains(t, stdout, "Trace: T1")
	assert.Contains(t, stdout, "Severity: info  Links: 5  Causal links: 4  Confidence: 0.64")
	assert.Contains(t, stdout, "Duration: 1m30s")
	assert.Contains(t, stdout, "mem-1")
	assert.Contains(t, stdout, "audit-7")
	assert.Contains(t, stdout, "<- mem-1 -triggered-> mem-2 (0.72)")
	assert.Contains(t, stdout, "<- mem-1 -related_to-> audit-7 (0.40)")
}

func TestTrace_TimelineJSON(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "trace", scenarioPath("wallet_drain"), "--id", "T1", "--format", "json")
	require.NoError(t, err)

	var data struct {
		Summary struct {
			TraceID string `json:"trace_id"`
		} `json:"summary"`
		Timeline []struct {
			Link struct {
				EntryID string `json:"entry_id"`
			} `json:"link"`
		} `json:"timeline"`
	}
	decodeData(t, stdout, &data)
	assert.Equal(t, "T1", data.Summary.TraceID)
	require.Len(t, data.Timeline, 5)
	assert.Equal(t, "mem-1", data.Timeline[0].Link.EntryID)
}

func TestTrace_UnknownID(t *testing.T) {
	isolateEnv(t)
	_, _, err := execute(t, "trace", scenarioPath("wallet_drain"), "--id", "T404")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "trace not found: T404")
}

func TestTrace_Overview(t *testing.T) {
	isolateEnv(t)
	stdout, _, err := execute(t, "trace", scenarioPath("error_burst"), "--format", "json")
	require.NoError(t, err)

	var data TraceOverview
	decodeData(t, stdout, &data)
	require.Len(t, data.Traces, 1)
	assert.Equal(t, "T2", data.Traces[0].TraceID)
	assert.Equal(t, 1, data.Analytics.TraceCount)
	assert.Equal(t, 7, data.Analytics.LinkCount)
}

func TestTrace_Search(t *testing.T) {
	isolateEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"by principal", []string{"--principal", "alice"}, "Traces: 1"},
		{"other principal", []string{"--principal", "bob"}, "Traces: 0"},
		{"by source", []string{"--source", "audit"}, "Traces: 1"},
		{"min severity above trace", []string{"--min-severity", "warning"}, "Traces: 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"trace", scenarioPath("wallet_drain")}, tt.args...)
			stdout, _, err := execute(t, args...)
			require.NoError(t, err)
			assert.Contains(t, stdout, tt.want)
			assert.Contains(t, stdout, "Analytics: 1 traces, 5 links, 4 causal links")
		})
	}
}

func TestTrace_InvalidSeverity(t *testing.T) {
	isolateEnv(t)
	_, _, err := execute(t, "trace", scenarioPath("wallet_drain"), "--min-severity", "loud")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSnapshotThenInspect(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "insight.db")

	stdout, _, err := execute(t, "snapshot", scenarioPath("wallet_drain"), "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Saved wallet_drain to "+db)
	assert.Contains(t, stdout, "events:       3 (last id 3)")
	assert.Contains(t, stdout, "findings:     1 (last id 1)")
	assert.Contains(t, stdout, "links:        5")

	stdout, _, err = execute(t, "inspect", "--db", db, "--format", "json")
	require.NoError(t, err)

	var data InspectResult
	resp := decodeData(t, stdout, &data)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 3, data.Stats.Events)
	require.Len(t, data.Findings, 1)
	assert.Equal(t, "Potential Wallet Drain Detected", data.Findings[0].Title)
	require.Len(t, data.Traces, 1)
	assert.Equal(t, "T1", data.Traces[0].TraceID)
	assert.Equal(t, 5, data.Traces[0].LinkCount)
}

func TestInspect_Text(t *testing.T) {
	isolateEnv(t)
	db := filepath.Join(t.TempDir(), "insight.db")
	t.Setenv("INSIGHT_DB_PATH", db)

	_, _, err := execute(t, "snapshot", scenarioPath("error_burst"))
	require.NoError(t, err)

	stdout, _, err := execute(t, "inspect", "--recent", "0")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Database: "+db)
	assert.Contains(t, stdout, "Recent findings: 0")
	assert.Contains(t, stdout, "Traces: 1")
	assert.Contains(t, stdout, "T2")
}

func TestSnapshot_NoDatabase(t *testing.T) {
	isolateEnv(t)
	_, _, err := execute(t, "snapshot", scenarioPath("quiet"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "no database")
}

func TestInspect_MissingDatabase(t *testing.T) {
	isolateEnv(t)
	_, _, err := execute(t, "inspect", "--db", filepath.Join(t.TempDir(), "absent.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "database not found")
}

func TestInspect_NegativeRecent(t *testing.T) {
	isolateEnv(t)
	_, _, err := execute(t, "inspect", "--db", "x.db", "--recent", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
