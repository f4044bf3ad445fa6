package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/harness"
)

const (
	scenariosDir = "../harness/testdata/scenarios"
	goldenDir    = "../harness/testdata/golden"
)

func TestTestCommandRunsScenarios(t *testing.T) {
	out, _, err := execute(NewTestCommand(&RootOptions{Format: "text"}), scenariosDir)
	require.NoError(t, err)

	assert.Contains(t, out, "✓ accept_during_claim\n")
	assert.Contains(t, out, "✓ weekend_rollover\n")
	assert.Contains(t, out, "Test Summary: 5 passed, 0 failed, 5 total\n")
	assert.Contains(t, out, "✓ All scenarios passed\n")
}

func TestTestCommandComparesGolden(t *testing.T) {
	out, _, err := execute(NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--golden", goldenDir)
	require.NoError(t, err)
	assert.Contains(t, out, "5 passed, 0 failed")
}

func TestTestCommandFilter(t *testing.T) {
	out, _, err := execute(NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--filter", "quota_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ quota_exhausted\n")
	assert.NotContains(t, out, "weekend_rollover")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")

	out, _, err = execute(NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--filter", "nothing_*")
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)

	_, _, err = execute(NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdatesGolden(t *testing.T) {
	dir := t.TempDir()
	out, _, err := execute(NewTestCommand(&RootOptions{Format: "text"}),
		scenariosDir, "--golden", dir, "--update", "--filter", "reply_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ reply_stops_sequence (golden updated)\n")

	got, err := os.ReadFile(filepath.Join(dir, "reply_stops_sequence.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(goldenDir, "reply_stops_sequence.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestTestCommandErrors(t *testing.T) {
	_, _, err := execute(NewTestCommand(&RootOptions{Format: "text"}), filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")

	_, _, err = execute(NewTestCommand(&RootOptions{Format: "text"}), scenariosDir, "--update")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--update requires --golden")
}

func TestTestCommandReportsFailures(t *testing.T) {
	dir := t.TempDir()
	scenario := `name: expects_a_send
description: Nothing is due, so the send assertion fails
start: "2030-06-14T10:00:00Z"
config: |
  identity: "sdr-1": {daily_quota: 5}
  campaign: c1: {identity: "sdr-1", steps: [{template: "hi"}]}
flow:
  - pass: {}
assertions:
  - type: send_count
    identity: sdr-1
    count: 1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "expects_a_send.yaml"), []byte(scenario), 0o644))

	out, _, err := execute(NewTestCommand(&RootOptions{Format: "text"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ expects_a_send\n")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")

	out, _, err = execute(NewTestCommand(&RootOptions{Format: "json"}), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
		Error  *CLIError           `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E_TEST_FAILED", resp.Error.Code)
	assert.Equal(t, 1, resp.Data.Failed)
}

func TestTestCommandJSON(t *testing.T) {
	out, _, err := execute(NewTestCommand(&RootOptions{Format: "json"}), scenariosDir)
	require.NoError(t, err)

	var resp struct {
		Status string              `json:"status"`
		Data   harness.SuiteResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 5, resp.Data.TotalScenarios)
	assert.Equal(t, 5, resp.Data.Passed)
	require.Len(t, resp.Data.Scenarios, 5)
	assert.Equal(t, "accept_during_claim", resp.Data.Scenarios[0].Name)
}
