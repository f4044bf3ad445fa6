package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const failingScenario = `
name: expects_a_send
description: asserts a send that the empty flow never makes
start: "2025-06-13T14:00:00Z"
config: |
  identity: "sdr-1": daily_quota: 5
  campaign: intro: {
    identity: "sdr-1"
    steps: [{template: "Hi {first_name}"}]
  }
prospects:
  - campaign: intro
    records:
      - { id: p1, identity: ada-l, first_name: Ada }
flow:
  - advance: 1m
assertions:
  - type: send_count
    prospect: p1
    count: 1
`

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)
	require.Len(t, paths, 5)
	assert.Equal(t, filepath.Join("testdata", "scenarios", "accept_during_claim.yaml"), paths[0])
	assert.Equal(t, filepath.Join("testdata", "scenarios", "weekend_rollover.yaml"), paths[4])

	_, err = FindScenarios(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRunSuite(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios")
	require.NoError(t, err)

	result, err := RunSuite(context.Background(), paths, SuiteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 5, result.TotalScenarios)
	assert.Equal(t, 5, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Scenarios, 5)
	assert.Equal(t, "accept_during_claim", result.Scenarios[0].Name)
	assert.True(t, result.Scenarios[0].Pass)
}

func TestRunSuiteComparesGolden(t *testing.T) {
	paths := []string{"testdata/scenarios/retry_then_fatal.yaml"}

	result, err := RunSuite(context.Background(), paths, SuiteOptions{GoldenDir: "testdata/golden"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed, "%v", result.Failures)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "retry_then_fatal.golden"), []byte("{}\n"), 0o644))
	result, err = RunSuite(context.Background(), paths, SuiteOptions{GoldenDir: dir})
	require.NoError(t, err)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error, "trace does not match golden file")
}

func TestRunSuiteUpdatesGolden(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "golden")
	paths := []string{"testdata/scenarios/accept_during_claim.yaml"}

	result, err := RunSuite(context.Background(), paths, SuiteOptions{GoldenDir: dir, Update: true})
	require.NoError(t, err)
	require.Len(t, result.Scenarios, 1)
	assert.True(t, result.Scenarios[0].GoldenUpdated)

	written, err := os.ReadFile(filepath.Join(dir, "accept_during_claim.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile("testdata/golden/accept_during_claim.golden")
	require.NoError(t, err)
	assert.Equal(t, string(want), string(written))

	result, err = RunSuite(context.Background(), paths, SuiteOptions{GoldenDir: dir})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Passed)
	assert.False(t, result.Scenarios[0].GoldenUpdated)
}

func TestRunSuiteReportsFailures(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a_broken.yaml"), []byte("name: [unterminated"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b_failing.yml"), []byte(failingScenario), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	paths, err := FindScenarios(dir)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	result, err := RunSuite(context.Background(), paths, SuiteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.TotalScenarios)
	assert.Zero(t, result.Passed)
	require.Len(t, result.Failures, 2)

	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
	assert.Empty(t, result.Failures[0].Scenario)

	assert.Equal(t, "expects_a_send", result.Failures[1].Scenario)
	assert.Contains(t, result.Failures[1].Error, "scenario assertions failed")
}

func TestRunSuiteStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := RunSuite(ctx, []string{"testdata/scenarios/weekend_rollover.yaml"}, SuiteOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, result.TotalScenarios)
}
