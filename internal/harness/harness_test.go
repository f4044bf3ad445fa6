package harness

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	s, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return s
}

// TestScenarios runs every conformance scenario and compares its trace
// with the golden file of the same name.
func TestScenarios(t *testing.T) {
	names := []string{
		"weekend_rollover",
		"quota_exhausted",
		"accept_during_claim",
		"retry_then_fatal",
		"reply_stops_sequence",
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			scenario := loadTestScenario(t, name)
			assert.Equal(t, name, scenario.Name, "scenario name mismatch")

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario should pass: errors=%v", result.Errors)
			assert.Empty(t, result.Errors)
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	scenario := loadTestScenario(t, "quota_exhausted")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
}

func TestRunReportsFailedAssertions(t *testing.T) {
	scenario := loadTestScenario(t, "retry_then_fatal")
	scenario.Assertions = []Assertion{
		{Type: AssertProspectState, Prospect: "p1", Expect: map[string]any{"status": "completed"}},
		{Type: AssertTraceCount, Event: EventCall, Action: "send_initial", Count: 4},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `"status" = "completed"`)
	assert.Contains(t, result.Errors[0], `"status" = "failed"`)
	assert.Contains(t, result.Errors[1], "3 occurrences")
}

func TestRunRejectsUndispatchedClaims(t *testing.T) {
	scenario := loadTestScenario(t, "accept_during_claim")
	scenario.Flow = []FlowStep{{Claim: &ClaimStep{}}}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 claims were never dispatched")
}

func TestRunRejectsBadConfig(t *testing.T) {
	scenario := loadTestScenario(t, "accept_during_claim")
	scenario.Config = `campaign: intro: {identity: "nobody", steps: [{template: "Hi"}]}`

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to seed configuration")
	assert.Contains(t, err.Error(), "E107")
}

func TestRunRejectsUnknownSignalProspect(t *testing.T) {
	scenario := loadTestScenario(t, "accept_during_claim")
	scenario.Flow = []FlowStep{{Signal: &SignalStep{Prospect: "ghost", Kind: "replied"}}}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flow step 0")
	assert.Contains(t, err.Error(), "ghost")
}

func TestRunRejectsClockGoingBack(t *testing.T) {
	scenario := loadTestScenario(t, "accept_during_claim")
	scenario.Flow = []FlowStep{{SetTime: "2025-06-12T00:00:00Z"}}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before the current time")
}
