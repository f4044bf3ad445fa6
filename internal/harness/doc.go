// Package harness runs conformance scenarios against the scheduling engine.
//
// A scenario seeds a fresh store from CUE configuration and a prospect
// list, drives the real engine with a fake clock and a scripted provider,
// and checks the resulting trace and ledger state.
//
// # Scenario Format
//
// Scenarios are YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	start: "2025-06-13T14:00:00Z"
//	config: |
//	  identity: "sdr-1": daily_quota: 20
//	  campaign: welcome: {
//	    identity: "sdr-1"
//	    steps: [{template: "Hi {first_name}"}]
//	  }
//	prospects:
//	  - campaign: welcome
//	    records:
//	      - { id: p1, identity: jane-doe, first_name: Jane }
//	flow:
//	  - fail_sends: [rate_limited]
//	  - pass: {}
//	  - advance: 1m
//	  - claim: {}
//	  - signal: { prospect: p1, kind: connected }
//	  - dispatch: {}
//	assertions:
//	  - type: prospect_state
//	    prospect: p1
//	    expect: { status: completed }
//	  - type: trace_count
//	    event: call
//	    action: send_initial
//	    count: 1
//
// # Flow Steps
//
// Each flow step does exactly one thing:
//
//   - pass: runs one scheduling pass
//   - claim: promotes due prospects and takes claims without dispatching
//   - dispatch: dispatches every claim taken by earlier claim steps
//   - signal: applies a signal observed at the current clock time
//   - advance / set_time: moves the fake clock forward
//   - fail_sends: queues provider errors for the next sends
//
// # Assertion Types
//
//   - trace_contains: an event with the given type and action appears
//   - trace_order: actions appear in the given order
//   - trace_count: an event appears exactly N times
//   - prospect_state: prospect fields match (subset match)
//   - identity_state: identity counters match (subset match)
//   - send_count: the send log holds N rows for a prospect or identity
//
// # Deterministic Testing
//
// Every run uses its own temporary SQLite database, a fake clock frozen at
// the scenario start, sequential lease IDs and a single dispatch worker, so
// traces are identical across runs and can be compared with golden files.
// Provider calls are traced before the outcomes of the step that made
// them.
package harness
