package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/cadence/internal/compiler"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/provider"
)

// Scenario defines a conformance test scenario.
// Scenarios seed a store, drive the engine through a flow of steps and
// assert on the resulting trace and final state.
type Scenario struct {
	// Name uniquely identifies this scenario. It also names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Start is the RFC 3339 instant the fake clock starts at.
	Start string `yaml:"start"`

	// Config is CUE source declaring identities and campaigns, in the same
	// layout as a configuration directory.
	Config string `yaml:"config"`

	// Prospects are imported into their campaigns before the flow runs.
	Prospects []ProspectSet `yaml:"prospects"`

	// Flow contains the steps driving the engine, in order.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ProspectSet is a batch of import records for one campaign.
type ProspectSet struct {
	Campaign string                `yaml:"campaign"`
	Records  []engine.ImportRecord `yaml:"records"`
}

// FlowStep is one step of the flow. Exactly one field is set.
type FlowStep struct {
	// Pass runs one scheduling pass.
	Pass *PassStep `yaml:"pass,omitempty"`

	// Claim promotes due prospects and takes claims without dispatching.
	Claim *ClaimStep `yaml:"claim,omitempty"`

	// Dispatch dispatches every claim taken by earlier claim steps.
	Dispatch *struct{} `yaml:"dispatch,omitempty"`

	// Signal applies a signal observed at the current clock time.
	Signal *SignalStep `yaml:"signal,omitempty"`

	// Advance moves the clock forward by a duration ("90m", "2d").
	Advance string `yaml:"advance,omitempty"`

	// SetTime moves the clock to an RFC 3339 instant.
	SetTime string `yaml:"set_time,omitempty"`

	// FailSends queues provider errors for the next sends, by name.
	FailSends []string `yaml:"fail_sends,omitempty"`
}

// PassStep configures a pass. Zero values take the engine defaults.
type PassStep struct {
	MaxBatch int `yaml:"max_batch,omitempty"`
}

// ClaimStep configures a claim step.
type ClaimStep struct {
	Limit int `yaml:"limit,omitempty"`
}

// SignalStep names the prospect and kind of a signal.
type SignalStep struct {
	Prospect string `yaml:"prospect"`
	Kind     string `yaml:"kind"`
}

// Assertion validates trace or final state.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event with Event and Action appears
	// - "trace_order": Actions appear in order
	// - "trace_count": an event with Event and Action appears Count times
	// - "prospect_state": prospect fields match Expect
	// - "identity_state": identity fields match Expect
	// - "send_count": the send log holds Count rows
	Type string `yaml:"type"`

	// Event is the trace event type (trace_contains, trace_count).
	// Empty matches any type.
	Event string `yaml:"event,omitempty"`

	// Action is the trace action (trace_contains, trace_count).
	Action string `yaml:"action,omitempty"`

	// Actions is the expected action order (trace_order).
	Actions []string `yaml:"actions,omitempty"`

	// Prospect selects a prospect (prospect_state, send_count,
	// trace_contains).
	Prospect string `yaml:"prospect,omitempty"`

	// Identity selects a sending identity (identity_state, send_count).
	Identity string `yaml:"identity,omitempty"`

	// Expect contains expected field values, by JSON field name.
	// Subset match - only specified fields are validated.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Count is the expected number of occurrences.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertProspectState = "prospect_state"
	AssertIdentityState = "identity_state"
	AssertSendCount     = "send_count"
)

// sendErrors maps fail_sends names to provider errors.
var sendErrors = map[string]error{
	"rate_limited":    provider.ErrRateLimited,
	"unavailable":     provider.ErrUnavailable,
	"invalid_contact": provider.ErrInvalidContact,
	"policy_rejected": provider.ErrPolicyRejected,
	"not_found":       provider.ErrNotFound,
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:"
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// startTime parses the scenario start instant.
func (s *Scenario) startTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s.Start)
	if err != nil {
		return time.Time{}, fmt.Errorf("start: %w", err)
	}
	return t.UTC(), nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if _, err := s.startTime(); err != nil {
		return err
	}

	if s.Config == "" {
		return fmt.Errorf("config is required")
	}

	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, set := range s.Prospects {
		if set.Campaign == "" {
			return fmt.Errorf("prospects[%d]: campaign is required", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

// validateStep checks that a flow step does exactly one valid thing.
func validateStep(index int, step *FlowStep) error {
	set := 0
	if step.Pass != nil {
		set++
	}
	if step.Claim != nil {
		set++
	}
	if step.Dispatch != nil {
		set++
	}
	if step.Signal != nil {
		set++
		if step.Signal.Prospect == "" {
			return fmt.Errorf("flow[%d].signal: prospect is required", index)
		}
		if _, err := model.ParseSignalKind(step.Signal.Kind); err != nil {
			return fmt.Errorf("flow[%d].signal: %w", index, err)
		}
	}
	if step.Advance != "" {
		set++
		if _, err := compiler.ParseDelay(step.Advance); err != nil {
			return fmt.Errorf("flow[%d].advance: %w", index, err)
		}
	}
	if step.SetTime != "" {
		set++
		if _, err := time.Parse(time.RFC3339, step.SetTime); err != nil {
			return fmt.Errorf("flow[%d].set_time: %w", index, err)
		}
	}
	if len(step.FailSends) > 0 {
		set++
		for _, name := range step.FailSends {
			if _, ok := sendErrors[name]; !ok {
				return fmt.Errorf("flow[%d].fail_sends: unknown error %q", index, name)
			}
		}
	}

	switch set {
	case 0:
		return fmt.Errorf("flow[%d]: step is empty", index)
	case 1:
		return nil
	default:
		return fmt.Errorf("flow[%d]: step must do exactly one thing", index)
	}
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertProspectState:
		if a.Prospect == "" {
			return fmt.Errorf("assertions[%d]: prospect is required for prospect_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for prospect_state", index)
		}
	case AssertIdentityState:
		if a.Identity == "" {
			return fmt.Errorf("assertions[%d]: identity is required for identity_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for identity_state", index)
		}
	case AssertSendCount:
		if a.Prospect == "" && a.Identity == "" {
			return fmt.Errorf("assertions[%d]: prospect or identity is required for send_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for send_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
