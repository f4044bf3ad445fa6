package harness

// Trace event types.
const (
	EventImport  = "import"  // prospects enrolled
	EventPass    = "pass"    // scheduling pass summary
	EventClaim   = "claim"   // claims taken without dispatch
	EventCall    = "call"    // provider invocation
	EventOutcome = "outcome" // dispatch result for one claim
	EventSignal  = "signal"  // signal applied
	EventClock   = "clock"   // fake clock moved
)

// TraceEvent is one observable thing that happened during a scenario.
//
// Action holds the provider method for calls, the outcome kind for
// outcomes and the signal kind for signals.
type TraceEvent struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	At         string `json:"at"`
	Action     string `json:"action,omitempty"`
	ProspectID string `json:"prospect_id,omitempty"`
	Step       *int   `json:"step,omitempty"`
	Ref        string `json:"ref,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every event in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddEvent appends ev with the next sequence number.
func (r *Result) AddEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

func intPtr(n int) *int { return &n }
