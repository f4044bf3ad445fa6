package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/store"
)

// AssertionContext gives state assertions access to the scenario's store.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s %s %s %s\n", event.Seq, event.At, event.Type, event.Action, event.ProspectID)
		}
	}

	return buf.String()
}

// EvaluateAssertions checks every assertion and returns the failure
// messages. An empty slice means all assertions held.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertProspectState:
			err = assertProspectState(actx, a)
		case AssertIdentityState:
			err = assertIdentityState(actx, a)
		case AssertSendCount:
			err = assertSendCount(actx, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

// matchEvent reports whether event has the assertion's type, action and
// prospect. Empty assertion fields match anything.
func matchEvent(event TraceEvent, a Assertion) bool {
	if a.Event != "" && event.Type != a.Event {
		return false
	}
	if a.Prospect != "" && event.ProspectID != a.Prospect {
		return false
	}
	return event.Action == a.Action
}

// assertTraceContains checks if the trace contains a matching event.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	for _, event := range trace {
		if matchEvent(event, assertion) {
			return nil
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s %s %s", assertion.Event, assertion.Action, assertion.Prospect),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks if actions appear in the specified order.
// Actions don't need to be consecutive (intervening events are allowed).
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	// Step 1: Find first position of each expected action
	positions := make(map[string]int)
	for i, event := range trace {
		for _, expectedAction := range assertion.Actions {
			if event.Action == expectedAction && positions[expectedAction] == 0 {
				positions[expectedAction] = i + 1 // 1-indexed for readability
			}
		}
	}

	// Step 2: Verify all actions found
	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	// Step 3: Verify order
	for i := 1; i < len(assertion.Actions); i++ {
		prev := assertion.Actions[i-1]
		curr := assertion.Actions[i]

		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}

	return nil
}

// assertTraceCount checks if the event appears exactly the specified number of times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if matchEvent(event, assertion) {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s %s", assertion.Count, assertion.Event, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}

	return nil
}

// assertProspectState reads the prospect and compares the expected fields
// of its JSON form (subset semantics).
func assertProspectState(actx *AssertionContext, assertion Assertion) error {
	p, err := actx.Store.GetProspect(actx.Ctx, assertion.Prospect)
	if err != nil {
		return &AssertionError{
			Type:     AssertProspectState,
			Expected: fmt.Sprintf("prospect %s", assertion.Prospect),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}
	return compareFields(AssertProspectState, "prospect "+assertion.Prospect, p, assertion.Expect)
}

// assertIdentityState reads the identity and compares the expected fields.
func assertIdentityState(actx *AssertionContext, assertion Assertion) error {
	id, err := actx.Store.GetIdentity(actx.Ctx, assertion.Identity)
	if err != nil {
		return &AssertionError{
			Type:     AssertIdentityState,
			Expected: fmt.Sprintf("identity %s", assertion.Identity),
			Actual:   fmt.Sprintf("read error: %v", err),
		}
	}
	return compareFields(AssertIdentityState, "identity "+assertion.Identity, id, assertion.Expect)
}

// assertSendCount counts the send log rows of a prospect, or of an
// identity when no prospect is named.
func assertSendCount(actx *AssertionContext, assertion Assertion) error {
	var (
		count int
		what  string
	)
	if assertion.Prospect != "" {
		sends, err := actx.Store.ListSends(actx.Ctx, assertion.Prospect)
		if err != nil {
			return fmt.Errorf("list sends: %w", err)
		}
		count, what = len(sends), "prospect "+assertion.Prospect
	} else {
		n, err := actx.Store.CountSends(actx.Ctx, assertion.Identity, time.Time{})
		if err != nil {
			return err
		}
		count, what = n, "identity "+assertion.Identity
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertSendCount,
			Expected: fmt.Sprintf("%d sends for %s", assertion.Count, what),
			Actual:   fmt.Sprintf("%d sends", count),
		}
	}
	return nil
}

// compareFields checks each expected field against the JSON form of v.
// Fields omitted from the JSON form (zero times, empty strings) compare
// equal to an empty expectation.
func compareFields(kind, what string, v any, expect map[string]any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", what, err)
	}
	actual := make(map[string]any)
	if err := json.Unmarshal(data, &actual); err != nil {
		return fmt.Errorf("unmarshal %s: %w", what, err)
	}

	// Sort keys for deterministic failure messages
	keys := make([]string, 0, len(expect))
	for k := range expect {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		want := normalizeValue(expect[key])
		got := normalizeValue(actual[key])
		if want != got {
			return &AssertionError{
				Type:     kind,
				Expected: fmt.Sprintf("%s field %q = %q", what, key, want),
				Actual:   fmt.Sprintf("%s field %q = %q", what, key, got),
			}
		}
	}
	return nil
}

// normalizeValue renders YAML and JSON scalars alike: numbers without a
// fractional part as integers, times in RFC 3339 UTC, absent as "".
func normalizeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
		return x
	default:
		return fmt.Sprint(x)
	}
}
