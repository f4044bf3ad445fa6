package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/cadence/internal/compiler"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/testutil"
)

// SignalSource is the Source recorded on signals applied by a scenario.
const SignalSource = "harness"

// Harness is the test execution engine.
// It runs one scenario against a real engine with a fake clock and a
// scripted provider.
type Harness struct {
	store    *store.Store
	engine   *engine.Engine
	clock    *testutil.FakeClock
	provider *testutil.ScriptedProvider
	logger   *slog.Logger

	claims []model.Claim
	calls  int // provider calls already traced
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh temporary database for isolation.
// Deterministic helpers ensure reproducible results.
//
// Execution flow:
// 1. Create a fresh database
// 2. Compile the CUE configuration and store identities and campaigns
// 3. Import the prospect lists
// 4. Execute flow steps, tracing what the engine and provider did
// 5. Evaluate assertions and return the result
func Run(scenario *Scenario) (*Result, error) {
	start, err := scenario.startTime()
	if err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "cadence-scenario-")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests
	h := &Harness{
		store:    st,
		clock:    testutil.NewFakeClock(start),
		provider: testutil.NewScriptedProvider(),
		logger:   logger,
	}
	h.engine = engine.New(st, h.provider,
		engine.WithClock(h.clock),
		engine.WithIDGenerator(engine.NewSequenceGenerator("lease")),
		engine.WithLogger(logger),
		engine.WithWorkers(1),
	)

	ctx := context.Background()
	result := NewResult()

	if err := h.seed(ctx, scenario.Config); err != nil {
		return nil, fmt.Errorf("failed to seed configuration: %w", err)
	}
	if err := h.importProspects(ctx, scenario.Prospects, result); err != nil {
		return nil, fmt.Errorf("failed to import prospects: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow, result); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{
		Store: st,
		Ctx:   ctx,
	}
	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(errMsg)
	}

	return result, nil
}

// seed compiles the CUE configuration and stores it.
func (h *Harness) seed(ctx context.Context, src string) error {
	v := cuecontext.New().CompileString(src)
	bundle, errs := compiler.CompileBundle(v, true)
	if len(errs) > 0 {
		return errs[0]
	}
	if verrs := bundle.Check(); len(verrs) > 0 {
		return verrs[0]
	}

	now := h.clock.Now()
	for _, id := range bundle.Identities {
		if err := h.store.UpsertIdentity(ctx, id, now); err != nil {
			return err
		}
	}
	for _, c := range bundle.Campaigns {
		if err := h.store.UpsertCampaign(ctx, c, now); err != nil {
			return err
		}
	}
	return nil
}

func (h *Harness) importProspects(ctx context.Context, sets []ProspectSet, result *Result) error {
	for _, set := range sets {
		report, err := h.engine.ImportProspects(ctx, set.Campaign, set.Records)
		if err != nil {
			return err
		}
		h.event(result, TraceEvent{
			Type:   EventImport,
			Action: set.Campaign,
			Detail: fmt.Sprintf("inserted=%d duplicates=%d enriching=%d failed=%d",
				report.Inserted, report.Duplicates, report.Enriching, report.Failed),
		})
	}
	return nil
}

// executeFlow runs all flow steps in order.
func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep, result *Result) error {
	for i, step := range flow {
		if err := h.executeStep(ctx, step, result); err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}
		h.logger.Info("flow step completed", "step", i, "at", h.clock.Now())
	}

	// Claims left undispatched would hold quota past the scenario.
	if len(h.claims) > 0 {
		return fmt.Errorf("%d claims were never dispatched", len(h.claims))
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step FlowStep, result *Result) error {
	switch {
	case step.Pass != nil:
		report, err := h.engine.RunPass(ctx, engine.PassOptions{MaxBatch: step.Pass.MaxBatch})
		if err != nil {
			return err
		}
		h.event(result, TraceEvent{
			Type:   EventPass,
			Detail: fmt.Sprintf("claimed=%d quota_deferred=%d window_closed=%d", report.Claimed, report.QuotaDeferred, report.WindowClosed),
		})
		h.traceCalls(result)
		h.traceOutcomes(result, report.Outcomes)

	case step.Claim != nil:
		if _, err := h.store.PromoteDue(ctx, h.clock.Now()); err != nil {
			return err
		}
		claims, err := h.engine.DequeueReady(ctx, step.Claim.Limit)
		if err != nil {
			return err
		}
		h.claims = append(h.claims, claims...)
		detail := fmt.Sprintf("claimed=%d", len(claims))
		if len(claims) > 0 {
			ids := make([]string, len(claims))
			for i, c := range claims {
				ids[i] = c.ProspectID
			}
			detail += " " + strings.Join(ids, ",")
		}
		h.event(result, TraceEvent{Type: EventClaim, Detail: detail})

	case step.Dispatch != nil:
		outcomes := make([]engine.Outcome, 0, len(h.claims))
		for _, c := range h.claims {
			outcomes = append(outcomes, h.engine.Dispatch(ctx, c))
		}
		h.claims = nil
		h.traceCalls(result)
		h.traceOutcomes(result, outcomes)

	case step.Signal != nil:
		kind, err := model.ParseSignalKind(step.Signal.Kind)
		if err != nil {
			return err
		}
		ev := model.NewSignalEvent(step.Signal.Prospect, kind, h.clock.Now(), SignalSource)
		applied, err := h.engine.ApplySignal(ctx, ev)
		if err != nil {
			return err
		}
		detail := applied.Effect
		if applied.Duplicate {
			detail = "duplicate"
		}
		h.event(result, TraceEvent{
			Type:       EventSignal,
			Action:     string(kind),
			ProspectID: ev.ProspectID,
			Detail:     detail,
		})

	case step.Advance != "":
		d, err := compiler.ParseDelay(step.Advance)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
		h.event(result, TraceEvent{Type: EventClock})

	case step.SetTime != "":
		t, err := time.Parse(time.RFC3339, step.SetTime)
		if err != nil {
			return err
		}
		if t.Before(h.clock.Now()) {
			return fmt.Errorf("set_time %s is before the current time %s", step.SetTime, h.clock.Now().Format(time.RFC3339))
		}
		h.clock.Set(t)
		h.event(result, TraceEvent{Type: EventClock})

	case len(step.FailSends) > 0:
		errs := make([]error, len(step.FailSends))
		for i, name := range step.FailSends {
			errs[i] = sendErrors[name]
		}
		h.provider.FailSends(errs...)
	}
	return nil
}

// event stamps ev with the current clock time and appends it.
func (h *Harness) event(result *Result, ev TraceEvent) {
	ev.At = h.clock.Now().UTC().Format(time.RFC3339)
	result.AddEvent(ev)
}

// traceCalls appends the provider calls made since the last trace.
func (h *Harness) traceCalls(result *Result) {
	calls := h.provider.Calls()
	for _, c := range calls[h.calls:] {
		h.event(result, TraceEvent{
			Type:   EventCall,
			Action: c.Method,
			Ref:    c.Ref,
			Detail: c.Message,
		})
	}
	h.calls = len(calls)
}

func (h *Harness) traceOutcomes(result *Result, outcomes []engine.Outcome) {
	for _, o := range outcomes {
		h.event(result, TraceEvent{
			Type:       EventOutcome,
			Action:     string(o.Kind),
			ProspectID: o.ProspectID,
			Step:       intPtr(o.Step),
			Ref:        o.ProviderRef,
			Detail:     o.Reason,
		})
	}
}
