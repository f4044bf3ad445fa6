package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/provider"
	"github.com/roach88/cadence/internal/store"
)

// Defaults for engine and pass configuration.
const (
	DefaultWorkers       = 4
	DefaultLeaseTTL      = 2 * time.Minute
	DefaultSendTimeout   = 30 * time.Second
	DefaultMaxBatch      = 100
	DefaultInactiveRetry = time.Hour
)

// Engine runs scheduling passes over the store.
//
// The engine holds no per-pass state between calls: RunPass is a function
// of the store, the clock and the collaborators. Any number of passes (in
// one process or several) may run concurrently against the same store;
// claims are compare-and-set in the store.
//
// Thread-safety model:
//   - RunPass(), ApplySignal(), ListenOnce(): safe from any goroutine
//   - Within a pass, dispatches run on a bounded worker pool with each
//     sending identity served by exactly one worker
type Engine struct {
	store    *store.Store
	provider provider.Provider
	enricher Enricher
	clock    Clock
	ids      IDGenerator
	logger   *slog.Logger

	workers       int
	leaseTTL      time.Duration
	sendTimeout   time.Duration
	retryDelay    DelayFunc
	enrichDelay   DelayFunc
	inactiveRetry time.Duration
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock injects the time source. Default: SystemClock.
func WithClock(c Clock) EngineOption {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator injects the pass and lease ID source.
// Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) { e.ids = g }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithEnricher sets the collaborator that fills in missing prospect data.
// Without one, enrichment attempts fail until the prospect is exhausted.
func WithEnricher(en Enricher) EngineOption {
	return func(e *Engine) { e.enricher = en }
}

// WithWorkers sets the dispatch worker pool size. Default: 4.
func WithWorkers(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLeaseTTL sets how long a claim is held before the reaper may free
// it. A TTL below MinLeaseTTL of the send timeout is raised to it.
// Default: 2 minutes.
func WithLeaseTTL(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.leaseTTL = d
		}
	}
}

// WithSendTimeout bounds every provider call. Default: 30 seconds.
func WithSendTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.sendTimeout = d
		}
	}
}

// WithRetryDelay sets the backoff for retryable send failures.
// Default: exponential from 1 minute, capped at 6 hours.
func WithRetryDelay(f DelayFunc) EngineOption {
	return func(e *Engine) { e.retryDelay = f }
}

// WithEnrichDelay sets the backoff between enrichment attempts.
// Default: exponential from 1 minute, capped at 6 hours.
func WithEnrichDelay(f DelayFunc) EngineOption {
	return func(e *Engine) { e.enrichDelay = f }
}

// New creates an Engine over a store and a messaging provider.
func New(s *store.Store, p provider.Provider, opts ...EngineOption) *Engine {
	e := &Engine{
		store:         s,
		provider:      p,
		clock:         SystemClock{},
		ids:           UUIDv7Generator{},
		logger:        slog.Default(),
		workers:       DefaultWorkers,
		leaseTTL:      DefaultLeaseTTL,
		sendTimeout:   DefaultSendTimeout,
		retryDelay:    ExponentialDelay(DefaultRetryBase, DefaultRetryCap),
		enrichDelay:   ExponentialDelay(DefaultRetryBase, DefaultRetryCap),
		inactiveRetry: DefaultInactiveRetry,
	}

	for _, opt := range opts {
		opt(e)
	}
	if floor := MinLeaseTTL(e.sendTimeout); e.leaseTTL < floor {
		e.logger.Warn("lease TTL raised to cover provider calls",
			"lease_ttl", e.leaseTTL, "send_timeout", e.sendTimeout, "raised_to", floor)
		e.leaseTTL = floor
	}

	return e
}

// MinLeaseTTL is the shortest lease the engine runs with for a send
// timeout: strictly more than two provider calls, so a lease renewed
// before a call outlives the call and its settlement.
func MinLeaseTTL(sendTimeout time.Duration) time.Duration {
	return 2*sendTimeout + time.Second
}

// PassOptions bounds one pass.
type PassOptions struct {
	// MaxBatch caps the claims taken, and the enrichment retries
	// processed, in this pass. Zero means DefaultMaxBatch.
	MaxBatch int

	// MaxDuration stops dispatching once elapsed. Claims not yet
	// dispatched are released. Zero means no limit.
	MaxDuration time.Duration
}

// OutcomeKind is the result of handling one claimed prospect.
type OutcomeKind string

const (
	OutcomeSent       OutcomeKind = "sent"
	OutcomeCompleted  OutcomeKind = "completed"
	OutcomeRetry      OutcomeKind = "retry"
	OutcomeFailed     OutcomeKind = "failed"
	OutcomeStopped    OutcomeKind = "stopped"
	OutcomeAborted    OutcomeKind = "aborted"
	OutcomeDeferred   OutcomeKind = "deferred"
	OutcomeEnrichment OutcomeKind = "needs_enrichment"
)

// Outcome records what happened to one claim.
type Outcome struct {
	ProspectID  string      `json:"prospect_id"`
	IdentityID  string      `json:"identity_id"`
	Kind        OutcomeKind `json:"kind"`
	Step        int         `json:"step"`
	ProviderRef string      `json:"provider_ref,omitempty"`
	Reason      string      `json:"reason,omitempty"`
}

// PassReport summarizes one pass.
type PassReport struct {
	PassID     string    `json:"pass_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Reaped        int   `json:"reaped"`
	Enriched      int   `json:"enriched"`
	EnrichFailed  int   `json:"enrich_failed"`
	Promoted      int64 `json:"promoted"`
	Claimed       int   `json:"claimed"`
	QuotaDeferred int   `json:"quota_deferred"`
	WindowClosed  int   `json:"window_closed"`

	Outcomes []Outcome          `json:"outcomes"`
	Counts   map[OutcomeKind]int `json:"counts"`
}

func (r *PassReport) tally() {
	r.Counts = make(map[OutcomeKind]int)
	for _, o := range r.Outcomes {
		r.Counts[o.Kind]++
	}
}

// RunPass runs one scheduling pass:
//
//  1. reap expired claim leases
//  2. retry due enrichment
//  3. promote due validated and post-send prospects to queued
//  4. claim ready prospects (lease + quota reservation)
//  5. dispatch the claims on the worker pool, serialized per identity
//
// Per-prospect failures are recorded in the report and never abort the
// pass. A store failure before dispatch aborts the pass after releasing
// every claim taken so far.
func (e *Engine) RunPass(ctx context.Context, opts PassOptions) (PassReport, error) {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	if opts.MaxDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.MaxDuration)
		defer cancel()
	}

	now := e.clock.Now()
	report := PassReport{
		PassID:    e.ids.Generate(),
		StartedAt: now,
	}
	logger := e.logger.With("pass", report.PassID)
	logger.Debug("pass starting", "max_batch", opts.MaxBatch)

	campaigns, err := e.loadCampaigns(ctx)
	if err != nil {
		return report, err
	}

	if report.Reaped, err = e.store.ReapExpiredLeases(ctx, now); err != nil {
		return report, NewStoreError("reap expired leases", err)
	}

	if err := e.processEnrichment(ctx, campaigns, now, opts.MaxBatch, &report); err != nil {
		return report, err
	}

	if report.Promoted, err = e.store.PromoteDue(ctx, now); err != nil {
		return report, NewStoreError("promote due prospects", err)
	}

	claims, err := e.dequeueReady(ctx, campaigns, now, opts.MaxBatch, &report)
	if err != nil {
		return report, err
	}
	report.Claimed = len(claims)

	report.Outcomes = e.dispatchAll(ctx, campaigns, claims)
	report.FinishedAt = e.clock.Now()
	report.tally()

	logger.Info("pass finished",
		"reaped", report.Reaped,
		"promoted", report.Promoted,
		"claimed", report.Claimed,
		"sent", report.Counts[OutcomeSent]+report.Counts[OutcomeCompleted],
		"failed", report.Counts[OutcomeFailed],
		"retry", report.Counts[OutcomeRetry],
	)
	return report, nil
}

// loadCampaigns reads every campaign and compiles its calendar.
// A campaign whose calendar does not compile is logged and skipped.
func (e *Engine) loadCampaigns(ctx context.Context) (map[string]*campaignRuntime, error) {
	list, err := e.store.ListCampaigns(ctx)
	if err != nil {
		return nil, NewStoreError("load campaigns", err)
	}
	out := make(map[string]*campaignRuntime, len(list))
	for _, c := range list {
		rt, err := newCampaignRuntime(c)
		if err != nil {
			e.logger.Error("campaign calendar invalid", "campaign", c.ID, "error", err)
			continue
		}
		out[c.ID] = rt
	}
	return out, nil
}

// dispatchAll runs claims on the worker pool. Claims are grouped by
// identity; a group is handled start to finish by one worker, so sends
// through one identity never overlap while different identities proceed
// in parallel. Outcomes are returned in claim order.
func (e *Engine) dispatchAll(ctx context.Context, campaigns map[string]*campaignRuntime, claims []model.Claim) []Outcome {
	outcomes := make([]Outcome, len(claims))
	if len(claims) == 0 {
		return outcomes
	}

	groups := make(map[string][]int)
	var order []string
	for i, c := range claims {
		if _, ok := groups[c.IdentityID]; !ok {
			order = append(order, c.IdentityID)
		}
		groups[c.IdentityID] = append(groups[c.IdentityID], i)
	}
	sort.Strings(order)

	work := make(chan []int)
	var wg sync.WaitGroup
	workers := min(e.workers, len(order))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range work {
				for _, i := range group {
					claim := claims[i]
					if err := ctx.Err(); err != nil {
						outcomes[i] = e.releaseUnsent(ctx, claim, fmt.Sprintf("pass stopped: %v", err))
						continue
					}
					outcomes[i] = e.dispatch(ctx, campaigns[claim.CampaignID], claim)
				}
			}
		}()
	}
	for _, id := range order {
		work <- groups[id]
	}
	close(work)
	wg.Wait()

	return outcomes
}
