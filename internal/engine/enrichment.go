package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
)

// ErrNoEnricher is the failure recorded for every enrichment attempt when
// the engine was built without an Enricher.
var ErrNoEnricher = errors.New("no enricher configured")

// EnrichedFields is what an Enricher found out about a prospect. Empty
// fields leave the prospect's value unchanged.
type EnrichedFields struct {
	Identity    string `json:"identity,omitempty"`
	ProviderRef string `json:"provider_ref,omitempty"`
	FirstName   string `json:"first_name,omitempty"`
	LastName    string `json:"last_name,omitempty"`
	Company     string `json:"company,omitempty"`
	Title       string `json:"title,omitempty"`
}

// Enricher fills in missing contact data from an external directory.
type Enricher interface {
	Enrich(ctx context.Context, p model.Prospect) (EnrichedFields, error)
}

// EnricherFunc adapts a function to the Enricher interface.
type EnricherFunc func(ctx context.Context, p model.Prospect) (EnrichedFields, error)

// Enrich calls f(ctx, p).
func (f EnricherFunc) Enrich(ctx context.Context, p model.Prospect) (EnrichedFields, error) {
	return f(ctx, p)
}

// processEnrichment gives every due enriching prospect one more attempt.
// A store failure other than a lost compare-and-set aborts the pass.
func (e *Engine) processEnrichment(ctx context.Context, campaigns map[string]*campaignRuntime, now time.Time, limit int, report *PassReport) error {
	due, err := e.store.DueEnrichment(ctx, now, limit)
	if err != nil {
		return NewStoreError("read due enrichment", err)
	}

	for _, p := range due {
		if err := ctx.Err(); err != nil {
			return nil
		}
		rt, ok := campaigns[p.CampaignID]
		if !ok {
			continue
		}
		ready, err := e.enrichOne(ctx, rt, p, now)
		if err != nil {
			return err
		}
		if ready {
			report.Enriched++
		} else {
			report.EnrichFailed++
		}
	}
	return nil
}

// enrichOne runs one enrichment attempt and writes the result. It reports
// whether the prospect is ready to be queued again.
//
// On success the prospect returns to queued and is due at once. A
// prospect that never got its first step restarts the sequence; one that
// is mid-sequence resumes at the step that needed the data. Each failure
// counts an attempt and backs off; the campaign's MaxEnrichAttempts-th
// failure fails the prospect.
func (e *Engine) enrichOne(ctx context.Context, rt *campaignRuntime, p model.Prospect, now time.Time) (bool, error) {
	fields, err := e.enrich(ctx, p)
	if err == nil {
		merge(&p, fields)
		if p.Identity == "" && p.ProviderRef == "" {
			err = errors.New("enrichment found no contact identity")
		}
	}

	if err == nil {
		p.Status = model.StatusQueued
		// A prospect that already received a step resumes at the step
		// that needed the data.
		if p.LastStepSentAt.IsZero() {
			p.StepIndex = 0
		}
		p.NextEligibleAt = now.UTC()
		if werr := e.writeEnrichment(ctx, p, now); werr != nil {
			return false, werr
		}
		e.logger.Info("prospect enriched", "prospect", p.ID, "identity", p.Identity)
		return true, nil
	}

	p.EnrichAttempts++
	if p.EnrichAttempts >= rt.maxEnrichAttempts() {
		p.Status = model.StatusFailed
		p.TerminalReason = model.ReasonEnrichmentExhausted
		p.NextEligibleAt = time.Time{}
		e.logger.Warn("enrichment exhausted", "prospect", p.ID, "attempts", p.EnrichAttempts, "error", err)
	} else {
		p.NextEligibleAt = now.Add(e.enrichDelay(p.EnrichAttempts)).UTC()
		e.logger.Debug("enrichment failed", "prospect", p.ID, "attempts", p.EnrichAttempts, "error", err)
	}
	return false, e.writeEnrichment(ctx, p, now)
}

func (e *Engine) enrich(ctx context.Context, p model.Prospect) (EnrichedFields, error) {
	if e.enricher == nil {
		return EnrichedFields{}, ErrNoEnricher
	}
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	return e.enricher.Enrich(ctx, p)
}

// writeEnrichment stores an enrichment result. A lost compare-and-set
// means a signal moved the prospect and is ignored. Any other write error
// (an enriched identity colliding with another prospect of the campaign)
// fails this prospect instead of blocking every later pass.
func (e *Engine) writeEnrichment(ctx context.Context, p model.Prospect, now time.Time) error {
	_, err := e.store.UpdateProspect(ctx, p, now)
	if err == nil || errors.Is(err, store.ErrConflict) {
		return nil
	}
	if ctx.Err() != nil {
		return NewStoreError("write enrichment", err)
	}

	e.logger.Error("enrichment write rejected", "prospect", p.ID, "error", err)
	cur, gerr := e.store.GetProspect(ctx, p.ID)
	if gerr != nil {
		return NewStoreError("write enrichment", gerr)
	}
	if cur.Status != model.StatusEnriching {
		return nil
	}
	cur.Status = model.StatusFailed
	cur.TerminalReason = fmt.Sprintf("enrichment rejected: %v", err)
	cur.NextEligibleAt = time.Time{}
	if _, err := e.store.UpdateProspect(ctx, cur, now); err != nil && !errors.Is(err, store.ErrConflict) {
		return NewStoreError("write enrichment", err)
	}
	return nil
}

func merge(p *model.Prospect, f EnrichedFields) {
	if f.Identity != "" {
		p.Identity = model.NormalizeIdentity(f.Identity)
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}
	set(&p.ProviderRef, f.ProviderRef)
	set(&p.FirstName, f.FirstName)
	set(&p.LastName, f.LastName)
	set(&p.Company, f.Company)
	set(&p.Title, f.Title)
}
