package engine

import (
	"context"
	"errors"
	"time"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
)

// DequeueReady claims up to limit ready prospects at the current clock
// time. Each claim holds a lease and one reserved quota slot of its
// identity. Callers own the claims and must Dispatch or release them.
func (e *Engine) DequeueReady(ctx context.Context, limit int) ([]model.Claim, error) {
	campaigns, err := e.loadCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	var report PassReport
	return e.dequeueReady(ctx, campaigns, e.clock.Now(), limit, &report)
}

// dequeueReady walks ready candidates in eligibility order and claims them
// one transaction at a time. Candidates that cannot be claimed are pushed
// forward rather than dropped:
//
//   - calendar window closed: to the window's next opening
//   - identity quota used up: to the identity's next window reset
//   - identity inactive: by inactiveRetry
//
// Candidates leased by a concurrent pass are skipped. The walk ends when
// limit claims are held or a round yields no new candidate.
func (e *Engine) dequeueReady(ctx context.Context, campaigns map[string]*campaignRuntime, now time.Time, limit int, report *PassReport) ([]model.Claim, error) {
	if limit <= 0 {
		limit = DefaultMaxBatch
	}

	var claims []model.Claim
	seen := make(map[string]bool)
	full := make(map[string]model.SendingIdentity)

	for len(claims) < limit {
		if err := ctx.Err(); err != nil {
			break
		}
		candidates, err := e.store.ReadyProspects(ctx, now, limit+len(seen))
		if err != nil {
			e.releaseAll(ctx, claims)
			return nil, NewStoreError("read ready prospects", err)
		}

		progressed := false
		for _, p := range candidates {
			if len(claims) >= limit {
				break
			}
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			progressed = true

			rt, ok := campaigns[p.CampaignID]
			if !ok {
				e.logger.Warn("prospect campaign not loaded", "prospect", p.ID, "campaign", p.CampaignID)
				continue
			}
			if !rt.cal.IsOpen(now) {
				e.deferProspect(ctx, p, rt.cal.NextWorkingInstant(now), now)
				report.WindowClosed++
				continue
			}
			if id, ok := full[p.IdentityID]; ok {
				e.deferForQuota(ctx, p, id, rt, now)
				report.QuotaDeferred++
				continue
			}

			claim, err := e.store.ClaimProspect(ctx, p.ID, e.ids.Generate(), now, e.leaseTTL)
			switch {
			case err == nil:
				claims = append(claims, claim)
			case errors.Is(err, store.ErrConflict):
				e.logger.Debug("prospect claimed elsewhere", "prospect", p.ID)
			case errors.Is(err, store.ErrQuotaExhausted):
				id, gerr := e.store.GetIdentity(ctx, p.IdentityID)
				if gerr != nil {
					e.releaseAll(ctx, claims)
					return nil, NewStoreError("read identity", gerr)
				}
				full[p.IdentityID] = id
				e.deferForQuota(ctx, p, id, rt, now)
				report.QuotaDeferred++
			case errors.Is(err, store.ErrInactive):
				e.deferProspect(ctx, p, now.Add(e.inactiveRetry), now)
			default:
				e.releaseAll(ctx, claims)
				return nil, NewStoreError("claim prospect", err)
			}
		}
		if !progressed {
			break
		}
	}

	return claims, nil
}

// deferProspect moves a queued prospect's eligibility to at. A concurrent
// change to the row wins.
func (e *Engine) deferProspect(ctx context.Context, p model.Prospect, at, now time.Time) {
	p.NextEligibleAt = at.UTC()
	if _, err := e.store.UpdateProspect(ctx, p, now); err != nil {
		if !errors.Is(err, store.ErrConflict) {
			e.logger.Error("defer prospect failed", "prospect", p.ID, "error", err)
		}
		return
	}
	e.logger.Debug("prospect deferred", "prospect", p.ID, "until", at)
}

// deferForQuota pushes p to the identity's next window reset when the
// window is fully consumed. When the window is full only because other
// claims hold reservations, p is left due: those slots may be freed.
func (e *Engine) deferForQuota(ctx context.Context, p model.Prospect, id model.SendingIdentity, rt *campaignRuntime, now time.Time) {
	if _, ok := NextEligible(p, id, rt.cal, now); ok {
		return
	}
	e.deferProspect(ctx, p, QuotaResumeAt(id, rt.cal, now), now)
}

// releaseAll gives back every claim of an aborted pass.
func (e *Engine) releaseAll(ctx context.Context, claims []model.Claim) {
	for _, c := range claims {
		e.releaseUnsent(ctx, c, "pass aborted")
	}
}

// releaseUnsent clears a claim that was never sent and frees its quota
// slot. The prospect stays queued with its state unchanged. The release
// runs even when ctx is already cancelled.
func (e *Engine) releaseUnsent(ctx context.Context, claim model.Claim, reason string) Outcome {
	ctx = context.WithoutCancel(ctx)
	out := Outcome{
		ProspectID: claim.ProspectID,
		IdentityID: claim.IdentityID,
		Kind:       OutcomeAborted,
		Step:       claim.StepIndex,
		Reason:     reason,
	}

	p, err := e.store.GetProspect(ctx, claim.ProspectID)
	if err != nil {
		e.logger.Error("release claim failed", "prospect", claim.ProspectID, "error", err)
		return out
	}
	if _, err := e.store.Settle(ctx, settlementFor(p, claim, e.clock.Now())); err != nil && !IsLeaseLostError(err) {
		e.logger.Error("release claim failed", "prospect", claim.ProspectID, "error", err)
	}
	return out
}

// settlementFor is a settlement that leaves p's scheduling state as it is.
// Callers overwrite the fields the dispatch outcome changes.
func settlementFor(p model.Prospect, claim model.Claim, now time.Time) store.Settlement {
	return store.Settlement{
		ProspectID:     p.ID,
		LeaseID:        claim.LeaseID,
		Now:            now,
		Status:         p.Status,
		StepIndex:      p.StepIndex,
		NextEligibleAt: p.NextEligibleAt,
		Attempts:       p.Attempts,
		EnrichAttempts: p.EnrichAttempts,
		TerminalReason: p.TerminalReason,
	}
}
