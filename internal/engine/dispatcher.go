package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/provider"
	"github.com/roach88/cadence/internal/store"
)

// Dispatch delivers the step a claim was taken for and settles the claim.
// It never returns an error: every failure is classified into the Outcome
// and written to the prospect.
func (e *Engine) Dispatch(ctx context.Context, claim model.Claim) Outcome {
	c, err := e.store.GetCampaign(ctx, claim.CampaignID)
	if err != nil {
		return e.releaseUnsent(ctx, claim, fmt.Sprintf("load campaign: %v", err))
	}
	rt, err := newCampaignRuntime(c)
	if err != nil {
		return e.releaseUnsent(ctx, claim, fmt.Sprintf("campaign calendar: %v", err))
	}
	return e.dispatch(ctx, rt, claim)
}

// dispatch runs one claim through the send pipeline:
//
//  1. reload the prospect and check it is still queued under this lease
//  2. stop on a cancelling signal, defer outside the calendar window,
//     route to enrichment when the contact is missing
//  3. resolve the provider reference for follow-ups
//  4. re-check lease and signals, then call the provider
//  5. settle: quota consumed, next step scheduled or sequence completed
func (e *Engine) dispatch(ctx context.Context, rt *campaignRuntime, claim model.Claim) Outcome {
	out := e.dispatchClaim(ctx, rt, claim)
	out.ProspectID = claim.ProspectID
	if out.IdentityID == "" {
		out.IdentityID = claim.IdentityID
	}
	return out
}

func (e *Engine) dispatchClaim(ctx context.Context, rt *campaignRuntime, claim model.Claim) Outcome {
	if rt == nil {
		return e.releaseUnsent(ctx, claim, "campaign not loaded")
	}
	logger := e.logger.With("prospect", claim.ProspectID, "identity", claim.IdentityID)

	p, step, out, done := e.precheck(ctx, rt, claim)
	if done {
		return out
	}

	now := e.clock.Now()
	if open, why := rt.cal.Check(now); !open {
		st := settlementFor(p, claim, now)
		st.NextEligibleAt = rt.cal.NextWorkingInstant(now).UTC()
		return e.settle(ctx, p.Status, st, Outcome{Kind: OutcomeDeferred, Reason: why})
	}

	if p.Identity == "" && p.ProviderRef == "" {
		return e.toEnrichment(ctx, p, claim, "no contact identity")
	}

	ref := p.ProviderRef
	if ref == "" && step.Kind == model.StepFollowUp {
		resolved, err := e.lookup(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return e.releaseUnsent(ctx, claim, fmt.Sprintf("pass stopped: %v", ctx.Err()))
			}
			return e.fail(ctx, rt, p, claim, classify(err))
		}
		ref = resolved
	}

	// Last look before the external call: a signal may have landed while
	// the reference was resolved.
	p, step, out, done = e.precheck(ctx, rt, claim)
	if done {
		return out
	}

	message := Personalize(step.Template, p)
	logger.Debug("sending step", "step", p.StepIndex, "kind", step.Kind)

	res, err := e.send(ctx, p, step, ref, message)
	if err != nil {
		if ctx.Err() != nil {
			return e.releaseUnsent(ctx, claim, fmt.Sprintf("pass stopped: %v", ctx.Err()))
		}
		logger.Warn("send failed", "step", p.StepIndex, "error", err)
		return e.fail(ctx, rt, p, claim, classify(err))
	}
	if res.ProviderRef != "" {
		ref = res.ProviderRef
	}

	return e.delivered(ctx, rt, p, claim, ref)
}

// precheck reloads the prospect and verifies the claim is still good. When
// done is true the claim has been handled and out is the result.
func (e *Engine) precheck(ctx context.Context, rt *campaignRuntime, claim model.Claim) (p model.Prospect, step model.Step, out Outcome, done bool) {
	p, err := e.store.GetProspect(ctx, claim.ProspectID)
	if err != nil {
		e.logger.Error("reload prospect failed", "prospect", claim.ProspectID, "error", err)
		return p, step, e.releaseUnsent(ctx, claim, fmt.Sprintf("reload prospect: %v", err)), true
	}
	now := e.clock.Now()

	if p.LeaseID != claim.LeaseID {
		return p, step, Outcome{
			ProspectID: p.ID,
			IdentityID: p.IdentityID,
			Kind:       OutcomeAborted,
			Step:       p.StepIndex,
			Reason:     "lease lost",
		}, true
	}

	if p.Status != model.StatusQueued {
		// A signal moved the prospect while the claim was held. Clear the
		// lease and free the reservation; the signal's status stands.
		kind := OutcomeAborted
		if p.Status == model.StatusStopped {
			kind = OutcomeStopped
		}
		return p, step, e.settle(ctx, p.Status, settlementFor(p, claim, now), Outcome{
			Kind:   kind,
			Reason: p.TerminalReason,
		}), true
	}

	if !p.LeaseUntil.After(now) {
		// An expired lease may be reaped and the prospect claimed again by
		// another pass at any moment. Release without sending.
		return p, step, e.settle(ctx, p.Status, settlementFor(p, claim, now), Outcome{
			Kind:   OutcomeAborted,
			Reason: "lease expired",
		}), true
	}

	step, ok := rt.Sequence.Step(p.StepIndex)
	if !ok {
		st := settlementFor(p, claim, now)
		st.Status = model.StatusStopped
		st.NextEligibleAt = time.Time{}
		st.TerminalReason = fmt.Sprintf("step %d not in sequence", p.StepIndex)
		return p, step, e.settle(ctx, p.Status, st, Outcome{Kind: OutcomeStopped, Reason: st.TerminalReason}), true
	}

	if reason, cancelled := cancelledBy(p, step); cancelled {
		st := settlementFor(p, claim, now)
		st.Status = model.StatusStopped
		st.NextEligibleAt = time.Time{}
		st.TerminalReason = reason
		return p, step, e.settle(ctx, p.Status, st, Outcome{Kind: OutcomeStopped, Reason: reason}), true
	}

	// The next phase is one provider call bounded by sendTimeout, which the
	// lease TTL exceeds twice over.
	until, err := e.store.RenewLease(ctx, p.ID, claim.LeaseID, now, e.leaseTTL)
	if err != nil {
		reason := "lease lost"
		if !IsLeaseLostError(err) {
			reason = NewStoreError("renew lease", err).Error()
		}
		return p, step, e.releaseUnsent(ctx, claim, reason), true
	}
	p.LeaseUntil = until

	return p, step, Outcome{}, false
}

// cancelledBy reports whether a signal already stamped on p cancels step.
func cancelledBy(p model.Prospect, step model.Step) (string, bool) {
	if step.CancelOnReply && !p.RepliedAt.IsZero() {
		return string(model.SignalReplied), true
	}
	if step.CancelOnAccept && !p.ConnectedAt.IsZero() {
		return string(model.SignalConnected), true
	}
	return "", false
}

func (e *Engine) lookup(ctx context.Context, p model.Prospect) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	return e.provider.LookupContact(ctx, p.IdentityID, p.Contact())
}

func (e *Engine) send(ctx context.Context, p model.Prospect, step model.Step, ref, message string) (provider.SendResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.sendTimeout)
	defer cancel()
	if step.Kind == model.StepInitial {
		return e.provider.SendInitialOutreach(ctx, p.IdentityID, p.Contact(), ref, message)
	}
	return e.provider.SendFollowUp(ctx, p.IdentityID, ref, message)
}

// classify maps a provider error onto the engine's error classes. Errors
// the provider did not classify are treated as transient; MaxRetries
// bounds them.
func classify(err error) *DispatchError {
	switch {
	case errors.Is(err, provider.ErrNotFound):
		return &DispatchError{Class: ClassValidation, Reason: "contact not found", Err: err}
	case provider.IsFatal(err):
		return &DispatchError{Class: ClassFatal, Reason: err.Error(), Err: err}
	case provider.IsRetryable(err):
		return &DispatchError{Class: ClassRetryable, Reason: err.Error(), Err: err}
	default:
		return &DispatchError{Class: ClassRetryable, Reason: "unclassified: " + err.Error(), Err: err}
	}
}

// fail settles a claim whose step could not be delivered.
func (e *Engine) fail(ctx context.Context, rt *campaignRuntime, p model.Prospect, claim model.Claim, de *DispatchError) Outcome {
	now := e.clock.Now()
	st := settlementFor(p, claim, now)

	switch de.Class {
	case ClassValidation:
		return e.toEnrichment(ctx, p, claim, de.Reason)

	case ClassRetryable:
		st.Attempts = p.Attempts + 1
		if st.Attempts > rt.maxRetries() {
			st.Status = model.StatusFailed
			st.NextEligibleAt = time.Time{}
			st.TerminalReason = model.ReasonRetriesExhausted
			e.logger.Warn("retries exhausted",
				"prospect", p.ID, "step", p.StepIndex, "attempts", st.Attempts, "error", de.Err)
			return e.settle(ctx, p.Status, st, Outcome{Kind: OutcomeFailed, Reason: st.TerminalReason})
		}
		st.NextEligibleAt = now.Add(e.retryDelay(st.Attempts)).UTC()
		return e.settle(ctx, p.Status, st, Outcome{Kind: OutcomeRetry, Reason: de.Reason})

	default:
		st.Status = model.StatusFailed
		st.NextEligibleAt = time.Time{}
		st.TerminalReason = de.Reason
		return e.settle(ctx, p.Status, st, Outcome{Kind: OutcomeFailed, Reason: de.Reason})
	}
}

// toEnrichment parks a claimed prospect until the enrichment manager
// supplies the missing data. The first attempt runs on the next pass.
func (e *Engine) toEnrichment(ctx context.Context, p model.Prospect, claim model.Claim, reason string) Outcome {
	st := settlementFor(p, claim, e.clock.Now())
	st.Status = model.StatusEnriching
	st.NextEligibleAt = st.Now.UTC()
	return e.settle(ctx, p.Status, st, Outcome{Kind: OutcomeEnrichment, Reason: reason})
}

// delivered settles a claim whose step the provider accepted. The quota
// slot is consumed, the send is logged, and the prospect moves on to the
// next step or completes.
func (e *Engine) delivered(ctx context.Context, rt *campaignRuntime, p model.Prospect, claim model.Claim, ref string) Outcome {
	sentAt := e.clock.Now().UTC()
	st := settlementFor(p, claim, sentAt)
	st.Sent = &model.Send{
		ID:          model.SendID(p.ID, p.StepIndex),
		ProspectID:  p.ID,
		CampaignID:  p.CampaignID,
		IdentityID:  p.IdentityID,
		Step:        p.StepIndex,
		ProviderRef: ref,
		SentAt:      sentAt,
	}
	st.LastStepSentAt = sentAt
	st.ProviderRef = ref
	st.Attempts = 0

	out := Outcome{Kind: OutcomeSent, ProviderRef: ref}
	if next, ok := rt.nextStepAt(p.StepIndex, sentAt); ok {
		st.Status = model.StatusAwaitingNext
		st.StepIndex = p.StepIndex + 1
		st.NextEligibleAt = next
	} else {
		st.Status = model.StatusCompleted
		st.NextEligibleAt = time.Time{}
		st.TerminalReason = model.ReasonCompleted
		out.Kind = OutcomeCompleted
	}

	e.logger.Info("step sent",
		"prospect", p.ID,
		"identity", p.IdentityID,
		"step", p.StepIndex,
		"ref", ref,
		"next", st.NextEligibleAt)

	kind := out.Kind
	out = e.settle(ctx, model.StatusSent, st, out)
	// The step went out whatever the settlement reported.
	if out.Kind == OutcomeAborted {
		out.Kind = kind
	}
	return out
}

// settle checks the state machine edge and writes the settlement. The
// write runs even when ctx is cancelled: a claim must never be left with
// its reservation held by a finished dispatch.
func (e *Engine) settle(ctx context.Context, from model.Status, st store.Settlement, out Outcome) Outcome {
	out.ProspectID = st.ProspectID
	if st.Sent != nil {
		out.IdentityID = st.Sent.IdentityID
		out.Step = st.Sent.Step
	} else {
		out.Step = st.StepIndex
	}

	if from != st.Status {
		if err := model.Transition(from, st.Status); err != nil {
			e.logger.Error("refusing settlement",
				"prospect", st.ProspectID,
				"error", NewTransitionError(st.ProspectID, from, st.Status))
			st.Status = from
		}
	}

	applied, err := e.store.Settle(context.WithoutCancel(ctx), st)
	switch {
	case err == nil && !applied && st.Sent == nil:
		// Prospect was moved by a signal; its status already stands.
	case err == nil:
	case IsLeaseLostError(err):
		e.logger.Warn("claim lost before settlement", "prospect", st.ProspectID)
		out.Kind = OutcomeAborted
		out.Reason = "lease lost"
	default:
		e.logger.Error("settlement failed", "prospect", st.ProspectID, "error", err)
		out.Kind = OutcomeAborted
		out.Reason = NewStoreError("settle", err).Error()
	}
	return out
}
