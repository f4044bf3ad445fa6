package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
)

// ErrInvalidSignal marks an event that can never be applied: it fails
// validation or names an unknown prospect. Sources drop such events
// instead of redelivering them.
var ErrInvalidSignal = errors.New("invalid signal")

// Effects recorded for every applied signal.
const (
	EffectStopped   = "stopped"   // prospect moved to stopped
	EffectMarked    = "marked"    // signal stamped, sequence continues
	EffectEscalated = "escalated" // stop reason replaced by a higher-ranked signal
	EffectIgnored   = "ignored"   // recorded for audit only
)

// Applied reports the result of ApplySignal.
type Applied struct {
	SignalID   string       `json:"signal_id"`
	ProspectID string       `json:"prospect_id"`
	Duplicate  bool         `json:"duplicate"`
	Effect     string       `json:"effect,omitempty"`
	Status     model.Status `json:"status"`
}

// ApplySignal records ev and updates its prospect in one store
// transaction. Applying the same event twice is a no-op reported as
// Duplicate.
//
// A claim held on the prospect is not touched: its owner re-reads the
// prospect before sending and settles without delivering.
func (e *Engine) ApplySignal(ctx context.Context, ev model.SignalEvent) (Applied, error) {
	ev = ev.WithID()
	if err := ev.Validate(); err != nil {
		return Applied{}, fmt.Errorf("%w: %v", ErrInvalidSignal, err)
	}

	p, err := e.store.GetProspect(ctx, ev.ProspectID)
	if errors.Is(err, store.ErrNotFound) {
		return Applied{}, fmt.Errorf("%w: prospect %s not found", ErrInvalidSignal, ev.ProspectID)
	}
	if err != nil {
		return Applied{}, NewStoreError("read prospect", err)
	}
	c, err := e.store.GetCampaign(ctx, p.CampaignID)
	if err != nil {
		return Applied{}, NewStoreError("read campaign", err)
	}

	res, err := e.store.RecordSignal(ctx, ev, e.clock.Now(), func(p *model.Prospect) (string, bool) {
		return decideSignal(p, ev, c.Sequence)
	})
	if err != nil {
		return Applied{}, NewStoreError("record signal", err)
	}

	out := Applied{
		SignalID:   ev.ID,
		ProspectID: ev.ProspectID,
		Duplicate:  res.Duplicate,
		Effect:     res.Effect,
		Status:     res.Prospect.Status,
	}
	e.logger.Info("signal applied",
		"prospect", ev.ProspectID,
		"kind", ev.Kind,
		"source", ev.Source,
		"duplicate", out.Duplicate,
		"effect", out.Effect,
		"status", out.Status)
	return out, nil
}

// decideSignal applies ev to p in place.
//
//   - withdrawn and bounced stop any live prospect
//   - replied and connected stop the prospect when the step due next
//     cancels on them; otherwise they are stamped and a post-send prospect
//     moves to the matching status
//   - a terminal prospect is unchanged, except that a stop reason from a
//     lower-ranked signal is replaced by the higher-ranked one
func decideSignal(p *model.Prospect, ev model.SignalEvent, seq model.Sequence) (string, bool) {
	if p.Status.IsTerminal() {
		if p.Status == model.StatusStopped && ev.Kind.Rank() > model.SignalKind(p.TerminalReason).Rank() &&
			model.SignalKind(p.TerminalReason).Rank() > 0 {
			p.TerminalReason = string(ev.Kind)
			return EffectEscalated, true
		}
		return EffectIgnored, false
	}

	if ev.Kind.Rank() >= 2 {
		stop(p, ev.Kind)
		return EffectStopped, true
	}

	step, hasStep := seq.Step(p.StepIndex)
	var target model.Status

	switch ev.Kind {
	case model.SignalReplied:
		if hasStep && step.CancelOnReply {
			stampSignal(p, ev)
			stop(p, ev.Kind)
			return EffectStopped, true
		}
		target = model.StatusReplied
	case model.SignalConnected:
		if hasStep && step.CancelOnAccept {
			stampSignal(p, ev)
			stop(p, ev.Kind)
			return EffectStopped, true
		}
		target = model.StatusConnected
	}

	changed := stampSignal(p, ev)
	if p.Status.IsPostSend() && p.Status != target && model.CanTransition(p.Status, target) {
		p.Status = target
		changed = true
	}
	if !changed {
		return EffectIgnored, false
	}
	return EffectMarked, true
}

// stampSignal records the first observation time of a reply or
// acceptance. It reports whether p changed.
func stampSignal(p *model.Prospect, ev model.SignalEvent) bool {
	switch ev.Kind {
	case model.SignalReplied:
		if p.RepliedAt.IsZero() {
			p.RepliedAt = ev.ObservedAt
			return true
		}
	case model.SignalConnected:
		if p.ConnectedAt.IsZero() {
			p.ConnectedAt = ev.ObservedAt
			return true
		}
	}
	return false
}

func stop(p *model.Prospect, kind model.SignalKind) {
	p.Status = model.StatusStopped
	p.TerminalReason = string(kind)
	p.NextEligibleAt = time.Time{}
}

// Delivery is one signal handed over by a SignalSource. Ack and Reject
// settle it with the source; either may be nil when the source needs no
// acknowledgement.
type Delivery struct {
	Event  model.SignalEvent
	Ack    func() error
	Reject func(requeue bool) error
}

// SignalSource yields batches of observed signals.
// Implemented by signalsource.Poller and signalsource.AMQPSource.
type SignalSource interface {
	// Fetch returns the next batch. An empty batch means nothing new.
	Fetch(ctx context.Context) ([]Delivery, error)
}

// ListenReport summarizes one ListenOnce call.
type ListenReport struct {
	Received   int `json:"received"`
	Applied    int `json:"applied"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
	Failed     int `json:"failed"`
}

// ListenOnce drains one batch from src and applies every event. Events
// that can never apply are rejected without requeue; events that failed
// on a store error are rejected for redelivery.
func (e *Engine) ListenOnce(ctx context.Context, src SignalSource) (ListenReport, error) {
	var report ListenReport
	batch, err := src.Fetch(ctx)
	if err != nil {
		return report, fmt.Errorf("fetch signals: %w", err)
	}
	report.Received = len(batch)

	for _, d := range batch {
		applied, err := e.ApplySignal(ctx, d.Event)
		switch {
		case err == nil:
			if applied.Duplicate {
				report.Duplicates++
			} else {
				report.Applied++
			}
			if d.Ack != nil {
				if aerr := d.Ack(); aerr != nil {
					e.logger.Warn("signal ack failed", "signal", applied.SignalID, "error", aerr)
				}
			}
		case errors.Is(err, ErrInvalidSignal):
			report.Rejected++
			e.logger.Warn("signal rejected", "prospect", d.Event.ProspectID, "error", err)
			if d.Reject != nil {
				if rerr := d.Reject(false); rerr != nil {
					e.logger.Warn("signal reject failed", "error", rerr)
				}
			}
		default:
			report.Failed++
			e.logger.Error("signal apply failed", "prospect", d.Event.ProspectID, "error", err)
			if d.Reject != nil {
				if rerr := d.Reject(true); rerr != nil {
					e.logger.Warn("signal requeue failed", "error", rerr)
				}
			}
		}
	}
	return report, nil
}
