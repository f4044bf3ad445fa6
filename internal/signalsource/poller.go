package signalsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/provider"
	"github.com/roach88/cadence/internal/store"
)

// Poller defaults.
const (
	DefaultLookback    = 24 * time.Hour
	DefaultCallTimeout = 30 * time.Second
	SourcePoll         = "poll"

	// DefaultInvitationTTL is how long an invitation may stay pending
	// before the poller reports it withdrawn.
	DefaultInvitationTTL = 21 * 24 * time.Hour
)

// Ledger is the part of the store the poller reads.
// Implemented by *store.Store.
type Ledger interface {
	ListIdentities(ctx context.Context) ([]model.SendingIdentity, error)
	ListProspects(ctx context.Context, f store.ProspectFilter) ([]model.Prospect, error)
	FindProspect(ctx context.Context, identityID, ref string) (model.Prospect, error)
}

// Poller turns provider state into signal events. Each Fetch asks, per
// active identity, for replies received since the previous poll and for
// the relationship state of every contacted prospect not yet connected.
// An invitation still pending longer than the invitation TTL after the last
// step was sent is reported as withdrawn.
//
// Thread-safety: Fetch may be called concurrently; cursors are guarded by
// an internal mutex.
type Poller struct {
	ledger        Ledger
	provider      provider.Provider
	clock         engine.Clock
	logger        *slog.Logger
	lookback      time.Duration
	timeout       time.Duration
	invitationTTL time.Duration

	mu      sync.Mutex
	cursors map[string]time.Time
}

var _ engine.SignalSource = (*Poller)(nil)

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithPollClock sets the clock used for cursors and observation times.
func WithPollClock(c engine.Clock) PollerOption {
	return func(p *Poller) { p.clock = c }
}

// WithPollLogger sets the logger.
func WithPollLogger(l *slog.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// WithLookback sets how far back the first poll of an identity looks.
func WithLookback(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.lookback = d
		}
	}
}

// WithCallTimeout bounds every provider call.
func WithCallTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithInvitationTTL sets how long a pending invitation lives. Zero or a
// negative value turns stale-invitation expiry off.
func WithInvitationTTL(d time.Duration) PollerOption {
	return func(p *Poller) { p.invitationTTL = d }
}

// NewPoller creates a poller over the ledger and provider.
func NewPoller(l Ledger, prov provider.Provider, opts ...PollerOption) *Poller {
	p := &Poller{
		ledger:        l,
		provider:      prov,
		clock:         engine.SystemClock{},
		logger:        slog.Default(),
		lookback:      DefaultLookback,
		timeout:       DefaultCallTimeout,
		invitationTTL: DefaultInvitationTTL,
		cursors:       make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Fetch polls every active identity once. A provider failure for one
// identity is logged and skipped; the others are still polled. Rejecting
// a reply delivery with requeue rewinds that identity's cursor so the
// reply is seen again on the next poll.
func (p *Poller) Fetch(ctx context.Context) ([]engine.Delivery, error) {
	identities, err := p.ledger.ListIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}

	var out []engine.Delivery
	for _, id := range identities {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		if !id.Active {
			continue
		}
		replies, err := p.pollReplies(ctx, id.ID)
		if err != nil {
			p.logger.Warn("poll replies failed", "identity", id.ID, "error", err)
		}
		out = append(out, replies...)

		accepts, err := p.pollRelationships(ctx, id.ID)
		if err != nil {
			p.logger.Warn("poll relationships failed", "identity", id.ID, "error", err)
		}
		out = append(out, accepts...)
	}
	p.logger.Debug("poll finished", "identities", len(identities), "signals", len(out))
	return out, nil
}

func (p *Poller) pollReplies(ctx context.Context, identityID string) ([]engine.Delivery, error) {
	now := p.clock.Now().UTC()
	since := p.cursor(identityID, now)

	cctx, cancel := context.WithTimeout(ctx, p.timeout)
	replies, err := p.provider.ListRecentReplies(cctx, identityID, since)
	cancel()
	if err != nil {
		return nil, err
	}

	var out []engine.Delivery
	for _, r := range replies {
		prospect, err := p.ledger.FindProspect(ctx, identityID, r.ProviderRef)
		if errors.Is(err, store.ErrNotFound) {
			p.logger.Debug("reply from unknown contact", "identity", identityID, "ref", r.ProviderRef)
			continue
		}
		if err != nil {
			// Leave the cursor where it was so the reply is retried.
			return out, err
		}
		ev := model.NewSignalEvent(prospect.ID, model.SignalReplied, r.ReceivedAt, SourcePoll)
		out = append(out, engine.Delivery{
			Event:  ev,
			Reject: p.rewindOnRequeue(identityID, since),
		})
	}
	p.advance(identityID, since, now)
	return out, nil
}

// contactedStatuses are the live statuses in which a sent invitation may
// have been accepted.
var contactedStatuses = []model.Status{
	model.StatusAwaitingNext,
	model.StatusReplied,
	model.StatusQueued,
}

func (p *Poller) pollRelationships(ctx context.Context, identityID string) ([]engine.Delivery, error) {
	prospects, err := p.ledger.ListProspects(ctx, store.ProspectFilter{
		IdentityID: identityID,
		Statuses:   contactedStatuses,
	})
	if err != nil {
		return nil, err
	}

	var out []engine.Delivery
	for _, prospect := range prospects {
		if prospect.ProviderRef == "" || prospect.LastStepSentAt.IsZero() || !prospect.ConnectedAt.IsZero() {
			continue
		}
		cctx, cancel := context.WithTimeout(ctx, p.timeout)
		rel, err := p.provider.GetNetworkRelationship(cctx, identityID, prospect.ProviderRef)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			p.logger.Debug("relationship lookup failed", "prospect", prospect.ID, "error", err)
			continue
		}

		var kind model.SignalKind
		switch rel {
		case provider.RelationshipConnected:
			kind = model.SignalConnected
		case provider.RelationshipWithdrawn:
			kind = model.SignalWithdrawn
		case provider.RelationshipPending:
			if !p.invitationExpired(prospect) {
				continue
			}
			p.logger.Info("invitation expired", "prospect", prospect.ID,
				"sent_at", prospect.LastStepSentAt, "ttl", p.invitationTTL)
			kind = model.SignalWithdrawn
		default:
			continue
		}
		out = append(out, engine.Delivery{
			Event: model.NewSignalEvent(prospect.ID, kind, p.clock.Now(), SourcePoll),
		})
	}
	return out, nil
}

// invitationExpired reports whether the invitation sent to prospect has been
// pending longer than the invitation TTL.
func (p *Poller) invitationExpired(prospect model.Prospect) bool {
	if p.invitationTTL <= 0 {
		return false
	}
	return p.clock.Now().Sub(prospect.LastStepSentAt) > p.invitationTTL
}

func (p *Poller) cursor(identityID string, now time.Time) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cursors[identityID]; ok {
		return c
	}
	return now.Add(-p.lookback)
}

// advance moves the cursor from since to now unless another poll moved it
// in between.
func (p *Poller) advance(identityID string, since, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.cursors[identityID]; ok && c.After(since) {
		return
	}
	p.cursors[identityID] = now
}

func (p *Poller) rewindOnRequeue(identityID string, since time.Time) func(bool) error {
	return func(requeue bool) error {
		if !requeue {
			return nil
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		if c, ok := p.cursors[identityID]; !ok || c.After(since) {
			p.cursors[identityID] = since
		}
		return nil
	}
}
