package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/calendar"
)

// Defaults applied to campaigns that leave the field unset.
const (
	DefaultMaxRetries        = 2
	DefaultMaxEnrichAttempts = 3
	DefaultQuotaWindow       = 24 * time.Hour
)

// Terminal and stop reasons recorded in Prospect.TerminalReason.
const (
	ReasonCompleted           = "sequence completed"
	ReasonEnrichmentExhausted = "enrichment exhausted"
	ReasonRetriesExhausted    = "retries exhausted"
)

// Prospect is a contact progressing through one campaign's sequence.
type Prospect struct {
	ID             string    `json:"id"`
	Identity       string    `json:"identity"` // normalized profile reference
	CampaignID     string    `json:"campaign_id"`
	IdentityID     string    `json:"identity_id"` // owning sending identity
	Status         Status    `json:"status"`
	StepIndex      int       `json:"step_index"` // next step to dispatch
	LastStepSentAt time.Time `json:"last_step_sent_at,omitzero"`
	NextEligibleAt time.Time `json:"next_eligible_at,omitzero"`
	TerminalReason string    `json:"terminal_reason,omitempty"`
	ProviderRef    string    `json:"provider_ref,omitempty"`

	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Title     string `json:"title,omitempty"`

	Attempts       int       `json:"attempts"`
	EnrichAttempts int       `json:"enrich_attempts"`
	LeaseID        string    `json:"lease_id,omitempty"`
	LeaseUntil     time.Time `json:"lease_until,omitzero"`
	RepliedAt      time.Time `json:"replied_at,omitzero"`
	ConnectedAt    time.Time `json:"connected_at,omitzero"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Leased reports whether the prospect holds a claim lease that has not
// expired at now.
func (p Prospect) Leased(now time.Time) bool {
	return p.LeaseID != "" && p.LeaseUntil.After(now)
}

// Contact is the subset of a prospect a provider needs to address it.
type Contact struct {
	Identity  string `json:"identity"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Contact returns the addressing fields of p.
func (p Prospect) Contact() Contact {
	return Contact{
		Identity:  p.Identity,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Company:   p.Company,
		Title:     p.Title,
	}
}

// SendingIdentity is an external account whose daily quota is shared by
// every campaign sending through it.
type SendingIdentity struct {
	ID            string        `json:"id"`
	Name          string        `json:"name,omitempty"`
	DailyQuota    int           `json:"daily_quota"`
	ConsumedToday int           `json:"consumed_today"`
	Reserved      int           `json:"reserved"`
	Window        time.Duration `json:"window"`
	WindowResetAt time.Time     `json:"window_reset_at"`
	Active        bool          `json:"active"`
}

// Remaining returns the number of sends that may still be reserved in the
// current window.
func (i SendingIdentity) Remaining() int {
	r := i.DailyQuota - i.ConsumedToday - i.Reserved
	if r < 0 {
		return 0
	}
	return r
}

// Exhausted reports whether every slot in the window is consumed.
func (i SendingIdentity) Exhausted() bool {
	return i.ConsumedToday >= i.DailyQuota
}

// Rolled returns the identity as seen at now: once now reaches
// WindowResetAt the consumed counter is zeroed and the reset time advances
// by whole windows. Reservations carry over. A zero WindowResetAt starts the
// first window at now.
func (i SendingIdentity) Rolled(now time.Time) SendingIdentity {
	window := i.Window
	if window <= 0 {
		window = DefaultQuotaWindow
	}
	if i.WindowResetAt.IsZero() {
		i.WindowResetAt = now.Add(window)
		return i
	}
	if now.Before(i.WindowResetAt) {
		return i
	}
	elapsed := now.Sub(i.WindowResetAt)
	i.WindowResetAt = i.WindowResetAt.Add((elapsed/window + 1) * window)
	i.ConsumedToday = 0
	return i
}

// Validate checks quota configuration.
func (i SendingIdentity) Validate() error {
	if i.ID == "" {
		return errors.New("identity: id is required")
	}
	if i.DailyQuota < 0 {
		return fmt.Errorf("identity %s: daily quota must not be negative", i.ID)
	}
	if i.ConsumedToday+i.Reserved > i.DailyQuota {
		return fmt.Errorf("identity %s: consumed %d + reserved %d exceeds quota %d",
			i.ID, i.ConsumedToday, i.Reserved, i.DailyQuota)
	}
	return nil
}

// Campaign binds a sequence to a sending identity and delivery window.
type Campaign struct {
	ID                string          `json:"id"`
	Name              string          `json:"name,omitempty"`
	IdentityID        string          `json:"identity_id"`
	Sequence          Sequence        `json:"sequence"`
	Calendar          calendar.Config `json:"calendar"`
	MaxRetries        int             `json:"max_retries"`
	MaxEnrichAttempts int             `json:"max_enrich_attempts"`
	OneStepPerDay     bool            `json:"one_step_per_day"`
}

// Validate checks a campaign is usable for scheduling.
func (c Campaign) Validate() error {
	if c.ID == "" {
		return errors.New("campaign: id is required")
	}
	if c.IdentityID == "" {
		return fmt.Errorf("campaign %s: identity is required", c.ID)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("campaign %s: max_retries must not be negative", c.ID)
	}
	if c.MaxEnrichAttempts < 0 {
		return fmt.Errorf("campaign %s: max_enrich_attempts must not be negative", c.ID)
	}
	if err := c.Sequence.Validate(); err != nil {
		return fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	if err := c.Calendar.Validate(); err != nil {
		return fmt.Errorf("campaign %s: %w", c.ID, err)
	}
	return nil
}

// QueueEntry is a prospect that is ready for dispatch in the current pass.
// It is derived per pass and never persisted.
type QueueEntry struct {
	ProspectID string    `json:"prospect_id"`
	IdentityID string    `json:"identity_id"`
	EligibleAt time.Time `json:"eligible_at"`
}

// Claim is a queue entry whose lease and quota reservation are held.
type Claim struct {
	QueueEntry
	CampaignID string    `json:"campaign_id"`
	LeaseID    string    `json:"lease_id"`
	LeaseUntil time.Time `json:"lease_until"`
	StepIndex  int       `json:"step_index"`
}

// Send is one row of the delivery audit log.
type Send struct {
	ID          string    `json:"id"`
	ProspectID  string    `json:"prospect_id"`
	CampaignID  string    `json:"campaign_id"`
	IdentityID  string    `json:"identity_id"`
	Step        int       `json:"step"`
	ProviderRef string    `json:"provider_ref,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}
