package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/model"
)

// toMillis converts a timestamp to the stored representation.
// The zero time is stored as NULL.
func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// fromMillis converts a stored timestamp back to UTC time.
func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalCampaign converts a campaign to JSON TEXT for storage.
// HTML escaping is disabled so message templates round-trip byte for byte.
func marshalCampaign(c model.Campaign) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return "", fmt.Errorf("marshal campaign: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalCampaign parses a stored campaign definition.
func unmarshalCampaign(data string) (model.Campaign, error) {
	var c model.Campaign
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return model.Campaign{}, fmt.Errorf("unmarshal campaign: %w", err)
	}
	return c, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

const prospectColumns = `id, campaign_id, identity_id, identity, status, step_index,
	last_step_sent_at, next_eligible_at, terminal_reason, provider_ref,
	first_name, last_name, company, title, attempts, enrich_attempts,
	lease_id, lease_until, replied_at, connected_at, version, created_at, updated_at`

func scanProspect(row scanner) (model.Prospect, error) {
	var (
		p                                  model.Prospect
		status                             string
		leaseID                            sql.NullString
		lastSent, nextEligible, leaseUntil sql.NullInt64
		repliedAt, connectedAt             sql.NullInt64
		createdAt, updatedAt               int64
	)
	err := row.Scan(
		&p.ID, &p.CampaignID, &p.IdentityID, &p.Identity, &status, &p.StepIndex,
		&lastSent, &nextEligible, &p.TerminalReason, &p.ProviderRef,
		&p.FirstName, &p.LastName, &p.Company, &p.Title, &p.Attempts, &p.EnrichAttempts,
		&leaseID, &leaseUntil, &repliedAt, &connectedAt, &p.Version, &createdAt, &updatedAt,
	)
	if err != nil {
		return model.Prospect{}, err
	}
	p.Status = model.Status(status)
	p.LastStepSentAt = fromMillis(lastSent)
	p.NextEligibleAt = fromMillis(nextEligible)
	p.LeaseID = leaseID.String
	p.LeaseUntil = fromMillis(leaseUntil)
	p.RepliedAt = fromMillis(repliedAt)
	p.ConnectedAt = fromMillis(connectedAt)
	p.CreatedAt = time.UnixMilli(createdAt).UTC()
	p.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return p, nil
}

const identityColumns = `id, name, daily_quota, consumed_today, reserved, window_ms,
	window_reset_at, active`

func scanIdentity(row scanner) (model.SendingIdentity, error) {
	var (
		id       model.SendingIdentity
		windowMS int64
		resetAt  sql.NullInt64
		active   int
	)
	err := row.Scan(&id.ID, &id.Name, &id.DailyQuota, &id.ConsumedToday, &id.Reserved,
		&windowMS, &resetAt, &active)
	if err != nil {
		return model.SendingIdentity{}, err
	}
	id.Window = time.Duration(windowMS) * time.Millisecond
	id.WindowResetAt = fromMillis(resetAt)
	id.Active = active != 0
	return id, nil
}
