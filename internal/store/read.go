package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/cadence/internal/model"
)

// GetProspect reads one prospect. Returns ErrNotFound if it does not exist.
func (s *Store) GetProspect(ctx context.Context, id string) (model.Prospect, error) {
	return s.getProspect(ctx, s.db, id, false)
}

func (s *Store) getProspect(ctx context.Context, q queryer, id string, lock bool) (model.Prospect, error) {
	query := `SELECT ` + prospectColumns + ` FROM prospects WHERE id = ?`
	if lock {
		query += s.dialect.forUpdate()
	}
	p, err := scanProspect(s.queryRow(ctx, q, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Prospect{}, fmt.Errorf("prospect %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Prospect{}, fmt.Errorf("read prospect %s: %w", id, err)
	}
	return p, nil
}

// GetIdentity reads one sending identity as stored. Callers that need the
// current window apply model.SendingIdentity.Rolled.
func (s *Store) GetIdentity(ctx context.Context, id string) (model.SendingIdentity, error) {
	return s.getIdentity(ctx, s.db, id, false)
}

func (s *Store) getIdentity(ctx context.Context, q queryer, id string, lock bool) (model.SendingIdentity, error) {
	query := `SELECT ` + identityColumns + ` FROM identities WHERE id = ?`
	if lock {
		query += s.dialect.forUpdate()
	}
	ident, err := scanIdentity(s.queryRow(ctx, q, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.SendingIdentity{}, fmt.Errorf("identity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.SendingIdentity{}, fmt.Errorf("read identity %s: %w", id, err)
	}
	return ident, nil
}

// ListIdentities returns every sending identity ordered by ID.
func (s *Store) ListIdentities(ctx context.Context) ([]model.SendingIdentity, error) {
	rows, err := s.query(ctx, s.db, `SELECT `+identityColumns+` FROM identities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var out []model.SendingIdentity
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		out = append(out, ident)
	}
	return out, rows.Err()
}

// GetCampaign reads one campaign definition.
func (s *Store) GetCampaign(ctx context.Context, id string) (model.Campaign, error) {
	var def string
	err := s.queryRow(ctx, s.db, `SELECT definition FROM campaigns WHERE id = ?`, id).Scan(&def)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Campaign{}, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Campaign{}, fmt.Errorf("read campaign %s: %w", id, err)
	}
	return unmarshalCampaign(def)
}

// ListCampaigns returns every campaign ordered by ID.
func (s *Store) ListCampaigns(ctx context.Context) ([]model.Campaign, error) {
	rows, err := s.query(ctx, s.db, `SELECT definition FROM campaigns ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []model.Campaign
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c, err := unmarshalCampaign(def)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProspectFilter narrows ListProspects. Zero fields match everything.
type ProspectFilter struct {
	CampaignID string
	IdentityID string
	Statuses   []model.Status
	Limit      int
}

// ListProspects returns prospects matching f ordered by ID.
func (s *Store) ListProspects(ctx context.Context, f ProspectFilter) ([]model.Prospect, error) {
	var (
		where []string
		args  []any
	)
	if f.CampaignID != "" {
		where = append(where, "campaign_id = ?")
		args = append(args, f.CampaignID)
	}
	if f.IdentityID != "" {
		where = append(where, "identity_id = ?")
		args = append(args, f.IdentityID)
	}
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + prospectColumns + ` FROM prospects`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	return s.listProspects(ctx, query, args...)
}

// ReadyProspects returns queued prospects due at now that hold no live
// lease, oldest eligibility first with ID as the tie-breaker.
func (s *Store) ReadyProspects(ctx context.Context, now time.Time, limit int) ([]model.Prospect, error) {
	return s.listProspects(ctx, `
		SELECT `+prospectColumns+` FROM prospects
		WHERE status = 'queued'
		  AND next_eligible_at IS NOT NULL AND next_eligible_at <= ?
		  AND (lease_until IS NULL OR lease_until <= ?)
		ORDER BY next_eligible_at ASC, id ASC
		LIMIT ?
	`, now.UnixMilli(), now.UnixMilli(), limit)
}

// DueEnrichment returns enriching prospects whose retry time has come.
func (s *Store) DueEnrichment(ctx context.Context, now time.Time, limit int) ([]model.Prospect, error) {
	return s.listProspects(ctx, `
		SELECT `+prospectColumns+` FROM prospects
		WHERE status = 'enriching'
		  AND (next_eligible_at IS NULL OR next_eligible_at <= ?)
		ORDER BY next_eligible_at ASC, id ASC
		LIMIT ?
	`, now.UnixMilli(), limit)
}

// FindProspect looks up the live prospect an identity is working that
// matches a provider reference or normalized contact identity. Terminal
// prospects are not returned.
func (s *Store) FindProspect(ctx context.Context, identityID, ref string) (model.Prospect, error) {
	p, err := scanProspect(s.queryRow(ctx, s.db, `
		SELECT `+prospectColumns+` FROM prospects
		WHERE identity_id = ?
		  AND (provider_ref = ? OR identity = ?)
		  AND status NOT IN ('completed', 'failed', 'stopped')
		ORDER BY created_at ASC, id ASC
		LIMIT 1
	`, identityID, ref, ref))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Prospect{}, fmt.Errorf("prospect %s/%s: %w", identityID, ref, ErrNotFound)
	}
	if err != nil {
		return model.Prospect{}, fmt.Errorf("find prospect: %w", err)
	}
	return p, nil
}

func (s *Store) listProspects(ctx context.Context, query string, args ...any) ([]model.Prospect, error) {
	rows, err := s.query(ctx, s.db, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query prospects: %w", err)
	}
	defer rows.Close()

	var out []model.Prospect
	for rows.Next() {
		p, err := scanProspect(rows)
		if err != nil {
			return nil, fmt.Errorf("scan prospect: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// StatusCount is one row of the per-campaign status report.
type StatusCount struct {
	CampaignID string       `json:"campaign_id"`
	Status     model.Status `json:"status"`
	Count      int          `json:"count"`
}

// StatusCounts groups prospects by campaign and status.
func (s *Store) StatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT campaign_id, status, COUNT(*) FROM prospects
		GROUP BY campaign_id, status
		ORDER BY campaign_id, status
	`)
	if err != nil {
		return nil, fmt.Errorf("status counts: %w", err)
	}
	defer rows.Close()

	var out []StatusCount
	for rows.Next() {
		var c StatusCount
		var status string
		if err := rows.Scan(&c.CampaignID, &status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		c.Status = model.Status(status)
		out = append(out, c)
	}
	return out, rows.Err()
}

// ListSends returns a prospect's delivery log in step order.
func (s *Store) ListSends(ctx context.Context, prospectID string) ([]model.Send, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, prospect_id, campaign_id, identity_id, step, provider_ref, sent_at
		FROM sends WHERE prospect_id = ?
		ORDER BY step ASC, id ASC
	`, prospectID)
	if err != nil {
		return nil, fmt.Errorf("list sends: %w", err)
	}
	defer rows.Close()

	var out []model.Send
	for rows.Next() {
		var send model.Send
		var sentAt int64
		if err := rows.Scan(&send.ID, &send.ProspectID, &send.CampaignID, &send.IdentityID,
			&send.Step, &send.ProviderRef, &sentAt); err != nil {
			return nil, fmt.Errorf("scan send: %w", err)
		}
		send.SentAt = time.UnixMilli(sentAt).UTC()
		out = append(out, send)
	}
	return out, rows.Err()
}

// CountSends returns the number of logged deliveries, optionally for one
// identity since a given time.
func (s *Store) CountSends(ctx context.Context, identityID string, since time.Time) (int, error) {
	var n int
	err := s.queryRow(ctx, s.db, `
		SELECT COUNT(*) FROM sends
		WHERE (? = '' OR identity_id = ?) AND sent_at >= ?
	`, identityID, identityID, since.UnixMilli()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sends: %w", err)
	}
	return n, nil
}

// SignalRecord is one row of the signal log.
type SignalRecord struct {
	model.SignalEvent
	Effect     string    `json:"effect"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ListSignals returns a prospect's signal log in observation order.
func (s *Store) ListSignals(ctx context.Context, prospectID string) ([]SignalRecord, error) {
	rows, err := s.query(ctx, s.db, `
		SELECT id, prospect_id, kind, observed_at, source, effect, recorded_at
		FROM signals WHERE prospect_id = ?
		ORDER BY observed_at ASC, id ASC
	`, prospectID)
	if err != nil {
		return nil, fmt.Errorf("list signals: %w", err)
	}
	defer rows.Close()

	var out []SignalRecord
	for rows.Next() {
		var (
			r                      SignalRecord
			kind                   string
			observedAt, recordedAt int64
		)
		if err := rows.Scan(&r.ID, &r.ProspectID, &kind, &observedAt, &r.Source, &r.Effect, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		r.Kind = model.SignalKind(kind)
		r.ObservedAt = time.UnixMilli(observedAt).UTC()
		r.RecordedAt = time.UnixMilli(recordedAt).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}
