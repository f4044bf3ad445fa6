package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/cadence/internal/model"
)

// ErrInactive means the sending identity is disabled.
var ErrInactive = errors.New("identity inactive")

// UpsertIdentity inserts a sending identity or updates its configuration.
// Live counters (consumed, reserved, window reset) are never overwritten.
func (s *Store) UpsertIdentity(ctx context.Context, id model.SendingIdentity, now time.Time) error {
	window := id.Window
	if window <= 0 {
		window = model.DefaultQuotaWindow
	}
	_, err := s.exec(ctx, s.db, `
		INSERT INTO identities
		(id, name, daily_quota, consumed_today, reserved, window_ms, window_reset_at, active, updated_at)
		VALUES (?, ?, ?, 0, 0, ?, NULL, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			daily_quota = excluded.daily_quota,
			window_ms = excluded.window_ms,
			active = excluded.active,
			updated_at = excluded.updated_at
	`,
		id.ID,
		id.Name,
		id.DailyQuota,
		window.Milliseconds(),
		boolInt(id.Active),
		now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert identity %s: %w", id.ID, err)
	}
	return nil
}

// UpsertCampaign inserts or replaces a campaign definition.
// The owning identity must already exist (foreign key constraint).
func (s *Store) UpsertCampaign(ctx context.Context, c model.Campaign, now time.Time) error {
	def, err := marshalCampaign(c)
	if err != nil {
		return fmt.Errorf("upsert campaign %s: %w", c.ID, err)
	}
	_, err = s.exec(ctx, s.db, `
		INSERT INTO campaigns (id, name, identity_id, definition, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			identity_id = excluded.identity_id,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`, c.ID, c.Name, c.IdentityID, def, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("upsert campaign %s: %w", c.ID, err)
	}
	return nil
}

// InsertProspect adds a prospect to the ledger.
// Uses ON CONFLICT DO NOTHING for idempotency: re-importing the same contact
// into the same campaign is silently ignored and reported as not inserted.
func (s *Store) InsertProspect(ctx context.Context, p model.Prospect) (bool, error) {
	if p.Version == 0 {
		p.Version = 1
	}
	res, err := s.exec(ctx, s.db, `
		INSERT INTO prospects (`+prospectColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		p.ID, p.CampaignID, p.IdentityID, p.Identity, string(p.Status), p.StepIndex,
		toMillis(p.LastStepSentAt), toMillis(p.NextEligibleAt), p.TerminalReason, p.ProviderRef,
		p.FirstName, p.LastName, p.Company, p.Title, p.Attempts, p.EnrichAttempts,
		nullString(p.LeaseID), toMillis(p.LeaseUntil), toMillis(p.RepliedAt), toMillis(p.ConnectedAt),
		p.Version, p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return false, fmt.Errorf("insert prospect %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert prospect %s: %w", p.ID, err)
	}
	return n == 1, nil
}

// UpdateProspect writes every mutable column of p if the stored version
// still equals p.Version, and returns the row as written. A stale version
// returns ErrConflict.
func (s *Store) UpdateProspect(ctx context.Context, p model.Prospect, now time.Time) (model.Prospect, error) {
	if err := s.writeProspect(ctx, s.db, &p, now); err != nil {
		return model.Prospect{}, err
	}
	return p, nil
}

// writeProspect is the compare-and-set update shared by every prospect
// mutation. On success p.Version and p.UpdatedAt reflect the stored row.
func (s *Store) writeProspect(ctx context.Context, q queryer, p *model.Prospect, now time.Time) error {
	res, err := s.exec(ctx, q, `
		UPDATE prospects SET
			identity = ?, status = ?, step_index = ?, last_step_sent_at = ?,
			next_eligible_at = ?, terminal_reason = ?, provider_ref = ?,
			first_name = ?, last_name = ?, company = ?, title = ?,
			attempts = ?, enrich_attempts = ?, lease_id = ?, lease_until = ?,
			replied_at = ?, connected_at = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`,
		p.Identity, string(p.Status), p.StepIndex, toMillis(p.LastStepSentAt),
		toMillis(p.NextEligibleAt), p.TerminalReason, p.ProviderRef,
		p.FirstName, p.LastName, p.Company, p.Title,
		p.Attempts, p.EnrichAttempts, nullString(p.LeaseID), toMillis(p.LeaseUntil),
		toMillis(p.RepliedAt), toMillis(p.ConnectedAt), now.UnixMilli(),
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("update prospect %s: %w", p.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update prospect %s: %w", p.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update prospect %s at version %d: %w", p.ID, p.Version, ErrConflict)
	}
	p.Version++
	p.UpdatedAt = now.UTC().Truncate(time.Millisecond)
	return nil
}

// PromoteDue moves every due validated or post-send prospect to queued.
// The status predicate in the WHERE clause is the compare-and-set: a row a
// signal has already stopped is not touched.
func (s *Store) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.exec(ctx, s.db, `
		UPDATE prospects
		SET status = 'queued', version = version + 1, updated_at = ?
		WHERE status IN ('validated', 'awaiting_next', 'replied', 'connected')
		  AND next_eligible_at IS NOT NULL AND next_eligible_at <= ?
	`, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("promote due prospects: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("promote due prospects: %w", err)
	}
	return n, nil
}

// ClaimProspect takes the lease on a queued prospect and reserves one slot
// of its identity's quota in a single transaction: either both happen or
// neither. The identity window is rolled forward first.
//
// Returns ErrConflict if the prospect is not queued or holds a live lease,
// ErrQuotaExhausted if the identity has no free slot and ErrInactive if the
// identity is disabled. A prospect whose previous lease expired without
// being reaped keeps that lease's reservation.
func (s *Store) ClaimProspect(ctx context.Context, prospectID, leaseID string, now time.Time, ttl time.Duration) (model.Claim, error) {
	var claim model.Claim
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.getProspect(ctx, tx, prospectID, true)
		if err != nil {
			return err
		}
		if p.Status != model.StatusQueued || p.Leased(now) {
			return fmt.Errorf("claim %s (status %s): %w", p.ID, p.Status, ErrConflict)
		}

		id, err := s.getIdentity(ctx, tx, p.IdentityID, true)
		if err != nil {
			return err
		}
		if !id.Active {
			return fmt.Errorf("claim %s: identity %s: %w", p.ID, id.ID, ErrInactive)
		}
		rolled := id.Rolled(now)
		if p.LeaseID == "" {
			if rolled.Remaining() <= 0 {
				return fmt.Errorf("claim %s: identity %s: %w", p.ID, id.ID, ErrQuotaExhausted)
			}
			rolled.Reserved++
		}
		if err := s.writeIdentityCounters(ctx, tx, rolled); err != nil {
			return err
		}

		p.LeaseID = leaseID
		p.LeaseUntil = now.Add(ttl)
		if err := s.writeProspect(ctx, tx, &p, now); err != nil {
			return err
		}

		claim = model.Claim{
			QueueEntry: model.QueueEntry{
				ProspectID: p.ID,
				IdentityID: p.IdentityID,
				EligibleAt: p.NextEligibleAt,
			},
			CampaignID: p.CampaignID,
			LeaseID:    leaseID,
			LeaseUntil: p.LeaseUntil,
			StepIndex:  p.StepIndex,
		}
		return nil
	})
	if err != nil {
		return model.Claim{}, err
	}
	return claim, nil
}

// writeIdentityCounters stores the live quota counters of id.
func (s *Store) writeIdentityCounters(ctx context.Context, q queryer, id model.SendingIdentity) error {
	_, err := s.exec(ctx, q, `
		UPDATE identities
		SET consumed_today = ?, reserved = ?, window_reset_at = ?
		WHERE id = ?
	`, id.ConsumedToday, id.Reserved, toMillis(id.WindowResetAt), id.ID)
	if err != nil {
		return fmt.Errorf("update identity %s: %w", id.ID, err)
	}
	return nil
}

// Settlement is the outcome of one dispatch, applied when its claim is
// released.
type Settlement struct {
	ProspectID string
	LeaseID    string
	Now        time.Time

	// Sent is non-nil when the provider accepted the step. Its quota slot
	// moves from reserved to consumed and it is appended to the send log.
	Sent *model.Send

	// Fields written when the prospect is still queued under this lease.
	Status         model.Status
	StepIndex      int
	NextEligibleAt time.Time
	LastStepSentAt time.Time
	Attempts       int
	EnrichAttempts int
	TerminalReason string
	ProviderRef    string
}

// Settle releases a claim and records the dispatch outcome in one
// transaction. The reserved slot is either consumed (Sent != nil) or freed.
//
// It returns true when the new state was written. It returns false when a
// signal moved the prospect while the claim was held: the lease is still
// cleared and a delivered step is still logged, but the status set by the
// signal wins. If the lease was already reaped, a delivered step is
// logged, counted only while the identity is under quota, and ErrLeaseLost
// is returned.
func (s *Store) Settle(ctx context.Context, st Settlement) (bool, error) {
	var applied, lost bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.getProspect(ctx, tx, st.ProspectID, true)
		if err != nil {
			return err
		}
		held := st.LeaseID != "" && p.LeaseID == st.LeaseID

		if held || st.Sent != nil {
			id, err := s.getIdentity(ctx, tx, p.IdentityID, true)
			if err != nil {
				return err
			}
			rolled := id.Rolled(st.Now)
			if held && rolled.Reserved > 0 {
				rolled.Reserved--
			}
			// A send settled after its lease was reaped is still logged, but
			// the counter never passes the quota.
			if st.Sent != nil && (held || rolled.ConsumedToday < rolled.DailyQuota) {
				rolled.ConsumedToday++
			}
			if err := s.writeIdentityCounters(ctx, tx, rolled); err != nil {
				return err
			}
		}

		if st.Sent != nil {
			if err := s.insertSend(ctx, tx, *st.Sent); err != nil {
				return err
			}
		}

		if !held {
			lost = true
			return nil
		}

		p.LeaseID = ""
		p.LeaseUntil = time.Time{}
		if p.Status == model.StatusQueued {
			p.Status = st.Status
			p.StepIndex = st.StepIndex
			p.NextEligibleAt = st.NextEligibleAt
			p.Attempts = st.Attempts
			p.EnrichAttempts = st.EnrichAttempts
			p.TerminalReason = st.TerminalReason
			if !st.LastStepSentAt.IsZero() {
				p.LastStepSentAt = st.LastStepSentAt
			}
			if st.ProviderRef != "" {
				p.ProviderRef = st.ProviderRef
			}
			applied = true
		} else if st.Sent != nil {
			p.LastStepSentAt = st.Sent.SentAt
			if st.ProviderRef != "" {
				p.ProviderRef = st.ProviderRef
			}
		}
		return s.writeProspect(ctx, tx, &p, st.Now)
	})
	if err != nil {
		return false, fmt.Errorf("settle %s: %w", st.ProspectID, err)
	}
	if lost {
		return false, fmt.Errorf("settle %s: %w", st.ProspectID, ErrLeaseLost)
	}
	return applied, nil
}

// RenewLease extends a claim lease to now+ttl and returns the new
// deadline. It fails with ErrLeaseLost when leaseID no longer holds the
// prospect or its lease has already expired at now.
func (s *Store) RenewLease(ctx context.Context, prospectID, leaseID string, now time.Time, ttl time.Duration) (time.Time, error) {
	var until time.Time
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.getProspect(ctx, tx, prospectID, true)
		if err != nil {
			return err
		}
		if leaseID == "" || p.LeaseID != leaseID || !p.LeaseUntil.After(now) {
			return ErrLeaseLost
		}
		p.LeaseUntil = now.Add(ttl)
		if err := s.writeProspect(ctx, tx, &p, now); err != nil {
			return err
		}
		until = p.LeaseUntil
		return nil
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("renew lease %s: %w", prospectID, err)
	}
	return until, nil
}

func (s *Store) insertSend(ctx context.Context, q queryer, send model.Send) error {
	_, err := s.exec(ctx, q, `
		INSERT INTO sends (id, prospect_id, campaign_id, identity_id, step, provider_ref, sent_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, send.ID, send.ProspectID, send.CampaignID, send.IdentityID, send.Step, send.ProviderRef, send.SentAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert send %s: %w", send.ID, err)
	}
	return nil
}

// ReapExpiredLeases clears every lease whose deadline has passed and frees
// the quota slot it reserved, making the prospect claimable again.
func (s *Store) ReapExpiredLeases(ctx context.Context, now time.Time) (int, error) {
	type expired struct{ id, identityID string }
	var reaped int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := s.query(ctx, tx, `
			SELECT id, identity_id FROM prospects
			WHERE lease_id IS NOT NULL AND lease_until <= ?
			ORDER BY id`+s.dialect.forUpdate(), now.UnixMilli())
		if err != nil {
			return fmt.Errorf("select expired leases: %w", err)
		}
		var found []expired
		for rows.Next() {
			var e expired
			if err := rows.Scan(&e.id, &e.identityID); err != nil {
				rows.Close()
				return fmt.Errorf("scan expired lease: %w", err)
			}
			found = append(found, e)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}

		for _, e := range found {
			if _, err := s.exec(ctx, tx, `
				UPDATE prospects
				SET lease_id = NULL, lease_until = NULL, version = version + 1, updated_at = ?
				WHERE id = ?
			`, now.UnixMilli(), e.id); err != nil {
				return fmt.Errorf("clear lease %s: %w", e.id, err)
			}
			if _, err := s.exec(ctx, tx, `
				UPDATE identities SET reserved = reserved - 1
				WHERE id = ? AND reserved > 0
			`, e.identityID); err != nil {
				return fmt.Errorf("release reservation %s: %w", e.identityID, err)
			}
		}
		reaped = len(found)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("reap expired leases: %w", err)
	}
	return reaped, nil
}

// SignalMutation decides how a signal changes a prospect. It edits p in
// place and returns the effect recorded in the signal log and whether p
// changed. It runs inside the recording transaction and must not block.
type SignalMutation func(p *model.Prospect) (effect string, changed bool)

// SignalResult reports what RecordSignal did.
type SignalResult struct {
	Duplicate bool
	Effect    string
	Prospect  model.Prospect
}

// RecordSignal appends ev to the signal log and applies mutate to its
// prospect in the same transaction. An event whose ID is already logged is
// a no-op reported as Duplicate: each observation is applied at most once.
//
// A claim lease held by the prospect is left for its owner to settle; the
// status change alone makes the owner's pre-send check fail.
func (s *Store) RecordSignal(ctx context.Context, ev model.SignalEvent, now time.Time, mutate SignalMutation) (SignalResult, error) {
	var result SignalResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		p, err := s.getProspect(ctx, tx, ev.ProspectID, true)
		if err != nil {
			return err
		}

		res, err := s.exec(ctx, tx, `
			INSERT INTO signals (id, prospect_id, kind, observed_at, source, effect, recorded_at)
			VALUES (?, ?, ?, ?, ?, '', ?)
			ON CONFLICT DO NOTHING
		`, ev.ID, ev.ProspectID, string(ev.Kind), ev.ObservedAt.UnixMilli(), ev.Source, now.UnixMilli())
		if err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert signal: %w", err)
		}
		if n == 0 {
			result = SignalResult{Duplicate: true, Prospect: p}
			return nil
		}

		effect, changed := mutate(&p)
		if changed {
			if err := s.writeProspect(ctx, tx, &p, now); err != nil {
				return err
			}
		}
		if _, err := s.exec(ctx, tx, `UPDATE signals SET effect = ? WHERE id = ?`, effect, ev.ID); err != nil {
			return fmt.Errorf("record signal effect: %w", err)
		}
		result = SignalResult{Effect: effect, Prospect: p}
		return nil
	})
	if err != nil {
		return SignalResult{}, fmt.Errorf("record signal %s: %w", ev.ID, err)
	}
	return result, nil
}
