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

// ImportRecord is one contact to enroll in a campaign.
type ImportRecord struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	Identity  string `json:"identity,omitempty" yaml:"identity,omitempty"`
	FirstName string `json:"first_name,omitempty" yaml:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty" yaml:"last_name,omitempty"`
	Company   string `json:"company,omitempty" yaml:"company,omitempty"`
	Title     string `json:"title,omitempty" yaml:"title,omitempty"`
}

// ImportReport summarizes ImportProspects.
type ImportReport struct {
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Enriching  int      `json:"enriching"`
	Failed     int      `json:"failed"`
	IDs        []string `json:"ids"`
}

// ImportProspects enrolls records in a campaign. Each record is validated
// as it enters the ledger:
//
//   - a usable profile reference: validated, due now
//   - no reference but a name or company to search by: enriching
//   - nothing to go on: failed
//
// Re-importing a contact already in the campaign is counted as a
// duplicate and leaves the existing prospect alone.
func (e *Engine) ImportProspects(ctx context.Context, campaignID string, records []ImportRecord) (ImportReport, error) {
	var report ImportReport
	c, err := e.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, store.ErrNotFound) {
		return report, fmt.Errorf("import: campaign %s not found", campaignID)
	}
	if err != nil {
		return report, NewStoreError("read campaign", err)
	}

	now := e.clock.Now().UTC()
	for _, r := range records {
		p := newProspect(c, r, e.ids, now)
		inserted, err := e.store.InsertProspect(ctx, p)
		if err != nil {
			return report, NewStoreError("insert prospect", err)
		}
		if !inserted {
			report.Duplicates++
			continue
		}
		report.Inserted++
		report.IDs = append(report.IDs, p.ID)
		switch p.Status {
		case model.StatusEnriching:
			report.Enriching++
		case model.StatusFailed:
			report.Failed++
		}
	}

	e.logger.Info("prospects imported",
		"campaign", campaignID,
		"inserted", report.Inserted,
		"duplicates", report.Duplicates,
		"enriching", report.Enriching,
		"failed", report.Failed)
	return report, nil
}

// newProspect builds the ledger row for an import record.
func newProspect(c model.Campaign, r ImportRecord, ids IDGenerator, now time.Time) model.Prospect {
	raw := strings.TrimSpace(r.Identity)
	p := model.Prospect{
		ID:         strings.TrimSpace(r.ID),
		Identity:   model.NormalizeIdentity(raw),
		CampaignID: c.ID,
		IdentityID: c.IdentityID,
		Status:     model.StatusPending,
		FirstName:  strings.TrimSpace(r.FirstName),
		LastName:   strings.TrimSpace(r.LastName),
		Company:    strings.TrimSpace(r.Company),
		Title:      strings.TrimSpace(r.Title),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if p.ID == "" {
		p.ID = ids.Generate()
	}
	if model.IsProviderRef(raw) {
		p.ProviderRef = raw
	}

	switch {
	case p.Identity != "":
		p.Status = model.StatusValidated
		p.NextEligibleAt = now
	case p.FirstName != "" || p.LastName != "" || p.Company != "":
		p.Status = model.StatusEnriching
		p.NextEligibleAt = now
	default:
		p.Status = model.StatusFailed
		p.TerminalReason = "no contact data"
	}
	return p
}
