package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/calendar"
	"github.com/roach88/cadence/internal/model"
)

// testNow is a Friday afternoon, well inside default business hours.
var testNow = time.Date(2025, 6, 13, 14, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedCampaign stores an identity with the given quota and a two-step
// campaign sending through it.
func seedCampaign(t *testing.T, s *Store, identityID, campaignID string, quota int) model.Campaign {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertIdentity(ctx, model.SendingIdentity{
		ID:         identityID,
		DailyQuota: quota,
		Active:     true,
	}, testNow))

	c := model.Campaign{
		ID:            campaignID,
		IdentityID:    identityID,
		Sequence:      model.NewSequence(0, 48*time.Hour),
		Calendar:      calendar.DefaultConfig(),
		MaxRetries:    model.DefaultMaxRetries,
		OneStepPerDay: true,
	}
	require.NoError(t, s.UpsertCampaign(ctx, c, testNow))
	return c
}

// createTestProspect creates a queued prospect due at testNow.
func createTestProspect(id string, c model.Campaign) model.Prospect {
	return model.Prospect{
		ID:             id,
		Identity:       "contact-" + id,
		CampaignID:     c.ID,
		IdentityID:     c.IdentityID,
		Status:         model.StatusQueued,
		NextEligibleAt: testNow,
		FirstName:      "Ada",
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
}

// insertTestProspect inserts p and fails the test if it was not new.
func insertTestProspect(t *testing.T, s *Store, p model.Prospect) {
	t.Helper()
	inserted, err := s.InsertProspect(context.Background(), p)
	require.NoError(t, err)
	require.True(t, inserted, "prospect %s already present", p.ID)
}
