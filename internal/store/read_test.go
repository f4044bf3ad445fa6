package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/model"
)

func TestGetProspect_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetProspect(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetIdentity(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetProspect_RoundTripsTimes(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "acct", "q3", 5)

	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	p := createTestProspect("p1", c)
	p.LastStepSentAt = testNow.In(ny)
	p.RepliedAt = testNow.Add(time.Hour)
	insertTestProspect(t, s, p)

	got, err := s.GetProspect(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, got.LastStepSentAt.Equal(testNow))
	assert.Equal(t, time.UTC, got.LastStepSentAt.Location())
	assert.Equal(t, testNow.Add(time.Hour), got.RepliedAt)
	assert.True(t, got.ConnectedAt.IsZero(), "NULL reads back as the zero time")
	assert.True(t, got.LeaseUntil.IsZero())
}

func TestReadyProspects_OrderAndFilter(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "acct", "q3", 5)

	early := createTestProspect("b-early", c)
	early.NextEligibleAt = testNow.Add(-time.Hour)
	insertTestProspect(t, s, early)

	tieA := createTestProspect("a-tie", c)
	insertTestProspect(t, s, tieA)
	tieC := createTestProspect("c-tie", c)
	insertTestProspect(t, s, tieC)

	future := createTestProspect("future", c)
	future.NextEligibleAt = testNow.Add(time.Minute)
	insertTestProspect(t, s, future)

	waiting := createTestProspect("waiting", c)
	waiting.Status = model.StatusAwaitingNext
	insertTestProspect(t, s, waiting)

	leased := createTestProspect("leased", c)
	insertTestProspect(t, s, leased)
	_, err := s.ClaimProspect(ctx, "leased", "l1", testNow, time.Minute)
	require.NoError(t, err)

	ready, err := s.ReadyProspects(ctx, testNow, 10)
	require.NoError(t, err)
	ids := make([]string, len(ready))
	for i, p := range ready {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"b-early", "a-tie", "c-tie"}, ids)

	limited, err := s.ReadyProspects(ctx, testNow, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDueEnrichment(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "acct", "q3", 5)

	due := createTestProspect("due", c)
	due.Status = model.StatusEnriching
	due.Identity = ""
	insertTestProspect(t, s, due)

	later := createTestProspect("later", c)
	later.Status = model.StatusEnriching
	later.Identity = ""
	later.NextEligibleAt = testNow.Add(time.Hour)
	insertTestProspect(t, s, later)

	got, err := s.DueEnrichment(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "due", got[0].ID)
}

func TestFindProspect(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "acct", "q3", 5)

	p := createTestProspect("p1", c)
	p.ProviderRef = "ACoAAA1"
	insertTestProspect(t, s, p)

	byRef, err := s.FindProspect(ctx, "acct", "ACoAAA1")
	require.NoError(t, err)
	assert.Equal(t, "p1", byRef.ID)

	byIdentity, err := s.FindProspect(ctx, "acct", "contact-p1")
	require.NoError(t, err)
	assert.Equal(t, "p1", byIdentity.ID)

	_, err = s.FindProspect(ctx, "other", "ACoAAA1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStatusCountsAndCountSends(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s, "acct", "q3", 5)

	insertTestProspect(t, s, createTestProspect("p1", c))
	insertTestProspect(t, s, createTestProspect("p2", c))
	done := createTestProspect("p3", c)
	done.Status = model.StatusCompleted
	insertTestProspect(t, s, done)

	counts, err := s.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusCount{
		{CampaignID: "q3", Status: model.StatusCompleted, Count: 1},
		{CampaignID: "q3", Status: model.StatusQueued, Count: 2},
	}, counts)

	_, err = s.ClaimProspect(ctx, "p1", "l1", testNow, time.Minute)
	require.NoError(t, err)
	_, err = s.Settle(ctx, Settlement{
		ProspectID: "p1", LeaseID: "l1", Now: testNow,
		Sent:   &model.Send{ID: model.SendID("p1", 0), ProspectID: "p1", CampaignID: "q3", IdentityID: "acct", SentAt: testNow},
		Status: model.StatusAwaitingNext, StepIndex: 1,
	})
	require.NoError(t, err)

	n, err := s.CountSends(ctx, "acct", testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountSends(ctx, "", testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestListCampaignsAndIdentities(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedCampaign(t, s, "acct-b", "q4", 3)
	seedCampaign(t, s, "acct-a", "q3", 5)

	campaigns, err := s.ListCampaigns(ctx)
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "q3", campaigns[0].ID)

	identities, err := s.ListIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, identities, 2)
	assert.Equal(t, "acct-a", identities[0].ID)
	assert.True(t, identities[0].Active)
}
