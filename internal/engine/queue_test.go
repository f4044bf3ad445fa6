package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/model"
)

func TestDequeueReady_NeverExceedsRemainingQuota(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(testCampaign("c1", "id-1", 0, 48*time.Hour), 3)
	for i := 0; i < 5; i++ {
		env.addProspect(fmt.Sprintf("p%d", i), c, queued)
	}

	claims, err := env.engine.DequeueReady(env.ctx, 10)
	require.NoError(t, err)

	require.Len(t, claims, 3)
	for i, claim := range claims {
		assert.Equal(t, fmt.Sprintf("p%d", i), claim.ProspectID)
		assert.Equal(t, "id-1", claim.IdentityID)
		assert.Equal(t, "c1", claim.CampaignID)
		assert.Equal(t, 0, claim.StepIndex)
		assert.NotEmpty(t, claim.LeaseID)
		requireTime(t, testNow.Add(DefaultLeaseTTL), claim.LeaseUntil)
	}

	id := env.identity("id-1")
	assert.Equal(t, 3, id.Reserved)
	assert.Equal(t, 0, id.ConsumedToday)
}

func TestDequeueReady_SkipsLiveLeases(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(testCampaign("c1", "id-1", 0), 10)
	env.addProspect("p1", c, queued)

	first, err := env.engine.DequeueReady(env.ctx, 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := env.engine.DequeueReady(env.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 1, env.identity("id-1").Reserved)
}

func TestDequeueReady_DefersOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	env.clock.Set(time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)) // Saturday
	c := env.seed(testCampaign("c1", "id-1", 0), 10)
	env.addProspect("p1", c, queued)

	claims, err := env.engine.DequeueReady(env.ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, claims)

	p := env.prospect("p1")
	assert.Equal(t, model.StatusQueued, p.Status)
	requireTime(t, mondayOpen, p.NextEligibleAt)
	assert.Equal(t, 0, env.identity("id-1").Reserved)
}

func TestDequeueReady_IgnoresFutureAndOtherStatuses(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(testCampaign("c1", "id-1", 0), 10)
	env.addProspect("later", c, queued, func(p *model.Prospect) {
		p.NextEligibleAt = testNow.Add(time.Hour)
	})
	env.addProspect("waiting", c, func(p *model.Prospect) {
		p.Status = model.StatusAwaitingNext
	})
	env.addProspect("ready", c, queued)

	claims, err := env.engine.DequeueReady(env.ctx, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "ready", claims[0].ProspectID)
}

func TestReleaseUnsent_FreesLeaseAndReservation(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(testCampaign("c1", "id-1", 0), 10)
	env.addProspect("p1", c, queued)

	claims, err := env.engine.DequeueReady(env.ctx, 10)
	require.NoError(t, err)
	require.Len(t, claims, 1)

	out := env.engine.releaseUnsent(env.ctx, claims[0], "test")
	assert.Equal(t, OutcomeAborted, out.Kind)
	assert.Equal(t, "test", out.Reason)

	p := env.prospect("p1")
	assert.Equal(t, model.StatusQueued, p.Status)
	assert.Empty(t, p.LeaseID)
	requireTime(t, testNow, p.NextEligibleAt)
	assert.Equal(t, 0, env.identity("id-1").Reserved)
}

func TestDispatchAll_CancelledContextReleasesClaims(t *testing.T) {
	env := newTestEnv(t)
	c := env.seed(testCampaign("c1", "id-1", 0), 10)
	for i := 0; i < 3; i++ {
		env.addProspect(fmt.Sprintf("p%d", i), c, queued)
	}
	campaigns, err := env.engine.loadCampaigns(env.ctx)
	require.NoError(t, err)
	claims, err := env.engine.DequeueReady(env.ctx, 10)
	require.NoError(t, err)
	require.Len(t, claims, 3)

	ctx, cancel := context.WithCancel(env.ctx)
	cancel()
	outcomes := env.engine.dispatchAll(ctx, campaigns, claims)

	require.Len(t, outcomes, 3)
	for _, out := range outcomes {
		assert.Equal(t, OutcomeAborted, out.Kind)
		assert.Contains(t, out.Reason, "pass stopped")
	}
	assert.Empty(t, env.provider.Sends())
	assert.Equal(t, 0, env.identity("id-1").Reserved)
	for i := 0; i < 3; i++ {
		p := env.prospect(fmt.Sprintf("p%d", i))
		assert.Equal(t, model.StatusQueued, p.Status)
		assert.Empty(t, p.LeaseID)
	}
}
