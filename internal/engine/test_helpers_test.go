package engine

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/calendar"
	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/store"
	"github.com/roach88/cadence/internal/testutil"
)

// testNow is Friday 2025-06-13 14:00 UTC, inside the default window.
var testNow = time.Date(2025, 6, 13, 14, 0, 0, 0, time.UTC)

// mondayOpen is the first window opening after testNow's weekend.
var mondayOpen = time.Date(2025, 6, 16, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	t        *testing.T
	ctx      context.Context
	store    *store.Store
	clock    *testutil.FakeClock
	provider *testutil.ScriptedProvider
	engine   *Engine
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv creates an engine over a fresh store, a fake clock frozen at
// testNow and a scripted provider.
func newTestEnv(t *testing.T, opts ...EngineOption) *testEnv {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	env := &testEnv{
		t:        t,
		ctx:      context.Background(),
		store:    s,
		clock:    testutil.NewFakeClock(testNow),
		provider: testutil.NewScriptedProvider(),
	}
	env.engine = env.newEngine(opts...)
	return env
}

// newEngine builds another engine over the same store, clock and provider.
func (env *testEnv) newEngine(opts ...EngineOption) *Engine {
	base := []EngineOption{
		WithClock(env.clock),
		WithIDGenerator(NewSequenceGenerator("id")),
		WithLogger(discardLogger()),
	}
	return New(env.store, env.provider, append(base, opts...)...)
}

// testCampaign is a campaign on the default calendar with one step per
// delay. Step 0 greets by first name; later steps follow up.
func testCampaign(id, identityID string, delays ...time.Duration) model.Campaign {
	seq := model.NewSequence(delays...)
	for i := range seq.Steps {
		if i == 0 {
			seq.Steps[i].Template = "Hi {first_name}"
		} else {
			seq.Steps[i].Template = "Following up, {first_name}"
		}
	}
	return model.Campaign{
		ID:         id,
		IdentityID: identityID,
		Sequence:   seq,
		Calendar:   calendar.DefaultConfig(),
		MaxRetries: model.DefaultMaxRetries,
	}
}

// seed stores an identity with the given quota and the campaign.
func (env *testEnv) seed(c model.Campaign, quota int) model.Campaign {
	env.t.Helper()
	require.NoError(env.t, env.store.UpsertIdentity(env.ctx, model.SendingIdentity{
		ID:         c.IdentityID,
		DailyQuota: quota,
		Active:     true,
	}, env.clock.Now()))
	require.NoError(env.t, env.store.UpsertCampaign(env.ctx, c, env.clock.Now()))
	return c
}

// addProspect inserts a validated prospect due now. mutators adjust it
// before the insert.
func (env *testEnv) addProspect(id string, c model.Campaign, mutators ...func(*model.Prospect)) model.Prospect {
	env.t.Helper()
	now := env.clock.Now()
	p := model.Prospect{
		ID:             id,
		Identity:       "contact-" + id,
		CampaignID:     c.ID,
		IdentityID:     c.IdentityID,
		Status:         model.StatusValidated,
		NextEligibleAt: now,
		FirstName:      "Ada",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, m := range mutators {
		m(&p)
	}
	inserted, err := env.store.InsertProspect(env.ctx, p)
	require.NoError(env.t, err)
	require.True(env.t, inserted, "prospect %s already exists", id)
	return p
}

func queued(p *model.Prospect) { p.Status = model.StatusQueued }

func (env *testEnv) prospect(id string) model.Prospect {
	env.t.Helper()
	p, err := env.store.GetProspect(env.ctx, id)
	require.NoError(env.t, err)
	return p
}

func (env *testEnv) identity(id string) model.SendingIdentity {
	env.t.Helper()
	i, err := env.store.GetIdentity(env.ctx, id)
	require.NoError(env.t, err)
	return i
}

func (env *testEnv) pass() PassReport {
	env.t.Helper()
	report, err := env.engine.RunPass(env.ctx, PassOptions{})
	require.NoError(env.t, err)
	return report
}

// mustCalendar compiles cfg and fails the test on error.
func mustCalendar(t *testing.T, cfg calendar.Config) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(cfg)
	require.NoError(t, err)
	return cal
}

// fixedDelay waits the same duration before every retry.
func fixedDelay(d time.Duration) DelayFunc {
	return func(int) time.Duration { return d }
}

func requireTime(t *testing.T, want, got time.Time) {
	t.Helper()
	require.True(t, want.Equal(got), "want %s, got %s", want, got)
}
