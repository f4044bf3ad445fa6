package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/model"
	"github.com/roach88/cadence/internal/testutil"
)

// passTime is a Friday inside the default 09:00-17:00 UTC window, later
// than any import made by these tests.
var passTime = time.Date(2030, 6, 14, 10, 0, 0, 0, time.UTC)

// seeded returns options for a database holding the testdata config and
// prospect list.
func seeded(t *testing.T) *RootOptions {
	t.Helper()
	opts := tempDB(t, "text")

	out, _, err := execute(NewSyncCommand(opts), configDir)
	require.NoError(t, err)
	require.Equal(t, "✓ Synced 2 identities, 2 campaigns\n", out)

	out, _, err = execute(NewImportCommand(opts), prospectFile)
	require.NoError(t, err)
	require.Equal(t, "Imported into intro: 4 inserted, 0 duplicates, 1 enriching, 1 failed\n", out)
	return opts
}

func runPassAt(t *testing.T, opts *RootOptions, at time.Time) engine.PassReport {
	t.Helper()
	jsonOpts := *opts
	jsonOpts.Format = "json"
	cmd := newPassCommand(&PassOptions{
		RootOptions: &jsonOpts,
		Clock:       testutil.NewFakeClock(at),
	})
	out, _, err := execute(cmd)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   engine.PassReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func TestSyncJSON(t *testing.T) {
	opts := tempDB(t, "json")
	out, _, err := execute(NewSyncCommand(opts), configDir)
	require.NoError(t, err)

	var resp struct {
		Data SyncResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.ElementsMatch(t, []string{"sdr-1", "sdr-2"}, resp.Data.Identities)
	assert.ElementsMatch(t, []string{"intro", "dach-founders"}, resp.Data.Campaigns)
}

func TestSyncIsAllOrNothing(t *testing.T) {
	opts := tempDB(t, "text")
	_, _, err := execute(NewSyncCommand(opts), invalidDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	// Nothing was written, so the database file was never created.
	_, statErr := os.Stat(opts.Database)
	assert.True(t, os.IsNotExist(statErr))
}

func TestSyncKeepsQuotaCounters(t *testing.T) {
	opts := seeded(t)
	report := runPassAt(t, opts, passTime)
	require.Equal(t, 2, report.Counts[engine.OutcomeSent])

	_, _, err := execute(NewSyncCommand(opts), configDir)
	require.NoError(t, err)

	st, err := opts.openStore()
	require.NoError(t, err)
	defer st.Close()
	id, err := st.GetIdentity(context.Background(), "sdr-1")
	require.NoError(t, err)
	assert.Equal(t, 2, id.ConsumedToday)
}

func TestImportDuplicates(t *testing.T) {
	opts := seeded(t)

	out, _, err := execute(NewImportCommand(opts), prospectFile)
	require.NoError(t, err)
	assert.Equal(t, "Imported into intro: 0 inserted, 4 duplicates, 0 enriching, 0 failed\n", out)
}

func TestImportErrors(t *testing.T) {
	opts := seeded(t)
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	tests := []struct {
		name     string
		args     []string
		wantCode string
	}{
		{"missing file", []string{filepath.Join(dir, "nope.yaml")}, ErrCodeNotFound},
		{"unknown field", []string{write("typo.yaml", "campaign: intro\nprospect: []\n")}, ErrCodeInput},
		{"no prospects", []string{write("empty.yaml", "campaign: intro\nprospects: []\n")}, ErrCodeInput},
		{"no campaign", []string{write("nocampaign.yaml", "prospects: [{identity: jane}]\n")}, ErrCodeInput},
		{"unknown campaign", []string{"--campaign", "nope", prospectFile}, ErrCodeInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(NewImportCommand(opts), tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.wantCode)
		})
	}
}

func TestParseProspectFile(t *testing.T) {
	f, err := ParseProspectFile([]byte(`
campaign: intro
prospects:
  - identity: linkedin.com/in/Ada-L
    first_name: Ada
    title: Analyst
`))
	require.NoError(t, err)
	assert.Equal(t, "intro", f.Campaign)
	require.Len(t, f.Prospects, 1)
	assert.Equal(t, "Analyst", f.Prospects[0].Title)

	_, err = ParseProspectFile(nil)
	assert.ErrorContains(t, err, "empty")
}

func TestPassDispatchesImportedProspects(t *testing.T) {
	opts := seeded(t)

	report := runPassAt(t, opts, passTime)
	assert.NotEmpty(t, report.PassID)
	assert.Equal(t, 2, report.Claimed)
	assert.Equal(t, 2, report.Counts[engine.OutcomeSent])
	assert.Equal(t, 1, report.EnrichFailed)

	refs := map[string]string{}
	for _, o := range report.Outcomes {
		refs[o.ProspectID] = o.ProviderRef
	}
	assert.Equal(t, map[string]string{"p-jane": "dry:jane-doe", "p-bob": "dry:bob-smith"}, refs)

	// Step 1 is three days out, so an immediate second pass sends nothing.
	again := runPassAt(t, opts, passTime.Add(time.Minute))
	assert.Zero(t, again.Claimed)
}

func TestPassTextReport(t *testing.T) {
	opts := seeded(t)
	cmd := newPassCommand(&PassOptions{
		RootOptions: opts,
		Clock:       testutil.NewFakeClock(passTime),
	})
	out, _, err := execute(cmd, "--max-batch", "1")
	require.NoError(t, err)

	assert.Contains(t, out, "claimed 1")
	assert.Contains(t, out, "sent")
	assert.Contains(t, out, "step 0: sent")
}

func TestPassOpenStoreFailure(t *testing.T) {
	opts := &RootOptions{Format: "text", Database: filepath.Join(t.TempDir(), "missing", "dir", "x.db")}
	out, _, err := execute(NewPassCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E008]")
}

func TestPassRejectsShortLeaseTTL(t *testing.T) {
	opts := seeded(t)

	out, _, err := execute(NewPassCommand(opts), "--lease-ttl", "10s")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E009]")
	assert.Contains(t, out, "--lease-ttl 10s")

	_, _, err = execute(NewPassCommand(opts), "--send-timeout", "1s", "--lease-ttl", "2s")
	require.Error(t, err, "the lease must outlast two provider calls")

	report := runPassAt(t, opts, passTime)
	assert.Equal(t, 2, report.Claimed, "rejected runs claim nothing")
}

func TestSignalCommand(t *testing.T) {
	opts := seeded(t)
	runPassAt(t, opts, passTime)

	out, _, err := execute(NewSignalCommand(opts), "p-jane", "replied", "--at", "2030-06-14T11:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "p-jane: replied stopped, now stopped\n", out)

	out, _, err = execute(NewSignalCommand(opts), "p-jane", "replied", "--at", "2030-06-14T11:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, "p-jane: signal already recorded (stopped)\n", out)

	_, _, err = execute(NewSignalCommand(opts), "p-nobody", "replied")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "signal rejected")

	_, _, err = execute(NewSignalCommand(opts), "p-jane", "liked")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, _, err = execute(NewSignalCommand(opts), "p-jane", "replied", "--at", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --at")
}

func TestStatusCommand(t *testing.T) {
	opts := seeded(t)
	runPassAt(t, opts, passTime)
	_, _, err := execute(NewSignalCommand(opts), "p-jane", "replied", "--at", "2030-06-14T11:00:00Z")
	require.NoError(t, err)

	jsonOpts := *opts
	jsonOpts.Format = "json"
	cmd := newStatusCommand(&StatusOptions{
		RootOptions: &jsonOpts,
		Now:         func() time.Time { return passTime.Add(2 * time.Hour) },
	})
	out, _, err := execute(cmd)
	require.NoError(t, err)

	var resp struct {
		Data StatusReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))

	require.Len(t, resp.Data.Identities, 2)
	sdr1 := resp.Data.Identities[0]
	assert.Equal(t, "sdr-1", sdr1.ID)
	assert.Equal(t, 2, sdr1.ConsumedToday)
	assert.Equal(t, 23, sdr1.Remaining)
	assert.False(t, resp.Data.Identities[1].Active)

	var intro CampaignStatus
	for _, c := range resp.Data.Campaigns {
		if c.CampaignID == "intro" {
			intro = c
		}
	}
	assert.Equal(t, 4, intro.Total)
	assert.Equal(t, 1, intro.Statuses[string(model.StatusStopped)])
	assert.Equal(t, 1, intro.Statuses[string(model.StatusAwaitingNext)])
	assert.Equal(t, 1, intro.Statuses[string(model.StatusFailed)])
}

func TestStatusTextOnEmptyDatabase(t *testing.T) {
	out, _, err := execute(NewStatusCommand(tempDB(t, "text")))
	require.NoError(t, err)
	assert.Equal(t, "Identities:\n  (none)\nCampaigns:\n  (none)\n", out)
}

// fakeSource hands out one batch and then nothing.
type fakeSource struct {
	batch  []engine.Delivery
	acked  []string
	reject []bool
}

func (f *fakeSource) Fetch(ctx context.Context) ([]engine.Delivery, error) {
	batch := f.batch
	f.batch = nil
	return batch, nil
}

func (f *fakeSource) delivery(prospectID string, kind model.SignalKind, at time.Time) engine.Delivery {
	return engine.Delivery{
		Event:  model.NewSignalEvent(prospectID, kind, at, "test"),
		Ack:    func() error { f.acked = append(f.acked, prospectID); return nil },
		Reject: func(requeue bool) error { f.reject = append(f.reject, requeue); return nil },
	}
}

func TestListenOnce(t *testing.T) {
	opts := seeded(t)
	runPassAt(t, opts, passTime)

	src := &fakeSource{}
	at := passTime.Add(time.Hour)
	src.batch = []engine.Delivery{
		src.delivery("p-bob", model.SignalConnected, at),
		src.delivery("p-bob", model.SignalConnected, at),
		src.delivery("p-nobody", model.SignalReplied, at),
	}

	jsonOpts := *opts
	jsonOpts.Format = "json"
	cmd := newListenCommand(&ListenOptions{RootOptions: &jsonOpts, Source: src})
	out, _, err := execute(cmd, "--once")
	require.NoError(t, err)

	var resp struct {
		Data engine.ListenReport `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, engine.ListenReport{Received: 3, Applied: 1, Duplicates: 1, Rejected: 1}, resp.Data)
	assert.Equal(t, []string{"p-bob", "p-bob"}, src.acked)
	assert.Equal(t, []bool{false}, src.reject)
}

func TestListenRequiresSource(t *testing.T) {
	out, _, err := execute(NewListenCommand(tempDB(t, "text")), "--once")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "one of --amqp-url or --poll is required")
}

func TestListenPollOnce(t *testing.T) {
	opts := seeded(t)

	out, _, err := execute(NewListenCommand(opts), "--poll", "--once")
	require.NoError(t, err)
	assert.Equal(t, "Signals: 0 received, 0 applied, 0 duplicates, 0 rejected, 0 failed\n", out)
}
