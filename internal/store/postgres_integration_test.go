//go:build integration

package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/roach88/cadence/internal/model"
)

func TestPostgresClaimSettleIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	s := startPostgresStore(t, ctx)
	c := seedCampaign(t, s, "acct", "q3", 3)
	for i := 0; i < 6; i++ {
		insertTestProspect(t, s, createTestProspect(fmt.Sprintf("p%d", i), c))
	}

	ready, err := s.ReadyProspects(ctx, testNow, 10)
	require.NoError(t, err)
	require.Len(t, ready, 6)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.ClaimProspect(ctx, fmt.Sprintf("p%d", i), fmt.Sprintf("l%d", i), testNow, time.Minute)
			if err != nil {
				assert.ErrorIs(t, err, ErrQuotaExhausted)
			}
		}(i)
	}
	wg.Wait()

	id, err := s.GetIdentity(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 3, id.Reserved)

	leased, err := s.ListProspects(ctx, ProspectFilter{CampaignID: "q3"})
	require.NoError(t, err)
	for _, p := range leased {
		if p.LeaseID == "" {
			continue
		}
		applied, err := s.Settle(ctx, Settlement{
			ProspectID: p.ID, LeaseID: p.LeaseID, Now: testNow,
			Sent:   &model.Send{ID: model.SendID(p.ID, 0), ProspectID: p.ID, CampaignID: "q3", IdentityID: "acct", SentAt: testNow},
			Status: model.StatusAwaitingNext, StepIndex: 1, NextEligibleAt: testNow.Add(48 * time.Hour),
		})
		require.NoError(t, err)
		assert.True(t, applied)
	}

	id, err = s.GetIdentity(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, 3, id.ConsumedToday)
	assert.Equal(t, 0, id.Reserved)
}

func TestPostgresRecordSignalIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	s := startPostgresStore(t, ctx)
	c := seedCampaign(t, s, "acct", "q3", 3)
	insertTestProspect(t, s, createTestProspect("p1", c))

	ev := model.NewSignalEvent("p1", model.SignalBounced, testNow, "amqp")
	stop := func(p *model.Prospect) (string, bool) {
		p.Status = model.StatusStopped
		p.TerminalReason = "bounced"
		return "stopped", true
	}
	res, err := s.RecordSignal(ctx, ev, testNow, stop)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = s.RecordSignal(ctx, ev, testNow, stop)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

func startPostgresStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	port := nat.Port("5432/tcp")
	dsnFor := func(host string, port nat.Port) string {
		return fmt.Sprintf("postgres://cadence:secret@%s:%s/cadence?sslmode=disable", host, port.Port())
	}
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"POSTGRES_USER":     "cadence",
			"POSTGRES_PASSWORD": "secret",
			"POSTGRES_DB":       "cadence",
		},
		WaitingFor: wait.ForSQL(port, DriverPostgres, dsnFor).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("resolve port: %v", err)
	}

	s, err := OpenDriver(DriverPostgres, dsnFor(host, mappedPort))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
