package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapflow/internal/dispatch"
	"zapflow/internal/lock"
	"zapflow/internal/models"
	"zapflow/internal/queue"
	"zapflow/internal/store"
	"zapflow/internal/store/storetest"
)

func seed(t *testing.T, s *store.Store, tenantID string, status string, at time.Time) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		TenantID:    tenantID,
		Name:        "Scheduled",
		Message:     "Oi",
		Status:      status,
		ScheduledAt: &at,
	}
	contacts := storetest.Contacts(t, s, tenantID, 1, func(i int, ct *models.Contact) {
		ct.Phone = "55119" + at.Format("150405") + status[:2]
	})
	require.NoError(t, s.CreateCampaigns(context.Background(), []*models.Campaign{c}, contacts, at))
	return c
}

func TestRunOnceEnqueuesDueCampaigns(t *testing.T) {
	s := storetest.New(t)
	tenant := storetest.Tenant(t, s)
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)

	due := seed(t, s, tenant.ID, models.CampaignScheduled, now.Add(-time.Minute))
	seed(t, s, tenant.ID, models.CampaignScheduled, now.Add(time.Hour))
	seed(t, s, tenant.ID, models.CampaignDraft, now.Add(-2*time.Hour))

	b := queue.NewMemoryBroker()
	p := NewPoller(s, b, lock.NewMemoryLocker(), Config{})
	p.now = func() time.Time { return now }

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	job, err := b.Reserve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dispatch.JobType, job.Type)
	assert.Equal(t, queue.PriorityDefault, job.Priority)

	var payload dispatch.Job
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, dispatch.Job{CampaignID: due.ID, TenantID: tenant.ID}, payload)

	// status is untouched; the worker moves it to running
	got, err := s.GetCampaign(context.Background(), due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignScheduled, got.Status)
}

func TestRunOnceDoesNotReEnqueueWithinClaimTTL(t *testing.T) {
	s := storetest.New(t)
	tenant := storetest.Tenant(t, s)
	now := time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC)
	seed(t, s, tenant.ID, models.CampaignScheduled, now.Add(-time.Minute))

	b := queue.NewMemoryBroker()
	locker := lock.NewMemoryLocker()
	p := NewPoller(s, b, locker, Config{ClaimTTL: time.Hour})
	p.now = func() time.Time { return now }

	n, err := p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = p.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	ready, _ := b.Pending()
	assert.Equal(t, 1, ready)
}

func TestStartRunsImmediatelyAndStops(t *testing.T) {
	s := storetest.New(t)
	tenant := storetest.Tenant(t, s)
	seed(t, s, tenant.ID, models.CampaignScheduled, time.Now().Add(-time.Minute))

	b := queue.NewMemoryBroker()
	p := NewPoller(s, b, lock.NewMemoryLocker(), Config{PollInterval: time.Hour})

	ctx := context.Background()
	require.NoError(t, p.Start(ctx))
	assert.ErrorIs(t, p.Start(ctx), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		ready, _ := b.Pending()
		return ready == 1
	}, 2*time.Second, 10*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, p.Stop(stopCtx))
	assert.NoError(t, p.Stop(stopCtx))
}

func TestMonthStart(t *testing.T) {
	sp, err := time.LoadLocation("America/Sao_Paulo")
	require.NoError(t, err)

	// 01:30 UTC on April 1st is still March 31st in São Paulo
	at := time.Date(2026, 4, 1, 1, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, sp), MonthStart(at, sp))
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), MonthStart(at, time.UTC))
}

func TestResetUsageOncePerMonth(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()
	march := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tenant := storetest.Tenant(t, s, func(tn *models.Tenant) {
		tn.MessagesSentMonth = 700
		tn.UsageResetAt = &march
	})

	p := NewPoller(s, queue.NewMemoryBroker(), lock.NewMemoryLocker(), Config{})
	now := time.Date(2026, 3, 31, 23, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	n, err := p.ResetUsage(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	now = time.Date(2026, 4, 1, 0, 1, 0, 0, time.UTC)
	n, err = p.ResetUsage(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	sent, _, err := s.Usage(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Zero(t, sent)

	require.NoError(t, s.IncrementUsage(ctx, tenant.ID, 3))

	// a second process starting mid-month must not wipe April's usage
	other := NewPoller(s, queue.NewMemoryBroker(), lock.NewMemoryLocker(), Config{})
	other.now = func() time.Time { return now.Add(time.Hour) }
	n, err = other.ResetUsage(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sent, _, err = s.Usage(ctx, tenant.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
}
