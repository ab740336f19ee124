package campaign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zapflow/internal/dispatch"
	"zapflow/internal/models"
	"zapflow/internal/queue"
	"zapflow/internal/recurrence"
	"zapflow/internal/store"
	"zapflow/internal/store/storetest"
	pkgmodels "zapflow/pkg/models"
)

var monday = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

type failingQueue struct{}

func (failingQueue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts queue.Options) (string, error) {
	return "", errors.New("redis down")
}

type fixture struct {
	store   *store.Store
	tenant  *models.Tenant
	broker  *queue.MemoryBroker
	service *Service
}

func newFixture(t *testing.T, mutate ...func(*models.Tenant)) *fixture {
	t.Helper()
	s := storetest.New(t)
	f := &fixture{store: s, tenant: storetest.Tenant(t, s, mutate...), broker: queue.NewMemoryBroker()}
	f.service = NewService(s, f.broker, time.UTC)
	f.service.now = func() time.Time { return monday }
	return f
}

func intp(v int) *int    { return &v }
func boolp(v bool) *bool { return &v }

func textRequest() pkgmodels.CreateCampaignRequest {
	return pkgmodels.CreateCampaignRequest{Name: "Promo", MessageText: "Oi {nome}"}
}

func TestCreateAppliesDefaults(t *testing.T) {
	f := newFixture(t)
	storetest.Contacts(t, f.store, f.tenant.ID, 3)

	out, err := f.service.Create(context.Background(), f.tenant, textRequest())
	require.NoError(t, err)
	require.Len(t, out, 1)

	c := out[0]
	assert.Equal(t, models.CampaignDraft, c.Status)
	assert.Nil(t, c.ScheduledAt)
	assert.Equal(t, 10, c.DelayMinSeconds)
	assert.Equal(t, 30, c.DelayMaxSeconds)
	assert.Equal(t, 8, c.SendStartHour)
	assert.Equal(t, 20, c.SendEndHour)
	assert.True(t, c.TypingSimulation)
	assert.False(t, c.SendOnWeekends)
	assert.Equal(t, models.MediaNone, c.MediaType)
	assert.Equal(t, 3, c.ContactsTotal)
	assert.Equal(t, 3, c.ContactsPending)

	queued, err := f.store.CountQueued(context.Background(), c.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 3, queued)
}

func TestCreateTargetsTags(t *testing.T) {
	f := newFixture(t)
	storetest.Contacts(t, f.store, f.tenant.ID, 4, func(i int, c *models.Contact) {
		if i%2 == 0 {
			c.Tags = []string{"vip"}
		}
	})

	req := textRequest()
	req.TargetTags = []string{"vip"}
	out, err := f.service.Create(context.Background(), f.tenant, req)
	require.NoError(t, err)
	assert.Equal(t, 2, out[0].ContactsTotal)

	req.TargetTags = []string{"nobody"}
	_, err = f.service.Create(context.Background(), f.tenant, req)
	assert.ErrorIs(t, err, ErrNoContacts)
}

func TestCreateWeeklyRecurrence(t *testing.T) {
	f := newFixture(t)
	storetest.Contacts(t, f.store, f.tenant.ID, 2)

	req := textRequest()
	req.RecurrenceType = recurrence.TypeWeekly
	req.RecurrenceDays = []int{1, 3}
	req.RecurrenceTimes = []string{"09:00", "15:30"}
	req.RecurrenceEndDate = "2026-03-08"
	start := monday
	req.ScheduledAt = &start

	out, err := f.service.Create(context.Background(), f.tenant, req)
	require.NoError(t, err)
	// Mon 2 and Wed 4, two times each
	require.Len(t, out, 4)
	for _, c := range out {
		assert.Equal(t, models.CampaignScheduled, c.Status)
		require.NotNil(t, c.ScheduledAt)
		assert.Equal(t, 2, c.ContactsTotal)
		assert.Equal(t, recurrence.TypeWeekly, c.RecurrenceType)
	}
	assert.Equal(t, time.Date(2026, 3, 4, 15, 30, 0, 0, time.UTC), *out[3].ScheduledAt)

	list, err := f.service.List(context.Background(), f.tenant.ID, models.CampaignScheduled)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	storetest.Contacts(t, f.store, f.tenant.ID, 1)

	tests := []struct {
		name   string
		mutate func(*pkgmodels.CreateCampaignRequest)
		want   error
	}{
		{"missing name", func(r *pkgmodels.CreateCampaignRequest) { r.Name = "  " }, ErrNameRequired},
		{"no content", func(r *pkgmodels.CreateCampaignRequest) { r.MessageText = "" }, ErrContentRequired},
		{"media without caption", func(r *pkgmodels.CreateCampaignRequest) { r.URL = "https://cdn.example.com/a.png" }, ErrCaptionRequired},
		{"bad media type", func(r *pkgmodels.CreateCampaignRequest) {
			r.Media = pkgmodels.Media{Type: "sticker", URL: "https://cdn.example.com/a.webp", Caption: "x"}
		}, ErrInvalidMediaType},
		{"inverted window", func(r *pkgmodels.CreateCampaignRequest) { r.SendStartHour, r.SendEndHour = intp(20), intp(8) }, ErrInvalidWindow},
		{"window past midnight", func(r *pkgmodels.CreateCampaignRequest) { r.SendEndHour = intp(25) }, ErrInvalidWindow},
		{"bad recurrence time", func(r *pkgmodels.CreateCampaignRequest) {
			r.RecurrenceType = recurrence.TypeDaily
			r.RecurrenceTimes = []string{"25:00"}
		}, recurrence.ErrInvalidTime},
		{"bad end date", func(r *pkgmodels.CreateCampaignRequest) { r.RecurrenceEndDate = "next week" }, ErrInvalidEndDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := textRequest()
			tt.mutate(&req)
			_, err := f.service.Create(context.Background(), f.tenant, req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreateMediaDefaultsToImage(t *testing.T) {
	f := newFixture(t)
	storetest.Contacts(t, f.store, f.tenant.ID, 1)

	req := pkgmodels.CreateCampaignRequest{
		Name:  "Catálogo",
		Media: pkgmodels.Media{URL: "https://cdn.example.com/a.png", Caption: "Novidades"},
	}
	out, err := f.service.Create(context.Background(), f.tenant, req)
	require.NoError(t, err)
	assert.Equal(t, models.MediaImage, out[0].MediaType)
	assert.True(t, out[0].HasMedia())
}

func TestCreateRejectsSuspendedTenant(t *testing.T) {
	f := newFixture(t, func(tn *models.Tenant) { tn.Status = models.TenantSuspended })
	_, err := f.service.Create(context.Background(), f.tenant, textRequest())
	assert.ErrorIs(t, err, ErrTenantSuspended)
}

func TestDelays(t *testing.T) {
	tests := []struct {
		name           string
		reqMin, reqMax *int
		tenantMin      int
		wantMin        int
		wantMax        int
	}{
		{"defaults", nil, nil, 0, 10, 30},
		{"plan floor wins", intp(5), intp(60), 20, 20, 60},
		{"max kept above min", intp(40), intp(30), 10, 40, 45},
		{"zero treated as unset", intp(0), intp(0), 10, 10, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lo, hi := Delays(tt.reqMin, tt.reqMax, tt.tenantMin)
			assert.Equal(t, tt.wantMin, lo)
			assert.Equal(t, tt.wantMax, hi)
		})
	}
}

func (f *fixture) create(t *testing.T) models.Campaign {
	t.Helper()
	storetest.Contacts(t, f.store, f.tenant.ID, 2)
	out, err := f.service.Create(context.Background(), f.tenant, textRequest())
	require.NoError(t, err)
	return out[0]
}

func (f *fixture) status(t *testing.T, id string) string {
	t.Helper()
	s, err := f.store.CampaignStatus(context.Background(), id)
	require.NoError(t, err)
	return s
}

func TestStartEnqueuesHighPriority(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)

	jobID, err := f.service.Start(context.Background(), f.tenant, c.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)
	assert.Equal(t, models.CampaignRunning, f.status(t, c.ID))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := f.broker.Reserve(ctx)
	require.NoError(t, err)
	assert.Equal(t, dispatch.JobType, job.Type)
	assert.Equal(t, queue.PriorityHigh, job.Priority)

	var payload dispatch.Job
	require.NoError(t, job.Decode(&payload))
	assert.Equal(t, dispatch.Job{CampaignID: c.ID, TenantID: f.tenant.ID}, payload)

	got, err := f.service.Get(context.Background(), f.tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, jobID, got.QueueJobID)

	// already running
	_, err = f.service.Start(context.Background(), f.tenant, c.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStartRequiresConnection(t *testing.T) {
	f := newFixture(t, func(tn *models.Tenant) { tn.WAStatus = models.WADisconnected })
	c := f.create(t)

	_, err := f.service.Start(context.Background(), f.tenant, c.ID)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, models.CampaignDraft, f.status(t, c.ID))
}

func TestStartAndResumeRefuseExhaustedQuota(t *testing.T) {
	f := newFixture(t, func(tn *models.Tenant) {
		tn.MessagesLimitMonth = 100
		tn.MessagesSentMonth = 100
	})
	ctx := context.Background()
	draft := f.create(t)
	paused := f.create(t)
	require.NoError(t, f.store.SetCampaignStatus(ctx, paused.ID, models.CampaignRunning))
	require.NoError(t, f.store.PauseCampaign(ctx, paused.ID, models.PauseQuota))

	_, err := f.service.Start(ctx, f.tenant, draft.ID)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, models.CampaignDraft, f.status(t, draft.ID))

	_, err = f.service.Resume(ctx, f.tenant, paused.ID)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, models.CampaignPaused, f.status(t, paused.ID))

	ready, delayed := f.broker.Pending()
	assert.Zero(t, ready+delayed)

	// the monthly reset lets the same campaign resume
	_, err = f.store.ResetMonthlyUsage(ctx, monday)
	require.NoError(t, err)
	_, err = f.service.Resume(ctx, f.tenant, paused.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignRunning, f.status(t, paused.ID))
}

func TestStartRestoresStatusWhenEnqueueFails(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	f.service.queue = failingQueue{}

	_, err := f.service.Start(context.Background(), f.tenant, c.ID)
	require.Error(t, err)
	assert.Equal(t, models.CampaignDraft, f.status(t, c.ID))
}

func TestLifecycleTransitions(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	require.NoError(t, f.service.Pause(ctx, f.tenant.ID, c.ID))
	assert.Equal(t, models.CampaignPaused, f.status(t, c.ID))

	_, err := f.service.Resume(ctx, f.tenant, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CampaignRunning, f.status(t, c.ID))

	_, err = f.service.Resume(ctx, f.tenant, c.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, f.service.Cancel(ctx, f.tenant.ID, c.ID))
	assert.Equal(t, models.CampaignCancelled, f.status(t, c.ID))

	require.NoError(t, f.store.SetCampaignStatus(ctx, c.ID, models.CampaignDone))
	assert.ErrorIs(t, f.service.Cancel(ctx, f.tenant.ID, c.ID), ErrInvalidTransition)
	assert.ErrorIs(t, f.service.Pause(ctx, f.tenant.ID, c.ID), ErrInvalidTransition)
}

func TestOperationsAreTenantScoped(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)

	other := storetest.Tenant(t, f.store, func(tn *models.Tenant) { tn.WAInstanceID = "zf_other" })
	_, err := f.service.Start(context.Background(), other, c.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.service.Cancel(context.Background(), other.ID, c.ID), ErrNotFound)
}

func TestReport(t *testing.T) {
	f := newFixture(t)
	c := f.create(t)
	ctx := context.Background()

	queued, err := f.store.QueuedContacts(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, queued, 2)

	require.NoError(t, f.store.ClaimContact(ctx, queued[0].ID))
	require.NoError(t, f.store.ContactSent(ctx, &queued[0], "wamid-1", monday))
	_, err = f.store.ApplyDelivery(ctx, "wamid-1", models.DeliveryRead, monday.Add(time.Minute))
	require.NoError(t, err)
	require.NoError(t, f.store.ClaimContact(ctx, queued[1].ID))
	require.NoError(t, f.store.ContactFailed(ctx, &queued[1], "boom", monday, true))

	r, err := f.service.Report(ctx, f.tenant.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Summary.Total)
	assert.EqualValues(t, 1, r.Summary.Read)
	assert.EqualValues(t, 1, r.Summary.Failed)
	assert.Equal(t, 0, r.Summary.Pending)
	assert.Len(t, r.Logs, 2)
}

func TestCalendarGroupsByDay(t *testing.T) {
	f := newFixture(t)
	storetest.Contacts(t, f.store, f.tenant.ID, 1)

	req := textRequest()
	req.RecurrenceType = recurrence.TypeDaily
	req.RecurrenceTimes = []string{"09:00"}
	req.RecurrenceEndDate = "2026-04-02"
	start := monday
	req.ScheduledAt = &start
	_, err := f.service.Create(context.Background(), f.tenant, req)
	require.NoError(t, err)

	days, err := f.service.Calendar(context.Background(), f.tenant.ID, 2026, time.March)
	require.NoError(t, err)
	// March 2 through 31
	assert.Len(t, days, 30)
	require.Len(t, days[15], 1)
	assert.Equal(t, "Promo", days[15][0].Name)

	_, err = f.service.Calendar(context.Background(), f.tenant.ID, 2026, 13)
	assert.Error(t, err)
}
