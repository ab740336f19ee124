// Package campaign holds the tenant-facing campaign operations: creating
// campaigns from a request (including recurrence), lifecycle transitions and
// reporting.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"zapflow/internal/dispatch"
	"zapflow/internal/models"
	"zapflow/internal/pacing"
	"zapflow/internal/queue"
	"zapflow/internal/recurrence"
	"zapflow/internal/store"
	pkgmodels "zapflow/pkg/models"
)

const (
	defaultDelayMin  = 10
	defaultDelayMax  = 30
	minDelaySpread   = 5
	defaultStartHour = 8
	defaultEndHour   = 20
)

var (
	ErrNameRequired      = errors.New("campaign name is required")
	ErrContentRequired   = errors.New("message text or media is required")
	ErrCaptionRequired   = errors.New("media requires a caption")
	ErrInvalidMediaType  = errors.New("invalid media type")
	ErrInvalidWindow     = errors.New("send window must satisfy 0 <= start < end <= 24")
	ErrInvalidEndDate    = errors.New("invalid recurrence end date")
	ErrNoContacts        = errors.New("no contacts match the campaign audience")
	ErrNotFound          = errors.New("campaign not found")
	ErrInvalidTransition = errors.New("campaign cannot change to the requested status")
	ErrNotConnected      = errors.New("whatsapp is not connected")
	ErrTenantSuspended   = errors.New("tenant is suspended")
	ErrQuotaExceeded     = errors.New("monthly message limit reached")
)

type Repository interface {
	TargetContacts(ctx context.Context, tenantID string, tags []string) ([]models.Contact, error)
	CreateCampaigns(ctx context.Context, campaigns []*models.Campaign, contacts []models.Contact, queuedAt time.Time) error
	GetTenantCampaign(ctx context.Context, tenantID, id string) (*models.Campaign, error)
	ListCampaigns(ctx context.Context, tenantID, status string) ([]models.Campaign, error)
	CampaignsBetween(ctx context.Context, tenantID string, from, to time.Time) ([]models.Campaign, error)
	TransitionCampaign(ctx context.Context, id, status string, from ...string) error
	SetCampaignStatus(ctx context.Context, id, status string) error
	SetQueueJobID(ctx context.Context, id, jobID string) error
	LogStatusCounts(ctx context.Context, campaignID string) (map[string]int64, error)
	CampaignLogs(ctx context.Context, campaignID string, limit int) ([]models.MessageLog, error)
	Usage(ctx context.Context, tenantID string) (sent, limit int, err error)
}

type Service struct {
	repo  Repository
	queue queue.Queue
	loc   *time.Location
	now   func() time.Time
}

func NewService(repo Repository, q queue.Queue, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{repo: repo, queue: q, loc: loc, now: time.Now}
}

// Create validates req, expands its recurrence and stores one campaign per
// occurrence, each with its own snapshot of the target audience.
func (s *Service) Create(ctx context.Context, tenant *models.Tenant, req pkgmodels.CreateCampaignRequest) ([]models.Campaign, error) {
	if tenant.Status == models.TenantSuspended {
		return nil, ErrTenantSuspended
	}

	base, err := s.buildBase(tenant, req)
	if err != nil {
		return nil, err
	}

	spec := recurrence.Spec{
		Type:  req.RecurrenceType,
		Days:  req.RecurrenceDays,
		Times: req.RecurrenceTimes,
	}
	if spec.Type == "" {
		spec.Type = recurrence.TypeNone
	}
	if req.RecurrenceEndDate != "" {
		end, err := parseDate(req.RecurrenceEndDate, s.loc)
		if err != nil {
			return nil, err
		}
		spec.EndDate = &end
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	contacts, err := s.repo.TargetContacts(ctx, tenant.ID, req.TargetTags)
	if err != nil {
		return nil, fmt.Errorf("load target contacts: %w", err)
	}
	if len(contacts) == 0 {
		return nil, ErrNoContacts
	}

	now := s.now()
	schedule, err := recurrence.Expand(req.ScheduledAt, spec, now, s.loc)
	if err != nil {
		return nil, err
	}

	base.RecurrenceType = spec.Type
	base.RecurrenceDays = spec.Days
	base.RecurrenceTimes = spec.Times
	base.RecurrenceEndDate = spec.EndDate

	campaigns := make([]*models.Campaign, len(schedule))
	for i, at := range schedule {
		c := base
		c.ScheduledAt = at
		c.Status = models.CampaignDraft
		if at != nil {
			c.Status = models.CampaignScheduled
		}
		campaigns[i] = &c
	}

	if err := s.repo.CreateCampaigns(ctx, campaigns, contacts, now); err != nil {
		return nil, fmt.Errorf("create campaigns: %w", err)
	}

	log.Info().Str("tenant_id", tenant.ID).Int("campaigns", len(campaigns)).Int("contacts", len(contacts)).
		Msg("Campaigns created")

	out := make([]models.Campaign, len(campaigns))
	for i, c := range campaigns {
		out[i] = *c
	}
	return out, nil
}

func (s *Service) buildBase(tenant *models.Tenant, req pkgmodels.CreateCampaignRequest) (models.Campaign, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return models.Campaign{}, ErrNameRequired
	}
	text := strings.TrimSpace(req.MessageText)
	if text == "" && !req.HasURL() {
		return models.Campaign{}, ErrContentRequired
	}

	mediaType := models.MediaNone
	if req.HasURL() {
		if strings.TrimSpace(req.Caption) == "" {
			return models.Campaign{}, ErrCaptionRequired
		}
		switch req.Type {
		case "", models.MediaNone:
			mediaType = models.MediaImage
		case models.MediaImage, models.MediaVideo, models.MediaDocument:
			mediaType = req.Type
		default:
			return models.Campaign{}, fmt.Errorf("%w: %q", ErrInvalidMediaType, req.Type)
		}
	}

	start := intOr(req.SendStartHour, defaultStartHour)
	end := intOr(req.SendEndHour, defaultEndHour)
	if start < 0 || end > 24 || start >= end {
		return models.Campaign{}, ErrInvalidWindow
	}

	delayMin, delayMax := Delays(req.DelayMinSeconds, req.DelayMaxSeconds, tenant.MinDelaySeconds)

	return models.Campaign{
		TenantID:         tenant.ID,
		Name:             name,
		Description:      req.Description,
		Message:          text,
		MediaType:        mediaType,
		MediaURL:         req.URL,
		MediaCaption:     req.Caption,
		DelayMinSeconds:  delayMin,
		DelayMaxSeconds:  delayMax,
		SendStartHour:    start,
		SendEndHour:      end,
		SendOnWeekends:   boolOr(req.SendOnWeekends, false),
		TypingSimulation: boolOr(req.TypingSimulation, true),
		TargetTags:       req.TargetTags,
	}, nil
}

// Delays normalizes the requested pacing against the tenant's plan floor.
// Missing or zero values fall back to 10s and 30s; the maximum always stays
// at least 5s above the minimum.
func Delays(reqMin, reqMax *int, tenantMin int) (int, int) {
	floor := tenantMin
	if floor <= 0 {
		floor = defaultDelayMin
	}
	lo := max(positiveOr(reqMin, defaultDelayMin), floor)
	hi := max(positiveOr(reqMax, defaultDelayMax), lo+minDelaySpread)
	return lo, hi
}

// Start enqueues the campaign at high priority and marks it running.
func (s *Service) Start(ctx context.Context, tenant *models.Tenant, id string) (string, error) {
	if err := checkTenant(tenant); err != nil {
		return "", err
	}
	c, err := s.get(ctx, tenant.ID, id)
	if err != nil {
		return "", err
	}
	return s.launch(ctx, c, queue.PriorityHigh,
		models.CampaignDraft, models.CampaignPaused, models.CampaignScheduled)
}

// Resume restarts a paused campaign from its remaining queue.
func (s *Service) Resume(ctx context.Context, tenant *models.Tenant, id string) (string, error) {
	if err := checkTenant(tenant); err != nil {
		return "", err
	}
	c, err := s.get(ctx, tenant.ID, id)
	if err != nil {
		return "", err
	}
	return s.launch(ctx, c, queue.PriorityDefault, models.CampaignPaused)
}

// launch refuses tenants already at their monthly limit; the dispatcher only
// re-reads usage every few contacts.
func (s *Service) launch(ctx context.Context, c *models.Campaign, priority int, from ...string) (string, error) {
	sent, limit, err := s.repo.Usage(ctx, c.TenantID)
	if err != nil {
		return "", fmt.Errorf("load usage: %w", err)
	}
	if pacing.QuotaExceeded(sent, limit) {
		return "", fmt.Errorf("%w: %d/%d", ErrQuotaExceeded, sent, limit)
	}

	if err := s.repo.TransitionCampaign(ctx, c.ID, models.CampaignRunning, from...); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			return "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, models.CampaignRunning)
		}
		return "", err
	}

	jobID, err := s.queue.Enqueue(ctx, dispatch.JobType,
		dispatch.Job{CampaignID: c.ID, TenantID: c.TenantID},
		queue.Options{Priority: priority})
	if err != nil {
		if rerr := s.repo.SetCampaignStatus(context.WithoutCancel(ctx), c.ID, c.Status); rerr != nil {
			log.Error().Err(rerr).Str("campaign_id", c.ID).Msg("Failed to restore campaign status")
		}
		return "", fmt.Errorf("enqueue campaign: %w", err)
	}
	if err := s.repo.SetQueueJobID(ctx, c.ID, jobID); err != nil {
		log.Warn().Err(err).Str("campaign_id", c.ID).Msg("Failed to record queue job id")
	}

	log.Info().Str("campaign_id", c.ID).Str("job_id", jobID).Msg("Campaign enqueued")
	return jobID, nil
}

// Pause is observed by the worker before its next contact.
func (s *Service) Pause(ctx context.Context, tenantID, id string) error {
	return s.transition(ctx, tenantID, id, models.CampaignPaused,
		models.CampaignDraft, models.CampaignScheduled, models.CampaignRunning, models.CampaignPaused)
}

func (s *Service) Cancel(ctx context.Context, tenantID, id string) error {
	return s.transition(ctx, tenantID, id, models.CampaignCancelled,
		models.CampaignDraft, models.CampaignScheduled, models.CampaignRunning, models.CampaignPaused, models.CampaignCancelled)
}

func (s *Service) transition(ctx context.Context, tenantID, id, to string, from ...string) error {
	c, err := s.get(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err := s.repo.TransitionCampaign(ctx, c.ID, to, from...); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, to)
		}
		return err
	}
	log.Info().Str("campaign_id", c.ID).Str("from", c.Status).Str("to", to).Msg("Campaign status changed")
	return nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.Campaign, error) {
	return s.get(ctx, tenantID, id)
}

func (s *Service) get(ctx context.Context, tenantID, id string) (*models.Campaign, error) {
	c, err := s.repo.GetTenantCampaign(ctx, tenantID, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return c, err
}

func (s *Service) List(ctx context.Context, tenantID, status string) ([]models.Campaign, error) {
	return s.repo.ListCampaigns(ctx, tenantID, status)
}

// Summary aggregates a campaign's message log.
type Summary struct {
	Total     int   `json:"total"`
	Sent      int64 `json:"sent"`
	Delivered int64 `json:"delivered"`
	Read      int64 `json:"read"`
	Failed    int64 `json:"failed"`
	Pending   int   `json:"pending"`
}

// reportLogs caps the delivery log returned with a report.
const reportLogs = 100

type Report struct {
	Campaign *models.Campaign    `json:"campaign"`
	Summary  Summary             `json:"summary"`
	Logs     []models.MessageLog `json:"logs"`
}

func (s *Service) Report(ctx context.Context, tenantID, id string) (*Report, error) {
	c, err := s.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.LogStatusCounts(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	logs, err := s.repo.CampaignLogs(ctx, c.ID, reportLogs)
	if err != nil {
		return nil, err
	}
	return &Report{
		Campaign: c,
		Logs:     logs,
		Summary: Summary{
			Total:     c.ContactsTotal,
			Sent:      counts[models.DeliverySent],
			Delivered: counts[models.DeliveryDelivered],
			Read:      counts[models.DeliveryRead],
			Failed:    counts[models.DeliveryFailed],
			Pending:   c.ContactsPending,
		},
	}, nil
}

// CalendarEntry is the compact campaign view shown on the calendar.
type CalendarEntry struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Status         string     `json:"status"`
	ScheduledAt    *time.Time `json:"scheduled_at"`
	ContactsTotal  int        `json:"contacts_total"`
	RecurrenceDays []int      `json:"recurrence_days"`
}

// Calendar groups the month's campaigns by day of month in the service's
// time zone. Unscheduled campaigns land on the day they were created.
func (s *Service) Calendar(ctx context.Context, tenantID string, year int, month time.Month) (map[int][]CalendarEntry, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("invalid month %d", month)
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, s.loc)
	to := from.AddDate(0, 1, 0)

	campaigns, err := s.repo.CampaignsBetween(ctx, tenantID, from, to)
	if err != nil {
		return nil, err
	}

	out := make(map[int][]CalendarEntry)
	for _, c := range campaigns {
		at := c.CreatedAt
		if c.ScheduledAt != nil {
			at = *c.ScheduledAt
		}
		day := at.In(s.loc).Day()
		out[day] = append(out[day], CalendarEntry{
			ID:             c.ID,
			Name:           c.Name,
			Status:         c.Status,
			ScheduledAt:    c.ScheduledAt,
			ContactsTotal:  c.ContactsTotal,
			RecurrenceDays: c.RecurrenceDays,
		})
	}
	return out, nil
}

func checkTenant(t *models.Tenant) error {
	if t.Status == models.TenantSuspended {
		return ErrTenantSuspended
	}
	if t.WAStatus != models.WAConnected {
		return ErrNotConnected
	}
	return nil
}

func parseDate(raw string, loc *time.Location) (time.Time, error) {
	if t, err := time.ParseInLocation("2006-01-02", raw, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidEndDate, raw)
	}
	return t, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func positiveOr(p *int, def int) int {
	if p == nil || *p <= 0 {
		return def
	}
	return *p
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
