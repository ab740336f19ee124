// Package dispatch drains one campaign's contact queue per job, pacing sends
// through the gateway and pausing itself on window or quota limits.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"zapflow/internal/lock"
	"zapflow/internal/message"
	"zapflow/internal/metrics"
	"zapflow/internal/models"
	"zapflow/internal/pacing"
	"zapflow/internal/queue"
	"zapflow/internal/store"
	"zapflow/internal/whatsapp"
)

// JobType is the queue job that runs a campaign.
const JobType = "campaign.run"

const (
	defaultLockTTL = 2 * time.Minute
	reasonInactive = "inactive/opted-out"
)

var (
	ErrCampaignNotFound    = errors.New("campaign not found")
	ErrTenantNotFound      = errors.New("tenant not found")
	ErrTenantSuspended     = errors.New("tenant suspended")
	ErrGatewayDisconnected = errors.New("whatsapp not connected")
)

// Outcome says how a run ended.
type Outcome string

const (
	OutcomeDone         Outcome = "done"
	OutcomeWindowPaused Outcome = "window_paused"
	OutcomeQuotaPaused  Outcome = "quota_paused"
	OutcomeStopped      Outcome = "stopped"
	OutcomeSkipped      Outcome = "skipped"
)

// Job is the queue payload. The same payload is re-enqueued to resume.
type Job struct {
	CampaignID string `json:"campaignId"`
	TenantID   string `json:"tenantId"`
}

type Repository interface {
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	GetTenant(ctx context.Context, id string) (*models.Tenant, error)
	CampaignStatus(ctx context.Context, id string) (string, error)
	PauseCampaign(ctx context.Context, id, reason string) error
	MarkCampaignRunning(ctx context.Context, id string, at time.Time) error
	MarkCampaignDone(ctx context.Context, id string, at time.Time) error
	QueuedContacts(ctx context.Context, campaignID string) ([]models.CampaignContact, error)
	CountQueued(ctx context.Context, campaignID string) (int64, error)
	ClaimContact(ctx context.Context, ccID uint) error
	ReleaseContact(ctx context.Context, ccID uint) error
	RequeueStale(ctx context.Context, campaignID string) (int64, error)
	ContactSent(ctx context.Context, cc *models.CampaignContact, waMessageID string, at time.Time) error
	ContactFailed(ctx context.Context, cc *models.CampaignContact, reason string, at time.Time, logged bool) error
	Usage(ctx context.Context, tenantID string) (sent, limit int, err error)
}

type Gateway interface {
	SendText(ctx context.Context, instance, phone, text string, opts whatsapp.SendOptions) (string, error)
	SendMedia(ctx context.Context, instance, phone, mediaType, url, caption string, opts whatsapp.SendOptions) (string, error)
	SendPresence(ctx context.Context, instance, phone, presence string, delay time.Duration) error
}

// Progress is pushed to dashboards after every processed contact.
type Progress struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Pending    int    `json:"pending"`
}

type Notifier interface {
	CampaignProgress(tenantID string, p Progress)
}

type Worker struct {
	repo     Repository
	gateway  Gateway
	queue    queue.Queue
	locker   lock.Locker
	notifier Notifier

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	rand    pacing.Rand
	loc     *time.Location
	lockTTL time.Duration
}

type Option func(*Worker)

func WithNotifier(n Notifier) Option { return func(w *Worker) { w.notifier = n } }

func WithClock(now func() time.Time) Option { return func(w *Worker) { w.now = now } }

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = sleep }
}

func WithRand(r pacing.Rand) Option { return func(w *Worker) { w.rand = r } }

// WithLocation sets the zone the sending window is evaluated in.
func WithLocation(loc *time.Location) Option { return func(w *Worker) { w.loc = loc } }

func WithLockTTL(ttl time.Duration) Option { return func(w *Worker) { w.lockTTL = ttl } }

func NewWorker(repo Repository, gateway Gateway, q queue.Queue, locker lock.Locker, opts ...Option) *Worker {
	w := &Worker{
		repo:    repo,
		gateway: gateway,
		queue:   q,
		locker:  locker,
		now:     time.Now,
		sleep:   Sleep,
		rand:    pacing.DefaultRand,
		loc:     time.UTC,
		lockTTL: defaultLockTTL,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Handle adapts Run to the queue. Missing records are not retried.
func (w *Worker) Handle(ctx context.Context, qj *queue.Job) error {
	var j Job
	if err := qj.Decode(&j); err != nil {
		return queue.Permanent(fmt.Errorf("decode campaign job: %w", err))
	}
	_, err := w.Run(ctx, j)
	if errors.Is(err, ErrCampaignNotFound) || errors.Is(err, ErrTenantNotFound) {
		return queue.Permanent(err)
	}
	return err
}

// Run drives one campaign until it finishes, pauses or is stopped.
func (w *Worker) Run(ctx context.Context, j Job) (Outcome, error) {
	logger := log.With().Str("campaign_id", j.CampaignID).Str("tenant_id", j.TenantID).Logger()

	lease, err := w.locker.Acquire(ctx, "campaign:"+j.CampaignID, w.lockTTL)
	if errors.Is(err, lock.ErrNotAcquired) {
		logger.Info().Msg("Campaign already being dispatched, skipping duplicate job")
		metrics.CampaignRuns.WithLabelValues(string(OutcomeSkipped)).Inc()
		return OutcomeSkipped, nil
	}
	if err != nil {
		return "", fmt.Errorf("acquire campaign lock: %w", err)
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			logger.Warn().Err(err).Msg("Failed to release campaign lock")
		}
	}()

	outcome, err := w.run(ctx, j, lease, logger)
	if err != nil {
		metrics.CampaignRuns.WithLabelValues("error").Inc()
		logger.Error().Err(err).Msg("Campaign run failed")
		return outcome, err
	}
	metrics.CampaignRuns.WithLabelValues(string(outcome)).Inc()
	logger.Info().Str("outcome", string(outcome)).Msg("Campaign run finished")
	return outcome, nil
}

func (w *Worker) run(ctx context.Context, j Job, lease lock.Lease, logger zerolog.Logger) (Outcome, error) {
	campaign, err := w.repo.GetCampaign(ctx, j.CampaignID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrCampaignNotFound
	}
	if err != nil {
		return "", err
	}
	if campaign.Status == models.CampaignDone {
		return OutcomeDone, nil
	}
	if !resumable(campaign) {
		logger.Info().Str("status", campaign.Status).Str("pause_reason", campaign.PauseReason).
			Msg("Campaign not resumable by this job, dropping it")
		return OutcomeStopped, nil
	}

	tenantID := j.TenantID
	if tenantID == "" {
		tenantID = campaign.TenantID
	}
	tenant, err := w.repo.GetTenant(ctx, tenantID)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrTenantNotFound
	}
	if err != nil {
		return "", err
	}

	if tenant.Status == models.TenantSuspended {
		if err := w.repo.PauseCampaign(ctx, campaign.ID, models.PauseSuspended); err != nil && !errors.Is(err, store.ErrNotClaimed) {
			return "", err
		}
		w.progress(ctx, tenant.ID, campaign.ID)
		return "", ErrTenantSuspended
	}
	if tenant.WAStatus != models.WAConnected {
		return "", ErrGatewayDisconnected
	}

	if n, err := w.repo.RequeueStale(ctx, campaign.ID); err != nil {
		return "", err
	} else if n > 0 {
		logger.Warn().Int64("contacts", n).Msg("Requeued contacts left in sending by a previous run")
	}

	contacts, err := w.repo.QueuedContacts(ctx, campaign.ID)
	if err != nil {
		return "", err
	}
	if len(contacts) == 0 {
		return w.finish(ctx, tenant.ID, campaign.ID)
	}

	if err := w.repo.MarkCampaignRunning(ctx, campaign.ID, w.now()); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			logger.Info().Msg("Campaign changed status before dispatch, dropping job")
			return OutcomeStopped, nil
		}
		return "", err
	}
	w.progress(ctx, tenant.ID, campaign.ID)

	window := pacing.Window{
		StartHour: campaign.SendStartHour,
		EndHour:   campaign.SendEndHour,
		Weekends:  campaign.SendOnWeekends,
	}

	for i := range contacts {
		cc := &contacts[i]

		status, err := w.repo.CampaignStatus(ctx, campaign.ID)
		if err != nil {
			return "", err
		}
		if status == models.CampaignPaused || status == models.CampaignCancelled {
			logger.Info().Str("status", status).Msg("Campaign stopped externally")
			return OutcomeStopped, nil
		}

		if decision := pacing.CanSendNow(window, w.now().In(w.loc)); !decision.Allowed {
			return w.pauseForWindow(ctx, j, tenant.ID, campaign.ID, decision, logger)
		}

		if cc.Contact.ID == "" || !cc.Contact.Active || cc.Contact.OptedOut {
			if err := w.repo.ContactFailed(ctx, cc, reasonInactive, w.now(), false); err != nil && !errors.Is(err, store.ErrNotClaimed) {
				return "", err
			}
			metrics.MessagesTotal.WithLabelValues("skipped").Inc()
			w.progress(ctx, tenant.ID, campaign.ID)
			continue
		}

		if pacing.ShouldCheckQuota(i) {
			sent, limit, err := w.repo.Usage(ctx, tenant.ID)
			if err != nil {
				return "", err
			}
			if pacing.QuotaExceeded(sent, limit) {
				logger.Warn().Int("sent", sent).Int("limit", limit).Msg("Monthly quota reached, pausing campaign")
				if err := w.repo.PauseCampaign(ctx, campaign.ID, models.PauseQuota); err != nil {
					if errors.Is(err, store.ErrNotClaimed) {
						return OutcomeStopped, nil
					}
					return "", err
				}
				w.progress(ctx, tenant.ID, campaign.ID)
				return OutcomeQuotaPaused, nil
			}
		}

		if held, err := w.hold(ctx, j, lease, 0, logger); err != nil {
			return "", err
		} else if !held {
			return OutcomeStopped, nil
		}
		if err := w.repo.ClaimContact(ctx, cc.ID); err != nil {
			if errors.Is(err, store.ErrNotClaimed) {
				continue
			}
			return "", err
		}

		if err := w.deliver(ctx, tenant, campaign, cc); err != nil {
			return "", err
		}
		w.progress(ctx, tenant.ID, campaign.ID)

		if i < len(contacts)-1 {
			delay := pacing.HumanDelay(campaign.DelayMinSeconds, campaign.DelayMaxSeconds, w.rand)
			if held, err := w.hold(ctx, j, lease, delay, logger); err != nil {
				return "", err
			} else if !held {
				return OutcomeStopped, nil
			}
			if err := w.sleep(ctx, delay); err != nil {
				return "", err
			}
		}
	}

	remaining, err := w.repo.CountQueued(ctx, campaign.ID)
	if err != nil {
		return "", err
	}
	if remaining > 0 {
		return OutcomeStopped, nil
	}
	return w.finish(ctx, tenant.ID, campaign.ID)
}

// deliver sends to one claimed contact and records the terminal status. It
// only returns an error when the outcome could not be persisted or ctx ended.
func (w *Worker) deliver(ctx context.Context, tenant *models.Tenant, campaign *models.Campaign, cc *models.CampaignContact) error {
	logger := log.With().Str("campaign_id", campaign.ID).Str("phone", cc.Contact.Phone).Logger()

	msgID, sendErr := w.send(ctx, tenant.WAInstanceID, campaign, cc.Contact)
	if sendErr != nil && ctx.Err() != nil {
		if err := w.repo.ReleaseContact(context.WithoutCancel(ctx), cc.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to requeue interrupted contact")
		}
		return ctx.Err()
	}

	if sendErr != nil {
		logger.Warn().Err(sendErr).Msg("Send failed")
		metrics.MessagesTotal.WithLabelValues(models.DeliveryFailed).Inc()
		err := w.repo.ContactFailed(ctx, cc, sendErr.Error(), w.now(), true)
		if err != nil && !errors.Is(err, store.ErrNotClaimed) {
			return err
		}
		return nil
	}

	metrics.MessagesTotal.WithLabelValues(models.DeliverySent).Inc()
	if err := w.repo.ContactSent(ctx, cc, msgID, w.now()); err != nil && !errors.Is(err, store.ErrNotClaimed) {
		return err
	}
	return nil
}

func (w *Worker) send(ctx context.Context, instance string, campaign *models.Campaign, contact models.Contact) (string, error) {
	text := message.Interpolate(campaign.Message, contact)

	if campaign.HasMedia() {
		caption := campaign.MediaCaption
		if caption == "" {
			caption = campaign.Message
		}
		caption = message.Interpolate(caption, contact)
		return w.gateway.SendMedia(ctx, instance, contact.Phone, campaign.MediaType, campaign.MediaURL, caption, whatsapp.SendOptions{})
	}

	opts := whatsapp.SendOptions{}
	if campaign.TypingSimulation {
		typing := pacing.TypingDelay(text)
		if err := w.gateway.SendPresence(ctx, instance, contact.Phone, whatsapp.PresenceComposing, typing); err != nil {
			log.Debug().Err(err).Str("phone", contact.Phone).Msg("Presence update failed")
		}
		if err := w.sleep(ctx, typing); err != nil {
			return "", err
		}
		opts.Presence = whatsapp.PresenceComposing
	}
	return w.gateway.SendText(ctx, instance, contact.Phone, text, opts)
}

// resumable reports whether a queued job may still drive the campaign. Only a
// pause the dispatcher made for the sending window is lifted by its own job.
func resumable(c *models.Campaign) bool {
	switch c.Status {
	case models.CampaignScheduled, models.CampaignRunning:
		return true
	case models.CampaignPaused:
		return c.PauseReason == models.PauseWindow
	}
	return false
}

// hold extends the campaign lease to cover the next d of work plus the usual
// TTL. When the lease is already gone the job is re-enqueued so the campaign
// is not left running with nobody draining it, and held is false.
func (w *Worker) hold(ctx context.Context, j Job, lease lock.Lease, d time.Duration, logger zerolog.Logger) (bool, error) {
	err := lease.Extend(ctx, w.lockTTL+d)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, lock.ErrNotHeld) {
		return false, fmt.Errorf("extend campaign lock: %w", err)
	}
	logger.Warn().Msg("Lost campaign lock, re-enqueueing")
	if _, err := w.queue.Enqueue(ctx, JobType, j, queue.Options{Priority: queue.PriorityDefault}); err != nil {
		return false, fmt.Errorf("re-enqueue campaign: %w", err)
	}
	return false, nil
}

func (w *Worker) pauseForWindow(ctx context.Context, j Job, tenantID, campaignID string, d pacing.Decision, logger zerolog.Logger) (Outcome, error) {
	if err := w.repo.PauseCampaign(ctx, campaignID, models.PauseWindow); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			return OutcomeStopped, nil
		}
		return "", err
	}
	if _, err := w.queue.Enqueue(ctx, JobType, j, queue.Options{Delay: d.Wait}); err != nil {
		return "", fmt.Errorf("reschedule campaign: %w", err)
	}
	logger.Info().Str("reason", d.Reason).Dur("wait", d.Wait).Msg("Outside sending window, campaign rescheduled")
	w.progress(ctx, tenantID, campaignID)
	return OutcomeWindowPaused, nil
}

func (w *Worker) finish(ctx context.Context, tenantID, campaignID string) (Outcome, error) {
	if err := w.repo.MarkCampaignDone(ctx, campaignID, w.now()); err != nil {
		return "", err
	}
	w.progress(ctx, tenantID, campaignID)
	return OutcomeDone, nil
}

func (w *Worker) progress(ctx context.Context, tenantID, campaignID string) {
	if w.notifier == nil {
		return
	}
	c, err := w.repo.GetCampaign(ctx, campaignID)
	if err != nil {
		return
	}
	w.notifier.CampaignProgress(tenantID, Progress{
		CampaignID: c.ID,
		Status:     c.Status,
		Total:      c.ContactsTotal,
		Sent:       c.ContactsSent,
		Failed:     c.ContactsFailed,
		Pending:    c.ContactsPending,
	})
}
