package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"zapflow/internal/dispatch"
	"zapflow/internal/lock"
	"zapflow/internal/metrics"
	"zapflow/internal/models"
	"zapflow/internal/queue"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

const (
	DefaultPollInterval = time.Minute
	DefaultBatchSize    = 100
	// DefaultClaimTTL is how long a campaign is left alone after being
	// enqueued, so a slow queue does not collect one job per tick.
	DefaultClaimTTL = 5 * time.Minute

	LockKeyPrefix = "scheduler:campaign:"
)

type Repository interface {
	DueCampaigns(ctx context.Context, now time.Time, limit int) ([]models.Campaign, error)
	ResetMonthlyUsage(ctx context.Context, monthStart time.Time) (int64, error)
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	ClaimTTL     time.Duration
	// Location decides where a billing month begins. Defaults to UTC.
	Location *time.Location
}

// Poller enqueues scheduled campaigns once their time arrives.
type Poller struct {
	repo   Repository
	queue  queue.Queue
	locker lock.Locker
	config Config
	now    func() time.Time

	// month whose usage reset already ran in this process
	resetMonth time.Time

	stopCh   chan struct{}
	stoppedC chan struct{}
	running  bool
	mu       sync.Mutex
}

func NewPoller(repo Repository, q queue.Queue, locker lock.Locker, config Config) *Poller {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.ClaimTTL <= 0 {
		config.ClaimTTL = DefaultClaimTTL
	}
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &Poller{
		repo:   repo,
		queue:  q,
		locker: locker,
		config: config,
		now:    time.Now,
	}
}

// Start runs one cycle immediately and then one per poll interval until
// Stop is called or ctx ends.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.stoppedC = make(chan struct{})
	p.mu.Unlock()

	log.Info().Dur("interval", p.config.PollInterval).Int("batch_size", p.config.BatchSize).Msg("Scheduler started")
	go p.pollLoop(ctx, p.stopCh, p.stoppedC)
	return nil
}

func (p *Poller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	stopCh, stoppedC := p.stopCh, p.stoppedC
	p.mu.Unlock()

	close(stopCh)
	select {
	case <-stoppedC:
		log.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("Scheduler shutdown timed out")
		return ctx.Err()
	}
}

func (p *Poller) pollLoop(ctx context.Context, stopCh, stoppedC chan struct{}) {
	defer close(stoppedC)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *Poller) cycle(ctx context.Context) {
	if _, err := p.RunOnce(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Scheduling cycle failed")
	}
	if _, err := p.ResetUsage(ctx); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Monthly usage reset failed")
	}
}

// MonthStart returns midnight of the first day of t's month in loc.
func MonthStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
}

// ResetUsage zeroes monthly message counters once per billing month. The
// store only touches tenants not reset since the month began, so several
// processes racing on the boundary reset each tenant once.
func (p *Poller) ResetUsage(ctx context.Context) (int64, error) {
	month := MonthStart(p.now(), p.config.Location)
	if month.Equal(p.resetMonth) {
		return 0, nil
	}
	n, err := p.repo.ResetMonthlyUsage(ctx, month)
	if err != nil {
		return 0, err
	}
	p.resetMonth = month
	if n > 0 {
		log.Info().Int64("tenants", n).Time("month", month).Msg("Monthly usage reset")
	}
	return n, nil
}

// RunOnce enqueues every due campaign not enqueued within the claim TTL and
// returns how many jobs were added. Campaign status is left to the worker.
func (p *Poller) RunOnce(ctx context.Context) (int, error) {
	due, err := p.repo.DueCampaigns(ctx, p.now(), p.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	enqueued, skipped := 0, 0
	for _, c := range due {
		logger := log.With().Str("campaign_id", c.ID).Str("tenant_id", c.TenantID).Logger()

		// held until expiry unless the enqueue fails
		claim, err := p.locker.Acquire(ctx, LockKeyPrefix+c.ID, p.config.ClaimTTL)
		if err != nil {
			if errors.Is(err, lock.ErrNotAcquired) {
				skipped++
				continue
			}
			logger.Warn().Err(err).Msg("Failed to claim scheduled campaign")
			continue
		}

		jobID, err := p.queue.Enqueue(ctx, dispatch.JobType,
			dispatch.Job{CampaignID: c.ID, TenantID: c.TenantID},
			queue.Options{Priority: queue.PriorityDefault})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to enqueue scheduled campaign")
			_ = claim.Release(ctx)
			continue
		}
		enqueued++
		metrics.SchedulerEnqueued.Inc()
		logger.Info().Str("job_id", jobID).Msg("Scheduled campaign enqueued")
	}

	log.Debug().Int("enqueued", enqueued).Int("skipped", skipped).Msg("Scheduling cycle completed")
	return enqueued, nil
}
