package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"zapflow/internal/metrics"
)

// Handler processes one job. Returning an error schedules a retry unless the
// error is Permanent or attempts are exhausted.
type Handler func(ctx context.Context, job *Job) error

type RunnerConfig struct {
	Concurrency int
	MaxAttempts int
	// Backoff is the first retry delay; it doubles on every attempt.
	Backoff   time.Duration
	Heartbeat time.Duration
}

// Runner is a bounded worker pool pulling from a Broker.
type Runner struct {
	broker   Broker
	cfg      RunnerConfig
	mu       sync.RWMutex
	handlers map[string]Handler
	active   sync.WaitGroup
}

func NewRunner(broker Broker, cfg RunnerConfig) *Runner {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 10 * time.Second
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = time.Minute
	}
	return &Runner{broker: broker, cfg: cfg, handlers: make(map[string]Handler)}
}

func (r *Runner) Handle(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Runner) handler(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}

// Run starts the workers and blocks until ctx is cancelled and every
// in-flight job has returned.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().Int("concurrency", r.cfg.Concurrency).Msg("Queue workers starting")
	for i := 0; i < r.cfg.Concurrency; i++ {
		r.active.Add(1)
		go r.worker(ctx, i)
	}
	r.active.Wait()
	log.Info().Msg("Queue workers stopped")
	return nil
}

func (r *Runner) worker(ctx context.Context, id int) {
	defer r.active.Done()
	for {
		job, err := r.broker.Reserve(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Int("worker", id).Msg("Reserve failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		r.process(ctx, job)
	}
}

// RetryDelay is the wait before attempt n+1 after n failed attempts.
func (r *Runner) RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return r.cfg.Backoff << uint(attempts-1)
}

func (r *Runner) process(ctx context.Context, job *Job) {
	logger := log.With().Str("job_id", job.ID).Str("job_type", job.Type).Logger()
	// broker bookkeeping must survive shutdown of the worker context
	bg := context.WithoutCancel(ctx)

	h, ok := r.handler(job.Type)
	if !ok {
		logger.Error().Msg("No handler registered, burying job")
		metrics.JobsTotal.WithLabelValues(job.Type, "unhandled").Inc()
		if err := r.broker.Bury(bg, job); err != nil {
			logger.Error().Err(err).Msg("Bury failed")
		}
		return
	}

	job.Attempts++
	stop := r.heartbeat(ctx, job)
	start := time.Now()
	err := safeCall(ctx, h, job)
	stop()
	metrics.JobDuration.WithLabelValues(job.Type).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		metrics.JobsTotal.WithLabelValues(job.Type, "ok").Inc()
		if err := r.broker.Ack(bg, job); err != nil {
			logger.Error().Err(err).Msg("Ack failed")
		}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// interrupted by shutdown: hand the job back without using an attempt
		job.Attempts--
		metrics.JobsTotal.WithLabelValues(job.Type, "interrupted").Inc()
		if err := r.broker.Retry(bg, job, 0); err != nil {
			logger.Error().Err(err).Msg("Requeue after shutdown failed")
		}
	case IsPermanent(err) || job.Attempts >= r.cfg.MaxAttempts:
		job.LastError = err.Error()
		metrics.JobsTotal.WithLabelValues(job.Type, "failed").Inc()
		logger.Error().Err(err).Int("attempts", job.Attempts).Msg("Job permanently failed")
		if err := r.broker.Bury(bg, job); err != nil {
			logger.Error().Err(err).Msg("Bury failed")
		}
	default:
		job.LastError = err.Error()
		delay := r.RetryDelay(job.Attempts)
		metrics.JobsTotal.WithLabelValues(job.Type, "retry").Inc()
		logger.Warn().Err(err).Int("attempts", job.Attempts).Dur("retry_in", delay).Msg("Job failed, retrying")
		if err := r.broker.Retry(bg, job, delay); err != nil {
			logger.Error().Err(err).Msg("Retry failed")
		}
	}
}

func (r *Runner) heartbeat(ctx context.Context, job *Job) func() {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(r.cfg.Heartbeat)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				if err := r.broker.Touch(ctx, job); err != nil {
					log.Warn().Err(err).Str("job_id", job.ID).Msg("Heartbeat failed")
				}
			}
		}
	}()
	return func() { close(done) }
}

func safeCall(ctx context.Context, h Handler, job *Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return h(ctx, job)
}
