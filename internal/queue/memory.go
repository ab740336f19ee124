package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type delayedJob struct {
	job   *Job
	runAt time.Time
}

type readyJob struct {
	job *Job
	seq uint64
}

// MemoryBroker keeps jobs in process. Jobs are lost on restart; it backs
// development mode and tests.
type MemoryBroker struct {
	mu      sync.Mutex
	ready   []readyJob
	delayed []delayedJob
	buried  []*Job
	seq     uint64
	notify  chan struct{}
	now     func() time.Time
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

func (m *MemoryBroker) Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error) {
	job, err := newJob(uuid.NewString(), jobType, payload, opts.Priority, m.now())
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.schedule(job, opts.Delay)
	m.mu.Unlock()
	m.wake()
	return job.ID, nil
}

// schedule must be called with mu held.
func (m *MemoryBroker) schedule(job *Job, delay time.Duration) {
	if delay > 0 {
		m.delayed = append(m.delayed, delayedJob{job: job, runAt: m.now().Add(delay)})
		return
	}
	m.seq++
	m.ready = append(m.ready, readyJob{job: job, seq: m.seq})
	sort.SliceStable(m.ready, func(i, j int) bool {
		if m.ready[i].job.Priority != m.ready[j].job.Priority {
			return m.ready[i].job.Priority < m.ready[j].job.Priority
		}
		return m.ready[i].seq < m.ready[j].seq
	})
}

func (m *MemoryBroker) wake() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// promote moves due delayed jobs to ready and returns the wait until the
// next delayed job, or zero when none remain. mu must be held.
func (m *MemoryBroker) promote() time.Duration {
	now := m.now()
	var next time.Duration
	kept := m.delayed[:0]
	var due []delayedJob
	for _, d := range m.delayed {
		if !d.runAt.After(now) {
			due = append(due, d)
			continue
		}
		kept = append(kept, d)
		if wait := d.runAt.Sub(now); next == 0 || wait < next {
			next = wait
		}
	}
	m.delayed = kept
	sort.SliceStable(due, func(i, j int) bool { return due[i].runAt.Before(due[j].runAt) })
	for _, d := range due {
		m.schedule(d.job, 0)
	}
	return next
}

func (m *MemoryBroker) Reserve(ctx context.Context) (*Job, error) {
	for {
		m.mu.Lock()
		next := m.promote()
		if len(m.ready) > 0 {
			job := m.ready[0].job
			m.ready = m.ready[1:]
			m.mu.Unlock()
			return job, nil
		}
		m.mu.Unlock()

		if next == 0 {
			next = time.Second
		}
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-m.notify:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (m *MemoryBroker) Touch(ctx context.Context, job *Job) error { return nil }

func (m *MemoryBroker) Ack(ctx context.Context, job *Job) error { return nil }

func (m *MemoryBroker) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	m.mu.Lock()
	m.schedule(job, delay)
	m.mu.Unlock()
	m.wake()
	return nil
}

func (m *MemoryBroker) Bury(ctx context.Context, job *Job) error {
	m.mu.Lock()
	m.buried = append(m.buried, job)
	m.mu.Unlock()
	return nil
}

// Pending returns ready plus delayed job counts.
func (m *MemoryBroker) Pending() (ready, delayed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready), len(m.delayed)
}

// Buried returns jobs that exhausted their attempts.
func (m *MemoryBroker) Buried() []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Job(nil), m.buried...)
}
