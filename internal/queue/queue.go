// Package queue provides the durable job queue used for campaign dispatch:
// delayed and prioritized enqueue, at-least-once delivery with retries, and a
// bounded worker pool.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Priorities follow the "lower runs first" convention.
const (
	PriorityHigh    = 1
	PriorityDefault = 5
	PriorityLow     = 9
)

var ErrClosed = errors.New("queue closed")

// Job is one unit of work as stored by a broker.
type Job struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Priority   int             `json:"priority"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error,omitempty"`
}

// Decode unmarshals the payload into v.
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

type Options struct {
	Priority int
	Delay    time.Duration
}

// Queue is the producer side.
type Queue interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error)
}

// Broker is the storage side consumed by Runner.
type Broker interface {
	Queue
	// Reserve blocks until a job is ready or ctx is done.
	Reserve(ctx context.Context) (*Job, error)
	// Touch keeps a reserved job from being considered abandoned.
	Touch(ctx context.Context, job *Job) error
	Ack(ctx context.Context, job *Job) error
	Retry(ctx context.Context, job *Job, delay time.Duration) error
	// Bury moves a job that exhausted its attempts out of the queue.
	Bury(ctx context.Context, job *Job) error
}

func normalizePriority(p int) int {
	if p <= 0 {
		return PriorityDefault
	}
	if p > PriorityLow {
		return PriorityLow
	}
	return p
}

func newJob(id, jobType string, payload interface{}, priority int, now time.Time) (*Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:         id,
		Type:       jobType,
		Payload:    raw,
		Priority:   normalizePriority(priority),
		EnqueuedAt: now,
	}, nil
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
