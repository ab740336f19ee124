package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisBroker(t *testing.T) (*RedisBroker, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	b := NewRedisBroker(rdb, "test:queue")
	b.pollInterval = 10 * time.Millisecond
	return b, rdb
}

func reserveWithin(b Broker, d time.Duration) (*Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return b.Reserve(ctx)
}

func TestRedisBrokerOrdersByPriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	b, _ := newRedisBroker(t)

	_, err := b.Enqueue(ctx, "t", payload{1}, Options{})
	require.NoError(t, err)
	// scores carry millisecond enqueue time
	time.Sleep(2 * time.Millisecond)
	_, err = b.Enqueue(ctx, "t", payload{2}, Options{})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = b.Enqueue(ctx, "t", payload{3}, Options{Priority: PriorityHigh})
	require.NoError(t, err)

	var got []int
	for i := 0; i < 3; i++ {
		job := reserve(t, b)
		assert.Equal(t, "t", job.Type)
		var p payload
		require.NoError(t, job.Decode(&p))
		got = append(got, p.N)
	}
	assert.Equal(t, []int{3, 1, 2}, got)
}

func TestRedisBrokerPromotesDelayedJobs(t *testing.T) {
	ctx := context.Background()
	b, rdb := newRedisBroker(t)

	id, err := b.Enqueue(ctx, "t", payload{1}, Options{Delay: 200 * time.Millisecond})
	require.NoError(t, err)

	n, err := rdb.ZCard(ctx, "test:queue:delayed").Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = reserveWithin(b, 50*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	job, err := reserveWithin(b, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)

	n, err = rdb.ZCard(ctx, "test:queue:delayed").Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisBrokerRequeuesExpiredReservations(t *testing.T) {
	ctx := context.Background()
	b, rdb := newRedisBroker(t)
	b.visibility = 100 * time.Millisecond

	id, err := b.Enqueue(ctx, "t", payload{1}, Options{})
	require.NoError(t, err)
	first := reserve(t, b)
	assert.Equal(t, id, first.ID)

	before, err := rdb.ZScore(ctx, "test:queue:active", id).Result()
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Touch(ctx, first))
	after, err := rdb.ZScore(ctx, "test:queue:active", id).Result()
	require.NoError(t, err)
	assert.Greater(t, after, before)

	_, err = reserveWithin(b, 20*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the holder stopped heartbeating
	time.Sleep(150 * time.Millisecond)
	again, err := reserveWithin(b, time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)
}

func TestRedisBrokerAckRemovesJob(t *testing.T) {
	ctx := context.Background()
	b, rdb := newRedisBroker(t)

	_, err := b.Enqueue(ctx, "t", payload{1}, Options{})
	require.NoError(t, err)
	job := reserve(t, b)
	require.NoError(t, b.Ack(ctx, job))

	for _, key := range []string{"test:queue:jobs", "test:queue:prio"} {
		n, err := rdb.HLen(ctx, key).Result()
		require.NoError(t, err)
		assert.Zero(t, n, key)
	}
	n, err := rdb.ZCard(ctx, "test:queue:active").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = reserveWithin(b, 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisBrokerRetryAndBury(t *testing.T) {
	ctx := context.Background()
	b, rdb := newRedisBroker(t)

	id, err := b.Enqueue(ctx, "t", payload{1}, Options{})
	require.NoError(t, err)

	job := reserve(t, b)
	job.Attempts = 1
	job.LastError = "gateway timeout"
	require.NoError(t, b.Retry(ctx, job, 0))

	n, err := rdb.ZCard(ctx, "test:queue:active").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	job = reserve(t, b)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "gateway timeout", job.LastError)

	require.NoError(t, b.Bury(ctx, job))

	buried, err := rdb.LRange(ctx, "test:queue:buried", 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, buried, 1)
	assert.Contains(t, buried[0], id)

	n, err = rdb.HLen(ctx, "test:queue:jobs").Result()
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = reserveWithin(b, 30*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunnerWithRedisBroker(t *testing.T) {
	b, _ := newRedisBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan int, 1)
	r := NewRunner(b, RunnerConfig{Concurrency: 1, MaxAttempts: 2, Backoff: time.Millisecond})
	r.Handle("t", func(ctx context.Context, job *Job) error {
		var p payload
		if err := job.Decode(&p); err != nil {
			return err
		}
		done <- p.N
		return nil
	})

	_, err := b.Enqueue(ctx, "t", payload{7}, Options{})
	require.NoError(t, err)

	go r.Run(ctx)
	select {
	case n := <-done:
		assert.Equal(t, 7, n)
	case <-time.After(2 * time.Second):
		t.Fatal("job not handled")
	}
}
