package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// priorityBand separates priorities so that within a band jobs run in
// enqueue order (score = priority*band + enqueue millis).
const priorityBand = 1e13

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultVisibility   = 5 * time.Minute
	buriedMaxLen        = 1000
)

// reserveScript promotes due delayed jobs, requeues reservations whose
// visibility expired and pops the best ready job into the active set.
var reserveScript = redis.NewScript(`
local jobs, prio, delayed, ready, active = KEYS[1], KEYS[2], KEYS[3], KEYS[4], KEYS[5]
local now, expired = tonumber(ARGV[1]), tonumber(ARGV[2])

for _, id in ipairs(redis.call("ZRANGEBYSCORE", delayed, "-inf", now, "LIMIT", 0, 100)) do
	redis.call("ZREM", delayed, id)
	redis.call("ZADD", ready, redis.call("HGET", prio, id) or now, id)
end

for _, id in ipairs(redis.call("ZRANGEBYSCORE", active, "-inf", expired, "LIMIT", 0, 100)) do
	redis.call("ZREM", active, id)
	redis.call("ZADD", ready, redis.call("HGET", prio, id) or now, id)
end

local next = redis.call("ZRANGE", ready, 0, 0)
if #next == 0 then
	return false
end
local id = next[1]
redis.call("ZREM", ready, id)
redis.call("ZADD", active, now, id)
return redis.call("HGET", jobs, id)
`)

// RedisBroker stores jobs in Redis: a hash of job bodies, a delayed sorted
// set scored by run time, a ready sorted set scored by priority and an
// active set scored by last heartbeat.
type RedisBroker struct {
	rdb          redis.UniversalClient
	prefix       string
	pollInterval time.Duration
	visibility   time.Duration
}

func NewRedisBroker(rdb redis.UniversalClient, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "zapflow:queue"
	}
	return &RedisBroker{
		rdb:          rdb,
		prefix:       prefix,
		pollInterval: defaultPollInterval,
		visibility:   defaultVisibility,
	}
}

// NewRedisClient parses a redis:// URL and checks connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}
	return rdb, nil
}

func (b *RedisBroker) key(name string) string {
	return b.prefix + ":" + name
}

func (b *RedisBroker) keys() []string {
	return []string{b.key("jobs"), b.key("prio"), b.key("delayed"), b.key("ready"), b.key("active")}
}

func readyScore(job *Job) float64 {
	return float64(job.Priority)*priorityBand + float64(job.EnqueuedAt.UnixMilli())
}

func (b *RedisBroker) Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error) {
	job, err := newJob(uuid.NewString(), jobType, payload, opts.Priority, time.Now())
	if err != nil {
		return "", err
	}
	if err := b.put(ctx, job, opts.Delay); err != nil {
		return "", err
	}
	return job.ID, nil
}

func (b *RedisBroker) put(ctx context.Context, job *Job, delay time.Duration) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	score := readyScore(job)

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, b.key("jobs"), job.ID, body)
	pipe.HSet(ctx, b.key("prio"), job.ID, strconv.FormatFloat(score, 'f', 0, 64))
	pipe.ZRem(ctx, b.key("active"), job.ID)
	if delay > 0 {
		runAt := time.Now().Add(delay).UnixMilli()
		pipe.ZAdd(ctx, b.key("delayed"), redis.Z{Score: float64(runAt), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, b.key("ready"), redis.Z{Score: score, Member: job.ID})
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Reserve(ctx context.Context) (*Job, error) {
	for {
		now := time.Now()
		expired := now.Add(-b.visibility).UnixMilli()
		res, err := reserveScript.Run(ctx, b.rdb, b.keys(), now.UnixMilli(), expired).Text()
		switch {
		case err == nil && res != "":
			var job Job
			if err := json.Unmarshal([]byte(res), &job); err != nil {
				return nil, fmt.Errorf("decode job: %w", err)
			}
			return &job, nil
		case err != nil && !errors.Is(err, redis.Nil):
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.pollInterval):
		}
	}
}

func (b *RedisBroker) Touch(ctx context.Context, job *Job) error {
	return b.rdb.ZAddXX(ctx, b.key("active"), redis.Z{Score: float64(time.Now().UnixMilli()), Member: job.ID}).Err()
}

func (b *RedisBroker) Ack(ctx context.Context, job *Job) error {
	pipe := b.rdb.TxPipeline()
	pipe.ZRem(ctx, b.key("active"), job.ID)
	pipe.HDel(ctx, b.key("jobs"), job.ID)
	pipe.HDel(ctx, b.key("prio"), job.ID)
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBroker) Retry(ctx context.Context, job *Job, delay time.Duration) error {
	return b.put(ctx, job, delay)
}

func (b *RedisBroker) Bury(ctx context.Context, job *Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := b.rdb.TxPipeline()
	pipe.LPush(ctx, b.key("buried"), body)
	pipe.LTrim(ctx, b.key("buried"), 0, buriedMaxLen-1)
	pipe.ZRem(ctx, b.key("active"), job.ID)
	pipe.HDel(ctx, b.key("jobs"), job.ID)
	pipe.HDel(ctx, b.key("prio"), job.ID)
	_, err = pipe.Exec(ctx)
	return err
}
