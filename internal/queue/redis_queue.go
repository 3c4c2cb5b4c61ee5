package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"civicbrief/internal/config"
	"civicbrief/internal/models"
)

// RedisQueue coordinates ready, in-flight, and scheduled job structures in
// Redis. Rows in Postgres stay authoritative; only job IDs travel here.
type RedisQueue struct {
	client        *redis.Client
	kinds         []string
	inflightKey   string
	scheduledKey  string
	jobMetaPrefix string
	visibilityTTL time.Duration
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	kinds := cfg.JobKinds
	if len(kinds) == 0 {
		kinds = []string{models.KindBrief, models.KindNews, models.KindImage}
	}
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 15 * time.Minute
	}
	return &RedisQueue{
		client:        client,
		kinds:         kinds,
		inflightKey:   "queue:inflight",
		scheduledKey:  "queue:scheduled",
		jobMetaPrefix: "queue:jobmeta:",
		visibilityTTL: visibility,
	}
}

// NewRedisQueueWithClient is used by tests to point the queue at miniredis.
func NewRedisQueueWithClient(client *redis.Client, kinds []string, visibility time.Duration) *RedisQueue {
	return &RedisQueue{
		client:        client,
		kinds:         kinds,
		inflightKey:   "queue:inflight",
		scheduledKey:  "queue:scheduled",
		jobMetaPrefix: "queue:jobmeta:",
		visibilityTTL: visibility,
	}
}

func (q *RedisQueue) readyKey(kind string) string {
	return fmt.Sprintf("queue:ready:%s", kind)
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// Enqueue inserts a job into either the scheduled set or its kind's ready queue.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID, kind string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "kind", kind)
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	} else {
		pipe.RPush(ctx, q.readyKey(kind), jobID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule moves a job into the scheduled set for deferred execution
// (retry backoff lands here).
func (q *RedisQueue) Schedule(ctx context.Context, jobID, kind string, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "kind", kind)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled jobs into ready queues. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		kind := q.kindFor(ctx, id)
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey(kind), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops a job from the given kinds' ready queues and places
// it into inflight with a visibility timeout. The Lua script makes the
// pop+lease a single atomic step so two workers can never lease the same ID.
func (q *RedisQueue) DequeueWithLease(ctx context.Context, kinds ...string) (string, error) {
	if len(kinds) == 0 {
		kinds = q.kinds
	}
	keys := make([]string, 0, len(kinds)+1)
	for _, k := range kinds {
		keys = append(keys, q.readyKey(k))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight job.
// Brief generation regularly outlives the default lease, so the worker
// extends it between pipeline stages.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes a job from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing them.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		kind := q.kindFor(ctx, id)
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey(kind), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReadyDepth returns the total length of all ready queues.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	pipe := q.client.Pipeline()
	cmds := make([]*redis.IntCmd, 0, len(q.kinds))
	for _, k := range q.kinds {
		cmds = append(cmds, pipe.LLen(ctx, q.readyKey(k)))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	var total int64
	for _, c := range cmds {
		total += c.Val()
	}
	return total, nil
}

func (q *RedisQueue) kindFor(ctx context.Context, jobID string) string {
	kind, err := q.client.HGet(ctx, q.metaKey(jobID), "kind").Result()
	if err != nil || kind == "" {
		return models.KindBrief
	}
	return kind
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
