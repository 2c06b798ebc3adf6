package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"job-feed-importer/internal/config"
	"job-feed-importer/internal/models"
)

// RedisQueue is a durable at-least-once channel for queue messages. Messages
// wait on a ready list, hold a lease in an inflight sorted set while a worker
// owns them, and sit in a scheduled sorted set between retry attempts. Payload
// and delivery-attempt count live in a per-message hash.
type RedisQueue struct {
	client        *redis.Client
	readyKey      string
	scheduledKey  string
	inflightKey   string
	dlqKey        string
	msgPrefix     string
	visibilityTTL time.Duration
}

// Delivery is one leased message. Attempt counts deliveries including this one.
type Delivery struct {
	ID      string
	Attempt int
	Message models.QueueMessage
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	return NewRedisQueueWithClient(client, cfg.VisibilityTimeout)
}

// NewRedisQueueWithClient wraps an existing client; used by tests.
func NewRedisQueueWithClient(client *redis.Client, visibility time.Duration) *RedisQueue {
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		readyKey:      "import:ready",
		scheduledKey:  "import:scheduled",
		inflightKey:   "import:inflight",
		dlqKey:        "import:dlq",
		msgPrefix:     "import:msg:",
		visibilityTTL: visibility,
	}
}

func (q *RedisQueue) msgKey(id string) string {
	return q.msgPrefix + id
}

// Enqueue stores the message payload and pushes it onto the ready list.
func (q *RedisQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}
	id := uuid.New().String()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.msgKey(id), "payload", payload, "attempts", 0)
	pipe.RPush(ctx, q.readyKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue message: %w", err)
	}
	return nil
}

// Dequeue pops one ready message and leases it with a visibility deadline.
// Returns nil when the queue is empty. The attempt counter increments on
// delivery, so redelivered messages count every hand-off to a worker.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	deadline := time.Now().Add(q.visibilityTTL).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.client, []string{q.readyKey, q.inflightKey}, deadline).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	id, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected type from dequeue script: %T", res)
	}

	attempts, err := q.client.HIncrBy(ctx, q.msgKey(id), "attempts", 1).Result()
	if err != nil {
		return nil, fmt.Errorf("increment attempts for %s: %w", id, err)
	}
	payload, err := q.client.HGet(ctx, q.msgKey(id), "payload").Result()
	if err == redis.Nil {
		// The message was acked while its id sat on the ready list after a
		// lease reclaim. Drop the orphaned id here, otherwise it cycles
		// between ready and inflight forever with no payload to process.
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.Del(ctx, q.msgKey(id))
		if _, cleanupErr := pipe.Exec(ctx); cleanupErr != nil {
			return nil, fmt.Errorf("drop vanished message %s: %w", id, cleanupErr)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load payload for %s: %w", id, err)
	}
	var msg models.QueueMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("unmarshal payload for %s: %w", id, err)
	}
	return &Delivery{ID: id, Attempt: int(attempts), Message: msg}, nil
}

// Ack removes a processed message from in-flight tracking along with its payload.
func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.Del(ctx, q.msgKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// Retry releases the lease and parks the message in the scheduled set until the
// backoff delay elapses. Payload and attempt count survive for redelivery.
func (q *RedisQueue) Retry(ctx context.Context, id string, delay time.Duration) error {
	due := time.Now().Add(delay).UnixMilli()
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(due), Member: id})
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetter moves an exhausted message's payload to the dead-letter list and
// drops the message from live tracking.
func (q *RedisQueue) DeadLetter(ctx context.Context, id string) error {
	payload, err := q.client.HGet(ctx, q.msgKey(id), "payload").Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("load payload for dead-letter %s: %w", id, err)
	}
	pipe := q.client.TxPipeline()
	if payload != "" {
		pipe.RPush(ctx, q.dlqKey, payload)
	}
	pipe.ZRem(ctx, q.inflightKey, id)
	pipe.Del(ctx, q.msgKey(id))
	_, err = pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due retries onto the ready list. Returns how many moved.
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
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// RequeueExpired reclaims leases whose visibility deadline passed, re-enqueuing
// the messages for redelivery.
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
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReadyDepth returns the current ready list length.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.readyKey).Result()
}

// DLQPeek reads up to count abandoned message payloads for inspection.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]models.QueueMessage, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.QueueMessage, 0, len(raw))
	for _, r := range raw {
		var msg models.QueueMessage
		if err := json.Unmarshal([]byte(r), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

var dequeueScript = redis.NewScript(`
local job = redis.call('LPOP', KEYS[1])
if job then
  redis.call('ZADD', KEYS[2], ARGV[1], job)
  return job
end
return nil
`)
