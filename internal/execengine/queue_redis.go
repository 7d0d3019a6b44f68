package execengine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue backs the backpressure queue with a Redis sorted set, for
// deployments running more than one wave-executor process against the same
// masterplan. Score encodes (priority, enq_seq) as a single float so
// ZRANGEBYSCORE preserves the same total order as the in-process heap.
// Client usage (UniversalClient, key prefixing, TTL bookkeeping) follows
// the teacher's RedisRateLimiter idiom.
type RedisQueue struct {
	client    redis.UniversalClient
	keyPrefix string
	capacity  int
	threshold int
}

// NewRedisQueue constructs a distributed-mode queue for one masterplan's
// key namespace.
func NewRedisQueue(client redis.UniversalClient, keyPrefix string, capacity int, thresholdPct float64) *RedisQueue {
	if thresholdPct <= 0 {
		thresholdPct = 0.8
	}
	return &RedisQueue{
		client:    client,
		keyPrefix: keyPrefix,
		capacity:  capacity,
		threshold: int(float64(capacity)*thresholdPct + 0.5),
	}
}

func (q *RedisQueue) setKey() string { return q.keyPrefix + "queue:set" }
func (q *RedisQueue) seqKey() string { return q.keyPrefix + "queue:seq" }
func (q *RedisQueue) itemKey(atomID string) string { return q.keyPrefix + "queue:item:" + atomID }

// score packs priority into the integer part and enqSeq into a bounded
// fractional part so ordering matches (priority_asc, enq_seq_asc).
func score(priority int, seq uint64) float64 {
	return float64(priority) + float64(seq%1_000_000)/1_000_000.0
}

// Enqueue adds item to the distributed queue, rejecting when the set is at
// capacity.
func (q *RedisQueue) Enqueue(ctx context.Context, item QueueItem) error {
	size, err := q.client.ZCard(ctx, q.setKey()).Result()
	if err != nil {
		return fmt.Errorf("redis zcard: %w", err)
	}
	if int(size) >= q.capacity {
		return &RejectedError{Reason: RejectFull}
	}

	seq, err := q.client.Incr(ctx, q.seqKey()).Result()
	if err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.ZAdd(ctx, q.setKey(), redis.Z{Score: score(item.Priority, uint64(seq)), Member: item.AtomID})
	if !item.Deadline.IsZero() {
		ttl := time.Until(item.Deadline)
		if ttl > 0 {
			pipe.Set(ctx, q.itemKey(item.AtomID), strconv.FormatInt(item.Deadline.UnixNano(), 10), ttl)
		}
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis enqueue pipeline: %w", err)
	}
	return nil
}

// Dequeue pops the lowest-scoring member. Returns ok=false if empty.
func (q *RedisQueue) Dequeue(ctx context.Context) (atomID string, ok bool, err error) {
	res, err := q.client.ZPopMin(ctx, q.setKey(), 1).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis zpopmin: %w", err)
	}
	if len(res) == 0 {
		return "", false, nil
	}
	return res[0].Member.(string), true, nil
}

// AtCapacity reports whether the distributed set size has reached threshold.
func (q *RedisQueue) AtCapacity(ctx context.Context) (bool, error) {
	size, err := q.client.ZCard(ctx, q.setKey()).Result()
	if err != nil {
		return false, fmt.Errorf("redis zcard: %w", err)
	}
	return int(size) >= q.threshold, nil
}
