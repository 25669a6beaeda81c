// Package redisq holds the Redis-backed redrive queue: archived dead letter
// entries waiting to be replayed through the engine.
package redisq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	queueKey = "pulse:redrive"
	entryTTL = 24 * time.Hour
)

// Candidate is one archived dead letter entry queued for redrive. Entries
// with fewer redrive attempts are served first.
type Candidate struct {
	ID           string    `json:"id"`
	OperationKey string    `json:"operation_key"`
	JobName      string    `json:"job_name"`
	UserID       string    `json:"user_id"`
	Redrives     int       `json:"redrives"`
	ArchivedAt   time.Time `json:"archived_at"`
	LastAttempt  time.Time `json:"last_attempt,omitempty"`
}

// Queue is the Redis-backed redrive queue.
type Queue struct {
	rdb *redis.Client
}

// New connects to Redis and verifies the connection.
func New(url string) (*Queue, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &Queue{rdb: rdb}, nil
}

func entryKey(id string) string {
	return fmt.Sprintf("%s:%s", queueKey, id)
}

// Push queues a candidate. The payload expires after 24 hours; the sweep
// prunes queue members whose payload is gone.
func (q *Queue) Push(ctx context.Context, c *Candidate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	if err := q.rdb.Set(ctx, entryKey(c.ID), data, entryTTL).Err(); err != nil {
		return fmt.Errorf("set candidate: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(c.Redrives),
		Member: c.ID,
	}).Err(); err != nil {
		return fmt.Errorf("add to queue: %w", err)
	}
	return nil
}

// Next returns the candidate with the fewest redrives, or nil when the
// queue is empty. A queue member whose payload has expired is pruned and
// nil is returned; the next call moves on.
func (q *Queue) Next(ctx context.Context) (*Candidate, error) {
	ids, err := q.rdb.ZRange(ctx, queueKey, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	id := ids[0]

	data, err := q.rdb.Get(ctx, entryKey(id)).Bytes()
	if err == redis.Nil {
		q.rdb.ZRem(ctx, queueKey, id)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get candidate: %w", err)
	}

	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("unmarshal candidate: %w", err)
	}
	return &c, nil
}

// IncrRedrive bumps a candidate's redrive count, pushing it behind fresher
// entries.
func (q *Queue) IncrRedrive(ctx context.Context, id string) error {
	data, err := q.rdb.Get(ctx, entryKey(id)).Bytes()
	if err != nil {
		return fmt.Errorf("get candidate: %w", err)
	}
	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return fmt.Errorf("unmarshal candidate: %w", err)
	}

	c.Redrives++
	c.LastAttempt = time.Now().UTC()

	updated, err := json.Marshal(&c)
	if err != nil {
		return fmt.Errorf("marshal candidate: %w", err)
	}
	if err := q.rdb.Set(ctx, entryKey(id), updated, entryTTL).Err(); err != nil {
		return fmt.Errorf("set candidate: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, queueKey, redis.Z{
		Score:  float64(c.Redrives),
		Member: id,
	}).Err(); err != nil {
		return fmt.Errorf("update queue: %w", err)
	}
	return nil
}

// Resolve removes a candidate from the queue.
func (q *Queue) Resolve(ctx context.Context, id string) error {
	if err := q.rdb.ZRem(ctx, queueKey, id).Err(); err != nil {
		return fmt.Errorf("remove from queue: %w", err)
	}
	if err := q.rdb.Del(ctx, entryKey(id)).Err(); err != nil {
		return fmt.Errorf("delete candidate: %w", err)
	}
	return nil
}

// Len returns the number of queued candidates.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n, err := q.rdb.ZCard(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard: %w", err)
	}
	return int(n), nil
}

// Ping reports whether Redis answers.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	return q.rdb.Close()
}
