package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/contexta-kb/internal/core"
)

// pollTimeout bounds each BRPOP so Dequeue notices cancellation.
const pollTimeout = 5 * time.Second

// RedisQueue keeps jobs in a Redis list so they survive API restarts and can
// be drained by workers in other processes.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(ctx context.Context, redisURL, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Str("queue", key).Msg("connected to redis")
	return NewRedisQueueWithClient(client, key), nil
}

func NewRedisQueueWithClient(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

var _ core.JobQueue = (*RedisQueue)(nil)

func (q *RedisQueue) Enqueue(ctx context.Context, job core.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", job.DocumentID, err)
	}
	return nil
}

// Dequeue pops from the tail so jobs come out in push order.
func (q *RedisQueue) Dequeue(ctx context.Context) (core.Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return core.Job{}, err
		}
		res, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return core.Job{}, ctx.Err()
			}
			return core.Job{}, fmt.Errorf("dequeue: %w", err)
		}

		var job core.Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Warn().Err(err).Str("payload", res[1]).Msg("dropping malformed job")
			continue
		}
		return job, nil
	}
}

func (q *RedisQueue) Close() error { return q.client.Close() }
