package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tessera-crm/tessera/internal/validation"
)

// recalcQueueKey is the Redis list carrying on-demand recalculation triggers.
const recalcQueueKey = "tessera:queue:recalc"

// RecalcAllTarget is the queue message requesting a full recalculation of
// every active segment. Any other message is a single segment id.
const RecalcAllTarget = "*"

// Queue defines the interface for the recalculation trigger queue.
// Using an interface allows the API handlers and the worker to be tested
// against an in-memory implementation.
type Queue interface {
	// EnqueueRecalc pushes a trigger: a segment id, or RecalcAllTarget.
	EnqueueRecalc(ctx context.Context, target string) error

	// DequeueRecalc blocks up to timeout for the next trigger. It returns
	// an empty string (and nil error) when the timeout elapses with no
	// message.
	DequeueRecalc(ctx context.Context, timeout time.Duration) (string, error)

	// HealthCheck pings the backing store to ensure connectivity.
	HealthCheck(ctx context.Context) error

	// Close terminates the connection.
	Close() error
}

// Compile-time check to verify that RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// RedisQueue implements Queue on a Redis list (LPUSH producer, BRPOP
// consumer), preserving trigger order across API replicas.
type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue wraps an existing Redis client.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	validation.AssertNotNil(client, "redis client")
	return &RedisQueue{client: client}
}

// EnqueueRecalc pushes a trigger onto the queue.
func (q *RedisQueue) EnqueueRecalc(ctx context.Context, target string) error {
	if target == "" {
		return fmt.Errorf("recalc target cannot be empty")
	}
	if err := q.client.LPush(ctx, recalcQueueKey, target).Err(); err != nil {
		return fmt.Errorf("failed to enqueue recalc trigger %q: %w", target, err)
	}
	return nil
}

// DequeueRecalc pops the oldest trigger, blocking up to timeout.
func (q *RedisQueue) DequeueRecalc(ctx context.Context, timeout time.Duration) (string, error) {
	res, err := q.client.BRPop(ctx, timeout, recalcQueueKey).Result()
	if err != nil {
		// redis.Nil means the timeout elapsed without a message; that is
		// the normal idle path for the worker loop, not an error.
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to dequeue recalc trigger: %w", err)
	}
	// BRPop returns [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}
	return res[1], nil
}

// HealthCheck verifies the connection to the Redis server.
func (q *RedisQueue) HealthCheck(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Name returns the component name for readiness probes.
func (q *RedisQueue) Name() string {
	return "redis"
}

// Check implements the observability.Checker interface.
func (q *RedisQueue) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	return q.HealthCheck(ctx)
}
