package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRequestInFlight = errors.New("a request with this idempotency key is still in progress")

const pendingMarker = "pending"

// IdempotencyStore remembers the outcome of client requests by their
// Idempotency-Key so a retried request gets the original result back.
type IdempotencyStore struct {
	client     *redis.Client
	ttl        time.Duration // how long a completed result is kept
	pendingTTL time.Duration // how long an unfinished claim blocks retries
}

// NewIdempotencyStore keeps completed results for ttl. A claim that is never
// completed or forgotten lapses after pendingTTL.
func NewIdempotencyStore(client *redis.Client, ttl, pendingTTL time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl, pendingTTL: pendingTTL}
}

func idempotencyKey(scope, key string) string {
	return keyPrefix + "idem:" + scope + ":" + key
}

// Begin claims key within scope. A first claim returns replay=false and the
// caller must follow up with Complete or Forget. If the key already completed
// its stored result is returned with replay=true.
func (s *IdempotencyStore) Begin(ctx context.Context, scope, key string) (result string, replay bool, err error) {
	k := idempotencyKey(scope, key)
	for attempt := 0; attempt < 2; attempt++ {
		ok, err := s.client.SetNX(ctx, k, pendingMarker, s.pendingTTL).Result()
		if err != nil {
			return "", false, fmt.Errorf("claim idempotency key: %w", err)
		}
		if ok {
			return "", false, nil
		}

		val, err := s.client.Get(ctx, k).Result()
		if errors.Is(err, redis.Nil) {
			// expired between SETNX and GET
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("read idempotency key: %w", err)
		}
		if val == pendingMarker {
			return "", false, ErrRequestInFlight
		}
		return val, true, nil
	}
	return "", false, ErrRequestInFlight
}

// Complete stores result for key.
func (s *IdempotencyStore) Complete(ctx context.Context, scope, key, result string) error {
	if err := s.client.Set(ctx, idempotencyKey(scope, key), result, s.ttl).Err(); err != nil {
		return fmt.Errorf("store idempotency result: %w", err)
	}
	return nil
}

// Forget drops a claim whose request failed, so it can be retried.
func (s *IdempotencyStore) Forget(ctx context.Context, scope, key string) error {
	if err := s.client.Del(ctx, idempotencyKey(scope, key)).Err(); err != nil {
		return fmt.Errorf("forget idempotency key: %w", err)
	}
	return nil
}
