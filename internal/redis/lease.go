package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	ErrLeaseHeld = errors.New("writer lease is held by another process")
	ErrLeaseLost = errors.New("writer lease lost")
)

// Lease is an exclusive, expiring claim on a name. The api-server holds one
// for as long as it owns the in-memory scheduling state.
type Lease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
	logger zerolog.Logger
}

func leaseKey(name string) string {
	return keyPrefix + "lease:" + name
}

// AcquireLease claims name for ttl, failing with ErrLeaseHeld if another
// holder's claim has not yet expired.
func AcquireLease(ctx context.Context, client *redis.Client, name string, ttl time.Duration, logger zerolog.Logger) (*Lease, error) {
	l := &Lease{
		client: client,
		key:    leaseKey(name),
		token:  uuid.NewString(),
		ttl:    ttl,
		logger: logger.With().Str("lease", name).Logger(),
	}
	ok, err := client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return l, nil
}

func (l *Lease) Token() string {
	return l.token
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
  return 0
end
`)

// Renew pushes the expiry out by a full ttl. It returns ErrLeaseLost when the
// key expired or now belongs to someone else.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Keep renews the lease every third of its ttl until ctx is done. It returns
// ErrLeaseLost if the lease is taken over, or if renewals keep failing for
// longer than the ttl.
func (l *Lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()

	lastRenewed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := l.Renew(ctx)
			switch {
			case err == nil:
				lastRenewed = time.Now()
			case errors.Is(err, ErrLeaseLost):
				return err
			case ctx.Err() != nil:
				return nil
			default:
				l.logger.Warn().Err(err).Msg("lease renewal failed")
				if time.Since(lastRenewed) >= l.ttl {
					return fmt.Errorf("%w: %v", ErrLeaseLost, err)
				}
			}
		}
	}
}

// Release gives the lease up if it is still ours.
func (l *Lease) Release(ctx context.Context) error {
	return release(ctx, l.client, l.key, l.token)
}
