package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed holder can block others.
	DefaultTTL = 2 * time.Minute
	// DefaultPoll is the retry interval while waiting for a held key.
	DefaultPoll = 250 * time.Millisecond

	keyPrefix = "cryptkeeper:lock:"
)

// releaseScript deletes the key only when it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// ErrLockLost is returned by Release when the key expired or changed hands.
var ErrLockLost = errors.New("lock: lost before release")

type redisClient interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Redis is a cross-process lock built on SET NX PX.
type Redis struct {
	client redisClient
	ttl    time.Duration
	poll   time.Duration
}

// NewRedis returns a Redis locker. Zero durations use the defaults.
func NewRedis(client redisClient, ttl, poll time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if poll <= 0 {
		poll = DefaultPoll
	}
	return &Redis{client: client, ttl: ttl, poll: poll}
}

// Acquire polls until the key is set by us or ctx is done.
func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	name := keyPrefix + key
	token := uuid.NewString()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, name, token, r.ttl).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire %s: %w", name, err)
		}
		if ok {
			return r.release(name, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) release(name, token string) Release {
	return func(ctx context.Context) error {
		n, err := r.client.Eval(ctx, releaseScript, []string{name}, token).Int64()
		if err != nil {
			return fmt.Errorf("release %s: %w", name, err)
		}
		if n == 0 {
			return ErrLockLost
		}
		return nil
	}
}
