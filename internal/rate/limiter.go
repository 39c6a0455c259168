package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const incrWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

var incrWindowLua = redis.NewScript(incrWindowScript)

// Config holds refresh throttle parameters.
type Config struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	Prefix      string
}

// Limiter bounds how often one token family may be refreshed.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = "gt"
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// CheckRefresh counts one refresh attempt for family and returns
// [ErrRateLimited] once the window budget is exceeded.
func (l *Limiter) CheckRefresh(ctx context.Context, family string) error {
	if l == nil || !l.config.Enabled || l.redis == nil {
		return nil
	}

	count, err := incrWindowLua.Run(ctx, l.redis, []string{l.key(family)}, l.config.Window.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(l.config.MaxAttempts) {
		return ErrRateLimited
	}
	return nil
}

// Attempts returns the attempts counted in the current window.
func (l *Limiter) Attempts(ctx context.Context, family string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(family)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the counter of family, e.g. once the family is revoked.
func (l *Limiter) Reset(ctx context.Context, family string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	if err := l.redis.Del(ctx, l.key(family)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) key(family string) string {
	return l.config.Prefix + ":rl:" + family
}
