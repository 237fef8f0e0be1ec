package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// counterTTL keeps a window's counter one second past the window itself.
const counterTTL = 2 * time.Second

// RedisLimiter counts requests in Redis, so console instances that share a
// server also share each credential's budget.
type RedisLimiter struct {
	cmd    redis.Cmdable
	prefix string
}

// NewRedisLimiter counts through cmd, naming counters under prefix.
func NewRedisLimiter(cmd redis.Cmdable, prefix string) *RedisLimiter {
	return &RedisLimiter{cmd: cmd, prefix: prefix}
}

// Allow increments the counter of key's current window inside MULTI/EXEC
// and admits the request while the count stays within limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, now time.Time) (Result, error) {
	if l == nil || l.cmd == nil || limit <= 0 || key == "" {
		return Result{Allowed: true}, nil
	}
	window := now.Unix()
	counter := l.counterKey(key, window)

	var incr *redis.IntCmd
	_, errExec := l.cmd.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, counter)
		pipe.Expire(ctx, counter, counterTTL)
		return nil
	})
	if errExec != nil {
		return Result{}, fmt.Errorf("rate limit redis: count %s: %w", counter, errExec)
	}

	result := Result{Reset: time.Unix(window+1, 0).UTC()}
	if count := incr.Val(); count <= int64(limit) {
		result.Allowed = true
		result.Remaining = limit - int(count)
	}
	return result, nil
}

// counterKey is "<prefix>:<key>:<unix second>", or "<key>:<unix second>" without a prefix.
func (l *RedisLimiter) counterKey(key string, window int64) string {
	name := key + ":" + strconv.FormatInt(window, 10)
	if l.prefix == "" {
		return name
	}
	return l.prefix + ":" + name
}
