package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

var slidingWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], 0, ARGV[1])
local count = redis.call("ZCARD", KEYS[1])
if count >= tonumber(ARGV[2]) then
  return 0
end
redis.call("ZADD", KEYS[1], ARGV[3], ARGV[4])
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return 1
`)

// RedisSlidingWindow is a redis-backed sliding-window limiter for
// multi-process deployments. Admissions live in a sorted set per
// (class, identity) key, scored by admission time; the Lua script keeps
// the prune-count-record sequence atomic. On redis failures it fails
// closed.
type RedisSlidingWindow struct {
	client *redis.Client
	prefix string
	limits map[Class]Limit
	now    func() time.Time
	seq    atomic.Int64
}

type RedisOption func(*RedisSlidingWindow)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(l *RedisSlidingWindow) { l.now = now }
}

func NewRedisSlidingWindow(client *redis.Client, prefix string, limits map[Class]Limit, opts ...RedisOption) *RedisSlidingWindow {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "chatstore:ratelimit"
	}
	if limits == nil {
		limits = DefaultLimits()
	}
	l := &RedisSlidingWindow{
		client: client,
		prefix: prefix,
		limits: limits,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisSlidingWindow) Allow(identity string, class Class) bool {
	limit, ok := l.limits[class]
	if !ok {
		return true
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = "unknown"
	}

	now := l.now()
	nowMs := now.UnixMilli()
	cutoffMs := nowMs - limit.Window.Milliseconds()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), l.seq.Add(1))
	key := fmt.Sprintf("%s:%s:%s", l.prefix, class, identity)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{key},
		cutoffMs, limit.Max, nowMs, member, limit.Window.Milliseconds(),
	).Int64()
	if err != nil {
		return false
	}
	return res == 1
}

func (l *RedisSlidingWindow) LimitInfo(class Class) (Limit, bool) {
	limit, ok := l.limits[class]
	return limit, ok
}
