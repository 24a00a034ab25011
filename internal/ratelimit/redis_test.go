package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisLimiter(t *testing.T, limits map[Class]Limit, clk *fakeClock) *RedisSlidingWindow {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisSlidingWindow(client, "test:ratelimit", limits, WithRedisClock(clk.Now))
}

func TestRedisSlidingWindow_AdmitRejectReadmit(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestRedisLimiter(t, map[Class]Limit{
		ClassChat: {Max: 3, Window: time.Minute},
	}, clk)

	for i := 0; i < 3; i++ {
		if !l.Allow("alice", ClassChat) {
			t.Fatalf("call %d: expected admit", i+1)
		}
	}
	if l.Allow("alice", ClassChat) {
		t.Fatalf("call 4: expected reject")
	}

	clk.Advance(61 * time.Second)
	if !l.Allow("alice", ClassChat) {
		t.Fatalf("expected admit after the window slid forward")
	}
}

func TestRedisSlidingWindow_FailsClosed(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := NewRedisSlidingWindow(client, "", map[Class]Limit{
		ClassChat: {Max: 3, Window: time.Minute},
	}, WithRedisClock(clk.Now))

	mr.Close()
	if l.Allow("alice", ClassChat) {
		t.Fatalf("expected reject when redis is unreachable")
	}
}

func TestRedisSlidingWindow_UnconfiguredClassUnmetered(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	l := newTestRedisLimiter(t, map[Class]Limit{}, clk)
	if !l.Allow("alice", ClassAudio) {
		t.Fatalf("unconfigured class must not reject")
	}
}
