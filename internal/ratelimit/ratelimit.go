package ratelimit

import (
	"sync"
	"time"
)

// Class is a named category of request with its own quota. Classes never
// share counters.
type Class string

const (
	ClassChat       Class = "chat"
	ClassFileUpload Class = "file_upload"
	ClassAudio      Class = "audio"
	ClassAuth       Class = "auth"
)

// Limit is the quota for one class: at most Max admissions within the
// trailing Window.
type Limit struct {
	Max    int
	Window time.Duration
}

// DefaultLimits returns the stock per-class quotas.
func DefaultLimits() map[Class]Limit {
	return map[Class]Limit{
		ClassChat:       {Max: 30, Window: time.Minute},
		ClassFileUpload: {Max: 10, Window: 5 * time.Minute},
		ClassAudio:      {Max: 20, Window: time.Minute},
		ClassAuth:       {Max: 5, Window: 5 * time.Minute},
	}
}

// Limiter admits or rejects a request for an identity under a class.
// Rejection is a normal outcome, not an error.
type Limiter interface {
	Allow(identity string, class Class) bool
	LimitInfo(class Class) (Limit, bool)
}

// SlidingWindow is an in-memory sliding-window limiter. For every
// (class, identity) pair it keeps the timestamps of past admissions,
// prunes those older than the window on each call, and admits only while
// fewer than Max remain. State is process-local and resets on restart:
// admission control is soft backpressure, not an audit log.
type SlidingWindow struct {
	mu     sync.Mutex
	limits map[Class]Limit
	hits   map[Class]map[string][]time.Time
	now    func() time.Time
}

type Option func(*SlidingWindow)

// WithClock overrides the limiter's clock. Tests use this to advance
// time deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *SlidingWindow) { l.now = now }
}

func NewSlidingWindow(limits map[Class]Limit, opts ...Option) *SlidingWindow {
	if limits == nil {
		limits = DefaultLimits()
	}
	l := &SlidingWindow{
		limits: limits,
		hits:   make(map[Class]map[string][]time.Time),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow reports whether the identity may proceed under the class.
// A rejected call records nothing. Classes without a configured limit
// are unmetered.
func (l *SlidingWindow) Allow(identity string, class Class) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, ok := l.limits[class]
	if !ok {
		return true
	}

	now := l.now()
	cutoff := now.Add(-limit.Window)

	table := l.hits[class]
	if table == nil {
		table = make(map[string][]time.Time)
		l.hits[class] = table
	}

	stamps := table[identity]
	drop := 0
	for drop < len(stamps) && !stamps[drop].After(cutoff) {
		drop++
	}
	stamps = stamps[drop:]

	if len(stamps) >= limit.Max {
		table[identity] = stamps
		return false
	}

	table[identity] = append(stamps, now)
	return true
}

func (l *SlidingWindow) LimitInfo(class Class) (Limit, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	limit, ok := l.limits[class]
	return limit, ok
}

// Unlimited admits everything. Internal callers (the reply worker) use it
// so assistant appends never consume a user's quota.
type Unlimited struct{}

func (Unlimited) Allow(string, Class) bool       { return true }
func (Unlimited) LimitInfo(Class) (Limit, bool)  { return Limit{}, false }
