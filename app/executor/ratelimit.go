package executor

import (
	"sync"
	"time"
)

// rateWindow is a fixed-window counter with its own reset clock.
type rateWindow struct {
	name    string
	limit   int
	window  time.Duration
	count   int
	resetAt time.Time
}

// rateLimiter enforces per-minute, per-hour and per-day call budgets.
// A limit of zero disables that window.
type rateLimiter struct {
	mu      sync.Mutex
	windows []*rateWindow
	now     func() time.Time
}

func newRateLimiter(perMinute, perHour, perDay int) *rateLimiter {
	return &rateLimiter{
		windows: []*rateWindow{
			{name: "minute", limit: perMinute, window: time.Minute},
			{name: "hour", limit: perHour, window: time.Hour},
			{name: "day", limit: perDay, window: 24 * time.Hour},
		},
		now: time.Now,
	}
}

// allow consumes one call from every window, or none when any window is
// exhausted. The exhausted window's name is returned on denial.
func (l *rateLimiter) allow() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, w := range l.windows {
		if w.limit <= 0 {
			continue
		}
		if now.After(w.resetAt) {
			w.count = 0
			w.resetAt = now.Add(w.window)
		}
		if w.count >= w.limit {
			return false, w.name
		}
	}
	for _, w := range l.windows {
		if w.limit > 0 {
			w.count++
		}
	}
	return true, ""
}
