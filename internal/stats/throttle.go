package stats

import (
	"sync"
	"time"
)

// DefaultThrottleTTL is how long the flag stays raised after On.
const DefaultThrottleTTL = 60 * time.Second

// Throttle is a process wide flag raised when an upstream reports throttling.
// It drops by itself once its TTL elapses.
type Throttle struct {
	mu    sync.Mutex
	until time.Time
	ttl   time.Duration
	now   func() time.Time
}

func NewThrottle(ttl time.Duration) *Throttle {
	return NewThrottleWithClock(ttl, time.Now)
}

func NewThrottleWithClock(ttl time.Duration, now func() time.Time) *Throttle {
	if ttl <= 0 {
		ttl = DefaultThrottleTTL
	}
	return &Throttle{ttl: ttl, now: now}
}

func (t *Throttle) On() {
	t.mu.Lock()
	t.until = t.now().Add(t.ttl)
	t.mu.Unlock()
}

func (t *Throttle) Off() {
	t.mu.Lock()
	t.until = time.Time{}
	t.mu.Unlock()
}

func (t *Throttle) IsOn() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now().Before(t.until)
}
