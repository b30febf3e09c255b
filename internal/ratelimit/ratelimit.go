// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleAfter is how long a bucket may go unused before it is dropped.
const idleAfter = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed is a set of token buckets indexed by an arbitrary string key, e.g.
// a client IP or an OTP challenge key. Idle buckets are swept lazily.
type Keyed struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

// New returns a Keyed limiter granting perSecond tokens with the given burst.
// A non-positive perSecond disables limiting.
func New(perSecond float64, burst int) *Keyed {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Keyed{
		buckets: make(map[string]*bucket),
		limit:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (k *Keyed) WithClock(now func() time.Time) *Keyed {
	k.now = now
	return k
}

// Allow consumes one token for key and reports whether it was available.
func (k *Keyed) Allow(key string) bool {
	_, ok := k.Reserve(key)
	return ok
}

// Reserve consumes one token for key. When none is available it returns
// false along with how long the caller should wait before retrying.
func (k *Keyed) Reserve(key string) (time.Duration, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.sweepLocked(now)

	b, ok := k.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return 0, false
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return d, false
	}
	return 0, true
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

func (k *Keyed) sweepLocked(now time.Time) {
	if now.Sub(k.lastSweep) < time.Minute {
		return
	}
	k.lastSweep = now
	for key, b := range k.buckets {
		if now.Sub(b.lastSeen) > idleAfter {
			delete(k.buckets, key)
		}
	}
}
