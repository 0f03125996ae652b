// internal/membership/ratelimit.go
package membership

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxLimiterKeys caps the buckets a keyedLimiter holds at once.
const maxLimiterKeys = 10_000

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter keeps one token bucket per key, e.g. per login email. A
// bucket idle for every*burst has refilled completely, so it is dropped
// and recreated on the next request without changing the outcome.
type keyedLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	every     time.Duration
	burst     int
	maxKeys   int
	lastSweep time.Time
	now       func() time.Time
}

func newKeyedLimiter(every time.Duration, burst int) *keyedLimiter {
	return &keyedLimiter{
		limiters: make(map[string]*limiterEntry),
		every:    every,
		burst:    burst,
		maxKeys:  maxLimiterKeys,
		now:      time.Now,
	}
}

func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	idle := k.every * time.Duration(k.burst)
	if now.Sub(k.lastSweep) >= idle {
		k.evictIdle(now, idle)
		k.lastSweep = now
	}

	e, ok := k.limiters[key]
	if !ok {
		if len(k.limiters) >= k.maxKeys {
			k.evictIdle(now, idle)
			if len(k.limiters) >= k.maxKeys {
				k.evictOldest()
			}
		}
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(k.every), k.burst)}
		k.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len returns the number of buckets currently held.
func (k *keyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

func (k *keyedLimiter) evictIdle(now time.Time, idle time.Duration) {
	for key, e := range k.limiters {
		if now.Sub(e.lastSeen) >= idle {
			delete(k.limiters, key)
		}
	}
}

func (k *keyedLimiter) evictOldest() {
	var (
		oldest string
		seen   time.Time
		found  bool
	)
	for key, e := range k.limiters {
		if !found || e.lastSeen.Before(seen) {
			oldest, seen, found = key, e.lastSeen, true
		}
	}
	if found {
		delete(k.limiters, oldest)
	}
}

type clientIPKey struct{}

// WithClientIP attaches the caller's address to ctx. Registration is
// throttled per address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIP(ctx context.Context) string {
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return "unknown"
}

// remoteIP strips the port from r.RemoteAddr, which middleware.RealIP has
// already replaced with the forwarded address when present.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
