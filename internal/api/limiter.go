package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterPruneAbove = 1024
)

// credentialLimiter is a token bucket per worker credential.
type credentialLimiter struct {
	perMinute int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

func newCredentialLimiter(perMinute int) *credentialLimiter {
	return &credentialLimiter{
		perMinute: perMinute,
		buckets:   make(map[string]*bucket),
	}
}

func (l *credentialLimiter) allow(credential string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[credential]
	if !ok {
		if len(l.buckets) >= limiterPruneAbove {
			l.pruneLocked(now)
		}
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(float64(l.perMinute)/60), l.perMinute)}
		l.buckets[credential] = b
	}
	b.lastUsed = now
	return b.limiter.AllowN(now, 1)
}

func (l *credentialLimiter) pruneLocked(now time.Time) {
	for c, b := range l.buckets {
		if now.Sub(b.lastUsed) > limiterIdleTTL {
			delete(l.buckets, c)
		}
	}
}
