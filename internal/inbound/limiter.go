package inbound

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// senderLimiter applies a token bucket per sender id and periodically evicts
// idle entries.
type senderLimiter struct {
	limit   rate.Limit
	burst   int
	mu      sync.Mutex
	byKey   map[string]*limiterEntry
	hits    uint64
	idleTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newSenderLimiter creates a per-sender limiter; returns nil (meaning "allow
// everything") when the arguments are invalid.
func newSenderLimiter(rps float64, burst int) *senderLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &senderLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		byKey:   make(map[string]*limiterEntry),
		idleTTL: 10 * time.Minute,
	}
}

// allow reports whether one token can be consumed for the sender at now.
func (l *senderLimiter) allow(sender string, now time.Time) bool {
	if l == nil || sender == "" {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[sender]
	if !ok {
		e = &limiterEntry{
			limiter:  rate.NewLimiter(l.limit, l.burst),
			lastSeen: now,
		}
		l.byKey[sender] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	return allowed
}
