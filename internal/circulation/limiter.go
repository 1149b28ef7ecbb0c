// internal/circulation/limiter.go
package circulation

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long a username's bucket survives without borrows.
const limiterIdleTTL = 10 * time.Minute

type userBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userLimiter keeps one token bucket per username and drops buckets that
// have been idle for longer than limiterIdleTTL.
type userLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*userBucket
	lastSweep time.Time
	now       func() time.Time
}

func newUserLimiter(perSecond float64, burst int) *userLimiter {
	if burst < 1 {
		burst = 1
	}
	return &userLimiter{
		limit:     rate.Limit(perSecond),
		burst:     burst,
		buckets:   make(map[string]*userBucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// allow reports whether username may borrow now. A non-positive rate
// disables limiting.
func (l *userLimiter) allow(username string) bool {
	if l == nil || l.limit <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= limiterIdleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[username]
	if !ok {
		b = &userBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[username] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle for limiterIdleTTL. Callers hold mu.
func (l *userLimiter) sweep(now time.Time) {
	for name, b := range l.buckets {
		if now.Sub(b.lastSeen) >= limiterIdleTTL {
			delete(l.buckets, name)
		}
	}
	l.lastSweep = now
}
