package broker

import (
	"time"

	"golang.org/x/time/rate"
)

const (
	visitorIdle  = 10 * time.Minute
	visitorSweep = 1024
)

// joinLimiter is a per-IP token bucket for join requests. Six symbols
// leave a small enough space that unthrottled scanning would find rooms.
// Only the hub goroutine touches it.
type joinLimiter struct {
	limit    rate.Limit
	burst    int
	clock    Clock
	visitors map[string]*visitor
}

type visitor struct {
	lim  *rate.Limiter
	seen time.Time
}

func newJoinLimiter(perSecond float64, burst int, clock Clock) *joinLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &joinLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		clock:    clock,
		visitors: make(map[string]*visitor),
	}
}

// Allow reports whether ip may join now. A nil limiter allows everything.
func (l *joinLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}

	now := l.clock.Now()
	if len(l.visitors) >= visitorSweep {
		l.prune(now.Add(-visitorIdle))
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.seen = now
	return v.lim.AllowN(now, 1)
}

func (l *joinLimiter) prune(before time.Time) {
	for ip, v := range l.visitors {
		if v.seen.Before(before) {
			delete(l.visitors, ip)
		}
	}
}
