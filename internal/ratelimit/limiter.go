package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pruneThreshold is how many tracked clients trigger a sweep of idle ones.
const pruneThreshold = 1024

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages token buckets per client key (usually the remote IP).
type Limiter struct {
	clients map[string]*client
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	perHour int
	now     func() time.Time
}

// NewLimiter creates a new rate limiter
// requestsPerHour: total requests allowed per hour per client (e.g., 100); 0 disables limiting
// burst: max requests in a burst (e.g., 10)
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	// Convert requests per hour to requests per second
	r := rate.Limit(float64(requestsPerHour) / 3600.0)

	return &Limiter{
		clients: make(map[string]*client),
		rate:    r,
		burst:   burst,
		perHour: requestsPerHour,
		now:     time.Now,
	}
}

// Enabled reports whether requests are limited at all.
func (l *Limiter) Enabled() bool {
	return l.perHour > 0
}

// PerHour is the configured hourly allowance.
func (l *Limiter) PerHour() int {
	return l.perHour
}

// GetLimiter returns the rate limiter for a specific client
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c, exists := l.clients[key]
	if !exists {
		if len(l.clients) >= pruneThreshold {
			l.prune(now)
		}
		c = &client{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now

	return c.limiter
}

// Allow checks if a request is allowed for the given client
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.GetLimiter(key).AllowN(l.now(), 1)
}

// Tokens returns the current number of available tokens for a client
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).TokensAt(l.now())
}

// tracked returns how many keys are held.
func (l *Limiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// prune drops clients idle long enough for their bucket to have refilled.
// Callers hold l.mu.
func (l *Limiter) prune(now time.Time) {
	idle := time.Hour
	if l.rate > 0 {
		refill := time.Duration(float64(l.burst) / float64(l.rate) * float64(time.Second))
		if refill > idle {
			idle = refill
		}
	}
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > idle {
			delete(l.clients, key)
		}
	}
}
