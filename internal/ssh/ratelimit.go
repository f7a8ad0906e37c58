package ssh

import (
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces per-user command rate limits. Each user gets a token
// bucket refilling at maxPerSec with a burst of twice that.
type RateLimiter struct {
	mu    sync.Mutex
	users map[string]*userLimiter
	limit rate.Limit
	burst int
}

// NewRateLimiter creates a rate limiter allowing maxPerSec commands per user.
func NewRateLimiter(maxPerSec float64) *RateLimiter {
	burst := int(math.Ceil(maxPerSec * 2))
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		users: make(map[string]*userLimiter),
		limit: rate.Limit(maxPerSec),
		burst: burst,
	}
}

// Allow returns true if the user is within the rate limit.
// Each call consumes one token.
func (r *RateLimiter) Allow(user string) bool {
	return r.getOrCreate(user).Allow()
}

func (r *RateLimiter) getOrCreate(user string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[user]
	if !ok {
		u = &userLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.users[user] = u
	}
	u.lastSeen = time.Now()
	return u.limiter
}

// CleanupLoop periodically forgets idle users until done is closed.
func (r *RateLimiter) CleanupLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanup(time.Now().Add(-5 * time.Minute))
		case <-done:
			return
		}
	}
}

func (r *RateLimiter) cleanup(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for user, u := range r.users {
		if u.lastSeen.Before(cutoff) {
			delete(r.users, user)
		}
	}
}
