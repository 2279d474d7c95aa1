package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// clientIdleTTL is how long an idle client keeps its limiter
const clientIdleTTL = 10 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles API requests per client IP
type RateLimiter struct {
	clients map[string]*clientLimiter
	mu      sync.Mutex

	requestsPerSecond rate.Limit
	burst             int

	ticker   *time.Ticker
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter. A non-positive rate disables it.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	rl := &RateLimiter{
		clients:           make(map[string]*clientLimiter),
		requestsPerSecond: limit,
		burst:             burst,
		ticker:            time.NewTicker(time.Minute),
		done:              make(chan struct{}),
	}

	go rl.cleanupClients()

	return rl
}

// cleanupClients drops limiters of clients idle longer than clientIdleTTL
func (rl *RateLimiter) cleanupClients() {
	for {
		select {
		case now := <-rl.ticker.C:
			rl.evictIdle(now)
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) evictIdle(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > clientIdleTTL {
			delete(rl.clients, id)
		}
	}
}

// Stop stops the rate limiter cleanup goroutine
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.ticker.Stop()
		close(rl.done)
	})
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) allow(clientID string, now time.Time) bool {
	rl.mu.Lock()
	cl, exists := rl.clients[clientID]
	if !exists {
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.requestsPerSecond, rl.burst)}
		rl.clients[clientID] = cl
	}
	cl.lastSeen = now
	rl.mu.Unlock()

	return cl.limiter.AllowN(now, 1)
}

// RateLimit returns a middleware that rate limits requests
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP(), time.Now()) {
			AbortWithError(c, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
				"Too many requests. Please try again later.")
			return
		}

		c.Next()
	}
}
