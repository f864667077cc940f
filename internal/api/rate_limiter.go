package api

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter manages per-user rate limiting with a free and a premium tier
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex

	freeTierLimit    rate.Limit
	premiumTierLimit rate.Limit
	burstSize        int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(freeTierRPS, premiumTierRPS int) *RateLimiter {
	return &RateLimiter{
		limiters:         make(map[string]*rate.Limiter),
		freeTierLimit:    rate.Limit(freeTierRPS),
		premiumTierLimit: rate.Limit(premiumTierRPS),
		burstSize:        10,
	}
}

func (rl *RateLimiter) getLimiter(userID, tier string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[userID]
	rl.mu.RUnlock()
	if exists {
		return limiter
	}

	limit := rl.freeTierLimit
	if tier == "premium" {
		limit = rl.premiumTierLimit
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if limiter, exists := rl.limiters[userID]; exists {
		return limiter
	}
	limiter = rate.NewLimiter(limit, rl.burstSize)
	rl.limiters[userID] = limiter
	return limiter
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				userID = r.RemoteAddr
			}
			tier := r.Header.Get("X-User-Tier")

			limiter := rl.getLimiter(userID, tier)
			if !limiter.Allow() {
				respondError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded. Please try again later.", map[string]interface{}{
					"limit": limiter.Limit(),
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
