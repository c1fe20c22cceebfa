package middleware

import (
	"time"

	ierr "gatepass/internal/errors"

	"github.com/gin-gonic/gin"
	goCache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// RateLimiter throttles a route group per client IP. Idle limiters expire
// from the cache.
type RateLimiter struct {
	limiters *goCache.Cache
	every    time.Duration
	burst    int
}

func NewRateLimiter(every time.Duration, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: goCache.New(10*time.Minute, 20*time.Minute),
		every:    every,
		burst:    burst,
	}
}

func (r *RateLimiter) limiter(key string) *rate.Limiter {
	if l, found := r.limiters.Get(key); found {
		return l.(*rate.Limiter)
	}
	l := rate.NewLimiter(rate.Every(r.every), r.burst)
	// Add fails if another request created one first; use theirs
	if err := r.limiters.Add(key, l, goCache.DefaultExpiration); err != nil {
		if existing, found := r.limiters.Get(key); found {
			return existing.(*rate.Limiter)
		}
	}
	return l
}

func (r *RateLimiter) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.limiter(c.ClientIP()).Allow() {
			c.Error(ierr.NewError("rate limit exceeded").
				WithHint("Too many requests, please try again later").
				Mark(ierr.ErrRateLimited))
			c.Abort()
			return
		}
		c.Next()
	}
}
