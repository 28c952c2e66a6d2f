package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"roombook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverRateLimiter switches to the fallback when the primary errors and
// probes the primary again once per recovery interval.
type FailoverRateLimiter struct {
	primary  domain.RateLimiter
	fallback domain.RateLimiter
	logger   *zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverRateLimiter(primary, fallback domain.RateLimiter, logger *zerolog.Logger) *FailoverRateLimiter {
	return &FailoverRateLimiter{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

// Degraded reports whether calls are currently served by the fallback.
func (r *FailoverRateLimiter) Degraded() bool {
	return r.isDown.Load()
}

func (r *FailoverRateLimiter) markDown(err error) {
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("primary rate limiter failed, falling back to memory")
	}
}

func (r *FailoverRateLimiter) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) <= recoveryInterval {
		return false
	}
	r.lastCheck = r.now()
	return true
}

func (r *FailoverRateLimiter) CheckRateLimit(ctx context.Context, userID string, limit int, window time.Duration) (bool, error) {
	if !r.isDown.Load() || r.shouldProbe() {
		allowed, err := r.primary.CheckRateLimit(ctx, userID, limit, window)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("primary rate limiter recovered")
			}
			return allowed, nil
		}
		r.markDown(err)
	}

	return r.fallback.CheckRateLimit(ctx, userID, limit, window)
}
