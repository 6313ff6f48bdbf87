package chain

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// RateLimiter keeps one token bucket per chain, so a busy chain never
// starves requests to another one.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[ID]*rate.Limiter
}

// NewRateLimiter allows requestsPerSecond node requests per chain, with
// bursts of up to burst. A non-positive rate disables limiting.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limit:   limit,
		burst:   max(burst, 1),
		buckets: make(map[ID]*rate.Limiter),
	}
}

// Wait blocks until the chain may issue another request. A wait that cannot
// complete before ctx's deadline reports ErrRateLimited.
func (r *RateLimiter) Wait(ctx context.Context, id ID) error {
	err := r.bucket(id).Wait(ctx)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return heralderr.WithCause(heralderr.WithDetail(ErrRateLimited, id.String()), err)
}

func (r *RateLimiter) bucket(id ID) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.buckets[id]
	if !ok {
		b = rate.NewLimiter(r.limit, r.burst)
		r.buckets[id] = b
	}
	return b
}
