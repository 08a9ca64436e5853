// Package ratelimit bounds the rate of outbound work: order submissions
// and gap-driven snapshot reprimes.
package ratelimit

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter provides token-bucket rate limiting with usage metrics.
type Limiter struct {
	limiter *rate.Limiter
	metrics *Metrics
}

// Metrics tracks statistics about limiter usage.
type Metrics struct {
	totalRequests   atomic.Int64
	allowedRequests atomic.Int64
	deniedRequests  atomic.Int64
}

// New creates a Limiter allowing the specified number of requests per period.
func New(requests int, period time.Duration) *Limiter {
	rps := float64(requests) / period.Seconds()
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), requests),
		metrics: &Metrics{},
	}
}

// Allow returns true if a request is permitted immediately.
func (l *Limiter) Allow() bool {
	l.metrics.totalRequests.Add(1)
	allowed := l.limiter.Allow()
	if allowed {
		l.metrics.allowedRequests.Add(1)
	} else {
		l.metrics.deniedRequests.Add(1)
	}
	return allowed
}

// Wait blocks until a request is permitted or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.metrics.totalRequests.Add(1)
	if err := l.limiter.Wait(ctx); err != nil {
		l.metrics.deniedRequests.Add(1)
		return err
	}
	l.metrics.allowedRequests.Add(1)
	return nil
}

// SetLimit updates the rate limit to the specified requests per period.
func (l *Limiter) SetLimit(requests int, period time.Duration) {
	rps := float64(requests) / period.Seconds()
	l.limiter.SetLimit(rate.Limit(rps))
	l.limiter.SetBurst(requests)
}

// Metrics returns a snapshot of the current limiter statistics.
func (l *Limiter) Metrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalRequests:   l.metrics.totalRequests.Load(),
		AllowedRequests: l.metrics.allowedRequests.Load(),
		DeniedRequests:  l.metrics.deniedRequests.Load(),
	}
}

// MetricsSnapshot is a point-in-time capture of limiter statistics.
type MetricsSnapshot struct {
	// TotalRequests is the total number of rate limit checks performed.
	TotalRequests int64
	// AllowedRequests is the number of requests that were allowed.
	AllowedRequests int64
	// DeniedRequests is the number of requests that were denied.
	DeniedRequests int64
}
