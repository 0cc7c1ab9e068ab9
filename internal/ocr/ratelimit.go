package ocr

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled continuously over one minute.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	tokens    float64
	last      time.Time

	consumed int64
	waited   time.Duration
}

// LimiterStatus reports current limiter state.
type LimiterStatus struct {
	Available int           `json:"available"`
	Limit     int           `json:"limit"`
	Consumed  int64         `json:"consumed"`
	Waited    time.Duration `json:"waited"`
}

// NewRateLimiter allows perMinute requests per minute, starting full.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		perMinute: perMinute,
		tokens:    float64(perMinute),
		last:      time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		r.refill()
		if r.tokens >= 1 {
			r.tokens--
			r.consumed++
			r.mu.Unlock()
			return nil
		}
		wait := r.untilToken()
		r.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			r.mu.Lock()
			r.waited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	if r.tokens >= 1 {
		r.tokens--
		r.consumed++
		return true
	}
	return false
}

// Status returns a snapshot of the limiter.
func (r *RateLimiter) Status() LimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refill()
	return LimiterStatus{
		Available: int(r.tokens),
		Limit:     r.perMinute,
		Consumed:  r.consumed,
		Waited:    r.waited,
	}
}

// refill must be called with mu held.
func (r *RateLimiter) refill() {
	now := time.Now()
	r.tokens += now.Sub(r.last).Minutes() * float64(r.perMinute)
	r.last = now
	if r.tokens > float64(r.perMinute) {
		r.tokens = float64(r.perMinute)
	}
}

// untilToken must be called with mu held.
func (r *RateLimiter) untilToken() time.Duration {
	need := 1 - r.tokens
	perSecond := float64(r.perMinute) / 60
	return time.Duration(need / perSecond * float64(time.Second))
}

// limited throttles an engine's Recognize calls.
type limited struct {
	Engine
	limiter *RateLimiter
}

// Limit wraps e so that at most perMinute recognitions start per minute.
// perMinute <= 0 returns e unchanged.
func Limit(e Engine, perMinute int) Engine {
	if perMinute <= 0 {
		return e
	}
	return &limited{Engine: e, limiter: NewRateLimiter(perMinute)}
}

func (l *limited) Recognize(ctx context.Context, image []byte) (*Result, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Engine.Recognize(ctx, image)
}
