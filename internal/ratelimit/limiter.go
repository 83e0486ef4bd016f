package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// API represents the different external APIs we interact with
type API string

const (
	// APICoinGecko represents the CoinGecko market data API
	APICoinGecko API = "coingecko"
	// APIBinance represents the Binance public market API
	APIBinance API = "binance"
	// APIBrave represents the Brave web search API
	APIBrave API = "brave"
)

// ErrWaitExceeded is returned when the next slot is further away than the
// limiter is allowed to wait.
var ErrWaitExceeded = errors.New("rate limit wait exceeds budget")

// Limiter manages rate limits for different APIs
type Limiter struct {
	limiters map[API]*rate.Limiter
	maxWait  time.Duration
	mu       sync.RWMutex
}

// New creates a limiter with one token bucket per API. A non-positive rate
// leaves that API unlimited. maxWait bounds how long Wait may block.
func New(limits map[API]float64, maxWait time.Duration) *Limiter {
	l := &Limiter{
		limiters: make(map[API]*rate.Limiter, len(limits)),
		maxWait:  maxWait,
	}
	for api, perSecond := range limits {
		l.Set(api, perSecond)
	}
	return l
}

// Unlimited returns a limiter that never blocks.
func Unlimited() *Limiter {
	return New(nil, 0)
}

// Set replaces the rate for an API.
func (l *Limiter) Set(api API, perSecond float64) {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiters[api] = rate.NewLimiter(limit, 1)
}

// Wait blocks until the rate limiter permits an event for the given API.
// It returns ctx.Err() if ctx ends first, including when ctx's own deadline
// is what cuts the wait short, and ErrWaitExceeded if the wait would run past
// the limiter's budget.
func (l *Limiter) Wait(ctx context.Context, api API) error {
	if l == nil {
		return nil
	}

	l.mu.RLock()
	limiter, exists := l.limiters[api]
	l.mu.RUnlock()

	if !exists {
		return nil
	}

	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	if err := limiter.Wait(waitCtx); err != nil {
		// The caller's own deadline or cancellation is not a rate limit.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if callerDeadlineFirst(ctx, waitCtx) {
			return context.DeadlineExceeded
		}
		return ErrWaitExceeded
	}
	return nil
}

// callerDeadlineFirst reports whether ctx's deadline, not the wait budget,
// bounds waitCtx. rate.Limiter fails early without either context ending
// when a reservation would overshoot the deadline.
func callerDeadlineFirst(ctx, waitCtx context.Context) bool {
	callerDeadline, ok := ctx.Deadline()
	if !ok {
		return false
	}
	waitDeadline, _ := waitCtx.Deadline()
	return !waitDeadline.Before(callerDeadline)
}
