package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenLimiter enforces a per-minute token budget, e.g. for LLM APIs that
// meter usage in tokens rather than requests. The window resets lazily.
type TokenLimiter struct {
	mu          sync.Mutex
	maxPerMin   int
	used        int
	windowStart time.Time
}

// NewTokenLimiter creates a limiter allowing maxPerMinute tokens per minute.
func NewTokenLimiter(maxPerMinute int) *TokenLimiter {
	return &TokenLimiter{
		maxPerMin:   maxPerMinute,
		windowStart: time.Now(),
	}
}

// Wait blocks until the given number of tokens can be consumed or the
// context is canceled.
func (l *TokenLimiter) Wait(ctx context.Context, tokens int) error {
	for {
		l.mu.Lock()
		l.rollover()
		if l.used+tokens <= l.maxPerMin {
			l.used += tokens
			l.mu.Unlock()
			return nil
		}
		waitFor := time.Until(l.windowStart.Add(time.Minute))
		l.mu.Unlock()

		if waitFor <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitFor):
		}
	}
}

// GetRemaining returns the number of tokens left in the current window.
func (l *TokenLimiter) GetRemaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.maxPerMin - l.used
}

func (l *TokenLimiter) rollover() {
	if time.Since(l.windowStart) >= time.Minute {
		l.windowStart = time.Now()
		l.used = 0
	}
}
