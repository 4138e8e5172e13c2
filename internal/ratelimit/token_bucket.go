// Package ratelimit implements tiered token bucket rate limiting for bot commands.
//
// The token bucket algorithm allows for burst traffic up to the bucket capacity
// while maintaining a sustained rate limit over time. This fits a chat bot well:
// a user may fire a few commands in quick succession, but sustained abuse is
// throttled before it reaches Slack API limits or the LLM budget.
//
// Requests pass through up to three tiers - a global bucket shared by everyone,
// a per-user bucket, and a per-command-per-user bucket for commands that carry
// their own policy. The first tier without a token rejects the request.
package ratelimit

import (
	"errors"
	"time"
)

// Policy configures one rate limit tier.
type Policy struct {
	MaxTokens  int     // Maximum tokens the bucket can hold (also the bucket's starting balance)
	RefillRate float64 // Tokens added per second
	BurstSize  int     // Maximum burst size, usually at or below MaxTokens
}

// Validate checks the policy values. Every field must be positive.
func (p Policy) Validate() error {
	if p.MaxTokens <= 0 {
		return errors.New("max tokens must be positive")
	}
	if p.RefillRate <= 0 {
		return errors.New("refill rate must be positive")
	}
	if p.BurstSize <= 0 {
		return errors.New("burst size must be positive")
	}
	return nil
}

// TokenBucket tracks the token balance for one rate limit key.
//
// Tokens are fractional so slow refill rates (e.g. 0.083/s for 5 per minute)
// accumulate smoothly instead of rounding to zero. The bucket carries no lock
// of its own: the owning Limiter serializes access with its mutex, so refill
// and consume execute atomically per request.
type TokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket creates a bucket filled to the policy's MaxTokens.
func NewTokenBucket(p Policy, now time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(p.MaxTokens),
		lastRefill: now,
	}
}

// Refill adds tokens for the time elapsed since the last refill, capped at
// the policy's MaxTokens. A clock that moves backwards adds nothing.
func (b *TokenBucket) Refill(p Policy, now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = minFloat(float64(p.MaxTokens), b.tokens+elapsed*p.RefillRate)
	}
	b.lastRefill = now
}

// Consume removes n tokens if the balance covers them.
//
// Returns true if the tokens were consumed, false if the balance is short.
// A failed consume leaves the balance untouched.
func (b *TokenBucket) Consume(n float64) bool {
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Remaining returns the current token balance.
func (b *TokenBucket) Remaining() float64 {
	return b.tokens
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
