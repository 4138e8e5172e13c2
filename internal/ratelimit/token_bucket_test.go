package ratelimit

import (
	"testing"
	"time"
)

func TestPolicyValidate(t *testing.T) {
	valid := Policy{MaxTokens: 10, RefillRate: 1, BurstSize: 5}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error for valid policy: %v", err)
	}

	tests := []struct {
		name   string
		policy Policy
		want   string
	}{
		{"zero max tokens", Policy{MaxTokens: 0, RefillRate: 1, BurstSize: 5}, "max tokens must be positive"},
		{"negative refill rate", Policy{MaxTokens: 10, RefillRate: -1, BurstSize: 5}, "refill rate must be positive"},
		{"zero burst size", Policy{MaxTokens: 10, RefillRate: 1, BurstSize: 0}, "burst size must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if err.Error() != tt.want {
				t.Errorf("expected %q, got %q", tt.want, err.Error())
			}
		})
	}
}

func TestTokenBucket_StartsFull(t *testing.T) {
	p := Policy{MaxTokens: 10, RefillRate: 1, BurstSize: 5}
	b := NewTokenBucket(p, time.Now())

	if got := b.Remaining(); got != 10 {
		t.Errorf("expected a new bucket to hold 10 tokens, got %v", got)
	}
}

func TestTokenBucket_Consume(t *testing.T) {
	p := Policy{MaxTokens: 10, RefillRate: 1, BurstSize: 5}
	b := NewTokenBucket(p, time.Now())

	if !b.Consume(5) {
		t.Fatal("expected consume of 5 to succeed")
	}
	if got := b.Remaining(); got != 5.0 {
		t.Errorf("expected 5.0 tokens remaining, got %v", got)
	}

	// A consume larger than the balance fails and leaves it untouched
	if b.Consume(6) {
		t.Error("expected consume of 6 to fail with 5 remaining")
	}
	if got := b.Remaining(); got != 5.0 {
		t.Errorf("expected balance unchanged after failed consume, got %v", got)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	p := Policy{MaxTokens: 100, RefillRate: 5, BurstSize: 10}
	now := time.Now()
	b := NewTokenBucket(p, now)

	if !b.Consume(100) {
		t.Fatal("expected to drain the bucket")
	}

	// 10 seconds at 5 tokens/sec = 50 tokens
	b.Refill(p, now.Add(10*time.Second))
	if got := b.Remaining(); got != 50 {
		t.Errorf("expected 50 tokens after refill, got %v", got)
	}
}

func TestTokenBucket_RefillCapsAtMax(t *testing.T) {
	p := Policy{MaxTokens: 100, RefillRate: 5, BurstSize: 10}
	now := time.Now()
	b := NewTokenBucket(p, now)

	b.Consume(10)
	b.Refill(p, now.Add(time.Hour))
	if got := b.Remaining(); got != 100 {
		t.Errorf("expected refill to cap at 100, got %v", got)
	}
}

func TestTokenBucket_RefillIgnoresBackwardClock(t *testing.T) {
	p := Policy{MaxTokens: 10, RefillRate: 1, BurstSize: 5}
	now := time.Now()
	b := NewTokenBucket(p, now)
	b.Consume(5)

	b.Refill(p, now.Add(-time.Minute))
	if got := b.Remaining(); got != 5 {
		t.Errorf("expected no refill when the clock moves backwards, got %v", got)
	}
}

func TestTokenBucket_FractionalRefill(t *testing.T) {
	// 0.083 tokens/sec matches the 5-per-minute metrics command policy
	p := Policy{MaxTokens: 5, RefillRate: 0.083, BurstSize: 1}
	now := time.Now()
	b := NewTokenBucket(p, now)

	b.Consume(5)
	b.Refill(p, now.Add(10*time.Second))

	got := b.Remaining()
	if got < 0.8 || got > 0.9 {
		t.Errorf("expected roughly 0.83 tokens after 10s, got %v", got)
	}
	if b.Consume(1) {
		t.Error("expected a fractional balance not to cover a full token")
	}
}
