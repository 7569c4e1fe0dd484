// Package ratelimit tracks the search API's request quota window.
// It reads the X-RateLimit-Remaining, X-RateLimit-Reset and X-RateLimit-Limit
// response headers so that callers sharing a Redis instance stop issuing
// requests once the window is exhausted.
package ratelimit

import (
	"time"
)

// Redis keys for rate limit state storage.
const (
	RedisKeyRemaining  = "search:rate_limit:remaining"
	RedisKeyLimit      = "search:rate_limit:limit"
	RedisKeyResetAt    = "search:rate_limit:reset_at"
	RedisKeyLastUpdate = "search:rate_limit:last_update"
)

// Thresholds for rate limit decisions.
const (
	// RemainingThresholdWarning applies throttling when fewer requests than this remain.
	RemainingThresholdWarning = 3

	// RemainingThresholdHealthy indicates normal operation.
	RemainingThresholdHealthy = 5
)

// RateLimitState is the last quota window reported by the search API.
type RateLimitState struct {
	// Remaining is the number of requests left in the window (X-RateLimit-Remaining).
	Remaining int `json:"remaining"`

	// Limit is the window size (X-RateLimit-Limit). Zero when not reported.
	Limit int `json:"limit"`

	// ResetAt is when the window resets (X-RateLimit-Reset, unix seconds).
	ResetAt time.Time `json:"reset_at"`

	LastUpdate time.Time `json:"last_update"`

	// IsHealthy is true when Remaining >= RemainingThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsCriticalBlock returns true while the window is exhausted and has not reset yet.
func (s *RateLimitState) NeedsCriticalBlock() bool {
	return s.Remaining <= 0 && s.TimeUntilReset() > 0
}

// NeedsThrottling returns true if requests should be slowed down.
func (s *RateLimitState) NeedsThrottling() bool {
	return s.Remaining < RemainingThresholdWarning && s.Remaining > 0
}

// TimeUntilReset returns the duration until the window resets, or 0 if it already has.
func (s *RateLimitState) TimeUntilReset() time.Duration {
	duration := time.Until(s.ResetAt)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates IsHealthy from Remaining.
func (s *RateLimitState) UpdateHealth() {
	s.IsHealthy = s.Remaining >= RemainingThresholdHealthy
}

func healthyState() *RateLimitState {
	now := time.Now()
	return &RateLimitState{
		Remaining:  RemainingThresholdHealthy,
		ResetAt:    now,
		LastUpdate: now,
		IsHealthy:  true,
	}
}
