package services

import (
	"fmt"
	"math"
	"time"

	"github.com/lborres/kapitbahay/core"
)

// RetryPolicy is the profile-fetch backoff schedule. Attempts are indexed
// from 0; a failed attempt n is retried after Backoff(n) while
// ShouldRetry(n) holds.
type RetryPolicy struct {
	MaxRetries     int           `yaml:"max_retries" env:"MAX_RETRIES"`
	InitialBackoff time.Duration `yaml:"initial_backoff" env:"INITIAL_BACKOFF"`
	BackoffFactor  float64       `yaml:"backoff_factor" env:"BACKOFF_FACTOR"`
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     3,
		InitialBackoff: time.Second,
		BackoffFactor:  2.0,
	}
}

func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries must be >= 0, got %d", core.ErrInvalidRetryPolicy, p.MaxRetries)
	}
	if p.MaxRetries > 0 && p.InitialBackoff <= 0 {
		return fmt.Errorf("%w: initial backoff must be > 0, got %v", core.ErrInvalidRetryPolicy, p.InitialBackoff)
	}
	if p.BackoffFactor < 1.0 {
		return fmt.Errorf("%w: backoff factor must be >= 1.0, got %v", core.ErrInvalidRetryPolicy, p.BackoffFactor)
	}
	return nil
}

// ShouldRetry reports whether a failure of the given attempt gets another try
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}

// Backoff is the delay before the attempt that follows a failed attempt
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(float64(p.InitialBackoff) * math.Pow(p.BackoffFactor, float64(attempt)))
}

// TotalBackoff is the summed delay of a fully exhausted chain
func (p RetryPolicy) TotalBackoff() time.Duration {
	var total time.Duration
	for attempt := 0; attempt < p.MaxRetries; attempt++ {
		total += p.Backoff(attempt)
	}
	return total
}
