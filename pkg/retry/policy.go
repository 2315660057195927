package retry

import (
	"math"
	"net/http"
	"time"
)

// Default retry settings.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 1 * time.Second
	DefaultJitterMax  = 1 * time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// retryableStatuses are the HTTP statuses worth another attempt.
var retryableStatuses = map[int]bool{
	http.StatusRequestTimeout:      true,
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// ShouldRetry reports whether a failure with the given status is retryable.
// Status 0 (no response at all) is always retryable.
func ShouldRetry(statusCode int) bool {
	if statusCode == 0 {
		return true
	}
	return retryableStatuses[statusCode]
}

// Config holds the retry policy.
type Config struct {
	// MaxRetries is the number of replays allowed per request identity.
	MaxRetries int `yaml:"max_retries"`

	// BaseDelay is the delay before the first replay.
	BaseDelay time.Duration `yaml:"base_delay"`

	// JitterMax bounds the random delay added to every backoff.
	JitterMax time.Duration `yaml:"jitter_max"`

	// MaxDelay caps the total delay.
	MaxDelay time.Duration `yaml:"max_delay"`
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		JitterMax:  DefaultJitterMax,
		MaxDelay:   DefaultMaxDelay,
	}
}

func (c Config) normalized() Config {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.JitterMax < 0 {
		c.JitterMax = 0
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}

// Delay returns the backoff before replay number attempt (1-indexed):
// BaseDelay*2^(attempt-1) plus jitter*JitterMax, capped at MaxDelay.
// jitter must be in [0, 1).
func (c Config) Delay(attempt int, jitter float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(c.BaseDelay)*math.Pow(2, float64(attempt-1)) + jitter*float64(c.JitterMax)
	if d >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}
