package retry

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy defines how the delay grows between replay attempts.
type BackoffStrategy int

const (
	// BackoffExponential waits base * 2^(attempt-1).
	BackoffExponential BackoffStrategy = iota

	// BackoffLinear waits base * attempt.
	BackoffLinear

	// BackoffConstant always waits base.
	BackoffConstant
)

// BackoffConfig configures the delay between replays of an outbox item.
type BackoffConfig struct {
	Strategy     BackoffStrategy `yaml:"strategy" json:"strategy"`
	BaseInterval time.Duration   `yaml:"base_interval" json:"base_interval"`
	MaxInterval  time.Duration   `yaml:"max_interval" json:"max_interval"`

	// Jitter in [0,1]; 0.1 spreads each delay over ±10%.
	Jitter float64 `yaml:"jitter" json:"jitter"`
}

// DefaultBackoffConfig returns exponential backoff starting at
// DefaultRetryInterval and capped at one hour.
func DefaultBackoffConfig() *BackoffConfig {
	return &BackoffConfig{
		Strategy:     BackoffExponential,
		BaseInterval: DefaultRetryInterval,
		MaxInterval:  time.Hour,
		Jitter:       0.1,
	}
}

// NextRetryFrom returns when an item that has failed attempts times should
// next be replayed.
func (c *BackoffConfig) NextRetryFrom(from time.Time, attempts int) time.Time {
	return from.Add(c.Interval(attempts))
}

// Interval returns the delay after the given number of failed attempts.
func (c *BackoffConfig) Interval(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}

	var interval time.Duration
	switch c.Strategy {
	case BackoffLinear:
		interval = c.BaseInterval * time.Duration(attempts)
	case BackoffConstant:
		interval = c.BaseInterval
	default:
		interval = time.Duration(float64(c.BaseInterval) * math.Pow(2, float64(attempts-1)))
	}

	if c.MaxInterval > 0 && interval > c.MaxInterval {
		interval = c.MaxInterval
	}
	if c.Jitter > 0 {
		interval = c.applyJitter(interval)
	}
	return interval
}

func (c *BackoffConfig) applyJitter(interval time.Duration) time.Duration {
	jitter := math.Min(c.Jitter, 1)
	spread := float64(interval) * jitter
	return time.Duration(float64(interval) + (rand.Float64()*2-1)*spread)
}

// Schedule returns the jitter-free delays for the first n attempts.
func (c *BackoffConfig) Schedule(n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	noJitter := *c
	noJitter.Jitter = 0
	out := make([]time.Duration, n)
	for i := 0; i < n; i++ {
		out[i] = noJitter.Interval(i + 1)
	}
	return out
}
