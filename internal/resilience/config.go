package resilience

import (
	"time"

	"github.com/queryarc/queryarc-api/internal/config"
)

// Policy is the retry policy shared by the single-shot and batch paths.
type Policy struct {
	cfg RetryConfig
}

// NewPolicy builds a Policy from retry settings. Classification always goes
// through Retryable.
func NewPolicy(cfg RetryConfig) Policy {
	cfg = applyDefaults(cfg)
	cfg.ShouldRetry = Retryable
	return Policy{cfg: cfg}
}

// PolicyFromConfig converts the retry section of the app config.
func PolicyFromConfig(c config.RetryConfig) Policy {
	cfg := DefaultRetryConfig()
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	if c.InitialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.Multiplier > 0 {
		cfg.Multiplier = c.Multiplier
	}
	if c.Jitter > 0 {
		cfg.JitterFraction = c.Jitter
	}
	return NewPolicy(cfg)
}

// WithMaxAttempts returns a copy of p with a different attempt budget.
func (p Policy) WithMaxAttempts(n int) Policy {
	if n > 0 {
		p.cfg.MaxAttempts = n
	}
	return p
}

// MaxAttempts is the total attempt budget.
func (p Policy) MaxAttempts() int { return p.cfg.MaxAttempts }

// ShouldRetry reports whether err deserves another attempt.
func (p Policy) ShouldRetry(err error) bool { return p.cfg.ShouldRetry(err) }

// RetryConfig returns the RetryConfig for Do/DoVal with onRetry attached.
func (p Policy) RetryConfig(onRetry func(int, error)) RetryConfig {
	cfg := p.cfg
	cfg.OnRetry = onRetry
	return cfg
}

// BreakerFromConfig converts the circuit section of the app config.
func BreakerFromConfig(c config.CircuitConfig) CircuitBreakerConfig {
	cfg := DefaultCircuitBreakerConfig()
	if c.FailureThreshold > 0 {
		cfg.FailureThreshold = c.FailureThreshold
	}
	if c.ResetTimeoutSecs > 0 {
		cfg.ResetTimeout = time.Duration(c.ResetTimeoutSecs) * time.Second
	}
	return cfg
}
