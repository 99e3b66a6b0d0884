package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/papercomputeco/engram/pkg/significance"
)

// ErrInvalidConfig wraps every startup-time validation failure. Invalid
// configuration is fatal; it is never silently defaulted.
var ErrInvalidConfig = errors.New("invalid config")

// Validate checks the configuration for startup. It fails fast on invalid
// weights, non-positive budgets, and out-of-range index constants.
func (c *Config) Validate() error {
	switch c.Storage.Provider {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("%w: unknown storage provider %q", ErrInvalidConfig, c.Storage.Provider)
	}
	if c.Storage.Provider == "postgres" && c.Storage.PostgresDSN == "" {
		return fmt.Errorf("%w: postgres storage requires storage.postgres_dsn", ErrInvalidConfig)
	}

	if c.Memory.HotMaxTurns <= 0 {
		return fmt.Errorf("%w: memory.hot_max_turns must be positive", ErrInvalidConfig)
	}
	if c.Memory.HotMaxTokens <= 0 {
		return fmt.Errorf("%w: memory.hot_max_tokens must be positive", ErrInvalidConfig)
	}
	if c.Memory.WarmMaxResults <= 0 {
		return fmt.Errorf("%w: memory.warm_max_results must be positive", ErrInvalidConfig)
	}
	if c.Memory.TokenBudget <= 0 {
		return fmt.Errorf("%w: memory.token_budget must be positive", ErrInvalidConfig)
	}

	if err := c.Weights().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if c.Index.K1 <= 0 {
		return fmt.Errorf("%w: index.k1 must be positive", ErrInvalidConfig)
	}
	if c.Index.B < 0 || c.Index.B > 1 {
		return fmt.Errorf("%w: index.b must be in [0, 1]", ErrInvalidConfig)
	}

	if c.Recognition.RetryCount < 0 {
		return fmt.Errorf("%w: recognition.retry_count must not be negative", ErrInvalidConfig)
	}
	if _, err := time.ParseDuration(c.Recognition.RetryBackoff); err != nil {
		return fmt.Errorf("%w: recognition.retry_backoff: %w", ErrInvalidConfig, err)
	}
	if _, err := time.ParseDuration(c.Recognition.CallTimeout); err != nil {
		return fmt.Errorf("%w: recognition.call_timeout: %w", ErrInvalidConfig, err)
	}
	if c.Recognition.MaxResults <= 0 {
		return fmt.Errorf("%w: recognition.max_results must be positive", ErrInvalidConfig)
	}

	return nil
}

// Weights converts the significance section into scoring weights.
func (c *Config) Weights() significance.Weights {
	return significance.Weights{
		Recency:     c.Significance.RecencyWeight,
		Relevance:   c.Significance.RelevanceWeight,
		Criticality: c.Significance.CriticalityWeight,
		Lambda:      c.Significance.DecayLambda,
	}
}

// RetryBackoff returns the parsed recognition retry backoff. Call Validate
// first; an unparseable value falls back to one second.
func (c *Config) RetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.Recognition.RetryBackoff)
	if err != nil {
		return time.Second
	}
	return d
}

// CallTimeout returns the parsed recognition call timeout. Call Validate
// first; an unparseable value falls back to five seconds.
func (c *Config) CallTimeout() time.Duration {
	d, err := time.ParseDuration(c.Recognition.CallTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return d
}
