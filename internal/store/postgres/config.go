package postgres

import (
	"fmt"
	"time"
)

// EngineConfig holds transaction configuration for the PostgreSQL engine.
// Pool configuration is handled separately via PoolConfig.
type EngineConfig struct {
	// TxTimeoutSeconds bounds each transaction attempt.
	// Default: 10 seconds
	TxTimeoutSeconds int32

	// MaxRetries is how many times a write transaction is retried after a
	// serialization failure or deadlock.
	// Default: 3
	MaxRetries uint

	// RetryInitialInterval is the first delay between retries, grown exponentially.
	// Default: 25 milliseconds
	RetryInitialInterval time.Duration
}

// Validate checks that the configuration is valid.
func (c *EngineConfig) Validate() error {
	if c.TxTimeoutSeconds < 0 {
		return fmt.Errorf("transaction timeout must not be negative")
	}
	if c.RetryInitialInterval < 0 {
		return fmt.Errorf("retry interval must not be negative")
	}
	return nil
}

// ApplyDefaults applies default values to unset configuration fields.
func (c *EngineConfig) ApplyDefaults() {
	if c.TxTimeoutSeconds == 0 {
		c.TxTimeoutSeconds = 10
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInitialInterval == 0 {
		c.RetryInitialInterval = 25 * time.Millisecond
	}
}
