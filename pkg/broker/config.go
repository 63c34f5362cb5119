package broker

import "time"

// TargetConfig holds per-target execution settings.
type TargetConfig struct {
	// RetryBudget is the number of extra attempts after a transient failure.
	RetryBudget int `mapstructure:"retry_budget" yaml:"retry_budget" validate:"gte=0,lte=10"`

	// CircuitThreshold is the number of consecutive transient failures that
	// opens the circuit. Zero disables the breaker.
	CircuitThreshold int `mapstructure:"circuit_threshold" yaml:"circuit_threshold" validate:"gte=0"`

	// Cooldown is how long an open circuit rejects calls before admitting a probe.
	Cooldown time.Duration `mapstructure:"cooldown" yaml:"cooldown"`

	// Timeout bounds a single attempt, including the rate limit wait.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// QPS and Burst configure the outbound rate limit. Zero QPS is unlimited.
	QPS   float64 `mapstructure:"qps" yaml:"qps" validate:"gte=0"`
	Burst int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`

	// MaxConcurrent caps in-flight attempts. Zero is unlimited.
	MaxConcurrent int `mapstructure:"max_concurrent" yaml:"max_concurrent" validate:"gte=0"`
}

// DefaultTargetConfig returns the settings used for targets without overrides.
func DefaultTargetConfig() TargetConfig {
	return TargetConfig{
		RetryBudget:      3,
		CircuitThreshold: 5,
		Cooldown:         30 * time.Second,
		Timeout:          5 * time.Second,
	}
}

// withDefaults fills zero durations from d.
func (c TargetConfig) withDefaults(d TargetConfig) TargetConfig {
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.Cooldown <= 0 {
		c.Cooldown = d.Cooldown
	}
	return c
}
