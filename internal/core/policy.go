package core

import "time"

// Strategy selects the backoff formula between attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyFibonacci   Strategy = "fibonacci"
	StrategyAggressive  Strategy = "aggressive"
)

// RetryPolicy controls a retry loop. It is a value object: constructed once,
// validated, and never mutated afterwards.
type RetryPolicy struct {
	MaxAttempts     int      `json:"max_attempts" yaml:"max_attempts"`
	InitialDelay    Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay        Duration `json:"max_delay" yaml:"max_delay"`
	ExponentialBase float64  `json:"exponential_base" yaml:"exponential_base"`
	Jitter          bool     `json:"jitter" yaml:"jitter"`
	JitterMin       float64  `json:"jitter_min" yaml:"jitter_min"`
	JitterMax       float64  `json:"jitter_max" yaml:"jitter_max"`
	Strategy        Strategy `json:"strategy" yaml:"strategy"`
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, exponential
// backoff from 1s with base 2.0 capped at 5m, jitter 10-30%.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialDelay:    Duration(1 * time.Second),
		MaxDelay:        Duration(5 * time.Minute),
		ExponentialBase: 2.0,
		Jitter:          true,
		JitterMin:       0.1,
		JitterMax:       0.3,
		Strategy:        StrategyExponential,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return NewFieldValidationError("max_attempts", "integer >= 1", p.MaxAttempts)
	}
	if p.InitialDelay <= 0 {
		return NewFieldValidationError("initial_delay", "duration > 0", p.InitialDelay.String())
	}
	if p.MaxDelay < p.InitialDelay {
		return NewFieldValidationError("max_delay", "duration >= initial_delay", p.MaxDelay.String())
	}
	if p.ExponentialBase <= 1 {
		return NewFieldValidationError("exponential_base", "number > 1", p.ExponentialBase)
	}
	if p.JitterMin < 0 || p.JitterMin > 1 {
		return NewFieldValidationError("jitter_min", "number in [0, 1]", p.JitterMin)
	}
	if p.JitterMax < 0 || p.JitterMax > 1 {
		return NewFieldValidationError("jitter_max", "number in [0, 1]", p.JitterMax)
	}
	if p.JitterMin > p.JitterMax {
		return NewFieldValidationError("jitter_min", "number <= jitter_max", p.JitterMin)
	}
	switch p.Strategy {
	case StrategyExponential, StrategyLinear, StrategyFibonacci, StrategyAggressive:
	default:
		return NewFieldValidationError("strategy",
			"one of exponential, linear, fibonacci, aggressive", string(p.Strategy))
	}
	return nil
}

// BreakerPolicy controls a circuit breaker. Value object like RetryPolicy.
type BreakerPolicy struct {
	FailureThreshold int      `json:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold" yaml:"success_threshold"`
	Timeout          Duration `json:"timeout" yaml:"timeout"`
	HalfOpenRequests int      `json:"half_open_requests" yaml:"half_open_requests"`
}

// DefaultBreakerPolicy returns the standard policy: open after 5 failures,
// close after 3 half-open successes, probe after 60s, allow 3 trial calls.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          Duration(60 * time.Second),
		HalfOpenRequests: 3,
	}
}

// Validate checks the policy bounds.
func (p BreakerPolicy) Validate() error {
	if p.FailureThreshold < 1 {
		return NewFieldValidationError("failure_threshold", "integer >= 1", p.FailureThreshold)
	}
	if p.SuccessThreshold < 1 {
		return NewFieldValidationError("success_threshold", "integer >= 1", p.SuccessThreshold)
	}
	if p.Timeout <= 0 {
		return NewFieldValidationError("timeout", "duration > 0", p.Timeout.String())
	}
	if p.HalfOpenRequests < 1 {
		return NewFieldValidationError("half_open_requests", "integer >= 1", p.HalfOpenRequests)
	}
	return nil
}
