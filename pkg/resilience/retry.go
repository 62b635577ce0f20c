package resilience

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
	"github.com/developer-mesh/fontedit/pkg/observability"
)

// RetryConfig defines configuration for retries
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxElapsedTime  time.Duration `mapstructure:"max_elapsed_time"`
	// RetryIfFn decides whether an error is worth another attempt.
	RetryIfFn func(error) bool `mapstructure:"-"`
}

// DefaultRetryConfig returns the retry settings used for backend writes.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  10 * time.Second,
	}
}

// IsRetryable is the default retry predicate: caller mistakes and an open
// breaker are final, everything else may be transient.
func IsRetryable(err error) bool {
	switch pkgerrors.ClassOf(err) {
	case pkgerrors.ClassUsage, pkgerrors.ClassValidation, pkgerrors.ClassNotFound, pkgerrors.ClassCircuitBreaker:
		return false
	}
	return true
}

// Retry retries a function with exponential backoff
func Retry(ctx context.Context, config RetryConfig, operation func() error) error {
	b := backoff.NewExponentialBackOff()
	if config.InitialInterval > 0 {
		b.InitialInterval = config.InitialInterval
	}
	if config.MaxInterval > 0 {
		b.MaxInterval = config.MaxInterval
	}
	if config.Multiplier > 1 {
		b.Multiplier = config.Multiplier
	}
	if config.MaxElapsedTime > 0 {
		b.MaxElapsedTime = config.MaxElapsedTime
	}

	var policy backoff.BackOff = b
	if config.MaxRetries > 0 {
		policy = backoff.WithMaxRetries(b, uint64(config.MaxRetries))
	}

	retryIf := config.RetryIfFn
	if retryIf == nil {
		retryIf = IsRetryable
	}

	return backoff.Retry(func() error {
		err := operation()
		if err != nil && !retryIf(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(policy, ctx))
}

// Policy runs backend calls through a breaker, retrying transient failures.
type Policy struct {
	breaker *CircuitBreaker
	retry   RetryConfig
	logger  observability.Logger
}

// NewPolicy creates a policy. A nil breaker disables breaking.
func NewPolicy(breaker *CircuitBreaker, retry RetryConfig, logger observability.Logger) *Policy {
	return &Policy{
		breaker: breaker,
		retry:   retry,
		logger:  observability.OrNoop(logger).WithPrefix("resilience"),
	}
}

// Do runs fn until it succeeds, fails permanently or retries run out.
func (p *Policy) Do(ctx context.Context, operation string, fn func(context.Context) error) error {
	attempt := 0
	err := Retry(ctx, p.retry, func() error {
		attempt++
		var err error
		if p.breaker != nil {
			err = p.breaker.Execute(ctx, fn)
		} else {
			err = fn(ctx)
		}
		if err != nil {
			p.logger.Warn("Operation failed", map[string]interface{}{
				"operation": operation,
				"attempt":   attempt,
				"error":     err.Error(),
			})
		}
		return err
	})
	return err
}
