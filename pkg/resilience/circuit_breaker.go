// Package resilience wraps backend calls in a circuit breaker and
// exponential backoff retries.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	pkgerrors "github.com/developer-mesh/fontedit/pkg/errors"
	"github.com/developer-mesh/fontedit/pkg/observability"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = pkgerrors.New("CIRCUIT_OPEN", "circuit breaker is open", pkgerrors.ClassCircuitBreaker)

// CircuitBreakerConfig defines configuration for a circuit breaker
type CircuitBreakerConfig struct {
	Name                string        `mapstructure:"name"`
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	FailureThreshold    float64       `mapstructure:"failure_threshold"`
	MinimumRequestCount uint32        `mapstructure:"minimum_request_count"`
}

// CircuitBreaker guards calls to one backend.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	config  CircuitBreakerConfig
	logger  observability.Logger
	metrics observability.MetricsClient
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config CircuitBreakerConfig, logger observability.Logger, metrics observability.MetricsClient) *CircuitBreaker {
	if config.Name == "" {
		config.Name = "backend"
	}
	if config.Interval == 0 {
		config.Interval = 30 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 60 * time.Second
	}
	if config.MaxRequests == 0 {
		config.MaxRequests = 1
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 0.5
	}
	if config.MinimumRequestCount == 0 {
		config.MinimumRequestCount = 5
	}

	cb := &CircuitBreaker{
		config:  config,
		logger:  observability.OrNoop(logger).WithPrefix("circuit-breaker"),
		metrics: observability.MetricsOrNoop(metrics),
	}
	cb.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < config.MinimumRequestCount {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= config.FailureThreshold
		},
		OnStateChange: cb.onStateChange,
		// Caller mistakes say nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || pkgerrors.IsValidationError(err) || pkgerrors.IsNotFound(err) || pkgerrors.IsUsageError(err)
		},
	})
	return cb
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	cb.logger.Warn("Circuit breaker state changed", map[string]interface{}{
		"name": name,
		"from": from.String(),
		"to":   to.String(),
	})
	cb.metrics.RecordGauge("circuit_breaker_state", float64(to), map[string]string{"name": name})
}

// Execute runs fn unless the breaker is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %w", ErrCircuitOpen, err)
	}
	return err
}

// IsOpen returns true if the circuit breaker is currently open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.breaker.State() == gobreaker.StateOpen
}

// State returns the breaker state.
func (cb *CircuitBreaker) State() gobreaker.State {
	return cb.breaker.State()
}

// Name returns the circuit breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}
