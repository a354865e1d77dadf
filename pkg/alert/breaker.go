package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/soundprediction/strata/pkg/config"
	"github.com/soundprediction/strata/pkg/types"
)

// NewCircuitBreaker builds a breaker for the named backend. Tripping to open
// raises an alert; every state change is logged.
func NewCircuitBreaker(name string, cfg config.CircuitBreakerConfig, alerter Alerter, logger *slog.Logger) *gobreaker.CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	ratio := cfg.ReadyToTripRatio
	if ratio <= 0 {
		ratio = 0.6
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    time.Duration(cfg.Interval) * time.Second,
		Timeout:     time.Duration(cfg.Timeout) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 3 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= ratio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "backend", name, "from", from.String(), "to", to.String())
			if to == gobreaker.StateOpen && alerter != nil {
				msg := fmt.Sprintf("Circuit breaker '%s' changed status from %s to %s. Too many failures detected.", name, from, to)
				_ = alerter.Alert(fmt.Sprintf("URGENT: Circuit Breaker Tripped - %s", name), msg)
			}
		},
	}
	return gobreaker.NewCircuitBreaker(st)
}

// Execute runs fn through cb. Open-circuit rejections become a
// *types.BackendError for backend so callers can degrade. Tenant violations
// and lookup misses are returned as-is and do not count as failures.
func Execute[T any](cb *gobreaker.CircuitBreaker, backend string, fn func() (T, error)) (T, error) {
	var zero T
	var passthrough error

	result, err := cb.Execute(func() (interface{}, error) {
		v, err := fn()
		if err != nil && !countsAsFailure(err) {
			passthrough = err
			return v, nil
		}
		return v, err
	})
	if passthrough != nil {
		return zero, passthrough
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, types.NewBackendError(backend, err)
		}
		if errors.Is(err, types.ErrBackendUnavailable) {
			return zero, err
		}
		return zero, types.NewBackendError(backend, err)
	}
	if result == nil {
		return zero, nil
	}
	return result.(T), nil
}

func countsAsFailure(err error) bool {
	if types.IsTenantViolation(err) || errors.Is(err, &types.ValidationError{}) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	for _, sentinel := range callerErrors {
		if errors.Is(err, sentinel) {
			return false
		}
	}
	return true
}

// callerErrors are answers from a healthy backend, not signs of an outage.
var callerErrors = []error{
	types.ErrEntityNotFound,
	types.ErrRelationshipNotFound,
	types.ErrDocumentNotFound,
	types.ErrEntityExists,
	types.ErrTypeImmutable,
	types.ErrSelfLoop,
	types.ErrInvalidEntity,
	types.ErrInvalidRelType,
	types.ErrInvalidConfRange,
	types.ErrEmptyTenantID,
	types.ErrEmptyID,
	types.ErrEmptyName,
	types.ErrInvalidLimit,
}
