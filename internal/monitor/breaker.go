// Package monitor tracks per-operation health: circuit breakers guarding
// the inference adapters and a rolling latency/error window feeding the
// pipeline's stats broadcasts.
package monitor

import (
	"time"

	"github.com/sony/gobreaker"

	"lead-intelligence/internal/common/logger"
	"lead-intelligence/internal/common/metrics"
	"lead-intelligence/internal/models"
)

// BreakerOptions configures the per-operation circuit breakers.
type BreakerOptions struct {
	// MaxFailures consecutive failures trip the breaker open.
	MaxFailures int
	// Cooldown is how long the breaker stays open before probing.
	Cooldown time.Duration
}

// BreakerSet holds one circuit breaker per inference operation. Breakers
// are independent: a dead churn model must not block scoring.
type BreakerSet struct {
	breakers map[models.OperationKind]*gobreaker.CircuitBreaker
}

// NewBreakerSet creates closed breakers for every known operation.
func NewBreakerSet(opts BreakerOptions, log logger.Logger) *BreakerSet {
	s := &BreakerSet{breakers: make(map[models.OperationKind]*gobreaker.CircuitBreaker)}

	for _, op := range models.AllOperations {
		op := op
		settings := gobreaker.Settings{
			Name:    op.String(),
			Timeout: opts.Cooldown,
			// Probe with a single request in half-open.
			MaxRequests: 1,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(opts.MaxFailures)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				metrics.BreakerState.WithLabelValues(name).Set(stateValue(to))
				log.Warn("circuit breaker state change", map[string]interface{}{
					"operation": name,
					"from":      from.String(),
					"to":        to.String(),
				})
			},
		}
		s.breakers[op] = gobreaker.NewCircuitBreaker(settings)
		metrics.BreakerState.WithLabelValues(op.String()).Set(stateValue(gobreaker.StateClosed))
	}

	return s
}

// Execute runs fn through the operation's breaker. When the breaker is
// open the call is rejected without reaching the adapter.
func (s *BreakerSet) Execute(op models.OperationKind, fn func() (interface{}, error)) (interface{}, error) {
	return s.breakers[op].Execute(fn)
}

// Open reports whether the operation's breaker is currently open.
func (s *BreakerSet) Open(op models.OperationKind) bool {
	return s.breakers[op].State() == gobreaker.StateOpen
}

// AnyOpen reports whether any operation is currently tripped. The bus
// uses this to widen the cache freshness window under degradation.
func (s *BreakerSet) AnyOpen() bool {
	for _, op := range models.AllOperations {
		if s.Open(op) {
			return true
		}
	}
	return false
}

// State returns the breaker state name for the operation.
func (s *BreakerSet) State(op models.OperationKind) string {
	return s.breakers[op].State().String()
}

func stateValue(st gobreaker.State) float64 {
	switch st {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
