package config

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// Breaker names used across the service.
const (
	BreakerRedisLock = "Redis-Lock"
	BreakerRabbitMQ  = "RabbitMQ-Publisher"
)

// NewCircuitBreaker creates a circuit breaker with standard settings. The
// breaker opens after three consecutive failures.
func NewCircuitBreaker(name string, logger zerolog.Logger) *gobreaker.CircuitBreaker {
	var timeout time.Duration
	switch name {
	case BreakerRedisLock:
		timeout = 5 * time.Second
	default:
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
}
