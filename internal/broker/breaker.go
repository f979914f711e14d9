package broker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// CircuitBreakerBroker wraps a Broker so a flapping gateway trips open
// instead of hammering a degraded API while a short position is live.
type CircuitBreakerBroker struct {
	broker  Broker
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerBroker implements Broker at compile time.
var _ Broker = (*CircuitBreakerBroker)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerBroker creates a CircuitBreakerBroker with sensible
// defaults for a single-digit-second polling loop.
func NewCircuitBreakerBroker(b Broker) *CircuitBreakerBroker {
	return NewCircuitBreakerBrokerWithSettings(b, CircuitBreakerSettings{
		MaxRequests:  3,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	})
}

// NewCircuitBreakerBrokerWithSettings creates a CircuitBreakerBroker with
// custom settings.
func NewCircuitBreakerBrokerWithSettings(b Broker, settings CircuitBreakerSettings) *CircuitBreakerBroker {
	gbSettings := gobreaker.Settings{
		Name:        "BrokerCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerBroker{
		broker:  b,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execCircuitBreaker is a generic helper for the wrapper methods.
func execCircuitBreaker[T any](
	breaker *gobreaker.CircuitBreaker,
	b Broker,
	fn func(Broker) (T, error),
) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn(b) })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetQuote wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetQuote(ctx context.Context, symbol string) (*Quote, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*Quote, error) {
		return b.GetQuote(ctx, symbol)
	})
}

// GetOptionChain wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionLeg, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) ([]models.OptionLeg, error) {
		return b.GetOptionChain(ctx, symbol, expiration)
	})
}

// IsMarketOpen wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) IsMarketOpen(ctx context.Context) (bool, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (bool, error) {
		return b.IsMarketOpen(ctx)
	})
}

// GetOptionBuyingPower wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetOptionBuyingPower(ctx context.Context) (float64, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (float64, error) {
		return b.GetOptionBuyingPower(ctx)
	})
}

// PlaceStrangleOrder wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) PlaceStrangleOrder(ctx context.Context, req StrangleOrderRequest) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.PlaceStrangleOrder(ctx, req)
	})
}

// CloseStrangle wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) CloseStrangle(ctx context.Context, req CloseStrangleRequest) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.CloseStrangle(ctx, req)
	})
}

// CloseLeg bypasses the breaker deliberately: the per-leg fallback is the
// last resort for an unmanaged short position and must be attempted even
// when the circuit is open.
func (c *CircuitBreakerBroker) CloseLeg(ctx context.Context, legSymbol string, quantity int, maxPrice float64) (*OrderResult, error) {
	return c.broker.CloseLeg(ctx, legSymbol, quantity, maxPrice)
}

// GetOrderStatus wraps the underlying broker call with the circuit breaker.
func (c *CircuitBreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error) {
	return execCircuitBreaker(c.breaker, c.broker, func(b Broker) (*OrderResult, error) {
		return b.GetOrderStatus(ctx, orderID)
	})
}
