// Package broker defines the market-data/order gateway the lifecycle engine
// consumes, plus the concrete clients: a REST client for live and sandbox
// trading, a circuit-breaker decorator, and a paper broker for simulation.
package broker

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// ErrNoQuote is returned when the gateway has no usable quote for a symbol.
// Callers treat it as a soft per-cycle failure, never a fatal one.
var ErrNoQuote = errors.New("broker: no quote available")

// Quote is an underlying quote snapshot.
type Quote struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Volume int64     `json:"volume"`
	Time   time.Time `json:"time"`
}

// Mid returns the bid/ask midpoint, falling back to last when one side is
// missing.
func (q *Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// SpreadPct returns the bid/ask spread as a fraction of the midpoint.
func (q *Quote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return math.Inf(1)
	}
	return (q.Ask - q.Bid) / mid
}

// OrderStatus is the resolution state of a submitted order.
type OrderStatus string

const (
	// StatusPending means the order is working and must be polled.
	StatusPending OrderStatus = "pending"
	// StatusFilled means every leg executed.
	StatusFilled OrderStatus = "filled"
	// StatusRejected means the gateway refused the order.
	StatusRejected OrderStatus = "rejected"
	// StatusCanceled means the order was canceled before filling.
	StatusCanceled OrderStatus = "canceled"
	// StatusExpired means the order lapsed without filling.
	StatusExpired OrderStatus = "expired"
)

// Terminal reports whether the status is final.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCanceled, StatusExpired:
		return true
	default:
		return false
	}
}

// LegFill is the realized execution price for one leg of a filled order.
type LegFill struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

// OrderResult reports the gateway's view of a submitted order.
type OrderResult struct {
	ID       string      `json:"id"`
	Status   OrderStatus `json:"status"`
	AvgPrice float64     `json:"avg_price"` // net credit/debit per spread
	Fills    []LegFill   `json:"fills,omitempty"`
	Reason   string      `json:"reason,omitempty"` // rejection detail
}

// FillFor returns the realized price for a leg symbol, or the average price
// split evenly when per-leg fills are unavailable.
func (r *OrderResult) FillFor(symbol string) (float64, bool) {
	for _, f := range r.Fills {
		if f.Symbol == symbol {
			return f.Price, true
		}
	}
	return 0, false
}

// StrangleOrderRequest opens a two-leg short strangle: sell-to-open one call
// and one put at a net credit limit.
type StrangleOrderRequest struct {
	Symbol     string
	CallSymbol string
	PutSymbol  string
	Quantity   int
	Limit      float64 // minimum acceptable net credit per spread
	Tag        string  // idempotent client order id
}

// CloseStrangleRequest closes both legs with a buy-to-close at a net debit
// limit.
type CloseStrangleRequest struct {
	Symbol     string
	CallSymbol string
	PutSymbol  string
	Quantity   int
	MaxDebit   float64 // maximum acceptable net debit per spread
	Tag        string
}

// Broker is the gateway interface the lifecycle engine consumes. Quote and
// chain failures are soft (retry next cycle); order submissions are handled
// through the state machine, never retried blindly by callers.
type Broker interface {
	// Market data
	GetQuote(ctx context.Context, symbol string) (*Quote, error)
	GetOptionChain(ctx context.Context, symbol string, expiration time.Time) ([]models.OptionLeg, error)
	IsMarketOpen(ctx context.Context) (bool, error)

	// Account
	GetOptionBuyingPower(ctx context.Context) (float64, error)

	// Orders
	PlaceStrangleOrder(ctx context.Context, req StrangleOrderRequest) (*OrderResult, error)
	CloseStrangle(ctx context.Context, req CloseStrangleRequest) (*OrderResult, error)
	// CloseLeg is the fallback path: buy a single leg back at up to
	// maxPrice, used when the two-leg close cannot be confirmed.
	CloseLeg(ctx context.Context, legSymbol string, quantity int, maxPrice float64) (*OrderResult, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderResult, error)
}

// RoundToTick rounds x to the nearest tick increment.
func RoundToTick(x, tick float64) float64 {
	if tick <= 0 {
		return x
	}
	return math.Round(x/tick) * tick
}
