package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// PaperBroker simulates the gateway for paper mode and tests. The synthetic
// 0DTE chain is priced through the real Black-Scholes engine so the
// downstream delta/vega math sees realistic same-day decay, and every order
// fills immediately at its limit.
type PaperBroker struct {
	mu        sync.Mutex
	symbol    string
	spot      float64
	vol       float64 // flat implied vol for the synthetic chain
	rate      float64
	bp        float64 // option buying power
	nextOrder int
	orders    map[string]*OrderResult
	nowFn     func() time.Time
}

// Ensure PaperBroker implements Broker at compile time.
var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker creates a simulated gateway around a starting spot price.
func NewPaperBroker(symbol string, spot, vol, buyingPower float64) *PaperBroker {
	return &PaperBroker{
		symbol:    symbol,
		spot:      spot,
		vol:       vol,
		rate:      0.05,
		bp:        buyingPower,
		nextOrder: 1,
		orders:    make(map[string]*OrderResult),
		nowFn:     time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (p *PaperBroker) WithClock(now func() time.Time) *PaperBroker {
	p.nowFn = now
	return p
}

// SetSpot pins the simulated underlying price.
func (p *PaperBroker) SetSpot(spot float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spot = spot
}

// SetVol pins the simulated implied volatility.
func (p *PaperBroker) SetVol(vol float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.vol = vol
}

// GetQuote returns the simulated underlying quote with a small random walk.
func (p *PaperBroker) GetQuote(_ context.Context, symbol string) (*Quote, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.spot += (secureFloat64() - 0.5) * 0.5
	const spread = 0.02
	return &Quote{
		Symbol: symbol,
		Bid:    p.spot - spread/2,
		Ask:    p.spot + spread/2,
		Last:   p.spot,
		Volume: secureInt63n(100_000_000),
		Time:   p.nowFn().UTC(),
	}, nil
}

// GetOptionChain generates a synthetic chain of strikes around spot, priced
// with the Greeks engine at the actual time remaining to the 4pm expiry.
func (p *PaperBroker) GetOptionChain(_ context.Context, symbol string, expiration time.Time) ([]models.OptionLeg, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.nowFn().UTC()
	tYears := expiration.Sub(now).Hours() / 24 / 365
	if tYears < greeks.MinExpiryYears {
		tYears = greeks.MinExpiryYears
	}

	const strikeInterval = 1.0
	start := math.Floor(p.spot/strikeInterval)*strikeInterval - 25
	end := start + 50

	var legs []models.OptionLeg
	for strike := start; strike <= end; strike += strikeInterval {
		for _, right := range []greeks.Right{greeks.Call, greeks.Put} {
			q, err := greeks.PriceAndGreeks(p.spot, strike, tYears, p.rate, p.vol, right)
			if err != nil {
				return nil, fmt.Errorf("pricing synthetic chain: %w", err)
			}
			half := math.Max(0.01, q.Price*0.05)
			legs = append(legs, models.OptionLeg{
				Symbol:       OccSymbol(symbol, expiration, right, strike),
				Underlying:   symbol,
				Right:        right,
				Strike:       strike,
				Expiration:   expiration,
				Bid:          math.Max(0.01, q.Price-half),
				Ask:          q.Price + half,
				Delta:        q.Delta,
				Gamma:        q.Gamma,
				Theta:        q.Theta,
				Vega:         q.Vega,
				IV:           p.vol,
				Volume:       secureInt63n(10_000),
				OpenInterest: secureInt63n(50_000),
				QuoteTime:    now,
			})
		}
	}
	return legs, nil
}

// IsMarketOpen always reports open; the schedule gate is the config's job.
func (p *PaperBroker) IsMarketOpen(context.Context) (bool, error) {
	return true, nil
}

// GetOptionBuyingPower returns the simulated buying power.
func (p *PaperBroker) GetOptionBuyingPower(context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.bp, nil
}

// PlaceStrangleOrder fills immediately at the credit limit, split evenly
// across the legs.
func (p *PaperBroker) PlaceStrangleOrder(_ context.Context, req StrangleOrderRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if req.Quantity <= 0 {
		return nil, fmt.Errorf("paper broker: quantity must be > 0")
	}
	half := req.Limit / 2
	res := &OrderResult{
		ID:       p.newOrderID(),
		Status:   StatusFilled,
		AvgPrice: req.Limit,
		Fills: []LegFill{
			{Symbol: req.CallSymbol, Price: half},
			{Symbol: req.PutSymbol, Price: half},
		},
	}
	p.orders[res.ID] = res
	return res, nil
}

// CloseStrangle fills immediately at the debit limit.
func (p *PaperBroker) CloseStrangle(_ context.Context, req CloseStrangleRequest) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	half := req.MaxDebit / 2
	res := &OrderResult{
		ID:       p.newOrderID(),
		Status:   StatusFilled,
		AvgPrice: req.MaxDebit,
		Fills: []LegFill{
			{Symbol: req.CallSymbol, Price: half},
			{Symbol: req.PutSymbol, Price: half},
		},
	}
	p.orders[res.ID] = res
	return res, nil
}

// CloseLeg fills a single leg immediately at the price limit.
func (p *PaperBroker) CloseLeg(_ context.Context, legSymbol string, quantity int, maxPrice float64) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := &OrderResult{
		ID:       p.newOrderID(),
		Status:   StatusFilled,
		AvgPrice: maxPrice,
		Fills:    []LegFill{{Symbol: legSymbol, Price: maxPrice}},
	}
	p.orders[res.ID] = res
	return res, nil
}

// GetOrderStatus returns the stored result for an order.
func (p *PaperBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	res, ok := p.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("paper broker: unknown order %s", orderID)
	}
	return res, nil
}

func (p *PaperBroker) newOrderID() string {
	id := strconv.Itoa(p.nextOrder)
	p.nextOrder++
	return id
}

// OccSymbol builds an OCC-format option symbol:
// TICKER + YYMMDD + C/P + strike*1000 zero-padded to 8 digits.
func OccSymbol(underlying string, expiration time.Time, right greeks.Right, strike float64) string {
	side := "P"
	if right == greeks.Call {
		side = "C"
	}
	return fmt.Sprintf("%s%s%s%08d", underlying, expiration.Format("060102"), side, int(strike*1000))
}

// secureFloat64 generates a cryptographically secure random float64 in [0, 1).
func secureFloat64() float64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return 0.5
	}
	return float64(n.Int64()) / (1 << 53)
}

// secureInt63n generates a cryptographically secure random int64 in [0, n).
func secureInt63n(n int64) int64 {
	r, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return n / 2
	}
	return r.Int64()
}
