package models

import (
	"fmt"
	"math"
	"time"
)

// SharesPerContract is the option contract multiplier.
const SharesPerContract = 100.0

// GreeksSnapshot captures the aggregate position sensitivities at a point in
// time. Vega and gamma are summed across legs; delta is the net of the short
// call and short put.
type GreeksSnapshot struct {
	NetDelta  float64   `json:"net_delta"`
	Gamma     float64   `json:"gamma"`
	Theta     float64   `json:"theta"` // per day
	TotalVega float64   `json:"total_vega"`
	Taken     time.Time `json:"taken"`
}

// OpenPosition is the stateful entity owned by the lifecycle monitor. It is
// created exactly once per trade from confirmed fill prices and discarded
// once an exit is confirmed filled. There is never more than one writer.
type OpenPosition struct {
	ID            string         `json:"id"`
	Symbol        string         `json:"symbol"`
	EntryTime     time.Time      `json:"entry_time"`
	Expiration    time.Time      `json:"expiration"`
	CallLeg       OptionLeg      `json:"call_leg"`
	PutLeg        OptionLeg      `json:"put_leg"`
	CallFillPrice float64        `json:"call_fill_price"`
	PutFillPrice  float64        `json:"put_fill_price"`
	Credit        float64        `json:"credit"` // total premium collected per spread
	Quantity      int            `json:"quantity"`
	EntryGreeks   GreeksSnapshot `json:"entry_greeks"`
	EntrySpot     float64        `json:"entry_spot"`

	CurrentPnL   float64 `json:"current_pnl"`
	MaxAdverse   float64 `json:"max_adverse"`   // most negative P&L seen, only decreases
	MaxFavorable float64 `json:"max_favorable"` // most positive P&L seen, only increases

	ExitTime   time.Time  `json:"exit_time,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	RealizedPnL float64   `json:"realized_pnl,omitempty"`
}

// NewOpenPosition constructs a position from confirmed fills. The fill
// prices are the realized entry prices, not the quotes the entry signal was
// scored on.
func NewOpenPosition(id, symbol string, call, put OptionLeg, callFill, putFill float64,
	quantity int, entrySpot float64, entryGreeks GreeksSnapshot, entryTime time.Time) (*OpenPosition, error) {
	if id == "" {
		return nil, fmt.Errorf("position id is required")
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("position quantity must be > 0, got %d", quantity)
	}
	credit := callFill + putFill
	if credit <= 0 {
		return nil, fmt.Errorf("position credit must be > 0, got %.4f", credit)
	}
	return &OpenPosition{
		ID:            id,
		Symbol:        symbol,
		EntryTime:     entryTime,
		Expiration:    call.Expiration,
		CallLeg:       call,
		PutLeg:        put,
		CallFillPrice: callFill,
		PutFillPrice:  putFill,
		Credit:        credit,
		Quantity:      quantity,
		EntryGreeks:   entryGreeks,
		EntrySpot:     entrySpot,
	}, nil
}

// MarkToMarket records the current P&L and updates the running excursions.
// The excursion updates are unconditional and monotonic: adverse only
// decreases, favorable only increases. Applying the same P&L twice is
// idempotent.
func (p *OpenPosition) MarkToMarket(pnl float64) {
	p.CurrentPnL = pnl
	p.MaxAdverse = math.Min(p.MaxAdverse, pnl)
	p.MaxFavorable = math.Max(p.MaxFavorable, pnl)
}

// PnLFromCost converts a cost-to-close (sum of leg asks, per spread) into
// mark-to-market P&L: credit collected minus what it costs to buy back.
func (p *OpenPosition) PnLFromCost(costToClose float64) float64 {
	return p.Credit - costToClose
}

// DollarPnL scales a per-spread P&L into account dollars.
func (p *OpenPosition) DollarPnL(pnl float64) float64 {
	return pnl * float64(p.Quantity) * SharesPerContract
}

// Validate enforces the position invariants.
func (p *OpenPosition) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("position has empty ID")
	}
	if p.Credit <= 0 {
		return fmt.Errorf("position %s: credit must be positive (current: %.4f)", p.ID, p.Credit)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position %s: quantity must be > 0 (current: %d)", p.ID, p.Quantity)
	}
	if p.MaxAdverse > 0 {
		return fmt.Errorf("position %s: max adverse excursion must be <= 0 (current: %.4f)", p.ID, p.MaxAdverse)
	}
	if p.MaxFavorable < 0 {
		return fmt.Errorf("position %s: max favorable excursion must be >= 0 (current: %.4f)", p.ID, p.MaxFavorable)
	}
	if p.CallLeg.Right == p.PutLeg.Right {
		return fmt.Errorf("position %s: legs must be one call and one put", p.ID)
	}
	return nil
}
