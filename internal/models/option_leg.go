// Package models provides data structures and state management for the
// strangle lifecycle engine.
package models

import (
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
)

// OptionLeg is an immutable snapshot of one option contract. A fresh leg is
// produced on every quote refresh; nothing mutates a leg in place.
type OptionLeg struct {
	Symbol       string       `json:"symbol"`
	Underlying   string       `json:"underlying"`
	Right        greeks.Right `json:"right"`
	Strike       float64      `json:"strike"`
	Expiration   time.Time    `json:"expiration"`
	Bid          float64      `json:"bid"`
	Ask          float64      `json:"ask"`
	Delta        float64      `json:"delta"`
	Gamma        float64      `json:"gamma"`
	Theta        float64      `json:"theta"` // per day
	Vega         float64      `json:"vega"`
	IV           float64      `json:"iv"`
	Volume       int64        `json:"volume"`
	OpenInterest int64        `json:"open_interest"`
	QuoteTime    time.Time    `json:"quote_time"`
}

// Mid returns the bid/ask midpoint.
func (l OptionLeg) Mid() float64 {
	return (l.Bid + l.Ask) / 2
}

// HasQuote reports whether the leg carries a usable two-sided market.
func (l OptionLeg) HasQuote() bool {
	return l.Bid > 0 && l.Ask > 0 && l.Ask >= l.Bid
}

// HasDelta reports whether the broker supplied a delta with the snapshot.
// Zero is treated as missing: a genuinely zero-delta contract has no place
// in a short strangle.
func (l OptionLeg) HasDelta() bool {
	return l.Delta != 0
}
