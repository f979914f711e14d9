package models

import "time"

// EntryChecks is the fixed set of named entry criteria. Each field holds the
// outcome of exactly one independent check; the set is a struct rather than
// a map so the evaluator's output is statically known and exhaustively
// testable.
type EntryChecks struct {
	MarketOpen        bool `json:"market_open"`
	InsideEntryWindow bool `json:"inside_entry_window"`
	SpreadWithinBound bool `json:"spread_within_bound"`
	BuyingPower       bool `json:"buying_power"`
	NoOpenPosition    bool `json:"no_open_position"`
	StrikesFound      bool `json:"strikes_found"`
	PremiumAboveMin   bool `json:"premium_above_min"`
	VegaBelowCap      bool `json:"vega_below_cap"`
	DeltaBalanced     bool `json:"delta_balanced"`
	IVInBand          bool `json:"iv_in_band"`
	StrikeBuffer      bool `json:"strike_buffer"`
}

// NumChecks is the total number of entry criteria contributing to the score.
const NumChecks = 11

// Passed returns how many checks passed.
func (c EntryChecks) Passed() int {
	n := 0
	for _, ok := range []bool{
		c.MarketOpen, c.InsideEntryWindow, c.SpreadWithinBound, c.BuyingPower,
		c.NoOpenPosition, c.StrikesFound, c.PremiumAboveMin, c.VegaBelowCap,
		c.DeltaBalanced, c.IVInBand, c.StrikeBuffer,
	} {
		if ok {
			n++
		}
	}
	return n
}

// EntrySignal is the result of one evaluation cycle. It is created fresh
// each cycle and never persisted beyond the decision it informs.
type EntrySignal struct {
	Timestamp      time.Time   `json:"timestamp"`
	Checks         EntryChecks `json:"checks"`
	Score          float64     `json:"score"` // 0-100
	MayEnter       bool        `json:"may_enter"`
	CallLeg        *OptionLeg  `json:"call_leg,omitempty"`
	PutLeg         *OptionLeg  `json:"put_leg,omitempty"`
	NetDelta       float64     `json:"net_delta"`
	TotalVega      float64     `json:"total_vega"`
	ExpectedCredit float64     `json:"expected_credit"` // sum of leg bids
	Reasons        []string    `json:"reasons,omitempty"`
}
