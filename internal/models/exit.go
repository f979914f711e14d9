package models

import "time"

// ExitReason tags the single trigger an exit-evaluation cycle picked. At
// most one non-none reason is produced per cycle; the priority order lives
// in the strategy package.
type ExitReason string

const (
	// ExitStopLoss fires when the mark-to-market loss reaches the
	// configured multiple of the credit collected.
	ExitStopLoss ExitReason = "stop_loss"
	// ExitProfitTarget fires when the position has captured the configured
	// fraction of the credit.
	ExitProfitTarget ExitReason = "profit_target"
	// ExitCallStrikeBreach fires when spot moves within the buffer of the
	// short call strike.
	ExitCallStrikeBreach ExitReason = "call_strike_breach"
	// ExitPutStrikeBreach fires when spot moves within the buffer of the
	// short put strike.
	ExitPutStrikeBreach ExitReason = "put_strike_breach"
	// ExitVegaExplosion fires when position vega magnitude exceeds 1.5x the
	// configured cap.
	ExitVegaExplosion ExitReason = "vega_explosion"
	// ExitTimeFinal is the hard cutoff. It cannot be suppressed or delayed.
	ExitTimeFinal ExitReason = "time_final"
	// ExitTimeRecommended is the soft cutoff; warning-only unless the
	// force_recommended_exit toggle is set.
	ExitTimeRecommended ExitReason = "time_recommended"
	// ExitNone means no trigger fired this cycle.
	ExitNone ExitReason = "none"
)

// Forced reports whether the reason requires closing the position.
func (r ExitReason) Forced() bool {
	return r != ExitNone && r != ExitTimeRecommended
}

// ExitDecision records what the exit evaluation saw when it picked (or
// declined to pick) a trigger.
type ExitDecision struct {
	Reason ExitReason `json:"reason"`
	PnL    float64    `json:"pnl"`
	Spot   float64    `json:"spot"`
	Time   time.Time  `json:"time"`
}
