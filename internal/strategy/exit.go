package strategy

import (
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/config"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// vegaExplosionMult is the hard multiple of the entry vega cap at which the
// position is considered to have blown through its volatility budget.
const vegaExplosionMult = 1.5

// Mark is the per-cycle mark-to-market input to exit evaluation: the freshly
// fetched spot, the cost to buy both legs back (sum of leg asks, per
// spread), and the recomputed position vega.
type Mark struct {
	Spot        float64
	CostToClose float64
	TotalVega   float64
	Time        time.Time
}

// EvaluateExit tests the exit triggers in fixed priority order and returns
// the first that fires. The ordering is a risk-management decision:
// catastrophic-loss protection dominates profit-taking, which dominates soft
// warnings, so a cycle where stop-loss and profit-target are simultaneously
// true reports the stop.
//
// Pure function: calling it twice on an unchanged mark yields the same
// decision both times.
func EvaluateExit(pos *models.OpenPosition, mark Mark, cfg *config.Config) models.ExitDecision {
	exit := cfg.Strategy.Exit
	pnl := pos.PnLFromCost(mark.CostToClose)

	dec := models.ExitDecision{
		Reason: models.ExitNone,
		PnL:    pnl,
		Spot:   mark.Spot,
		Time:   mark.Time,
	}

	switch {
	case pnl <= -(exit.StopLossMultiple * pos.Credit):
		dec.Reason = models.ExitStopLoss
	case pnl >= exit.ProfitTargetFraction*pos.Credit:
		dec.Reason = models.ExitProfitTarget
	case mark.Spot >= pos.CallLeg.Strike*(1-exit.StrikeBufferPct):
		dec.Reason = models.ExitCallStrikeBreach
	case mark.Spot <= pos.PutLeg.Strike*(1+exit.StrikeBufferPct) && mark.Spot > 0:
		dec.Reason = models.ExitPutStrikeBreach
	case abs(mark.TotalVega) > vegaExplosionMult*exit.VegaCap:
		dec.Reason = models.ExitVegaExplosion
	case !mark.Time.Before(cfg.FinalExitAt(mark.Time)):
		dec.Reason = models.ExitTimeFinal
	case !mark.Time.Before(cfg.RecommendedExitAt(mark.Time)):
		dec.Reason = models.ExitTimeRecommended
	}

	return dec
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
