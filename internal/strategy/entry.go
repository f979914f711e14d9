package strategy

import (
	"fmt"
	"log"
	"math"
	"os"
	"strings"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/broker"
	"github.com/eddiefleurent/zerodte_strangler/internal/config"
	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// Snapshot is everything one entry evaluation cycle looks at. A nil Quote or
// empty Chain means that data was unavailable this cycle; the evaluator
// records the affected checks as failed rather than erroring.
type Snapshot struct {
	Time            time.Time
	MarketOpen      bool
	Quote           *broker.Quote
	Chain           []models.OptionLeg
	BuyingPower     float64
	HasOpenPosition bool
}

// Evaluator scores a market snapshot against the entry criteria gate.
//
// Every check is evaluated even after an early failure so the returned
// breakdown is complete for diagnostics; the marginal cost of a few extra
// comparisons per cycle is nothing next to being able to see why an entry
// was refused.
type Evaluator struct {
	cfg      *config.Config
	selector *StrikeSelector
	logger   *log.Logger
}

// NewEvaluator creates an entry evaluator.
func NewEvaluator(cfg *config.Config, selector *StrikeSelector, logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.New(os.Stderr, "strategy: ", log.LstdFlags)
	}
	return &Evaluator{cfg: cfg, selector: selector, logger: logger}
}

// Evaluate runs the full check set and returns a fresh EntrySignal. It never
// returns an error for missing market data; only malformed configuration is
// fatal, and that is rejected at startup.
func (e *Evaluator) Evaluate(snap Snapshot) *models.EntrySignal {
	entry := e.cfg.Strategy.Entry
	sig := &models.EntrySignal{Timestamp: snap.Time}
	fail := func(format string, args ...interface{}) {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf(format, args...))
	}

	// Session and window
	sig.Checks.MarketOpen = snap.MarketOpen
	if !snap.MarketOpen {
		fail("market session closed")
	}
	sig.Checks.InsideEntryWindow = e.cfg.InsideEntryWindow(snap.Time)
	if !sig.Checks.InsideEntryWindow {
		fail("outside entry window %s-%s", e.cfg.Schedule.EntryWindowStart, e.cfg.Schedule.EntryWindowEnd)
	}

	// Underlying quote quality
	var spot float64
	if snap.Quote != nil && snap.Quote.Mid() > 0 {
		spot = snap.Quote.Mid()
		sig.Checks.SpreadWithinBound = snap.Quote.SpreadPct() <= entry.MaxSpreadPct
		if !sig.Checks.SpreadWithinBound {
			fail("underlying spread %.4f exceeds bound %.4f", snap.Quote.SpreadPct(), entry.MaxSpreadPct)
		}
	} else {
		fail("no underlying quote this cycle")
	}

	// Account state
	sig.Checks.BuyingPower = snap.BuyingPower >= entry.MinBuyingPower
	if !sig.Checks.BuyingPower {
		fail("buying power $%.2f below minimum $%.2f", snap.BuyingPower, entry.MinBuyingPower)
	}
	sig.Checks.NoOpenPosition = !snap.HasOpenPosition
	if snap.HasOpenPosition {
		fail("position already open")
	}

	// Strike selection
	if spot > 0 && len(snap.Chain) > 0 {
		call, callErr := e.selector.Select(snap.Chain, greeks.Call, spot, entry.DeltaTarget, entry.DeltaTolerance, snap.Time)
		put, putErr := e.selector.Select(snap.Chain, greeks.Put, spot, entry.DeltaTarget, entry.DeltaTolerance, snap.Time)
		if callErr == nil && putErr == nil {
			sig.Checks.StrikesFound = true
			sig.CallLeg = &call
			sig.PutLeg = &put
		} else {
			fail("strike selection failed (call: %v, put: %v)", callErr, putErr)
		}
	} else {
		fail("no option chain this cycle")
	}

	if sig.Checks.StrikesFound {
		e.scoreLegs(sig, spot, entry)
	} else {
		fail("leg-dependent checks failed: no strikes selected")
	}

	sig.Score = 100 * float64(sig.Checks.Passed()) / float64(models.NumChecks)
	sig.MayEnter = sig.Score >= entry.ScoreThreshold

	if !sig.MayEnter && len(sig.Reasons) > 0 {
		e.logger.Printf("entry refused, score %.0f: %s", sig.Score, strings.Join(sig.Reasons, "; "))
	}

	return sig
}

// scoreLegs runs the checks that need both selected legs.
func (e *Evaluator) scoreLegs(sig *models.EntrySignal, spot float64, entry config.EntryConfig) {
	call, put := *sig.CallLeg, *sig.PutLeg
	fail := func(format string, args ...interface{}) {
		sig.Reasons = append(sig.Reasons, fmt.Sprintf(format, args...))
	}

	sig.ExpectedCredit = call.Bid + put.Bid
	sig.NetDelta = call.Delta + put.Delta
	sig.TotalVega = call.Vega + put.Vega

	sig.Checks.PremiumAboveMin = call.Bid >= entry.MinPremium && put.Bid >= entry.MinPremium
	if !sig.Checks.PremiumAboveMin {
		fail("leg premium below minimum $%.2f (call $%.2f, put $%.2f)", entry.MinPremium, call.Bid, put.Bid)
	}

	vegaCap := e.cfg.Strategy.Exit.VegaCap
	sig.Checks.VegaBelowCap = math.Abs(sig.TotalVega) <= vegaCap
	if !sig.Checks.VegaBelowCap {
		fail("total vega %.2f exceeds cap %.2f", sig.TotalVega, vegaCap)
	}

	sig.Checks.DeltaBalanced = math.Abs(sig.NetDelta) <= entry.MaxNetDelta
	if !sig.Checks.DeltaBalanced {
		fail("net delta %.3f outside imbalance bound %.3f", sig.NetDelta, entry.MaxNetDelta)
	}

	sig.Checks.IVInBand = call.IV >= entry.IVMin && call.IV <= entry.IVMax &&
		put.IV >= entry.IVMin && put.IV <= entry.IVMax
	if !sig.Checks.IVInBand {
		fail("implied vol outside band [%.2f, %.2f] (call %.2f, put %.2f)",
			entry.IVMin, entry.IVMax, call.IV, put.IV)
	}

	callDist := (call.Strike - spot) / spot
	putDist := (spot - put.Strike) / spot
	sig.Checks.StrikeBuffer = callDist >= entry.StrikeBufferPct && putDist >= entry.StrikeBufferPct
	if !sig.Checks.StrikeBuffer {
		fail("strike distance below buffer %.3f (call %.3f, put %.3f)",
			entry.StrikeBufferPct, callDist, putDist)
	}
}
