// Package strategy implements the entry gate, strike selection and exit
// trigger evaluation for the 0DTE short strangle.
package strategy

import (
	"errors"
	"math"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// ErrStrikeNotFound is returned when no candidate sits within the delta
// tolerance. The selector never returns a nearest-but-unacceptable contract.
var ErrStrikeNotFound = errors.New("strategy: no strike within delta tolerance")

// StrikeSelector picks the leg closest to a target delta. It is a pure
// function of its inputs: identical candidate lists and targets always
// return the identical strike.
type StrikeSelector struct {
	rate float64 // risk-free rate fed to the pricing engine for derived deltas
}

// NewStrikeSelector creates a selector using the given risk-free rate.
func NewStrikeSelector(rate float64) *StrikeSelector {
	return &StrikeSelector{rate: rate}
}

// Select scans candidates of the given right and returns the one minimizing
// |delta - target|. Candidates without a broker-supplied delta have one
// derived through the pricing engine from their observed mid price. Exact
// ties prefer the higher-volume strike, then the one closer to spot.
func (s *StrikeSelector) Select(candidates []models.OptionLeg, right greeks.Right,
	spot, targetDelta, tolerance float64, now time.Time) (models.OptionLeg, error) {

	var best models.OptionLeg
	bestDiff := math.MaxFloat64
	found := false

	for _, leg := range candidates {
		if leg.Right != right || !leg.HasQuote() {
			continue
		}

		delta, ok := s.legDelta(leg, spot, now)
		if !ok {
			continue
		}

		diff := math.Abs(math.Abs(delta) - targetDelta)
		if diff > tolerance {
			continue
		}

		switch {
		case !found || diff < bestDiff:
			best, bestDiff, found = leg, diff, true
		case diff == bestDiff:
			if leg.Volume > best.Volume {
				best = leg
			} else if leg.Volume == best.Volume &&
				math.Abs(leg.Strike-spot) < math.Abs(best.Strike-spot) {
				best = leg
			}
		}
	}

	if !found {
		return models.OptionLeg{}, ErrStrikeNotFound
	}
	return best, nil
}

// legDelta returns the candidate's own delta when present, otherwise derives
// one by solving the mid price for implied volatility and repricing.
func (s *StrikeSelector) legDelta(leg models.OptionLeg, spot float64, now time.Time) (float64, bool) {
	if leg.HasDelta() {
		return leg.Delta, true
	}

	tYears := leg.Expiration.Sub(now).Hours() / 24 / 365
	if tYears < greeks.MinExpiryYears {
		tYears = greeks.MinExpiryYears
	}

	iv, err := greeks.ImpliedVolatility(leg.Mid(), spot, leg.Strike, tYears, s.rate, leg.Right)
	if err != nil {
		return 0, false
	}
	delta, err := greeks.Delta(spot, leg.Strike, tYears, s.rate, iv, leg.Right)
	if err != nil {
		return 0, false
	}
	return delta, true
}
