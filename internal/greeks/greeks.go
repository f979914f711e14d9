// Package greeks implements Black-Scholes pricing and the option
// sensitivities the lifecycle engine depends on. All functions are pure and
// safe for concurrent use.
package greeks

import (
	"fmt"
	"math"
)

// Right identifies the option side of a contract.
type Right string

const (
	// Call is the right to buy the underlying at the strike.
	Call Right = "call"
	// Put is the right to sell the underlying at the strike.
	Put Right = "put"
)

// Valid returns true if the Right is one of the defined constants.
func (r Right) Valid() bool {
	return r == Call || r == Put
}

// MinExpiryYears is the floor callers should apply to time-to-expiry before
// pricing: five minutes expressed in years. The engine itself rejects
// non-positive inputs rather than clamping, so near-expiry flooring is an
// explicit caller decision.
const MinExpiryYears = 5.0 / (60.0 * 24.0 * 365.0)

// DomainError reports invalid inputs that indicate a programmer or
// configuration error. It must not be caught and retried.
type DomainError struct {
	Field string
	Value float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("greeks: invalid %s: %v", e.Field, e.Value)
}

// Quote is the result of pricing a single option leg.
//
// Theta is returned in per-day units: the engine divides the annualized
// decay by 365 at this boundary so every call site sees the same convention.
// A consumer that needs per-year theta multiplies back explicitly.
type Quote struct {
	Price float64
	Delta float64
	Gamma float64
	Theta float64 // per day
	Vega  float64 // per 1.00 change in vol
}

// PriceAndGreeks prices one option leg under Black-Scholes.
//
// spot and strike must be positive, tYears must be strictly positive and vol
// must be positive; violations return a *DomainError. Callers working with
// 0DTE contracts are responsible for flooring tYears at MinExpiryYears.
func PriceAndGreeks(spot, strike, tYears, rate, vol float64, right Right) (Quote, error) {
	switch {
	case !right.Valid():
		return Quote{}, &DomainError{Field: "right", Value: 0}
	case spot <= 0:
		return Quote{}, &DomainError{Field: "spot", Value: spot}
	case strike <= 0:
		return Quote{}, &DomainError{Field: "strike", Value: strike}
	case tYears <= 0:
		return Quote{}, &DomainError{Field: "time_to_expiry", Value: tYears}
	case vol <= 0:
		return Quote{}, &DomainError{Field: "volatility", Value: vol}
	}

	sqrtT := math.Sqrt(tYears)
	d1 := (math.Log(spot/strike) + (rate+0.5*vol*vol)*tYears) / (vol * sqrtT)
	d2 := d1 - vol*sqrtT

	nd1 := normCDF(d1)
	nd2 := normCDF(d2)
	pdfD1 := normPDF(d1)
	disc := math.Exp(-rate * tYears)

	q := Quote{
		Gamma: pdfD1 / (spot * vol * sqrtT),
		Vega:  spot * pdfD1 * sqrtT,
	}

	if right == Call {
		q.Price = spot*nd1 - strike*disc*nd2
		q.Delta = nd1
		q.Theta = (-spot*pdfD1*vol/(2*sqrtT) - rate*strike*disc*nd2) / 365
	} else {
		q.Price = strike*disc*normCDF(-d2) - spot*normCDF(-d1)
		q.Delta = nd1 - 1
		q.Theta = (-spot*pdfD1*vol/(2*sqrtT) + rate*strike*disc*normCDF(-d2)) / 365
	}

	return q, nil
}

// Delta returns only the delta of a leg, for callers that derive deltas from
// observed prices via ImpliedVolatility first.
func Delta(spot, strike, tYears, rate, vol float64, right Right) (float64, error) {
	q, err := PriceAndGreeks(spot, strike, tYears, rate, vol, right)
	if err != nil {
		return 0, err
	}
	return q.Delta, nil
}

// IV solver bounds. 0DTE premiums can imply triple-digit vols, so the upper
// bracket is deliberately generous.
const (
	ivLow       = 1e-4
	ivHigh      = 5.0
	ivTolerance = 1e-7
	ivMaxIter   = 200
)

// ImpliedVolatility recovers the Black-Scholes volatility that reproduces an
// observed option price, by bisection on the (monotonic in vol) price
// function. Returns a *DomainError for invalid inputs and a plain error when
// the observed price sits outside the no-arbitrage bounds the bracket can
// reach.
func ImpliedVolatility(observedPrice, spot, strike, tYears, rate float64, right Right) (float64, error) {
	switch {
	case !right.Valid():
		return 0, &DomainError{Field: "right", Value: 0}
	case spot <= 0:
		return 0, &DomainError{Field: "spot", Value: spot}
	case strike <= 0:
		return 0, &DomainError{Field: "strike", Value: strike}
	case tYears <= 0:
		return 0, &DomainError{Field: "time_to_expiry", Value: tYears}
	case observedPrice <= 0:
		return 0, &DomainError{Field: "observed_price", Value: observedPrice}
	}

	priceAt := func(vol float64) float64 {
		q, err := PriceAndGreeks(spot, strike, tYears, rate, vol, right)
		if err != nil {
			return math.NaN()
		}
		return q.Price
	}

	lo, hi := ivLow, ivHigh
	pLo, pHi := priceAt(lo), priceAt(hi)
	if observedPrice < pLo || observedPrice > pHi {
		return 0, fmt.Errorf("greeks: observed price %.4f outside solvable range [%.4f, %.4f]",
			observedPrice, pLo, pHi)
	}

	for i := 0; i < ivMaxIter; i++ {
		mid := (lo + hi) / 2
		pMid := priceAt(mid)
		if math.Abs(pMid-observedPrice) < ivTolerance || (hi-lo)/2 < ivTolerance {
			return mid, nil
		}
		if pMid < observedPrice {
			lo = mid
		} else {
			hi = mid
		}
	}

	return (lo + hi) / 2, nil
}

func normCDF(x float64) float64 {
	return 0.5 * math.Erfc(-x/math.Sqrt2)
}

func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / math.Sqrt(2*math.Pi)
}
