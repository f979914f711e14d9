package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

var (
	testNow    = time.Date(2026, 3, 16, 10, 30, 0, 0, time.UTC) // a Monday
	testExpiry = time.Date(2026, 3, 16, 16, 0, 0, 0, time.UTC)
)

func leg(right greeks.Right, strike, delta float64, volume int64) models.OptionLeg {
	return models.OptionLeg{
		Symbol:     "SPY-test",
		Underlying: "SPY",
		Right:      right,
		Strike:     strike,
		Expiration: testExpiry,
		Bid:        0.50,
		Ask:        0.55,
		Delta:      delta,
		Vega:       5,
		IV:         0.20,
		Volume:     volume,
	}
}

func TestSelect_ClosestDeltaWins(t *testing.T) {
	candidates := []models.OptionLeg{
		leg(greeks.Call, 505, 0.18, 100),
		leg(greeks.Call, 510, 0.11, 100),
		leg(greeks.Call, 515, 0.06, 100),
	}

	sel := NewStrikeSelector(0.05)
	got, err := sel.Select(candidates, greeks.Call, 500, 0.10, 0.05, testNow)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Strike != 510 {
		t.Errorf("expected strike 510 (delta 0.11), got %.0f", got.Strike)
	}
}

func TestSelect_Deterministic(t *testing.T) {
	candidates := []models.OptionLeg{
		leg(greeks.Put, 495, -0.12, 50),
		leg(greeks.Put, 490, -0.09, 50),
		leg(greeks.Put, 485, -0.05, 50),
	}

	sel := NewStrikeSelector(0.05)
	first, err := sel.Select(candidates, greeks.Put, 500, 0.10, 0.05, testNow)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := sel.Select(candidates, greeks.Put, 500, 0.10, 0.05, testNow)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if again.Strike != first.Strike {
			t.Fatalf("selection not deterministic: %.0f then %.0f", first.Strike, again.Strike)
		}
	}
}

func TestSelect_TieBreaksOnVolumeThenDistance(t *testing.T) {
	// Identical |delta - target|; the higher-volume strike must win.
	candidates := []models.OptionLeg{
		leg(greeks.Call, 508, 0.12, 10),
		leg(greeks.Call, 512, 0.12, 500),
	}
	sel := NewStrikeSelector(0.05)
	got, err := sel.Select(candidates, greeks.Call, 500, 0.10, 0.05, testNow)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Strike != 512 {
		t.Errorf("volume tie-break should pick 512, got %.0f", got.Strike)
	}

	// Same volume: closer to spot wins.
	candidates = []models.OptionLeg{
		leg(greeks.Call, 512, 0.12, 100),
		leg(greeks.Call, 508, 0.12, 100),
	}
	got, err = sel.Select(candidates, greeks.Call, 500, 0.10, 0.05, testNow)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Strike != 508 {
		t.Errorf("distance tie-break should pick 508, got %.0f", got.Strike)
	}
}

func TestSelect_NothingWithinTolerance(t *testing.T) {
	candidates := []models.OptionLeg{
		leg(greeks.Call, 505, 0.30, 100),
		leg(greeks.Call, 520, 0.02, 100),
	}
	sel := NewStrikeSelector(0.05)
	_, err := sel.Select(candidates, greeks.Call, 500, 0.10, 0.03, testNow)
	if !errors.Is(err, ErrStrikeNotFound) {
		t.Errorf("expected ErrStrikeNotFound, got %v", err)
	}
}

func TestSelect_SkipsWrongRightAndQuoteless(t *testing.T) {
	quoteless := leg(greeks.Call, 510, 0.10, 100)
	quoteless.Bid, quoteless.Ask = 0, 0

	candidates := []models.OptionLeg{
		leg(greeks.Put, 490, -0.10, 100), // wrong right
		quoteless,
		leg(greeks.Call, 512, 0.09, 100),
	}
	sel := NewStrikeSelector(0.05)
	got, err := sel.Select(candidates, greeks.Call, 500, 0.10, 0.05, testNow)
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if got.Strike != 512 {
		t.Errorf("only the quoted call should be eligible, got %.0f", got.Strike)
	}
}

func TestSelect_DerivesMissingDelta(t *testing.T) {
	// Price a 510 call through the engine, then hand the selector a leg with
	// that mid and no delta; the derived delta must land within tolerance of
	// the engine's own.
	tYears := testExpiry.Sub(testNow).Hours() / 24 / 365
	q, err := greeks.PriceAndGreeks(500, 505, tYears, 0.05, 0.20, greeks.Call)
	if err != nil {
		t.Fatalf("pricing failed: %v", err)
	}

	candidate := leg(greeks.Call, 505, 0, 100)
	candidate.Bid = q.Price
	candidate.Ask = q.Price

	sel := NewStrikeSelector(0.05)
	got, err := sel.Select([]models.OptionLeg{candidate}, greeks.Call, 500, q.Delta, 0.02, testNow)
	if err != nil {
		t.Fatalf("Select with derived delta failed: %v", err)
	}
	if got.Strike != 505 {
		t.Errorf("derived-delta leg should be selected, got %.0f", got.Strike)
	}
}
