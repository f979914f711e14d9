package monitor

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/zerodte_strangler/internal/broker"
	"github.com/eddiefleurent/zerodte_strangler/internal/config"
	"github.com/eddiefleurent/zerodte_strangler/internal/events"
	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
	"github.com/eddiefleurent/zerodte_strangler/internal/retry"
	"github.com/eddiefleurent/zerodte_strangler/internal/storage"
	"github.com/eddiefleurent/zerodte_strangler/internal/strategy"
)

// A Monday morning inside the entry window, UTC schedule.
var testClock = time.Date(2026, 3, 16, 10, 30, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Environment: config.EnvironmentConfig{Mode: "paper"},
		Schedule: config.ScheduleConfig{
			Timezone:         "UTC",
			EntryWindowStart: "09:45",
			EntryWindowEnd:   "12:00",
			RecommendedExit:  "15:30",
			FinalExit:        "15:58",
			IdleInterval:     "1m",
			OpenInterval:     "5s",
			OrderFillTimeout: "2s",
		},
		Strategy: config.StrategyConfig{
			Symbol:       "SPY",
			Quantity:     1,
			RiskFreeRate: 0.05,
			Entry: config.EntryConfig{
				DeltaTarget:     0.10,
				DeltaTolerance:  0.05,
				MinPremium:      0.05,
				MaxSpreadPct:    0.05,
				MinBuyingPower:  1000,
				MaxNetDelta:     0.20,
				IVMin:           0.05,
				IVMax:           3.0,
				StrikeBufferPct: 0.003,
				ScoreThreshold:  90,
			},
			Exit: config.ExitConfig{
				StopLossMultiple:     2.0,
				ProfitTargetFraction: 0.5,
				VegaCap:              50,
				StrikeBufferPct:      0.002,
			},
		},
		Risk:    config.RiskConfig{MaxContracts: 5},
		Storage: config.StorageConfig{Path: filepath.Join(t.TempDir(), "positions.json")},
	}
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func fastRetry() retry.Config {
	return retry.Config{
		MaxRetries:     1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Timeout:        2 * time.Second,
	}
}

func newTestMonitor(t *testing.T, cfg *config.Config, gw broker.Broker) (*Monitor, storage.Interface, *events.Bus) {
	t.Helper()
	store, err := storage.NewStorage(cfg.Storage.Path)
	require.NoError(t, err)

	selector := strategy.NewStrikeSelector(cfg.Strategy.RiskFreeRate)
	evaluator := strategy.NewEvaluator(cfg, selector, quietLogger())
	closer := retry.NewClient(gw, quietLogger(), fastRetry())
	bus := events.NewBus()

	m, err := New(cfg, gw, store, evaluator, closer, bus, quietLogger())
	require.NoError(t, err)
	return m.WithClock(func() time.Time { return testClock }), store, bus
}

func TestIdleCycle_EntersOnGoodConditions(t *testing.T) {
	cfg := testConfig(t)
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })

	m, store, bus := newTestMonitor(t, cfg, paper)

	var transitions []models.PositionState
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.TypeStateTransition {
			transitions = append(transitions, e.ToState)
		}
	})

	m.cycle(context.Background())

	assert.Equal(t, models.StateOpen, m.State())
	require.Equal(t, []models.PositionState{models.StateEntering, models.StateOpen}, transitions)

	pos := store.GetCurrentPosition()
	require.NotNil(t, pos)
	assert.Greater(t, pos.Credit, 0.0)
	assert.Equal(t, 1, pos.Quantity)
	assert.NotEqual(t, pos.CallLeg.Symbol, pos.PutLeg.Symbol)
	assert.Equal(t, models.StateOpen, store.GetState())
}

func TestIdleCycle_RefusesOutsideWindow(t *testing.T) {
	cfg := testConfig(t)
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000)

	m, store, _ := newTestMonitor(t, cfg, paper)
	afternoon := time.Date(2026, 3, 16, 14, 0, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return afternoon })

	m.cycle(context.Background())

	assert.Equal(t, models.StateIdle, m.State())
	assert.Nil(t, store.GetCurrentPosition())
}

// emptyChainBroker serves quotes and account data from the paper broker but
// never returns an option chain.
type emptyChainBroker struct {
	*broker.PaperBroker
}

func (e *emptyChainBroker) GetOptionChain(context.Context, string, time.Time) ([]models.OptionLeg, error) {
	return nil, nil
}

func TestIdleCycle_NoStrikesRefusesEntryAtLowThreshold(t *testing.T) {
	cfg := testConfig(t)
	// Session and account checks alone clear this threshold, so the gate
	// opens without any strikes selected.
	cfg.Strategy.Entry.ScoreThreshold = 40
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })
	gw := &emptyChainBroker{PaperBroker: paper}

	m, store, _ := newTestMonitor(t, cfg, gw)

	m.cycle(context.Background())

	assert.Equal(t, models.StateIdle, m.State())
	assert.Nil(t, store.GetCurrentPosition())
}

func TestOpenCycle_StopLossClosesPosition(t *testing.T) {
	cfg := testConfig(t)
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })

	m, store, bus := newTestMonitor(t, cfg, paper)

	var exitReasons []models.ExitReason
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.TypeExitDecision && e.Decision != nil {
			exitReasons = append(exitReasons, e.Decision.Reason)
		}
	})

	m.cycle(context.Background())
	require.Equal(t, models.StateOpen, m.State())
	pos := store.GetCurrentPosition()
	require.NotNil(t, pos)

	// Blow implied vol out; both legs reprice far above the collected
	// credit and the stop-loss multiple is crossed decisively.
	paper.SetVol(1.0)
	m.cycle(context.Background())

	assert.Equal(t, models.StateIdle, m.State())
	assert.Nil(t, store.GetCurrentPosition())
	require.NotEmpty(t, exitReasons)
	assert.Equal(t, models.ExitStopLoss, exitReasons[0])

	hist := store.GetHistory()
	require.Len(t, hist, 1)
	assert.Equal(t, models.ExitStopLoss, hist[0].ExitReason)
	assert.Less(t, hist[0].RealizedPnL, 0.0)
	assert.LessOrEqual(t, hist[0].MaxAdverse, hist[0].RealizedPnL*0.5)
}

func TestOpenCycle_QuietMarketHolds(t *testing.T) {
	cfg := testConfig(t)
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })

	m, store, _ := newTestMonitor(t, cfg, paper)

	m.cycle(context.Background())
	require.Equal(t, models.StateOpen, m.State())

	// A few uneventful marks: position stays open, excursions recorded.
	for i := 0; i < 3; i++ {
		m.cycle(context.Background())
	}

	assert.Equal(t, models.StateOpen, m.State())
	pos := store.GetCurrentPosition()
	require.NotNil(t, pos)
	assert.LessOrEqual(t, pos.MaxAdverse, 0.0)
	assert.GreaterOrEqual(t, pos.MaxFavorable, 0.0)
}

func TestRecommendedExit_WarnsWithoutClosing(t *testing.T) {
	cfg := testConfig(t)
	// Push the profit target out of reach so the soft time cutoff is the
	// only trigger in play late in the session.
	cfg.Strategy.Exit.ProfitTargetFraction = 0.999
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })

	m, store, bus := newTestMonitor(t, cfg, paper)

	var alerts []string
	var decisions []models.ExitReason
	bus.Subscribe(func(e events.Event) {
		switch {
		case e.Type == events.TypeAlert:
			alerts = append(alerts, e.Message)
		case e.Type == events.TypeExitDecision && e.Decision != nil:
			decisions = append(decisions, e.Decision.Reason)
		}
	})

	m.cycle(context.Background())
	require.Equal(t, models.StateOpen, m.State())

	// Move the engine clock past the soft cutoff but before the hard one.
	soft := time.Date(2026, 3, 16, 15, 40, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return soft })
	paper.WithClock(func() time.Time { return soft })

	m.cycle(context.Background())
	m.cycle(context.Background())

	// Position survives the soft cutoff; exactly one warning and one
	// decision event are raised even across repeated cycles.
	assert.Equal(t, models.StateOpen, m.State())
	assert.NotNil(t, store.GetCurrentPosition())
	assert.Len(t, alerts, 1)
	require.Len(t, decisions, 1)
	assert.Equal(t, models.ExitTimeRecommended, decisions[0])
}

func TestForceRecommendedExit_Closes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schedule.ForceRecommendedExit = true
	cfg.Strategy.Exit.ProfitTargetFraction = 0.999
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })

	m, store, _ := newTestMonitor(t, cfg, paper)

	m.cycle(context.Background())
	require.Equal(t, models.StateOpen, m.State())

	soft := time.Date(2026, 3, 16, 15, 40, 0, 0, time.UTC)
	m.WithClock(func() time.Time { return soft })
	paper.WithClock(func() time.Time { return soft })

	m.cycle(context.Background())

	assert.Equal(t, models.StateIdle, m.State())
	assert.Nil(t, store.GetCurrentPosition())
	require.Len(t, store.GetHistory(), 1)
}

// failingOrderBroker serves market data from the paper broker but refuses
// every close, to drive the unmanaged-risk path.
type failingOrderBroker struct {
	*broker.PaperBroker
}

func (f *failingOrderBroker) CloseStrangle(context.Context, broker.CloseStrangleRequest) (*broker.OrderResult, error) {
	return nil, errors.New("order rejected: account restricted")
}

func (f *failingOrderBroker) CloseLeg(context.Context, string, int, float64) (*broker.OrderResult, error) {
	return nil, errors.New("order rejected: account restricted")
}

func TestFallbackFailure_EntersErrorState(t *testing.T) {
	cfg := testConfig(t)
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })
	gw := &failingOrderBroker{PaperBroker: paper}

	m, store, bus := newTestMonitor(t, cfg, gw)

	var alerts []string
	bus.Subscribe(func(e events.Event) {
		if e.Type == events.TypeAlert {
			alerts = append(alerts, e.Message)
		}
	})

	m.cycle(context.Background())
	require.Equal(t, models.StateOpen, m.State())

	paper.SetVol(1.0) // force a stop-loss
	m.cycle(context.Background())

	assert.Equal(t, models.StateError, m.State())
	assert.Equal(t, models.StateError, store.GetState())
	assert.NotNil(t, store.GetCurrentPosition(), "unmanaged position must stay on record")
	require.NotEmpty(t, alerts)
	assert.Contains(t, alerts[len(alerts)-1], "UNMANAGED POSITION RISK")

	// Error state is sticky: further cycles change nothing.
	m.cycle(context.Background())
	assert.Equal(t, models.StateError, m.State())
}

func TestRestore_InterruptedEntryResumesIdle(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewStorage(cfg.Storage.Path)
	require.NoError(t, err)
	require.NoError(t, store.SetState(models.StateEntering))

	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000)
	selector := strategy.NewStrikeSelector(cfg.Strategy.RiskFreeRate)
	evaluator := strategy.NewEvaluator(cfg, selector, quietLogger())
	closer := retry.NewClient(paper, quietLogger(), fastRetry())

	m, err := New(cfg, paper, store, evaluator, closer, events.NewBus(), quietLogger())
	require.NoError(t, err)

	assert.Equal(t, models.StateIdle, m.State())
	assert.Equal(t, models.StateIdle, store.GetState())
}

func TestRestore_PositionWithIdleStateResumesOpen(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewStorage(cfg.Storage.Path)
	require.NoError(t, err)

	exp := time.Date(2026, 3, 16, 16, 0, 0, 0, time.UTC)
	call := models.OptionLeg{Symbol: "C1", Right: greeks.Call, Strike: 510, Expiration: exp, Bid: 0.48, Ask: 0.52}
	put := models.OptionLeg{Symbol: "P1", Right: greeks.Put, Strike: 490, Expiration: exp, Bid: 0.48, Ask: 0.52}
	pos, err := models.NewOpenPosition("pos-restored", "SPY", call, put, 0.5, 0.5, 1, 500,
		models.GreeksSnapshot{}, testClock)
	require.NoError(t, err)
	require.NoError(t, store.SetCurrentPosition(pos))

	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000)
	selector := strategy.NewStrikeSelector(cfg.Strategy.RiskFreeRate)
	evaluator := strategy.NewEvaluator(cfg, selector, quietLogger())
	closer := retry.NewClient(paper, quietLogger(), fastRetry())

	m, err := New(cfg, paper, store, evaluator, closer, events.NewBus(), quietLogger())
	require.NoError(t, err)

	assert.Equal(t, models.StateOpen, m.State())
}

func TestShutdown_ClosesLivePosition(t *testing.T) {
	cfg := testConfig(t)
	paper := broker.NewPaperBroker("SPY", 500, 0.20, 100_000).
		WithClock(func() time.Time { return testClock })

	m, store, _ := newTestMonitor(t, cfg, paper)

	m.cycle(context.Background())
	require.Equal(t, models.StateOpen, m.State())

	require.NoError(t, m.shutdown())

	assert.Equal(t, models.StateIdle, m.State())
	assert.Nil(t, store.GetCurrentPosition())
	require.Len(t, store.GetHistory(), 1)
}
