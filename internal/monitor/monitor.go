// Package monitor runs the position lifecycle: it polls market data on a
// phase-dependent cadence, gates entries through the criteria score, and
// walks every position through the entering/open/exiting states until the
// close is confirmed or escalated.
package monitor

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/eddiefleurent/zerodte_strangler/internal/broker"
	"github.com/eddiefleurent/zerodte_strangler/internal/config"
	"github.com/eddiefleurent/zerodte_strangler/internal/events"
	"github.com/eddiefleurent/zerodte_strangler/internal/greeks"
	"github.com/eddiefleurent/zerodte_strangler/internal/metrics"
	"github.com/eddiefleurent/zerodte_strangler/internal/models"
	"github.com/eddiefleurent/zerodte_strangler/internal/retry"
	"github.com/eddiefleurent/zerodte_strangler/internal/storage"
	"github.com/eddiefleurent/zerodte_strangler/internal/strategy"
)

// orderTick is the credit/debit limit increment for SPY-class options.
const orderTick = 0.01

// Monitor owns the lifecycle state machine and the single live position.
// All fields are accessed from the Run goroutine only; collaborators observe
// the monitor through storage and the event bus.
type Monitor struct {
	cfg       *config.Config
	broker    broker.Broker
	store     storage.Interface
	evaluator *strategy.Evaluator
	closer    *retry.Client
	bus       *events.Bus
	logger    *log.Logger

	sm       *models.StateMachine
	position *models.OpenPosition
	nowFn    func() time.Time

	// warnedRecommended suppresses repeat soft-cutoff warnings for the same
	// position; reset when the position closes.
	warnedRecommended bool
}

// New creates a monitor, restoring any persisted state from storage.
func New(cfg *config.Config, b broker.Broker, store storage.Interface,
	evaluator *strategy.Evaluator, closer *retry.Client, bus *events.Bus,
	logger *log.Logger) (*Monitor, error) {
	if logger == nil {
		logger = log.New(os.Stdout, "[MONITOR] ", log.LstdFlags)
	}

	m := &Monitor{
		cfg:       cfg,
		broker:    b,
		store:     store,
		evaluator: evaluator,
		closer:    closer,
		bus:       bus,
		logger:    logger,
		nowFn:     time.Now,
	}

	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

// WithClock overrides the clock, for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.nowFn = now
	return m
}

// State returns the current lifecycle state.
func (m *Monitor) State() models.PositionState {
	return m.sm.Current()
}

// restore reconciles the persisted state with what the engine can actually
// resume. An interrupted entry cannot be resumed safely (the order outcome is
// unknown and nothing was retained), so it restarts idle; an interrupted exit
// restarts exiting so the close is re-driven.
func (m *Monitor) restore() error {
	st := m.store.GetState()
	pos := m.store.GetCurrentPosition()

	switch {
	case st == models.StateEntering:
		m.logger.Printf("Restart during entry; resuming idle")
		st = models.StateIdle
		if err := m.store.SetState(st); err != nil {
			return fmt.Errorf("normalizing persisted state: %w", err)
		}
	case pos != nil && st == models.StateIdle:
		// Position on disk but idle state: trust the position.
		st = models.StateOpen
		if err := m.store.SetState(st); err != nil {
			return fmt.Errorf("normalizing persisted state: %w", err)
		}
	case pos == nil && (st == models.StateOpen || st == models.StateExiting):
		m.logger.Printf("Persisted state %s without a position; resuming idle", st)
		st = models.StateIdle
		if err := m.store.SetState(st); err != nil {
			return fmt.Errorf("normalizing persisted state: %w", err)
		}
	}

	if pos != nil {
		if err := pos.Validate(); err != nil {
			return fmt.Errorf("persisted position invalid: %w", err)
		}
	}

	m.sm = models.NewStateMachineFromState(st)
	m.position = pos
	return nil
}

// Run drives the lifecycle until the context is canceled, then performs an
// orderly shutdown: a live position is closed before the loop returns.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Printf("Monitor starting in state %s: %s", m.sm.Current(), m.sm.Description())

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return m.shutdown()
		case <-timer.C:
		}

		m.cycle(ctx)
		timer.Reset(m.interval())
	}
}

// interval returns the polling cadence for the current phase. Anything with
// a live position polls fast.
func (m *Monitor) interval() time.Duration {
	switch m.sm.Current() {
	case models.StateOpen, models.StateExiting:
		return m.cfg.OpenInterval()
	default:
		return m.cfg.IdleInterval()
	}
}

func (m *Monitor) cycle(ctx context.Context) {
	metrics.RecordState(m.sm.Current())

	switch m.sm.Current() {
	case models.StateIdle:
		m.idleCycle(ctx)
	case models.StateOpen:
		m.openCycle(ctx)
	case models.StateExiting:
		// An exit left over from a previous run or a failed cycle; keep
		// driving the close until it resolves.
		m.resumeExit(ctx)
	case models.StateError:
		m.logger.Printf("Unmanaged position risk: manual intervention required before restart")
	}
}

// idleCycle evaluates the entry gate and, when it opens, places the order.
func (m *Monitor) idleCycle(ctx context.Context) {
	snap := m.snapshot(ctx)
	sig := m.evaluator.Evaluate(snap)

	metrics.EntryScore.Set(sig.Score)
	metrics.EntrySignals.WithLabelValues(fmt.Sprintf("%t", sig.MayEnter)).Inc()
	m.bus.Publish(events.Event{Type: events.TypeEntryEvaluation, Timestamp: snap.Time, Signal: sig})

	if !sig.MayEnter {
		return
	}
	if sig.CallLeg == nil || sig.PutLeg == nil {
		// A permissive score threshold can clear the gate on session and
		// account checks alone; without selected strikes there is nothing
		// to order.
		m.logger.Printf("Entry refused despite score %.0f: no strikes selected", sig.Score)
		return
	}

	spot := 0.0
	if snap.Quote != nil {
		spot = snap.Quote.Mid()
	}
	m.enter(ctx, sig, spot)
}

// snapshot gathers one cycle of market and account data. Any individual
// fetch failure degrades the snapshot instead of aborting the cycle.
func (m *Monitor) snapshot(ctx context.Context) strategy.Snapshot {
	now := m.nowFn()
	snap := strategy.Snapshot{Time: now, HasOpenPosition: m.position != nil}

	open, err := m.broker.IsMarketOpen(ctx)
	if err != nil {
		m.logger.Printf("Market clock unavailable: %v", err)
		metrics.DataUnavailable.Inc()
	} else {
		snap.MarketOpen = open
	}

	quote, err := m.broker.GetQuote(ctx, m.cfg.Strategy.Symbol)
	if err != nil {
		m.logger.Printf("Underlying quote unavailable: %v", err)
		metrics.DataUnavailable.Inc()
	} else {
		snap.Quote = quote
	}

	chain, err := m.broker.GetOptionChain(ctx, m.cfg.Strategy.Symbol, m.todayExpiration(now))
	if err != nil {
		m.logger.Printf("Option chain unavailable: %v", err)
		metrics.DataUnavailable.Inc()
	} else {
		snap.Chain = chain
	}

	bp, err := m.broker.GetOptionBuyingPower(ctx)
	if err != nil {
		m.logger.Printf("Buying power unavailable: %v", err)
		metrics.DataUnavailable.Inc()
	} else {
		snap.BuyingPower = bp
	}

	return snap
}

// enter submits the opening order and waits for it to resolve.
func (m *Monitor) enter(ctx context.Context, sig *models.EntrySignal, spot float64) {
	call, put := *sig.CallLeg, *sig.PutLeg
	limit := broker.RoundToTick(sig.ExpectedCredit, orderTick)

	if err := m.transition(models.StateEntering, models.ConditionSignalAccepted); err != nil {
		m.logger.Printf("Entry aborted: %v", err)
		return
	}

	m.logger.Printf("Entering strangle: call %s / put %s, credit limit $%.2f x%d",
		call.Symbol, put.Symbol, limit, m.cfg.Strategy.Quantity)

	res, err := m.broker.PlaceStrangleOrder(ctx, broker.StrangleOrderRequest{
		Symbol:     m.cfg.Strategy.Symbol,
		CallSymbol: call.Symbol,
		PutSymbol:  put.Symbol,
		Quantity:   m.cfg.Strategy.Quantity,
		Limit:      limit,
		Tag:        "open-" + uuid.NewString(),
	})
	if err != nil {
		m.logger.Printf("Opening order failed: %v", err)
		metrics.OrderFailures.WithLabelValues("error").Inc()
		m.mustTransition(models.StateIdle, models.ConditionOrderRejected)
		return
	}

	final, err := m.awaitOrderFill(ctx, res)
	if err != nil {
		m.logger.Printf("Opening order did not fill: %v", err)
		metrics.OrderFailures.WithLabelValues("timeout").Inc()
		m.mustTransition(models.StateIdle, models.ConditionOrderTimeout)
		return
	}
	if final.Status != broker.StatusFilled {
		m.logger.Printf("Opening order %s: %s %s", final.ID, final.Status, final.Reason)
		metrics.OrderFailures.WithLabelValues("rejected").Inc()
		m.mustTransition(models.StateIdle, models.ConditionOrderRejected)
		return
	}

	callFill, ok := final.FillFor(call.Symbol)
	putFill, putOK := final.FillFor(put.Symbol)
	if !ok || !putOK {
		// Per-leg fills unavailable; split the net credit evenly.
		callFill = final.AvgPrice / 2
		putFill = final.AvgPrice / 2
	}

	entryGreeks := models.GreeksSnapshot{
		NetDelta:  sig.NetDelta,
		Gamma:     call.Gamma + put.Gamma,
		Theta:     call.Theta + put.Theta,
		TotalVega: sig.TotalVega,
		Taken:     sig.Timestamp,
	}

	pos, err := models.NewOpenPosition(uuid.NewString(), m.cfg.Strategy.Symbol,
		call, put, callFill, putFill, m.cfg.Strategy.Quantity, spot, entryGreeks, m.nowFn().UTC())
	if err != nil {
		// Fill data too broken to manage; nothing was retained on our side
		// but the fill happened, so this is operator-attention territory.
		m.logger.Printf("ALERT: filled order produced invalid position: %v", err)
		m.bus.Publish(events.Event{Type: events.TypeAlert,
			Message: fmt.Sprintf("filled order %s produced invalid position: %v", final.ID, err)})
		m.mustTransition(models.StateIdle, models.ConditionOrderRejected)
		return
	}

	m.position = pos
	m.warnedRecommended = false
	if err := m.store.SetCurrentPosition(pos); err != nil {
		m.logger.Printf("Persisting position failed: %v", err)
	}
	m.mustTransition(models.StateOpen, models.ConditionOrderFilled)
	m.logger.Printf("Position %s open: credit $%.2f (call $%.2f / put $%.2f)",
		pos.ID, pos.Credit, callFill, putFill)
}

// awaitOrderFill polls the order until it reaches a terminal status or the
// configured fill timeout elapses.
func (m *Monitor) awaitOrderFill(ctx context.Context, res *broker.OrderResult) (*broker.OrderResult, error) {
	if res.Status.Terminal() {
		return res, nil
	}

	deadline := time.NewTimer(m.cfg.OrderFillTimeout())
	defer deadline.Stop()
	poll := time.NewTicker(2 * time.Second)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("order %s not terminal after %v", res.ID, m.cfg.OrderFillTimeout())
		case <-poll.C:
			cur, err := m.broker.GetOrderStatus(ctx, res.ID)
			if err != nil {
				m.logger.Printf("Order status poll failed: %v", err)
				continue
			}
			if cur.Status.Terminal() {
				return cur, nil
			}
		}
	}
}

// openCycle marks the position to market and evaluates the exit triggers.
func (m *Monitor) openCycle(ctx context.Context) {
	pos := m.position
	if pos == nil {
		// Should be unreachable; restore() normalizes this.
		m.logger.Printf("Open state without a position; resetting to idle")
		m.sm.Reset()
		_ = m.store.SetState(models.StateIdle)
		return
	}

	now := m.nowFn()
	mark, ok := m.markPosition(ctx, pos, now)
	if !ok {
		// Stale data: hold the position, try again next cycle.
		metrics.DataUnavailable.Inc()
		return
	}

	pos.MarkToMarket(mark.PnL())
	metrics.PositionPnL.Set(pos.CurrentPnL)
	metrics.PositionVega.Set(mark.TotalVega)
	if err := m.store.SetCurrentPosition(pos); err != nil {
		m.logger.Printf("Persisting mark failed: %v", err)
	}

	dec := strategy.EvaluateExit(pos, mark.Mark, m.cfg)
	if dec.Reason == models.ExitNone {
		return
	}

	if !dec.Reason.Forced() && !m.cfg.Schedule.ForceRecommendedExit {
		if m.warnedRecommended {
			return
		}
		m.warnedRecommended = true
		m.bus.Publish(events.Event{Type: events.TypeExitDecision, Timestamp: now, Decision: &dec})
		m.logger.Printf("WARNING: past recommended exit time with position open (P&L $%.2f)", dec.PnL)
		m.bus.Publish(events.Event{Type: events.TypeAlert,
			Message: "past recommended exit time with position open"})
		return
	}

	m.bus.Publish(events.Event{Type: events.TypeExitDecision, Timestamp: now, Decision: &dec})
	m.logger.Printf("Exit triggered: %s (P&L $%.2f, spot %.2f)", dec.Reason, dec.PnL, dec.Spot)
	if err := m.transition(models.StateExiting, models.ConditionExitTriggered); err != nil {
		m.logger.Printf("Exit transition failed: %v", err)
		return
	}
	m.executeClose(ctx, dec.Reason, mark)
}

// positionMark bundles the strategy mark with the fresh leg asks the close
// path needs for limits.
type positionMark struct {
	strategy.Mark
	CallAsk float64
	PutAsk  float64
	pos     *models.OpenPosition
}

// PnL returns the mark-to-market P&L for the bundled position.
func (pm positionMark) PnL() float64 {
	return pm.pos.PnLFromCost(pm.CostToClose)
}

// markPosition fetches fresh leg quotes and recomputes the position Greeks.
// ok is false when the data needed to mark the position is unavailable.
func (m *Monitor) markPosition(ctx context.Context, pos *models.OpenPosition, now time.Time) (positionMark, bool) {
	pm := positionMark{pos: pos}

	quote, err := m.broker.GetQuote(ctx, pos.Symbol)
	if err != nil {
		m.logger.Printf("Spot unavailable while open: %v", err)
		return pm, false
	}

	chain, err := m.broker.GetOptionChain(ctx, pos.Symbol, pos.Expiration)
	if err != nil {
		m.logger.Printf("Chain unavailable while open: %v", err)
		return pm, false
	}

	call, callOK := findLeg(chain, pos.CallLeg.Symbol)
	put, putOK := findLeg(chain, pos.PutLeg.Symbol)
	if !callOK || !putOK || call.Ask <= 0 || put.Ask <= 0 {
		m.logger.Printf("Leg quotes unavailable while open (call %v, put %v)", callOK, putOK)
		return pm, false
	}

	spot := quote.Mid()
	pm.Spot = spot
	pm.CallAsk = call.Ask
	pm.PutAsk = put.Ask
	pm.CostToClose = call.Ask + put.Ask
	pm.TotalVega = m.recomputeVega(spot, call, put, now)
	pm.Time = now
	return pm, true
}

// recomputeVega re-derives the position vega from current quotes rather than
// trusting possibly stale chain Greeks. A leg whose vol cannot be recovered
// falls back to the chain-provided vega.
func (m *Monitor) recomputeVega(spot float64, call, put models.OptionLeg, now time.Time) float64 {
	total := 0.0
	for _, leg := range []models.OptionLeg{call, put} {
		tYears := leg.Expiration.Sub(now).Hours() / 24 / 365
		if tYears < greeks.MinExpiryYears {
			tYears = greeks.MinExpiryYears
		}

		vol := leg.IV
		if vol <= 0 {
			iv, err := greeks.ImpliedVolatility(leg.Mid(), spot, leg.Strike, tYears,
				m.cfg.Strategy.RiskFreeRate, leg.Right)
			if err != nil {
				total += leg.Vega
				continue
			}
			vol = iv
		}

		q, err := greeks.PriceAndGreeks(spot, leg.Strike, tYears, m.cfg.Strategy.RiskFreeRate, vol, leg.Right)
		if err != nil {
			total += leg.Vega
			continue
		}
		total += q.Vega
	}
	return total
}

// executeClose drives the two-leg close, escalating to per-leg fallback and
// finally to the error state when nothing can be confirmed.
func (m *Monitor) executeClose(ctx context.Context, reason models.ExitReason, mark positionMark) {
	pos := m.position
	// Pay up to a few ticks through the current asks so the close is
	// marketable without being a pure market order.
	maxDebit := broker.RoundToTick(mark.CostToClose*1.02+orderTick, orderTick)

	res, err := m.closer.CloseStrangleWithRetry(ctx, pos, maxDebit)
	if err == nil {
		final, waitErr := m.awaitOrderFill(ctx, res)
		if waitErr == nil && final.Status == broker.StatusFilled {
			m.confirmClose(final.AvgPrice, reason)
			return
		}
		if waitErr != nil {
			m.logger.Printf("Close order unresolved: %v", waitErr)
		} else {
			m.logger.Printf("Close order %s: %s %s", final.ID, final.Status, final.Reason)
		}
	} else {
		m.logger.Printf("Two-leg close failed: %v", err)
	}

	// Fallback: buy each leg back on its own, slightly through its ask.
	callLimit := broker.RoundToTick(mark.CallAsk*1.05+orderTick, orderTick)
	putLimit := broker.RoundToTick(mark.PutAsk*1.05+orderTick, orderTick)
	m.logger.Printf("Escalating to per-leg close (call $%.2f, put $%.2f)", callLimit, putLimit)

	if err := m.closer.CloseLegsIndividually(ctx, pos, callLimit, putLimit); err != nil {
		m.logger.Printf("ALERT: per-leg fallback failed, position unmanaged: %v", err)
		metrics.OrderFailures.WithLabelValues("error").Inc()
		m.mustTransition(models.StateError, models.ConditionFallbackFailed)
		m.bus.Publish(events.Event{Type: events.TypeAlert,
			Message: fmt.Sprintf("UNMANAGED POSITION RISK: close and fallback failed for %s: %v", pos.ID, err)})
		return
	}

	m.confirmClose(callLimit+putLimit, reason)
}

// confirmClose books the realized P&L, archives the position, and returns
// the machine to idle.
func (m *Monitor) confirmClose(costPaid float64, reason models.ExitReason) {
	pos := m.position
	realized := pos.PnLFromCost(costPaid)

	if err := m.store.ClosePosition(realized, reason); err != nil {
		m.logger.Printf("Archiving closed position failed: %v", err)
	}

	metrics.Exits.WithLabelValues(string(reason)).Inc()
	metrics.PositionPnL.Set(0)
	metrics.PositionVega.Set(0)

	m.logger.Printf("Position %s closed: %s, realized $%.2f per spread ($%.2f total)",
		pos.ID, reason, realized, pos.DollarPnL(realized))
	m.bus.Publish(events.Event{
		Type: events.TypeExitDecision,
		Decision: &models.ExitDecision{
			Reason: reason,
			PnL:    realized,
			Time:   m.nowFn().UTC(),
		},
		RealizedPnL: realized,
	})

	m.position = nil
	m.warnedRecommended = false
	m.mustTransition(models.StateIdle, models.ConditionCloseFilled)
}

// resumeExit re-drives a close that was interrupted mid-flight.
func (m *Monitor) resumeExit(ctx context.Context) {
	pos := m.position
	now := m.nowFn()

	mark, ok := m.markPosition(ctx, pos, now)
	if !ok {
		// No fresh asks to build limits from; cap the debit at the stop-loss
		// budget so a resumed close can still go out.
		budget := pos.Credit * (1 + m.cfg.Strategy.Exit.StopLossMultiple)
		mark = positionMark{
			Mark: strategy.Mark{
				Spot:        pos.EntrySpot,
				CostToClose: budget,
				Time:        now,
			},
			CallAsk: budget / 2,
			PutAsk:  budget / 2,
			pos:     pos,
		}
	}

	m.executeClose(ctx, models.ExitTimeFinal, mark)
}

// shutdown closes a live position before the process exits. The run context
// is already canceled, so the close runs on its own bounded context.
func (m *Monitor) shutdown() error {
	if m.sm.Current() != models.StateOpen || m.position == nil {
		m.logger.Printf("Monitor stopping in state %s", m.sm.Current())
		return nil
	}

	m.logger.Printf("Shutdown with live position %s; closing before exit", m.position.ID)
	if err := m.transition(models.StateExiting, models.ConditionShutdownClose); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	mark, ok := m.markPosition(ctx, m.position, m.nowFn())
	if !ok {
		budget := m.position.Credit * (1 + m.cfg.Strategy.Exit.StopLossMultiple)
		mark = positionMark{
			Mark:    strategy.Mark{CostToClose: budget, Time: m.nowFn()},
			CallAsk: budget / 2,
			PutAsk:  budget / 2,
			pos:     m.position,
		}
	}

	m.executeClose(ctx, models.ExitTimeFinal, mark)
	if m.sm.Current() == models.StateError {
		return fmt.Errorf("shutdown close failed; position unmanaged")
	}
	return nil
}

// transition takes a state-machine edge, persists it, and publishes it.
func (m *Monitor) transition(to models.PositionState, condition string) error {
	from := m.sm.Current()
	if err := m.sm.Transition(to, condition); err != nil {
		return err
	}
	if err := m.store.SetState(to); err != nil {
		m.logger.Printf("Persisting state %s failed: %v", to, err)
	}
	m.bus.Publish(events.Event{
		Type:      events.TypeStateTransition,
		FromState: from,
		ToState:   to,
		Condition: condition,
	})
	m.logger.Printf("State %s -> %s (%s)", from, to, condition)
	return nil
}

// mustTransition is for edges that are statically valid given the calling
// code path; a failure here is a programming error worth surfacing loudly.
func (m *Monitor) mustTransition(to models.PositionState, condition string) {
	if err := m.transition(to, condition); err != nil {
		m.logger.Printf("BUG: %v", err)
	}
}

// todayExpiration returns today's 16:00 expiry in the trading timezone.
func (m *Monitor) todayExpiration(now time.Time) time.Time {
	loc := m.cfg.Location()
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 16, 0, 0, 0, loc)
}

func findLeg(chain []models.OptionLeg, symbol string) (models.OptionLeg, bool) {
	for _, leg := range chain {
		if leg.Symbol == symbol {
			return leg, true
		}
	}
	return models.OptionLeg{}, false
}
