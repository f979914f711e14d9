// Package metrics exposes the engine's Prometheus collectors. They are
// registered once at import time and served by the dashboard at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

var (
	// Cycles counts monitor polling cycles by lifecycle phase.
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strangler_cycles_total",
			Help: "Monitor polling cycles by lifecycle state",
		},
		[]string{"state"},
	)

	// EntrySignals counts entry evaluations split by whether the gate opened.
	EntrySignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strangler_entry_signals_total",
			Help: "Entry evaluations by outcome (may_enter: true|false)",
		},
		[]string{"may_enter"},
	)

	// EntryScore is the score of the most recent entry evaluation, 0-100.
	EntryScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strangler_entry_score",
			Help: "Most recent entry criteria score (0-100)",
		},
	)

	// Exits counts confirmed closes by trigger reason.
	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strangler_exits_total",
			Help: "Confirmed position closes by exit reason",
		},
		[]string{"reason"},
	)

	// PositionPnL is the live position's mark-to-market P&L per spread.
	PositionPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strangler_position_pnl",
			Help: "Mark-to-market P&L of the live position, per spread",
		},
	)

	// PositionVega is the live position's recomputed total vega.
	PositionVega = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strangler_position_vega",
			Help: "Total vega of the live position",
		},
	)

	// OrderFailures counts order submissions that were rejected or timed out.
	OrderFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "strangler_order_failures_total",
			Help: "Order failures by kind (rejected|timeout|error)",
		},
		[]string{"kind"},
	)

	// DataUnavailable counts cycles skipped because market data was missing.
	DataUnavailable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "strangler_data_unavailable_total",
			Help: "Cycles degraded by missing quotes or chains",
		},
	)

	// UnmanagedRisk flips to 1 while the machine sits in the error state.
	UnmanagedRisk = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "strangler_unmanaged_risk",
			Help: "1 while a position is unmanaged and needs manual intervention",
		},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles,
		EntrySignals,
		EntryScore,
		Exits,
		PositionPnL,
		PositionVega,
		OrderFailures,
		DataUnavailable,
		UnmanagedRisk,
	)
}

// RecordState updates the per-state cycle counter and the unmanaged-risk flag.
func RecordState(state models.PositionState) {
	Cycles.WithLabelValues(string(state)).Inc()
	if state == models.StateError {
		UnmanagedRisk.Set(1)
	} else {
		UnmanagedRisk.Set(0)
	}
}
