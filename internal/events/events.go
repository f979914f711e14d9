// Package events is the structured event feed the engine produces for
// logging, persistence and dashboard collaborators. The engine is the
// producer side only; it owns no file formats or wire protocols.
package events

import (
	"sync"
	"time"

	"github.com/eddiefleurent/zerodte_strangler/internal/models"
)

// Type discriminates the event payloads.
type Type string

const (
	// TypeEntryEvaluation carries an EntrySignal from one idle cycle.
	TypeEntryEvaluation Type = "entry_evaluation"
	// TypeStateTransition carries a lifecycle state change.
	TypeStateTransition Type = "state_transition"
	// TypeExitDecision carries the decision that closed (or warned about)
	// a position, plus the realized P&L when the close confirmed.
	TypeExitDecision Type = "exit_decision"
	// TypeAlert carries operator-attention conditions, most importantly
	// unmanaged position risk.
	TypeAlert Type = "alert"
)

// Event is one entry in the feed.
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	Signal *models.EntrySignal `json:"signal,omitempty"`

	FromState models.PositionState `json:"from_state,omitempty"`
	ToState   models.PositionState `json:"to_state,omitempty"`
	Condition string               `json:"condition,omitempty"`

	Decision    *models.ExitDecision `json:"decision,omitempty"`
	RealizedPnL float64              `json:"realized_pnl,omitempty"`

	Message string `json:"message,omitempty"`
}

// Subscriber receives events. Handlers must not block: the publisher runs on
// the monitor's polling goroutine.
type Subscriber func(Event)

// Bus fans events out to subscribers. Subscription normally happens during
// wiring, before the monitor starts, but the bus is safe for concurrent use.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber for all subsequent events.
func (b *Bus) Subscribe(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, s)
}

// Publish delivers the event to every subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()
	for _, s := range subs {
		s(e)
	}
}
