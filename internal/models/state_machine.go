package models

import (
	"fmt"
	"time"
)

// PositionState represents the lifecycle phase of the monitored position.
type PositionState string

const (
	// StateIdle means no position exists and entries may be evaluated.
	StateIdle PositionState = "idle"
	// StateEntering means an opening order is submitted and awaiting fill.
	// The monitor must not proceed to open until the fill is confirmed.
	StateEntering PositionState = "entering"
	// StateOpen means an OpenPosition exists and exit triggers are polled.
	StateOpen PositionState = "open"
	// StateExiting means a closing order is submitted and awaiting fill.
	StateExiting PositionState = "exiting"
	// StateError means both the close and the per-leg fallback failed;
	// manual intervention is required before the machine can be reset.
	StateError PositionState = "error"
)

// Transition conditions.
const (
	ConditionSignalAccepted = "signal_accepted"
	ConditionOrderFilled    = "order_filled"
	ConditionOrderRejected  = "order_rejected"
	ConditionOrderTimeout   = "order_timeout"
	ConditionExitTriggered  = "exit_triggered"
	ConditionShutdownClose  = "shutdown_close"
	ConditionCloseFilled    = "close_filled"
	ConditionFallbackFailed = "fallback_failed"
	ConditionManualReset    = "manual_reset"
)

// StateTransition defines one valid edge of the lifecycle machine.
type StateTransition struct {
	From        PositionState
	To          PositionState
	Condition   string
	Description string
}

// ValidTransitions enumerates every legal state change.
var ValidTransitions = []StateTransition{
	{StateIdle, StateEntering, ConditionSignalAccepted, "Entry signal accepted, opening order submitted"},
	{StateEntering, StateOpen, ConditionOrderFilled, "Opening order filled, position live"},
	{StateEntering, StateIdle, ConditionOrderRejected, "Opening order rejected, nothing retained"},
	{StateEntering, StateIdle, ConditionOrderTimeout, "Opening order timed out without fill"},
	{StateOpen, StateExiting, ConditionExitTriggered, "Exit trigger fired, closing order submitted"},
	{StateOpen, StateExiting, ConditionShutdownClose, "Shutdown requested, orderly close submitted"},
	{StateExiting, StateIdle, ConditionCloseFilled, "Close confirmed, position discarded"},
	{StateExiting, StateError, ConditionFallbackFailed, "Close and per-leg fallback both failed"},
	{StateError, StateIdle, ConditionManualReset, "Manual intervention completed"},
}

// StateMachine tracks the position lifecycle and enforces ValidTransitions.
// It is owned by a single monitor goroutine and needs no locking.
type StateMachine struct {
	currentState   PositionState
	previousState  PositionState
	transitionTime time.Time
	history        []StateTransition
}

// NewStateMachine creates a machine in the idle state.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:   StateIdle,
		previousState:  StateIdle,
		transitionTime: time.Now().UTC(),
	}
}

// NewStateMachineFromState restores a machine to a persisted state.
func NewStateMachineFromState(state PositionState) *StateMachine {
	sm := NewStateMachine()
	if state != "" {
		sm.currentState = state
		sm.previousState = state
	}
	return sm
}

// Current returns the current state.
func (sm *StateMachine) Current() PositionState {
	return sm.currentState
}

// Previous returns the state before the last transition.
func (sm *StateMachine) Previous() PositionState {
	return sm.previousState
}

// CanTransition checks whether the edge is defined without taking it.
func (sm *StateMachine) CanTransition(to PositionState, condition string) bool {
	for _, t := range ValidTransitions {
		if t.From == sm.currentState && t.To == to && t.Condition == condition {
			return true
		}
	}
	return false
}

// Transition moves to a new state or returns an error for an undefined edge.
func (sm *StateMachine) Transition(to PositionState, condition string) error {
	if !sm.CanTransition(to, condition) {
		return fmt.Errorf("invalid transition from %s to %s with condition %q",
			sm.currentState, to, condition)
	}
	sm.history = append(sm.history, StateTransition{
		From:      sm.currentState,
		To:        to,
		Condition: condition,
	})
	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	return nil
}

// TransitionTime returns when the last transition happened.
func (sm *StateMachine) TransitionTime() time.Time {
	return sm.transitionTime
}

// History returns the edges taken so far, oldest first.
func (sm *StateMachine) History() []StateTransition {
	out := make([]StateTransition, len(sm.history))
	copy(out, sm.history)
	return out
}

// Reset returns the machine to idle unconditionally. Used after a confirmed
// close has already been validated through Transition, and in tests.
func (sm *StateMachine) Reset() {
	sm.currentState = StateIdle
	sm.previousState = StateIdle
	sm.transitionTime = time.Now().UTC()
	sm.history = nil
}

// Description returns a human-readable description of the current state.
func (sm *StateMachine) Description() string {
	switch sm.currentState {
	case StateIdle:
		return "No position, scanning for entries"
	case StateEntering:
		return "Opening order submitted, awaiting fill confirmation"
	case StateOpen:
		return "Position live, polling exit triggers"
	case StateExiting:
		return "Closing order submitted, awaiting fill confirmation"
	case StateError:
		return "Unmanaged position risk - manual intervention required"
	default:
		return "Unknown state"
	}
}
