package models

import "testing"

func TestStateMachine_InitialState(t *testing.T) {
	sm := NewStateMachine()
	if sm.Current() != StateIdle {
		t.Errorf("initial state should be idle, got %s", sm.Current())
	}
}

func TestStateMachine_FullLifecycle(t *testing.T) {
	sm := NewStateMachine()

	steps := []struct {
		to        PositionState
		condition string
	}{
		{StateEntering, ConditionSignalAccepted},
		{StateOpen, ConditionOrderFilled},
		{StateExiting, ConditionExitTriggered},
		{StateIdle, ConditionCloseFilled},
	}
	for _, s := range steps {
		if err := sm.Transition(s.to, s.condition); err != nil {
			t.Fatalf("transition to %s failed: %v", s.to, err)
		}
		if sm.Current() != s.to {
			t.Fatalf("state should be %s, got %s", s.to, sm.Current())
		}
	}

	if len(sm.History()) != len(steps) {
		t.Errorf("history should record %d edges, got %d", len(steps), len(sm.History()))
	}
}

func TestStateMachine_RejectedAndTimedOutEntries(t *testing.T) {
	for _, condition := range []string{ConditionOrderRejected, ConditionOrderTimeout} {
		sm := NewStateMachine()
		if err := sm.Transition(StateEntering, ConditionSignalAccepted); err != nil {
			t.Fatalf("entering failed: %v", err)
		}
		if err := sm.Transition(StateIdle, condition); err != nil {
			t.Errorf("%s should return to idle: %v", condition, err)
		}
	}
}

func TestStateMachine_ErrorPath(t *testing.T) {
	sm := NewStateMachine()
	mustStep(t, sm, StateEntering, ConditionSignalAccepted)
	mustStep(t, sm, StateOpen, ConditionOrderFilled)
	mustStep(t, sm, StateExiting, ConditionExitTriggered)
	mustStep(t, sm, StateError, ConditionFallbackFailed)

	// Only a manual reset leaves the error state.
	if err := sm.Transition(StateExiting, ConditionExitTriggered); err == nil {
		t.Error("error state should reject normal transitions")
	}
	if err := sm.Transition(StateIdle, ConditionManualReset); err != nil {
		t.Errorf("manual reset should leave error state: %v", err)
	}
}

func TestStateMachine_InvalidEdges(t *testing.T) {
	sm := NewStateMachine()

	if err := sm.Transition(StateOpen, ConditionOrderFilled); err == nil {
		t.Error("idle cannot jump straight to open")
	}
	if err := sm.Transition(StateEntering, "made_up_condition"); err == nil {
		t.Error("undefined condition should be rejected")
	}
	if sm.Current() != StateIdle {
		t.Errorf("failed transitions must not change state, got %s", sm.Current())
	}
}

func TestStateMachine_ShutdownClose(t *testing.T) {
	sm := NewStateMachine()
	mustStep(t, sm, StateEntering, ConditionSignalAccepted)
	mustStep(t, sm, StateOpen, ConditionOrderFilled)

	if !sm.CanTransition(StateExiting, ConditionShutdownClose) {
		t.Error("open position should allow shutdown close")
	}
}

func TestStateMachine_RestoreFromPersistedState(t *testing.T) {
	sm := NewStateMachineFromState(StateOpen)
	if sm.Current() != StateOpen {
		t.Errorf("restored state should be open, got %s", sm.Current())
	}
	if err := sm.Transition(StateExiting, ConditionExitTriggered); err != nil {
		t.Errorf("restored machine should accept valid edges: %v", err)
	}
}

func mustStep(t *testing.T, sm *StateMachine, to PositionState, condition string) {
	t.Helper()
	if err := sm.Transition(to, condition); err != nil {
		t.Fatalf("transition to %s (%s) failed: %v", to, condition, err)
	}
}
