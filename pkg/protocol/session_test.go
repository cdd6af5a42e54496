package protocol

import "testing"

func TestSessionHappyPath(t *testing.T) {
	s := NewSession()
	if s.State() != StateUninitialized {
		t.Fatalf("new session state = %v, want uninitialized", s.State())
	}

	steps := []SessionState{StateInitializing, StateReady, StateShuttingDown, StateClosed}
	for _, next := range steps {
		if err := s.Transition(next); err != nil {
			t.Fatalf("transition to %v: %v", next, err)
		}
		if s.State() != next {
			t.Fatalf("state = %v, want %v", s.State(), next)
		}
	}
}

func TestSessionIllegalTransitions(t *testing.T) {
	tests := []struct {
		from SessionState
		to   SessionState
	}{
		{StateUninitialized, StateReady},
		{StateInitializing, StateUninitialized},
		{StateReady, StateInitializing},
		{StateShuttingDown, StateReady},
		{StateClosed, StateReady},
		{StateClosed, StateShuttingDown},
	}
	for _, tc := range tests {
		s := &Session{state: tc.from}
		if err := s.Transition(tc.to); err == nil {
			t.Errorf("transition %v -> %v succeeded, want error", tc.from, tc.to)
		}
	}
}

func TestSessionCloseFromAnywhere(t *testing.T) {
	for _, from := range []SessionState{StateUninitialized, StateInitializing, StateReady, StateShuttingDown} {
		s := &Session{state: from}
		if err := s.Transition(StateClosed); err != nil {
			t.Errorf("close from %v: %v", from, err)
		}
	}
}

func TestSessionTransitionIdempotent(t *testing.T) {
	s := &Session{state: StateClosed}
	if err := s.Transition(StateClosed); err != nil {
		t.Fatalf("closing a closed session: %v", err)
	}
}

func TestSessionNegotiate(t *testing.T) {
	s := NewSession()
	s.Negotiate(ProtocolRevision, map[string]any{"tools": map[string]any{}})
	if s.ProtocolVersion() != ProtocolRevision {
		t.Fatalf("protocol version = %q", s.ProtocolVersion())
	}
	if _, ok := s.Capabilities()["tools"]; !ok {
		t.Fatal("capabilities lost the tools entry")
	}
}
