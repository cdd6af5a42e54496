package protocol

import (
	"fmt"
	"sync"
)

// SessionState is one phase of the connection lifecycle.
type SessionState int

const (
	// StateUninitialized is the state before any handshake traffic.
	StateUninitialized SessionState = iota
	// StateInitializing covers the window between the initialize
	// request and the initialized notification.
	StateInitializing
	// StateReady permits the full method surface.
	StateReady
	// StateShuttingDown rejects new work while the transport drains.
	StateShuttingDown
	// StateClosed is terminal; nothing may be sent or received.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateShuttingDown:
		return "shutting-down"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// legalTransitions is the full transition relation of the lifecycle
// state machine. Closing is legal from every non-terminal state because
// the transport can drop at any time.
var legalTransitions = map[SessionState][]SessionState{
	StateUninitialized: {StateInitializing, StateShuttingDown, StateClosed},
	StateInitializing:  {StateReady, StateShuttingDown, StateClosed},
	StateReady:         {StateShuttingDown, StateClosed},
	StateShuttingDown:  {StateClosed},
	StateClosed:        {},
}

// Session tracks the lifecycle state and the negotiated protocol
// parameters of one connection. It is safe for concurrent use.
type Session struct {
	mu              sync.RWMutex
	state           SessionState
	protocolVersion string
	capabilities    map[string]any
}

// NewSession returns a session in StateUninitialized.
func NewSession() *Session {
	return &Session{state: StateUninitialized}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Transition moves the session to the given state, rejecting moves the
// lifecycle does not permit. Transitioning into the current state is a
// no-op so repeated close paths stay idempotent.
func (s *Session) Transition(to SessionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == to {
		return nil
	}
	for _, legal := range legalTransitions[s.state] {
		if legal == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal session transition %s -> %s", s.state, to)
}

// Negotiate records the protocol version and capability set agreed
// during the handshake.
func (s *Session) Negotiate(version string, capabilities map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.protocolVersion = version
	s.capabilities = capabilities
}

// ProtocolVersion returns the negotiated protocol version, empty before
// the handshake completes.
func (s *Session) ProtocolVersion() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.protocolVersion
}

// Capabilities returns the negotiated capability set.
func (s *Session) Capabilities() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capabilities
}
