package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/wtfpos/posd/internal/bus"
)

// State represents a terminal runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Loading      State = "LOADING"
	Online       State = "ONLINE"
	Offline      State = "OFFLINE"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Loading, Error},
	AuthRequired: {Loading, Error},
	Loading:      {Online, Offline, AuthRequired, Error},
	Online:       {Offline, AuthRequired, Error},
	Offline:      {Online, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks and enforces terminal runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.TerminalStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// Settle moves the machine to Online or Offline from Loading, Online or
// Offline, and reports whether it changed state. It is a no-op when the
// machine is already there or in a state connectivity does not drive
// (booting, auth required, error). The check and the move happen under one
// lock, so a concurrent Transition cannot make the move invalid.
func (m *Machine) Settle(online bool) bool {
	to := Offline
	if online {
		to = Online
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.current {
	case Loading, Online, Offline:
		// Every pair among these three is a valid transition.
		return m.current != to && m.transitionLocked(to) == nil
	}
	return false
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
