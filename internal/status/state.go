// Package status tracks the engine's runtime state and enforces which
// transitions are legal. The machine exists so the control API can answer
// "what is the engine doing" without poking the scanner and listener, and
// so illegal sequences (e.g. a catch-up scan without an active listener)
// fail loudly in tests.
package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/finly/smsync/internal/bus"
)

// State is an engine runtime state.
type State string

const (
	Booting            State = "BOOTING"
	PermissionRequired State = "PERMISSION_REQUIRED"
	Idle               State = "IDLE"
	Scanning           State = "SCANNING"
	Listening          State = "LISTENING"
	CatchUp            State = "CATCH_UP"
	Error              State = "ERROR"
)

// validTransitions defines allowed state transitions. CatchUp is a
// historical scan running while the realtime listener stays attached.
var validTransitions = map[State][]State{
	Booting:            {PermissionRequired, Idle, Error},
	PermissionRequired: {Idle, Error},
	Idle:               {Scanning, Listening, PermissionRequired, Error},
	Scanning:           {Idle, Error},
	Listening:          {CatchUp, Idle, Error},
	CatchUp:            {Listening, Error},
	Error:              {Booting},
}

// Machine tracks and enforces engine state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting in Booting.
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

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed; the state is unchanged in that case.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit("engine.status_changed", StatusChange{From: from, To: to})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
