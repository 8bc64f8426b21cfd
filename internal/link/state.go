// Package link tracks the mesh transport's connectivity as an explicit state
// machine. The delivery engine keys its reconnect drain off the published
// transitions.
package link

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/meshtalk/meshtalk/internal/bus"
)

// State represents a transport link state.
type State string

const (
	Offline      State = "OFFLINE"
	Connecting   State = "CONNECTING"
	Online       State = "ONLINE"
	Reconnecting State = "RECONNECTING"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Offline:      {Connecting},
	Connecting:   {Online, Offline, Reconnecting},
	Online:       {Reconnecting, Offline},
	Reconnecting: {Online, Connecting, Offline},
}

// Machine tracks and enforces link state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a state machine starting Offline.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Offline,
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
// transition is invalid; a transition to the current state is a no-op.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      bus.KindLinkStatusChanged,
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for link status change events.
type StatusChange struct {
	From State
	To   State
}
