package scenario

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jeongkyun-oh/arbitrum-load-test/pkg/types"
)

// ErrInvalidTransition is returned when a state change is not allowed from
// the current state.
var ErrInvalidTransition = errors.New("invalid scenario state transition")

// Listener observes state changes.
type Listener func(scenario types.ScenarioName, from, to types.ScenarioState)

var transitions = map[types.ScenarioState][]types.ScenarioState{
	types.StateInitializing: {
		types.StateFundingWallets,
		types.StateDeployingFixture,
		types.StateSubmitting,
	},
	types.StateFundingWallets: {
		types.StateDeployingFixture,
		types.StateSubmitting,
	},
	types.StateDeployingFixture: {types.StateSubmitting},
	types.StateSubmitting:       {types.StateDraining},
	types.StateDraining:         {types.StateSummarizing},
	types.StateSummarizing:      {types.StateDone},
}

// Machine tracks one scenario's progress through its states. Any
// non-terminal state may move to failed.
type Machine struct {
	mu       sync.Mutex
	scenario types.ScenarioName
	state    types.ScenarioState
	listener Listener
}

// NewMachine starts a machine in the initializing state. The listener is
// notified of the initial state with an empty from state.
func NewMachine(scenario types.ScenarioName, listener Listener) *Machine {
	m := &Machine{
		scenario: scenario,
		state:    types.StateInitializing,
		listener: listener,
	}
	m.notify("", types.StateInitializing)
	return m
}

// State returns the current state.
func (m *Machine) State() types.ScenarioState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the next state.
func (m *Machine) Transition(to types.ScenarioState) error {
	m.mu.Lock()
	from := m.state
	if !allowed(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	m.state = to
	m.mu.Unlock()

	m.notify(from, to)
	return nil
}

// Fail moves to the failed state. It is a no-op once terminal.
func (m *Machine) Fail() {
	m.mu.Lock()
	from := m.state
	if from.Terminal() {
		m.mu.Unlock()
		return
	}
	m.state = types.StateFailed
	m.mu.Unlock()

	m.notify(from, types.StateFailed)
}

func (m *Machine) notify(from, to types.ScenarioState) {
	if m.listener != nil {
		m.listener(m.scenario, from, to)
	}
}

func allowed(from, to types.ScenarioState) bool {
	if to == types.StateFailed {
		return !from.Terminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
