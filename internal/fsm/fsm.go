// Package fsm provides a table-driven finite state machine used to
// gate component and order lifecycles. It is a pure lookup-table
// interpreter: the only state it holds is the current state.
package fsm

import (
	"fmt"
)

// Transition keys the state table by (state, trigger).
type Transition struct {
	State   string
	Trigger string
}

// InvalidTransitionError identifies the offending (state, trigger)
// pair of a rejected trigger.
type InvalidTransitionError struct {
	State   string
	Trigger string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition: trigger %q not allowed in state %q", e.Trigger, e.State)
}

// Machine interprets a transition table over a current state.
// Not safe for concurrent use; callers serialize access the same way
// they serialize the component the machine guards.
type Machine struct {
	table   map[Transition]string
	current string
}

// New creates a machine with the given table and initial state.
func New(table map[Transition]string, initial string) *Machine {
	cloned := make(map[Transition]string, len(table))
	for k, v := range table {
		cloned[k] = v
	}
	return &Machine{table: cloned, current: initial}
}

// State returns the current state.
func (m *Machine) State() string {
	return m.current
}

// Trigger looks up (current state, trigger); if present it transitions
// and returns the new state, otherwise it returns an
// InvalidTransitionError and leaves the state unchanged.
func (m *Machine) Trigger(trigger string) (string, error) {
	next, ok := m.table[Transition{State: m.current, Trigger: trigger}]
	if !ok {
		return m.current, &InvalidTransitionError{State: m.current, Trigger: trigger}
	}
	m.current = next
	return next, nil
}
