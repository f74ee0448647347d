package frame

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidTransition is returned when a state change skips or reverses
	// a stage of the frame cycle.
	ErrInvalidTransition = errors.New("frame: invalid state transition")

	// ErrClosed is returned by operations on a closed orchestrator.
	ErrClosed = errors.New("frame: orchestrator closed")
)

// State is a stage of the frame cycle.
type State uint8

const (
	StateIdle State = iota
	StateEditing
	StateSyncing
	StateDispatching
	StatePresenting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateEditing:
		return "Editing"
	case StateSyncing:
		return "Syncing"
	case StateDispatching:
		return "Dispatching"
	case StatePresenting:
		return "Presenting"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Next returns the only state s may move to.
func (s State) Next() State {
	switch s {
	case StateIdle:
		return StateEditing
	case StateEditing:
		return StateSyncing
	case StateSyncing:
		return StateDispatching
	case StateDispatching:
		return StatePresenting
	default:
		return StateIdle
	}
}

// Machine tracks the frame cycle Idle → Editing → Syncing → Dispatching →
// Presenting → Idle. It is safe for concurrent use; State may be read while
// a frame is in progress.
type Machine struct {
	mu    sync.Mutex
	state State
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state if it directly follows the current
// one.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.Next() != to {
		return fmt.Errorf("%w: %s → %s", ErrInvalidTransition, m.state, to)
	}
	m.state = to
	return nil
}

// Abort ends the current frame early and returns to Idle. It returns the
// state the frame was abandoned in.
func (m *Machine) Abort() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.state
	m.state = StateIdle
	return prev
}
