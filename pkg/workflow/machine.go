package workflow

import (
	"errors"
	"fmt"
	"sync"
)

// State represents the progress of one workflow run.
type State uint8

const (
	// StateIdle indicates nothing has happened yet.
	StateIdle State = iota

	// StateSecretResolved indicates the secret for the next channel is known.
	StateSecretResolved

	// StateChannelEstablished indicates a PACE channel is up.
	StateChannelEstablished

	// StateAdminOpComplete indicates the PIN management command succeeded.
	StateAdminOpComplete

	// StateDone indicates the workflow completed.
	StateDone

	// StateFailed indicates the workflow aborted.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSecretResolved:
		return "SECRET_RESOLVED"
	case StateChannelEstablished:
		return "CHANNEL_ESTABLISHED"
	case StateAdminOpComplete:
		return "ADMIN_OP_COMPLETE"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// Mode selects the workflow.
type Mode uint8

const (
	// ModeDirect establishes one channel with the selected secret.
	ModeDirect Mode = iota

	// ModeResume establishes a CAN channel, then a PIN channel inside it.
	ModeResume

	// ModeUnblock establishes a PUK channel and resets the PIN retry counter.
	ModeUnblock

	// ModeChange establishes a PIN channel and sets a new PIN.
	ModeChange

	// ModeBreak tries every candidate of a numeric secret.
	ModeBreak
)

// String returns a human-readable mode name.
func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "DIRECT"
	case ModeResume:
		return "RESUME"
	case ModeUnblock:
		return "UNBLOCK"
	case ModeChange:
		return "CHANGE"
	case ModeBreak:
		return "BREAK"
	default:
		return "UNKNOWN"
	}
}

// Machine errors.
var (
	ErrInvalidTransition = errors.New("invalid workflow transition")
	ErrTerminal          = errors.New("workflow already finished")
)

// allowed lists the legal successors of each non-terminal state. Failed is
// reachable from all of them.
var allowed = map[State][]State{
	StateIdle:               {StateSecretResolved},
	StateSecretResolved:     {StateChannelEstablished},
	StateChannelEstablished: {StateSecretResolved, StateAdminOpComplete, StateDone},
	StateAdminOpComplete:    {StateDone},
}

// Machine is the state machine of one workflow run.
type Machine struct {
	mu sync.RWMutex

	mode  Mode
	state State

	onStateChange func(oldState, newState State, reason string)
}

// NewMachine creates a machine in StateIdle.
func NewMachine(mode Mode) *Machine {
	return &Machine{mode: mode, state: StateIdle}
}

// Mode returns the workflow mode.
func (m *Machine) Mode() Mode {
	return m.mode
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// OnStateChange sets a callback for state changes.
func (m *Machine) OnStateChange(fn func(oldState, newState State, reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// Transition moves the machine to next.
func (m *Machine) Transition(next State, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrTerminal, m.state)
	}
	if next != StateFailed && !isAllowed(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}

	oldState := m.state
	m.state = next

	if m.onStateChange != nil {
		m.onStateChange(oldState, next, reason)
	}
	return nil
}

// Fail moves the machine to StateFailed. It is a no-op once terminal.
func (m *Machine) Fail(reason string) {
	if m.State().IsTerminal() {
		return
	}
	_ = m.Transition(StateFailed, reason)
}

func isAllowed(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
