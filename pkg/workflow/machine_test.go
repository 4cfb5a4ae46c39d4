package workflow

import (
	"errors"
	"sync"
	"testing"
)

func TestMachineInitialState(t *testing.T) {
	m := NewMachine(ModeResume)

	if m.State() != StateIdle {
		t.Errorf("State() = %v, want StateIdle", m.State())
	}
	if m.Mode() != ModeResume {
		t.Errorf("Mode() = %v, want ModeResume", m.Mode())
	}
}

type transition struct {
	From   State
	To     State
	Reason string
}

func recordTransitions(m *Machine) *[]transition {
	var got []transition
	m.OnStateChange(func(old, new State, reason string) {
		got = append(got, transition{From: old, To: new, Reason: reason})
	})
	return &got
}

func TestMachineChainedPath(t *testing.T) {
	m := NewMachine(ModeResume)
	got := recordTransitions(m)

	steps := []State{
		StateSecretResolved,
		StateChannelEstablished,
		StateSecretResolved,
		StateChannelEstablished,
		StateDone,
	}
	for _, s := range steps {
		if err := m.Transition(s, "test"); err != nil {
			t.Fatalf("Transition(%v) error = %v", s, err)
		}
	}

	if m.State() != StateDone {
		t.Errorf("State() = %v, want StateDone", m.State())
	}
	if len(*got) != len(steps) {
		t.Errorf("recorded %d transitions, want %d", len(*got), len(steps))
	}
}

func TestMachineAdminPath(t *testing.T) {
	m := NewMachine(ModeUnblock)
	for _, s := range []State{StateSecretResolved, StateChannelEstablished, StateAdminOpComplete, StateDone} {
		if err := m.Transition(s, ""); err != nil {
			t.Fatalf("Transition(%v) error = %v", s, err)
		}
	}
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		path []State
		next State
	}{
		{"idle to established", nil, StateChannelEstablished},
		{"idle to done", nil, StateDone},
		{"resolved to admin", []State{StateSecretResolved}, StateAdminOpComplete},
		{"admin to resolved", []State{StateSecretResolved, StateChannelEstablished, StateAdminOpComplete}, StateSecretResolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(ModeDirect)
			for _, s := range tt.path {
				if err := m.Transition(s, ""); err != nil {
					t.Fatalf("setup Transition(%v) error = %v", s, err)
				}
			}
			before := m.State()

			err := m.Transition(tt.next, "")
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("Transition(%v) error = %v, want ErrInvalidTransition", tt.next, err)
			}
			if m.State() != before {
				t.Errorf("State() = %v after rejected transition, want %v", m.State(), before)
			}
		})
	}
}

func TestMachineFailFromAnyNonTerminal(t *testing.T) {
	for _, path := range [][]State{
		nil,
		{StateSecretResolved},
		{StateSecretResolved, StateChannelEstablished},
		{StateSecretResolved, StateChannelEstablished, StateAdminOpComplete},
	} {
		m := NewMachine(ModeChange)
		for _, s := range path {
			m.Transition(s, "")
		}
		m.Fail("boom")
		if m.State() != StateFailed {
			t.Errorf("after %v: State() = %v, want StateFailed", path, m.State())
		}
	}
}

func TestMachineTerminalStatesAreFinal(t *testing.T) {
	m := NewMachine(ModeDirect)
	got := recordTransitions(m)
	m.Fail("first")
	m.Fail("second")

	if err := m.Transition(StateSecretResolved, ""); !errors.Is(err, ErrTerminal) {
		t.Errorf("Transition after fail error = %v, want ErrTerminal", err)
	}
	if len(*got) != 1 {
		t.Errorf("recorded %d transitions, want 1", len(*got))
	}
}

func TestMachineStateChangeCallback(t *testing.T) {
	m := NewMachine(ModeDirect)
	got := recordTransitions(m)

	m.Transition(StateSecretResolved, "PIN")
	m.Transition(StateChannelEstablished, "PIN")
	m.Transition(StateDone, "")

	expected := []transition{
		{StateIdle, StateSecretResolved, "PIN"},
		{StateSecretResolved, StateChannelEstablished, "PIN"},
		{StateChannelEstablished, StateDone, ""},
	}

	transitions := *got
	if len(transitions) != len(expected) {
		t.Fatalf("Got %d transitions, want %d", len(transitions), len(expected))
	}
	for i, exp := range expected {
		if transitions[i] != exp {
			t.Errorf("Transition %d: got %+v, want %+v", i, transitions[i], exp)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateSecretResolved, "SECRET_RESOLVED"},
		{StateChannelEstablished, "CHANNEL_ESTABLISHED"},
		{StateAdminOpComplete, "ADMIN_OP_COMPLETE"},
		{StateDone, "DONE"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModeString(t *testing.T) {
	tests := []struct {
		mode Mode
		want string
	}{
		{ModeDirect, "DIRECT"},
		{ModeResume, "RESUME"},
		{ModeUnblock, "UNBLOCK"},
		{ModeChange, "CHANGE"},
		{ModeBreak, "BREAK"},
		{Mode(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.mode.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMachineConcurrentTransitions(t *testing.T) {
	m := NewMachine(ModeDirect)

	var wg sync.WaitGroup
	const numGoroutines = 10

	successCount := 0
	var mu sync.Mutex

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Transition(StateSecretResolved, ""); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if successCount != 1 {
		t.Errorf("Got %d successful transitions, want exactly 1", successCount)
	}
}
