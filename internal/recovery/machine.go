package recovery

import (
	"errors"
	"fmt"
	"time"

	"grimm.is/appredirect/internal/redirect"
)

// RestoreState is a state of the restore loop.
type RestoreState int

const (
	StateIdle RestoreState = iota
	StateWaiting
	StateAttempting
	StateFailed
	StateSucceeded
	StateExhausted
)

var stateNames = map[RestoreState]string{
	StateIdle:       "idle",
	StateWaiting:    "waiting",
	StateAttempting: "attempting",
	StateFailed:     "failed",
	StateSucceeded:  "succeeded",
	StateExhausted:  "exhausted",
}

func (s RestoreState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ErrInvalidTransition is returned when a machine method is called in the
// wrong state.
var ErrInvalidTransition = errors.New("invalid restore transition")

// Policy bounds the restore loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultPolicy is three attempts, 2s, 4s and 6s apart.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 2 * time.Second}
}

// Delay returns the wait before the 1-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	return time.Duration(attempt) * p.BaseDelay
}

// RestoreMachine is the per-session retry state machine:
//
//	Idle -> Waiting(n) -> Attempting(n) -> Succeeded
//	                                    -> Failed -> Waiting(n+1)
//	                                    -> Exhausted
//
// Validation errors exhaust the machine at once; retrying cannot fix them.
type RestoreMachine struct {
	policy  Policy
	state   RestoreState
	attempt int
	lastErr error
}

// NewRestoreMachine returns an idle machine. MaxAttempts below 1 is treated
// as 1.
func NewRestoreMachine(p Policy) *RestoreMachine {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	return &RestoreMachine{policy: p}
}

// State returns the current state.
func (m *RestoreMachine) State() RestoreState { return m.state }

// Attempt returns the 1-based number of the current or last attempt.
func (m *RestoreMachine) Attempt() int { return m.attempt }

// MaxAttempts returns the attempt budget.
func (m *RestoreMachine) MaxAttempts() int { return m.policy.MaxAttempts }

// Err returns the error of the last failed attempt.
func (m *RestoreMachine) Err() error { return m.lastErr }

// Terminal reports whether the machine will not attempt again.
func (m *RestoreMachine) Terminal() bool {
	return m.state == StateSucceeded || m.state == StateExhausted
}

// Next moves to Waiting for the following attempt and returns its number and
// the delay to wait first. ok is false once the machine is terminal.
func (m *RestoreMachine) Next() (attempt int, delay time.Duration, ok bool) {
	if m.state != StateIdle && m.state != StateFailed {
		return 0, 0, false
	}
	m.attempt++
	m.state = StateWaiting
	return m.attempt, m.policy.Delay(m.attempt), true
}

// Begin marks the end of the wait.
func (m *RestoreMachine) Begin() error {
	if m.state != StateWaiting {
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, m.state)
	}
	m.state = StateAttempting
	return nil
}

// Record stores the result of the running attempt.
func (m *RestoreMachine) Record(err error) error {
	if m.state != StateAttempting {
		return fmt.Errorf("%w: record from %s", ErrInvalidTransition, m.state)
	}
	if err == nil {
		m.state = StateSucceeded
		m.lastErr = nil
		return nil
	}
	m.lastErr = err
	if redirect.IsValidation(err) || m.attempt >= m.policy.MaxAttempts {
		m.state = StateExhausted
	} else {
		m.state = StateFailed
	}
	return nil
}
