package workflow

import "context"

// StateMachine tracks the current lifecycle state and validates transitions.
type StateMachine interface {
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire executes the trigger, moving to the new state if a transition permits it
	Fire(ctx context.Context, trigger Trigger) error

	PermittedTriggers() []Trigger
}

// ParseState converts a persisted status string into a State.
func ParseState(raw string) (State, error) {
	s := State(raw)
	if !s.IsValid() {
		return "", ErrInvalidState
	}
	return s, nil
}
